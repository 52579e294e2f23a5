package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/dexft/dexft/internal/eventbus"
)

const shutdownRequestTimeout = 2 * time.Second

// Options configures the control API server.
type Options struct {
	Controller LifecycleReader
	Toggle     ToggleSurface
	Media      MediaLister     // optional
	Services   ServiceReporter // optional
	Bus        *eventbus.Bus   // optional; enables live /ws updates
	Runtime    RuntimeInfoProvider
	Metrics    http.Handler // optional; served on /metrics
	// AllowedOrigins extends the builtin localhost origins accepted on /ws.
	AllowedOrigins []string
}

// APIServer serves the HTTP/JSON control surface and the websocket state
// stream. It holds no lifecycle state of its own.
type APIServer struct {
	ctrl     LifecycleReader
	toggle   ToggleSurface
	media    MediaLister
	services ServiceReporter
	runtime  RuntimeInfoProvider
	created  time.Time
	origins  []string

	hub *Hub
	mux *http.ServeMux

	shutdownMu sync.RWMutex
	shutdownFn func(context.Context) error
}

// NewAPIServer validates options and builds the route table.
func NewAPIServer(opts Options) (*APIServer, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("server: controller required")
	}
	if opts.Toggle == nil {
		return nil, fmt.Errorf("server: toggle binding required")
	}
	s := &APIServer{
		ctrl:     opts.Controller,
		toggle:   opts.Toggle,
		media:    opts.Media,
		services: opts.Services,
		runtime:  opts.Runtime,
		created:  time.Now(),
		origins:  sanitizeOrigins(opts.AllowedOrigins),
	}
	s.hub = NewHub(opts.Bus, opts.Toggle.View, s.originAllowed)

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/toggle", s.handleToggle)
	mux.HandleFunc("/address", s.handleAddress)
	mux.HandleFunc("/media", s.handleMedia)
	mux.HandleFunc("/daemon/shutdown", s.handleDaemonShutdown)
	mux.HandleFunc("/ws", s.hub.HandleWebSocket)
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	s.mux = mux

	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *APIServer) Handler() http.Handler {
	return s.mux
}

// Hub exposes the websocket hub.
func (s *APIServer) Hub() *Hub {
	return s.hub
}

// SetShutdownFunc registers the callback invoked by POST /daemon/shutdown.
func (s *APIServer) SetShutdownFunc(fn func(context.Context) error) {
	s.shutdownMu.Lock()
	s.shutdownFn = fn
	s.shutdownMu.Unlock()
}

// RequestShutdown triggers the registered shutdown callback asynchronously.
// It reports false when no callback is registered.
func (s *APIServer) RequestShutdown() bool {
	s.shutdownMu.RLock()
	shutdown := s.shutdownFn
	s.shutdownMu.RUnlock()
	if shutdown == nil {
		return false
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownRequestTimeout)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Printf("[APIServer] shutdown handler returned error: %v", err)
		}
	}()
	return true
}

// Start runs the websocket hub.
func (s *APIServer) Start(ctx context.Context) error {
	return s.hub.Start(ctx)
}

// Shutdown disconnects websocket clients and stops the hub.
func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.hub.Shutdown(ctx)
}

func (s *APIServer) startTime() time.Time {
	if s.runtime != nil {
		if t := s.runtime.StartTime(); !t.IsZero() {
			return t
		}
	}
	return s.created
}
