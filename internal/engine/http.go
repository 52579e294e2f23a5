package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultListenAddr binds every interface on the transfer port.
	DefaultListenAddr = ":9413"

	httpShutdownGrace = 2 * time.Second
)

// HTTPEngine serves a directory read-only over HTTP.
type HTTPEngine struct {
	Addr string
	Dir  string

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
}

// NewHTTPEngine returns an engine sharing dir on addr (DefaultListenAddr when empty).
func NewHTTPEngine(addr, dir string) *HTTPEngine {
	return &HTTPEngine{Addr: addr, Dir: dir}
}

// Run binds the listen address and serves until ctx is cancelled or Kill is
// called. A failed bind returns a *BindError immediately.
func (e *HTTPEngine) Run(ctx context.Context) error {
	addr := e.Addr
	if addr == "" {
		addr = DefaultListenAddr
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}

	srv := &http.Server{
		Handler:           readOnly(http.FileServer(http.Dir(e.Dir))),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(log.Writer(), "[Engine] ", log.Flags()),
	}

	e.mu.Lock()
	e.ln = ln
	e.srv = srv
	e.mu.Unlock()

	log.Printf("[Engine] serving %s on %s", e.Dir, ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("engine: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Engine] graceful shutdown: %v", err)
		srv.Close()
	}
	<-errCh
	return nil
}

// Kill closes the listener and every open connection without draining.
func (e *HTTPEngine) Kill() error {
	e.mu.Lock()
	srv := e.srv
	e.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}

// ListenAddr returns the bound address once Run has claimed it.
func (e *HTTPEngine) ListenAddr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ln == nil {
		return nil
	}
	return e.ln.Addr()
}

func readOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			next.ServeHTTP(w, r)
		default:
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
