package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dexft/dexft/internal/bindwarn"
)

const controlReadHeaderTimeout = 5 * time.Second

// controlListener serves the control API handler on a unix socket or a TCP
// address. An empty TCP address disables the listener.
type controlListener struct {
	network string // "unix" or "tcp"
	address string
	handler http.Handler
	onBound func(net.Addr)

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

func newUnixSocketService(socketPath string, handler http.Handler) *controlListener {
	return &controlListener{network: "unix", address: socketPath, handler: handler}
}

func newTCPControlService(addr string, handler http.Handler, onBound func(net.Addr)) *controlListener {
	return &controlListener{network: "tcp", address: addr, handler: handler, onBound: onBound}
}

func (s *controlListener) Start(ctx context.Context) error {
	if s.network == "tcp" && s.address == "" {
		return nil
	}
	if s.address == "" {
		return fmt.Errorf("socket path is empty")
	}

	listener, err := s.listen()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: controlReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.srv = srv
	s.listener = listener
	s.mu.Unlock()

	if s.onBound != nil {
		s.onBound(listener.Addr())
	}
	log.Printf("[Daemon] control API listening on %s %s", s.network, listener.Addr())
	bindwarn.LogExposed(listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Daemon] control API %s: %v", s.network, err)
		}
	}()
	return nil
}

func (s *controlListener) listen() (net.Listener, error) {
	if s.network != "unix" {
		ln, err := net.Listen(s.network, s.address)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", s.address, err)
		}
		return ln, nil
	}

	if err := os.MkdirAll(filepath.Dir(s.address), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(s.address); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", s.address)
	if err != nil {
		return nil, fmt.Errorf("failed to create Unix socket: %w", err)
	}
	if err := os.Chmod(s.address, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return listener, nil
}

func (s *controlListener) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if s.onBound != nil {
		s.onBound(nil)
	}
	if s.network == "unix" {
		if err := os.Remove(s.address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove socket: %w", err)
		}
	}
	return nil
}
