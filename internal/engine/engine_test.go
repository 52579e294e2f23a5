package engine

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func waitForListen(t *testing.T, e *HTTPEngine) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := e.ListenAddr(); addr != nil {
			return addr.String()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("engine never bound its listener")
	return ""
}

func startHTTPEngine(t *testing.T, dir string) (*HTTPEngine, context.CancelFunc, <-chan error) {
	t.Helper()
	e := NewHTTPEngine("127.0.0.1:0", dir)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(cancel)
	return e, cancel, done
}

func TestHTTPEngineServesDirectoryReadOnly(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "photo.txt"), []byte("shared"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	e, cancel, done := startHTTPEngine(t, dir)
	base := "http://" + waitForListen(t, e)

	resp, err := http.Get(base + "/photo.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "shared" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}

	resp, err = http.Post(base+"/photo.txt", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not stop after cancellation")
	}
}

func TestHTTPEngineBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	e := NewHTTPEngine(ln.Addr().String(), t.TempDir())
	err = e.Run(context.Background())
	if !IsBindError(err) {
		t.Fatalf("expected BindError, got %v", err)
	}
	var bindErr *BindError
	if !errors.As(err, &bindErr) || bindErr.Addr != ln.Addr().String() {
		t.Fatalf("unexpected bind error %+v", err)
	}
}

func TestHTTPEngineKill(t *testing.T) {
	e, _, done := startHTTPEngine(t, t.TempDir())
	waitForListen(t, e)

	if err := e.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil after kill, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after kill")
	}
}

func TestFuncAdapter(t *testing.T) {
	want := errors.New("crashed")
	var e Engine = Func(func(context.Context) error { return want })
	if err := e.Run(context.Background()); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestExecEngineStopsOnCancel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}
	e := &ExecEngine{Path: "sleep", Args: []string{"300"}, Grace: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("exec engine did not stop")
	}
}

func TestExecEngineReportsFailures(t *testing.T) {
	if err := (&ExecEngine{}).Run(context.Background()); err == nil {
		t.Fatal("expected error for empty command")
	}
	missing := &ExecEngine{Path: filepath.Join(t.TempDir(), "no-such-binary")}
	if err := missing.Run(context.Background()); err == nil {
		t.Fatal("expected start error for missing binary")
	}
	if runtime.GOOS != "windows" {
		if err := (&ExecEngine{Path: "false"}).Run(context.Background()); err == nil {
			t.Fatal("expected error for non-zero exit")
		}
	}
	if err := (&ExecEngine{}).Kill(); err != nil {
		t.Fatalf("kill without process: %v", err)
	}
}
