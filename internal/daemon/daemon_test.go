package daemon_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dexft/dexft/internal/client"
	"github.com/dexft/dexft/internal/config"
	configstore "github.com/dexft/dexft/internal/config/store"
	"github.com/dexft/dexft/internal/daemon"
)

type fixedResolver struct{}

func (fixedResolver) CurrentAddress() string { return "127.0.0.1" }
func (fixedResolver) Display(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

type harness struct {
	t       *testing.T
	d       *daemon.Daemon
	store   *configstore.Store
	client  *client.Client
	shared  string
	startCh chan error
	wg      sync.WaitGroup
}

// mustSetTempHome keeps unix socket paths short enough for every platform.
func mustSetTempHome(t *testing.T) string {
	t.Helper()
	home, err := os.MkdirTemp("/tmp", "dexft-integ-")
	if err != nil {
		t.Skipf("temp home unavailable: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(home) })
	t.Setenv(config.HomeEnv, home)
	return home
}

func startDaemonForTest(t *testing.T, overrides map[string]string) *harness {
	t.Helper()
	home := mustSetTempHome(t)

	shared := filepath.Join(home, "shared")
	if err := os.MkdirAll(shared, 0o755); err != nil {
		t.Fatalf("mkdir shared: %v", err)
	}
	if err := os.WriteFile(filepath.Join(shared, "hello.txt"), []byte("hello dexft"), 0o644); err != nil {
		t.Fatalf("write shared file: %v", err)
	}

	store, err := configstore.Open(configstore.Options{})
	if err != nil {
		if shouldSkipRuntimeError(err) {
			t.Skipf("skipping daemon integration test: %v", err)
		}
		t.Fatalf("open store: %v", err)
	}

	values := map[string]string{
		config.KeySharedDir:    shared,
		config.KeyListenAddr:   "127.0.0.1:0",
		config.KeyMinRunMillis: "0",
	}
	for k, v := range overrides {
		values[k] = v
	}
	if err := store.SaveSettings(context.Background(), values); err != nil {
		store.Close()
		t.Fatalf("save settings: %v", err)
	}

	d, err := daemon.New(daemon.Options{
		Store:              store,
		Resolver:           fixedResolver{},
		ConfigPollInterval: 500 * time.Millisecond,
	})
	if err != nil {
		store.Close()
		t.Fatalf("daemon.New: %v", err)
	}

	h := &harness{
		t:       t,
		d:       d,
		store:   store,
		client:  client.NewUnix(config.GetInstancePaths("").Socket),
		shared:  shared,
		startCh: make(chan error, 1),
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.startCh <- d.Start()
	}()
	t.Cleanup(h.stop)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := h.client.Status(context.Background()); err == nil {
			break
		} else if time.Now().After(deadline) {
			t.Fatalf("daemon did not come up: %v", err)
		}
		select {
		case err := <-h.startCh:
			if shouldSkipRuntimeError(err) {
				t.Skipf("skipping daemon integration test: %v", err)
			}
			t.Fatalf("daemon exited early: %v", err)
		case <-time.After(20 * time.Millisecond):
		}
	}
	return h
}

func (h *harness) stop() {
	h.d.Shutdown()
	h.wg.Wait()
}

func waitForState(t *testing.T, c *client.Client, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := c.Status(context.Background())
		if err == nil && status.State == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("state never reached %q (last %+v, err %v)", want, status, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDaemonToggleServesSharedDirectory(t *testing.T) {
	h := startDaemonForTest(t, nil)
	ctx := context.Background()

	status, err := h.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != "stopped" || status.Toggle.Status != "Server is OFF" {
		t.Fatalf("unexpected initial status %+v", status)
	}
	if len(status.Services) == 0 {
		t.Fatalf("expected supervised services in status")
	}

	view, err := h.client.Toggle(ctx, true)
	if err != nil {
		t.Fatalf("Toggle on: %v", err)
	}
	if !view.Enabled || view.State != "running" {
		t.Fatalf("expected running view, got %+v", view)
	}
	if !strings.HasPrefix(view.Status, "Server local IP: ") {
		t.Fatalf("unexpected status line %q", view.Status)
	}

	media, err := h.client.Media(ctx)
	if err != nil {
		t.Fatalf("Media: %v", err)
	}
	if len(media) != 1 || media[0].Name != "hello.txt" {
		t.Fatalf("expected indexed hello.txt, got %+v", media)
	}

	status, err = h.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Grants != 1 {
		t.Fatalf("expected one foreground grant while running, got %d", status.Grants)
	}

	view, err = h.client.Toggle(ctx, false)
	if err != nil {
		t.Fatalf("Toggle off: %v", err)
	}
	if view.Enabled || view.State != "stopped" {
		t.Fatalf("expected stopped view, got %+v", view)
	}
	status, _ = h.client.Status(ctx)
	if status.Grants != 0 {
		t.Fatalf("expected grant released after stop, got %d", status.Grants)
	}
}

func TestDaemonHotReloadsPermissionGrants(t *testing.T) {
	h := startDaemonForTest(t, nil)
	ctx := context.Background()

	if err := h.store.SaveSettings(ctx, map[string]string{config.KeyPermissionNetwork: "false"}); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		view, err := h.client.Toggle(ctx, true)
		if err != nil {
			t.Fatalf("Toggle: %v", err)
		}
		if !view.Enabled && strings.Contains(view.Reason, "network") {
			if view.State != "failed_to_start" {
				t.Fatalf("expected failed_to_start after denial, got %+v", view)
			}
			return
		}
		if view.Enabled {
			h.client.Toggle(ctx, false)
		}
		if time.Now().After(deadline) {
			t.Fatalf("grant revocation never applied, last view %+v", view)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestDaemonShutdownViaControlAPI(t *testing.T) {
	h := startDaemonForTest(t, nil)
	ctx := context.Background()

	if _, err := h.client.Toggle(ctx, true); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	waitForState(t, h.client, "running")

	if err := h.client.ShutdownDaemon(ctx); err != nil {
		t.Fatalf("ShutdownDaemon: %v", err)
	}

	select {
	case err := <-h.startCh:
		if err != nil {
			t.Fatalf("daemon Start returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("daemon did not stop")
	}

	if _, err := h.client.Status(ctx); !errors.Is(err, client.ErrDaemonUnreachable) {
		t.Fatalf("expected socket removed after shutdown, got %v", err)
	}
	if daemon.IsRunning("") {
		t.Fatalf("IsRunning should report false after shutdown")
	}
}

func TestDaemonTCPControlListener(t *testing.T) {
	h := startDaemonForTest(t, map[string]string{config.KeyControlTCPAddr: "127.0.0.1:0"})

	var addr net.Addr
	deadline := time.Now().Add(5 * time.Second)
	for addr == nil {
		if time.Now().After(deadline) {
			t.Fatalf("expected TCP control listener to be bound")
		}
		time.Sleep(10 * time.Millisecond)
		addr = h.d.RuntimeInfo().ControlAddr()
	}
	resp, err := http.Get("http://" + addr.String() + "/address")
	if err != nil {
		t.Fatalf("GET /address: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "Server is OFF") {
		t.Fatalf("unexpected response %d: %s", resp.StatusCode, body)
	}

	metrics, err := http.Get("http://" + addr.String() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer metrics.Body.Close()
	body, _ = io.ReadAll(metrics.Body)
	for _, want := range []string{
		`dexft_lifecycle_state{state="stopped"} 1`,
		`dexft_service_running{service="control_tcp"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in metrics:\n%s", want, body)
		}
	}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := daemon.New(daemon.Options{}); err == nil {
		t.Fatalf("expected error without store")
	}
}

func shouldSkipRuntimeError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"operation not permitted",
		"unable to open database file",
		"permission denied",
		"bind:",
		"address already in use",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
