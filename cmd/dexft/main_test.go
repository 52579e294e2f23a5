package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dexft/dexft/internal/api"
	"github.com/dexft/dexft/internal/client"
	"github.com/dexft/dexft/internal/config"
	dexftversion "github.com/dexft/dexft/internal/version"
)

// captureStdout runs fn with stdout redirected to a pipe and returns the output.
// WARNING: Modifies the global os.Stdout, incompatible with t.Parallel().
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	t.Cleanup(func() { os.Stdout = oldStdout })

	ch := make(chan string, 1)
	go func() {
		var buf bytes.Buffer
		buf.ReadFrom(r)
		ch <- buf.String()
	}()

	fn()
	w.Close()
	os.Stdout = oldStdout
	return <-ch
}

// fakeDaemon serves a canned control API and records toggle requests.
type fakeDaemon struct {
	mu        sync.Mutex
	enabled   bool
	failStart string
	shutdowns int
	version   string
}

func (f *fakeDaemon) view() api.ToggleDTO {
	if f.enabled {
		return api.ToggleDTO{Enabled: true, State: "running", Status: "Server local IP: 192.168.1.5:9413", Address: "192.168.1.5:9413"}
	}
	if f.failStart != "" {
		return api.ToggleDTO{State: "failed_to_start", Status: "Server is OFF", Reason: f.failStart}
	}
	return api.ToggleDTO{State: "stopped", Status: "Server is OFF"}
}

func (f *fakeDaemon) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		v := f.view()
		writeJSON(w, http.StatusOK, api.StatusDTO{
			State:    v.State,
			Toggle:   v,
			Version:  f.version,
			Platform: "linux/amd64",
			Services: []api.ServiceDTO{{Name: "controller", Running: true}},
		})
	})
	mux.HandleFunc("/toggle", func(w http.ResponseWriter, r *http.Request) {
		var req api.ToggleRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		if req.Enabled != nil {
			f.enabled = *req.Enabled && f.failStart == ""
		}
		writeJSON(w, http.StatusOK, f.view())
	})
	mux.HandleFunc("/address", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		v := f.view()
		writeJSON(w, http.StatusOK, api.AddressDTO{Running: v.State == "running", Address: v.Address, Status: v.Status})
	})
	mux.HandleFunc("/media", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.MediaListDTO{Files: []api.MediaFileDTO{
			{Path: "/srv/share/notes.txt", Name: "notes.txt", Size: 42, MimeType: "text/plain; charset=utf-8", ModTime: time.Unix(1700000000, 0)},
		}})
	})
	mux.HandleFunc("/daemon/shutdown", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.shutdowns++
		f.mu.Unlock()
		writeJSON(w, http.StatusAccepted, api.ShutdownDTO{Status: "shutting_down", Message: "daemon shutdown initiated"})
	})
	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		f.mu.Lock()
		v := f.view()
		f.mu.Unlock()
		conn.WriteJSON(api.StreamMessage{Type: api.StreamToggleState, Data: v, Timestamp: time.Now()})
		conn.WriteJSON(api.StreamMessage{Type: api.StreamToggleChanged, Data: api.ToggleDTO{
			State: "failed_to_start", Status: "Server is OFF", Reason: "permission denied: network",
		}, Timestamp: time.Now()})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})
	return mux
}

func (f *fakeDaemon) set(fn func(f *fakeDaemon)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func startFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	f := &fakeDaemon{version: dexftversion.String()}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	t.Setenv(client.BaseURLEnv, srv.URL)
	t.Setenv(config.HomeEnv, t.TempDir())
	return f
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var err error
	output := captureStdout(t, func() {
		cmd := newRootCommand()
		cmd.SetArgs(args)
		err = cmd.Execute()
	})
	return output, err
}

func TestOnOffCommands(t *testing.T) {
	f := startFakeDaemon(t)

	output, err := runCLI(t, "on")
	if err != nil {
		t.Fatalf("on: %v", err)
	}
	if !strings.Contains(output, "Server local IP: 192.168.1.5:9413") {
		t.Fatalf("unexpected on output %q", output)
	}

	output, err = runCLI(t, "off", "--json")
	if err != nil {
		t.Fatalf("off: %v", err)
	}
	var view api.ToggleDTO
	if err := json.Unmarshal([]byte(output), &view); err != nil {
		t.Fatalf("decode off output %q: %v", output, err)
	}
	if view.Enabled || view.State != "stopped" {
		t.Fatalf("unexpected view %+v", view)
	}
	f.set(func(f *fakeDaemon) {
		if f.enabled {
			t.Fatalf("fake daemon still enabled")
		}
	})
}

func TestOnReportsStartFailure(t *testing.T) {
	f := startFakeDaemon(t)
	f.set(func(f *fakeDaemon) { f.failStart = "permission denied: network" })

	output, err := runCLI(t, "on")
	if err == nil {
		t.Fatalf("expected error when start is refused")
	}
	if !strings.Contains(output, "Server is OFF") {
		t.Fatalf("expected OFF status line, got %q", output)
	}
	if !strings.Contains(err.Error(), "permission denied: network") {
		t.Fatalf("expected reason in error, got %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	startFakeDaemon(t)

	output, err := runCLI(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"State:    stopped", "Toggle:   Server is OFF", "controller", "linux/amd64"} {
		if !strings.Contains(output, want) {
			t.Fatalf("status output missing %q:\n%s", want, output)
		}
	}

	output, err = runCLI(t, "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status api.StatusDTO
	if err := json.Unmarshal([]byte(output), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != "stopped" || len(status.Services) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestAddressCommand(t *testing.T) {
	f := startFakeDaemon(t)

	output, err := runCLI(t, "address")
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if strings.TrimSpace(output) != "Server is OFF" {
		t.Fatalf("expected OFF line, got %q", output)
	}

	f.set(func(f *fakeDaemon) { f.enabled = true })
	output, err = runCLI(t, "address")
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if strings.TrimSpace(output) != "192.168.1.5:9413" {
		t.Fatalf("expected bare address, got %q", output)
	}
}

func TestMediaCommand(t *testing.T) {
	startFakeDaemon(t)

	output, err := runCLI(t, "media")
	if err != nil {
		t.Fatalf("media: %v", err)
	}
	if !strings.Contains(output, "NAME") || !strings.Contains(output, "notes.txt") || !strings.Contains(output, "text/plain") {
		t.Fatalf("unexpected media output:\n%s", output)
	}

	output, err = runCLI(t, "media", "--json")
	if err != nil {
		t.Fatalf("media --json: %v", err)
	}
	var list api.MediaListDTO
	if err := json.Unmarshal([]byte(output), &list); err != nil {
		t.Fatalf("decode media: %v", err)
	}
	if len(list.Files) != 1 || list.Files[0].Size != 42 {
		t.Fatalf("unexpected media list %+v", list)
	}
}

func TestWatchCommandPrintsFrames(t *testing.T) {
	startFakeDaemon(t)

	output, err := runCLI(t, "watch", "--json")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two NDJSON frames, got %q", output)
	}
	var msg api.StreamMessage
	if err := json.Unmarshal([]byte(lines[1]), &msg); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if msg.Type != api.StreamToggleChanged || msg.Data.State != "failed_to_start" {
		t.Fatalf("unexpected frame %+v", msg)
	}

	output, err = runCLI(t, "watch")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !strings.Contains(output, "(permission denied: network)") {
		t.Fatalf("expected reason in human output, got %q", output)
	}
}

func TestDaemonStopUsesAPI(t *testing.T) {
	f := startFakeDaemon(t)

	output, err := runCLI(t, "daemon", "stop", "--json")
	if err != nil {
		t.Fatalf("daemon stop: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(output), &payload); err != nil {
		t.Fatalf("decode stop output: %v", err)
	}
	if payload["method"] != "api" || payload["success"] != true {
		t.Fatalf("unexpected stop payload %v", payload)
	}
	f.set(func(f *fakeDaemon) {
		if f.shutdowns != 1 {
			t.Fatalf("expected one shutdown request, got %d", f.shutdowns)
		}
	})
}

func TestDaemonStopWithoutDaemon(t *testing.T) {
	t.Setenv(config.HomeEnv, t.TempDir())
	t.Setenv(client.BaseURLEnv, "")

	if _, err := runCLI(t, "daemon", "stop"); err == nil || !strings.Contains(err.Error(), "not running") {
		t.Fatalf("expected not running error, got %v", err)
	}
}

func TestVersionCommandReportsMismatch(t *testing.T) {
	restore := dexftversion.ForTesting("1.2.0")
	t.Cleanup(restore)
	f := startFakeDaemon(t)
	f.set(func(f *fakeDaemon) { f.version = "1.3.0" })

	output, err := runCLI(t, "version", "--json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(output), &payload); err != nil {
		t.Fatalf("decode version output: %v", err)
	}
	if payload["daemon"] != "1.3.0" || payload["mismatch"] != true {
		t.Fatalf("expected mismatch report, got %v", payload)
	}
}

func TestVersionCommandDaemonUnavailable(t *testing.T) {
	t.Setenv(client.BaseURLEnv, "http://127.0.0.1:1")

	output, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(output, "Client: ") || !strings.Contains(output, "Daemon: unavailable") {
		t.Fatalf("unexpected version output %q", output)
	}
}
