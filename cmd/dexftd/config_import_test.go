package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dexft/dexft/internal/config"
)

type recordingStore struct {
	saved map[string]string
	err   error
}

func (s *recordingStore) SaveSettings(_ context.Context, values map[string]string) error {
	if s.err != nil {
		return s.err
	}
	s.saved = values
	return nil
}

func TestParseSettingsYAMLFlattensNestedKeys(t *testing.T) {
	doc := []byte(`
transfer:
  shared_dir: /srv/share
  listen_addr: ":9000"
  engine_command: [miniserve, --port, "9000"]
engine.min_run_ms: 250
foreground:
  start_rate: 1.5
notification:
  push_tokens:
    - tok-a
    - tok-b
permission:
  network: false
`)
	values, err := parseSettingsYAML(doc)
	if err != nil {
		t.Fatalf("parseSettingsYAML: %v", err)
	}

	want := map[string]string{
		config.KeySharedDir:         "/srv/share",
		config.KeyListenAddr:        ":9000",
		config.KeyEngineCommand:     "miniserve --port 9000",
		config.KeyMinRunMillis:      "250",
		config.KeyStartRatePerSec:   "1.5",
		config.KeyPushTokens:        "tok-a,tok-b",
		config.KeyPermissionNetwork: "false",
	}
	if len(values) != len(want) {
		t.Fatalf("expected %d values, got %v", len(want), values)
	}
	for k, v := range want {
		if values[k] != v {
			t.Fatalf("%s: expected %q, got %q", k, v, values[k])
		}
	}

	s := config.ParseSettings(values)
	if s.Grants.Network || len(s.PushTokens) != 2 || len(s.EngineCommand) != 3 {
		t.Fatalf("parsed settings mismatch: %+v", s)
	}
}

func TestParseSettingsYAMLRejectsUnsupportedValues(t *testing.T) {
	if _, err := parseSettingsYAML([]byte("transfer:\n  listen_addr: [[1, 2]]\n")); err == nil {
		t.Fatalf("expected error for nested list")
	}
	if _, err := parseSettingsYAML([]byte("transfer: [unterminated")); err == nil {
		t.Fatalf("expected YAML syntax error")
	}
}

func TestImportSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dexft.yaml")
	if err := os.WriteFile(path, []byte("control:\n  tcp_addr: 127.0.0.1:0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	store := &recordingStore{}
	n, err := importSettingsFile(context.Background(), store, path)
	if err != nil {
		t.Fatalf("importSettingsFile: %v", err)
	}
	if n != 1 || store.saved[config.KeyControlTCPAddr] != "127.0.0.1:0" {
		t.Fatalf("unexpected import result n=%d saved=%v", n, store.saved)
	}

	store.err = errors.New("disk full")
	if _, err := importSettingsFile(context.Background(), store, path); err == nil {
		t.Fatalf("expected save error to propagate")
	}
	if _, err := importSettingsFile(context.Background(), store, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}
