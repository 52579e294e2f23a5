package testutil

import (
	"path/filepath"
	"testing"

	"github.com/dexft/dexft/internal/config"
	configstore "github.com/dexft/dexft/internal/config/store"
)

// OpenStore points DEXFT_HOME at a temp directory and opens a throwaway
// config store there. The store is closed on test cleanup.
func OpenStore(t *testing.T) *configstore.Store {
	t.Helper()
	t.Setenv(config.HomeEnv, t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "config.db")
	store, err := configstore.Open(configstore.Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
