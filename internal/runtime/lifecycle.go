package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Lifecycle is the daemon's one-shot "please exit" signal.
type Lifecycle struct {
	once sync.Once
	done chan struct{}
}

// NewLifecycle returns a Lifecycle that has not been shut down.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{done: make(chan struct{})}
}

// Done is closed by the first Shutdown.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// Shutdown requests exit. Later calls are no-ops.
func (l *Lifecycle) Shutdown() {
	l.once.Do(func() { close(l.done) })
}

// WritePIDFile records pid in path, readable only by the owner.
func WritePIDFile(path string, pid int) error {
	if path == "" {
		return errors.New("runtime: pid file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("runtime: create pid directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600); err != nil {
		return fmt.Errorf("runtime: write pid file: %w", err)
	}
	return nil
}

// ReadPIDFile parses the pid stored in path. A missing file surfaces as
// os.ErrNotExist.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("runtime: invalid pid in %s: %q", path, raw)
	}
	return pid, nil
}

// RemovePIDFile deletes path, ignoring a missing file.
func RemovePIDFile(path string) {
	if path != "" {
		os.Remove(path)
	}
}
