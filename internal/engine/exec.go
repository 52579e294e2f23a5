package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/dexft/dexft/internal/procutil"
)

const defaultExecGrace = 5 * time.Second

// ExecEngine runs an external transfer server binary.
type ExecEngine struct {
	Path  string
	Args  []string
	Dir   string
	Env   []string
	Grace time.Duration // SIGTERM to SIGKILL escalation after cancellation

	mu   sync.Mutex
	proc *os.Process
}

// Run starts the binary and waits for it to exit. Cancelling ctx sends
// SIGTERM and escalates to SIGKILL after Grace.
func (e *ExecEngine) Run(ctx context.Context) error {
	if e.Path == "" {
		return fmt.Errorf("engine: exec: no command configured")
	}

	cmd := exec.Command(e.Path, e.Args...)
	cmd.Dir = e.Dir
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}
	cmd.Stdout = log.Writer()
	cmd.Stderr = log.Writer()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("engine: start %s: %w", e.Path, err)
	}

	e.mu.Lock()
	e.proc = cmd.Process
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.proc = nil
		e.mu.Unlock()
	}()

	log.Printf("[Engine] started %s (pid %d)", e.Path, cmd.Process.Pid)

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(exited)
	}()

	select {
	case <-exited:
		if waitErr != nil {
			return fmt.Errorf("engine: %s exited: %w", e.Path, waitErr)
		}
		return nil
	case <-ctx.Done():
	}

	grace := e.Grace
	if grace <= 0 {
		grace = defaultExecGrace
	}
	killed, err := procutil.TerminateWithin(cmd.Process, exited, grace)
	if err != nil {
		return fmt.Errorf("engine: terminate %s: %w", e.Path, err)
	}
	if killed {
		log.Printf("[Engine] %s ignored SIGTERM, killed", e.Path)
	}
	return nil
}

// Kill sends SIGKILL to the running process, if any.
func (e *ExecEngine) Kill() error {
	e.mu.Lock()
	p := e.proc
	e.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Kill()
}
