package procutil

import (
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"
)

// spawn starts a process that blocks until killed and returns it with a
// channel closed once it has been reaped.
func spawn(t *testing.T, name string, args ...string) (*exec.Cmd, <-chan struct{}) {
	t.Helper()
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start %s: %v", name, err)
	}
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()
	t.Cleanup(func() {
		cmd.Process.Kill()
		<-exited
	})
	return cmd, exited
}

func sleeper(t *testing.T) (*exec.Cmd, <-chan struct{}) {
	if runtime.GOOS == "windows" {
		return spawn(t, "waitfor", "DexftNeverSignalled", "/T", "300")
	}
	return spawn(t, "sleep", "300")
}

func waitExit(t *testing.T, exited <-chan struct{}) {
	t.Helper()
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestIsProcessAlive(t *testing.T) {
	if !IsProcessAlive(os.Getpid()) {
		t.Error("own pid reported dead")
	}
	for _, pid := range []int{0, -1, 1<<30 - 1} {
		if IsProcessAlive(pid) {
			t.Errorf("pid %d reported alive", pid)
		}
	}
}

func TestGracefulTerminateStopsProcess(t *testing.T) {
	cmd, exited := sleeper(t)
	if err := GracefulTerminate(cmd.Process); err != nil {
		t.Fatalf("GracefulTerminate: %v", err)
	}
	waitExit(t, exited)
	if IsProcessAlive(cmd.Process.Pid) {
		t.Fatal("reaped process still reported alive")
	}
}

func TestTerminateByPIDStopsProcess(t *testing.T) {
	cmd, exited := sleeper(t)
	if err := TerminateByPID(cmd.Process.Pid); err != nil {
		t.Fatalf("TerminateByPID: %v", err)
	}
	waitExit(t, exited)

	if err := TerminateByPID(0); err == nil {
		t.Fatal("pid 0 accepted")
	}
}

func TestTerminateWithin(t *testing.T) {
	t.Run("cooperative", func(t *testing.T) {
		cmd, exited := sleeper(t)
		killed, err := TerminateWithin(cmd.Process, exited, 5*time.Second)
		if err != nil || killed {
			t.Fatalf("TerminateWithin = %v, %v; want graceful exit", killed, err)
		}
	})

	t.Run("ignores SIGTERM", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("no SIGTERM on windows")
		}
		cmd, exited := spawn(t, "sh", "-c", "trap '' TERM; sleep 300")
		time.Sleep(100 * time.Millisecond) // let the trap install

		killed, err := TerminateWithin(cmd.Process, exited, 100*time.Millisecond)
		if err != nil || !killed {
			t.Fatalf("TerminateWithin = %v, %v; want forced kill", killed, err)
		}
	})

	t.Run("nil process", func(t *testing.T) {
		if killed, err := TerminateWithin(nil, nil, time.Second); killed || err != nil {
			t.Fatalf("TerminateWithin(nil) = %v, %v", killed, err)
		}
	})
}
