package procutil

import (
	"errors"
	"os"
	"time"
)

// TerminateWithin asks p to exit and force-kills it when exited is not
// closed within grace. It reports whether the kill was needed.
func TerminateWithin(p *os.Process, exited <-chan struct{}, grace time.Duration) (bool, error) {
	if p == nil {
		return false, nil
	}
	if err := GracefulTerminate(p); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return false, err
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-exited:
		return false, nil
	case <-timer.C:
	}

	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return true, err
	}
	<-exited
	return true, nil
}
