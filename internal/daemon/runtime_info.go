package daemon

import (
	"net"
	"sync/atomic"
	"time"
)

// RuntimeInfo is process metadata served to clients. The zero value is
// ready to use.
type RuntimeInfo struct {
	started atomic.Pointer[time.Time]
	control atomic.Pointer[net.Addr]
}

func (r *RuntimeInfo) SetStartTime(t time.Time) {
	r.started.Store(&t)
}

// StartTime is zero until the daemon has started.
func (r *RuntimeInfo) StartTime() time.Time {
	if t := r.started.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// SetControlAddr records where the TCP control listener bound. nil clears it.
func (r *RuntimeInfo) SetControlAddr(addr net.Addr) {
	if addr == nil {
		r.control.Store(nil)
		return
	}
	r.control.Store(&addr)
}

func (r *RuntimeInfo) ControlAddr() net.Addr {
	if a := r.control.Load(); a != nil {
		return *a
	}
	return nil
}
