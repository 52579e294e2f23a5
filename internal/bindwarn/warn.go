// Package bindwarn provides a process-wide one-shot warning for control
// listeners reachable from outside the host.
package bindwarn

import (
	"log"
	"net"
	"sync"
)

var once sync.Once

// Exposed reports whether addr accepts connections from other hosts.
func Exposed(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return false
	}
	return tcp.IP == nil || !tcp.IP.IsLoopback()
}

// LogExposed emits a single warning the first time a control listener is
// bound to a non-loopback address. Later calls are no-ops so restarts of the
// listener do not spam the log.
func LogExposed(addr net.Addr) {
	if !Exposed(addr) {
		return
	}
	once.Do(func() {
		log.Printf("[Daemon] WARNING: control API is reachable from the network on %s and has no authentication. Bind control.tcp_addr to 127.0.0.1 unless this is intended.", addr)
	})
}
