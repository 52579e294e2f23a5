// Package netident derives the human-readable address under which the
// transfer server is reachable on the local network.
package netident

import (
	"log"
	"net"
	"strconv"

	"github.com/wlynxg/anet"
)

// Unknown is returned whenever no usable address can be determined.
const Unknown = "unknown"

// Resolver looks up the address of the active local interface. It never
// caches: every call re-enumerates interfaces so network changes are seen.
type Resolver struct {
	interfaces func() ([]net.Interface, error)
	addrs      func(*net.Interface) ([]net.Addr, error)
}

// NewResolver returns a resolver backed by anet, which keeps working on
// Android where net.Interfaces is blocked by netlink restrictions.
func NewResolver() *Resolver {
	return &Resolver{
		interfaces: anet.Interfaces,
		addrs:      anet.InterfaceAddrsByInterface,
	}
}

// CurrentAddress returns the first IPv4 address of an up, non-loopback
// interface. A global unicast IPv6 address is used when no IPv4 exists.
func (r *Resolver) CurrentAddress() string {
	if r == nil || r.interfaces == nil || r.addrs == nil {
		return Unknown
	}

	ifaces, err := r.interfaces()
	if err != nil {
		log.Printf("[NetIdent] list interfaces: %v", err)
		return Unknown
	}

	var fallback net.IP
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := r.addrs(iface)
		if err != nil {
			log.Printf("[NetIdent] addresses of %s: %v", iface.Name, err)
			continue
		}
		for _, addr := range addrs {
			ip := ipOf(addr)
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				return v4.String()
			}
			if fallback == nil && ip.IsGlobalUnicast() {
				fallback = ip
			}
		}
	}

	if fallback != nil {
		return fallback.String()
	}
	return Unknown
}

// Display formats the current address with port, or Unknown.
func (r *Resolver) Display(port int) string {
	addr := r.CurrentAddress()
	if addr == Unknown {
		return Unknown
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}

func ipOf(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	}
	return nil
}
