package server

import (
	"net"
	"net/url"
	"slices"
	"strings"
)

// isLocalOrigin accepts plain-http pages served from this host on any port.
// Remote pages never drive the daemon.
func isLocalOrigin(u *url.URL) bool {
	if u == nil || u.Scheme != "http" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// originAllowed checks a websocket Origin header against the local origins
// and the configured allow list.
func (s *APIServer) originAllowed(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if isLocalOrigin(u) {
		return true
	}
	return slices.Contains(s.origins, normalizeOrigin(origin))
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}

func sanitizeOrigins(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o = normalizeOrigin(o); o != "" && !slices.Contains(out, o) {
			out = append(out, o)
		}
	}
	return out
}
