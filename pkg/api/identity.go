package api

import (
	"net"
	"net/http"
	"strings"
)

// ClientIdentity resolves the identity string that keys the vote ledger.
// Identity is the network source address: the first hop of X-Forwarded-For
// when a proxy set it, otherwise the remote address with the port stripped.
func ClientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
