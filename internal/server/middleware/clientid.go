package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientID derives the per-request client identifier used for rate limiting
// and audit events: the first entry of X-Forwarded-For when present,
// otherwise the host part of the connection's remote address.
//
// The forwarded header is only trustworthy when a controlled proxy sets it;
// exposed directly to the internet it is spoofable, and deployments without
// a trusted proxy layer should strip the header at the edge.
func ClientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
