package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the originating client address for audit logging
// and rate limiting. Forwarding headers are consulted only when
// trustProxy is set, since either header is trivially spoofable when
// the server is reached directly. trustedProxyCount is the number of
// reverse proxies appending to X-Forwarded-For; the client address is
// that many entries from the right.
func ClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientIPFromForwarded(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientIPFromForwarded picks the client entry out of an
// X-Forwarded-For list of the form "client, proxy1, proxy2".
func clientIPFromForwarded(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}

	ips := strings.Split(xff, ",")
	idx := len(ips) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) != nil {
		return ip
	}
	return ""
}
