package security

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// GetClientIP extracts the client address from the request.
//
// With trustProxy set, the address is taken from X-Forwarded-For, skipping the
// trustedProxyCount rightmost hops (at least one), then from X-Real-IP.
// Only enable trustProxy behind a reverse proxy that overwrites these headers.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipFromForwardedFor picks the client entry from "client, proxy1, proxy2".
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	hops := strings.Split(xff, ",")
	if trustedProxyCount < 1 {
		trustedProxyCount = 1
	}
	idx := len(hops) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}
	return parseIP(hops[idx])
}

func parseIP(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}
