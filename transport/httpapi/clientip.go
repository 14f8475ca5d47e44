package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type trustedProxies struct {
	prefixes []netip.Prefix
}

func parseTrustedProxies(entries []string) (*trustedProxies, error) {
	tp := &trustedProxies{}
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("httpapi: trusted proxy %q: %w", raw, err)
			}
			tp.prefixes = append(tp.prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("httpapi: trusted proxy %q: %w", raw, err)
		}
		tp.prefixes = append(tp.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return tp, nil
}

func (tp *trustedProxies) contains(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range tp.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP resolves the caller address. Forwarding headers are only honoured
// when the direct peer is a trusted proxy: CF-Connecting-IP first, then the
// first X-Forwarded-For entry.
func (tp *trustedProxies) clientIP(r *http.Request) string {
	remote := remoteHost(r.RemoteAddr)
	if !tp.contains(remote) {
		return remote
	}
	if cf := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); validIP(cf) {
		return cf
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); validIP(first) {
			return first
		}
	}
	return remote
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err == nil {
		return host
	}
	return addr
}

func validIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}
