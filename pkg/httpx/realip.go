package httpx

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// CtxKeyClientIP holds the caller address resolved by RealIP.
const CtxKeyClientIP ctxKey = "client_ip"

// MaxForwardedLength caps the forwarding headers RealIP will parse. Longer
// values are ignored and the socket peer is used.
const MaxForwardedLength = 500

// TrustedProxies is the set of peers whose X-Forwarded-For and X-Real-IP
// headers are believed. An empty set trusts nobody.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies reads a comma or space separated list of CIDRs and
// bare addresses, e.g. "10.0.0.0/8, 127.0.0.1".
func ParseTrustedProxies(s string) (TrustedProxies, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })

	out := make(TrustedProxies, 0, len(fields))
	for _, f := range fields {
		if strings.Contains(f, "/") {
			p, err := netip.ParsePrefix(f)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", f, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(f)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", f, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Contains reports whether addr falls inside one of the prefixes.
func (t TrustedProxies) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range t {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolve returns the caller address of r. Forwarding headers are only
// consulted when the socket peer is trusted; X-Forwarded-For is then
// walked right to left and the first hop outside the set wins.
func (t TrustedProxies) Resolve(r *http.Request) string {
	peer := remoteHost(r)
	addr, err := netip.ParseAddr(peer)
	if err != nil || !t.Contains(addr) {
		return peer
	}

	var (
		hops []string
		size int
	)
	for _, v := range r.Header.Values("X-Forwarded-For") {
		if size += len(v); size > MaxForwardedLength {
			return addr.Unmap().String()
		}
		hops = append(hops, strings.Split(v, ",")...)
	}

	nearest := addr.Unmap()
	for i := len(hops) - 1; i >= 0; i-- {
		hop, ok := parseHop(hops[i])
		if !ok {
			return nearest.String()
		}
		if !t.Contains(hop) {
			return hop.String()
		}
		nearest = hop
	}

	if xri := r.Header.Get("X-Real-IP"); len(hops) == 0 && len(xri) <= MaxForwardedLength {
		if hop, ok := parseHop(xri); ok {
			return hop.String()
		}
	}
	return nearest.String()
}

// RealIP resolves the caller address once per request and stores it for
// ClientIP.
func RealIP(t TrustedProxies) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), CtxKeyClientIP, t.Resolve(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the address stored by RealIP, or the socket peer when
// the request did not pass through it.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(CtxKeyClientIP).(string); ok && ip != "" {
		return ip
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseHop(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap(), true
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), true
	}
	return netip.Addr{}, false
}
