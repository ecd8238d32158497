package httpx_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func TestParseTrustedProxies(t *testing.T) {
	proxies, err := httpx.ParseTrustedProxies("10.0.0.0/8, 192.168.1.7 ::1")
	require.NoError(t, err)
	require.Len(t, proxies, 3)

	require.True(t, proxies.Contains(netip.MustParseAddr("10.20.30.40")))
	require.True(t, proxies.Contains(netip.MustParseAddr("::ffff:10.0.0.1")))
	require.True(t, proxies.Contains(netip.MustParseAddr("192.168.1.7")))
	require.False(t, proxies.Contains(netip.MustParseAddr("192.168.1.8")))
	require.True(t, proxies.Contains(netip.MustParseAddr("::1")))

	empty, err := httpx.ParseTrustedProxies("")
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = httpx.ParseTrustedProxies("10.0.0.0/33")
	require.Error(t, err)
	_, err = httpx.ParseTrustedProxies("proxy.internal")
	require.Error(t, err)
}

func TestResolveClientIP(t *testing.T) {
	proxies, err := httpx.ParseTrustedProxies("10.0.0.0/8")
	require.NoError(t, err)

	tests := []struct {
		name    string
		trusted httpx.TrustedProxies
		remote  string
		xff     []string
		realIP  string
		want    string
	}{
		{
			name:   "no proxies configured ignores headers",
			remote: "198.51.100.4:5555",
			xff:    []string{"203.0.113.9"},
			realIP: "203.0.113.10",
			want:   "198.51.100.4",
		},
		{
			name:    "untrusted peer cannot spoof",
			trusted: proxies,
			remote:  "198.51.100.4:5555",
			xff:     []string{"203.0.113.9"},
			want:    "198.51.100.4",
		},
		{
			name:    "trusted peer forwards the client",
			trusted: proxies,
			remote:  "10.0.0.2:5555",
			xff:     []string{"203.0.113.9"},
			want:    "203.0.113.9",
		},
		{
			name:    "client supplied prefix is skipped",
			trusted: proxies,
			remote:  "10.0.0.2:5555",
			xff:     []string{"1.2.3.4, 203.0.113.9, 10.0.0.3"},
			want:    "203.0.113.9",
		},
		{
			name:    "multiple header lines",
			trusted: proxies,
			remote:  "10.0.0.2:5555",
			xff:     []string{"1.2.3.4", "203.0.113.9"},
			want:    "203.0.113.9",
		},
		{
			name:    "garbage hop stops the walk",
			trusted: proxies,
			remote:  "10.0.0.2:5555",
			xff:     []string{"203.0.113.9, not-an-ip, 10.0.0.3"},
			want:    "10.0.0.3",
		},
		{
			name:    "real ip from trusted peer",
			trusted: proxies,
			remote:  "10.0.0.2:5555",
			realIP:  "203.0.113.10",
			want:    "203.0.113.10",
		},
		{
			name:    "only proxies in the chain",
			trusted: proxies,
			remote:  "10.0.0.2:5555",
			xff:     []string{"10.0.0.9"},
			want:    "10.0.0.9",
		},
		{
			name:    "oversized header is ignored",
			trusted: proxies,
			remote:  "10.0.0.2:5555",
			xff:     []string{strings.Repeat("203.0.113.9, ", 40) + "203.0.113.9"},
			want:    "10.0.0.2",
		},
		{
			name:   "ipv6 peer",
			remote: "[2001:db8::1]:443",
			want:   "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			require.Equal(t, tt.want, tt.trusted.Resolve(req))
		})
	}
}

func TestRealIPMiddleware(t *testing.T) {
	proxies, err := httpx.ParseTrustedProxies("127.0.0.1")
	require.NoError(t, err)

	var got string
	h := httpx.RealIP(proxies)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = httpx.ClientIP(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "203.0.113.9", got)

	// Without the middleware only the socket peer counts.
	require.Equal(t, "127.0.0.1", httpx.ClientIP(req))
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	limit := httpx.RateLimitConfig{RequestsPerWindow: 3, Window: time.Minute, Burst: 3}
	h := httpx.Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), httpx.RealIP(nil), httpx.RateLimitByIP(limit))

	limited := 0
	for i := range 10 {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "198.51.100.4:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	require.Equal(t, 7, limited)
}
