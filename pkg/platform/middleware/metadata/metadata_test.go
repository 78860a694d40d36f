package metadata

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grupoexnihilo/nexus-ecclesia/pkg/requestcontext"
)

func TestResolver_ClientIP_NoTrustedProxies(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded header ignored without trusted proxies", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2"}, "10.0.0.2:4411", "10.0.0.2"},
		{"real ip header ignored without trusted proxies", map[string]string{"X-Real-IP": " 198.51.100.4 "}, "10.0.0.2:4411", "10.0.0.2"},
		{"ipv4 remote addr", nil, "192.0.2.10:5555", "192.0.2.10"},
		{"ipv6 remote addr", nil, "[::1]:5555", "::1"},
		{"ipv4-mapped remote addr", nil, "[::ffff:192.0.2.10]:5555", "192.0.2.10"},
		{"remote addr without port", nil, "192.0.2.10", "192.0.2.10"},
		{"empty remote addr", nil, "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, NewResolver(nil).ClientIP(req))
		})
	}
}

func TestResolver_ClientIP(t *testing.T) {
	res := NewResolver([]netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("fd00::/8"),
	})

	tests := []struct {
		name   string
		remote string
		xff    []string
		realIP string
		want   string
	}{
		{
			name:   "untrusted peer cannot forward",
			remote: "203.0.113.50:4000",
			xff:    []string{"198.51.100.1"},
			want:   "203.0.113.50",
		},
		{
			name:   "single trusted proxy",
			remote: "10.0.0.2:4000",
			xff:    []string{"198.51.100.1"},
			want:   "198.51.100.1",
		},
		{
			name:   "spoofed leading hop is skipped",
			remote: "10.0.0.2:4000",
			xff:    []string{"1.2.3.4, 198.51.100.1"},
			want:   "198.51.100.1",
		},
		{
			name:   "chain of trusted proxies",
			remote: "10.0.0.3:4000",
			xff:    []string{"198.51.100.1, 10.0.0.9", "10.0.0.2"},
			want:   "198.51.100.1",
		},
		{
			name:   "garbage before the real client is never reached",
			remote: "10.0.0.2:4000",
			xff:    []string{"not-an-ip, 198.51.100.1"},
			want:   "198.51.100.1",
		},
		{
			name:   "malformed hop stops at the last trusted address",
			remote: "10.0.0.2:4000",
			xff:    []string{"198.51.100.1, bogus"},
			want:   "10.0.0.2",
		},
		{
			name:   "every hop trusted",
			remote: "10.0.0.2:4000",
			xff:    []string{"10.0.0.7"},
			want:   "10.0.0.7",
		},
		{
			name:   "real ip header from trusted proxy",
			remote: "[fd00::1]:4000",
			realIP: "2001:db8::5",
			want:   "2001:db8::5",
		},
		{
			name:   "malformed real ip header",
			remote: "10.0.0.2:4000",
			realIP: "client",
			want:   "10.0.0.2",
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
			assert.Equal(t, tt.want, res.ClientIP(req))
		})
	}
}

func TestClientMetadataMiddleware(t *testing.T) {
	var got requestcontext.ClientMetadata
	h := NewResolver(nil).ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = requestcontext.Client(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/login-data", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.99")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "192.0.2.10", got.IP)
	assert.Contains(t, got.Browser, "Chrome")
	assert.NotEmpty(t, got.OS)
	assert.False(t, got.Bot)
}

func TestResolver_ClientMetadataMiddleware(t *testing.T) {
	var got requestcontext.ClientMetadata
	res := NewResolver([]netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")})
	h := res.ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = requestcontext.Client(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/login-data", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.99")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.99", got.IP)
}
