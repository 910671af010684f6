package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/CK-Technology/ghostpanel/internal/util"
)

func TestIdentityKey(t *testing.T) {
	t.Parallel()

	t.Run("prefers authenticated subject", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest("GET", "/api/vms", nil)
		req.RemoteAddr = "10.0.0.5:41000"
		req = req.WithContext(util.ContextWithSubject(req.Context(), "svc-backup"))

		assert.Equal(t, "sub:svc-backup", IdentityKey(req))
	})

	t.Run("falls back to client ip", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest("GET", "/api/vms", nil)
		req.RemoteAddr = "10.0.0.5:41000"

		assert.Equal(t, "ip:10.0.0.5", IdentityKey(req))
	})
}

func TestGetClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "192.0.2.10:55000",
			want:       "192.0.2.10",
		},
		{
			name:       "x-forwarded-for single",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7"},
			want:       "203.0.113.7",
		},
		{
			name:       "x-forwarded-for chain uses first hop",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2, 10.0.0.3"},
			want:       "203.0.113.7",
		},
		{
			name:       "x-real-ip",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Real-IP": "198.51.100.4"},
			want:       "198.51.100.4",
		},
		{
			name:       "cf-connecting-ip",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"CF-Connecting-IP": "198.51.100.9"},
			want:       "198.51.100.9",
		},
		{
			name:       "invalid forwarded value ignored",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip"},
			want:       "10.0.0.1",
		},
		{
			name:       "forwarded precedence over real-ip",
			remoteAddr: "10.0.0.1:1234",
			headers: map[string]string{
				"X-Forwarded-For": "203.0.113.7",
				"X-Real-IP":       "198.51.100.4",
			},
			want: "203.0.113.7",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			assert.Equal(t, tt.want, GetClientIP(req))
		})
	}
}
