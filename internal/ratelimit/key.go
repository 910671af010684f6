package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/CK-Technology/ghostpanel/internal/util"
)

// KeyFunc extracts the rate limit key from a request.
type KeyFunc func(r *http.Request) string

// IdentityKey keys buckets by the authenticated subject when present,
// falling back to the client IP for anonymous requests. Subjects are
// prefixed so a subject named like an IP cannot collide with one.
func IdentityKey(r *http.Request) string {
	if subject := util.SubjectFromContext(r.Context()); subject != "" {
		return "sub:" + subject
	}
	return "ip:" + GetClientIP(r)
}

// ipHeaders are consulted in order before falling back to RemoteAddr.
var ipHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
}

// GetClientIP returns the originating client IP for a request,
// honouring common proxy headers. X-Forwarded-For may carry a chain;
// the first entry is the client.
func GetClientIP(r *http.Request) string {
	for _, header := range ipHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		if idx := strings.Index(value, ","); idx >= 0 {
			value = value[:idx]
		}
		value = strings.TrimSpace(value)
		if net.ParseIP(value) != nil {
			return value
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
