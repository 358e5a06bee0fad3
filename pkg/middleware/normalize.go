package middleware

import (
	"net/http"
	"strings"
)

// Normalize tidies requests arriving through a reverse proxy: whitespace
// around the path is trimmed (so "/api/invitations/ABCD1234%20" still routes)
// and scheme/host are restored from X-Forwarded-* for building accept links.
func Normalize() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p := strings.TrimSpace(r.URL.Path); p != r.URL.Path {
				r.URL.Path = p
				r.URL.RawPath = ""
			}
			if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
				r.URL.Scheme = proto
			}
			if host := r.Header.Get("X-Forwarded-Host"); host != "" {
				r.Host = host
			}
			next.ServeHTTP(w, r)
		})
	}
}
