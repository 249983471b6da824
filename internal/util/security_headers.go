package util

import (
	"net/http"
	"strings"
)

// WithSecurityHeaders adds response headers for a JSON API that serves
// per-user library data. HSTS is sent only over HTTPS, direct or forwarded.
//
// Paths under any of noStorePrefixes get Cache-Control: no-store. Library
// state changes on every save, status update and removal, and a cached list
// or status read would show the reader a state that no longer exists.
// Catalog responses stay cacheable.
func WithSecurityHeaders(noStorePrefixes []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Permissions-Policy", "geolocation=(), camera=(), microphone=()")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		for _, prefix := range noStorePrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				w.Header().Set("Cache-Control", "no-store")
				break
			}
		}
		if r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
