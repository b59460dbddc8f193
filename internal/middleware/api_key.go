package middleware

import (
	"crypto/subtle"
	"net/http"

	pkghttp "github.com/civichain/votegate/pkg/http"
)

// RequireAPIKey gates admin endpoints behind a shared X-API-Key header.
// The comparison is constant-time. With an empty configured key the
// middleware rejects everything; admin routes are opt-in.
func RequireAPIKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				pkghttp.WriteForbidden(w, "Admin API is not enabled")
				return
			}

			provided := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				pkghttp.WriteUnauthorized(w, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
