package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/brightdesk/crm-engine/internal/pkg/httputil"
)

// withSourceSecret wraps an ingestion handler with bearer-token auth against
// that source's shared secret. A source with no configured secret is
// disabled, not open.
func (s *Server) withSourceSecret(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			httputil.Unauthorized(w)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			httputil.Unauthorized(w)
			return
		}
		next(w, r)
	}
}

// requireAPIKey guards the operator/admin routes.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if s.cfg.Server.APIKey == "" ||
			subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Server.APIKey)) != 1 {
			httputil.Unauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
