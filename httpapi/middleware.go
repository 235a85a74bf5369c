package httpapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/kasperience/kdapp-sub000/metrics"
)

// apiKeyAuth rejects any request whose X-API-Key header does not equal
// token with 401, grounded on server.rs's authorize(): a single shared
// secret, constant-time compared so the check itself leaks no timing
// signal about how much of the key matched.
func apiKeyAuth(token string, m *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				if m != nil {
					m.Unauthorized.Inc()
				}
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
