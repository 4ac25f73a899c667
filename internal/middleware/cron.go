package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"

	"github.com/satsduel/satsduel/internal/httputil"
)

// RequireCronSecret guards scheduler-triggered endpoints. Requests must
// carry the shared secret from CRON_SECRET in the X-Cron-Secret header.
func RequireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := os.Getenv("CRON_SECRET")
		if secret == "" {
			httputil.Unauthorized(w, "sweep endpoint is not configured")
			return
		}

		got := r.Header.Get("X-Cron-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			httputil.Unauthorized(w, "invalid sweep secret")
			return
		}

		next.ServeHTTP(w, r)
	})
}
