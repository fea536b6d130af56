package middleware

import (
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"

	"lumen-pipeline/pkg/logging/logging"
)

// APIKeyHeader carries the shared secret.
const APIKeyHeader = "X-API-Key"

// publicPaths are reachable without a key so probes and scrapers keep working.
var publicPaths = map[string]struct{}{
	"/":             {},
	"/health":       {},
	"/health/ready": {},
	"/metrics":      {},
}

// APIKey rejects requests whose X-API-Key does not match key. An empty key
// disables the check.
func APIKey(key string) func(http.Handler) http.Handler {
	want := []byte(key)
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := publicPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			got := []byte(r.Header.Get(APIKeyHeader))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				logging.L(r.Context()).Warn("api_key_rejected", zap.Bool("present", len(got) > 0))
				writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
