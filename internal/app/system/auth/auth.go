// internal/app/system/auth/auth.go
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// APISecretHeader carries the storefront's shared secret.
const APISecretHeader = "X-Api-Secret"

// SecretMatches compares a presented secret with the expected one in
// constant time. An empty expected secret matches nothing.
func SecretMatches(presented, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// RequireSharedSecret rejects requests whose header does not carry secret.
// Rejections answer 401 with {"ok":false,"error":"unauthorized"}.
func RequireSharedSecret(header, secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !SecretMatches(r.Header.Get(header), secret) {
				logger.Warn("shared secret rejected",
					zap.String("path", r.URL.Path),
					zap.String("header", header))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
