package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminAuth guards operator endpoints with static bearer tokens. Tokens are
// compared by SHA-256 digest in constant time. With no tokens configured
// every request passes.
func AdminAuth(tokens []string) func(http.Handler) http.Handler {
	digests := make([][sha256.Size]byte, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			digests = append(digests, sha256.Sum256([]byte(t)))
		}
	}
	return func(next http.Handler) http.Handler {
		if len(digests) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractToken(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing admin token")
				return
			}
			sum := sha256.Sum256([]byte(key))
			for _, d := range digests {
				if subtle.ConstantTimeCompare(sum[:], d[:]) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusUnauthorized, "invalid admin token")
		})
	}
}

// extractToken reads Authorization: Bearer first, then X-API-Key.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}
