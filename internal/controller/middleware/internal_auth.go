package middleware

import (
	"net/http"

	"moltstudio/internal/auth"
)

// RequireInternalAuth middleware ensures the request carries the internal secret.
// An empty secret rejects every request.
func RequireInternalAuth(systemSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			token, ok := auth.BearerToken(authHeader)
			if !ok {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			if !auth.SecretMatches(token, systemSecret) {
				http.Error(w, "Invalid authorization token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
