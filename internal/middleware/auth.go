package middleware

import (
	"context"
	"net/http"
	"strings"

	"phone-bridge-backend/internal/services"
)

type contextKey string

const sessionKey contextKey = "session"

// AuthMiddleware creates a middleware for JWT authentication. The validated
// session is stored on the request context.
func AuthMiddleware(verifier *services.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondError(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			sess, err := verifier.ValidateJWT(parts[1])
			if err != nil {
				respondError(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession extracts the validated session from context
func GetSession(ctx context.Context) *services.Session {
	sess, ok := ctx.Value(sessionKey).(*services.Session)
	if !ok {
		return nil
	}
	return sess
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
