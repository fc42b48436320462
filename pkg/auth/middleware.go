package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
)

type claimsKey struct{}

// ClaimsFromContext возвращает claims, сохраненные AuthMiddleware
func ClaimsFromContext(ctx context.Context) (*KeycloakClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*KeycloakClaims)
	return claims, ok
}

// AuthMiddleware промежуточное ПО для проверки bearer-токенов
func AuthMiddleware(verifier TokenVerifier, logger interfaces.LoggerPort) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header is required", http.StatusUnauthorized)
				return
			}

			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenStr) == "" {
				http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.ValidateToken(r.Context(), strings.TrimSpace(tokenStr))
			if err != nil {
				logger.WarnWithContext(r.Context(), "Недействительный токен",
					interfaces.LogField{Key: "error", Value: err.Error()})
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), interfaces.UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, claimsKey{}, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAnyRole проверяет наличие хотя бы одной роли из списка
func RequireAnyRole(verifier TokenVerifier, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !verifier.HasAnyRole(claims, roles...) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
