package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"enterprise-crm-backend/pkg/database"
	"enterprise-crm-backend/pkg/models"
	"enterprise-crm-backend/pkg/utils"
)

// ContextKey keys values stored on the request context.
type ContextKey string

const (
	// UserContextKey holds the authenticated *models.User.
	UserContextKey ContextKey = "user"
)

// AuthMiddleware validates the bearer token and loads the full account record
// onto the request context. The load matters: the access gate and the credit
// ledger need the platform role and credit fields, not just the claims.
func AuthMiddleware(jwtService *utils.JWTService, store database.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.WriteUnauthorizedResponse(w, "Missing authorization header")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				utils.WriteUnauthorizedResponse(w, "Invalid authorization header format")
				return
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				utils.WriteUnauthorizedResponse(w, "Invalid token")
				return
			}
			if claims.Type != "access" {
				utils.WriteUnauthorizedResponse(w, "Invalid token type")
				return
			}

			user, err := store.GetUserByID(r.Context(), claims.UserID)
			if err != nil {
				utils.WriteUnauthorizedResponse(w, "Account no longer exists")
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserFromContext returns the authenticated user, if any.
func GetUserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok && user != nil
}

// RequireUser returns the authenticated user or an error.
func RequireUser(ctx context.Context) (*models.User, error) {
	user, ok := GetUserFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("user not authenticated")
	}
	return user, nil
}
