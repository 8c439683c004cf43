package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"enterprise-crm-backend/pkg/database"
	"enterprise-crm-backend/pkg/logger"
	"enterprise-crm-backend/pkg/models"
	"enterprise-crm-backend/pkg/utils"
)

const (
	// EnterpriseContextKey holds the resolved *models.Enterprise.
	EnterpriseContextKey ContextKey = "enterprise"
	// EnterpriseRoleContextKey holds the caller's resolved models.Role.
	EnterpriseRoleContextKey ContextKey = "enterprise_role"
)

// AccessGate enforces the per-route minimum role for enterprise-scoped
// endpoints.
type AccessGate struct {
	store database.Store
	log   *logger.Logger
}

// NewAccessGate creates the gate.
func NewAccessGate(store database.Store, log *logger.Logger) *AccessGate {
	return &AccessGate{store: store, log: log}
}

// RequireRole returns middleware gating the route behind a minimum enterprise
// role. Resolution order: authenticated caller, enterprise identifier from
// the {enterpriseID} path segment, platform-admin bypass (synthesizes owner,
// audit-logged), membership lookup, rank comparison. Non-members get a 404
// rather than a 403 so tenant existence is not leaked.
func (g *AccessGate) RequireRole(required models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUserFromContext(r.Context())
			if !ok {
				utils.WriteUnauthorizedResponse(w, "Authentication required")
				return
			}

			enterpriseID := chi.URLParam(r, "enterpriseID")
			if enterpriseID == "" {
				utils.WriteBadRequestResponse(w, "enterprise id required")
				return
			}
			if _, err := uuid.Parse(enterpriseID); err != nil {
				// A malformed id can't name a tenant; answer exactly like a
				// missing one instead of letting the driver reject the cast.
				utils.WriteNotFoundResponse(w, "enterprise not found")
				return
			}

			enterprise, err := g.store.GetEnterprise(r.Context(), enterpriseID)
			if err != nil {
				if errors.Is(err, database.ErrNotFound) {
					utils.WriteNotFoundResponse(w, "enterprise not found")
					return
				}
				utils.WriteInternalServerErrorResponse(w, "failed to resolve enterprise")
				return
			}

			var role models.Role
			if user.IsPlatformAdmin() {
				// Intentional escape hatch: platform admins operate on any
				// tenant and act as owner downstream. Always audit-logged.
				role = models.RoleOwner
				g.log.Audit("platform admin bypassed tenant check",
					"user_id", user.ID, "enterprise_id", enterpriseID, "path", r.URL.Path)
			} else {
				membership, err := g.store.GetActiveMembership(r.Context(), user.ID, enterpriseID)
				if err != nil {
					if errors.Is(err, database.ErrNotFound) {
						// 404, not 403: non-members must not learn the
						// tenant exists.
						utils.WriteNotFoundResponse(w, "enterprise not found")
						return
					}
					utils.WriteInternalServerErrorResponse(w, "failed to resolve membership")
					return
				}
				role = membership.Role
			}

			if !role.Satisfies(required) {
				// Internal API: disclosing both roles is intentional, the
				// client uses them to render upgrade prompts.
				utils.WriteForbiddenResponse(w, "insufficient role", map[string]string{
					"current_role":  string(role),
					"required_role": string(required),
				})
				return
			}

			ctx := context.WithValue(r.Context(), EnterpriseContextKey, enterprise)
			ctx = context.WithValue(ctx, EnterpriseRoleContextKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetEnterpriseFromContext returns the enterprise resolved by the gate.
func GetEnterpriseFromContext(ctx context.Context) (*models.Enterprise, bool) {
	e, ok := ctx.Value(EnterpriseContextKey).(*models.Enterprise)
	return e, ok && e != nil
}

// GetEnterpriseRoleFromContext returns the role resolved by the gate.
func GetEnterpriseRoleFromContext(ctx context.Context) (models.Role, bool) {
	role, ok := ctx.Value(EnterpriseRoleContextKey).(models.Role)
	return role, ok
}
