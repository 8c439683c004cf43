package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"enterprise-crm-backend/pkg/claims"
	"enterprise-crm-backend/pkg/database"
	"enterprise-crm-backend/pkg/logger"
	"enterprise-crm-backend/pkg/middleware"
	"enterprise-crm-backend/pkg/utils"
)

// ClaimsHandler serves the profile-claim lifecycle: mailed claim invites and
// the tokenless direct claim.
type ClaimsHandler struct {
	claims *claims.Service
	log    *logger.Logger
}

// NewClaimsHandler creates the claims handler.
func NewClaimsHandler(svc *claims.Service, log *logger.Logger) *ClaimsHandler {
	return &ClaimsHandler{claims: svc, log: log}
}

// POST /api/enterprises/{enterpriseID}/claims/invite
// Platform-admin only: claim invites are sent out-of-band to verified
// representatives of unclaimed profiles.
func (h *ClaimsHandler) CreateClaimInvite(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	if !user.IsPlatformAdmin() {
		utils.WriteForbiddenResponse(w, "Platform admin privileges required", nil)
		return
	}
	enterpriseID := chi.URLParam(r, "enterpriseID")

	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		utils.WriteBadRequestResponse(w, "email is required")
		return
	}

	claim, err := h.claims.CreateClaimInvite(r.Context(), enterpriseID, req.Email, req.Name, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			utils.WriteNotFoundResponse(w, "Enterprise not found")
		case errors.Is(err, database.ErrAlreadyClaimed):
			utils.WriteConflictResponse(w, "ALREADY_CLAIMED", "Enterprise already has an active owner")
		default:
			h.log.Errorw("failed to create claim invite", "enterprise_id", enterpriseID, "error", err)
			utils.WriteInternalServerErrorResponse(w, "Failed to create claim invite")
		}
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"claim": claim})
}

// POST /api/claims/accept/{token}
func (h *ClaimsHandler) AcceptClaimToken(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	token := chi.URLParam(r, "token")
	if token == "" {
		utils.WriteBadRequestResponse(w, "token is required")
		return
	}

	membership, err := h.claims.AcceptClaimToken(r.Context(), token, user)
	if err != nil {
		h.writeClaimError(w, err, user.ID)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"membership": membership})
}

// POST /api/enterprises/{enterpriseID}/claim
func (h *ClaimsHandler) ClaimDirect(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	enterpriseID := chi.URLParam(r, "enterpriseID")

	membership, err := h.claims.ClaimDirect(r.Context(), enterpriseID, user)
	if err != nil {
		h.writeClaimError(w, err, user.ID)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"membership": membership})
}

func (h *ClaimsHandler) writeClaimError(w http.ResponseWriter, err error, userID string) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		utils.WriteNotFoundResponse(w, "Not found")
	case errors.Is(err, database.ErrAlreadyProcessed):
		utils.WriteConflictResponse(w, "ALREADY_PROCESSED", "Claim has already been processed")
	case errors.Is(err, claims.ErrExpired):
		utils.WriteErrorResponseWithCode(w, http.StatusGone, "CLAIM_EXPIRED", "Claim has expired", nil)
	case errors.Is(err, claims.ErrEmailMismatch):
		utils.WriteForbiddenResponse(w, "Claim was issued for a different email", nil)
	case errors.Is(err, claims.ErrVerificationRequired):
		utils.WriteForbiddenResponse(w, "Your account email does not match the enterprise contact email", map[string]interface{}{
			"code": "VERIFICATION_REQUIRED",
		})
	case errors.Is(err, database.ErrAlreadyClaimed):
		utils.WriteConflictResponse(w, "ALREADY_CLAIMED", "Enterprise already has an active owner")
	case errors.Is(err, database.ErrClaimLimit):
		utils.WriteConflictResponse(w, "CLAIM_LIMIT_REACHED", "Your plan's claimed profile limit has been reached")
	default:
		h.log.Errorw("claim failed", "user_id", userID, "error", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to process claim")
	}
}
