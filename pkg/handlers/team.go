package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"enterprise-crm-backend/pkg/database"
	"enterprise-crm-backend/pkg/logger"
	"enterprise-crm-backend/pkg/middleware"
	"enterprise-crm-backend/pkg/models"
	"enterprise-crm-backend/pkg/team"
	"enterprise-crm-backend/pkg/utils"
)

// TeamHandler serves the membership directory and the invitation lifecycle.
// Role requirements on enterprise-scoped routes are enforced by the access
// gate middleware; handlers only translate service errors.
type TeamHandler struct {
	team *team.Service
	log  *logger.Logger
}

// NewTeamHandler creates the team handler.
func NewTeamHandler(svc *team.Service, log *logger.Logger) *TeamHandler {
	return &TeamHandler{team: svc, log: log}
}

// GET /api/enterprises/{enterpriseID}/team/members
func (h *TeamHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	enterpriseID := chi.URLParam(r, "enterpriseID")
	members, err := h.team.ListMembers(r.Context(), enterpriseID)
	if err != nil {
		h.log.Errorw("failed to list members", "enterprise_id", enterpriseID, "error", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to list members")
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"members": members})
}

// POST /api/enterprises/{enterpriseID}/team/invitations
func (h *TeamHandler) InviteMember(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	enterpriseID := chi.URLParam(r, "enterpriseID")

	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
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

	inv, err := h.team.Invite(r.Context(), enterpriseID, req.Email, models.Role(req.Role), user.ID)
	if err != nil {
		switch {
		case errors.Is(err, team.ErrInvalidRole):
			utils.WriteBadRequestResponse(w, "Unknown role")
		case errors.Is(err, team.ErrOwnerNotInvitable):
			utils.WriteUnprocessableResponse(w, "OWNER_NOT_INVITABLE", "The owner role cannot be granted by invitation")
		case errors.Is(err, team.ErrAlreadyMember):
			utils.WriteConflictResponse(w, "ALREADY_MEMBER", "This email already belongs to an active member")
		case errors.Is(err, database.ErrDuplicateInvitation):
			utils.WriteConflictResponse(w, "DUPLICATE_INVITATION", "A pending invitation already exists for this email")
		default:
			h.log.Errorw("failed to create invitation", "enterprise_id", enterpriseID, "error", err)
			utils.WriteInternalServerErrorResponse(w, "Failed to create invitation")
		}
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"invitation": inv})
}

// GET /api/enterprises/{enterpriseID}/team/invitations
func (h *TeamHandler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	enterpriseID := chi.URLParam(r, "enterpriseID")
	invs, err := h.team.ListInvitations(r.Context(), enterpriseID)
	if err != nil {
		h.log.Errorw("failed to list invitations", "enterprise_id", enterpriseID, "error", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to list invitations")
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"invitations": invs})
}

// DELETE /api/enterprises/{enterpriseID}/team/invitations/{invitationID}
func (h *TeamHandler) CancelInvitation(w http.ResponseWriter, r *http.Request) {
	enterpriseID := chi.URLParam(r, "enterpriseID")
	invitationID := chi.URLParam(r, "invitationID")

	err := h.team.CancelInvitation(r.Context(), invitationID, enterpriseID)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound), errors.Is(err, team.ErrCrossTenant):
			// Cross-tenant cancellation looks identical to a missing invitation.
			utils.WriteNotFoundResponse(w, "Invitation not found")
		case errors.Is(err, database.ErrAlreadyProcessed):
			utils.WriteConflictResponse(w, "ALREADY_PROCESSED", "Invitation is no longer pending")
		default:
			h.log.Errorw("failed to cancel invitation", "invitation_id", invitationID, "error", err)
			utils.WriteInternalServerErrorResponse(w, "Failed to cancel invitation")
		}
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"cancelled": true, "id": invitationID})
}

// POST /api/team/invitations/accept/{token}
func (h *TeamHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
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

	membership, err := h.team.AcceptInvitation(r.Context(), token, user)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			utils.WriteNotFoundResponse(w, "Invitation not found")
		case errors.Is(err, database.ErrAlreadyProcessed):
			utils.WriteConflictResponse(w, "ALREADY_PROCESSED", "Invitation has already been accepted or cancelled")
		case errors.Is(err, team.ErrExpired):
			utils.WriteErrorResponseWithCode(w, http.StatusGone, "INVITATION_EXPIRED", "Invitation has expired", nil)
		case errors.Is(err, team.ErrEmailMismatch):
			utils.WriteForbiddenResponse(w, "Invitation was issued for a different email", nil)
		default:
			h.log.Errorw("failed to accept invitation", "user_id", user.ID, "error", err)
			utils.WriteInternalServerErrorResponse(w, "Failed to accept invitation")
		}
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"membership": membership})
}

// PUT /api/enterprises/{enterpriseID}/team/members/{membershipID}/role
func (h *TeamHandler) ChangeMemberRole(w http.ResponseWriter, r *http.Request) {
	enterpriseID := chi.URLParam(r, "enterpriseID")
	membershipID := chi.URLParam(r, "membershipID")

	actorRole, ok := middleware.GetEnterpriseRoleFromContext(r.Context())
	if !ok {
		utils.WriteForbiddenResponse(w, "Role could not be resolved", nil)
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}

	updated, err := h.team.ChangeMemberRole(r.Context(), enterpriseID, membershipID, models.Role(req.Role), actorRole)
	if err != nil {
		switch {
		case errors.Is(err, team.ErrInvalidRole):
			utils.WriteBadRequestResponse(w, "Unknown role")
		case errors.Is(err, database.ErrNotFound):
			utils.WriteNotFoundResponse(w, "Membership not found")
		case errors.Is(err, team.ErrCannotGrant):
			utils.WriteForbiddenResponse(w, "Your role cannot make this change", nil)
		case errors.Is(err, database.ErrLastOwner):
			utils.WriteConflictResponse(w, "LAST_OWNER", "An enterprise must retain at least one active owner")
		default:
			h.log.Errorw("failed to change member role", "membership_id", membershipID, "error", err)
			utils.WriteInternalServerErrorResponse(w, "Failed to change role")
		}
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"membership": updated})
}

// DELETE /api/enterprises/{enterpriseID}/team/members/{membershipID}
func (h *TeamHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	enterpriseID := chi.URLParam(r, "enterpriseID")
	membershipID := chi.URLParam(r, "membershipID")

	actorRole, ok := middleware.GetEnterpriseRoleFromContext(r.Context())
	if !ok {
		utils.WriteForbiddenResponse(w, "Role could not be resolved", nil)
		return
	}

	err := h.team.RemoveMember(r.Context(), enterpriseID, membershipID, actorRole)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			utils.WriteNotFoundResponse(w, "Membership not found")
		case errors.Is(err, team.ErrCannotGrant):
			utils.WriteForbiddenResponse(w, "Your role cannot remove this member", nil)
		case errors.Is(err, database.ErrLastOwner):
			utils.WriteConflictResponse(w, "LAST_OWNER", "An enterprise must retain at least one active owner")
		default:
			h.log.Errorw("failed to remove member", "membership_id", membershipID, "error", err)
			utils.WriteInternalServerErrorResponse(w, "Failed to remove member")
		}
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"removed": true, "id": membershipID})
}
