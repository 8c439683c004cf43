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
	"enterprise-crm-backend/pkg/utils"
)

// EnterprisesHandler serves enterprise profile CRUD. Creating an enterprise
// makes the creator its first owner in the same transaction.
type EnterprisesHandler struct {
	store database.Store
	log   *logger.Logger
}

// NewEnterprisesHandler creates the enterprises handler.
func NewEnterprisesHandler(store database.Store, log *logger.Logger) *EnterprisesHandler {
	return &EnterprisesHandler{store: store, log: log}
}

// POST /api/enterprises
func (h *EnterprisesHandler) CreateEnterprise(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	var req struct {
		Name         string `json:"name"`
		ContactEmail string `json:"contact_email"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		utils.WriteBadRequestResponse(w, "name is required")
		return
	}

	enterprise := &models.Enterprise{
		Name:         strings.TrimSpace(req.Name),
		ContactEmail: strings.TrimSpace(req.ContactEmail),
	}
	if err := h.store.CreateEnterprise(r.Context(), enterprise, user.ID); err != nil {
		h.log.Errorw("failed to create enterprise", "user_id", user.ID, "error", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to create enterprise")
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"enterprise": enterprise})
}

// GET /api/enterprises/{enterpriseID}
func (h *EnterprisesHandler) GetEnterprise(w http.ResponseWriter, r *http.Request) {
	enterpriseID := chi.URLParam(r, "enterpriseID")
	enterprise, err := h.store.GetEnterprise(r.Context(), enterpriseID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			utils.WriteNotFoundResponse(w, "Enterprise not found")
			return
		}
		h.log.Errorw("failed to load enterprise", "enterprise_id", enterpriseID, "error", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to load enterprise")
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"enterprise": enterprise})
}
