package handlers

import (
	"net/http"

	"enterprise-crm-backend/pkg/database"
	"enterprise-crm-backend/pkg/utils"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store database.Store
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(store database.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

// GET /api/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.HealthCheck(r.Context()); err != nil {
		utils.WriteErrorResponseWithCode(w, http.StatusServiceUnavailable, "UNHEALTHY", "Database unreachable", nil)
		return
	}
	utils.WriteSuccessResponse(w, map[string]string{"status": "ok"})
}
