package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"enterprise-crm-backend/pkg/billing"
	"enterprise-crm-backend/pkg/database"
	"enterprise-crm-backend/pkg/logger"
	"enterprise-crm-backend/pkg/middleware"
	"enterprise-crm-backend/pkg/utils"
)

// AssistantHandler serves the metered AI endpoints. Every call here goes
// through the credit ledger; there is no unmetered path to the provider.
type AssistantHandler struct {
	ledger *billing.Ledger
	log    *logger.Logger
}

// NewAssistantHandler creates the assistant handler.
func NewAssistantHandler(ledger *billing.Ledger, log *logger.Logger) *AssistantHandler {
	return &AssistantHandler{ledger: ledger, log: log}
}

type chatRequestBody struct {
	Model      string                `json:"model,omitempty"`
	Messages   []billing.ChatMessage `json:"messages"`
	MaxTokens  int                   `json:"max_tokens,omitempty"`
	EntityType *string               `json:"entity_type,omitempty"`
	EntityID   *string               `json:"entity_id,omitempty"`
	Metadata   json.RawMessage       `json:"metadata,omitempty"`
}

// POST /api/assistant/chat
func (h *AssistantHandler) Chat(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	var req chatRequestBody
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		utils.WriteBadRequestResponse(w, "messages are required")
		return
	}

	resp, err := h.ledger.CallWithBilling(r.Context(), user, billing.ChatRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	}, "chat", billing.CallOptions{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Metadata:   req.Metadata,
	})
	if err != nil {
		h.writeBillingError(w, err, user.ID)
		return
	}
	utils.WriteSuccessResponse(w, resp)
}

// POST /api/assistant/chat/stream
//
// Server-sent events: one "delta" event per content chunk, then a terminal
// "done" event. Billing happens once, after the stream completes.
func (h *AssistantHandler) ChatStream(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	var req chatRequestBody
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		utils.WriteBadRequestResponse(w, "messages are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.WriteInternalServerErrorResponse(w, "Streaming not supported")
		return
	}

	// SSE headers go out with the first delta, not before: a failure ahead
	// of any streamed byte can then still use the normal status codes.
	streaming := false
	startStream := func() {
		if streaming {
			return
		}
		streaming = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
	}

	resp, err := h.ledger.StreamWithBilling(r.Context(), user, billing.ChatRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	}, "chat_stream", func(delta string) {
		startStream()
		payload, _ := json.Marshal(map[string]string{"content": delta})
		fmt.Fprintf(w, "event: delta\ndata: %s\n\n", payload)
		flusher.Flush()
	}, billing.CallOptions{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Metadata:   req.Metadata,
	})
	if err != nil {
		if !streaming {
			h.writeBillingError(w, err, user.ID)
			return
		}
		// Deltas are already out; the best we can do is an error event.
		payload, _ := json.Marshal(map[string]string{"error": sseErrorCode(err)})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
		flusher.Flush()
		return
	}
	startStream()

	payload, _ := json.Marshal(resp)
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", payload)
	flusher.Flush()
}

// GET /api/assistant/usage?limit=50
func (h *AssistantHandler) ListUsage(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	records, err := h.ledger.ListUsage(r.Context(), user.ID, limit)
	if err != nil {
		h.log.Errorw("failed to list usage", "user_id", user.ID, "error", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to list usage")
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"usage":          records,
		"credit_balance": user.CreditBalance,
	})
}

func (h *AssistantHandler) writeBillingError(w http.ResponseWriter, err error, userID string) {
	switch {
	case errors.Is(err, database.ErrInsufficientCredits):
		utils.WritePaymentRequiredResponse(w, "Insufficient credits for this operation")
	case errors.Is(err, billing.ErrAIRequestFailed):
		utils.WriteBadGatewayResponse(w, "AI_REQUEST_FAILED", "The AI provider request failed")
	default:
		h.log.Errorw("assistant call failed", "user_id", userID, "error", err)
		utils.WriteInternalServerErrorResponse(w, "Assistant request failed")
	}
}

func sseErrorCode(err error) string {
	switch {
	case errors.Is(err, database.ErrInsufficientCredits):
		return "INSUFFICIENT_CREDITS"
	case errors.Is(err, billing.ErrAIRequestFailed):
		return "AI_REQUEST_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}
