package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"enterprise-crm-backend/pkg/config"
	"enterprise-crm-backend/pkg/database"
	"enterprise-crm-backend/pkg/logger"
	"enterprise-crm-backend/pkg/models"
	"enterprise-crm-backend/pkg/utils"
)

// WebhookHandler processes payment-processor events. Delivery is
// at-least-once, so every balance mutation keys on the processor's event ID
// and replays acknowledge without re-applying.
type WebhookHandler struct {
	config *config.Config
	store  database.Store
	log    *logger.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(cfg *config.Config, store database.Store, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{config: cfg, store: store, log: log}
}

type processorEvent struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

type creditGrantData struct {
	Credits        int    `json:"credits"`
	SubscriptionID string `json:"subscription_id"`
	CustomData     struct {
		UserID string `json:"user_id"`
	} `json:"custom_data"`
}

// POST /api/webhooks/billing
func (h *WebhookHandler) HandleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		utils.WriteBadRequestResponse(w, "Failed to read request body")
		return
	}

	if !h.verifySignature(r, body) {
		h.log.Warnw("webhook signature verification failed", "remote", r.RemoteAddr)
		utils.WriteUnauthorizedResponse(w, "Invalid webhook signature")
		return
	}

	var event processorEvent
	if err := json.Unmarshal(body, &event); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid webhook payload")
		return
	}
	if event.EventID == "" {
		utils.WriteBadRequestResponse(w, "event_id is required")
		return
	}

	switch event.EventType {
	case "transaction.completed", "credits.granted":
		if err := h.applyCreditGrant(r, event); err != nil {
			h.log.Errorw("failed to process credit grant",
				"event_id", event.EventID, "event_type", event.EventType, "error", err)
			utils.WriteInternalServerErrorResponse(w, "Failed to process webhook")
			return
		}
	default:
		// Unknown events are acknowledged so the processor stops retrying.
		utils.WriteSuccessResponse(w, map[string]string{"status": "ignored"})
		return
	}

	utils.WriteSuccessResponse(w, map[string]string{"status": "processed"})
}

func (h *WebhookHandler) applyCreditGrant(r *http.Request, event processorEvent) error {
	var data creditGrantData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return err
	}
	if data.CustomData.UserID == "" || data.Credits <= 0 {
		// Malformed grants are logged and acknowledged; retrying will not
		// make them well-formed.
		h.log.Warnw("ignoring malformed credit grant",
			"event_id", event.EventID, "user_id", data.CustomData.UserID, "credits", data.Credits)
		return nil
	}

	applied, err := h.store.ApplyCreditEvent(r.Context(), &models.CreditEvent{
		EventID:   event.EventID,
		EventType: event.EventType,
		UserID:    data.CustomData.UserID,
		Credits:   data.Credits,
	})
	if err != nil {
		return err
	}
	if !applied {
		h.log.Infow("webhook replay ignored", "event_id", event.EventID)
		return nil
	}

	h.log.Infow("credits granted",
		"event_id", event.EventID, "user_id", data.CustomData.UserID, "credits", data.Credits)
	return nil
}

// verifySignature checks the processor's ts/h1 HMAC-SHA256 signature over
// "<ts>:<body>".
func (h *WebhookHandler) verifySignature(r *http.Request, body []byte) bool {
	signature := r.Header.Get("Webhook-Signature")
	if signature == "" {
		return false
	}

	var ts, h1 string
	for _, part := range strings.Split(signature, ";") {
		switch {
		case strings.HasPrefix(part, "ts="):
			ts = strings.TrimPrefix(part, "ts=")
		case strings.HasPrefix(part, "h1="):
			h1 = strings.TrimPrefix(part, "h1=")
		}
	}
	if ts == "" || h1 == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.config.BillingWebhookSecret))
	mac.Write([]byte(ts + ":" + string(body)))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(h1), []byte(expected))
}
