package models

import (
	"encoding/json"
	"time"
)

// AiUsageRecord is one append-only ledger row per attempted metered AI
// operation, including failed attempts (cost 0, error captured). The ledger is
// the audit trail for dispute resolution and must reconcile with balances.
//
// ProviderCost is the tariff valuation of the upstream spend; CostCharged is
// what the account's balance was actually debited after billing policy
// (platform admins are charged 0). The tariff carries no markup, so the two
// coincide for standard accounts.
type AiUsageRecord struct {
	ID               string          `json:"id" db:"id"`
	UserID           string          `json:"user_id" db:"user_id"`
	SubscriptionID   *string         `json:"subscription_id,omitempty" db:"subscription_id"`
	OperationType    string          `json:"operation_type" db:"operation_type"`
	ModelUsed        string          `json:"model_used" db:"model_used"`
	TokensPrompt     int             `json:"tokens_prompt" db:"tokens_prompt"`
	TokensCompletion int             `json:"tokens_completion" db:"tokens_completion"`
	ProviderCost     int             `json:"provider_cost" db:"provider_cost"`
	CostCharged      int             `json:"cost_charged" db:"cost_charged"`
	Estimated        bool            `json:"estimated" db:"estimated"`
	EntityType       *string         `json:"entity_type,omitempty" db:"entity_type"`
	EntityID         *string         `json:"entity_id,omitempty" db:"entity_id"`
	Metadata         json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Success          bool            `json:"success" db:"success"`
	ErrorMessage     *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// CreditEvent records a processed payment-processor event. Webhook delivery is
// at-least-once, so balance increments key on the processor's event ID and a
// replay becomes a no-op.
type CreditEvent struct {
	ID        string    `json:"id" db:"id"`
	EventID   string    `json:"event_id" db:"event_id"`
	EventType string    `json:"event_type" db:"event_type"`
	UserID    string    `json:"user_id" db:"user_id"`
	Credits   int       `json:"credits" db:"credits"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
