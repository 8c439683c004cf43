package database

import (
	"context"
	"database/sql"
	"fmt"

	"enterprise-crm-backend/pkg/models"
)

// ChargeCredits debits the account and appends the ledger row in one
// transaction. The user row lock serializes concurrent charges so neither
// observes a stale balance; if the ledger append fails the balance write
// rolls back with it.
func (s *PostgresStore) ChargeCredits(ctx context.Context, p ChargeParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balance, creditLimit int
	var overageAllowed bool
	var subscriptionID *string
	err = tx.QueryRowContext(ctx, `
		SELECT credit_balance, credit_limit, overage_allowed, subscription_id
		FROM users WHERE id = $1 FOR UPDATE
	`, p.UserID).Scan(&balance, &creditLimit, &overageAllowed, &subscriptionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock account: %w", err)
	}

	if !p.SkipBalance && p.Cost > 0 {
		newBalance := balance - p.Cost
		// credit_limit is the floor: 0 unless a negative floor was
		// explicitly configured for the account.
		if !p.Force && newBalance < creditLimit && !overageAllowed {
			return ErrInsufficientCredits
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET credit_balance = $1, updated_at = NOW() WHERE id = $2
		`, newBalance, p.UserID); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
	}

	p.Record.SubscriptionID = subscriptionID
	if err := appendUsageTx(ctx, tx, p.Record); err != nil {
		return err
	}
	return tx.Commit()
}

type execQueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func appendUsageTx(ctx context.Context, q execQueryRower, rec *models.AiUsageRecord) error {
	query := `
		INSERT INTO ai_usage_records
			(user_id, subscription_id, operation_type, model_used, tokens_prompt, tokens_completion,
			 provider_cost, cost_charged, estimated, entity_type, entity_id, metadata, success, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		RETURNING id, created_at
	`
	err := q.QueryRowContext(ctx, query,
		rec.UserID, rec.SubscriptionID, rec.OperationType, rec.ModelUsed,
		rec.TokensPrompt, rec.TokensCompletion, rec.ProviderCost, rec.CostCharged,
		rec.Estimated, rec.EntityType, rec.EntityID, nullableJSON(rec.Metadata),
		rec.Success, rec.ErrorMessage,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

// AppendUsage writes a standalone ledger row; used for failed attempts where
// no balance write happens (cost 0, error captured).
func (s *PostgresStore) AppendUsage(ctx context.Context, rec *models.AiUsageRecord) error {
	return appendUsageTx(ctx, s.db, rec)
}

// ApplyCreditEvent credits an account for a payment-processor event. The
// unique index on event_id turns an at-least-once redelivery into a no-op:
// the insert conflicts, nothing is credited, applied=false.
func (s *PostgresStore) ApplyCreditEvent(ctx context.Context, ev *models.CreditEvent) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO credit_events (event_id, event_type, user_id, credits, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id, created_at
	`, ev.EventID, ev.EventType, ev.UserID, ev.Credits).Scan(&ev.ID, &ev.CreatedAt)
	if err == sql.ErrNoRows {
		// Replayed event: already applied.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record credit event: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE users SET credit_balance = credit_balance + $1, updated_at = NOW() WHERE id = $2
	`, ev.Credits, ev.UserID)
	if err != nil {
		return false, fmt.Errorf("failed to credit account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit credit event: %w", err)
	}
	return true, nil
}

// ListUsage returns the newest ledger rows for a user.
func (s *PostgresStore) ListUsage(ctx context.Context, userID string, limit int) ([]models.AiUsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, subscription_id, operation_type, model_used, tokens_prompt, tokens_completion,
		       provider_cost, cost_charged, estimated, entity_type, entity_id, metadata, success, error_message, created_at
		FROM ai_usage_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var result []models.AiUsageRecord
	for rows.Next() {
		var rec models.AiUsageRecord
		var metadata []byte
		err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.SubscriptionID, &rec.OperationType, &rec.ModelUsed,
			&rec.TokensPrompt, &rec.TokensCompletion, &rec.ProviderCost, &rec.CostCharged,
			&rec.Estimated, &rec.EntityType, &rec.EntityID, &metadata, &rec.Success,
			&rec.ErrorMessage, &rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.Metadata = metadata
		result = append(result, rec)
	}
	return result, rows.Err()
}
