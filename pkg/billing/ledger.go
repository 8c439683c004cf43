package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"enterprise-crm-backend/pkg/database"
	"enterprise-crm-backend/pkg/logger"
	"enterprise-crm-backend/pkg/models"
)

// ErrAIRequestFailed wraps any provider failure: network, timeout, or model
// error. The failed attempt is still visible in the ledger (cost 0,
// success=false) before this is returned.
var ErrAIRequestFailed = errors.New("ai request failed")

// CallOptions carries the optional attribution for a metered call.
type CallOptions struct {
	EntityType    *string
	EntityID      *string
	Metadata      json.RawMessage
	EstimatedCost int
}

// Ledger meters every external AI call: a lock-free credit check before the
// call, the provider invocation, and one atomic charge-and-log after it. No
// lock is ever held across the provider call.
type Ledger struct {
	store        database.Store
	provider     Provider
	log          *logger.Logger
	defaultModel string
}

// NewLedger creates the credit ledger.
func NewLedger(store database.Store, provider Provider, log *logger.Logger, defaultModel string) *Ledger {
	return &Ledger{store: store, provider: provider, log: log, defaultModel: defaultModel}
}

// CheckCredits reports whether the account may start a metered operation.
// Platform admins are billing-exempt (but still logged). The result is
// monotonic in the balance for overage-disallowed accounts.
func (l *Ledger) CheckCredits(user *models.User, estimatedCost int) bool {
	if user.IsPlatformAdmin() {
		return true
	}
	if user.OverageAllowed {
		return true
	}
	if user.CreditBalance <= 0 {
		return false
	}
	if estimatedCost > 0 && user.CreditBalance < estimatedCost {
		return false
	}
	return true
}

// CallWithBilling runs one metered provider call for the user. The check
// happens before the provider is touched; the charge and the ledger append
// happen strictly after, in one transaction. Once the provider call starts,
// the whole call-then-charge sequence runs on a context that survives client
// disconnects: the upstream cost is incurred the moment the request is sent,
// so aborting mid-flight would leave it unbilled. The provider's own client
// timeout still bounds the detached call.
func (l *Ledger) CallWithBilling(ctx context.Context, user *models.User, req ChatRequest, operationType string, opts CallOptions) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = l.defaultModel
	}
	if !l.CheckCredits(user, opts.EstimatedCost) {
		return nil, database.ErrInsufficientCredits
	}

	ctx = context.WithoutCancel(ctx)
	resp, err := l.provider.Chat(ctx, req)
	if err != nil {
		l.recordFailure(ctx, user, req, operationType, opts, err)
		return nil, fmt.Errorf("%w: %v", ErrAIRequestFailed, err)
	}

	var promptTokens, completionTokens int
	estimated := false
	if resp.Usage != nil {
		promptTokens = resp.Usage.PromptTokens
		completionTokens = resp.Usage.CompletionTokens
	} else {
		// Degraded response without usage metadata: estimate from
		// character length.
		promptTokens = estimateTokens(req.promptChars())
		completionTokens = estimateTokens(len(resp.Content))
		estimated = true
	}
	cost := CostFor(req.Model, promptTokens, completionTokens)

	if err := l.charge(ctx, user, chargeArgs{
		operationType:    operationType,
		model:            req.Model,
		promptTokens:     promptTokens,
		completionTokens: completionTokens,
		cost:             cost,
		estimated:        estimated,
		opts:             opts,
	}); err != nil {
		return nil, err
	}
	return resp, nil
}

// StreamWithBilling runs one metered streaming call. The check step is
// identical; usage is only ever estimated because token accounting is not
// available mid-stream, and the single charge happens after the stream
// completes. As with CallWithBilling, the provider call is detached from
// client cancellation: a viewer closing the tab mid-stream must not turn an
// incurred upstream cost into a free call. Deltas written after a disconnect
// simply fail at the response writer.
func (l *Ledger) StreamWithBilling(ctx context.Context, user *models.User, req ChatRequest, operationType string, onDelta func(string), opts CallOptions) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = l.defaultModel
	}
	if !l.CheckCredits(user, opts.EstimatedCost) {
		return nil, database.ErrInsufficientCredits
	}

	ctx = context.WithoutCancel(ctx)
	resp, err := l.provider.ChatStream(ctx, req, onDelta)
	if err != nil {
		l.recordFailure(ctx, user, req, operationType, opts, err)
		return nil, fmt.Errorf("%w: %v", ErrAIRequestFailed, err)
	}

	promptTokens := estimateTokens(req.promptChars())
	completionTokens := estimateTokens(len(resp.Content))
	cost := CostFor(req.Model, promptTokens, completionTokens)

	if err := l.charge(ctx, user, chargeArgs{
		operationType:    operationType,
		model:            req.Model,
		promptTokens:     promptTokens,
		completionTokens: completionTokens,
		cost:             cost,
		estimated:        true,
		opts:             opts,
	}); err != nil {
		return nil, err
	}
	return resp, nil
}

type chargeArgs struct {
	operationType    string
	model            string
	promptTokens     int
	completionTokens int
	cost             int
	estimated        bool
	opts             CallOptions
}

func (l *Ledger) charge(ctx context.Context, user *models.User, a chargeArgs) error {
	record := &models.AiUsageRecord{
		UserID:           user.ID,
		OperationType:    a.operationType,
		ModelUsed:        a.model,
		TokensPrompt:     a.promptTokens,
		TokensCompletion: a.completionTokens,
		// Tariff valuation of the upstream spend; CostCharged diverges
		// from it only through billing policy (admin exemption below).
		ProviderCost: a.cost,
		CostCharged:  a.cost,
		Estimated:        a.estimated,
		EntityType:       a.opts.EntityType,
		EntityID:         a.opts.EntityID,
		Metadata:         a.opts.Metadata,
		Success:          true,
	}
	if user.IsPlatformAdmin() {
		record.CostCharged = 0
	}

	// The charge must complete even if the client has disconnected.
	err := l.store.ChargeCredits(context.WithoutCancel(ctx), database.ChargeParams{
		UserID:      user.ID,
		Cost:        a.cost,
		SkipBalance: user.IsPlatformAdmin(),
		Force:       true,
		Record:      record,
	})
	if err != nil {
		// Balance and ledger row rolled back together; surface it.
		return fmt.Errorf("failed to charge credits: %w", err)
	}

	l.log.Infow("metered operation charged",
		"user_id", user.ID, "operation", a.operationType, "model", a.model,
		"cost", a.cost, "estimated", a.estimated)
	return nil
}

// recordFailure appends the mandatory zero-cost failed-attempt row. Failed
// attempts are a hard requirement for cost reconciliation, so an append error
// is logged loudly but the provider error stays what the caller sees.
func (l *Ledger) recordFailure(ctx context.Context, user *models.User, req ChatRequest, operationType string, opts CallOptions, provErr error) {
	msg := provErr.Error()
	record := &models.AiUsageRecord{
		UserID:        user.ID,
		OperationType: operationType,
		ModelUsed:     req.Model,
		Metadata:      opts.Metadata,
		EntityType:    opts.EntityType,
		EntityID:      opts.EntityID,
		Success:       false,
		ErrorMessage:  &msg,
	}
	if err := l.store.AppendUsage(context.WithoutCancel(ctx), record); err != nil {
		l.log.Errorw("failed to record failed ai attempt",
			"user_id", user.ID, "operation", operationType, "error", err)
	}
}

// ListUsage returns the user's most recent ledger rows, newest first.
func (l *Ledger) ListUsage(ctx context.Context, userID string, limit int) ([]models.AiUsageRecord, error) {
	return l.store.ListUsage(ctx, userID, limit)
}
