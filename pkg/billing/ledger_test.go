package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enterprise-crm-backend/pkg/database"
	"enterprise-crm-backend/pkg/logger"
	"enterprise-crm-backend/pkg/models"
)

// fakeProvider returns a canned response or error and counts invocations.
type fakeProvider struct {
	resp  *ChatResponse
	err   error
	calls int
}

func (f *fakeProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req ChatRequest, onDelta func(string)) (*ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	onDelta(f.resp.Content)
	return f.resp, nil
}

// cancelSensitiveProvider fails the moment its context carries a
// cancellation, the way a real HTTP client would abort an in-flight request.
type cancelSensitiveProvider struct {
	resp *ChatResponse
}

func (p *cancelSensitiveProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.resp, nil
}

func (p *cancelSensitiveProvider) ChatStream(ctx context.Context, req ChatRequest, onDelta func(string)) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	onDelta(p.resp.Content)
	return p.resp, nil
}

func newTestUser(t *testing.T, store *database.MemoryStore, balance int) *models.User {
	t.Helper()
	user := &models.User{
		Email:         "user@example.com",
		CreditBalance: balance,
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func chatReq() ChatRequest {
	return ChatRequest{
		Model:    "gpt-4o",
		Messages: []ChatMessage{{Role: "user", Content: "hello"}},
	}
}

func TestCheckCredits(t *testing.T) {
	tests := []struct {
		name      string
		user      models.User
		estimated int
		want      bool
	}{
		{"positive balance", models.User{CreditBalance: 10}, 0, true},
		{"zero balance", models.User{CreditBalance: 0}, 0, false},
		{"negative balance", models.User{CreditBalance: -5}, 0, false},
		{"balance below estimate", models.User{CreditBalance: 5}, 10, false},
		{"balance covers estimate", models.User{CreditBalance: 10, CreditLimit: 0}, 10, true},
		{"overage allowed at zero", models.User{CreditBalance: 0, OverageAllowed: true}, 100, true},
		{"platform admin exempt", models.User{CreditBalance: -100, PlatformRole: models.PlatformAdmin}, 100, true},
	}

	ledger := NewLedger(database.NewMemoryStore(), &fakeProvider{}, logger.Nop(), "gpt-4o-mini")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ledger.CheckCredits(&tt.user, tt.estimated))
		})
	}
}

func TestCallWithBillingChargesAndLogs(t *testing.T) {
	store := database.NewMemoryStore()
	user := newTestUser(t, store, 500)

	provider := &fakeProvider{resp: &ChatResponse{
		Content: "answer",
		Usage:   &Usage{PromptTokens: 1000, CompletionTokens: 500},
	}}
	ledger := NewLedger(store, provider, logger.Nop(), "gpt-4o-mini")

	resp, err := ledger.CallWithBilling(context.Background(), user, chatReq(), "chat", CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content)

	// 1000 prompt @ 250/M + 500 completion @ 1000/M = 750k micro-units -> 1.
	fresh, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 499, fresh.CreditBalance)

	usage, err := store.ListUsage(context.Background(), user.ID, 10)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, 1, usage[0].CostCharged)
	assert.Equal(t, 1000, usage[0].TokensPrompt)
	assert.Equal(t, 500, usage[0].TokensCompletion)
	assert.True(t, usage[0].Success)
	assert.False(t, usage[0].Estimated)
}

func TestCallWithBillingInsufficientCredits(t *testing.T) {
	store := database.NewMemoryStore()
	user := newTestUser(t, store, 0)

	provider := &fakeProvider{resp: &ChatResponse{Content: "answer"}}
	ledger := NewLedger(store, provider, logger.Nop(), "gpt-4o-mini")

	_, err := ledger.CallWithBilling(context.Background(), user, chatReq(), "chat", CallOptions{})
	assert.ErrorIs(t, err, database.ErrInsufficientCredits)
	// The provider must never be reached when the check fails.
	assert.Equal(t, 0, provider.calls)

	usage, err := store.ListUsage(context.Background(), user.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, usage)
}

func TestCallWithBillingProviderFailureRecordsAttempt(t *testing.T) {
	store := database.NewMemoryStore()
	user := newTestUser(t, store, 500)

	provider := &fakeProvider{err: errors.New("upstream timeout")}
	ledger := NewLedger(store, provider, logger.Nop(), "gpt-4o-mini")

	_, err := ledger.CallWithBilling(context.Background(), user, chatReq(), "chat", CallOptions{})
	assert.ErrorIs(t, err, ErrAIRequestFailed)

	// Balance untouched, but a zero-cost failed-attempt row exists.
	fresh, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 500, fresh.CreditBalance)

	usage, err := store.ListUsage(context.Background(), user.ID, 10)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, 0, usage[0].CostCharged)
	assert.False(t, usage[0].Success)
	require.NotNil(t, usage[0].ErrorMessage)
	assert.Contains(t, *usage[0].ErrorMessage, "upstream timeout")
}

func TestCallWithBillingEstimatesWhenUsageMissing(t *testing.T) {
	store := database.NewMemoryStore()
	user := newTestUser(t, store, 500)

	provider := &fakeProvider{resp: &ChatResponse{Content: "four"}}
	ledger := NewLedger(store, provider, logger.Nop(), "gpt-4o-mini")

	_, err := ledger.CallWithBilling(context.Background(), user, chatReq(), "chat", CallOptions{})
	require.NoError(t, err)

	usage, err := store.ListUsage(context.Background(), user.ID, 10)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.True(t, usage[0].Estimated)
	// "hello" -> 2 estimated prompt tokens, "four" -> 1 completion token.
	assert.Equal(t, 2, usage[0].TokensPrompt)
	assert.Equal(t, 1, usage[0].TokensCompletion)
}

func TestCallWithBillingAdminGetsFreeLedgerRow(t *testing.T) {
	store := database.NewMemoryStore()
	admin := &models.User{
		Email:        "admin@example.com",
		PlatformRole: models.PlatformAdmin,
	}
	require.NoError(t, store.CreateUser(context.Background(), admin))

	provider := &fakeProvider{resp: &ChatResponse{
		Content: "answer",
		Usage:   &Usage{PromptTokens: 1000, CompletionTokens: 500},
	}}
	ledger := NewLedger(store, provider, logger.Nop(), "gpt-4o-mini")

	_, err := ledger.CallWithBilling(context.Background(), admin, chatReq(), "chat", CallOptions{})
	require.NoError(t, err)

	fresh, err := store.GetUserByID(context.Background(), admin.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.CreditBalance)

	// Admin calls still produce a ledger row; only the charge is zero.
	usage, err := store.ListUsage(context.Background(), admin.ID, 10)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, 0, usage[0].CostCharged)
	assert.Equal(t, 1, usage[0].ProviderCost)
}

func TestCallWithBillingDefaultsModel(t *testing.T) {
	store := database.NewMemoryStore()
	user := newTestUser(t, store, 500)

	provider := &fakeProvider{resp: &ChatResponse{Content: "x", Usage: &Usage{PromptTokens: 1, CompletionTokens: 1}}}
	ledger := NewLedger(store, provider, logger.Nop(), "gpt-4o-mini")

	req := chatReq()
	req.Model = ""
	_, err := ledger.CallWithBilling(context.Background(), user, req, "chat", CallOptions{})
	require.NoError(t, err)

	usage, err := store.ListUsage(context.Background(), user.ID, 10)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, "gpt-4o-mini", usage[0].ModelUsed)
}

func TestStreamWithBillingAlwaysEstimates(t *testing.T) {
	store := database.NewMemoryStore()
	user := newTestUser(t, store, 500)

	provider := &fakeProvider{resp: &ChatResponse{
		Content: "streamed answer",
		// Even if a stream somehow carried usage, it is ignored.
		Usage: &Usage{PromptTokens: 999999, CompletionTokens: 999999},
	}}
	ledger := NewLedger(store, provider, logger.Nop(), "gpt-4o-mini")

	var deltas []string
	resp, err := ledger.StreamWithBilling(context.Background(), user, chatReq(), "chat_stream", func(d string) {
		deltas = append(deltas, d)
	}, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"streamed answer"}, deltas)
	assert.Equal(t, "streamed answer", resp.Content)

	usage, err := store.ListUsage(context.Background(), user.ID, 10)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.True(t, usage[0].Estimated)
	assert.Equal(t, estimateTokens(len("hello")), usage[0].TokensPrompt)
	assert.Equal(t, estimateTokens(len("streamed answer")), usage[0].TokensCompletion)
}

func TestCallWithBillingSurvivesClientDisconnect(t *testing.T) {
	// A disconnect cancels the request context, but the provider call and the
	// charge both run detached: the call completes and the cost lands.
	store := database.NewMemoryStore()
	user := newTestUser(t, store, 500)

	provider := &cancelSensitiveProvider{resp: &ChatResponse{
		Content: "answer",
		Usage:   &Usage{PromptTokens: 1000, CompletionTokens: 500},
	}}
	ledger := NewLedger(store, provider, logger.Nop(), "gpt-4o-mini")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := ledger.CallWithBilling(ctx, user, chatReq(), "chat", CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content)

	fresh, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 499, fresh.CreditBalance)

	usage, err := store.ListUsage(context.Background(), user.ID, 10)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.True(t, usage[0].Success)
	assert.Equal(t, 1, usage[0].CostCharged)
}

func TestStreamWithBillingSurvivesClientDisconnect(t *testing.T) {
	store := database.NewMemoryStore()
	user := newTestUser(t, store, 500)

	provider := &cancelSensitiveProvider{resp: &ChatResponse{Content: "streamed"}}
	ledger := NewLedger(store, provider, logger.Nop(), "gpt-4o-mini")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ledger.StreamWithBilling(ctx, user, chatReq(), "chat_stream", func(string) {}, CallOptions{})
	require.NoError(t, err)

	usage, err := store.ListUsage(context.Background(), user.ID, 10)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.True(t, usage[0].Success)
}

func TestChargeAppliesEvenBelowFloor(t *testing.T) {
	// Post-call charges are unconditional: the floor was enforced before the
	// provider was called, and the cost has already been incurred upstream.
	store := database.NewMemoryStore()
	user := newTestUser(t, store, 1)

	provider := &fakeProvider{resp: &ChatResponse{
		Content: "answer",
		Usage:   &Usage{PromptTokens: 10_000_000, CompletionTokens: 0},
	}}
	ledger := NewLedger(store, provider, logger.Nop(), "gpt-4o-mini")

	_, err := ledger.CallWithBilling(context.Background(), user, chatReq(), "chat", CallOptions{})
	require.NoError(t, err)

	fresh, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	// 10M prompt tokens @ 250/M = 2500; the balance goes negative.
	assert.Equal(t, 1-2500, fresh.CreditBalance)
}
