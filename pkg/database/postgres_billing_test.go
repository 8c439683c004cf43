package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enterprise-crm-backend/pkg/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

func chargeRecord(userID string) *models.AiUsageRecord {
	return &models.AiUsageRecord{
		UserID:           userID,
		OperationType:    "chat",
		ModelUsed:        "gpt-4o",
		TokensPrompt:     1000,
		TokensCompletion: 500,
		ProviderCost:     1,
		CostCharged:      1,
		Success:          true,
	}
}

func TestChargeCreditsDebitsAndAppendsInOneTx(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT credit_balance, credit_limit, overage_allowed, subscription_id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance", "credit_limit", "overage_allowed", "subscription_id"}).
			AddRow(500, 0, false, nil))
	mock.ExpectExec("UPDATE users SET credit_balance").
		WithArgs(499, "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO ai_usage_records").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("rec-1", time.Now()))
	mock.ExpectCommit()

	err := store.ChargeCredits(context.Background(), ChargeParams{
		UserID: "user-1",
		Cost:   1,
		Force:  true,
		Record: chargeRecord("user-1"),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeCreditsFloorGuardWithoutForce(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT credit_balance, credit_limit, overage_allowed, subscription_id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance", "credit_limit", "overage_allowed", "subscription_id"}).
			AddRow(0, 0, false, nil))
	mock.ExpectRollback()

	err := store.ChargeCredits(context.Background(), ChargeParams{
		UserID: "user-1",
		Cost:   5,
		Record: chargeRecord("user-1"),
	})
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeCreditsRollsBackWhenAppendFails(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT credit_balance, credit_limit, overage_allowed, subscription_id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance", "credit_limit", "overage_allowed", "subscription_id"}).
			AddRow(500, 0, false, nil))
	mock.ExpectExec("UPDATE users SET credit_balance").
		WithArgs(499, "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO ai_usage_records").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.ChargeCredits(context.Background(), ChargeParams{
		UserID: "user-1",
		Cost:   1,
		Force:  true,
		Record: chargeRecord("user-1"),
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeCreditsSkipBalanceStillAppends(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT credit_balance, credit_limit, overage_allowed, subscription_id").
		WithArgs("admin-1").
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance", "credit_limit", "overage_allowed", "subscription_id"}).
			AddRow(0, 0, false, nil))
	// No balance UPDATE expected.
	mock.ExpectQuery("INSERT INTO ai_usage_records").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("rec-1", time.Now()))
	mock.ExpectCommit()

	rec := chargeRecord("admin-1")
	rec.CostCharged = 0
	err := store.ChargeCredits(context.Background(), ChargeParams{
		UserID:      "admin-1",
		Cost:        1,
		SkipBalance: true,
		Force:       true,
		Record:      rec,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCreditEventFirstDelivery(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO credit_events").
		WithArgs("evt_1", "credits.granted", "user-1", 500).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("ce-1", time.Now()))
	mock.ExpectExec("UPDATE users SET credit_balance = credit_balance").
		WithArgs(500, "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := store.ApplyCreditEvent(context.Background(), &models.CreditEvent{
		EventID:   "evt_1",
		EventType: "credits.granted",
		UserID:    "user-1",
		Credits:   500,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCreditEventReplayIsNoOp(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	// ON CONFLICT DO NOTHING returns no row on a replay.
	mock.ExpectQuery("INSERT INTO credit_events").
		WithArgs("evt_1", "credits.granted", "user-1", 500).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
	mock.ExpectRollback()

	applied, err := store.ApplyCreditEvent(context.Background(), &models.CreditEvent{
		EventID:   "evt_1",
		EventType: "credits.granted",
		UserID:    "user-1",
		Credits:   500,
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
