package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enterprise-crm-backend/pkg/models"
)

func membershipRow(id, enterpriseID, userID string, role models.Role) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "enterprise_id", "user_id", "role", "status",
		"invited_by", "invited_at", "accepted_at", "created_at", "updated_at",
	}).AddRow(id, enterpriseID, userID, string(role), "active", nil, nil, now, now, now)
}

func TestClaimOwnershipGrantsOwner(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM enterprises WHERE id = .+ FOR UPDATE").
		WithArgs("ent-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ent-1"))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("ent-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT claimed_profiles FROM users").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"claimed_profiles"}).AddRow(0))
	mock.ExpectQuery("INSERT INTO team_memberships").
		WithArgs("ent-1", "user-1").
		WillReturnRows(membershipRow("m-1", "ent-1", "user-1", models.RoleOwner))
	mock.ExpectExec("UPDATE users").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m, err := store.ClaimOwnership(context.Background(), ClaimOwnershipParams{
		EnterpriseID: "ent-1",
		UserID:       "user-1",
		MaxClaims:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, m.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimOwnershipAlreadyClaimed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM enterprises WHERE id = .+ FOR UPDATE").
		WithArgs("ent-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ent-1"))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("ent-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := store.ClaimOwnership(context.Background(), ClaimOwnershipParams{
		EnterpriseID: "ent-1",
		UserID:       "user-1",
		MaxClaims:    1,
	})
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimOwnershipQuotaExceeded(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM enterprises WHERE id = .+ FOR UPDATE").
		WithArgs("ent-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ent-1"))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("ent-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT claimed_profiles FROM users").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"claimed_profiles"}).AddRow(1))
	mock.ExpectRollback()

	_, err := store.ClaimOwnership(context.Background(), ClaimOwnershipParams{
		EnterpriseID: "ent-1",
		UserID:       "user-1",
		MaxClaims:    1,
	})
	assert.ErrorIs(t, err, ErrClaimLimit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMembershipRoleLastOwnerGuard(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, enterprise_id, user_id, role, status,").
		WithArgs("m-1").
		WillReturnRows(membershipRow("m-1", "ent-1", "user-1", models.RoleOwner))
	mock.ExpectQuery("SELECT id FROM enterprises WHERE id = .+ FOR UPDATE").
		WithArgs("ent-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ent-1"))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("ent-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := store.UpdateMembershipRole(context.Background(), "m-1", models.RoleAdmin)
	assert.ErrorIs(t, err, ErrLastOwner)
	assert.NoError(t, mock.ExpectationsWereMet())
}
