package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"enterprise-crm-backend/pkg/models"
)

const membershipColumns = `id, enterprise_id, user_id, role, status, invited_by, invited_at, accepted_at, created_at, updated_at`

func scanMembership(row interface{ Scan(...interface{}) error }) (*models.TeamMembership, error) {
	var m models.TeamMembership
	var role, status string
	err := row.Scan(
		&m.ID, &m.EnterpriseID, &m.UserID, &role, &status,
		&m.InvitedBy, &m.InvitedAt, &m.AcceptedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Role = models.Role(role)
	m.Status = models.MembershipStatus(status)
	return &m, nil
}

// GetActiveMembership returns the active membership for (user, enterprise),
// or ErrNotFound.
func (s *PostgresStore) GetActiveMembership(ctx context.Context, userID, enterpriseID string) (*models.TeamMembership, error) {
	query := `SELECT ` + membershipColumns + `
		FROM team_memberships
		WHERE user_id = $1 AND enterprise_id = $2 AND status = 'active'`
	m, err := scanMembership(s.db.QueryRowContext(ctx, query, userID, enterpriseID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// GetMembership returns a membership by ID regardless of status.
func (s *PostgresStore) GetMembership(ctx context.Context, id string) (*models.TeamMembership, error) {
	query := `SELECT ` + membershipColumns + ` FROM team_memberships WHERE id = $1`
	m, err := scanMembership(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// ListActiveMembers lists the active memberships of an enterprise.
func (s *PostgresStore) ListActiveMembers(ctx context.Context, enterpriseID string) ([]models.TeamMembership, error) {
	query := `SELECT ` + membershipColumns + `
		FROM team_memberships
		WHERE enterprise_id = $1 AND status = 'active'
		ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, enterpriseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var result []models.TeamMembership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}

// CountActiveOwners counts active owner memberships of an enterprise.
func (s *PostgresStore) CountActiveOwners(ctx context.Context, enterpriseID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM team_memberships
		WHERE enterprise_id = $1 AND role = 'owner' AND status = 'active'
	`, enterpriseID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count owners: %w", err)
	}
	return n, nil
}

// lockEnterprise takes the enterprise row lock that serializes every
// owner-affecting mutation (claim, demotion, removal).
func lockEnterprise(ctx context.Context, tx *sql.Tx, enterpriseID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM enterprises WHERE id = $1 FOR UPDATE`, enterpriseID).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock enterprise: %w", err)
	}
	return nil
}

func countOwnersTx(ctx context.Context, tx *sql.Tx, enterpriseID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM team_memberships
		WHERE enterprise_id = $1 AND role = 'owner' AND status = 'active'
	`, enterpriseID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count owners: %w", err)
	}
	return n, nil
}

// UpdateMembershipRole changes a membership's role. Demoting the last active
// owner fails with ErrLastOwner; the count and the write share a transaction
// serialized on the enterprise row.
func (s *PostgresStore) UpdateMembershipRole(ctx context.Context, membershipID string, role models.Role) (*models.TeamMembership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanMembership(tx.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM team_memberships WHERE id = $1 FOR UPDATE`, membershipID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}

	if current.Role == models.RoleOwner && role != models.RoleOwner && current.Status == models.MembershipActive {
		if err := lockEnterprise(ctx, tx, current.EnterpriseID); err != nil {
			return nil, err
		}
		owners, err := countOwnersTx(ctx, tx, current.EnterpriseID)
		if err != nil {
			return nil, err
		}
		if owners <= 1 {
			return nil, ErrLastOwner
		}
	}

	updated, err := scanMembership(tx.QueryRowContext(ctx, `
		UPDATE team_memberships SET role = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING `+membershipColumns, string(role), membershipID))
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role change: %w", err)
	}
	return updated, nil
}

// DeactivateMembership soft-deletes a membership (status=inactive). Removing
// the last active owner fails with ErrLastOwner under the same lock discipline
// as role changes.
func (s *PostgresStore) DeactivateMembership(ctx context.Context, membershipID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanMembership(tx.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM team_memberships WHERE id = $1 FOR UPDATE`, membershipID))
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load membership: %w", err)
	}

	if current.Role == models.RoleOwner && current.Status == models.MembershipActive {
		if err := lockEnterprise(ctx, tx, current.EnterpriseID); err != nil {
			return err
		}
		owners, err := countOwnersTx(ctx, tx, current.EnterpriseID)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return ErrLastOwner
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE team_memberships SET status = 'inactive', updated_at = NOW() WHERE id = $1
	`, membershipID)
	if err != nil {
		return fmt.Errorf("failed to deactivate membership: %w", err)
	}
	return tx.Commit()
}

// ==== Invitations ====

const invitationColumns = `id, enterprise_id, email, role, inviter_id, token, status, expires_at, accepted_by, accepted_at, created_at, updated_at`

func scanInvitation(row interface{ Scan(...interface{}) error }) (*models.EnterpriseInvitation, error) {
	var inv models.EnterpriseInvitation
	var role, status string
	err := row.Scan(
		&inv.ID, &inv.EnterpriseID, &inv.Email, &role, &inv.InviterID, &inv.Token,
		&status, &inv.ExpiresAt, &inv.AcceptedBy, &inv.AcceptedAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Role = models.Role(role)
	inv.Status = models.InvitationStatus(status)
	return &inv, nil
}

// CreateInvitation inserts a pending invitation. A second pending invitation
// for the same (enterprise, email) hits the partial unique index and maps to
// ErrDuplicateInvitation.
func (s *PostgresStore) CreateInvitation(ctx context.Context, inv *models.EnterpriseInvitation) error {
	query := `
		INSERT INTO enterprise_invitations (enterprise_id, email, role, inviter_id, token, status, expires_at, created_at, updated_at)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		inv.EnterpriseID, inv.Email, string(inv.Role), inv.InviterID,
		inv.Token, string(inv.Status), inv.ExpiresAt,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "enterprise_invitations_pending_idx") {
			return ErrDuplicateInvitation
		}
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// GetInvitationByToken looks up an invitation by its opaque token.
func (s *PostgresStore) GetInvitationByToken(ctx context.Context, token string) (*models.EnterpriseInvitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM enterprise_invitations WHERE token = $1`
	inv, err := scanInvitation(s.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// GetInvitationByID looks up an invitation by ID.
func (s *PostgresStore) GetInvitationByID(ctx context.Context, id string) (*models.EnterpriseInvitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM enterprise_invitations WHERE id = $1`
	inv, err := scanInvitation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// ListInvitations lists an enterprise's invitations, newest first.
func (s *PostgresStore) ListInvitations(ctx context.Context, enterpriseID string) ([]models.EnterpriseInvitation, error) {
	query := `SELECT ` + invitationColumns + `
		FROM enterprise_invitations WHERE enterprise_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, enterpriseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var result []models.EnterpriseInvitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *inv)
	}
	return result, rows.Err()
}

// MarkInvitationExpired lazily flips a pending invitation to expired.
func (s *PostgresStore) MarkInvitationExpired(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE enterprise_invitations SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to expire invitation: %w", err)
	}
	return nil
}

// CancelInvitation flips a pending invitation to cancelled.
func (s *PostgresStore) CancelInvitation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enterprise_invitations SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel invitation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

// AcceptInvitation marks the invitation accepted and upserts the active
// membership in one transaction. The status guard in the UPDATE makes a
// concurrent double-accept lose cleanly with ErrAlreadyProcessed.
func (s *PostgresStore) AcceptInvitation(ctx context.Context, invitationID, userID string, membership *models.TeamMembership) (*models.TeamMembership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE enterprise_invitations
		SET status = 'accepted', accepted_by = $1, accepted_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`, userID, invitationID)
	if err != nil {
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrAlreadyProcessed
	}

	// Idempotent re-accept of a stale link: keep the existing membership.
	existing, err := scanMembership(tx.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM team_memberships
		 WHERE user_id = $1 AND enterprise_id = $2 AND status = 'active'`,
		userID, membership.EnterpriseID))
	if err == nil {
		if commitErr := tx.Commit(); commitErr != nil {
			return nil, fmt.Errorf("failed to commit accept: %w", commitErr)
		}
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check existing membership: %w", err)
	}

	created, err := scanMembership(tx.QueryRowContext(ctx, `
		INSERT INTO team_memberships (enterprise_id, user_id, role, status, invited_by, invited_at, accepted_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'active', $4, $5, NOW(), NOW(), NOW())
		RETURNING `+membershipColumns,
		membership.EnterpriseID, userID, string(membership.Role), membership.InvitedBy, membership.InvitedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit accept: %w", err)
	}
	return created, nil
}

// ExpirePendingInvitations is the housekeeping sweep; correctness never
// depends on it because expiry is also applied lazily on read.
func (s *PostgresStore) ExpirePendingInvitations(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enterprise_invitations SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep invitations: %w", err)
	}
	return res.RowsAffected()
}
