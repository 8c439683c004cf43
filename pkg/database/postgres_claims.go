package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"enterprise-crm-backend/pkg/models"
)

const claimColumns = `id, enterprise_id, claim_token, invited_email, COALESCE(invited_name,''), invited_by, status, expires_at, accepted_by, accepted_at, created_at, updated_at`

func scanClaim(row interface{ Scan(...interface{}) error }) (*models.ProfileClaim, error) {
	var c models.ProfileClaim
	var status string
	err := row.Scan(
		&c.ID, &c.EnterpriseID, &c.ClaimToken, &c.InvitedEmail, &c.InvitedName, &c.InvitedBy,
		&status, &c.ExpiresAt, &c.AcceptedBy, &c.AcceptedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = models.ClaimStatus(status)
	return &c, nil
}

// CreateClaim inserts a pending profile claim token.
func (s *PostgresStore) CreateClaim(ctx context.Context, c *models.ProfileClaim) error {
	query := `
		INSERT INTO profile_claims (enterprise_id, claim_token, invited_email, invited_name, invited_by, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		c.EnterpriseID, c.ClaimToken, c.InvitedEmail, c.InvitedName, c.InvitedBy,
		string(c.Status), c.ExpiresAt,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create claim: %w", err)
	}
	return nil
}

// GetClaimByToken looks up a claim by its opaque token.
func (s *PostgresStore) GetClaimByToken(ctx context.Context, token string) (*models.ProfileClaim, error) {
	query := `SELECT ` + claimColumns + ` FROM profile_claims WHERE claim_token = $1`
	c, err := scanClaim(s.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return c, nil
}

// MarkClaimExpired lazily flips a pending claim to expired.
func (s *PostgresStore) MarkClaimExpired(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profile_claims SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to expire claim: %w", err)
	}
	return nil
}

// ClaimOwnership is the success barrier shared by the token and direct claim
// paths. The enterprise row lock serializes concurrent claimants, so the
// zero-owner check and the owner-membership insert cannot interleave: of two
// simultaneous claims exactly one commits, the other sees ErrAlreadyClaimed.
func (s *PostgresStore) ClaimOwnership(ctx context.Context, p ClaimOwnershipParams) (*models.TeamMembership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockEnterprise(ctx, tx, p.EnterpriseID); err != nil {
		return nil, err
	}

	owners, err := countOwnersTx(ctx, tx, p.EnterpriseID)
	if err != nil {
		return nil, err
	}
	if owners > 0 {
		return nil, ErrAlreadyClaimed
	}

	// Quota check under the user row lock, so two in-flight claims by the
	// same free-plan account cannot both pass.
	var claimed int
	err = tx.QueryRowContext(ctx,
		`SELECT claimed_profiles FROM users WHERE id = $1 FOR UPDATE`, p.UserID).Scan(&claimed)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	if claimed >= p.MaxClaims {
		return nil, ErrClaimLimit
	}

	membership, err := scanMembership(tx.QueryRowContext(ctx, `
		INSERT INTO team_memberships (enterprise_id, user_id, role, status, accepted_at, created_at, updated_at)
		VALUES ($1, $2, 'owner', 'active', NOW(), NOW(), NOW())
		RETURNING `+membershipColumns, p.EnterpriseID, p.UserID))
	if err != nil {
		if isUniqueViolation(err, "team_memberships_active_idx") {
			return nil, ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to create owner membership: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET claimed_profiles = claimed_profiles + 1,
		    platform_role = CASE WHEN platform_role IN ('visitor', 'member')
		                         THEN 'enterprise_owner' ELSE platform_role END,
		    updated_at = NOW()
		WHERE id = $1
	`, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to update claimant account: %w", err)
	}

	if p.ClaimID != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE profile_claims
			SET status = 'accepted', accepted_by = $1, accepted_at = NOW(), updated_at = NOW()
			WHERE id = $2 AND status = 'pending'
		`, p.UserID, *p.ClaimID)
		if err != nil {
			return nil, fmt.Errorf("failed to accept claim: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrAlreadyProcessed
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return membership, nil
}

// ExpirePendingClaims is the housekeeping sweep for claim tokens.
func (s *PostgresStore) ExpirePendingClaims(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profile_claims SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep claims: %w", err)
	}
	return res.RowsAffected()
}
