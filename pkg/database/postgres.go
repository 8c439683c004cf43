package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"enterprise-crm-backend/pkg/models"
)

// PostgresStore implements Store on PostgreSQL. All multi-row invariants
// (claim barrier, last-owner guard, charge-and-log) are enforced here inside
// single transactions with row locks on the owning aggregate: the enterprise
// row for ownership mutations, the user row for balance mutations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against the given DSN and verifies
// it with a ping.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection; used by tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// HealthCheck pings the database.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a violation of the named unique
// constraint. An empty name matches any unique violation.
func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// ==== Users ====

const userColumns = `id, email, COALESCE(password_hash,''), COALESCE(name,''), platform_role, plan,
	credit_balance, credit_limit, overage_allowed, claimed_profiles, subscription_id, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var u models.User
	var platformRole, plan string
	err := row.Scan(
		&u.ID, &u.Email, &u.Password, &u.Name, &platformRole, &plan,
		&u.CreditBalance, &u.CreditLimit, &u.OverageAllowed, &u.ClaimedProfiles,
		&u.SubscriptionID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.PlatformRole = models.PlatformRole(platformRole)
	u.Plan = models.PlanType(plan)
	return &u, nil
}

// CreateUser inserts a new account with default platform role and plan.
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.PlatformRole == "" {
		user.PlatformRole = models.PlatformMember
	}
	if user.Plan == "" {
		user.Plan = models.PlanFree
	}
	query := `
		INSERT INTO users (email, password_hash, name, platform_role, plan, credit_balance, credit_limit, overage_allowed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		strings.ToLower(user.Email), user.Password, user.Name,
		string(user.PlatformRole), string(user.Plan),
		user.CreditBalance, user.CreditLimit, user.OverageAllowed,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByEmail looks up an account by email, case-insensitively.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return u, nil
}

// GetUserByID looks up an account by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ==== Enterprises ====

// CreateEnterprise inserts an enterprise and, when creatorID is set, an active
// owner membership for the creator in the same transaction.
func (s *PostgresStore) CreateEnterprise(ctx context.Context, e *models.Enterprise, creatorID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO enterprises (name, contact_email, created_at, updated_at)
		VALUES ($1, LOWER($2), NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, e.Name, e.ContactEmail).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create enterprise: %w", err)
	}

	if creatorID != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO team_memberships (enterprise_id, user_id, role, status, accepted_at, created_at, updated_at)
			VALUES ($1, $2, 'owner', 'active', NOW(), NOW(), NOW())
		`, e.ID, creatorID)
		if err != nil {
			return fmt.Errorf("failed to add creator membership: %w", err)
		}
	}
	return tx.Commit()
}

// GetEnterprise looks up an enterprise by ID.
func (s *PostgresStore) GetEnterprise(ctx context.Context, id string) (*models.Enterprise, error) {
	var e models.Enterprise
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(contact_email,''), created_at, updated_at
		FROM enterprises WHERE id = $1
	`, id).Scan(&e.ID, &e.Name, &e.ContactEmail, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get enterprise: %w", err)
	}
	return &e, nil
}
