package database

import (
	"context"
	"errors"
	"time"

	"enterprise-crm-backend/pkg/models"
)

// Storage-level sentinel errors. Services and handlers match these with
// errors.Is and translate them into the HTTP taxonomy.
var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateEmail      = errors.New("email already registered")
	ErrDuplicateInvitation = errors.New("a pending invitation already exists for this email")
	ErrAlreadyClaimed      = errors.New("enterprise already has an active owner")
	ErrClaimLimit          = errors.New("claimed profile limit reached for plan")
	ErrLastOwner           = errors.New("enterprise must retain at least one active owner")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAlreadyProcessed    = errors.New("token already processed")
)

// ClaimOwnershipParams drives the atomic claim transaction. ClaimID is set for
// the token path and nil for direct claims; both share the same barrier.
type ClaimOwnershipParams struct {
	EnterpriseID string
	UserID       string
	ClaimID      *string
	MaxClaims    int
}

// ChargeParams drives the atomic charge-and-log transaction. SkipBalance is
// set for platform admins, who get a ledger row but no balance write. Force
// skips the floor guard: a post-call charge applies unconditionally because
// the provider cost was already incurred; the pre-call check is the
// enforcement point for the floor.
type ChargeParams struct {
	UserID      string
	Cost        int
	SkipBalance bool
	Force       bool
	Record      *models.AiUsageRecord
}

// Store is the single source of truth for all durable control-plane state.
// Implementations must make ClaimOwnership, ChargeCredits, AcceptInvitation,
// UpdateMembershipRole and DeactivateMembership atomic with respect to
// concurrent writers on the same aggregate.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// Enterprises
	CreateEnterprise(ctx context.Context, e *models.Enterprise, creatorID string) error
	GetEnterprise(ctx context.Context, id string) (*models.Enterprise, error)

	// Membership directory
	GetActiveMembership(ctx context.Context, userID, enterpriseID string) (*models.TeamMembership, error)
	GetMembership(ctx context.Context, id string) (*models.TeamMembership, error)
	ListActiveMembers(ctx context.Context, enterpriseID string) ([]models.TeamMembership, error)
	CountActiveOwners(ctx context.Context, enterpriseID string) (int, error)
	// UpdateMembershipRole and DeactivateMembership enforce the last-owner
	// invariant inside their transaction and fail with ErrLastOwner.
	UpdateMembershipRole(ctx context.Context, membershipID string, role models.Role) (*models.TeamMembership, error)
	DeactivateMembership(ctx context.Context, membershipID string) error

	// Invitations
	CreateInvitation(ctx context.Context, inv *models.EnterpriseInvitation) error
	GetInvitationByToken(ctx context.Context, token string) (*models.EnterpriseInvitation, error)
	GetInvitationByID(ctx context.Context, id string) (*models.EnterpriseInvitation, error)
	ListInvitations(ctx context.Context, enterpriseID string) ([]models.EnterpriseInvitation, error)
	MarkInvitationExpired(ctx context.Context, id string) error
	CancelInvitation(ctx context.Context, id string) error
	// AcceptInvitation flips the invitation to accepted and upserts the active
	// membership in one transaction.
	AcceptInvitation(ctx context.Context, invitationID, userID string, membership *models.TeamMembership) (*models.TeamMembership, error)
	ExpirePendingInvitations(ctx context.Context, now time.Time) (int64, error)

	// Profile claims
	CreateClaim(ctx context.Context, c *models.ProfileClaim) error
	GetClaimByToken(ctx context.Context, token string) (*models.ProfileClaim, error)
	MarkClaimExpired(ctx context.Context, id string) error
	// ClaimOwnership is the single success barrier for both claim paths: it
	// verifies zero active owners under a row lock, creates the owner
	// membership, bumps the claimant's counters and promotes their platform
	// role, all in one transaction.
	ClaimOwnership(ctx context.Context, p ClaimOwnershipParams) (*models.TeamMembership, error)
	ExpirePendingClaims(ctx context.Context, now time.Time) (int64, error)

	// Credit ledger
	ChargeCredits(ctx context.Context, p ChargeParams) error
	AppendUsage(ctx context.Context, rec *models.AiUsageRecord) error
	// ApplyCreditEvent increments the balance for a processor event exactly
	// once; replays return applied=false.
	ApplyCreditEvent(ctx context.Context, ev *models.CreditEvent) (applied bool, err error)
	ListUsage(ctx context.Context, userID string, limit int) ([]models.AiUsageRecord, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
