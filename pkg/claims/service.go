package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"enterprise-crm-backend/pkg/database"
	"enterprise-crm-backend/pkg/logger"
	"enterprise-crm-backend/pkg/models"
	"enterprise-crm-backend/pkg/notify"
	"enterprise-crm-backend/pkg/utils"
)

// Claim-flow errors surfaced to handlers.
var (
	ErrEmailMismatch = errors.New("claim was issued for a different email")
	ErrExpired       = errors.New("claim has expired")
	// ErrVerificationRequired means the caller's account email does not match
	// the enterprise's listed contact email. That equality is the sole trust
	// anchor of the tokenless path and must not be weakened.
	ErrVerificationRequired = errors.New("account email does not match the enterprise contact email")
)

// claimTTL is how long a mailed claim token stays acceptable.
const claimTTL = 7 * 24 * time.Hour

// Service owns the profile-claim lifecycle: mailed claim tokens and the
// tokenless direct claim. Both paths funnel through the store's single claim
// transaction, so an enterprise has at most one claim path succeed.
type Service struct {
	store    database.Store
	notifier notify.Notifier
	log      *logger.Logger
	baseURL  string
}

// NewService creates the claims service.
func NewService(store database.Store, notifier notify.Notifier, log *logger.Logger, baseURL string) *Service {
	return &Service{store: store, notifier: notifier, log: log, baseURL: baseURL}
}

// CreateClaimInvite issues a mailed claim token for an unclaimed enterprise.
func (s *Service) CreateClaimInvite(ctx context.Context, enterpriseID, email, name, invitedBy string) (*models.ProfileClaim, error) {
	if _, err := s.store.GetEnterprise(ctx, enterpriseID); err != nil {
		return nil, err
	}
	owners, err := s.store.CountActiveOwners(ctx, enterpriseID)
	if err != nil {
		return nil, err
	}
	if owners > 0 {
		return nil, database.ErrAlreadyClaimed
	}

	token, err := utils.GenerateURLToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate claim token: %w", err)
	}

	claim := &models.ProfileClaim{
		EnterpriseID: enterpriseID,
		ClaimToken:   token,
		InvitedEmail: email,
		InvitedName:  name,
		InvitedBy:    invitedBy,
		Status:       models.ClaimPending,
		ExpiresAt:    time.Now().Add(claimTTL),
	}
	if err := s.store.CreateClaim(ctx, claim); err != nil {
		return nil, err
	}

	s.notifier.Send(ctx, notify.Message{
		To:      claim.InvitedEmail,
		Subject: "Claim your enterprise profile",
		Body:    fmt.Sprintf("Claim your profile: %s/claim-profile?token=%s", s.baseURL, token),
	})

	s.log.Infow("claim invite created", "enterprise_id", enterpriseID, "invited_by", invitedBy)
	return claim, nil
}

// AcceptClaimToken consumes a mailed claim token and grants ownership. The
// check order mirrors invitation accept; the ownership grant itself runs in
// the store's claim transaction.
func (s *Service) AcceptClaimToken(ctx context.Context, token string, user *models.User) (*models.TeamMembership, error) {
	claim, err := s.store.GetClaimByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if claim.Status != models.ClaimPending {
		return nil, database.ErrAlreadyProcessed
	}
	if claim.Expired(time.Now()) {
		if err := s.store.MarkClaimExpired(ctx, claim.ID); err != nil {
			s.log.Warnw("failed to mark claim expired", "claim_id", claim.ID, "error", err)
		}
		return nil, ErrExpired
	}
	if !strings.EqualFold(claim.InvitedEmail, user.Email) {
		return nil, ErrEmailMismatch
	}

	membership, err := s.store.ClaimOwnership(ctx, database.ClaimOwnershipParams{
		EnterpriseID: claim.EnterpriseID,
		UserID:       user.ID,
		ClaimID:      &claim.ID,
		MaxClaims:    user.Plan.MaxClaims(),
	})
	if err != nil {
		return nil, err
	}

	s.log.Audit("enterprise claimed via token",
		"enterprise_id", claim.EnterpriseID, "user_id", user.ID)
	return membership, nil
}

// ClaimDirect is the tokenless self-service claim. Preconditions are checked
// in order and the first failure wins; the zero-owner check is re-verified
// inside the claim transaction, so two simultaneous claimants cannot both
// succeed.
func (s *Service) ClaimDirect(ctx context.Context, enterpriseID string, user *models.User) (*models.TeamMembership, error) {
	enterprise, err := s.store.GetEnterprise(ctx, enterpriseID)
	if err != nil {
		return nil, err
	}

	owners, err := s.store.CountActiveOwners(ctx, enterpriseID)
	if err != nil {
		return nil, err
	}
	if owners > 0 {
		return nil, database.ErrAlreadyClaimed
	}

	if enterprise.ContactEmail == "" || !strings.EqualFold(enterprise.ContactEmail, user.Email) {
		return nil, ErrVerificationRequired
	}

	if user.ClaimedProfiles >= user.Plan.MaxClaims() {
		return nil, database.ErrClaimLimit
	}

	membership, err := s.store.ClaimOwnership(ctx, database.ClaimOwnershipParams{
		EnterpriseID: enterpriseID,
		UserID:       user.ID,
		MaxClaims:    user.Plan.MaxClaims(),
	})
	if err != nil {
		return nil, err
	}

	s.log.Audit("enterprise claimed directly",
		"enterprise_id", enterpriseID, "user_id", user.ID)
	return membership, nil
}
