package team

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

// Invitation-flow and membership errors surfaced to handlers.
var (
	ErrAlreadyMember     = errors.New("email already belongs to an active member")
	ErrEmailMismatch     = errors.New("invitation was issued for a different email")
	ErrExpired           = errors.New("invitation has expired")
	ErrCrossTenant       = errors.New("invitation belongs to a different enterprise")
	ErrOwnerNotInvitable = errors.New("the owner role cannot be granted by invitation")
	ErrInvalidRole       = errors.New("unknown role")
	ErrCannotGrant       = errors.New("acting role cannot grant the requested role")
)

// invitationTTL is how long an invitation token stays acceptable.
const invitationTTL = 7 * 24 * time.Hour

// Service owns the membership directory and the invitation lifecycle. All
// membership rows are mutated here or in the claims service, never by entity
// CRUD code.
type Service struct {
	store    database.Store
	notifier notify.Notifier
	log      *logger.Logger
	baseURL  string
}

// NewService creates the team service.
func NewService(store database.Store, notifier notify.Notifier, log *logger.Logger, baseURL string) *Service {
	return &Service{store: store, notifier: notifier, log: log, baseURL: baseURL}
}

// RoleOf resolves the caller's active role in an enterprise. ok is false when
// no active membership exists. Platform-admin bypass is not applied here; the
// access gate owns that.
func (s *Service) RoleOf(ctx context.Context, userID, enterpriseID string) (models.Role, bool, error) {
	m, err := s.store.GetActiveMembership(ctx, userID, enterpriseID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return m.Role, true, nil
}

// ListMembers lists the active members of an enterprise.
func (s *Service) ListMembers(ctx context.Context, enterpriseID string) ([]models.TeamMembership, error) {
	return s.store.ListActiveMembers(ctx, enterpriseID)
}

// CountActiveOwners reports how many active owners an enterprise has.
func (s *Service) CountActiveOwners(ctx context.Context, enterpriseID string) (int, error) {
	return s.store.CountActiveOwners(ctx, enterpriseID)
}

// Invite issues a pending invitation and dispatches the notification mail.
// The owner role is rejected up front; ownership is only reachable through
// the claim flow or promotion by an existing owner.
func (s *Service) Invite(ctx context.Context, enterpriseID, email string, role models.Role, inviterID string) (*models.EnterpriseInvitation, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if role == models.RoleOwner {
		return nil, ErrOwnerNotInvitable
	}

	// Reject if the email already resolves to an active member.
	if existing, err := s.store.GetUserByEmail(ctx, email); err == nil {
		if _, member, err := s.RoleOf(ctx, existing.ID, enterpriseID); err != nil {
			return nil, err
		} else if member {
			return nil, ErrAlreadyMember
		}
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	token, err := utils.GenerateURLToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	inv := &models.EnterpriseInvitation{
		EnterpriseID: enterpriseID,
		Email:        email,
		Role:         role,
		InviterID:    inviterID,
		Token:        token,
		Status:       models.InvitationPending,
		ExpiresAt:    time.Now().Add(invitationTTL),
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}

	// Fire-and-forget; a delivery failure never fails the invitation.
	s.notifier.Send(ctx, notify.Message{
		To:      inv.Email,
		Subject: "You have been invited to join a team",
		Body:    fmt.Sprintf("Accept your invitation: %s/team/invitations/accept/%s", s.baseURL, token),
	})

	s.log.Infow("invitation created",
		"enterprise_id", enterpriseID, "role", string(role), "inviter_id", inviterID)
	return inv, nil
}

// AcceptInvitation consumes an invitation token for the authenticated user.
// Checks run in order; the first failure wins. A re-accept of a stale link by
// an existing member is idempotent and returns the existing membership.
func (s *Service) AcceptInvitation(ctx context.Context, token string, user *models.User) (*models.TeamMembership, error) {
	inv, err := s.store.GetInvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.Status != models.InvitationPending {
		return nil, database.ErrAlreadyProcessed
	}
	if inv.Expired(time.Now()) {
		if err := s.store.MarkInvitationExpired(ctx, inv.ID); err != nil {
			s.log.Warnw("failed to mark invitation expired", "invitation_id", inv.ID, "error", err)
		}
		return nil, ErrExpired
	}
	if !strings.EqualFold(inv.Email, user.Email) {
		return nil, ErrEmailMismatch
	}

	now := time.Now()
	membership, err := s.store.AcceptInvitation(ctx, inv.ID, user.ID, &models.TeamMembership{
		EnterpriseID: inv.EnterpriseID,
		Role:         inv.Role,
		InvitedBy:    &inv.InviterID,
		InvitedAt:    &inv.CreatedAt,
		AcceptedAt:   &now,
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("invitation accepted",
		"enterprise_id", inv.EnterpriseID, "user_id", user.ID, "role", string(membership.Role))
	return membership, nil
}

// CancelInvitation cancels a pending invitation. The admin-or-above check is
// applied by the route's access gate; this enforces the tenant boundary.
func (s *Service) CancelInvitation(ctx context.Context, invitationID, enterpriseID string) error {
	inv, err := s.store.GetInvitationByID(ctx, invitationID)
	if err != nil {
		return err
	}
	if inv.EnterpriseID != enterpriseID {
		return ErrCrossTenant
	}
	return s.store.CancelInvitation(ctx, invitationID)
}

// ListInvitations lists an enterprise's invitations, applying lazy expiry to
// any pending ones past their deadline before returning.
func (s *Service) ListInvitations(ctx context.Context, enterpriseID string) ([]models.EnterpriseInvitation, error) {
	invs, err := s.store.ListInvitations(ctx, enterpriseID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range invs {
		if invs[i].Status == models.InvitationPending && invs[i].Expired(now) {
			if err := s.store.MarkInvitationExpired(ctx, invs[i].ID); err != nil {
				s.log.Warnw("failed to mark invitation expired", "invitation_id", invs[i].ID, "error", err)
				continue
			}
			invs[i].Status = models.InvitationExpired
		}
	}
	return invs, nil
}

// ChangeMemberRole updates a member's role. The actor may only grant a role
// at or below their own rank, and only an owner may grant or revoke the owner
// role; the last-owner invariant is enforced atomically by the store.
func (s *Service) ChangeMemberRole(ctx context.Context, enterpriseID, membershipID string, newRole, actorRole models.Role) (*models.TeamMembership, error) {
	if !newRole.Valid() {
		return nil, ErrInvalidRole
	}
	current, err := s.store.GetMembership(ctx, membershipID)
	if err != nil {
		return nil, err
	}
	if current.EnterpriseID != enterpriseID {
		return nil, database.ErrNotFound
	}
	if !actorRole.CanGrant(newRole) {
		return nil, ErrCannotGrant
	}
	// Revoking the owner role is owner-only, like granting it.
	if current.Role == models.RoleOwner && actorRole != models.RoleOwner {
		return nil, ErrCannotGrant
	}

	updated, err := s.store.UpdateMembershipRole(ctx, membershipID, newRole)
	if err != nil {
		return nil, err
	}
	s.log.Audit("member role changed",
		"enterprise_id", enterpriseID, "membership_id", membershipID,
		"from", string(current.Role), "to", string(newRole))
	return updated, nil
}

// RemoveMember soft-deletes a membership (status becomes inactive, the row
// survives for audit history). Removing an owner is owner-only and the store
// refuses to remove the last one.
func (s *Service) RemoveMember(ctx context.Context, enterpriseID, membershipID string, actorRole models.Role) error {
	current, err := s.store.GetMembership(ctx, membershipID)
	if err != nil {
		return err
	}
	if current.EnterpriseID != enterpriseID {
		return database.ErrNotFound
	}
	if current.Role == models.RoleOwner && actorRole != models.RoleOwner {
		return ErrCannotGrant
	}

	if err := s.store.DeactivateMembership(ctx, membershipID); err != nil {
		return err
	}
	s.log.Audit("member removed",
		"enterprise_id", enterpriseID, "membership_id", membershipID, "role", string(current.Role))
	return nil
}
