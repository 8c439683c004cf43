package database

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"enterprise-crm-backend/pkg/models"
)

// MemoryStore is an in-memory Store used by tests and local development. A
// single mutex stands in for the row locks of the Postgres implementation, so
// the atomicity semantics the services rely on hold here too.
type MemoryStore struct {
	mu sync.Mutex

	users        map[string]*models.User
	enterprises  map[string]*models.Enterprise
	memberships  map[string]*models.TeamMembership
	invitations  map[string]*models.EnterpriseInvitation
	claims       map[string]*models.ProfileClaim
	usage        []models.AiUsageRecord
	creditEvents map[string]*models.CreditEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]*models.User),
		enterprises:  make(map[string]*models.Enterprise),
		memberships:  make(map[string]*models.TeamMembership),
		invitations:  make(map[string]*models.EnterpriseInvitation),
		claims:       make(map[string]*models.ProfileClaim),
		creditEvents: make(map[string]*models.CreditEvent),
	}
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                          { return nil }

// ==== Users ====

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.PlatformRole == "" {
		user.PlatformRole = models.PlatformMember
	}
	if user.Plan == "" {
		user.Plan = models.PlanFree
	}
	user.Email = strings.ToLower(user.Email)
	for _, u := range s.users {
		if u.Email == user.Email {
			return ErrDuplicateEmail
		}
	}
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// ==== Enterprises ====

func (s *MemoryStore) CreateEnterprise(ctx context.Context, e *models.Enterprise, creatorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.ContactEmail = strings.ToLower(e.ContactEmail)
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	cp := *e
	s.enterprises[e.ID] = &cp

	if creatorID != "" {
		s.insertMembership(&models.TeamMembership{
			EnterpriseID: e.ID,
			UserID:       creatorID,
			Role:         models.RoleOwner,
			Status:       models.MembershipActive,
			AcceptedAt:   &now,
		})
	}
	return nil
}

func (s *MemoryStore) GetEnterprise(ctx context.Context, id string) (*models.Enterprise, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enterprises[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// ==== Memberships ====

// insertMembership assumes the lock is held.
func (s *MemoryStore) insertMembership(m *models.TeamMembership) *models.TeamMembership {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now()
	m.CreatedAt, m.UpdatedAt = now, now
	cp := *m
	s.memberships[m.ID] = &cp
	return m
}

// activeMembership assumes the lock is held.
func (s *MemoryStore) activeMembership(userID, enterpriseID string) *models.TeamMembership {
	for _, m := range s.memberships {
		if m.UserID == userID && m.EnterpriseID == enterpriseID && m.Status == models.MembershipActive {
			return m
		}
	}
	return nil
}

// countOwners assumes the lock is held.
func (s *MemoryStore) countOwners(enterpriseID string) int {
	n := 0
	for _, m := range s.memberships {
		if m.EnterpriseID == enterpriseID && m.Role == models.RoleOwner && m.Status == models.MembershipActive {
			n++
		}
	}
	return n
}

func (s *MemoryStore) GetActiveMembership(ctx context.Context, userID, enterpriseID string) (*models.TeamMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.activeMembership(userID, enterpriseID); m != nil {
		cp := *m
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetMembership(ctx context.Context, id string) (*models.TeamMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListActiveMembers(ctx context.Context, enterpriseID string) ([]models.TeamMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.TeamMembership
	for _, m := range s.memberships {
		if m.EnterpriseID == enterpriseID && m.Status == models.MembershipActive {
			result = append(result, *m)
		}
	}
	return result, nil
}

func (s *MemoryStore) CountActiveOwners(ctx context.Context, enterpriseID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countOwners(enterpriseID), nil
}

func (s *MemoryStore) UpdateMembershipRole(ctx context.Context, membershipID string, role models.Role) (*models.TeamMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[membershipID]
	if !ok {
		return nil, ErrNotFound
	}
	if m.Role == models.RoleOwner && role != models.RoleOwner && m.Status == models.MembershipActive {
		if s.countOwners(m.EnterpriseID) <= 1 {
			return nil, ErrLastOwner
		}
	}
	m.Role = role
	m.UpdatedAt = time.Now()
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) DeactivateMembership(ctx context.Context, membershipID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[membershipID]
	if !ok {
		return ErrNotFound
	}
	if m.Role == models.RoleOwner && m.Status == models.MembershipActive {
		if s.countOwners(m.EnterpriseID) <= 1 {
			return ErrLastOwner
		}
	}
	m.Status = models.MembershipInactive
	m.UpdatedAt = time.Now()
	return nil
}

// ==== Invitations ====

func (s *MemoryStore) CreateInvitation(ctx context.Context, inv *models.EnterpriseInvitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.invitations {
		if existing.EnterpriseID == inv.EnterpriseID &&
			strings.EqualFold(existing.Email, inv.Email) &&
			existing.Status == models.InvitationPending {
			return ErrDuplicateInvitation
		}
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.Email = strings.ToLower(inv.Email)
	now := time.Now()
	inv.CreatedAt, inv.UpdatedAt = now, now
	cp := *inv
	s.invitations[inv.ID] = &cp
	return nil
}

func (s *MemoryStore) GetInvitationByToken(ctx context.Context, token string) (*models.EnterpriseInvitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invitations {
		if inv.Token == token {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetInvitationByID(ctx context.Context, id string) (*models.EnterpriseInvitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *MemoryStore) ListInvitations(ctx context.Context, enterpriseID string) ([]models.EnterpriseInvitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.EnterpriseInvitation
	for _, inv := range s.invitations {
		if inv.EnterpriseID == enterpriseID {
			result = append(result, *inv)
		}
	}
	return result, nil
}

func (s *MemoryStore) MarkInvitationExpired(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv, ok := s.invitations[id]; ok && inv.Status == models.InvitationPending {
		inv.Status = models.InvitationExpired
		inv.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) CancelInvitation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Status != models.InvitationPending {
		return ErrAlreadyProcessed
	}
	inv.Status = models.InvitationCancelled
	inv.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) AcceptInvitation(ctx context.Context, invitationID, userID string, membership *models.TeamMembership) (*models.TeamMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[invitationID]
	if !ok {
		return nil, ErrNotFound
	}
	if inv.Status != models.InvitationPending {
		return nil, ErrAlreadyProcessed
	}
	now := time.Now()
	inv.Status = models.InvitationAccepted
	inv.AcceptedBy = &userID
	inv.AcceptedAt = &now
	inv.UpdatedAt = now

	if existing := s.activeMembership(userID, membership.EnterpriseID); existing != nil {
		cp := *existing
		return &cp, nil
	}

	m := &models.TeamMembership{
		EnterpriseID: membership.EnterpriseID,
		UserID:       userID,
		Role:         membership.Role,
		Status:       models.MembershipActive,
		InvitedBy:    membership.InvitedBy,
		InvitedAt:    membership.InvitedAt,
		AcceptedAt:   &now,
	}
	s.insertMembership(m)
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ExpirePendingInvitations(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, inv := range s.invitations {
		if inv.Status == models.InvitationPending && now.After(inv.ExpiresAt) {
			inv.Status = models.InvitationExpired
			inv.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// ==== Claims ====

func (s *MemoryStore) CreateClaim(ctx context.Context, c *models.ProfileClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.InvitedEmail = strings.ToLower(c.InvitedEmail)
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	s.claims[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetClaimByToken(ctx context.Context, token string) (*models.ProfileClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.claims {
		if c.ClaimToken == token {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) MarkClaimExpired(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.claims[id]; ok && c.Status == models.ClaimPending {
		c.Status = models.ClaimExpired
		c.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) ClaimOwnership(ctx context.Context, p ClaimOwnershipParams) (*models.TeamMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enterprises[p.EnterpriseID]; !ok {
		return nil, ErrNotFound
	}
	if s.countOwners(p.EnterpriseID) > 0 {
		return nil, ErrAlreadyClaimed
	}
	user, ok := s.users[p.UserID]
	if !ok {
		return nil, ErrNotFound
	}
	if user.ClaimedProfiles >= p.MaxClaims {
		return nil, ErrClaimLimit
	}
	if p.ClaimID != nil {
		claim, ok := s.claims[*p.ClaimID]
		if !ok {
			return nil, ErrNotFound
		}
		if claim.Status != models.ClaimPending {
			return nil, ErrAlreadyProcessed
		}
		now := time.Now()
		claim.Status = models.ClaimAccepted
		claim.AcceptedBy = &p.UserID
		claim.AcceptedAt = &now
		claim.UpdatedAt = now
	}

	now := time.Now()
	m := &models.TeamMembership{
		EnterpriseID: p.EnterpriseID,
		UserID:       p.UserID,
		Role:         models.RoleOwner,
		Status:       models.MembershipActive,
		AcceptedAt:   &now,
	}
	s.insertMembership(m)

	user.ClaimedProfiles++
	if user.PlatformRole == models.PlatformVisitor || user.PlatformRole == models.PlatformMember {
		user.PlatformRole = models.PlatformEnterpriseOwner
	}
	user.UpdatedAt = now

	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ExpirePendingClaims(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.claims {
		if c.Status == models.ClaimPending && now.After(c.ExpiresAt) {
			c.Status = models.ClaimExpired
			c.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// ==== Billing ====

func (s *MemoryStore) ChargeCredits(ctx context.Context, p ChargeParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[p.UserID]
	if !ok {
		return ErrNotFound
	}
	if !p.SkipBalance && p.Cost > 0 {
		newBalance := user.CreditBalance - p.Cost
		if !p.Force && newBalance < user.CreditLimit && !user.OverageAllowed {
			return ErrInsufficientCredits
		}
		user.CreditBalance = newBalance
		user.UpdatedAt = time.Now()
	}
	p.Record.SubscriptionID = user.SubscriptionID
	s.appendUsage(p.Record)
	return nil
}

// appendUsage assumes the lock is held.
func (s *MemoryStore) appendUsage(rec *models.AiUsageRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now()
	s.usage = append(s.usage, *rec)
}

func (s *MemoryStore) AppendUsage(ctx context.Context, rec *models.AiUsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendUsage(rec)
	return nil
}

func (s *MemoryStore) ApplyCreditEvent(ctx context.Context, ev *models.CreditEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.creditEvents[ev.EventID]; seen {
		return false, nil
	}
	user, ok := s.users[ev.UserID]
	if !ok {
		return false, ErrNotFound
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CreatedAt = time.Now()
	cp := *ev
	s.creditEvents[ev.EventID] = &cp
	user.CreditBalance += ev.Credits
	user.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) ListUsage(ctx context.Context, userID string, limit int) ([]models.AiUsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var result []models.AiUsageRecord
	for i := len(s.usage) - 1; i >= 0 && len(result) < limit; i-- {
		if s.usage[i].UserID == userID {
			result = append(result, s.usage[i])
		}
	}
	return result, nil
}
