package models

import "time"

// Enterprise is the unit of data isolation for role checks. An enterprise is
// "claimed" when at least one active owner membership exists; there is no
// separate flag.
type Enterprise struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	ContactEmail string    `json:"contact_email" db:"contact_email"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// MembershipStatus is the lifecycle state of a membership. Members are never
// hard-deleted; removal flips the status to inactive so audit history survives.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipInactive MembershipStatus = "inactive"
)

// TeamMembership relates a user to an enterprise with a role. At most one
// active membership exists per (user, enterprise) pair.
type TeamMembership struct {
	ID           string           `json:"id" db:"id"`
	EnterpriseID string           `json:"enterprise_id" db:"enterprise_id"`
	UserID       string           `json:"user_id" db:"user_id"`
	Role         Role             `json:"role" db:"role"`
	Status       MembershipStatus `json:"status" db:"status"`
	InvitedBy    *string          `json:"invited_by,omitempty" db:"invited_by"`
	InvitedAt    *time.Time       `json:"invited_at,omitempty" db:"invited_at"`
	AcceptedAt   *time.Time       `json:"accepted_at,omitempty" db:"accepted_at"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the membership currently grants access.
func (m *TeamMembership) IsActive() bool {
	return m.Status == MembershipActive
}
