package models

import "time"

// InvitationStatus is the lifecycle state of an invitation token.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationCancelled InvitationStatus = "cancelled"
	InvitationExpired   InvitationStatus = "expired"
)

// EnterpriseInvitation is a time-boxed token inviting an email address into an
// enterprise. The owner role is never offered through an invitation; ownership
// is only reachable via claim or promotion. At most one pending invitation
// exists per (enterprise, email).
type EnterpriseInvitation struct {
	ID           string           `json:"id" db:"id"`
	EnterpriseID string           `json:"enterprise_id" db:"enterprise_id"`
	Email        string           `json:"email" db:"email"`
	Role         Role             `json:"role" db:"role"`
	InviterID    string           `json:"inviter_id" db:"inviter_id"`
	Token        string           `json:"-" db:"token"` // bearer secret, never serialized
	Status       InvitationStatus `json:"status" db:"status"`
	ExpiresAt    time.Time        `json:"expires_at" db:"expires_at"`
	AcceptedBy   *string          `json:"accepted_by,omitempty" db:"accepted_by"`
	AcceptedAt   *time.Time       `json:"accepted_at,omitempty" db:"accepted_at"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the token's deadline has passed. Status transitions
// on expiry are lazy: the first consumer that observes this flips the row.
func (i *EnterpriseInvitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
