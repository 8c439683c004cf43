package models

import "time"

// ClaimStatus is the lifecycle state of a profile claim token.
type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimAccepted ClaimStatus = "accepted"
	ClaimExpired  ClaimStatus = "expired"
)

// ProfileClaim is an invitation-shaped token that grants ownership of an
// unclaimed enterprise. The tokenless direct-claim path shares its success
// barrier: either way, at most one claim on an enterprise ever succeeds.
type ProfileClaim struct {
	ID           string      `json:"id" db:"id"`
	EnterpriseID string      `json:"enterprise_id" db:"enterprise_id"`
	ClaimToken   string      `json:"-" db:"claim_token"` // bearer secret, never serialized
	InvitedEmail string      `json:"invited_email" db:"invited_email"`
	InvitedName  string      `json:"invited_name,omitempty" db:"invited_name"`
	InvitedBy    string      `json:"invited_by" db:"invited_by"`
	Status       ClaimStatus `json:"status" db:"status"`
	ExpiresAt    time.Time   `json:"expires_at" db:"expires_at"`
	AcceptedBy   *string     `json:"accepted_by,omitempty" db:"accepted_by"`
	AcceptedAt   *time.Time  `json:"accepted_at,omitempty" db:"accepted_at"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the token's deadline has passed.
func (c *ProfileClaim) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
