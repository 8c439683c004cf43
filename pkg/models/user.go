package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is an account. The credit fields form the account's spendable balance;
// they are only ever mutated inside the billing store's transaction boundary.
type User struct {
	ID           string       `json:"id" db:"id"`
	Email        string       `json:"email" db:"email"`
	Password     string       `json:"-" db:"password_hash"` // never serialized
	Name         string       `json:"name,omitempty" db:"name"`
	PlatformRole PlatformRole `json:"platform_role" db:"platform_role"`
	Plan         PlanType     `json:"plan" db:"plan"`

	// Credit account, in minor currency units.
	CreditBalance  int  `json:"credit_balance" db:"credit_balance"`
	CreditLimit    int  `json:"credit_limit" db:"credit_limit"`
	OverageAllowed bool `json:"overage_allowed" db:"overage_allowed"`

	ClaimedProfiles int `json:"claimed_profiles" db:"claimed_profiles"`

	SubscriptionID *string   `json:"subscription_id,omitempty" db:"subscription_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// IsPlatformAdmin reports whether the account holds the global admin role.
func (u *User) IsPlatformAdmin() bool {
	return u.PlatformRole == PlatformAdmin
}

// UserRegisterRequest is the payload for account registration.
type UserRegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// UserLoginRequest is the payload for login.
type UserLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserLoginResponse is returned on successful login or refresh.
type UserLoginResponse struct {
	User         User   `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenClaims are the JWT claims carried by access and refresh tokens.
type TokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Type   string `json:"type"` // "access" or "refresh"
	Exp    int64  `json:"exp"`
	Iat    int64  `json:"iat"`
}

func (c *TokenClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Exp, 0)), nil
}

func (c *TokenClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Iat, 0)), nil
}

func (c *TokenClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

func (c *TokenClaims) GetIssuer() (string, error) {
	return "", nil
}

func (c *TokenClaims) GetSubject() (string, error) {
	return c.UserID, nil
}

func (c *TokenClaims) GetAudience() (jwt.ClaimStrings, error) {
	return nil, nil
}
