package models

// Role is a member's role within a single enterprise. The set is closed: a
// role outside it has rank 0 and satisfies nothing.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// Rank returns the position of the role in the hierarchy. Unknown roles rank
// below viewer so they never satisfy a requirement by omission.
func (r Role) Rank() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	case RoleOwner:
		return 4
	default:
		return 0
	}
}

// Valid reports whether r is one of the known enterprise roles.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// Satisfies reports whether a member holding r meets the given requirement.
func (r Role) Satisfies(required Role) bool {
	return r.Rank() >= required.Rank() && required.Valid()
}

// CanGrant reports whether an actor holding r may grant or revoke the target
// role. An actor can only manage roles at or below their own rank, and only
// an owner may grant or revoke the owner role.
func (r Role) CanGrant(target Role) bool {
	if !target.Valid() {
		return false
	}
	if target == RoleOwner {
		return r == RoleOwner
	}
	return r.Rank() >= target.Rank()
}

// PlatformRole is a global account attribute, distinct from any per-enterprise
// role. Platform admins bypass tenant checks and are billing-exempt.
type PlatformRole string

const (
	PlatformVisitor         PlatformRole = "visitor"
	PlatformMember          PlatformRole = "member"
	PlatformEnterpriseOwner PlatformRole = "enterprise_owner"
	PlatformAdmin           PlatformRole = "admin"
)

func (p PlatformRole) rank() int {
	switch p {
	case PlatformVisitor:
		return 1
	case PlatformMember:
		return 2
	case PlatformEnterpriseOwner:
		return 3
	case PlatformAdmin:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether p ranks at or above other.
func (p PlatformRole) AtLeast(other PlatformRole) bool {
	return p.rank() >= other.rank()
}

// PlanType is the account's subscription plan.
type PlanType string

const (
	PlanFree  PlanType = "free"
	PlanPro   PlanType = "pro"
	PlanPower PlanType = "power"
)

// unlimitedClaims is the effective cap for paid plans.
const unlimitedClaims = 1 << 30

// MaxClaims returns how many enterprise profiles an account on this plan may
// claim. Unknown plans are treated as free.
func (p PlanType) MaxClaims() int {
	switch p {
	case PlanPro, PlanPower:
		return unlimitedClaims
	default:
		return 1
	}
}
