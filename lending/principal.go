package lending

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Capability is a permission checked at the engine boundary.
type Capability string

// Capabilities.
const (
	CapBorrow           Capability = "borrow"
	CapClassLoans       Capability = "class_loans"
	CapHandleLoans      Capability = "handle_loans"
	CapManageCatalog    Capability = "manage_catalog"
	CapManageBlacklist  Capability = "manage_blacklist"
	CapManageSettings   Capability = "manage_settings"
	CapRunMaintenance   Capability = "run_maintenance"
	CapViewAllBorrowers Capability = "view_all_borrowers"
)

// Roles known to the default policy.
const (
	RoleStudent   = "student"
	RoleTeacher   = "teacher"
	RoleLibrarian = "librarian"
	RoleAdmin     = "admin"
	RoleSystem    = "system"
)

// Access levels the session layer attaches to accounts.
const (
	AccessLevelMember    = 0
	AccessLevelLibrarian = 320
	AccessLevelAdmin     = 999
)

// Principal is the authenticated caller as supplied by the session layer. The engine trusts it.
// AccessLevel is carried for display and audit; authorization only looks at Capabilities.
type Principal struct {
	UserID       uuid.UUID
	Role         string
	AccessLevel  int
	Capabilities []Capability
}

// Can reports whether the principal holds the capability.
func (p Principal) Can(capability Capability) bool {
	return slices.Contains(p.Capabilities, capability)
}

// Require returns ErrMissingCapability unless the principal holds the capability.
func (p Principal) Require(capability Capability) error {
	if !p.Can(capability) {
		return ErrMissingCapability
	}

	return nil
}

// RolePolicy maps roles to capabilities.
type RolePolicy map[string][]Capability

// DefaultRolePolicy grants students personal loans, teachers class loans on top,
// librarians the desk operations and administrators everything.
func DefaultRolePolicy() RolePolicy {
	all := []Capability{
		CapBorrow, CapClassLoans, CapHandleLoans, CapManageCatalog,
		CapManageBlacklist, CapManageSettings, CapRunMaintenance, CapViewAllBorrowers,
	}

	return RolePolicy{
		RoleStudent:   {CapBorrow},
		RoleTeacher:   {CapBorrow, CapClassLoans},
		RoleLibrarian: {CapBorrow, CapHandleLoans, CapManageCatalog, CapViewAllBorrowers},
		RoleAdmin:     all,
		RoleSystem:    {CapRunMaintenance, CapViewAllBorrowers},
	}
}

// Principal builds the principal for a user acting in a role. Unknown roles get no capabilities.
func (rp RolePolicy) Principal(userID uuid.UUID, role string) Principal {
	role = strings.ToLower(strings.TrimSpace(role))

	return Principal{
		UserID:       userID,
		Role:         role,
		AccessLevel:  AccessLevelOf(role),
		Capabilities: slices.Clone(rp[role]),
	}
}

// AccessLevelOf returns the access level the session layer assigns to a role.
func AccessLevelOf(role string) int {
	switch role {
	case RoleLibrarian:
		return AccessLevelLibrarian
	case RoleAdmin:
		return AccessLevelAdmin
	default:
		return AccessLevelMember
	}
}

// SystemPrincipal is the identity background jobs run under.
func SystemPrincipal() Principal {
	return DefaultRolePolicy().Principal(uuid.Nil, RoleSystem)
}
