package models

import (
	"strings"
	"time"
)

// Role represents an account's privilege tier.
type Role string

const (
	RoleFleetAdmin Role = "fleet-admin"
	RoleDirector   Role = "director"
	RoleManager    Role = "manager"
	RoleOperator   Role = "operator"
)

// AllRoles lists every role, highest privilege first.
var AllRoles = []Role{RoleFleetAdmin, RoleDirector, RoleManager, RoleOperator}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleFleetAdmin, RoleDirector, RoleManager, RoleOperator:
		return true
	default:
		return false
	}
}

// ParseRole converts free text into a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !IsValidRole(r) {
		return "", false
	}
	return r, true
}

// Rank orders roles by privilege. Director and manager are peers.
func (r Role) Rank() int {
	switch r {
	case RoleFleetAdmin:
		return 3
	case RoleDirector, RoleManager:
		return 2
	case RoleOperator:
		return 1
	default:
		return 0
	}
}

// IsManagerTier reports whether the role may manage fleet data (plans, services, assets).
func (r Role) IsManagerTier() bool {
	return r.Rank() >= RoleManager.Rank()
}

func (r Role) String() string { return string(r) }

// Profile represents the local account record paired with an external identity.
type Profile struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Email     string    `bson:"email" json:"email"`
	Role      Role      `bson:"role" json:"role"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// ProfilePatch is a partial update of a profile. Nil fields are left untouched.
type ProfilePatch struct {
	Name *string `json:"name,omitempty"`
	Role *Role   `json:"role,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ProfilePatch) IsEmpty() bool {
	return p.Name == nil && p.Role == nil
}

// Identity is the resolved caller of a request.
type Identity struct {
	ActorID string `json:"actor_id"`
	Role    Role   `json:"role"`
}

// Credential is a locally managed login for the built-in identity provider.
type Credential struct {
	ID           string    `bson:"_id" json:"id"`
	Email        string    `bson:"email" json:"email"`
	PasswordHash string    `bson:"password_hash" json:"-"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token   string  `json:"token"`
	Profile Profile `json:"profile"`
}
