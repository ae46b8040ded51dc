package contracts

import (
	"fmt"
	"strings"
)

// Role is the organizational role of a caller
type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleUser       Role = "user"
	RolePublic     Role = "public" // anonymous external reader
)

// ParseRole normalizes a role name
func ParseRole(s string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer("_", "", "-", "", " ", "").Replace(normalized)
	switch Role(normalized) {
	case RoleSuperAdmin, RoleAdmin, RoleUser, RolePublic:
		return Role(normalized), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Identity is the caller as seen by the engine. Read-only.
type Identity struct {
	UserID      string   `json:"user_id"`
	Role        Role     `json:"role"`
	Departments []string `json:"departments,omitempty"` // department codes
	Cells       []string `json:"cells,omitempty"`       // cell codes
}

// PublicIdentity is the identity of an unauthenticated external reader
func PublicIdentity() Identity {
	return Identity{Role: RolePublic}
}

// IsAdministrative reports whether the role may publish and bypass the gate
func (i Identity) IsAdministrative() bool {
	return i.Role == RoleSuperAdmin || i.Role == RoleAdmin
}

// HasAssignments reports whether explicit departments or cells are attached
func (i Identity) HasAssignments() bool {
	return len(i.Departments) > 0 || len(i.Cells) > 0
}

// Actor returns a printable name for audit fields
func (i Identity) Actor() string {
	if i.UserID != "" {
		return i.UserID
	}
	return string(i.Role)
}
