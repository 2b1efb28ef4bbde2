package rbac

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role is a named category of users with a default permission set.
type Role string

const (
	RoleSuperAdmin  Role = "superadmin"
	RoleAdmin       Role = "admin"
	RoleKinesiologa Role = "kinesiologa"
)

// DefaultRole is assigned to new users when none is given.
const DefaultRole = RoleKinesiologa

var roleLabels = map[Role]string{
	RoleSuperAdmin:  "superadministrador",
	RoleAdmin:       "administrador",
	RoleKinesiologa: "kinesióloga",
}

// Roles lists the known roles, most privileged first.
func Roles() []Role {
	return []Role{RoleSuperAdmin, RoleAdmin, RoleKinesiologa}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleLabels[r]
	return ok
}

// IsAdmin reports whether r may enter the administrative area.
func (r Role) IsAdmin() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// Label returns the display name for r.
func (r Role) Label() string {
	if label, ok := roleLabels[r]; ok {
		// Casers are stateful, so one is built per call.
		return cases.Title(language.Spanish).String(label)
	}
	return string(r)
}

func (r Role) String() string { return string(r) }

// ParseRole converts a raw value into a known Role.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("rbac: unknown role %q", raw)
	}
	return r, nil
}
