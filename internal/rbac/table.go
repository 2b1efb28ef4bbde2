package rbac

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed roles.yaml
var defaultRolesYAML []byte

// RoleTable maps each role to its default permissions. It is read-only once built.
type RoleTable struct {
	grants map[Role]PermissionSet
}

// NewRoleTable validates and copies grants into a RoleTable.
func NewRoleTable(grants map[Role][]Permission) (*RoleTable, error) {
	if len(grants) == 0 {
		return nil, errors.New("rbac: role table is empty")
	}
	table := &RoleTable{grants: make(map[Role]PermissionSet, len(grants))}
	for role, perms := range grants {
		if !role.Valid() {
			return nil, fmt.Errorf("rbac: role table: unknown role %q", role)
		}
		for _, p := range perms {
			if !p.Valid() {
				return nil, fmt.Errorf("rbac: role table: role %s: unknown permission %q", role, p)
			}
		}
		table.grants[role] = NewPermissionSet(perms...)
	}
	return table, nil
}

type roleTableFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// ParseRoleTable decodes a YAML role table. Unknown roles or permissions fail the load.
func ParseRoleTable(r io.Reader) (*RoleTable, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file roleTableFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("rbac: decode role table: %w", err)
	}
	grants := make(map[Role][]Permission, len(file.Roles))
	for rawRole, rawPerms := range file.Roles {
		role, err := ParseRole(rawRole)
		if err != nil {
			return nil, err
		}
		if _, dup := grants[role]; dup {
			return nil, fmt.Errorf("rbac: role table: duplicate role %q", role)
		}
		perms, err := ParsePermissions(rawPerms)
		if err != nil {
			return nil, fmt.Errorf("rbac: role table: role %s: %w", role, err)
		}
		grants[role] = perms
	}
	return NewRoleTable(grants)
}

// DefaultRoleTable returns the table bundled with the binary.
func DefaultRoleTable() (*RoleTable, error) {
	return ParseRoleTable(bytes.NewReader(defaultRolesYAML))
}

// LoadRoleTable reads the table from path, or the bundled default when path is empty.
func LoadRoleTable(path string) (*RoleTable, error) {
	if path == "" {
		return DefaultRoleTable()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rbac: open role table: %w", err)
	}
	defer f.Close()
	return ParseRoleTable(f)
}

// Permissions returns the default permissions for role. Unknown roles yield an empty set.
func (t *RoleTable) Permissions(role Role) PermissionSet {
	if t == nil {
		return PermissionSet{}
	}
	return t.grants[role]
}

// Roles returns the roles present in the table, most privileged first.
func (t *RoleTable) Roles() []Role {
	if t == nil {
		return nil
	}
	out := make([]Role, 0, len(t.grants))
	for _, r := range Roles() {
		if _, ok := t.grants[r]; ok {
			out = append(out, r)
		}
	}
	return out
}
