package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Permission is a capability token gating a UI action or server operation.
// The set is closed: ParsePermission rejects anything not listed here.
type Permission string

const (
	ManageUsers    Permission = "manage_users"
	ViewReports    Permission = "view_reports"
	ViewPatients   Permission = "view_patients"
	EditPatients   Permission = "edit_patients"
	ViewQueue      Permission = "view_queue"
	ManageQueue    Permission = "manage_queue"
	ConfigureQueue Permission = "configure_queue"
)

var permissionOrder = map[Permission]int{
	ManageUsers:    0,
	ViewReports:    1,
	ViewPatients:   2,
	EditPatients:   3,
	ViewQueue:      4,
	ManageQueue:    5,
	ConfigureQueue: 6,
}

// AllPermissions lists every known permission in declaration order.
func AllPermissions() []Permission {
	return []Permission{ManageUsers, ViewReports, ViewPatients, EditPatients, ViewQueue, ManageQueue, ConfigureQueue}
}

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	_, ok := permissionOrder[p]
	return ok
}

func (p Permission) String() string { return string(p) }

// ParsePermission converts a raw token into a Permission.
func ParsePermission(raw string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", fmt.Errorf("rbac: unknown permission %q", raw)
	}
	return p, nil
}

// ParsePermissions parses every token, failing on the first unknown one.
func ParsePermissions(raw []string) ([]Permission, error) {
	out := make([]Permission, 0, len(raw))
	for _, r := range raw {
		p, err := ParsePermission(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// PermissionSet is an immutable set of permissions.
type PermissionSet struct {
	items map[Permission]struct{}
}

// NewPermissionSet builds a set, ignoring duplicates.
func NewPermissionSet(perms ...Permission) PermissionSet {
	items := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		items[p] = struct{}{}
	}
	return PermissionSet{items: items}
}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s.items[p]
	return ok
}

// HasAny reports whether the set holds at least one of perms.
// An empty perms list is never satisfied.
func (s PermissionSet) HasAny(perms ...Permission) bool {
	for _, p := range perms {
		if s.Has(p) {
			return true
		}
	}
	return false
}

// HasAll reports whether the set holds every one of perms.
func (s PermissionSet) HasAll(perms ...Permission) bool {
	if len(perms) == 0 {
		return false
	}
	for _, p := range perms {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Len returns the number of permissions.
func (s PermissionSet) Len() int { return len(s.items) }

// Slice returns the permissions in declaration order.
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s.items))
	for p := range s.items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, iok := permissionOrder[out[i]]
		oj, jok := permissionOrder[out[j]]
		if iok != jok {
			return iok
		}
		if oi != oj {
			return oi < oj
		}
		return out[i] < out[j]
	})
	return out
}

// Strings returns the permission names in declaration order.
func (s PermissionSet) Strings() []string {
	perms := s.Slice()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
