package users

import (
	"sort"

	"github.com/kinesia/kinesia/internal/rbac"
)

// Row is one line of the admin listing.
type Row struct {
	User
	IsSelf      bool
	CanEditRole bool
	CanDelete   bool
	Effective   []rbac.Permission
}

// Listing is the view model of the admin user table.
type Listing struct {
	Rows  []Row
	Roles []rbac.Role
}

// NewListing builds the listing as seen by authz. The signed-in user's own row
// never offers a role selector or a delete control.
func NewListing(users []User, authz rbac.Context, table *rbac.RoleTable) Listing {
	rows := make([]Row, 0, len(users))
	for _, u := range users {
		self := authz.IsSelf(u.Email) || (authz.Account != nil && authz.Account.ID == u.ID)
		row := Row{
			User:        u,
			IsSelf:      self,
			CanEditRole: authz.IsAdmin() && !self,
			CanDelete:   authz.IsAdmin() && !self,
		}
		if table != nil {
			row.Effective = rbac.EffectivePermissions(table, u.Account()).Slice()
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Email < rows[j].Email })
	var roles []rbac.Role
	if table != nil {
		roles = table.Roles()
	} else {
		roles = rbac.Roles()
	}
	return Listing{Rows: rows, Roles: roles}
}

// Row returns the row for id, if listed.
func (l Listing) Row(id int64) (Row, bool) {
	for _, r := range l.Rows {
		if r.ID == id {
			return r, true
		}
	}
	return Row{}, false
}
