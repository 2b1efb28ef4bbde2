package users

import (
	"time"

	"github.com/kinesia/kinesia/internal/rbac"
)

// User represents a user account for management.
type User struct {
	ID          int64
	Email       string
	Name        string
	Role        rbac.Role
	Permissions []rbac.Permission
	// ExplicitPermissions is set when the permissions column is not NULL.
	ExplicitPermissions bool
	IsActive            bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Account projects the user onto the authorization model.
func (u User) Account() rbac.Account {
	return rbac.Account{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role,
		Permissions: u.Permissions,
		Explicit:    u.ExplicitPermissions,
	}
}

// NewUser carries the fields persisted on creation.
type NewUser struct {
	Email        string
	Name         string
	Role         rbac.Role
	Permissions  []rbac.Permission
	PasswordHash string
}

// CreateUserInput is the admin form for a new user.
type CreateUserInput struct {
	Name        string   `form:"name" json:"name" validate:"required,max=120"`
	Email       string   `form:"email" json:"email" validate:"required,email,max=254"`
	Role        string   `form:"role" json:"role"`
	Password    string   `form:"password" json:"password" validate:"omitempty,min=8,max=72"`
	Permissions []string `form:"permissions" json:"permissions"`
}
