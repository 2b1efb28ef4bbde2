package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinesia/kinesia/internal/platform/db"
	"github.com/kinesia/kinesia/internal/rbac"
	"github.com/kinesia/kinesia/internal/shared"
)

const userColumns = `id, email, name, role, permissions, is_active, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{pool: pool, logger: logger}
}

// List returns all users. Order is whatever the store returns.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users`)
	if err != nil {
		return nil, transportErr("list users", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := r.scan(rows)
		if err != nil {
			return nil, transportErr("scan user", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, transportErr("list users", err)
	}
	return users, nil
}

// GetByID fetches one user.
func (r *Repository) GetByID(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return r.one(row, "get user")
}

// GetByEmail fetches one user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = lower($1)`, email)
	return r.one(row, "get user by email")
}

// AccountByEmail implements rbac.AccountLookup. Inactive users are reported as missing.
func (r *Repository) AccountByEmail(ctx context.Context, email string) (rbac.Account, error) {
	user, err := r.GetByEmail(ctx, email)
	if err != nil {
		return rbac.Account{}, err
	}
	if !user.IsActive {
		return rbac.Account{}, shared.ErrNotFound
	}
	return user.Account(), nil
}

// Create inserts a user and returns the stored row.
func (r *Repository) Create(ctx context.Context, in NewUser) (User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, role, permissions, password_hash, is_active, created_at, updated_at)
		VALUES (lower($1), $2, $3, $4, $5, TRUE, NOW(), NOW())
		RETURNING `+userColumns,
		in.Email, in.Name, string(in.Role), permissionsParam(in.Permissions), in.PasswordHash)
	return r.one(row, "create user")
}

// UpdateRole persists a new role.
func (r *Repository) UpdateRole(ctx context.Context, id int64, role rbac.Role) (User, error) {
	row := r.pool.QueryRow(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1 RETURNING `+userColumns, id, string(role))
	return r.one(row, "update role")
}

// UpdatePermissions replaces the explicit permission list. An empty list clears it.
func (r *Repository) UpdatePermissions(ctx context.Context, id int64, perms []rbac.Permission) (User, error) {
	row := r.pool.QueryRow(ctx, `UPDATE users SET permissions = $2, updated_at = NOW() WHERE id = $1 RETURNING `+userColumns, id, permissionsParam(perms))
	return r.one(row, "update permissions")
}

// Delete removes a user.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return transportErr("delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *Repository) one(row pgx.Row, op string) (User, error) {
	user, err := r.scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		if db.IsUniqueViolation(err) {
			return User{}, fmt.Errorf("users: %s: %w", op, shared.ErrConflict)
		}
		return User{}, transportErr(op, err)
	}
	return user, nil
}

func (r *Repository) scan(row pgx.Row) (User, error) {
	var (
		user  User
		role  string
		perms *[]string
	)
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &role, &perms, &user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, err
	}
	user.Role = rbac.Role(role)
	if perms == nil {
		return user, nil
	}
	user.ExplicitPermissions = true
	for _, raw := range *perms {
		p, err := rbac.ParsePermission(raw)
		if err != nil {
			// Stored lists are validated on write. Unknown entries are dropped and the
			// list stays explicit, so they never fall back to the role default.
			r.logger.Warn("users: dropping unknown stored permission", slog.Int64("user_id", user.ID), slog.String("permission", raw))
			continue
		}
		user.Permissions = append(user.Permissions, p)
	}
	return user, nil
}

func permissionsParam(perms []rbac.Permission) []string {
	if len(perms) == 0 {
		return nil
	}
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func transportErr(op string, err error) error {
	return fmt.Errorf("users: %s: %w: %w", op, shared.ErrTransport, err)
}

var _ rbac.AccountLookup = (*Repository)(nil)
