package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinesia/kinesia/internal/shared"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Credential, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByEmail fetches the credential row by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Credential, error) {
	var c Credential
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, is_active
		FROM users WHERE email = lower($1)`, email).
		Scan(&c.ID, &c.Email, &c.Name, &c.PasswordHash, &c.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("auth: find credential: %w: %w", shared.ErrTransport, err)
	}
	return &c, nil
}

var _ Repository = (*PGRepository)(nil)
