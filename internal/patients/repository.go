package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinesia/kinesia/internal/platform/db"
	"github.com/kinesia/kinesia/internal/shared"
)

const patientColumns = `id, full_name, document, phone, email, birth_date, notes, created_by, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns patients matching query on name or document, newest first.
func (r *Repository) List(ctx context.Context, query string, limit int) ([]Patient, error) {
	sql := `SELECT ` + patientColumns + ` FROM patients`
	args := []any{}
	if q := strings.TrimSpace(query); q != "" {
		sql += ` WHERE full_name ILIKE $1 OR document ILIKE $1`
		args = append(args, "%"+escapeLike(q)+"%")
	}
	sql += fmt.Sprintf(` ORDER BY full_name ASC, id ASC LIMIT %d`, limit)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, transportErr("list patients", err)
	}
	defer rows.Close()
	var out []Patient
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, transportErr("scan patient", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, transportErr("list patients", err)
	}
	return out, nil
}

// Get fetches one patient.
func (r *Repository) Get(ctx context.Context, id int64) (Patient, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	return one(row, "get patient")
}

// Create inserts a patient.
func (r *Repository) Create(ctx context.Context, rec Record, createdBy string) (Patient, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (full_name, document, phone, email, birth_date, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING `+patientColumns,
		rec.FullName, rec.Document, rec.Phone, rec.Email, rec.BirthDate, rec.Notes, createdBy)
	return one(row, "create patient")
}

// Update replaces the editable fields of a patient.
func (r *Repository) Update(ctx context.Context, id int64, rec Record) (Patient, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE patients
		SET full_name = $2, document = $3, phone = $4, email = $5, birth_date = $6, notes = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING `+patientColumns,
		id, rec.FullName, rec.Document, rec.Phone, rec.Email, rec.BirthDate, rec.Notes)
	return one(row, "update patient")
}

func one(row pgx.Row, op string) (Patient, error) {
	p, err := scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Patient{}, shared.ErrNotFound
		}
		if db.IsUniqueViolation(err) {
			return Patient{}, fmt.Errorf("patients: %s: %w", op, shared.ErrConflict)
		}
		return Patient{}, transportErr(op, err)
	}
	return p, nil
}

func scan(row pgx.Row) (Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FullName, &p.Document, &p.Phone, &p.Email, &p.BirthDate, &p.Notes, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func transportErr(op string, err error) error {
	return fmt.Errorf("patients: %s: %w: %w", op, shared.ErrTransport, err)
}
