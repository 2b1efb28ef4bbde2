package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinesia/kinesia/internal/platform/db"
	"github.com/kinesia/kinesia/internal/shared"
)

const appointmentColumns = `id, patient_id, patient_name, queue_day, scheduled_at, ticket, status, called_at, completed_at`

const ticketAttempts = 3

// Repository provides PostgreSQL backed persistence for the daily queue.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListDay returns the queue of day ordered by ticket number.
func (r *Repository) ListDay(ctx context.Context, day time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE queue_day = $1 ORDER BY ticket ASC`, day)
	if err != nil {
		return nil, transportErr("list queue", err)
	}
	defer rows.Close()
	var out []Appointment
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, transportErr("scan appointment", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, transportErr("list queue", err)
	}
	return out, nil
}

// Enqueue adds a patient to the queue of day with the next ticket number. The
// ticket is assigned inside a serializable transaction and retried on conflict.
func (r *Repository) Enqueue(ctx context.Context, patientID int64, day, scheduledAt time.Time) (Appointment, error) {
	var out Appointment
	var err error
	for attempt := 0; attempt < ticketAttempts; attempt++ {
		err = db.WithTx(ctx, r.pool, pgx.Serializable, func(tx pgx.Tx) error {
			var name string
			if err := tx.QueryRow(ctx, `SELECT full_name FROM patients WHERE id = $1`, patientID).Scan(&name); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return shared.ErrNotFound
				}
				return err
			}
			var ticket int
			if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(ticket), 0) + 1 FROM appointments WHERE queue_day = $1`, day).Scan(&ticket); err != nil {
				return err
			}
			row := tx.QueryRow(ctx, `
				INSERT INTO appointments (patient_id, patient_name, queue_day, scheduled_at, ticket, status)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING `+appointmentColumns,
				patientID, name, day, scheduledAt, ticket, string(StatusWaiting))
			a, err := scan(row)
			if err != nil {
				return err
			}
			out = a
			return nil
		})
		if err == nil || !(db.IsSerializationFailure(err) || db.IsUniqueViolation(err)) {
			break
		}
	}
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, shared.ErrNotFound):
		return Appointment{}, err
	case db.IsSerializationFailure(err) || db.IsUniqueViolation(err):
		return Appointment{}, fmt.Errorf("queue: assign ticket: %w", shared.ErrConflict)
	default:
		return Appointment{}, transportErr("enqueue", err)
	}
}

// CallNext marks the lowest waiting ticket of day as called.
func (r *Repository) CallNext(ctx context.Context, day, at time.Time) (Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments SET status = $3, called_at = $2
		WHERE id = (
			SELECT id FROM appointments
			WHERE queue_day = $1 AND status = 'waiting'
			ORDER BY ticket ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+appointmentColumns, day, at, string(StatusCalled))
	return one(row, "call next")
}

// Transition moves an open appointment to status. Closed appointments are reported as missing.
func (r *Repository) Transition(ctx context.Context, id int64, status Status, at time.Time) (Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments SET status = $2, completed_at = $3
		WHERE id = $1 AND status IN ('waiting', 'called')
		RETURNING `+appointmentColumns, id, string(status), at)
	return one(row, "transition")
}

// PurgeFinished deletes closed appointments scheduled before cutoff.
func (r *Repository) PurgeFinished(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE status IN ('done', 'cancelled') AND scheduled_at < $1`, before)
	if err != nil {
		return 0, transportErr("purge", err)
	}
	return tag.RowsAffected(), nil
}

func one(row pgx.Row, op string) (Appointment, error) {
	a, err := scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, shared.ErrNotFound
		}
		return Appointment{}, transportErr(op, err)
	}
	return a, nil
}

func scan(row pgx.Row) (Appointment, error) {
	var (
		a      Appointment
		status string
	)
	if err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.QueueDay, &a.ScheduledAt, &a.Ticket, &status, &a.CalledAt, &a.CompletedAt); err != nil {
		return Appointment{}, err
	}
	a.Status = Status(status)
	return a, nil
}

func transportErr(op string, err error) error {
	return fmt.Errorf("queue: %s: %w: %w", op, shared.ErrTransport, err)
}
