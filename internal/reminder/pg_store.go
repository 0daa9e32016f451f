package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// rowsQuerier is satisfied by both the pool and a pgx.Tx.
type rowsQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgStore keeps reminder jobs in the reminder_jobs table.
type PgStore struct {
	db pgQuerier
}

func NewPgStore(db pgQuerier) *PgStore {
	if db == nil {
		panic("reminder: pgx pool required")
	}
	return &PgStore{db: db}
}

const jobColumns = `id, appointment_id, offset_seconds, fire_at, appointment_start, channel, status,
	attempts, last_error, created_at, delivered_at`

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j         Job
		offsetSec int64
		status    string
		lastError *string
	)
	err := row.Scan(&j.ID, &j.AppointmentID, &offsetSec, &j.FireAt, &j.AppointmentStart, &j.Channel,
		&status, &j.Attempts, &lastError, &j.CreatedAt, &j.DeliveredAt)
	if err != nil {
		return nil, err
	}
	j.Offset = time.Duration(offsetSec) * time.Second
	j.Status = JobStatus(status)
	if lastError != nil {
		j.LastError = *lastError
	}
	j.FireAt = j.FireAt.UTC()
	j.AppointmentStart = j.AppointmentStart.UTC()
	return &j, nil
}

func (s *PgStore) ReplaceJobs(ctx context.Context, appointmentID uuid.UUID, start time.Time, jobs []Job) ([]Job, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 1))`, appointmentID.String()); err != nil {
		return nil, false, fmt.Errorf("lock reminders %s: %w", appointmentID, err)
	}

	var current bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE id = $1
			  AND starts_at = $2
			  AND status IN ('pending', 'confirmed')
		)
	`, appointmentID, start).Scan(&current)
	if err != nil {
		return nil, false, fmt.Errorf("check appointment %s: %w", appointmentID, err)
	}
	if !current {
		return nil, false, nil
	}

	cancelled, err := cancelOutstanding(ctx, tx, appointmentID)
	if err != nil {
		return nil, false, err
	}
	for _, j := range jobs {
		_, err := tx.Exec(ctx, `
			INSERT INTO reminder_jobs (id, appointment_id, offset_seconds, fire_at, appointment_start, channel, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, j.ID, j.AppointmentID, int64(j.Offset/time.Second), j.FireAt, j.AppointmentStart, j.Channel, string(j.Status))
		if err != nil {
			return nil, false, fmt.Errorf("insert reminder job: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit reminder jobs: %w", err)
	}
	return cancelled, true, nil
}

func (s *PgStore) CancelOutstanding(ctx context.Context, appointmentID uuid.UUID) ([]Job, error) {
	return cancelOutstanding(ctx, s.db, appointmentID)
}

func cancelOutstanding(ctx context.Context, db rowsQuerier, appointmentID uuid.UUID) ([]Job, error) {
	rows, err := db.Query(ctx, `
		UPDATE reminder_jobs
		SET status = 'cancelled', updated_at = now()
		WHERE appointment_id = $1
		  AND status = 'scheduled'
		RETURNING `+jobColumns, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("cancel reminder jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *PgStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	j, err := scanJob(s.db.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM reminder_jobs
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get reminder job: %w", err)
	}
	return j, nil
}

func (s *PgStore) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'delivered', delivered_at = $2, attempts = attempts + 1, updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark reminder delivered: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) MarkSkipped(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'skipped', last_error = $2, updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
	`, id, reason)
	if err != nil {
		return fmt.Errorf("mark reminder skipped: %w", err)
	}
	return nil
}

func (s *PgStore) RecordAttempt(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET attempts = attempts + 1, last_error = $2, updated_at = now()
		WHERE id = $1
	`, id, lastError)
	if err != nil {
		return fmt.Errorf("record reminder attempt: %w", err)
	}
	return nil
}
