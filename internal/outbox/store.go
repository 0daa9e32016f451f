package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Entry is an appointment event waiting for its side effects.
type Entry struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Type          string
	Payload       []byte
	Attempts      int
	CreatedAt     time.Time
}

type Store interface {
	// Claim leases up to limit due entries so concurrent relays do not pick the same ones.
	Claim(ctx context.Context, limit int, lease time.Duration) ([]Entry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	// MarkFailed records a failed attempt. dead entries are never claimed again.
	MarkFailed(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, lastError string, dead bool) error
}

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PgStore struct {
	db pgQuerier
}

func NewPgStore(db pgQuerier) *PgStore {
	if db == nil {
		panic("outbox: pgx pool required")
	}
	return &PgStore{db: db}
}

func (s *PgStore) Claim(ctx context.Context, limit int, lease time.Duration) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE outbox
		SET locked_until = now() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id
			FROM outbox
			WHERE delivered_at IS NULL
			  AND dead_at IS NULL
			  AND next_attempt_at <= now()
			  AND (locked_until IS NULL OR locked_until < now())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, appointment_id, event_type, payload, attempts, created_at
	`, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AppointmentID, &e.Type, &payload, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		e.Payload = append([]byte(nil), payload...)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PgStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE outbox
		SET delivered_at = now(), locked_until = NULL
		WHERE id = $1 AND delivered_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("outbox: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *PgStore) MarkFailed(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, lastError string, dead bool) error {
	_, err := s.db.Exec(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1,
		    next_attempt_at = $2,
		    last_error = $3,
		    locked_until = NULL,
		    dead_at = CASE WHEN $4 THEN now() ELSE NULL END
		WHERE id = $1
	`, id, nextAttemptAt, lastError, dead)
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}
