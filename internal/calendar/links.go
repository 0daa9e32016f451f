package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrLinkNotFound = errors.New("calendar link not found")

type LinkStatus string

const (
	LinkSynced    LinkStatus = "synced"
	LinkCancelled LinkStatus = "cancelled"
	LinkFailed    LinkStatus = "failed"
)

// Link records which external event mirrors an appointment.
type Link struct {
	AppointmentID uuid.UUID
	CalendarID    string
	EventID       string
	Status        LinkStatus
	LastError     string
	SyncedAt      time.Time
}

type LinkStore interface {
	GetLink(ctx context.Context, appointmentID uuid.UUID) (*Link, error)
	UpsertLink(ctx context.Context, link Link) error
}

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgLinkStore keeps links in the calendar_links table, one row per appointment.
type PgLinkStore struct {
	db pgQuerier
}

func NewPgLinkStore(db pgQuerier) *PgLinkStore {
	if db == nil {
		panic("calendar: pgx pool required")
	}
	return &PgLinkStore{db: db}
}

func (s *PgLinkStore) GetLink(ctx context.Context, appointmentID uuid.UUID) (*Link, error) {
	var (
		l         Link
		status    string
		lastError *string
	)
	err := s.db.QueryRow(ctx, `
		SELECT appointment_id, calendar_id, event_id, status, last_error, synced_at
		FROM calendar_links
		WHERE appointment_id = $1
	`, appointmentID).Scan(&l.AppointmentID, &l.CalendarID, &l.EventID, &status, &lastError, &l.SyncedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("get calendar link: %w", err)
	}
	l.Status = LinkStatus(status)
	if lastError != nil {
		l.LastError = *lastError
	}
	return &l, nil
}

func (s *PgLinkStore) UpsertLink(ctx context.Context, link Link) error {
	var lastError *string
	if link.LastError != "" {
		lastError = &link.LastError
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO calendar_links (appointment_id, calendar_id, event_id, status, last_error, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (appointment_id) DO UPDATE
		SET calendar_id = EXCLUDED.calendar_id,
		    event_id = EXCLUDED.event_id,
		    status = EXCLUDED.status,
		    last_error = EXCLUDED.last_error,
		    synced_at = EXCLUDED.synced_at
	`, link.AppointmentID, link.CalendarID, link.EventID, string(link.Status), lastError, link.SyncedAt)
	if err != nil {
		return fmt.Errorf("upsert calendar link: %w", err)
	}
	return nil
}
