package calendar

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEventExists is returned by CreateEvent when an event with the requested id already exists.
	ErrEventExists = errors.New("calendar event already exists")
	// ErrEventNotFound is returned when the provider has no event with the id (or it was deleted).
	ErrEventNotFound = errors.New("calendar event not found")
)

// Event is the provider-neutral shape of an appointment on an external calendar.
type Event struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	TimeZone    string
}

// Provider is an external calendar.
type Provider interface {
	CreateEvent(ctx context.Context, calendarID string, ev Event) (string, error)
	UpdateEvent(ctx context.Context, calendarID string, ev Event) error
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// RetryableError marks provider failures worth retrying (rate limits, 5xx, timeouts).
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

func isRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re) || errors.Is(err, context.DeadlineExceeded)
}

// EventIDFor derives the provider event id from the appointment id. Lowercase hex is a subset of
// the base32hex alphabet external calendars accept, so the same appointment always maps to the
// same event and a repeated create is detected as a conflict.
func EventIDFor(appointmentID uuid.UUID) string {
	return "appt" + strings.ReplaceAll(appointmentID.String(), "-", "")
}
