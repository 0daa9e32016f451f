package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrVetNotFound          = errors.New("veterinarian not found")
	ErrPetNotFound          = errors.New("pet not found")
	ErrClinicNotFound       = errors.New("clinic not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrWorkingHoursNotFound = errors.New("working hours not configured")
)

// Directory is the read-only view of the people and animals appointments refer to.
type Directory interface {
	GetVeterinarian(ctx context.Context, id uuid.UUID) (*Veterinarian, error)
	GetPet(ctx context.Context, id uuid.UUID) (*Pet, error)
	GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	Directory

	GetWorkingHours(ctx context.Context, vetID uuid.UUID) (*WeeklyHours, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// ListAppointmentsForVet returns appointments of any status overlapping [from, to).
	ListAppointmentsForVet(ctx context.Context, vetID uuid.UUID, from, to time.Time) ([]Appointment, error)

	// No-show sweeper
	FindOverdue(ctx context.Context, startedBefore time.Time, limit int) ([]Appointment, error)

	// Best-effort calendar mirror state; does not bump the version.
	SetCalendarMeta(ctx context.Context, id uuid.UUID, meta map[string]string) error

	// InTx runs fn in one database transaction, committing only if fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional write path. Every mutation of an appointment goes through it.
type Tx interface {
	// LockVet serializes booking and rescheduling for one vet until the transaction ends.
	LockVet(ctx context.Context, vetID uuid.UUID) error

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// ListOccupying returns pending, confirmed and checked-in appointments overlapping [from, to).
	ListOccupying(ctx context.Context, vetID uuid.UUID, from, to time.Time) ([]Appointment, error)

	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	// UpdateSchedule moves current to start, expecting current.Version to be the stored version.
	// UpdateSchedule and UpdateStatus return ErrConcurrency when the stored version differs.
	UpdateSchedule(ctx context.Context, current Appointment, start time.Time, durationMinutes int) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, to AppointmentStatus) (*Appointment, error)

	AppendEvent(ctx context.Context, ev OutboxEvent) error
}
