package appointment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrConcurrency       = errors.New("appointment was modified concurrently, retry the operation")
	ErrActorNotPermitted = errors.New("actor is not permitted to perform this action")
	ErrInvalidRequest    = errors.New("invalid request")
)

// ConflictError means the requested interval overlaps an occupying appointment of the same vet.
type ConflictError struct {
	VetID             uuid.UUID
	WithAppointmentID uuid.UUID
}

func (e *ConflictError) Error() string {
	if e.WithAppointmentID == uuid.Nil {
		return fmt.Sprintf("slot conflicts with an existing appointment for vet %s", e.VetID)
	}
	return fmt.Sprintf("slot conflicts with appointment %s for vet %s", e.WithAppointmentID, e.VetID)
}

type InvalidTransitionError struct {
	From AppointmentStatus
	To   AppointmentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// InvalidStateError is returned when an operation other than a status change
// (for example a reschedule) is attempted in a status that does not allow it.
type InvalidStateError struct {
	Operation string
	Status    AppointmentStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s an appointment in status %s", e.Operation, e.Status)
}

// IsConflict reports whether err is, or wraps, a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err wraps any of the directory or appointment not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAppointmentNotFound) ||
		errors.Is(err, ErrVetNotFound) ||
		errors.Is(err, ErrPetNotFound) ||
		errors.Is(err, ErrClinicNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrWorkingHoursNotFound)
}
