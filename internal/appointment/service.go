package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/config"
	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
	"github.com/hackgods/vet-appointment-scheduling/internal/metrics"
	redisclient "github.com/hackgods/vet-appointment-scheduling/internal/redis"
)

const noShowBatchSize = 100

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	policy  Policy
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.SchedulingMetrics
	now     func() time.Time
}

// NewService wires the scheduling core. locker may be nil, in which case the database
// advisory lock alone serializes bookings per vet.
func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger *zap.Logger, m *metrics.SchedulingMetrics) *Service {
	policy := DefaultPolicy()
	policy.AutoConfirm = cfg.AutoConfirmBookings
	policy.RequireCheckInOnDay = cfg.RequireCheckInOnDay

	if cfg.DefaultDurationMinutes <= 0 {
		cfg.DefaultDurationMinutes = 30
	}
	if cfg.MaxDurationMinutes <= 0 {
		cfg.MaxDurationMinutes = 8 * 60
	}
	if cfg.MaxSlotRange <= 0 {
		cfg.MaxSlotRange = 31 * 24 * time.Hour
	}

	return &Service{
		repo:    repo,
		locker:  locker,
		policy:  policy,
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		metrics: m,
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests and simulations.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

type BookingRequest struct {
	VetID           uuid.UUID
	PetID           uuid.UUID
	ClinicID        uuid.UUID
	StartsAt        time.Time
	DurationMinutes int
	Type            AppointmentType
	Notes           string
}

// EventPayload is the JSON body of outbox events. Consumers reload the appointment, so the
// payload is informational.
type EventPayload struct {
	From             AppointmentStatus `json:"from,omitempty"`
	To               AppointmentStatus `json:"to,omitempty"`
	StartsAt         time.Time         `json:"starts_at"`
	PreviousStartsAt *time.Time        `json:"previous_starts_at,omitempty"`
	ActorID          uuid.UUID         `json:"actor_id"`
	ActorRole        Role              `json:"actor_role"`
}

// BookAppointment validates the request against the directory, then checks for conflicts and
// inserts the appointment while holding the vet's lock, so two concurrent bookings for
// overlapping intervals cannot both commit.
func (s *Service) BookAppointment(ctx context.Context, actor Actor, req BookingRequest) (*Appointment, error) {
	if err := s.validateActor(actor); err != nil {
		return nil, err
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = s.cfg.DefaultDurationMinutes
	}
	if err := s.validateBooking(req); err != nil {
		return nil, err
	}

	vet, err := s.repo.GetVeterinarian(ctx, req.VetID)
	if err != nil {
		return nil, fmt.Errorf("load veterinarian: %w", err)
	}
	if vet.ClinicID != req.ClinicID {
		return nil, fmt.Errorf("%w: veterinarian does not practice at clinic %s", ErrInvalidRequest, req.ClinicID)
	}
	if _, err := s.repo.GetClinic(ctx, req.ClinicID); err != nil {
		return nil, fmt.Errorf("load clinic: %w", err)
	}
	pet, err := s.repo.GetPet(ctx, req.PetID)
	if err != nil {
		return nil, fmt.Errorf("load pet: %w", err)
	}
	if actor.Role == RoleClient && pet.OwnerID != actor.UserID {
		return nil, ErrActorNotPermitted
	}

	start := req.StartsAt.UTC()
	duration := time.Duration(req.DurationMinutes) * time.Minute

	var created *Appointment
	err = s.withVetLock(ctx, req.VetID, func(ctx context.Context) error {
		return s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.LockVet(ctx, req.VetID); err != nil {
				return err
			}

			occupying, err := tx.ListOccupying(ctx, req.VetID, start, start.Add(duration))
			if err != nil {
				return fmt.Errorf("list occupying appointments: %w", err)
			}
			if existing, ok := FindConflict(occupying, req.VetID, start, duration, nil); ok {
				return &ConflictError{VetID: req.VetID, WithAppointmentID: existing.ID}
			}

			appt, err := tx.InsertAppointment(ctx, Appointment{
				ID:              uuid.New(),
				VetID:           req.VetID,
				PetID:           req.PetID,
				ClinicID:        req.ClinicID,
				BookedBy:        actor.UserID,
				StartsAt:        start,
				DurationMinutes: req.DurationMinutes,
				Type:            req.Type,
				Status:          s.policy.InitialStatus(),
				Notes:           req.Notes,
			})
			if err != nil {
				return err
			}

			if err := tx.AppendEvent(ctx, s.newEvent(appt.ID, EventAppointmentCreated, EventPayload{
				To:        appt.Status,
				StartsAt:  appt.StartsAt,
				ActorID:   actor.UserID,
				ActorRole: actor.Role,
			})); err != nil {
				return err
			}

			created = appt
			return nil
		})
	})
	s.metrics.ObserveBooking("book", outcome(err))
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("vet_id", created.VetID.String()),
		zap.Time("starts_at", created.StartsAt),
		zap.Int("duration_minutes", created.DurationMinutes),
		zap.String("status", string(created.Status)),
	)
	return created, nil
}

// RescheduleAppointment moves a pending or confirmed appointment to a new interval. The new
// interval is validated against every occupying appointment of the vet except this one.
// newDurationMinutes of zero keeps the current duration.
func (s *Service) RescheduleAppointment(ctx context.Context, actor Actor, id uuid.UUID, newStart time.Time, newDurationMinutes int) (*Appointment, error) {
	if err := s.validateActor(actor); err != nil {
		return nil, err
	}
	if newStart.IsZero() {
		return nil, fmt.Errorf("%w: new start time is required", ErrInvalidRequest)
	}
	if newDurationMinutes < 0 || newDurationMinutes > s.cfg.MaxDurationMinutes {
		return nil, fmt.Errorf("%w: duration must be between 1 and %d minutes", ErrInvalidRequest, s.cfg.MaxDurationMinutes)
	}
	if !newStart.After(s.now()) {
		return nil, fmt.Errorf("%w: new start time must be in the future", ErrInvalidRequest)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := authorizeParty(actor, *appt); err != nil {
		return nil, err
	}
	if !CanReschedule(appt.Status) {
		return nil, &InvalidStateError{Operation: "reschedule", Status: appt.Status}
	}

	start := newStart.UTC()

	var updated *Appointment
	err = s.withVetLock(ctx, appt.VetID, func(ctx context.Context) error {
		return s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.LockVet(ctx, appt.VetID); err != nil {
				return err
			}

			current, err := tx.GetAppointmentByID(ctx, id)
			if err != nil {
				return fmt.Errorf("reload appointment: %w", err)
			}
			if current.Version != appt.Version {
				return ErrConcurrency
			}
			if !CanReschedule(current.Status) {
				return &InvalidStateError{Operation: "reschedule", Status: current.Status}
			}

			durationMinutes := newDurationMinutes
			if durationMinutes == 0 {
				durationMinutes = current.DurationMinutes
			}
			if current.StartsAt.Equal(start) && current.DurationMinutes == durationMinutes {
				updated = current
				return nil
			}
			duration := time.Duration(durationMinutes) * time.Minute

			occupying, err := tx.ListOccupying(ctx, current.VetID, start, start.Add(duration))
			if err != nil {
				return fmt.Errorf("list occupying appointments: %w", err)
			}
			if existing, ok := FindConflict(occupying, current.VetID, start, duration, &current.ID); ok {
				return &ConflictError{VetID: current.VetID, WithAppointmentID: existing.ID}
			}

			next, err := tx.UpdateSchedule(ctx, *current, start, durationMinutes)
			if err != nil {
				return err
			}

			previous := current.StartsAt
			if err := tx.AppendEvent(ctx, s.newEvent(next.ID, EventAppointmentRescheduled, EventPayload{
				To:               next.Status,
				StartsAt:         next.StartsAt,
				PreviousStartsAt: &previous,
				ActorID:          actor.UserID,
				ActorRole:        actor.Role,
			})); err != nil {
				return err
			}

			updated = next
			return nil
		})
	})
	s.metrics.ObserveBooking("reschedule", outcome(err))
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment rescheduled",
		zap.String("appointment_id", updated.ID.String()),
		zap.Time("starts_at", updated.StartsAt),
		zap.Int("duration_minutes", updated.DurationMinutes),
	)
	return updated, nil
}

// ChangeStatus drives the appointment through the state machine. The current status is read
// and the new one written in the same transaction, guarded by the row version.
func (s *Service) ChangeStatus(ctx context.Context, actor Actor, id uuid.UUID, target AppointmentStatus) (*Appointment, error) {
	if err := s.validateActor(actor); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, target)
	}

	policy := s.policy
	if target == StatusCheckedIn && policy.RequireCheckInOnDay {
		appt, err := s.repo.GetAppointmentByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load appointment: %w", err)
		}
		policy.CheckInLocation = s.clinicLocation(ctx, appt.ClinicID)
	}
	now := s.now()

	var (
		updated *Appointment
		from    AppointmentStatus
	)
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.GetAppointmentByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if err := authorizeParty(actor, *current); err != nil {
			return err
		}
		if err := policy.CheckTransition(actor, *current, target, now); err != nil {
			return err
		}

		next, err := tx.UpdateStatus(ctx, current.ID, current.Version, target)
		if err != nil {
			return err
		}

		if err := tx.AppendEvent(ctx, s.newEvent(next.ID, EventAppointmentStatus, EventPayload{
			From:      current.Status,
			To:        next.Status,
			StartsAt:  next.StartsAt,
			ActorID:   actor.UserID,
			ActorRole: actor.Role,
		})); err != nil {
			return err
		}

		from = current.Status
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(string(from), string(updated.Status))
	s.logger.Info("appointment status changed",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(updated.Status)),
		zap.String("actor_role", string(actor.Role)),
	)
	return updated, nil
}

// CancelAppointment is ChangeStatus to cancelled. Cancelled appointments keep their row.
func (s *Service) CancelAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.ChangeStatus(ctx, actor, id, StatusCancelled)
}

// ListAvailableSlots returns bookable start times for the vet within [from, to). Start times
// that are not in the future are left out.
// slotMinutes of zero uses the default appointment duration.
func (s *Service) ListAvailableSlots(ctx context.Context, vetID uuid.UUID, from, to time.Time, slotMinutes int) (iter.Seq[time.Time], error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: range end must be after start", ErrInvalidRequest)
	}
	if to.Sub(from) > s.cfg.MaxSlotRange {
		return nil, fmt.Errorf("%w: range may not exceed %s", ErrInvalidRequest, s.cfg.MaxSlotRange)
	}
	if slotMinutes == 0 {
		slotMinutes = s.cfg.DefaultDurationMinutes
	}
	if slotMinutes < 0 || slotMinutes > s.cfg.MaxDurationMinutes {
		return nil, fmt.Errorf("%w: slot duration must be between 1 and %d minutes", ErrInvalidRequest, s.cfg.MaxDurationMinutes)
	}

	hours, err := s.repo.GetWorkingHours(ctx, vetID)
	if err != nil {
		return nil, fmt.Errorf("load working hours: %w", err)
	}
	existing, err := s.repo.ListAppointmentsForVet(ctx, vetID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	// bookings must start after now; slot starts fall on whole minutes
	if earliest := s.now().Truncate(time.Minute).Add(time.Minute); from.Before(earliest) {
		from = earliest
	}
	return AvailableSlots(*hours, busyIntervals(existing), from, to, time.Duration(slotMinutes)*time.Minute), nil
}

// GetAppointment retrieves an appointment with its directory references.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}

	detail := &AppointmentDetail{Appointment: *appt}
	if detail.Vet, err = s.repo.GetVeterinarian(ctx, appt.VetID); err != nil {
		return nil, fmt.Errorf("get veterinarian: %w", err)
	}
	if detail.Pet, err = s.repo.GetPet(ctx, appt.PetID); err != nil {
		return nil, fmt.Errorf("get pet: %w", err)
	}
	if detail.Clinic, err = s.repo.GetClinic(ctx, appt.ClinicID); err != nil {
		return nil, fmt.Errorf("get clinic: %w", err)
	}
	return detail, nil
}

// ListVetAppointments retrieves the vet's appointments of any status overlapping [from, to).
func (s *Service) ListVetAppointments(ctx context.Context, vetID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: range end must be after start", ErrInvalidRequest)
	}
	appts, err := s.repo.ListAppointmentsForVet(ctx, vetID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list vet appointments: %w", err)
	}
	return appts, nil
}

// MarkNoShows is intended to be called by the worker periodically. It moves pending and
// confirmed appointments whose start passed more than the grace period ago to no_show.
func (s *Service) MarkNoShows(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.NoShowGrace)
	overdue, err := s.repo.FindOverdue(ctx, cutoff, noShowBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find overdue appointments: %w", err)
	}

	marked := 0
	for _, appt := range overdue {
		_, err := s.ChangeStatus(ctx, SystemActor, appt.ID, StatusNoShow)
		if err != nil {
			var ite *InvalidTransitionError
			if errors.Is(err, ErrConcurrency) || errors.As(err, &ite) {
				s.logger.Debug("skip no-show, appointment changed", zap.String("appointment_id", appt.ID.String()), zap.Error(err))
				continue
			}
			s.logger.Error("failed to mark no-show", zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			continue
		}
		marked++
	}
	return marked, nil
}

func (s *Service) withVetLock(ctx context.Context, vetID uuid.UUID, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	err := s.locker.WithVetLock(ctx, vetID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return fmt.Errorf("%w: vet %s is busy", ErrConcurrency, vetID)
	}
	return err
}

func (s *Service) validateActor(actor Actor) error {
	switch actor.Role {
	case RoleClient, RoleClinicStaff, RoleVet:
		if actor.UserID == uuid.Nil {
			return fmt.Errorf("%w: actor user id is required", ErrInvalidRequest)
		}
		return nil
	case RoleSystem:
		return nil
	}
	return fmt.Errorf("%w: unknown actor role %q", ErrInvalidRequest, actor.Role)
}

func (s *Service) validateBooking(req BookingRequest) error {
	switch {
	case req.VetID == uuid.Nil || req.PetID == uuid.Nil || req.ClinicID == uuid.Nil:
		return fmt.Errorf("%w: vet, pet and clinic are required", ErrInvalidRequest)
	case req.StartsAt.IsZero():
		return fmt.Errorf("%w: start time is required", ErrInvalidRequest)
	case !req.StartsAt.After(s.now()):
		return fmt.Errorf("%w: start time must be in the future", ErrInvalidRequest)
	case req.DurationMinutes < 0 || req.DurationMinutes > s.cfg.MaxDurationMinutes:
		return fmt.Errorf("%w: duration must be between 1 and %d minutes", ErrInvalidRequest, s.cfg.MaxDurationMinutes)
	case !req.Type.Valid():
		return fmt.Errorf("%w: unknown appointment type %q", ErrInvalidRequest, req.Type)
	}
	return nil
}

// authorizeParty limits clients to appointments they booked.
func authorizeParty(actor Actor, appt Appointment) error {
	if actor.Role == RoleClient && appt.BookedBy != actor.UserID {
		return ErrActorNotPermitted
	}
	return nil
}

func (s *Service) clinicLocation(ctx context.Context, clinicID uuid.UUID) *time.Location {
	clinic, err := s.repo.GetClinic(ctx, clinicID)
	if err != nil {
		s.logger.Warn("clinic lookup failed, using UTC for check-in day", zap.String("clinic_id", clinicID.String()), zap.Error(err))
		return time.UTC
	}
	loc, err := time.LoadLocation(clinic.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (s *Service) newEvent(appointmentID uuid.UUID, eventType string, payload EventPayload) OutboxEvent {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal event payload", zap.String("type", eventType), zap.Error(err))
		data = []byte("{}")
	}
	return OutboxEvent{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		Type:          eventType,
		Payload:       data,
		CreatedAt:     s.now(),
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsConflict(err):
		return "conflict"
	case errors.Is(err, ErrConcurrency):
		return "concurrency"
	default:
		return "error"
	}
}
