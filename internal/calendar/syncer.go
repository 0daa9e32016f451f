package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
	"github.com/hackgods/vet-appointment-scheduling/internal/metrics"
)

const (
	SyncStatusSynced    = "synced"
	SyncStatusCancelled = "cancelled"
	SyncStatusFailed    = "failed"
)

// SyncError wraps a failed calendar operation. It never fails the user-facing action; the
// outbox retries the event that triggered it.
type SyncError struct {
	Op            string
	AppointmentID uuid.UUID
	Err           error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("calendar %s for appointment %s: %v", e.Op, e.AppointmentID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Directory resolves the names shown on the calendar event.
type Directory interface {
	GetVeterinarian(ctx context.Context, id uuid.UUID) (*appointment.Veterinarian, error)
	GetPet(ctx context.Context, id uuid.UUID) (*appointment.Pet, error)
	GetClinic(ctx context.Context, id uuid.UUID) (*appointment.Clinic, error)
}

// MetaWriter mirrors sync state onto the appointment.
type MetaWriter interface {
	SetCalendarMeta(ctx context.Context, id uuid.UUID, meta map[string]string) error
}

type Syncer struct {
	provider        Provider
	links           LinkStore
	meta            MetaWriter
	dir             Directory
	defaultCalendar string
	limiter         *rate.Limiter
	timeout         time.Duration
	maxRetries      int
	baseDelay       time.Duration
	logger          *zap.Logger
	metrics         *metrics.SchedulingMetrics
	now             func() time.Time
}

func NewSyncer(provider Provider, links LinkStore, meta MetaWriter, dir Directory, logger *zap.Logger, m *metrics.SchedulingMetrics) *Syncer {
	if provider == nil || links == nil {
		panic("calendar: provider and link store required")
	}
	return &Syncer{
		provider:        provider,
		links:           links,
		meta:            meta,
		dir:             dir,
		defaultCalendar: "primary",
		limiter:         rate.NewLimiter(rate.Limit(5), 5),
		timeout:         5 * time.Second,
		maxRetries:      3,
		baseDelay:       200 * time.Millisecond,
		logger:          logging.OrNop(logger),
		metrics:         m,
		now:             time.Now,
	}
}

func (s *Syncer) WithDefaultCalendar(id string) *Syncer {
	if id != "" {
		s.defaultCalendar = id
	}
	return s
}

// WithRateLimit caps provider calls per second. Non-positive disables limiting.
func (s *Syncer) WithRateLimit(perSecond float64) *Syncer {
	if perSecond <= 0 {
		s.limiter = rate.NewLimiter(rate.Inf, 0)
		return s
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return s
}

func (s *Syncer) WithTimeout(d time.Duration) *Syncer {
	if d > 0 {
		s.timeout = d
	}
	return s
}

func (s *Syncer) WithRetries(n int, baseDelay time.Duration) *Syncer {
	if n >= 0 {
		s.maxRetries = n
	}
	if baseDelay > 0 {
		s.baseDelay = baseDelay
	}
	return s
}

// Reconcile brings the external calendar in line with the appointment's current state.
// Cancelled appointments lose their event; everything else gets created or updated.
func (s *Syncer) Reconcile(ctx context.Context, appt appointment.Appointment) error {
	if appt.Status == appointment.StatusCancelled {
		link, err := s.links.GetLink(ctx, appt.ID)
		if errors.Is(err, ErrLinkNotFound) {
			// a create may have reached the provider without recording its link yet
			calendarID, _, err := s.buildEvent(ctx, appt)
			if err != nil {
				return s.fail(ctx, "cancel", appt.ID, "", "", err)
			}
			return s.deleteEvent(ctx, appt.ID, calendarID, EventIDFor(appt.ID))
		}
		if err != nil {
			return &SyncError{Op: "cancel", AppointmentID: appt.ID, Err: err}
		}
		if link.Status == LinkCancelled {
			return nil
		}
		return s.SyncCancel(ctx, appt.ID, link.EventID)
	}
	return s.SyncUpdate(ctx, appt, "")
}

// SyncCreate makes sure an event exists for the appointment and returns its id. A link
// already on record is reused, and a provider conflict on the deterministic id counts as
// success, so concurrent or repeated creates converge on one event.
func (s *Syncer) SyncCreate(ctx context.Context, appt appointment.Appointment) (string, error) {
	link, err := s.links.GetLink(ctx, appt.ID)
	if err == nil && link.EventID != "" && link.Status == LinkSynced {
		return link.EventID, nil
	}
	if err != nil && !errors.Is(err, ErrLinkNotFound) {
		return "", s.fail(ctx, "create", appt.ID, "", "", err)
	}

	calendarID, ev, err := s.buildEvent(ctx, appt)
	if err != nil {
		return "", s.fail(ctx, "create", appt.ID, "", "", err)
	}

	var eventID string
	err = s.call(ctx, func(ctx context.Context) error {
		id, err := s.provider.CreateEvent(ctx, calendarID, ev)
		eventID = id
		return err
	})
	if errors.Is(err, ErrEventExists) {
		// created by an earlier attempt whose response was lost; make it current
		eventID = ev.ID
		err = s.call(ctx, func(ctx context.Context) error {
			return s.provider.UpdateEvent(ctx, calendarID, ev)
		})
	}
	s.metrics.ObserveCalendarSync("create", err)
	if err != nil {
		return "", s.fail(ctx, "create", appt.ID, calendarID, ev.ID, err)
	}
	if eventID == "" {
		eventID = ev.ID
	}

	if err := s.record(ctx, appt.ID, calendarID, eventID, LinkSynced); err != nil {
		return eventID, &SyncError{Op: "create", AppointmentID: appt.ID, Err: err}
	}
	return eventID, nil
}

// SyncUpdate pushes the appointment's current time and details to its event. An empty
// eventID is looked up from the link store; a missing event is recreated.
func (s *Syncer) SyncUpdate(ctx context.Context, appt appointment.Appointment, eventID string) error {
	calendarID := ""
	if eventID == "" {
		link, err := s.links.GetLink(ctx, appt.ID)
		switch {
		case errors.Is(err, ErrLinkNotFound):
			_, err := s.SyncCreate(ctx, appt)
			return err
		case err != nil:
			return s.fail(ctx, "update", appt.ID, "", "", err)
		}
		eventID, calendarID = link.EventID, link.CalendarID
	}

	resolvedCalendar, ev, err := s.buildEvent(ctx, appt)
	if err != nil {
		return s.fail(ctx, "update", appt.ID, calendarID, eventID, err)
	}
	if calendarID == "" {
		calendarID = resolvedCalendar
	}
	ev.ID = eventID

	err = s.call(ctx, func(ctx context.Context) error {
		return s.provider.UpdateEvent(ctx, calendarID, ev)
	})
	s.metrics.ObserveCalendarSync("update", err)
	if errors.Is(err, ErrEventNotFound) {
		// deleted on the provider side; drop the stale link and recreate
		if err := s.links.UpsertLink(ctx, Link{AppointmentID: appt.ID, CalendarID: calendarID, EventID: eventID, Status: LinkFailed, LastError: "event missing", SyncedAt: s.now().UTC()}); err != nil {
			return s.fail(ctx, "update", appt.ID, calendarID, eventID, err)
		}
		_, err := s.SyncCreate(ctx, appt)
		return err
	}
	if err != nil {
		return s.fail(ctx, "update", appt.ID, calendarID, eventID, err)
	}

	if err := s.record(ctx, appt.ID, calendarID, eventID, LinkSynced); err != nil {
		return &SyncError{Op: "update", AppointmentID: appt.ID, Err: err}
	}
	return nil
}

// SyncCancel removes the appointment's event. An event that is already gone counts as removed.
func (s *Syncer) SyncCancel(ctx context.Context, appointmentID uuid.UUID, eventID string) error {
	calendarID := s.defaultCalendar
	link, err := s.links.GetLink(ctx, appointmentID)
	switch {
	case err == nil:
		calendarID = link.CalendarID
		if eventID == "" {
			eventID = link.EventID
		}
	case !errors.Is(err, ErrLinkNotFound):
		return s.fail(ctx, "cancel", appointmentID, "", eventID, err)
	}
	if eventID == "" {
		return nil
	}
	return s.deleteEvent(ctx, appointmentID, calendarID, eventID)
}

func (s *Syncer) deleteEvent(ctx context.Context, appointmentID uuid.UUID, calendarID, eventID string) error {
	err := s.call(ctx, func(ctx context.Context) error {
		return s.provider.DeleteEvent(ctx, calendarID, eventID)
	})
	if errors.Is(err, ErrEventNotFound) {
		err = nil
	}
	s.metrics.ObserveCalendarSync("cancel", err)
	if err != nil {
		return s.fail(ctx, "cancel", appointmentID, calendarID, eventID, err)
	}

	if err := s.record(ctx, appointmentID, calendarID, eventID, LinkCancelled); err != nil {
		return &SyncError{Op: "cancel", AppointmentID: appointmentID, Err: err}
	}
	return nil
}

// call runs fn with the rate limiter, a per-attempt timeout and bounded retries.
func (s *Syncer) call(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.nextDelay(attempt - 1)):
			}
		}
		if werr := s.limiter.Wait(ctx); werr != nil {
			return werr
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err = fn(callCtx)
		cancel()
		if err == nil || !isRetryable(err) {
			return err
		}
		s.logger.Debug("calendar call failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return err
}

func (s *Syncer) nextDelay(attempts int) time.Duration {
	delay := s.baseDelay * time.Duration(1<<attempts)
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

func (s *Syncer) buildEvent(ctx context.Context, appt appointment.Appointment) (string, Event, error) {
	calendarID := s.defaultCalendar
	summary := "Veterinary appointment"
	description := fmt.Sprintf("Type: %s\nStatus: %s\nAppointment: %s", appt.Type, appt.Status, appt.ID)
	location := ""
	tz := "UTC"

	if s.dir != nil {
		vet, err := s.dir.GetVeterinarian(ctx, appt.VetID)
		if err != nil {
			return "", Event{}, fmt.Errorf("load veterinarian: %w", err)
		}
		if vet.CalendarID != nil && *vet.CalendarID != "" {
			calendarID = *vet.CalendarID
		}
		if pet, err := s.dir.GetPet(ctx, appt.PetID); err == nil {
			summary = fmt.Sprintf("%s (%s) - %s", pet.Name, pet.Species, appt.Type)
		}
		if clinic, err := s.dir.GetClinic(ctx, appt.ClinicID); err == nil {
			location = clinic.Name
			if clinic.Timezone != "" {
				tz = clinic.Timezone
			}
		}
		description = fmt.Sprintf("Veterinarian: %s\n%s", vet.Name, description)
	}
	if appt.Notes != "" {
		description += "\nNotes: " + appt.Notes
	}

	return calendarID, Event{
		ID:          EventIDFor(appt.ID),
		Summary:     summary,
		Description: description,
		Location:    location,
		Start:       appt.StartsAt,
		End:         appt.EndsAt(),
		TimeZone:    tz,
	}, nil
}

func (s *Syncer) record(ctx context.Context, appointmentID uuid.UUID, calendarID, eventID string, status LinkStatus) error {
	now := s.now().UTC()
	if err := s.links.UpsertLink(ctx, Link{
		AppointmentID: appointmentID,
		CalendarID:    calendarID,
		EventID:       eventID,
		Status:        status,
		SyncedAt:      now,
	}); err != nil {
		return err
	}
	syncStatus := SyncStatusSynced
	if status == LinkCancelled {
		syncStatus = SyncStatusCancelled
	}
	return s.writeMeta(ctx, appointmentID, map[string]string{
		appointment.MetaEventID:      eventID,
		appointment.MetaSyncStatus:   syncStatus,
		appointment.MetaLastSyncedAt: now.Format(time.RFC3339),
		appointment.MetaLastError:    "",
	})
}

// fail records the failure where possible and returns it as a *SyncError.
func (s *Syncer) fail(ctx context.Context, op string, appointmentID uuid.UUID, calendarID, eventID string, cause error) error {
	s.logger.Warn("calendar sync failed",
		zap.String("op", op),
		zap.String("appointment_id", appointmentID.String()),
		zap.Error(cause),
	)
	if calendarID != "" {
		_ = s.links.UpsertLink(ctx, Link{
			AppointmentID: appointmentID,
			CalendarID:    calendarID,
			EventID:       eventID,
			Status:        LinkFailed,
			LastError:     cause.Error(),
			SyncedAt:      s.now().UTC(),
		})
	}
	_ = s.writeMeta(ctx, appointmentID, map[string]string{
		appointment.MetaSyncStatus: SyncStatusFailed,
		appointment.MetaLastError:  cause.Error(),
	})
	return &SyncError{Op: op, AppointmentID: appointmentID, Err: cause}
}

func (s *Syncer) writeMeta(ctx context.Context, id uuid.UUID, meta map[string]string) error {
	if s.meta == nil {
		return nil
	}
	return s.meta.SetCalendarMeta(ctx, id, meta)
}
