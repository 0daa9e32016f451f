package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
	"github.com/hackgods/vet-appointment-scheduling/internal/reminder"
)

type AppointmentLoader interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

type CalendarReconciler interface {
	Reconcile(ctx context.Context, appt appointment.Appointment) error
}

type ReminderScheduler interface {
	ScheduleReminders(ctx context.Context, appt appointment.Appointment) ([]reminder.Job, error)
	CancelReminders(ctx context.Context, appointmentID uuid.UUID) error
}

// Dispatcher turns appointment events into calendar and reminder work. It always acts on the
// appointment as currently stored, so stale or reordered events converge on the latest state.
type Dispatcher struct {
	appts     AppointmentLoader
	calendar  CalendarReconciler
	reminders ReminderScheduler
	logger    *zap.Logger
}

// NewDispatcher wires the side effects. calendar may be nil when calendar sync is disabled.
func NewDispatcher(appts AppointmentLoader, calendar CalendarReconciler, reminders ReminderScheduler, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		appts:     appts,
		calendar:  calendar,
		reminders: reminders,
		logger:    logging.OrNop(logger),
	}
}

func (d *Dispatcher) Handle(ctx context.Context, entry Entry) error {
	switch entry.Type {
	case appointment.EventAppointmentCreated, appointment.EventAppointmentRescheduled, appointment.EventAppointmentStatus:
	default:
		d.logger.Warn("unhandled outbox event type", zap.String("type", entry.Type), zap.String("event_id", entry.ID.String()))
		return nil
	}

	appt, err := d.appts.GetAppointmentByID(ctx, entry.AppointmentID)
	if err != nil {
		if appointment.IsNotFound(err) {
			d.logger.Warn("outbox event for missing appointment", zap.String("appointment_id", entry.AppointmentID.String()))
			return nil
		}
		return fmt.Errorf("load appointment: %w", err)
	}

	var errs []error
	if d.calendar != nil {
		if err := d.calendar.Reconcile(ctx, *appt); err != nil {
			errs = append(errs, err)
		}
	}
	if d.reminders != nil {
		if err := d.syncReminders(ctx, entry.Type, *appt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) syncReminders(ctx context.Context, eventType string, appt appointment.Appointment) error {
	if !appointment.ReminderEligible(appt.Status) {
		return d.reminders.CancelReminders(ctx, appt.ID)
	}
	if eventType == appointment.EventAppointmentStatus {
		// pending -> confirmed keeps the start time, so existing jobs stay valid
		return nil
	}
	_, err := d.reminders.ScheduleReminders(ctx, appt)
	return err
}
