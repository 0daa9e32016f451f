package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
	"github.com/hackgods/vet-appointment-scheduling/internal/metrics"
	"github.com/hackgods/vet-appointment-scheduling/internal/notify"
)

var ErrJobNotFound = errors.New("reminder job not found")

// DeliveryError means the notifier failed for a job. The task is retried by the queue.
type DeliveryError struct {
	JobID uuid.UUID
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver reminder %s: %v", e.JobID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// AppointmentSource is the read side the deliverer needs to render and address a reminder.
type AppointmentSource interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetVeterinarian(ctx context.Context, id uuid.UUID) (*appointment.Veterinarian, error)
	GetPet(ctx context.Context, id uuid.UUID) (*appointment.Pet, error)
	GetClinic(ctx context.Context, id uuid.UUID) (*appointment.Clinic, error)
}

type Deliverer struct {
	store    Store
	appts    AppointmentSource
	notifier notify.Notifier
	logger   *zap.Logger
	metrics  *metrics.SchedulingMetrics
	now      func() time.Time
}

func NewDeliverer(store Store, appts AppointmentSource, notifier notify.Notifier, logger *zap.Logger, m *metrics.SchedulingMetrics) *Deliverer {
	return &Deliverer{
		store:    store,
		appts:    appts,
		notifier: notifier,
		logger:   logging.OrNop(logger),
		metrics:  m,
		now:      time.Now,
	}
}

// Deliver sends the reminder for jobID if it is still wanted. A job that was cancelled,
// already delivered, or whose appointment moved or left pending/confirmed is dropped
// without error, which makes repeated deliveries of one task harmless.
func (d *Deliverer) Deliver(ctx context.Context, jobID uuid.UUID) error {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			d.logger.Warn("reminder job missing", zap.String("job_id", jobID.String()))
			return nil
		}
		return fmt.Errorf("load reminder job: %w", err)
	}
	if job.Status != JobScheduled {
		d.metrics.ObserveReminder("duplicate", 1)
		return nil
	}

	appt, err := d.appts.GetAppointmentByID(ctx, job.AppointmentID)
	if err != nil {
		if appointment.IsNotFound(err) {
			return d.skip(ctx, job, "appointment not found")
		}
		return fmt.Errorf("load appointment: %w", err)
	}
	if !appointment.ReminderEligible(appt.Status) {
		return d.skip(ctx, job, "appointment is "+string(appt.Status))
	}
	if !appt.StartsAt.Equal(job.AppointmentStart) {
		return d.skip(ctx, job, "appointment was rescheduled")
	}

	pet, err := d.appts.GetPet(ctx, appt.PetID)
	if err != nil {
		return fmt.Errorf("load pet: %w", err)
	}
	title, body, err := d.render(ctx, *appt, pet)
	if err != nil {
		return err
	}

	meta := map[string]string{
		"appointment_id": appt.ID.String(),
		"reminder_id":    job.ID.String(),
		"channel":        job.Channel,
		"starts_at":      appt.StartsAt.Format(time.RFC3339),
	}
	if err := d.notifier.Send(ctx, pet.OwnerID, title, body, meta); err != nil {
		_ = d.store.RecordAttempt(ctx, job.ID, err.Error())
		d.metrics.ObserveReminder("failed", 1)
		return &DeliveryError{JobID: job.ID, Err: err}
	}

	ok, err := d.store.MarkDelivered(ctx, job.ID, d.now().UTC())
	if err != nil {
		return fmt.Errorf("mark reminder delivered: %w", err)
	}
	if !ok {
		d.logger.Info("reminder delivered concurrently", zap.String("job_id", job.ID.String()))
		return nil
	}
	d.metrics.ObserveReminder("delivered", 1)
	d.logger.Info("reminder delivered",
		zap.String("job_id", job.ID.String()),
		zap.String("appointment_id", appt.ID.String()),
		zap.Duration("lead", job.Offset),
	)
	return nil
}

func (d *Deliverer) skip(ctx context.Context, job *Job, reason string) error {
	if err := d.store.MarkSkipped(ctx, job.ID, reason); err != nil {
		return fmt.Errorf("mark reminder skipped: %w", err)
	}
	d.metrics.ObserveReminder("skipped", 1)
	d.logger.Debug("reminder skipped", zap.String("job_id", job.ID.String()), zap.String("reason", reason))
	return nil
}

func (d *Deliverer) render(ctx context.Context, appt appointment.Appointment, pet *appointment.Pet) (string, string, error) {
	vet, err := d.appts.GetVeterinarian(ctx, appt.VetID)
	if err != nil {
		return "", "", fmt.Errorf("load veterinarian: %w", err)
	}
	loc := time.UTC
	clinicName := ""
	if clinic, err := d.appts.GetClinic(ctx, appt.ClinicID); err == nil {
		clinicName = clinic.Name
		if l, err := time.LoadLocation(clinic.Timezone); err == nil {
			loc = l
		}
	}

	local := appt.StartsAt.In(loc)
	title := fmt.Sprintf("Upcoming appointment for %s", pet.Name)
	body := fmt.Sprintf("%s has a %s appointment with %s on %s at %s.",
		pet.Name, humanType(appt.Type), vet.Name, local.Format("Mon Jan 2"), local.Format("15:04 MST"))
	if clinicName != "" {
		body += " Location: " + clinicName + "."
	}
	return title, body, nil
}

func humanType(t appointment.AppointmentType) string {
	return strings.ReplaceAll(string(t), "_", " ")
}

// HandleTask is the asynq handler for TypeSendReminder tasks.
func (d *Deliverer) HandleTask(ctx context.Context, task *asynq.Task) error {
	p, err := parseTaskPayload(task)
	if err != nil {
		d.logger.Error("invalid reminder task", zap.Error(err))
		return err
	}
	return d.Deliver(ctx, p.JobID)
}
