package reminder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
	"github.com/hackgods/vet-appointment-scheduling/internal/metrics"
)

type JobStatus string

const (
	JobScheduled JobStatus = "scheduled"
	JobDelivered JobStatus = "delivered"
	JobCancelled JobStatus = "cancelled"
	JobSkipped   JobStatus = "skipped"
)

// Job is one reminder for one appointment at one lead time.
type Job struct {
	ID               uuid.UUID
	AppointmentID    uuid.UUID
	Offset           time.Duration
	FireAt           time.Time
	AppointmentStart time.Time // start the reminder was computed for
	Channel          string
	Status           JobStatus
	Attempts         int
	LastError        string
	CreatedAt        time.Time
	DeliveredAt      *time.Time
}

// Store persists reminder jobs.
type Store interface {
	// ReplaceJobs cancels the appointment's scheduled jobs and inserts jobs in their place,
	// serialized per appointment. Nothing changes and applied is false when the appointment
	// is no longer reminder eligible or no longer starts at start.
	ReplaceJobs(ctx context.Context, appointmentID uuid.UUID, start time.Time, jobs []Job) (cancelled []Job, applied bool, err error)
	// CancelOutstanding marks every scheduled job of the appointment cancelled and returns them.
	CancelOutstanding(ctx context.Context, appointmentID uuid.UUID) ([]Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	// MarkDelivered reports false when the job was no longer scheduled.
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkSkipped(ctx context.Context, id uuid.UUID, reason string) error
	RecordAttempt(ctx context.Context, id uuid.UUID, lastError string) error
}

// Queue hands jobs to the delayed task queue.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Delete(ctx context.Context, jobID uuid.UUID) error
}

type Scheduler struct {
	store     Store
	queue     Queue
	leadTimes []time.Duration
	channel   string
	logger    *zap.Logger
	metrics   *metrics.SchedulingMetrics
	now       func() time.Time
}

func NewScheduler(store Store, queue Queue, leadTimes []time.Duration, channel string, logger *zap.Logger, m *metrics.SchedulingMetrics) *Scheduler {
	if store == nil || queue == nil {
		panic("reminder: store and queue required")
	}
	lt := append([]time.Duration(nil), leadTimes...)
	sort.Slice(lt, func(i, j int) bool { return lt[i] > lt[j] })
	if channel == "" {
		channel = "push"
	}
	return &Scheduler{
		store:     store,
		queue:     queue,
		leadTimes: lt,
		channel:   channel,
		logger:    logging.OrNop(logger),
		metrics:   m,
		now:       time.Now,
	}
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	if now != nil {
		s.now = now
	}
	return s
}

// ScheduleReminders replaces the appointment's outstanding reminders with one job per lead
// time whose fire time is still ahead. Appointments that are no longer reminder eligible
// just get their jobs cancelled. Safe to call repeatedly for the same appointment.
func (s *Scheduler) ScheduleReminders(ctx context.Context, appt appointment.Appointment) ([]Job, error) {
	if !appointment.ReminderEligible(appt.Status) {
		return nil, s.CancelReminders(ctx, appt.ID)
	}

	now := s.now()
	var jobs []Job
	for _, lead := range s.leadTimes {
		fireAt := appt.StartsAt.Add(-lead)
		if !fireAt.After(now) {
			continue
		}
		jobs = append(jobs, Job{
			ID:               uuid.New(),
			AppointmentID:    appt.ID,
			Offset:           lead,
			FireAt:           fireAt.UTC(),
			AppointmentStart: appt.StartsAt.UTC(),
			Channel:          s.channel,
			Status:           JobScheduled,
			CreatedAt:        now.UTC(),
		})
	}

	cancelled, applied, err := s.store.ReplaceJobs(ctx, appt.ID, appt.StartsAt.UTC(), jobs)
	if err != nil {
		return nil, fmt.Errorf("replace reminder jobs: %w", err)
	}
	if !applied {
		// a newer change to the appointment has its own event and reschedules from there
		s.logger.Debug("stale reminder schedule ignored",
			zap.String("appointment_id", appt.ID.String()),
		)
		return nil, nil
	}
	s.dequeue(ctx, cancelled)
	if len(jobs) == 0 {
		return nil, nil
	}

	for _, job := range jobs {
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return nil, fmt.Errorf("enqueue reminder %s: %w", job.ID, err)
		}
	}

	s.metrics.ObserveReminder("scheduled", len(jobs))
	s.logger.Debug("reminders scheduled",
		zap.String("appointment_id", appt.ID.String()),
		zap.Int("count", len(jobs)),
	)
	return jobs, nil
}

// CancelReminders cancels every outstanding job of the appointment and removes the queued tasks.
func (s *Scheduler) CancelReminders(ctx context.Context, appointmentID uuid.UUID) error {
	cancelled, err := s.store.CancelOutstanding(ctx, appointmentID)
	if err != nil {
		return fmt.Errorf("cancel reminder jobs: %w", err)
	}
	s.dequeue(ctx, cancelled)
	return nil
}

func (s *Scheduler) dequeue(ctx context.Context, cancelled []Job) {
	for _, job := range cancelled {
		if err := s.queue.Delete(ctx, job.ID); err != nil {
			// the delivery handler re-checks job status, so a leftover task is harmless
			s.logger.Warn("failed to delete queued reminder",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
		}
	}
	s.metrics.ObserveReminder("cancelled", len(cancelled))
}
