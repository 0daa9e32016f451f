package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TypeSendReminder = "reminder:send"

type taskPayload struct {
	JobID         uuid.UUID `json:"job_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
}

// NewReminderTask builds the asynq task for a job. The job id doubles as the task id, so
// enqueueing the same job twice is rejected by the queue.
func NewReminderTask(job Job, queue string, maxRetry int) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(taskPayload{JobID: job.ID, AppointmentID: job.AppointmentID})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeSendReminder, b)
	opts := []asynq.Option{
		asynq.ProcessAt(job.FireAt),
		asynq.TaskID(job.ID.String()),
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
	}
	return task, opts, nil
}

func parseTaskPayload(task *asynq.Task) (taskPayload, error) {
	var p taskPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode reminder payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.JobID == uuid.Nil {
		return p, fmt.Errorf("reminder payload without job id: %w", asynq.SkipRetry)
	}
	return p, nil
}

// AsynqQueue schedules reminder tasks on Redis through asynq.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	maxRetry  int
}

func NewAsynqQueue(opt asynq.RedisConnOpt, queue string, maxRetry int) *AsynqQueue {
	if queue == "" {
		queue = "reminders"
	}
	return &AsynqQueue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queue:     queue,
		maxRetry:  maxRetry,
	}
}

func (q *AsynqQueue) Enqueue(ctx context.Context, job Job) error {
	task, opts, err := NewReminderTask(job, q.queue, q.maxRetry)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return err
	}
	return nil
}

func (q *AsynqQueue) Delete(_ context.Context, jobID uuid.UUID) error {
	err := q.inspector.DeleteTask(q.queue, jobID.String())
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return err
}

func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}
