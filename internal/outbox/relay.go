package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
	"github.com/hackgods/vet-appointment-scheduling/internal/metrics"
)

// Handler performs the side effects of one entry. It must be idempotent: an entry is
// redelivered until Handle returns nil or the attempt budget runs out.
type Handler interface {
	Handle(ctx context.Context, entry Entry) error
}

// Relay polls the outbox and hands due entries to the handler.
type Relay struct {
	store       Store
	handler     Handler
	logger      *zap.Logger
	metrics     *metrics.SchedulingMetrics
	batchSize   int
	interval    time.Duration
	lease       time.Duration
	maxAttempts int
	baseDelay   time.Duration
	now         func() time.Time
}

func NewRelay(store Store, handler Handler, logger *zap.Logger, m *metrics.SchedulingMetrics) *Relay {
	return &Relay{
		store:       store,
		handler:     handler,
		logger:      logging.OrNop(logger),
		metrics:     m,
		batchSize:   25,
		interval:    2 * time.Second,
		lease:       time.Minute,
		maxAttempts: 8,
		baseDelay:   5 * time.Second,
		now:         time.Now,
	}
}

func (r *Relay) WithBatchSize(n int) *Relay {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

func (r *Relay) WithInterval(d time.Duration) *Relay {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *Relay) WithMaxAttempts(n int) *Relay {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

func (r *Relay) WithBaseDelay(d time.Duration) *Relay {
	if d > 0 {
		r.baseDelay = d
	}
	return r
}

func (r *Relay) WithClock(now func() time.Time) *Relay {
	if now != nil {
		r.now = now
	}
	return r
}

// Run drains the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r.store == nil || r.handler == nil {
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", zap.Duration("interval", r.interval), zap.Int("batch_size", r.batchSize))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

// Drain processes one batch and returns how many entries were delivered.
func (r *Relay) Drain(ctx context.Context) int {
	entries, err := r.store.Claim(ctx, r.batchSize, r.lease)
	if err != nil {
		r.logger.Error("outbox claim failed", zap.Error(err))
		return 0
	}

	delivered := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return delivered
		}
		if err := r.handler.Handle(ctx, entry); err != nil {
			r.fail(ctx, entry, err)
			continue
		}
		ok, err := r.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			r.logger.Error("failed to mark outbox delivered", zap.String("event_id", entry.ID.String()), zap.Error(err))
			continue
		}
		if ok {
			delivered++
			r.metrics.ObserveOutbox(entry.Type, "delivered", r.now().Sub(entry.CreatedAt).Seconds())
			r.logger.Debug("outbox delivered", zap.String("event_id", entry.ID.String()), zap.String("type", entry.Type))
		}
	}
	return delivered
}

func (r *Relay) fail(ctx context.Context, entry Entry, cause error) {
	attempts := entry.Attempts + 1
	dead := attempts >= r.maxAttempts
	next := r.now().Add(r.nextDelay(attempts))

	outcome := "retry"
	if dead {
		outcome = "dead"
	}
	r.metrics.ObserveOutbox(entry.Type, outcome, 0)
	r.logger.Warn("outbox delivery failed",
		zap.String("event_id", entry.ID.String()),
		zap.String("appointment_id", entry.AppointmentID.String()),
		zap.String("type", entry.Type),
		zap.Int("attempts", attempts),
		zap.Bool("dead", dead),
		zap.Error(cause),
	)
	if err := r.store.MarkFailed(ctx, entry.ID, next, cause.Error(), dead); err != nil {
		r.logger.Error("failed to record outbox failure", zap.String("event_id", entry.ID.String()), zap.Error(err))
	}
}

func (r *Relay) nextDelay(attempts int) time.Duration {
	delay := r.baseDelay * time.Duration(1<<attempts)
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}
