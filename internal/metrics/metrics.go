package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for booking, transitions and side effects.
type SchedulingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	calendarTotal    *prometheus.CounterVec
	remindersTotal   *prometheus.CounterVec
	outboxTotal      *prometheus.CounterVec
	outboxLag        prometheus.Histogram
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vetsched",
			Subsystem: "appointments",
			Name:      "bookings_total",
			Help:      "Booking and reschedule attempts by operation and outcome",
		}, []string{"operation", "outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vetsched",
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Committed status transitions",
		}, []string{"from", "to"}),
		calendarTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vetsched",
			Subsystem: "calendar",
			Name:      "sync_total",
			Help:      "External calendar sync calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		remindersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vetsched",
			Subsystem: "reminders",
			Name:      "jobs_total",
			Help:      "Reminder jobs by event (scheduled, cancelled, delivered, skipped, failed)",
		}, []string{"event"}),
		outboxTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vetsched",
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox events handled by type and outcome",
		}, []string{"type", "outcome"}),
		outboxLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vetsched",
			Subsystem: "outbox",
			Name:      "delivery_lag_seconds",
			Help:      "Delay between an event being written and successfully handled",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.transitionsTotal, m.calendarTotal, m.remindersTotal, m.outboxTotal, m.outboxLag)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(operation, outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *SchedulingMetrics) ObserveCalendarSync(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.calendarTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveReminder(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.remindersTotal.WithLabelValues(event).Add(float64(n))
}

func (m *SchedulingMetrics) ObserveOutbox(eventType, outcome string, lagSeconds float64) {
	if m == nil {
		return
	}
	m.outboxTotal.WithLabelValues(eventType, outcome).Inc()
	if outcome == "delivered" {
		m.outboxLag.Observe(lagSeconds)
	}
}
