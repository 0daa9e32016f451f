package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSchedulingMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveBooking("book", "ok")
	m.ObserveBooking("book", "conflict")
	m.ObserveBooking("book", "conflict")
	m.ObserveTransition("pending", "confirmed")
	m.ObserveCalendarSync("create", nil)
	m.ObserveCalendarSync("create", errors.New("down"))
	m.ObserveReminder("scheduled", 2)
	m.ObserveReminder("scheduled", 0)
	m.ObserveOutbox("appointment.created", "delivered", 0.3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("book", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("book", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitionsTotal.WithLabelValues("pending", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calendarTotal.WithLabelValues("create", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.remindersTotal.WithLabelValues("scheduled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboxTotal.WithLabelValues("appointment.created", "delivered")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *SchedulingMetrics
	m.ObserveBooking("book", "ok")
	m.ObserveTransition("a", "b")
	m.ObserveCalendarSync("create", nil)
	m.ObserveReminder("scheduled", 1)
	m.ObserveOutbox("x", "delivered", 1)
}
