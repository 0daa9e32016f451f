package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []AppointmentStatus{
	StatusPending, StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow,
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, from := range []AppointmentStatus{StatusCompleted, StatusCancelled, StatusNoShow} {
		require.True(t, from.Terminal())
		for _, to := range allStatuses {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransitionTable(t *testing.T) {
	allowed := map[AppointmentStatus][]AppointmentStatus{
		StatusPending:   {StatusConfirmed, StatusCancelled, StatusNoShow},
		StatusConfirmed: {StatusCheckedIn, StatusCancelled, StatusNoShow},
		StatusCheckedIn: {StatusCompleted, StatusCancelled, StatusNoShow},
	}
	for from, tos := range allowed {
		for _, to := range allStatuses {
			assert.Equal(t, contains(tos, to), CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func contains(list []AppointmentStatus, s AppointmentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestCheckTransitionRoles(t *testing.T) {
	p := DefaultPolicy()
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	now := start.Add(-48 * time.Hour)
	client := Actor{UserID: uuid.New(), Role: RoleClient}
	staff := Actor{UserID: uuid.New(), Role: RoleClinicStaff}
	vet := Actor{UserID: uuid.New(), Role: RoleVet}

	pending := Appointment{Status: StatusPending, StartsAt: start, DurationMinutes: 30}
	assert.ErrorIs(t, p.CheckTransition(client, pending, StatusConfirmed, now), ErrActorNotPermitted)
	assert.NoError(t, p.CheckTransition(staff, pending, StatusConfirmed, now))
	assert.NoError(t, p.CheckTransition(client, pending, StatusCancelled, now))
	assert.NoError(t, p.CheckTransition(SystemActor, pending, StatusConfirmed, now))

	checkedIn := Appointment{Status: StatusCheckedIn, StartsAt: start, DurationMinutes: 30}
	assert.ErrorIs(t, p.CheckTransition(staff, checkedIn, StatusCompleted, now), ErrActorNotPermitted)
	assert.NoError(t, p.CheckTransition(vet, checkedIn, StatusCompleted, now))
	assert.ErrorIs(t, p.CheckTransition(client, checkedIn, StatusCancelled, now), ErrActorNotPermitted)
}

func TestCheckTransitionRejectsUnknownPair(t *testing.T) {
	completed := Appointment{Status: StatusCompleted}
	err := DefaultPolicy().CheckTransition(SystemActor, completed, StatusConfirmed, time.Now())

	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, StatusCompleted, ite.From)
	assert.Equal(t, StatusConfirmed, ite.To)
}

func TestCheckInRequiresAppointmentDay(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	p := DefaultPolicy()
	p.CheckInLocation = loc
	staff := Actor{UserID: uuid.New(), Role: RoleClinicStaff}
	// 09:00 local on June 1st
	a := Appointment{Status: StatusConfirmed, StartsAt: time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC), DurationMinutes: 30}

	dayBefore := time.Date(2024, 5, 31, 23, 0, 0, 0, loc)
	err = p.CheckTransition(staff, a, StatusCheckedIn, dayBefore)
	var ite *InvalidTransitionError
	assert.ErrorAs(t, err, &ite)

	earlyMorning := time.Date(2024, 6, 1, 7, 0, 0, 0, loc)
	assert.NoError(t, p.CheckTransition(staff, a, StatusCheckedIn, earlyMorning))

	p.RequireCheckInOnDay = false
	assert.NoError(t, p.CheckTransition(staff, a, StatusCheckedIn, dayBefore))
}

func TestNoShowRequiresStartPassed(t *testing.T) {
	p := DefaultPolicy()
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	a := Appointment{Status: StatusConfirmed, StartsAt: start, DurationMinutes: 30}

	var ite *InvalidTransitionError
	assert.ErrorAs(t, p.CheckTransition(SystemActor, a, StatusNoShow, start), &ite)
	assert.NoError(t, p.CheckTransition(SystemActor, a, StatusNoShow, start.Add(time.Minute)))
}

func TestPolicyInitialStatus(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, StatusPending, p.InitialStatus())
	p.AutoConfirm = true
	assert.Equal(t, StatusConfirmed, p.InitialStatus())
}

func TestRescheduleAndReminderEligibility(t *testing.T) {
	for _, s := range allStatuses {
		want := s == StatusPending || s == StatusConfirmed
		assert.Equal(t, want, CanReschedule(s), s)
		assert.Equal(t, want, ReminderEligible(s), s)
	}
}
