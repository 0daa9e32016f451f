package appointment

import (
	"time"
)

// Policy holds the configurable parts of the booking and transition rules.
type Policy struct {
	// AutoConfirm books new appointments directly into confirmed instead of pending.
	AutoConfirm bool
	// RequireCheckInOnDay rejects check-in before the appointment's calendar day.
	RequireCheckInOnDay bool
	// CheckInLocation is the timezone used to compare calendar days for check-in.
	CheckInLocation *time.Location
}

func DefaultPolicy() Policy {
	return Policy{RequireCheckInOnDay: true, CheckInLocation: time.UTC}
}

// InitialStatus is the status a new booking starts in under this policy.
func (p Policy) InitialStatus() AppointmentStatus {
	if p.AutoConfirm {
		return StatusConfirmed
	}
	return StatusPending
}

type transition struct {
	from AppointmentStatus
	to   AppointmentStatus
}

type rule struct {
	roles        map[Role]bool
	precondition func(p Policy, a Appointment, now time.Time) bool
}

func roles(rs ...Role) map[Role]bool {
	m := make(map[Role]bool, len(rs)+1)
	for _, r := range rs {
		m[r] = true
	}
	m[RoleSystem] = true
	return m
}

var (
	anyParty   = roles(RoleClient, RoleClinicStaff, RoleVet)
	clinicSide = roles(RoleClinicStaff, RoleVet)
	vetOnly    = roles(RoleVet)
)

func startDayReached(p Policy, a Appointment, now time.Time) bool {
	if !p.RequireCheckInOnDay {
		return true
	}
	loc := p.CheckInLocation
	if loc == nil {
		loc = time.UTC
	}
	sy, sm, sd := a.StartsAt.In(loc).Date()
	startDay := time.Date(sy, sm, sd, 0, 0, 0, 0, loc)
	return !now.In(loc).Before(startDay)
}

func startPassed(_ Policy, a Appointment, now time.Time) bool {
	return now.After(a.StartsAt)
}

var transitions = map[transition]rule{
	{StatusPending, StatusConfirmed}:   {roles: clinicSide},
	{StatusPending, StatusCancelled}:   {roles: anyParty},
	{StatusConfirmed, StatusCheckedIn}: {roles: clinicSide, precondition: startDayReached},
	{StatusConfirmed, StatusCancelled}: {roles: anyParty},
	{StatusCheckedIn, StatusCompleted}: {roles: vetOnly},
	{StatusCheckedIn, StatusCancelled}: {roles: clinicSide},
	{StatusPending, StatusNoShow}:      {roles: clinicSide, precondition: startPassed},
	{StatusConfirmed, StatusNoShow}:    {roles: clinicSide, precondition: startPassed},
	{StatusCheckedIn, StatusNoShow}:    {roles: clinicSide, precondition: startPassed},
}

// CanTransition reports whether from -> to appears in the transition table, regardless of
// actor or preconditions.
func CanTransition(from, to AppointmentStatus) bool {
	_, ok := transitions[transition{from, to}]
	return ok
}

// CheckTransition validates moving a to status `to` at time now on behalf of actor.
// It never mutates a.
func (p Policy) CheckTransition(actor Actor, a Appointment, to AppointmentStatus, now time.Time) error {
	r, ok := transitions[transition{a.Status, to}]
	if !ok {
		return &InvalidTransitionError{From: a.Status, To: to}
	}
	if !r.roles[actor.Role] {
		return ErrActorNotPermitted
	}
	if r.precondition != nil && !r.precondition(p, a, now) {
		return &InvalidTransitionError{From: a.Status, To: to}
	}
	return nil
}

// CanReschedule reports whether start time and duration may still change in this status.
func CanReschedule(s AppointmentStatus) bool {
	return s == StatusPending || s == StatusConfirmed
}

// ReminderEligible reports whether reminders should be outstanding for an appointment in this status.
func ReminderEligible(s AppointmentStatus) bool {
	return s == StatusPending || s == StatusConfirmed
}
