package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Repository. Transactions run one at a time against a copy of the
// appointment table that is swapped in only on success.
type memStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	vets    map[uuid.UUID]*Veterinarian
	pets    map[uuid.UUID]*Pet
	clinics map[uuid.UUID]*Clinic
	users   map[uuid.UUID]*User
	hours   map[uuid.UUID]*WeeklyHours

	appts  map[uuid.UUID]Appointment
	events []OutboxEvent
	seq    int64

	// beforeTx runs at the start of every InTx, outside the data lock.
	beforeTx func()
	// appendErr makes AppendEvent fail.
	appendErr error
}

func newMemStore() *memStore {
	return &memStore{
		vets:    map[uuid.UUID]*Veterinarian{},
		pets:    map[uuid.UUID]*Pet{},
		clinics: map[uuid.UUID]*Clinic{},
		users:   map[uuid.UUID]*User{},
		hours:   map[uuid.UUID]*WeeklyHours{},
		appts:   map[uuid.UUID]Appointment{},
	}
}

func (m *memStore) GetVeterinarian(_ context.Context, id uuid.UUID) (*Veterinarian, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.vets[id]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, ErrVetNotFound
}

func (m *memStore) GetPet(_ context.Context, id uuid.UUID) (*Pet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.pets[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrPetNotFound
}

func (m *memStore) GetClinic(_ context.Context, id uuid.UUID) (*Clinic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.clinics[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, ErrClinicNotFound
}

func (m *memStore) GetUser(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, ErrUserNotFound
}

func (m *memStore) GetWorkingHours(_ context.Context, vetID uuid.UUID) (*WeeklyHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.vets[vetID]; !ok {
		return nil, ErrVetNotFound
	}
	if h, ok := m.hours[vetID]; ok {
		cp := *h
		return &cp, nil
	}
	return nil, ErrWorkingHoursNotFound
}

func (m *memStore) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lookup(m.appts, id)
}

func (m *memStore) ListAppointmentsForVet(_ context.Context, vetID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return overlapping(m.appts, vetID, from, to, false), nil
}

func (m *memStore) FindOverdue(_ context.Context, startedBefore time.Time, limit int) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Appointment
	for _, a := range m.appts {
		if (a.Status == StatusPending || a.Status == StatusConfirmed) && a.StartsAt.Before(startedBefore) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) SetCalendarMeta(_ context.Context, id uuid.UUID, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	merged := map[string]string{}
	for k, v := range a.CalendarMeta {
		merged[k] = v
	}
	for k, v := range meta {
		merged[k] = v
	}
	a.CalendarMeta = merged
	m.appts[id] = a
	return nil
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if m.beforeTx != nil {
		m.beforeTx()
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	tx := &memTx{store: m, appts: make(map[uuid.UUID]Appointment, len(m.appts)), seq: m.seq}
	for k, v := range m.appts {
		tx.appts[k] = v
	}
	m.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	m.appts = tx.appts
	m.events = append(m.events, tx.events...)
	m.seq = tx.seq
	m.mu.Unlock()
	return nil
}

func (m *memStore) eventsFor(id uuid.UUID) []OutboxEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []OutboxEvent
	for _, ev := range m.events {
		if ev.AppointmentID == id {
			out = append(out, ev)
		}
	}
	return out
}

func (m *memStore) all() []Appointment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Appointment, 0, len(m.appts))
	for _, a := range m.appts {
		out = append(out, a)
	}
	sortByStart(out)
	return out
}

// bumpVersion simulates a concurrent writer.
func (m *memStore) bumpVersion(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.appts[id]
	a.Version++
	m.appts[id] = a
}

type memTx struct {
	store  *memStore
	appts  map[uuid.UUID]Appointment
	events []OutboxEvent
	seq    int64
}

func (t *memTx) LockVet(context.Context, uuid.UUID) error { return nil }

func (t *memTx) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	return lookup(t.appts, id)
}

func (t *memTx) ListOccupying(_ context.Context, vetID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return overlapping(t.appts, vetID, from, to, true), nil
}

func (t *memTx) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	t.seq++
	now := time.Now().UTC()
	a.Seq = t.seq
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.CalendarMeta == nil {
		a.CalendarMeta = map[string]string{}
	}
	t.appts[a.ID] = a
	cp := a
	return &cp, nil
}

func (t *memTx) UpdateSchedule(_ context.Context, current Appointment, start time.Time, durationMinutes int) (*Appointment, error) {
	id := current.ID
	a, ok := t.appts[id]
	if !ok || a.Version != current.Version {
		return nil, ErrConcurrency
	}
	a.StartsAt = start
	a.DurationMinutes = durationMinutes
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	t.appts[id] = a
	cp := a
	return &cp, nil
}

func (t *memTx) UpdateStatus(_ context.Context, id uuid.UUID, expectedVersion int64, to AppointmentStatus) (*Appointment, error) {
	a, ok := t.appts[id]
	if !ok || a.Version != expectedVersion {
		return nil, ErrConcurrency
	}
	a.Status = to
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	t.appts[id] = a
	cp := a
	return &cp, nil
}

func (t *memTx) AppendEvent(_ context.Context, ev OutboxEvent) error {
	if t.store.appendErr != nil {
		return t.store.appendErr
	}
	t.events = append(t.events, ev)
	return nil
}

func lookup(appts map[uuid.UUID]Appointment, id uuid.UUID) (*Appointment, error) {
	a, ok := appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func overlapping(appts map[uuid.UUID]Appointment, vetID uuid.UUID, from, to time.Time, occupyingOnly bool) []Appointment {
	window := Interval{Start: from, End: to}
	var out []Appointment
	for _, a := range appts {
		if a.VetID != vetID {
			continue
		}
		if occupyingOnly && !a.Status.Occupying() {
			continue
		}
		if a.Interval().Overlaps(window) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out
}

func sortByStart(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		return appts[i].StartsAt.Before(appts[j].StartsAt)
	})
}
