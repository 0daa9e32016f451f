package calendar

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

type fakeProvider struct {
	mu      sync.Mutex
	events  map[string]Event
	creates int
	updates int
	deletes int
	// failures are returned, in order, before any call succeeds
	failures []error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{events: map[string]Event{}}
}

func (p *fakeProvider) nextFailure() error {
	if len(p.failures) == 0 {
		return nil
	}
	err := p.failures[0]
	p.failures = p.failures[1:]
	return err
}

func (p *fakeProvider) CreateEvent(_ context.Context, calendarID string, ev Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	if err := p.nextFailure(); err != nil {
		return "", err
	}
	key := calendarID + "/" + ev.ID
	if _, ok := p.events[key]; ok {
		return "", ErrEventExists
	}
	p.events[key] = ev
	return ev.ID, nil
}

func (p *fakeProvider) UpdateEvent(_ context.Context, calendarID string, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates++
	if err := p.nextFailure(); err != nil {
		return err
	}
	key := calendarID + "/" + ev.ID
	if _, ok := p.events[key]; !ok {
		return ErrEventNotFound
	}
	p.events[key] = ev
	return nil
}

func (p *fakeProvider) DeleteEvent(_ context.Context, calendarID, eventID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes++
	if err := p.nextFailure(); err != nil {
		return err
	}
	key := calendarID + "/" + eventID
	if _, ok := p.events[key]; !ok {
		return ErrEventNotFound
	}
	delete(p.events, key)
	return nil
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type memLinks struct {
	mu    sync.Mutex
	links map[uuid.UUID]Link
}

func newMemLinks() *memLinks {
	return &memLinks{links: map[uuid.UUID]Link{}}
}

func (m *memLinks) GetLink(_ context.Context, id uuid.UUID) (*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	if !ok {
		return nil, ErrLinkNotFound
	}
	return &l, nil
}

func (m *memLinks) UpsertLink(_ context.Context, link Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[link.AppointmentID] = link
	return nil
}

type metaRecorder struct {
	mu   sync.Mutex
	meta map[uuid.UUID]map[string]string
}

func (r *metaRecorder) SetCalendarMeta(_ context.Context, id uuid.UUID, meta map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.meta == nil {
		r.meta = map[uuid.UUID]map[string]string{}
	}
	if r.meta[id] == nil {
		r.meta[id] = map[string]string{}
	}
	for k, v := range meta {
		r.meta[id][k] = v
	}
	return nil
}

func (r *metaRecorder) get(id uuid.UUID) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta[id]
}

type stubDirectory struct {
	vet    appointment.Veterinarian
	pet    appointment.Pet
	clinic appointment.Clinic
}

func (d *stubDirectory) GetVeterinarian(context.Context, uuid.UUID) (*appointment.Veterinarian, error) {
	v := d.vet
	return &v, nil
}

func (d *stubDirectory) GetPet(context.Context, uuid.UUID) (*appointment.Pet, error) {
	p := d.pet
	return &p, nil
}

func (d *stubDirectory) GetClinic(context.Context, uuid.UUID) (*appointment.Clinic, error) {
	c := d.clinic
	return &c, nil
}
