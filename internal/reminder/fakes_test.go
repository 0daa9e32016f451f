package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

type memJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]Job
	// starts, when set, holds the committed start of each appointment
	starts map[uuid.UUID]time.Time
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: map[uuid.UUID]Job{}}
}

func (s *memJobStore) put(jobs ...Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
}

func (s *memJobStore) ReplaceJobs(_ context.Context, appointmentID uuid.UUID, start time.Time, jobs []Job) ([]Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.starts[appointmentID]; ok && !current.Equal(start) {
		return nil, false, nil
	}
	cancelled := s.cancelLocked(appointmentID)
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return cancelled, true, nil
}

func (s *memJobStore) CancelOutstanding(_ context.Context, appointmentID uuid.UUID) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(appointmentID), nil
}

func (s *memJobStore) cancelLocked(appointmentID uuid.UUID) []Job {
	var out []Job
	for id, j := range s.jobs {
		if j.AppointmentID == appointmentID && j.Status == JobScheduled {
			j.Status = JobCancelled
			s.jobs[id] = j
			out = append(out, j)
		}
	}
	return out
}

func (s *memJobStore) GetJob(_ context.Context, id uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &j, nil
}

func (s *memJobStore) MarkDelivered(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != JobScheduled {
		return false, nil
	}
	j.Status = JobDelivered
	j.DeliveredAt = &at
	j.Attempts++
	s.jobs[id] = j
	return true, nil
}

func (s *memJobStore) MarkSkipped(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.Status == JobScheduled {
		j.Status = JobSkipped
		j.LastError = reason
		s.jobs[id] = j
	}
	return nil
}

func (s *memJobStore) RecordAttempt(_ context.Context, id uuid.UUID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Attempts++
		j.LastError = lastError
		s.jobs[id] = j
	}
	return nil
}

func (s *memJobStore) byStatus(appointmentID uuid.UUID, status JobStatus) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		if j.AppointmentID == appointmentID && j.Status == status {
			out = append(out, j)
		}
	}
	return out
}

type memQueue struct {
	mu        sync.Mutex
	queued    map[uuid.UUID]Job
	deleted   []uuid.UUID
	enqueueFn func(Job) error
}

func newMemQueue() *memQueue {
	return &memQueue{queued: map[uuid.UUID]Job{}}
}

func (q *memQueue) Enqueue(_ context.Context, job Job) error {
	if q.enqueueFn != nil {
		if err := q.enqueueFn(job); err != nil {
			return err
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued[job.ID] = job
	return nil
}

func (q *memQueue) Delete(_ context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queued, jobID)
	q.deleted = append(q.deleted, jobID)
	return nil
}

func (q *memQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued)
}

type stubSource struct {
	appts  map[uuid.UUID]appointment.Appointment
	vet    appointment.Veterinarian
	pet    appointment.Pet
	clinic appointment.Clinic
}

func (s *stubSource) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, ok := s.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *stubSource) GetVeterinarian(context.Context, uuid.UUID) (*appointment.Veterinarian, error) {
	v := s.vet
	return &v, nil
}

func (s *stubSource) GetPet(context.Context, uuid.UUID) (*appointment.Pet, error) {
	p := s.pet
	return &p, nil
}

func (s *stubSource) GetClinic(context.Context, uuid.UUID) (*appointment.Clinic, error) {
	c := s.clinic
	return &c, nil
}

type sentNotification struct {
	userID uuid.UUID
	title  string
	body   string
	meta   map[string]string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, userID uuid.UUID, title, body string, meta map[string]string) error {
	if n.err != nil {
		return n.err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{userID: userID, title: title, body: body, meta: meta})
	return nil
}

var errRelayDown = errors.New("relay down")
