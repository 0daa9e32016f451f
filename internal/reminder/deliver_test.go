package reminder

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

type deliverFixture struct {
	store    *memJobStore
	source   *stubSource
	notifier *recordingNotifier
	d        *Deliverer
	appt     appointment.Appointment
	job      Job
}

func newDeliverFixture(t *testing.T) *deliverFixture {
	t.Helper()
	owner := uuid.New()
	appt := confirmedAt(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	appt.Type = appointment.TypeWellnessExam
	source := &stubSource{
		appts:  map[uuid.UUID]appointment.Appointment{appt.ID: appt},
		vet:    appointment.Veterinarian{ID: appt.VetID, Name: "Dr. Hale"},
		pet:    appointment.Pet{ID: appt.PetID, OwnerID: owner, Name: "Biscuit"},
		clinic: appointment.Clinic{Name: "Riverside", Timezone: "UTC"},
	}
	store := newMemJobStore()
	job := Job{
		ID:               uuid.New(),
		AppointmentID:    appt.ID,
		Offset:           time.Hour,
		FireAt:           appt.StartsAt.Add(-time.Hour),
		AppointmentStart: appt.StartsAt,
		Channel:          "push",
		Status:           JobScheduled,
	}
	store.put(job)

	notifier := &recordingNotifier{}
	return &deliverFixture{
		store:    store,
		source:   source,
		notifier: notifier,
		d:        NewDeliverer(store, source, notifier, nil, nil),
		appt:     appt,
		job:      job,
	}
}

func TestDeliverSendsToPetOwner(t *testing.T) {
	f := newDeliverFixture(t)

	require.NoError(t, f.d.Deliver(context.Background(), f.job.ID))

	require.Len(t, f.notifier.sent, 1)
	sent := f.notifier.sent[0]
	assert.Equal(t, f.source.pet.OwnerID, sent.userID)
	assert.Contains(t, sent.body, "wellness exam")
	assert.Contains(t, sent.body, "Dr. Hale")
	assert.Equal(t, f.appt.ID.String(), sent.meta["appointment_id"])

	got, err := f.store.GetJob(context.Background(), f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobDelivered, got.Status)
}

func TestDeliverTwiceSendsOnce(t *testing.T) {
	f := newDeliverFixture(t)
	ctx := context.Background()

	require.NoError(t, f.d.Deliver(ctx, f.job.ID))
	require.NoError(t, f.d.Deliver(ctx, f.job.ID))
	assert.Len(t, f.notifier.sent, 1)
}

func TestDeliverSkipsIneligibleAppointments(t *testing.T) {
	cases := map[string]func(f *deliverFixture){
		"cancelled": func(f *deliverFixture) {
			a := f.appt
			a.Status = appointment.StatusCancelled
			f.source.appts[a.ID] = a
		},
		"checked in": func(f *deliverFixture) {
			a := f.appt
			a.Status = appointment.StatusCheckedIn
			f.source.appts[a.ID] = a
		},
		"rescheduled": func(f *deliverFixture) {
			a := f.appt
			a.StartsAt = a.StartsAt.Add(2 * time.Hour)
			f.source.appts[a.ID] = a
		},
		"deleted": func(f *deliverFixture) {
			delete(f.source.appts, f.appt.ID)
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newDeliverFixture(t)
			mutate(f)

			require.NoError(t, f.d.Deliver(context.Background(), f.job.ID))
			assert.Empty(t, f.notifier.sent)

			got, err := f.store.GetJob(context.Background(), f.job.ID)
			require.NoError(t, err)
			assert.Equal(t, JobSkipped, got.Status)
		})
	}
}

func TestDeliverCancelledJobIsNoop(t *testing.T) {
	f := newDeliverFixture(t)
	_, err := f.store.CancelOutstanding(context.Background(), f.appt.ID)
	require.NoError(t, err)

	require.NoError(t, f.d.Deliver(context.Background(), f.job.ID))
	assert.Empty(t, f.notifier.sent)
}

func TestDeliverNotifierFailure(t *testing.T) {
	f := newDeliverFixture(t)
	f.notifier.err = errRelayDown

	err := f.d.Deliver(context.Background(), f.job.ID)
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, f.job.ID, de.JobID)
	assert.ErrorIs(t, err, errRelayDown)

	got, err := f.store.GetJob(context.Background(), f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobScheduled, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestHandleTask(t *testing.T) {
	f := newDeliverFixture(t)

	task, _, err := NewReminderTask(f.job, "reminders", 3)
	require.NoError(t, err)
	require.NoError(t, f.d.HandleTask(context.Background(), task))
	assert.Len(t, f.notifier.sent, 1)

	bad := asynq.NewTask(TypeSendReminder, []byte(`not json`))
	assert.ErrorIs(t, f.d.HandleTask(context.Background(), bad), asynq.SkipRetry)
}

func TestNewReminderTaskOptions(t *testing.T) {
	job := Job{ID: uuid.New(), AppointmentID: uuid.New(), FireAt: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}

	task, opts, err := NewReminderTask(job, "reminders", 5)
	require.NoError(t, err)
	assert.Equal(t, TypeSendReminder, task.Type())

	var p taskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, job.ID, p.JobID)

	byType := map[asynq.OptionType]any{}
	for _, o := range opts {
		byType[o.Type()] = o.Value()
	}
	assert.Equal(t, job.ID.String(), byType[asynq.TaskIDOpt])
	assert.Equal(t, "reminders", byType[asynq.QueueOpt])
	assert.Equal(t, 5, byType[asynq.MaxRetryOpt])
	assert.Equal(t, job.FireAt, byType[asynq.ProcessAtOpt])
}
