package calendar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

type syncFixture struct {
	provider *fakeProvider
	links    *memLinks
	meta     *metaRecorder
	syncer   *Syncer
	appt     appointment.Appointment
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	calendarID := "dr-hale@example.com"
	dir := &stubDirectory{
		vet:    appointment.Veterinarian{Name: "Dr. Hale", CalendarID: &calendarID},
		pet:    appointment.Pet{Name: "Biscuit", Species: "dog"},
		clinic: appointment.Clinic{Name: "Riverside", Timezone: "America/Chicago"},
	}
	f := &syncFixture{
		provider: newFakeProvider(),
		links:    newMemLinks(),
		meta:     &metaRecorder{},
		appt: appointment.Appointment{
			ID:              uuid.New(),
			VetID:           uuid.New(),
			PetID:           uuid.New(),
			ClinicID:        uuid.New(),
			StartsAt:        time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC),
			DurationMinutes: 30,
			Type:            appointment.TypeVaccination,
			Status:          appointment.StatusConfirmed,
		},
	}
	f.syncer = NewSyncer(f.provider, f.links, f.meta, dir, nil, nil).
		WithRateLimit(0).
		WithRetries(2, time.Millisecond)
	return f
}

func TestEventIDForIsDeterministic(t *testing.T) {
	id := uuid.MustParse("9b2f3c1e-4a5d-4e6f-8a9b-0c1d2e3f4a5b")
	assert.Equal(t, "appt9b2f3c1e4a5d4e6f8a9b0c1d2e3f4a5b", EventIDFor(id))
	assert.Equal(t, EventIDFor(id), EventIDFor(id))
}

func TestSyncCreateRecordsLinkAndMeta(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	eventID, err := f.syncer.SyncCreate(ctx, f.appt)
	require.NoError(t, err)
	assert.Equal(t, EventIDFor(f.appt.ID), eventID)

	ev := f.provider.events["dr-hale@example.com/"+eventID]
	assert.Equal(t, "Biscuit (dog) - vaccination", ev.Summary)
	assert.Equal(t, f.appt.EndsAt(), ev.End)
	assert.Equal(t, "America/Chicago", ev.TimeZone)

	link, err := f.links.GetLink(ctx, f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, LinkSynced, link.Status)
	assert.Equal(t, SyncStatusSynced, f.meta.get(f.appt.ID)[appointment.MetaSyncStatus])
	assert.Equal(t, eventID, f.meta.get(f.appt.ID)[appointment.MetaEventID])
}

func TestSyncCreateTwiceYieldsOneEvent(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	first, err := f.syncer.SyncCreate(ctx, f.appt)
	require.NoError(t, err)
	second, err := f.syncer.SyncCreate(ctx, f.appt)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.provider.count())
	assert.Equal(t, 1, f.provider.creates)
}

func TestConcurrentSyncCreateConverges(t *testing.T) {
	f := newSyncFixture(t)

	var wg sync.WaitGroup
	ids := make([]string, 4)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := f.syncer.SyncCreate(context.Background(), f.appt)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, EventIDFor(f.appt.ID), id)
	}
	assert.Equal(t, 1, f.provider.count())
}

func TestSyncCreateLostResponseConverges(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	// event exists on the provider but the link was never written
	f.provider.events["dr-hale@example.com/"+EventIDFor(f.appt.ID)] = Event{ID: EventIDFor(f.appt.ID)}

	id, err := f.syncer.SyncCreate(ctx, f.appt)
	require.NoError(t, err)
	assert.Equal(t, EventIDFor(f.appt.ID), id)
	assert.Equal(t, 1, f.provider.count())
	assert.Equal(t, 1, f.provider.updates)
}

func TestSyncUpdateMovesEvent(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	eventID, err := f.syncer.SyncCreate(ctx, f.appt)
	require.NoError(t, err)

	f.appt.StartsAt = f.appt.StartsAt.Add(24 * time.Hour)
	require.NoError(t, f.syncer.SyncUpdate(ctx, f.appt, ""))

	ev := f.provider.events["dr-hale@example.com/"+eventID]
	assert.Equal(t, f.appt.StartsAt, ev.Start)
}

func TestSyncUpdateRecreatesMissingEvent(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	eventID, err := f.syncer.SyncCreate(ctx, f.appt)
	require.NoError(t, err)
	delete(f.provider.events, "dr-hale@example.com/"+eventID)

	require.NoError(t, f.syncer.SyncUpdate(ctx, f.appt, eventID))
	assert.Equal(t, 1, f.provider.count())
}

func TestSyncCancelRemovesEvent(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	eventID, err := f.syncer.SyncCreate(ctx, f.appt)
	require.NoError(t, err)

	require.NoError(t, f.syncer.SyncCancel(ctx, f.appt.ID, eventID))
	assert.Zero(t, f.provider.count())

	// already gone
	require.NoError(t, f.syncer.SyncCancel(ctx, f.appt.ID, eventID))
	assert.Equal(t, SyncStatusCancelled, f.meta.get(f.appt.ID)[appointment.MetaSyncStatus])
}

func TestReconcileFollowsStatus(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	require.NoError(t, f.syncer.Reconcile(ctx, f.appt))
	assert.Equal(t, 1, f.provider.count())

	f.appt.Status = appointment.StatusCancelled
	require.NoError(t, f.syncer.Reconcile(ctx, f.appt))
	assert.Zero(t, f.provider.count())

	deletes := f.provider.deletes
	require.NoError(t, f.syncer.Reconcile(ctx, f.appt))
	assert.Equal(t, deletes, f.provider.deletes)
}

func TestReconcileCancelWithoutLinkRemovesEvent(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	// the event exists on the provider but its link was never recorded
	_, err := f.provider.CreateEvent(ctx, "dr-hale@example.com", Event{ID: EventIDFor(f.appt.ID)})
	require.NoError(t, err)

	f.appt.Status = appointment.StatusCancelled
	require.NoError(t, f.syncer.Reconcile(ctx, f.appt))
	assert.Zero(t, f.provider.count())

	link, err := f.links.GetLink(ctx, f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, LinkCancelled, link.Status)
}

func TestReconcileCancelNeverSyncedSucceeds(t *testing.T) {
	f := newSyncFixture(t)
	f.appt.Status = appointment.StatusCancelled

	require.NoError(t, f.syncer.Reconcile(context.Background(), f.appt))
	assert.Equal(t, 1, f.provider.deletes)
	assert.Zero(t, f.provider.creates)
}

func TestSyncRetriesTransientFailures(t *testing.T) {
	f := newSyncFixture(t)
	f.provider.failures = []error{
		&RetryableError{Err: errors.New("503")},
		&RetryableError{Err: errors.New("429")},
	}

	_, err := f.syncer.SyncCreate(context.Background(), f.appt)
	require.NoError(t, err)
	assert.Equal(t, 3, f.provider.creates)
}

func TestSyncGivesUpAfterBoundedRetries(t *testing.T) {
	f := newSyncFixture(t)
	for i := 0; i < 5; i++ {
		f.provider.failures = append(f.provider.failures, &RetryableError{Err: errors.New("503")})
	}

	_, err := f.syncer.SyncCreate(context.Background(), f.appt)
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "create", se.Op)
	assert.Equal(t, 3, f.provider.creates)
	assert.Equal(t, SyncStatusFailed, f.meta.get(f.appt.ID)[appointment.MetaSyncStatus])

	link, err := f.links.GetLink(context.Background(), f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, LinkFailed, link.Status)
}

func TestSyncDoesNotRetryPermanentFailures(t *testing.T) {
	f := newSyncFixture(t)
	f.provider.failures = []error{errors.New("invalid calendar")}

	_, err := f.syncer.SyncCreate(context.Background(), f.appt)
	require.Error(t, err)
	assert.Equal(t, 1, f.provider.creates)
}
