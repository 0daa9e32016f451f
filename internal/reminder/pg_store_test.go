package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobColumnNames = []string{
	"id", "appointment_id", "offset_seconds", "fire_at", "appointment_start", "channel", "status",
	"attempts", "last_error", "created_at", "delivered_at",
}

func newMockStore(t *testing.T) (*PgStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgStore(mock), mock
}

func TestPgStoreReplaceJobs(t *testing.T) {
	store, mock := newMockStore(t)
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	apptID := uuid.New()
	oldID := uuid.New()
	job := Job{
		ID:               uuid.New(),
		AppointmentID:    apptID,
		Offset:           24 * time.Hour,
		FireAt:           start.Add(-24 * time.Hour),
		AppointmentStart: start,
		Channel:          "push",
		Status:           JobScheduled,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs(apptID.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(apptID, start).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`UPDATE reminder_jobs\s+SET status = 'cancelled'`).
		WithArgs(apptID).
		WillReturnRows(pgxmock.NewRows(jobColumnNames).
			AddRow(oldID, apptID, int64(3600), start.Add(-time.Hour), start, "push", "cancelled", 0, (*string)(nil), start, (*time.Time)(nil)))
	mock.ExpectExec(`INSERT INTO reminder_jobs`).
		WithArgs(job.ID, apptID, int64(86400), job.FireAt, start, "push", "scheduled").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	cancelled, applied, err := store.ReplaceJobs(context.Background(), apptID, start, []Job{job})
	require.NoError(t, err)
	assert.True(t, applied)
	require.Len(t, cancelled, 1)
	assert.Equal(t, oldID, cancelled[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreReplaceJobsStaleStart(t *testing.T) {
	store, mock := newMockStore(t)
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	apptID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs(apptID.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(apptID, start).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	cancelled, applied, err := store.ReplaceJobs(context.Background(), apptID, start, []Job{{ID: uuid.New(), AppointmentID: apptID}})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Empty(t, cancelled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreCancelOutstanding(t *testing.T) {
	store, mock := newMockStore(t)
	apptID := uuid.New()
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	jobID := uuid.New()

	mock.ExpectQuery(`UPDATE reminder_jobs\s+SET status = 'cancelled'`).
		WithArgs(apptID).
		WillReturnRows(pgxmock.NewRows(jobColumnNames).
			AddRow(jobID, apptID, int64(3600), start.Add(-time.Hour), start, "push", "cancelled", 0, (*string)(nil), start, (*time.Time)(nil)))

	jobs, err := store.CancelOutstanding(context.Background(), apptID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobID, jobs[0].ID)
	assert.Equal(t, time.Hour, jobs[0].Offset)
	assert.Equal(t, JobCancelled, jobs[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreGetJobNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM reminder_jobs`).WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), id)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestPgStoreMarkDeliveredOnlyOnce(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`status = 'delivered'`).WithArgs(id, at).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`status = 'delivered'`).WithArgs(id, at).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := store.MarkDelivered(context.Background(), id, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.MarkDelivered(context.Background(), id, at)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
