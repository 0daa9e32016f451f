package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgExclusionViolation  = "23P01"
	pgSerializationFailed = "40001"
	pgDeadlockDetected    = "40P01"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgxPool is satisfied by *pgxpool.Pool and by pgxmock pools in tests.
type pgxPool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	pool pgxPool
}

func NewPgRepository(pool pgxPool) *PgRepository {
	if pool == nil {
		panic("appointment: pgx pool required")
	}
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, seq, vet_id, pet_id, clinic_id, booked_by, starts_at, duration_minutes,
	type, status, notes, calendar_meta, version, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var apptType, status string
	var meta []byte

	err := row.Scan(
		&a.ID,
		&a.Seq,
		&a.VetID,
		&a.PetID,
		&a.ClinicID,
		&a.BookedBy,
		&a.StartsAt,
		&a.DurationMinutes,
		&apptType,
		&status,
		&a.Notes,
		&meta,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Type = AppointmentType(apptType)
	a.Status = AppointmentStatus(status)
	a.StartsAt = a.StartsAt.UTC()
	a.CalendarMeta = map[string]string{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.CalendarMeta); err != nil {
			return nil, fmt.Errorf("decode calendar meta: %w", err)
		}
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func getAppointment(ctx context.Context, q querier, id uuid.UUID) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

// mapWriteError translates constraint and serialization failures into domain errors.
func mapWriteError(err error, vetID uuid.UUID) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation:
			return &ConflictError{VetID: vetID}
		case pgSerializationFailed, pgDeadlockDetected:
			return ErrConcurrency
		}
	}
	return err
}

// Directory

func (r *PgRepository) GetVeterinarian(ctx context.Context, id uuid.UUID) (*Veterinarian, error) {
	var v Veterinarian
	err := r.pool.QueryRow(ctx, `
		SELECT id, clinic_id, user_id, name, email, calendar_id, created_at, updated_at
		FROM veterinarians
		WHERE id = $1
	`, id).Scan(&v.ID, &v.ClinicID, &v.UserID, &v.Name, &v.Email, &v.CalendarID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVetNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (r *PgRepository) GetPet(ctx context.Context, id uuid.UUID) (*Pet, error) {
	var p Pet
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, species, created_at, updated_at
		FROM pets
		WHERE id = $1
	`, id).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Species, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPetNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	var c Clinic
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, timezone, created_at, updated_at
		FROM clinics
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Timezone, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *PgRepository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	var role string
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

// Scheduling reads

func (r *PgRepository) GetWorkingHours(ctx context.Context, vetID uuid.UUID) (*WeeklyHours, error) {
	var tz string
	err := r.pool.QueryRow(ctx, `
		SELECT c.timezone
		FROM veterinarians v
		JOIN clinics c ON c.id = v.clinic_id
		WHERE v.id = $1
	`, vetID).Scan(&tz)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVetNotFound
		}
		return nil, err
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load clinic timezone %q: %w", tz, err)
	}

	hours := WeeklyHours{VetID: vetID, Location: loc}
	for i := range hours.Days {
		hours.Days[i].Closed = true
	}

	rows, err := r.pool.Query(ctx, `
		SELECT weekday, opens_minute, closes_minute
		FROM vet_working_hours
		WHERE vet_id = $1
	`, vetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := 0
	for rows.Next() {
		var weekday, opens, closes int
		if err := rows.Scan(&weekday, &opens, &closes); err != nil {
			return nil, err
		}
		if weekday < 0 || weekday > 6 {
			return nil, fmt.Errorf("invalid weekday %d for vet %s", weekday, vetID)
		}
		hours.Days[weekday] = DayHours{Opens: opens, Closes: closes}
		found++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if found == 0 {
		return nil, ErrWorkingHoursNotFound
	}
	return &hours, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return getAppointment(ctx, r.pool, id)
}

func (r *PgRepository) ListAppointmentsForVet(ctx context.Context, vetID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE vet_id = $1
		  AND starts_at < $3
		  AND ends_at > $2
		ORDER BY starts_at
	`, vetID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindOverdue(ctx context.Context, startedBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('pending', 'confirmed')
		  AND starts_at < $1
		ORDER BY starts_at
		LIMIT $2
	`, startedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) SetCalendarMeta(ctx context.Context, id uuid.UUID, meta map[string]string) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode calendar meta: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET calendar_meta = calendar_meta || $2::jsonb
		WHERE id = $1
	`, id, data)
	if err != nil {
		return fmt.Errorf("update calendar meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapWriteError(fmt.Errorf("commit tx: %w", err), uuid.Nil)
	}
	return nil
}

// pgTx implements Tx on top of a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockVet(ctx context.Context, vetID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, vetID.String())
	if err != nil {
		return fmt.Errorf("lock vet %s: %w", vetID, err)
	}
	return nil
}

func (t *pgTx) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return getAppointment(ctx, t.tx, id)
}

func (t *pgTx) ListOccupying(ctx context.Context, vetID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE vet_id = $1
		  AND status IN ('pending', 'confirmed', 'checked_in')
		  AND starts_at < $3
		  AND ends_at > $2
		ORDER BY starts_at
	`, vetID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	meta := a.CalendarMeta
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode calendar meta: %w", err)
	}

	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, vet_id, pet_id, clinic_id, booked_by, starts_at, ends_at,
			duration_minutes, type, status, notes, calendar_meta, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.VetID, a.PetID, a.ClinicID, a.BookedBy, a.StartsAt, a.EndsAt(),
		a.DurationMinutes, string(a.Type), string(a.Status), a.Notes, metaJSON)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteError(fmt.Errorf("insert appointment: %w", err), a.VetID)
	}
	return created, nil
}

func (t *pgTx) UpdateSchedule(ctx context.Context, current Appointment, start time.Time, durationMinutes int) (*Appointment, error) {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET starts_at = $3,
		    ends_at = $4,
		    duration_minutes = $5,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $2
		RETURNING `+appointmentColumns,
		current.ID, current.Version, start, end, durationMinutes)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrConcurrency
	}
	if err != nil {
		return nil, mapWriteError(fmt.Errorf("reschedule appointment: %w", err), current.VetID)
	}
	return updated, nil
}

func (t *pgTx) UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, to AppointmentStatus) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $2
		RETURNING `+appointmentColumns,
		id, expectedVersion, string(to))

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrConcurrency
	}
	if err != nil {
		return nil, mapWriteError(fmt.Errorf("update appointment status: %w", err), uuid.Nil)
	}
	return updated, nil
}

func (t *pgTx) AppendEvent(ctx context.Context, ev OutboxEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox (id, appointment_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.ID, ev.AppointmentID, ev.Type, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
