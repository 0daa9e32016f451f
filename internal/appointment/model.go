package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCheckedIn AppointmentStatus = "checked_in"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// Occupying reports whether an appointment in this status holds its time on the vet's calendar.
func (s AppointmentStatus) Occupying() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCheckedIn:
		return true
	}
	return false
}

func (s AppointmentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type AppointmentType string

const (
	TypeWellnessExam           AppointmentType = "wellness_exam"
	TypeVaccination            AppointmentType = "vaccination"
	TypeSurgery                AppointmentType = "surgery"
	TypeSpayNeuter             AppointmentType = "spay_neuter"
	TypeEmergency              AppointmentType = "emergency"
	TypeBehavioralConsultation AppointmentType = "behavioral_consultation"
	TypeLaboratoryWork         AppointmentType = "laboratory_work"
	TypeParasiteControl        AppointmentType = "parasite_control"
	TypeSeniorPetCare          AppointmentType = "senior_pet_care"
	TypeEuthanasia             AppointmentType = "euthanasia"
	TypeDentalCare             AppointmentType = "dental_care"
	TypeGrooming               AppointmentType = "grooming"
	TypeFollowUp               AppointmentType = "follow_up"
	TypeOther                  AppointmentType = "other"
)

var appointmentTypes = map[AppointmentType]bool{
	TypeWellnessExam:           true,
	TypeVaccination:            true,
	TypeSurgery:                true,
	TypeSpayNeuter:             true,
	TypeEmergency:              true,
	TypeBehavioralConsultation: true,
	TypeLaboratoryWork:         true,
	TypeParasiteControl:        true,
	TypeSeniorPetCare:          true,
	TypeEuthanasia:             true,
	TypeDentalCare:             true,
	TypeGrooming:               true,
	TypeFollowUp:               true,
	TypeOther:                  true,
}

func (t AppointmentType) Valid() bool {
	return appointmentTypes[t]
}

// Role identifies the kind of principal acting on an appointment.
type Role string

const (
	RoleClient      Role = "client"
	RoleClinicStaff Role = "clinic_staff"
	RoleVet         Role = "veterinarian"
	RoleSystem      Role = "system"
)

// Actor is the principal performing an operation. Callers resolve it from their own auth layer.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

// SystemActor is used by background workers such as the no-show sweeper.
var SystemActor = Actor{Role: RoleSystem}

// Calendar metadata keys stored on Appointment.CalendarMeta.
const (
	MetaEventID      = "event_id"
	MetaSyncStatus   = "sync_status"
	MetaLastSyncedAt = "last_synced_at"
	MetaLastError    = "last_error"
)

type Appointment struct {
	ID              uuid.UUID
	Seq             int64
	VetID           uuid.UUID
	PetID           uuid.UUID
	ClinicID        uuid.UUID
	BookedBy        uuid.UUID
	StartsAt        time.Time
	DurationMinutes int
	Type            AppointmentType
	Status          AppointmentStatus
	Notes           string
	CalendarMeta    map[string]string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

func (a Appointment) EndsAt() time.Time {
	return a.StartsAt.Add(a.Duration())
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.StartsAt, End: a.EndsAt()}
}

type Veterinarian struct {
	ID         uuid.UUID
	ClinicID   uuid.UUID
	UserID     uuid.UUID
	Name       string
	Email      *string
	CalendarID *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Pet struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	Species   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Clinic struct {
	ID        uuid.UUID
	Name      string
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Event types written to the outbox alongside appointment changes.
const (
	EventAppointmentCreated     = "appointment.created"
	EventAppointmentRescheduled = "appointment.rescheduled"
	EventAppointmentStatus      = "appointment.status_changed"
)

type OutboxEvent struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Type          string
	Payload       []byte
	CreatedAt     time.Time
}

// AppointmentDetail is an appointment with its directory references resolved.
type AppointmentDetail struct {
	Appointment
	Vet    *Veterinarian
	Pet    *Pet
	Clinic *Clinic
}
