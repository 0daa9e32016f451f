package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

type BookAppointmentRequest struct {
	VetID           string    `json:"vet_id"`
	PetID           string    `json:"pet_id"`
	ClinicID        string    `json:"clinic_id"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Type            string    `json:"type"`
	Notes           string    `json:"notes,omitempty"`
}

type RescheduleRequest struct {
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

type ChangeStatusRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	ID              uuid.UUID         `json:"id"`
	VetID           uuid.UUID         `json:"vet_id"`
	PetID           uuid.UUID         `json:"pet_id"`
	ClinicID        uuid.UUID         `json:"clinic_id"`
	BookedBy        uuid.UUID         `json:"booked_by"`
	StartsAt        time.Time         `json:"starts_at"`
	EndsAt          time.Time         `json:"ends_at"`
	DurationMinutes int               `json:"duration_minutes"`
	Type            string            `json:"type"`
	Status          string            `json:"status"`
	Notes           string            `json:"notes,omitempty"`
	Calendar        map[string]string `json:"calendar,omitempty"`
	Version         int64             `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	VetName    string `json:"vet_name"`
	PetName    string `json:"pet_name"`
	PetSpecies string `json:"pet_species"`
	ClinicName string `json:"clinic_name"`
	Timezone   string `json:"timezone"`
}

type SlotsResponse struct {
	VetID           uuid.UUID   `json:"vet_id"`
	DurationMinutes int         `json:"duration_minutes"`
	Slots           []time.Time `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type ConflictResponse struct {
	ErrorResponse
	ConflictingAppointmentID *uuid.UUID `json:"conflicting_appointment_id,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		VetID:           a.VetID,
		PetID:           a.PetID,
		ClinicID:        a.ClinicID,
		BookedBy:        a.BookedBy,
		StartsAt:        a.StartsAt,
		EndsAt:          a.EndsAt(),
		DurationMinutes: a.DurationMinutes,
		Type:            string(a.Type),
		Status:          string(a.Status),
		Notes:           a.Notes,
		Calendar:        a.CalendarMeta,
		Version:         a.Version,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toDetailResponse(d appointment.AppointmentDetail) AppointmentDetailResponse {
	resp := AppointmentDetailResponse{AppointmentResponse: toAppointmentResponse(d.Appointment)}
	if d.Vet != nil {
		resp.VetName = d.Vet.Name
	}
	if d.Pet != nil {
		resp.PetName = d.Pet.Name
		resp.PetSpecies = d.Pet.Species
	}
	if d.Clinic != nil {
		resp.ClinicName = d.Clinic.Name
		resp.Timezone = d.Clinic.Timezone
	}
	return resp
}
