package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/mitesh006/CareXpert-backend/internal/booking"
)

type BookSlotRequest struct {
	SlotID string `json:"slot_id"`
}

type BookDirectRequest struct {
	DoctorID        string  `json:"doctor_id"`
	Date            string  `json:"date"`
	Time            string  `json:"time"`
	AppointmentType string  `json:"appointment_type,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	Status          string     `json:"status"`
	AppointmentType string     `json:"appointment_type"`
	Date            string     `json:"date"`
	Time            string     `json:"time"`
	Notes           *string    `json:"notes,omitempty"`
	ConsultationFee *float64   `json:"consultation_fee,omitempty"`
	SlotID          *uuid.UUID `json:"slot_id,omitempty"`
	SlotStart       *time.Time `json:"slot_start,omitempty"`
	SlotEnd         *time.Time `json:"slot_end,omitempty"`
	PatientName     string     `json:"patient_name,omitempty"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	DoctorName      string     `json:"doctor_name"`
	Specialty       string     `json:"specialty"`
	Location        string     `json:"location"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toAppointmentResponse(d *booking.AppointmentDetail) AppointmentResponse {
	return AppointmentResponse{
		ID:              d.ID,
		Status:          string(d.Status),
		AppointmentType: string(d.Type),
		Date:            d.Date.Format("2006-01-02"),
		Time:            d.Time,
		Notes:           d.Notes,
		ConsultationFee: d.ConsultationFee,
		SlotID:          d.SlotID,
		SlotStart:       d.SlotStart,
		SlotEnd:         d.SlotEnd,
		PatientName:     d.PatientName,
		DoctorID:        d.DoctorID,
		DoctorName:      d.DoctorName,
		Specialty:       d.Specialty,
		Location:        d.Location,
		CreatedAt:       d.CreatedAt,
	}
}

type SlotResponse struct {
	ID         uuid.UUID `json:"id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Status     string    `json:"status"`
	DoctorName string    `json:"doctor_name"`
	Specialty  string    `json:"specialty"`
	Location   string    `json:"location"`
}

func toSlotResponses(slots []booking.SlotDetail) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{
			ID:         s.ID,
			StartTime:  s.StartTime,
			EndTime:    s.EndTime,
			Status:     string(s.Status),
			DoctorName: s.DoctorName,
			Specialty:  s.Specialty,
			Location:   s.Location,
		})
	}
	return out
}

type DoctorResponse struct {
	ID              uuid.UUID     `json:"id"`
	Name            string        `json:"name"`
	Specialty       string        `json:"specialty"`
	Location        string        `json:"location"`
	ConsultationFee *float64      `json:"consultation_fee,omitempty"`
	NextAvailable   *SlotResponse `json:"next_available,omitempty"`
}

func toDoctorResponses(doctors []booking.DoctorListing) []DoctorResponse {
	out := make([]DoctorResponse, 0, len(doctors))
	for _, d := range doctors {
		resp := DoctorResponse{
			ID:              d.ID,
			Name:            d.Name,
			Specialty:       d.Specialty,
			Location:        d.ClinicLocation,
			ConsultationFee: d.ConsultationFee,
		}
		if d.NextAvailable != nil {
			resp.NextAvailable = &SlotResponse{
				ID:        d.NextAvailable.ID,
				StartTime: d.NextAvailable.StartTime,
				EndTime:   d.NextAvailable.EndTime,
				Status:    string(d.NextAvailable.Status),
			}
		}
		out = append(out, resp)
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
