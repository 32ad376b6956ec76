package booking

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotBooked    SlotStatus = "BOOKED"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusCompleted AppointmentStatus = "COMPLETED"
)

// Active reports whether the appointment still claims its time window.
// Completed appointments stay active for overlap purposes: the visit
// happened, the window was used.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusCompleted
}

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted},
}

// CanTransition reports whether the lifecycle allows moving from one
// status to another.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type AppointmentType string

const (
	TypeOnline  AppointmentType = "ONLINE"
	TypeOffline AppointmentType = "OFFLINE"
)

type Doctor struct {
	ID              uuid.UUID
	Name            string
	Specialty       string
	ClinicLocation  string
	ConsultationFee *float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TimeSlot is a discrete availability window owned by a doctor. Slots
// are created ahead of time by doctor-facing tooling; this subsystem
// only flips them between AVAILABLE and BOOKED.
type TimeSlot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Status    SlotStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment is a patient's claim on a doctor's time. SlotID is nil
// for direct bookings, which carry only a date and an HH:mm time.
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	SlotID          *uuid.UUID
	Date            time.Time
	Time            string
	Type            AppointmentType
	Status          AppointmentStatus
	Notes           *string
	ConsultationFee *float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SlotDetail is a slot with doctor display fields attached at read
// time. Presentation only; never persisted.
type SlotDetail struct {
	TimeSlot
	DoctorName string
	Specialty  string
	Location   string
}

// AppointmentDetail carries the denormalized fields the API returns
// alongside an appointment.
type AppointmentDetail struct {
	Appointment
	PatientName string
	DoctorName  string
	Specialty   string
	Location    string
	SlotStart   *time.Time
	SlotEnd     *time.Time
}

// DoctorListing is a doctor plus their next open slot, for the
// doctor-browsing surface.
type DoctorListing struct {
	Doctor
	NextAvailable *TimeSlot
}
