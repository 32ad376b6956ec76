package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrSlotNotFound        = errors.New("time slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// ListWindow selects which of a patient's appointments to return.
type ListWindow string

const (
	WindowAll      ListWindow = "all"
	WindowUpcoming ListWindow = "upcoming"
	WindowPast     ListWindow = "past"
)

// Repository contains all DB interactions needed by the service.
//
// WithTx runs fn against a repository bound to a single transaction;
// every conflict check and conditional write of a booking operation
// must go through it so the check and the write share one isolation
// boundary.
type Repository interface {
	WithTx(ctx context.Context, fn func(Repository) error) error

	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error)

	// ListDoctors filters by case-insensitive substring on specialty
	// and clinic location; empty strings match everything.
	ListDoctors(ctx context.Context, specialty, location string) ([]DoctorListing, error)
	ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, day *time.Time) ([]SlotDetail, error)

	// Conflict checks
	ActiveWindowsForPatient(ctx context.Context, patientID uuid.UUID) ([]Window, error)
	HasPendingWithDoctor(ctx context.Context, patientID, doctorID uuid.UUID) (bool, error)
	ActiveExistsAt(ctx context.Context, doctorID uuid.UUID, date time.Time, clock string) (bool, error)

	// Conditional slot writes; false means the guard predicate did not
	// hold at write time (zero rows affected).
	MarkSlotBooked(ctx context.Context, slotID uuid.UUID) (bool, error)
	ReleaseSlot(ctx context.Context, slotID uuid.UUID) (bool, error)

	// Creation and updates
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, window ListWindow) ([]AppointmentDetail, error)
}
