package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mitesh006/CareXpert-backend/internal/cache"
	"github.com/mitesh006/CareXpert-backend/internal/config"
)

var (
	ErrSlotBooked        = errors.New("time slot is already booked")
	ErrOverlap           = errors.New("patient already has an appointment in this time window")
	ErrPendingExists     = errors.New("patient already has a pending request with this doctor")
	ErrTimeTaken         = errors.New("an appointment already exists for this doctor at the given date and time")
	ErrAlreadyCancelled  = errors.New("appointment is already cancelled")
	ErrInvalidTransition = errors.New("invalid appointment status transition")
	ErrNotOwner          = errors.New("appointment does not belong to the requester")
	ErrInvalidDate       = errors.New("invalid date, use YYYY-MM-DD")
	ErrInvalidTime       = errors.New("invalid time, use HH:mm")
	ErrInvalidType       = errors.New("appointment type must be ONLINE or OFFLINE")
	ErrInvalidWindow     = errors.New("window must be all, upcoming or past")
)

// SlotCache is the availability cache the service reads through and
// invalidates on slot state changes. All calls are best effort.
type SlotCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) error
}

// Notifier dispatches appointment status emails. Implementations must
// be fire-and-forget: never block, never surface failures.
type Notifier interface {
	AppointmentStatusChanged(to, patientName, doctorName string, status AppointmentStatus, date, clock string)
}

type Service struct {
	repo     Repository
	cache    SlotCache
	notifier Notifier
	cfg      config.Config
	logger   zerolog.Logger
}

func NewService(repo Repository, slotCache SlotCache, notifier Notifier, cfg config.Config, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		cache:    slotCache,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "booking").Logger(),
	}
}

// BookSlot reserves an open slot for a patient. The whole read-check-
// write sequence runs in one transaction, and the slot flip is a
// conditional update: of N concurrent bookers exactly one sees an
// affected row, the rest get ErrSlotBooked whether they lost before or
// after their pre-check.
func (s *Service) BookSlot(ctx context.Context, patientID, slotID uuid.UUID) (*AppointmentDetail, error) {
	var (
		detail  *AppointmentDetail
		patient *Patient
	)

	err := s.repo.WithTx(ctx, func(tx Repository) error {
		var err error
		patient, err = tx.GetPatientByID(ctx, patientID)
		if err != nil {
			if errors.Is(err, ErrPatientNotFound) {
				return err
			}
			return fmt.Errorf("load patient: %w", err)
		}

		slot, err := tx.GetSlotByID(ctx, slotID)
		if err != nil {
			if errors.Is(err, ErrSlotNotFound) {
				return err
			}
			return fmt.Errorf("load slot: %w", err)
		}
		if slot.Status != SlotAvailable {
			return ErrSlotBooked
		}

		windows, err := tx.ActiveWindowsForPatient(ctx, patientID)
		if err != nil {
			return fmt.Errorf("load active windows: %w", err)
		}
		if w := FindSlotConflict(windows, slot.StartTime, slot.EndTime); w != nil {
			return ErrOverlap
		}

		booked, err := tx.MarkSlotBooked(ctx, slotID)
		if err != nil {
			return fmt.Errorf("mark slot booked: %w", err)
		}
		if !booked {
			// A concurrent booker flipped the slot between our read
			// and this write.
			return ErrSlotBooked
		}

		doctor, err := tx.GetDoctorByID(ctx, slot.DoctorID)
		if err != nil {
			return fmt.Errorf("load doctor: %w", err)
		}

		created, err := tx.CreateAppointment(ctx, &Appointment{
			ID:              uuid.New(),
			PatientID:       patientID,
			DoctorID:        slot.DoctorID,
			SlotID:          &slotID,
			Date:            slot.StartTime,
			Time:            slot.StartTime.Format("15:04"),
			Type:            TypeOffline,
			Status:          StatusPending,
			ConsultationFee: doctor.ConsultationFee,
		})
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		detail = &AppointmentDetail{
			Appointment: *created,
			PatientName: patient.Name,
			DoctorName:  doctor.Name,
			Specialty:   doctor.Specialty,
			Location:    doctor.ClinicLocation,
			SlotStart:   &slot.StartTime,
			SlotEnd:     &slot.EndTime,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateSlots(ctx, detail.DoctorID)
	s.notifyStatus(patient, detail)

	return detail, nil
}

// BookDirect creates a pending appointment without a slot. Input is
// validated before any store access; the in-tx existence checks are
// backed by the partial unique index on (doctor, date, time), so a
// concurrent duplicate insert comes back as ErrTimeTaken too.
func (s *Service) BookDirect(ctx context.Context, patientID, doctorID uuid.UUID, dateStr, clock string, apptType AppointmentType, notes *string) (*AppointmentDetail, error) {
	if apptType == "" {
		apptType = TypeOffline
	}
	if apptType != TypeOnline && apptType != TypeOffline {
		return nil, ErrInvalidType
	}
	date, err := ParseVisitDate(dateStr)
	if err != nil {
		return nil, ErrInvalidDate
	}
	if !ValidClockTime(clock) {
		return nil, ErrInvalidTime
	}

	var (
		detail  *AppointmentDetail
		patient *Patient
	)

	err = s.repo.WithTx(ctx, func(tx Repository) error {
		var err error
		patient, err = tx.GetPatientByID(ctx, patientID)
		if err != nil {
			if errors.Is(err, ErrPatientNotFound) {
				return err
			}
			return fmt.Errorf("load patient: %w", err)
		}

		doctor, err := tx.GetDoctorByID(ctx, doctorID)
		if err != nil {
			if errors.Is(err, ErrDoctorNotFound) {
				return err
			}
			return fmt.Errorf("load doctor: %w", err)
		}

		pending, err := tx.HasPendingWithDoctor(ctx, patientID, doctorID)
		if err != nil {
			return fmt.Errorf("check pending request: %w", err)
		}
		if pending {
			return ErrPendingExists
		}

		taken, err := tx.ActiveExistsAt(ctx, doctorID, date, clock)
		if err != nil {
			return fmt.Errorf("check doctor availability: %w", err)
		}
		if taken {
			return ErrTimeTaken
		}

		created, err := tx.CreateAppointment(ctx, &Appointment{
			ID:              uuid.New(),
			PatientID:       patientID,
			DoctorID:        doctorID,
			Date:            date,
			Time:            clock,
			Type:            apptType,
			Status:          StatusPending,
			Notes:           notes,
			ConsultationFee: doctor.ConsultationFee,
		})
		if err != nil {
			if errors.Is(err, ErrTimeTaken) {
				return ErrTimeTaken
			}
			return fmt.Errorf("create appointment: %w", err)
		}

		detail = &AppointmentDetail{
			Appointment: *created,
			PatientName: patient.Name,
			DoctorName:  doctor.Name,
			Specialty:   doctor.Specialty,
			Location:    doctor.ClinicLocation,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyStatus(patient, detail)

	return detail, nil
}

// Cancel moves an appointment to CANCELLED and, when it held a slot,
// returns that slot to AVAILABLE in the same transaction. A slot must
// never stay BOOKED behind a cancelled appointment.
func (s *Service) Cancel(ctx context.Context, patientID, appointmentID uuid.UUID) error {
	var (
		doctorID uuid.UUID
		slotHeld bool
	)

	err := s.repo.WithTx(ctx, func(tx Repository) error {
		appt, err := tx.GetAppointmentByID(ctx, appointmentID)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return err
			}
			return fmt.Errorf("load appointment: %w", err)
		}
		if appt.PatientID != patientID {
			return ErrNotOwner
		}
		if appt.Status == StatusCancelled {
			return ErrAlreadyCancelled
		}
		if !CanTransition(appt.Status, StatusCancelled) {
			return ErrInvalidTransition
		}

		if _, err := tx.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusCancelled); err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				// Status moved underneath us inside this request's
				// lifetime; treat like any other illegal transition.
				return ErrInvalidTransition
			}
			return fmt.Errorf("cancel appointment: %w", err)
		}

		if appt.SlotID != nil {
			released, err := tx.ReleaseSlot(ctx, *appt.SlotID)
			if err != nil {
				return fmt.Errorf("release slot: %w", err)
			}
			if !released {
				s.logger.Warn().
					Str("appointment_id", appt.ID.String()).
					Str("slot_id", appt.SlotID.String()).
					Msg("cancelled appointment held a slot that was not BOOKED")
			}
			slotHeld = true
		}

		doctorID = appt.DoctorID
		return nil
	})
	if err != nil {
		return err
	}

	if slotHeld {
		s.invalidateSlots(ctx, doctorID)
	}
	s.notifyAfterTransition(ctx, appointmentID)

	return nil
}

// Confirm is the doctor accepting a pending request.
func (s *Service) Confirm(ctx context.Context, doctorID, appointmentID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, doctorID, appointmentID, StatusConfirmed)
}

// Complete marks a confirmed appointment as having taken place.
func (s *Service) Complete(ctx context.Context, doctorID, appointmentID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, doctorID, appointmentID, StatusCompleted)
}

func (s *Service) transition(ctx context.Context, doctorID, appointmentID uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.DoctorID != doctorID {
		return nil, ErrNotOwner
	}
	if !CanTransition(appt.Status, to) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// The guarded update saw a different status than we read.
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.notifyAfterTransition(ctx, updated.ID)

	return updated, nil
}

// ListAvailableSlots returns a doctor's open slots ascending by start
// time, optionally restricted to one day, through the redis cache.
func (s *Service) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, dateStr string) ([]SlotDetail, error) {
	var day *time.Time
	if dateStr != "" {
		d, err := ParseVisitDate(dateStr)
		if err != nil {
			return nil, ErrInvalidDate
		}
		day = &d
	}

	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	key := slotCacheKey(doctorID, day)
	if s.cache != nil {
		if b, err := s.cache.Get(ctx, key); err == nil {
			var cached []SlotDetail
			if err := json.Unmarshal(b, &cached); err == nil {
				return cached, nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn().Err(err).Msg("slot cache read failed")
		}
	}

	slots, err := s.repo.ListAvailableSlots(ctx, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}

	if s.cache != nil {
		if b, err := json.Marshal(slots); err == nil {
			if err := s.cache.Set(ctx, key, b, s.cfg.SlotCacheTTL); err != nil {
				s.logger.Warn().Err(err).Msg("slot cache write failed")
			}
		}
	}

	return slots, nil
}

// ListDoctors returns doctors with their next open slot, filtered by
// case-insensitive specialty and location substrings (empty matches
// all), through the redis cache. Listings embed slot state, so slot
// changes invalidate them alongside the slot cache.
func (s *Service) ListDoctors(ctx context.Context, specialty, location string) ([]DoctorListing, error) {
	specialty = strings.TrimSpace(specialty)
	location = strings.TrimSpace(location)

	key := doctorsCacheKey(specialty, location)
	if s.cache != nil {
		if b, err := s.cache.Get(ctx, key); err == nil {
			var cached []DoctorListing
			if err := json.Unmarshal(b, &cached); err == nil {
				return cached, nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn().Err(err).Msg("doctor cache read failed")
		}
	}

	doctors, err := s.repo.ListDoctors(ctx, specialty, location)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}

	if s.cache != nil {
		if b, err := json.Marshal(doctors); err == nil {
			if err := s.cache.Set(ctx, key, b, s.cfg.SlotCacheTTL); err != nil {
				s.logger.Warn().Err(err).Msg("doctor cache write failed")
			}
		}
	}

	return doctors, nil
}

// ListAppointments returns a patient's appointments, ordered by date
// and time ascending.
func (s *Service) ListAppointments(ctx context.Context, patientID uuid.UUID, window ListWindow) ([]AppointmentDetail, error) {
	switch window {
	case WindowAll, WindowUpcoming, WindowPast:
	case "":
		window = WindowAll
	default:
		return nil, ErrInvalidWindow
	}

	appointments, err := s.repo.ListAppointmentsByPatient(ctx, patientID, window)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

// GetAppointment returns a hydrated appointment, patient-scoped.
func (s *Service) GetAppointment(ctx context.Context, patientID, appointmentID uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if detail.PatientID != patientID {
		return nil, ErrNotOwner
	}
	return detail, nil
}

func slotCacheKey(doctorID uuid.UUID, day *time.Time) string {
	if day == nil {
		return fmt.Sprintf("timeslots:%s:all", doctorID)
	}
	return fmt.Sprintf("timeslots:%s:%s", doctorID, day.Format("2006-01-02"))
}

func doctorsCacheKey(specialty, location string) string {
	if specialty == "" {
		specialty = "all"
	}
	if location == "" {
		location = "all"
	}
	return fmt.Sprintf("doctors:%s:%s", specialty, location)
}

// invalidateSlots drops the doctor's slot listings and every cached
// doctor listing; the latter embed next-available slot state.
func (s *Service) invalidateSlots(ctx context.Context, doctorID uuid.UUID) {
	if s.cache == nil {
		return
	}
	for _, pattern := range []string{fmt.Sprintf("timeslots:%s:*", doctorID), "doctors:*"} {
		if err := s.cache.DeletePattern(ctx, pattern); err != nil {
			s.logger.Warn().Err(err).Str("pattern", pattern).Msg("cache invalidation failed")
		}
	}
}

func (s *Service) notifyStatus(patient *Patient, detail *AppointmentDetail) {
	if s.notifier == nil || patient == nil || patient.Email == nil {
		return
	}
	s.notifier.AppointmentStatusChanged(
		*patient.Email,
		patient.Name,
		detail.DoctorName,
		detail.Status,
		detail.Date.Format("2006-01-02"),
		detail.Time,
	)
}

// notifyAfterTransition re-reads the appointment outside the booking
// transaction to assemble the email. Failures are logged and dropped;
// notification is best effort, never part of the state change.
func (s *Service) notifyAfterTransition(ctx context.Context, appointmentID uuid.UUID) {
	if s.notifier == nil {
		return
	}

	detail, err := s.repo.GetAppointmentDetail(ctx, appointmentID)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", appointmentID.String()).Msg("skipping status email")
		return
	}

	patient, err := s.repo.GetPatientByID(ctx, detail.PatientID)
	if err != nil || patient.Email == nil {
		return
	}

	s.notifier.AppointmentStatusChanged(
		*patient.Email,
		patient.Name,
		detail.DoctorName,
		detail.Status,
		detail.Date.Format("2006-01-02"),
		detail.Time,
	)
}
