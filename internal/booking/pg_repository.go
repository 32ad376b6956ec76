package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of pgxpool.Pool that PgRepository needs. Both
// *pgxpool.Pool and pgx.Tx satisfy it, which is what lets WithTx hand
// out a transaction-bound repository.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	q querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{q: pool}
}

// newPgRepositoryWith is used by WithTx and by tests that inject a
// pgxmock pool.
func newPgRepositoryWith(q querier) *PgRepository {
	return &PgRepository{q: q}
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(Repository) error) error {
	tx, err := r.q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(newPgRepositoryWith(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var fee *float64

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&d.ClinicLocation,
		&fee,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.ConsultationFee = fee
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		&a.Date,
		&a.Time,
		&a.Type,
		&a.Status,
		&a.Notes,
		&a.ConsultationFee,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

const appointmentColumns = `id, patient_id, doctor_id, slot_id, date, time, appointment_type, status, notes, consultation_fee, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, specialty, clinic_location, consultation_fee, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, doctor_id, start_time, end_time, status, created_at, updated_at
		FROM time_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context, specialty, location string) ([]DoctorListing, error) {
	query := `
		SELECT d.id, d.name, d.specialty, d.clinic_location, d.consultation_fee, d.created_at, d.updated_at,
		       s.id, s.doctor_id, s.start_time, s.end_time, s.status, s.created_at, s.updated_at
		FROM doctors d
		LEFT JOIN LATERAL (
			SELECT id, doctor_id, start_time, end_time, status, created_at, updated_at
			FROM time_slots
			WHERE doctor_id = d.id
			  AND status = 'AVAILABLE'
			  AND start_time >= now()
			ORDER BY start_time ASC
			LIMIT 1
		) s ON true`

	var args []any
	var conds []string
	if specialty != "" {
		args = append(args, specialty)
		conds = append(conds, fmt.Sprintf("d.specialty ILIKE '%%' || $%d || '%%'", len(args)))
	}
	if location != "" {
		args = append(args, location)
		conds = append(conds, fmt.Sprintf("d.clinic_location ILIKE '%%' || $%d || '%%'", len(args)))
	}
	if len(conds) > 0 {
		query += `
		WHERE ` + strings.Join(conds, `
		  AND `)
	}

	query += `
		ORDER BY d.name ASC`

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DoctorListing
	for rows.Next() {
		var l DoctorListing
		var fee *float64
		var slotID *uuid.UUID
		var slotDoctorID *uuid.UUID
		var slotStart, slotEnd, slotCreated, slotUpdated *time.Time
		var slotStatus *SlotStatus

		err := rows.Scan(
			&l.ID, &l.Name, &l.Specialty, &l.ClinicLocation, &fee, &l.CreatedAt, &l.UpdatedAt,
			&slotID, &slotDoctorID, &slotStart, &slotEnd, &slotStatus, &slotCreated, &slotUpdated,
		)
		if err != nil {
			return nil, err
		}

		l.ConsultationFee = fee
		if slotID != nil {
			l.NextAvailable = &TimeSlot{
				ID:        *slotID,
				DoctorID:  *slotDoctorID,
				StartTime: *slotStart,
				EndTime:   *slotEnd,
				Status:    *slotStatus,
				CreatedAt: *slotCreated,
				UpdatedAt: *slotUpdated,
			}
		}
		result = append(result, l)
	}

	return result, rows.Err()
}

func (r *PgRepository) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, day *time.Time) ([]SlotDetail, error) {
	query := `
		SELECT s.id, s.doctor_id, s.start_time, s.end_time, s.status, s.created_at, s.updated_at,
		       d.name, d.specialty, d.clinic_location
		FROM time_slots s
		JOIN doctors d ON d.id = s.doctor_id
		WHERE s.doctor_id = $1
		  AND s.status = 'AVAILABLE'`
	args := []any{doctorID}

	if day != nil {
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		query += `
		  AND s.start_time >= $2
		  AND s.start_time < $3`
		args = append(args, start, start.AddDate(0, 0, 1))
	}

	query += `
		ORDER BY s.start_time ASC`

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotDetail
	for rows.Next() {
		var sd SlotDetail
		err := rows.Scan(
			&sd.ID, &sd.DoctorID, &sd.StartTime, &sd.EndTime, &sd.Status, &sd.CreatedAt, &sd.UpdatedAt,
			&sd.DoctorName, &sd.Specialty, &sd.Location,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, sd)
	}

	return result, rows.Err()
}

func (r *PgRepository) ActiveWindowsForPatient(ctx context.Context, patientID uuid.UUID) ([]Window, error) {
	rows, err := r.q.Query(ctx, `
		SELECT a.id, s.start_time, s.end_time
		FROM appointments a
		JOIN time_slots s ON s.id = a.slot_id
		WHERE a.patient_id = $1
		  AND a.status IN ('PENDING', 'CONFIRMED', 'COMPLETED')
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Window
	for rows.Next() {
		var w Window
		if err := rows.Scan(&w.AppointmentID, &w.Start, &w.End); err != nil {
			return nil, err
		}
		result = append(result, w)
	}

	return result, rows.Err()
}

func (r *PgRepository) HasPendingWithDoctor(ctx context.Context, patientID, doctorID uuid.UUID) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE patient_id = $1
			  AND doctor_id = $2
			  AND status = 'PENDING'
		)
	`, patientID, doctorID).Scan(&exists)
	return exists, err
}

func (r *PgRepository) ActiveExistsAt(ctx context.Context, doctorID uuid.UUID, date time.Time, clock string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1
			  AND date = $2
			  AND time = $3
			  AND status IN ('PENDING', 'CONFIRMED')
		)
	`, doctorID, date, clock).Scan(&exists)
	return exists, err
}

// MarkSlotBooked flips a slot AVAILABLE -> BOOKED only if it is still
// AVAILABLE at write time. Zero affected rows means another booker won
// the race after our pre-check.
func (r *PgRepository) MarkSlotBooked(ctx context.Context, slotID uuid.UUID) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE time_slots
		SET status = 'BOOKED',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'AVAILABLE'
	`, slotID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, slotID uuid.UUID) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE time_slots
		SET status = 'AVAILABLE',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'BOOKED'
	`, slotID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.q.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_id, date, time, appointment_type, status, notes, consultation_fee, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, a.PatientID, a.DoctorID, a.SlotID, a.Date, a.Time, a.Type, a.Status, a.Notes, a.ConsultationFee)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	return created, nil
}

// mapUniqueViolation turns the partial unique indexes into the domain
// conflicts they enforce, so a race that slipped past the in-tx checks
// surfaces exactly like a pre-check conflict.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case "appointments_doctor_time_active_uniq":
		return ErrTimeTaken
	case "appointments_slot_active_uniq":
		return ErrSlotBooked
	}
	return err
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.q.QueryRow(ctx, `
		SELECT a.id, a.patient_id, a.doctor_id, a.slot_id, a.date, a.time, a.appointment_type, a.status, a.notes, a.consultation_fee, a.created_at, a.updated_at,
		       p.name, d.name, d.specialty, d.clinic_location,
		       s.start_time, s.end_time
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN doctors d ON d.id = a.doctor_id
		LEFT JOIN time_slots s ON s.id = a.slot_id
		WHERE a.id = $1
	`, id)
	return scanAppointmentDetail(row)
}

func scanAppointmentDetail(row pgx.Row) (*AppointmentDetail, error) {
	var ad AppointmentDetail

	err := row.Scan(
		&ad.ID, &ad.PatientID, &ad.DoctorID, &ad.SlotID, &ad.Date, &ad.Time, &ad.Type, &ad.Status, &ad.Notes, &ad.ConsultationFee, &ad.CreatedAt, &ad.UpdatedAt,
		&ad.PatientName, &ad.DoctorName, &ad.Specialty, &ad.Location,
		&ad.SlotStart, &ad.SlotEnd,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &ad, nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, window ListWindow) ([]AppointmentDetail, error) {
	query := `
		SELECT a.id, a.patient_id, a.doctor_id, a.slot_id, a.date, a.time, a.appointment_type, a.status, a.notes, a.consultation_fee, a.created_at, a.updated_at,
		       p.name, d.name, d.specialty, d.clinic_location,
		       s.start_time, s.end_time
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN doctors d ON d.id = a.doctor_id
		LEFT JOIN time_slots s ON s.id = a.slot_id
		WHERE a.patient_id = $1`

	switch window {
	case WindowUpcoming:
		query += `
		  AND a.date >= CURRENT_DATE`
	case WindowPast:
		query += `
		  AND a.date < CURRENT_DATE`
	}

	query += `
		ORDER BY a.date ASC, a.time ASC`

	rows, err := r.q.Query(ctx, query, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		ad, err := scanAppointmentDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ad)
	}

	return result, rows.Err()
}
