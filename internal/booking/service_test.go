package booking

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitesh006/CareXpert-backend/internal/cache"
	"github.com/mitesh006/CareXpert-backend/internal/config"
)

// fakeRepo is an in-memory Repository. WithTx holds a single mutex for
// the whole callback, which gives each operation the same all-or-
// nothing isolation the pg implementation gets from a transaction.
type fakeRepo struct {
	mu      sync.Mutex
	touched bool

	doctors      map[uuid.UUID]*Doctor
	patients     map[uuid.UUID]*Patient
	slots        map[uuid.UUID]*TimeSlot
	appointments map[uuid.UUID]*Appointment
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		doctors:      make(map[uuid.UUID]*Doctor),
		patients:     make(map[uuid.UUID]*Patient),
		slots:        make(map[uuid.UUID]*TimeSlot),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(Repository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn((*fakeRepoTx)(f))
}

func (f *fakeRepo) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeRepoTx)(f).GetDoctorByID(ctx, id)
}

func (f *fakeRepo) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeRepoTx)(f).GetPatientByID(ctx, id)
}

func (f *fakeRepo) GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeRepoTx)(f).GetSlotByID(ctx, id)
}

func (f *fakeRepo) ListDoctors(ctx context.Context, specialty, location string) ([]DoctorListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeRepoTx)(f).ListDoctors(ctx, specialty, location)
}

func (f *fakeRepo) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, day *time.Time) ([]SlotDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeRepoTx)(f).ListAvailableSlots(ctx, doctorID, day)
}

func (f *fakeRepo) ActiveWindowsForPatient(ctx context.Context, patientID uuid.UUID) ([]Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeRepoTx)(f).ActiveWindowsForPatient(ctx, patientID)
}

func (f *fakeRepo) HasPendingWithDoctor(ctx context.Context, patientID, doctorID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeRepoTx)(f).HasPendingWithDoctor(ctx, patientID, doctorID)
}

func (f *fakeRepo) ActiveExistsAt(ctx context.Context, doctorID uuid.UUID, date time.Time, clock string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeRepoTx)(f).ActiveExistsAt(ctx, doctorID, date, clock)
}

func (f *fakeRepo) MarkSlotBooked(ctx context.Context, slotID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeRepoTx)(f).MarkSlotBooked(ctx, slotID)
}

func (f *fakeRepo) ReleaseSlot(ctx context.Context, slotID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeRepoTx)(f).ReleaseSlot(ctx, slotID)
}

func (f *fakeRepo) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeRepoTx)(f).CreateAppointment(ctx, a)
}

func (f *fakeRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeRepoTx)(f).GetAppointmentByID(ctx, id)
}

func (f *fakeRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeRepoTx)(f).GetAppointmentDetail(ctx, id)
}

func (f *fakeRepo) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeRepoTx)(f).UpdateAppointmentStatus(ctx, id, from, to)
}

func (f *fakeRepo) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, window ListWindow) ([]AppointmentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeRepoTx)(f).ListAppointmentsByPatient(ctx, patientID, window)
}

// fakeRepoTx is fakeRepo inside WithTx: same data, no locking.
type fakeRepoTx fakeRepo

func (f *fakeRepoTx) WithTx(ctx context.Context, fn func(Repository) error) error {
	return fn(f)
}

func (f *fakeRepoTx) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	f.touched = true
	d, ok := f.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeRepoTx) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	f.touched = true
	p, ok := f.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepoTx) GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	f.touched = true
	s, ok := f.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func containsFold(hay, needle string) bool {
	return strings.Contains(strings.ToLower(hay), strings.ToLower(needle))
}

func (f *fakeRepoTx) ListDoctors(ctx context.Context, specialty, location string) ([]DoctorListing, error) {
	f.touched = true
	var result []DoctorListing
	for _, d := range f.doctors {
		if specialty != "" && !containsFold(d.Specialty, specialty) {
			continue
		}
		if location != "" && !containsFold(d.ClinicLocation, location) {
			continue
		}

		listing := DoctorListing{Doctor: *d}
		for _, s := range f.slots {
			if s.DoctorID != d.ID || s.Status != SlotAvailable {
				continue
			}
			if listing.NextAvailable == nil || s.StartTime.Before(listing.NextAvailable.StartTime) {
				cp := *s
				listing.NextAvailable = &cp
			}
		}
		result = append(result, listing)
	}
	return result, nil
}

func (f *fakeRepoTx) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, day *time.Time) ([]SlotDetail, error) {
	f.touched = true
	doctor := f.doctors[doctorID]

	var result []SlotDetail
	for _, s := range f.slots {
		if s.DoctorID != doctorID || s.Status != SlotAvailable {
			continue
		}
		if day != nil {
			y1, m1, d1 := s.StartTime.Date()
			y2, m2, d2 := day.Date()
			if y1 != y2 || m1 != m2 || d1 != d2 {
				continue
			}
		}
		result = append(result, SlotDetail{
			TimeSlot:   *s,
			DoctorName: doctor.Name,
			Specialty:  doctor.Specialty,
			Location:   doctor.ClinicLocation,
		})
	}
	return result, nil
}

func (f *fakeRepoTx) ActiveWindowsForPatient(ctx context.Context, patientID uuid.UUID) ([]Window, error) {
	f.touched = true
	var result []Window
	for _, a := range f.appointments {
		if a.PatientID != patientID || !a.Status.Active() || a.SlotID == nil {
			continue
		}
		slot := f.slots[*a.SlotID]
		result = append(result, Window{AppointmentID: a.ID, Start: slot.StartTime, End: slot.EndTime})
	}
	return result, nil
}

func (f *fakeRepoTx) HasPendingWithDoctor(ctx context.Context, patientID, doctorID uuid.UUID) (bool, error) {
	f.touched = true
	for _, a := range f.appointments {
		if a.PatientID == patientID && a.DoctorID == doctorID && a.Status == StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepoTx) ActiveExistsAt(ctx context.Context, doctorID uuid.UUID, date time.Time, clock string) (bool, error) {
	f.touched = true
	for _, a := range f.appointments {
		if a.DoctorID == doctorID && a.Date.Equal(date) && a.Time == clock &&
			(a.Status == StatusPending || a.Status == StatusConfirmed) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepoTx) MarkSlotBooked(ctx context.Context, slotID uuid.UUID) (bool, error) {
	f.touched = true
	s, ok := f.slots[slotID]
	if !ok || s.Status != SlotAvailable {
		return false, nil
	}
	s.Status = SlotBooked
	return true, nil
}

func (f *fakeRepoTx) ReleaseSlot(ctx context.Context, slotID uuid.UUID) (bool, error) {
	f.touched = true
	s, ok := f.slots[slotID]
	if !ok || s.Status != SlotBooked {
		return false, nil
	}
	s.Status = SlotAvailable
	return true, nil
}

func (f *fakeRepoTx) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	f.touched = true
	// Mirror the partial unique indexes.
	for _, existing := range f.appointments {
		if a.SlotID != nil && existing.SlotID != nil && *existing.SlotID == *a.SlotID &&
			existing.Status != StatusCancelled {
			return nil, ErrSlotBooked
		}
		if existing.DoctorID == a.DoctorID && existing.Date.Equal(a.Date) && existing.Time == a.Time &&
			(existing.Status == StatusPending || existing.Status == StatusConfirmed) {
			return nil, ErrTimeTaken
		}
	}

	cp := *a
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.appointments[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (f *fakeRepoTx) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	f.touched = true
	a, ok := f.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepoTx) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	a, err := f.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := AppointmentDetail{Appointment: *a}
	if p, ok := f.patients[a.PatientID]; ok {
		detail.PatientName = p.Name
	}
	if d, ok := f.doctors[a.DoctorID]; ok {
		detail.DoctorName = d.Name
		detail.Specialty = d.Specialty
		detail.Location = d.ClinicLocation
	}
	if a.SlotID != nil {
		if s, ok := f.slots[*a.SlotID]; ok {
			detail.SlotStart = &s.StartTime
			detail.SlotEnd = &s.EndTime
		}
	}
	return &detail, nil
}

func (f *fakeRepoTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	f.touched = true
	a, ok := f.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (f *fakeRepoTx) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, window ListWindow) ([]AppointmentDetail, error) {
	f.touched = true
	today := time.Now().UTC().Truncate(24 * time.Hour)

	var result []AppointmentDetail
	for id, a := range f.appointments {
		if a.PatientID != patientID {
			continue
		}
		switch window {
		case WindowUpcoming:
			if a.Date.Before(today) {
				continue
			}
		case WindowPast:
			if !a.Date.Before(today) {
				continue
			}
		}
		detail, err := f.GetAppointmentDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *detail)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].Time < result[j].Time
	})
	return result, nil
}

// fakeCache is an in-memory SlotCache recording invalidations.
type fakeCache struct {
	mu       sync.Mutex
	entries  map[string][]byte
	patterns []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.entries[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return b, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *fakeCache) DeletePattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns = append(c.patterns, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

type sentEmail struct {
	to     string
	status AppointmentStatus
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (n *fakeNotifier) AppointmentStatusChanged(to, patientName, doctorName string, status AppointmentStatus, date, clock string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEmail{to: to, status: status})
}

type fixture struct {
	repo     *fakeRepo
	cache    *fakeCache
	notifier *fakeNotifier
	svc      *Service

	doctor  *Doctor
	patient *Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newFakeRepo()
	fc := newFakeCache()
	fn := &fakeNotifier{}
	cfg := config.Config{SlotCacheTTL: time.Minute}

	f := &fixture{
		repo:     repo,
		cache:    fc,
		notifier: fn,
		svc:      NewService(repo, fc, fn, cfg, zerolog.Nop()),
	}

	f.doctor = f.addDoctor("Dr. Asha Rao", "Cardiology", "Mumbai Central Clinic")
	f.patient = f.addPatient("Ravi Kumar", "ravi@example.com")
	return f
}

func (f *fixture) addDoctor(name, specialty, location string) *Doctor {
	fee := 500.0
	d := &Doctor{
		ID:              uuid.New(),
		Name:            name,
		Specialty:       specialty,
		ClinicLocation:  location,
		ConsultationFee: &fee,
	}
	f.repo.doctors[d.ID] = d
	return d
}

func (f *fixture) addPatient(name, email string) *Patient {
	p := &Patient{ID: uuid.New(), Name: name, Email: &email}
	f.repo.patients[p.ID] = p
	return p
}

func (f *fixture) addSlot(doctorID uuid.UUID, start, end time.Time) *TimeSlot {
	s := &TimeSlot{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		StartTime: start,
		EndTime:   end,
		Status:    SlotAvailable,
	}
	f.repo.slots[s.ID] = s
	return s
}

func TestBookSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.addSlot(f.doctor.ID, at(9, 0), at(9, 30))

	detail, err := f.svc.BookSlot(ctx, f.patient.ID, slot.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, detail.Status)
	assert.Equal(t, f.doctor.ID, detail.DoctorID)
	require.NotNil(t, detail.SlotID)
	assert.Equal(t, slot.ID, *detail.SlotID)
	assert.Equal(t, "Dr. Asha Rao", detail.DoctorName)
	assert.Equal(t, "Cardiology", detail.Specialty)
	assert.Equal(t, "Mumbai Central Clinic", detail.Location)
	assert.Equal(t, "09:00", detail.Time)

	assert.Equal(t, SlotBooked, f.repo.slots[slot.ID].Status)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "ravi@example.com", f.notifier.sent[0].to)
	assert.Equal(t, StatusPending, f.notifier.sent[0].status)

	// Both the slot listings and the doctor listings embed this
	// doctor's slot state.
	require.Len(t, f.cache.patterns, 2)
	assert.Equal(t, "timeslots:"+f.doctor.ID.String()+":*", f.cache.patterns[0])
	assert.Equal(t, "doctors:*", f.cache.patterns[1])
}

func TestBookSlotUnknownSlot(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BookSlot(context.Background(), f.patient.ID, uuid.New())
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestBookSlotAlreadyBooked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.addSlot(f.doctor.ID, at(9, 0), at(9, 30))

	_, err := f.svc.BookSlot(ctx, f.patient.ID, slot.ID)
	require.NoError(t, err)

	other := f.addPatient("Meera Shah", "meera@example.com")
	_, err = f.svc.BookSlot(ctx, other.ID, slot.ID)
	assert.ErrorIs(t, err, ErrSlotBooked)
}

func TestBookSlotOverlapRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.addSlot(f.doctor.ID, at(9, 0), at(9, 30))
	_, err := f.svc.BookSlot(ctx, f.patient.ID, first.ID)
	require.NoError(t, err)

	// Second slot with a different doctor, 09:15-09:45, overlaps the
	// patient's existing 09:00-09:30 window.
	other := f.addDoctor("Dr. Neel Shah", "Dermatology", "Andheri Clinic")
	overlapping := f.addSlot(other.ID, at(9, 15), at(9, 45))

	_, err = f.svc.BookSlot(ctx, f.patient.ID, overlapping.ID)
	assert.ErrorIs(t, err, ErrOverlap)
	assert.Equal(t, SlotAvailable, f.repo.slots[overlapping.ID].Status)

	// Back-to-back is fine: half-open windows touching at 09:30.
	adjacent := f.addSlot(other.ID, at(9, 30), at(10, 0))
	_, err = f.svc.BookSlot(ctx, f.patient.ID, adjacent.ID)
	assert.NoError(t, err)
}

// Exactly one of N concurrent bookers gets the slot; everyone else
// sees a conflict, and the slot ends up BOOKED with one appointment.
func TestBookSlotMutualExclusion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.addSlot(f.doctor.ID, at(9, 0), at(9, 30))

	const bookers = 32
	patients := make([]*Patient, bookers)
	for i := range patients {
		patients[i] = f.addPatient("Patient", "p@example.com")
	}

	errs := make([]error, bookers)
	var wg sync.WaitGroup
	for i := 0; i < bookers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.BookSlot(ctx, patients[i].ID, slot.ID)
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotBooked):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, bookers-1, conflicts)
	assert.Equal(t, SlotBooked, f.repo.slots[slot.ID].Status)
	assert.Len(t, f.repo.appointments, 1)
}

// racedRepo simulates a booker that enters between our pre-check and
// the conditional write: the slot reads AVAILABLE but the guarded
// update affects zero rows.
type racedRepo struct {
	Repository
}

func (r *racedRepo) WithTx(ctx context.Context, fn func(Repository) error) error {
	return r.Repository.WithTx(ctx, func(tx Repository) error {
		return fn(&racedRepo{tx})
	})
}

func (r *racedRepo) MarkSlotBooked(ctx context.Context, slotID uuid.UUID) (bool, error) {
	return false, nil
}

func TestBookSlotZeroRowUpdateIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.addSlot(f.doctor.ID, at(9, 0), at(9, 30))

	svc := NewService(&racedRepo{f.repo}, nil, nil, config.Config{}, zerolog.Nop())

	_, err := svc.BookSlot(ctx, f.patient.ID, slot.ID)
	assert.ErrorIs(t, err, ErrSlotBooked)
	assert.Empty(t, f.repo.appointments)
}

func TestCancelReleasesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.addSlot(f.doctor.ID, at(9, 0), at(9, 30))

	detail, err := f.svc.BookSlot(ctx, f.patient.ID, slot.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, f.patient.ID, detail.ID))

	assert.Equal(t, StatusCancelled, f.repo.appointments[detail.ID].Status)
	assert.Equal(t, SlotAvailable, f.repo.slots[slot.ID].Status)

	// The freed slot is bookable again by someone else.
	other := f.addPatient("Meera Shah", "meera@example.com")
	rebooked, err := f.svc.BookSlot(ctx, other.ID, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rebooked.Status)
	assert.Equal(t, SlotBooked, f.repo.slots[slot.ID].Status)
}

func TestCancelAlreadyCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.addSlot(f.doctor.ID, at(9, 0), at(9, 30))

	detail, err := f.svc.BookSlot(ctx, f.patient.ID, slot.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ctx, f.patient.ID, detail.ID))

	err = f.svc.Cancel(ctx, f.patient.ID, detail.ID)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)

	// State unchanged: still cancelled, slot still free.
	assert.Equal(t, StatusCancelled, f.repo.appointments[detail.ID].Status)
	assert.Equal(t, SlotAvailable, f.repo.slots[slot.ID].Status)
}

func TestCancelOwnershipAndTerminalStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.addSlot(f.doctor.ID, at(9, 0), at(9, 30))

	detail, err := f.svc.BookSlot(ctx, f.patient.ID, slot.ID)
	require.NoError(t, err)

	intruder := f.addPatient("Someone Else", "else@example.com")
	assert.ErrorIs(t, f.svc.Cancel(ctx, intruder.ID, detail.ID), ErrNotOwner)

	assert.ErrorIs(t, f.svc.Cancel(ctx, f.patient.ID, uuid.New()), ErrAppointmentNotFound)

	// Completed appointments cannot be cancelled.
	_, err = f.svc.Confirm(ctx, f.doctor.ID, detail.ID)
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, f.doctor.ID, detail.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.Cancel(ctx, f.patient.ID, detail.ID), ErrInvalidTransition)
}

func TestBookDirectValidatesBeforeStoreAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BookDirect(ctx, f.patient.ID, f.doctor.ID, "2026-09-01", "25:00", "", nil)
	assert.ErrorIs(t, err, ErrInvalidTime)

	_, err = f.svc.BookDirect(ctx, f.patient.ID, f.doctor.ID, "not-a-date", "10:00", "", nil)
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = f.svc.BookDirect(ctx, f.patient.ID, f.doctor.ID, "2026-09-01", "10:00", "HOUSECALL", nil)
	assert.ErrorIs(t, err, ErrInvalidType)

	assert.False(t, f.repo.touched, "validation failures must not reach the store")
}

func TestBookDirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	notes := "persistent headaches"
	detail, err := f.svc.BookDirect(ctx, f.patient.ID, f.doctor.ID, "2026-09-01", "10:00", TypeOnline, &notes)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, detail.Status)
	assert.Equal(t, TypeOnline, detail.Type)
	assert.Nil(t, detail.SlotID)
	assert.Equal(t, "10:00", detail.Time)
	require.NotNil(t, detail.Notes)
	assert.Equal(t, notes, *detail.Notes)
	assert.Equal(t, "Dr. Asha Rao", detail.DoctorName)

	require.Len(t, f.notifier.sent, 1)
}

func TestBookDirectDefaultsToOffline(t *testing.T) {
	f := newFixture(t)

	detail, err := f.svc.BookDirect(context.Background(), f.patient.ID, f.doctor.ID, "2026-09-01", "10:00", "", nil)
	require.NoError(t, err)
	assert.Equal(t, TypeOffline, detail.Type)
}

func TestBookDirectUnknownDoctor(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BookDirect(context.Background(), f.patient.ID, uuid.New(), "2026-09-01", "10:00", "", nil)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestBookDirectPendingWithDoctorRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BookDirect(ctx, f.patient.ID, f.doctor.ID, "2026-09-01", "10:00", "", nil)
	require.NoError(t, err)

	// Second request to the same doctor while the first is pending,
	// even at a different time.
	_, err = f.svc.BookDirect(ctx, f.patient.ID, f.doctor.ID, "2026-09-02", "14:00", "", nil)
	assert.ErrorIs(t, err, ErrPendingExists)
}

func TestBookDirectTimeTaken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BookDirect(ctx, f.patient.ID, f.doctor.ID, "2026-09-01", "10:00", "", nil)
	require.NoError(t, err)

	other := f.addPatient("Meera Shah", "meera@example.com")
	_, err = f.svc.BookDirect(ctx, other.ID, f.doctor.ID, "2026-09-01", "10:00", "", nil)
	assert.ErrorIs(t, err, ErrTimeTaken)
}

// Two concurrent direct bookings for the same (doctor, date, time):
// one PENDING appointment, one conflict.
func TestBookDirectConcurrentUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const bookers = 16
	patients := make([]*Patient, bookers)
	for i := range patients {
		patients[i] = f.addPatient("Patient", "p@example.com")
	}

	errs := make([]error, bookers)
	var wg sync.WaitGroup
	for i := 0; i < bookers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.BookDirect(ctx, patients[i].ID, f.doctor.ID, "2026-09-01", "10:00", "", nil)
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrTimeTaken):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, bookers-1, conflicts)
	assert.Len(t, f.repo.appointments, 1)
}

// A pending direct request with a doctor blocks further direct
// requests but not slot bookings with that same doctor. Intentional
// asymmetry carried over from the upstream behavior.
func TestSlotBookingAllowedDespitePendingRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BookDirect(ctx, f.patient.ID, f.doctor.ID, "2026-09-01", "10:00", "", nil)
	require.NoError(t, err)

	slot := f.addSlot(f.doctor.ID, at(15, 0), at(15, 30))
	_, err = f.svc.BookSlot(ctx, f.patient.ID, slot.ID)
	assert.NoError(t, err)
}

func TestConfirmAndComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.addSlot(f.doctor.ID, at(9, 0), at(9, 30))

	detail, err := f.svc.BookSlot(ctx, f.patient.ID, slot.ID)
	require.NoError(t, err)

	// Completing a pending appointment skips a state.
	_, err = f.svc.Complete(ctx, f.doctor.ID, detail.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Wrong doctor.
	_, err = f.svc.Confirm(ctx, uuid.New(), detail.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	confirmed, err := f.svc.Confirm(ctx, f.doctor.ID, detail.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	_, err = f.svc.Confirm(ctx, f.doctor.ID, detail.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	completed, err := f.svc.Complete(ctx, f.doctor.ID, detail.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)

	_, err = f.svc.Complete(ctx, f.doctor.ID, detail.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestListAvailableSlotsReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSlot(f.doctor.ID, at(9, 0), at(9, 30))

	slots, err := f.svc.ListAvailableSlots(ctx, f.doctor.ID, "")
	require.NoError(t, err)
	require.Len(t, slots, 1)

	// Add a slot behind the cache's back: the cached listing is served
	// until something invalidates it.
	f.addSlot(f.doctor.ID, at(10, 0), at(10, 30))

	slots, err = f.svc.ListAvailableSlots(ctx, f.doctor.ID, "")
	require.NoError(t, err)
	assert.Len(t, slots, 1)

	// Booking invalidates; next read sees fresh data minus the booked
	// slot.
	_, err = f.svc.BookSlot(ctx, f.patient.ID, slots[0].ID)
	require.NoError(t, err)

	slots, err = f.svc.ListAvailableSlots(ctx, f.doctor.ID, "")
	require.NoError(t, err)
	assert.Len(t, slots, 1)
	assert.Equal(t, at(10, 0), slots[0].StartTime)
}

func TestListAvailableSlotsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ListAvailableSlots(ctx, uuid.New(), "")
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	_, err = f.svc.ListAvailableSlots(ctx, f.doctor.ID, "September 1st")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestListDoctorsFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	derm := f.addDoctor("Dr. Neel Shah", "Dermatology", "Andheri Clinic")

	all, err := f.svc.ListDoctors(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cardio, err := f.svc.ListDoctors(ctx, "cardio", "")
	require.NoError(t, err)
	require.Len(t, cardio, 1)
	assert.Equal(t, f.doctor.ID, cardio[0].ID)

	andheri, err := f.svc.ListDoctors(ctx, "", "andheri")
	require.NoError(t, err)
	require.Len(t, andheri, 1)
	assert.Equal(t, derm.ID, andheri[0].ID)

	none, err := f.svc.ListDoctors(ctx, "cardio", "andheri")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListDoctorsReadsThroughCacheAndInvalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.addSlot(f.doctor.ID, at(9, 0), at(9, 30))

	doctors, err := f.svc.ListDoctors(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, doctors, 1)
	require.NotNil(t, doctors[0].NextAvailable)
	assert.Equal(t, slot.ID, doctors[0].NextAvailable.ID)

	// Served from cache: a doctor added behind its back stays
	// invisible until something invalidates.
	f.addDoctor("Dr. Neel Shah", "Dermatology", "Andheri Clinic")
	doctors, err = f.svc.ListDoctors(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, doctors, 1)

	// Booking drops doctor listings along with slot listings, since
	// NextAvailable embeds slot state.
	_, err = f.svc.BookSlot(ctx, f.patient.ID, slot.ID)
	require.NoError(t, err)
	assert.Contains(t, f.cache.patterns, "doctors:*")

	doctors, err = f.svc.ListDoctors(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, doctors, 2)
	for _, d := range doctors {
		if d.ID == f.doctor.ID {
			assert.Nil(t, d.NextAvailable)
		}
	}
}

func TestListAppointmentsWindowsAndOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	today := time.Now().UTC().Truncate(24 * time.Hour)

	add := func(date time.Time, clock string) uuid.UUID {
		a := &Appointment{
			ID:        uuid.New(),
			PatientID: f.patient.ID,
			DoctorID:  f.doctor.ID,
			Date:      date,
			Time:      clock,
			Type:      TypeOffline,
			Status:    StatusConfirmed,
		}
		f.repo.appointments[a.ID] = a
		return a.ID
	}

	past := add(today.AddDate(0, 0, -7), "10:00")
	laterToday := add(today, "16:00")
	earlierToday := add(today, "09:00")
	future := add(today.AddDate(0, 0, 3), "11:00")

	all, err := f.svc.ListAppointments(ctx, f.patient.ID, WindowAll)
	require.NoError(t, err)
	require.Len(t, all, 4)
	got := []uuid.UUID{all[0].ID, all[1].ID, all[2].ID, all[3].ID}
	assert.Equal(t, []uuid.UUID{past, earlierToday, laterToday, future}, got)

	upcoming, err := f.svc.ListAppointments(ctx, f.patient.ID, WindowUpcoming)
	require.NoError(t, err)
	require.Len(t, upcoming, 3)
	assert.Equal(t, earlierToday, upcoming[0].ID)
	assert.Equal(t, future, upcoming[2].ID)

	pastOnly, err := f.svc.ListAppointments(ctx, f.patient.ID, WindowPast)
	require.NoError(t, err)
	require.Len(t, pastOnly, 1)
	assert.Equal(t, past, pastOnly[0].ID)
}

func TestListAppointmentsUnknownWindow(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListAppointments(context.Background(), f.patient.ID, "yesterday")
	assert.ErrorIs(t, err, ErrInvalidWindow)
}
