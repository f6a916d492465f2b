package appointment

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// User is the subset of an identity record the scheduler reads.
type User struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Email     string
	DNI       *string
	Role      string
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type memAppointment struct {
	Appointment
	active bool
}

type memState struct {
	users         map[uuid.UUID]User
	patients      map[uuid.UUID]bool
	doctors       map[uuid.UUID][]uuid.UUID
	specialties   map[uuid.UUID]string
	statuses      map[Status]int64
	appointments  []memAppointment
	events        []StatusEvent
	cancellations []CancellationRecord
	nextEventID   int64
	nextCancelID  int64
}

func (s *memState) clone() *memState {
	c := *s
	c.users = maps.Clone(s.users)
	c.patients = maps.Clone(s.patients)
	c.doctors = make(map[uuid.UUID][]uuid.UUID, len(s.doctors))
	for k, v := range s.doctors {
		c.doctors[k] = slices.Clone(v)
	}
	c.specialties = maps.Clone(s.specialties)
	c.statuses = maps.Clone(s.statuses)
	c.appointments = slices.Clone(s.appointments)
	c.events = slices.Clone(s.events)
	c.cancellations = slices.Clone(s.cancellations)
	return &c
}

// MemoryRepository is an in-process Repository. Transactions are serialized
// and roll back by restoring a snapshot, so it honors the same atomicity
// guarantees as the Postgres repository.
type MemoryRepository struct {
	mu       sync.Mutex
	state    *memState
	now      func() time.Time
	failures map[string]error
}

func NewMemoryRepository() *MemoryRepository {
	statuses := make(map[Status]int64, len(Statuses))
	for i, s := range Statuses {
		statuses[s] = int64(i + 1)
	}
	return &MemoryRepository{
		state: &memState{
			users:       make(map[uuid.UUID]User),
			patients:    make(map[uuid.UUID]bool),
			doctors:     make(map[uuid.UUID][]uuid.UUID),
			specialties: make(map[uuid.UUID]string),
			statuses:    statuses,
		},
		now:      time.Now,
		failures: make(map[string]error),
	}
}

// SetClock overrides the timestamp source for history rows.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// failOn makes the named Tx operation return err until cleared with a nil err.
func (r *MemoryRepository) failOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, op)
		return
	}
	r.failures[op] = err
}

func (r *MemoryRepository) dropStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state.statuses, s)
}

func (r *MemoryRepository) AddUser(u User) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	r.state.users[u.ID] = u
	return u.ID
}

func (r *MemoryRepository) AddSpecialty(name string) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.state.specialties[id] = name
	return id
}

// AddDoctor registers a doctor user with the given specialty assignments.
func (r *MemoryRepository) AddDoctor(u User, specialties ...uuid.UUID) uuid.UUID {
	u.Role = "MEDICO"
	id := r.AddUser(u)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.doctors[id] = slices.Clone(specialties)
	return id
}

func (r *MemoryRepository) hasPatientProfile(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.patients[id]
}

func (r *MemoryRepository) AppointmentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.appointments)
}

func (r *MemoryRepository) Events(appointmentID uuid.UUID) []StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.eventsFor(appointmentID)
}

func (r *MemoryRepository) Cancellations(appointmentID uuid.UUID) []CancellationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.cancellationsFor(appointmentID)
}

func (s *memState) eventsFor(id uuid.UUID) []StatusEvent {
	var out []StatusEvent
	for _, e := range s.events {
		if e.AppointmentID == id {
			out = append(out, e)
		}
	}
	return out
}

func (s *memState) cancellationsFor(id uuid.UUID) []CancellationRecord {
	var out []CancellationRecord
	for _, c := range s.cancellations {
		if c.AppointmentID == id {
			out = append(out, c)
		}
	}
	return out
}

func (s *memState) project(id uuid.UUID) Projection {
	return Project(s.eventsFor(id), s.cancellationsFor(id))
}

// Interface methods

func (r *MemoryRepository) StatusID(_ context.Context, status Status) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.state.statuses[status]
	return id, ok, nil
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state.clone()
	if err := fn(ctx, &memTx{repo: r}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID) ([]AppointmentView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]AppointmentView, 0)
	for _, a := range r.state.appointments {
		if a.PatientID != patientID {
			continue
		}
		result = append(result, AppointmentView{
			ID:              a.ID,
			ScheduledAt:     a.ScheduledAt,
			CounterpartName: r.state.users[a.DoctorID].FullName(),
			SpecialtyName:   r.state.specialties[a.SpecialtyID],
			Projection:      r.state.project(a.ID),
		})
	}
	sortViews(result)
	return result, nil
}

func (r *MemoryRepository) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]AppointmentView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]AppointmentView, 0)
	for _, a := range r.state.appointments {
		if a.DoctorID != doctorID {
			continue
		}
		patient := r.state.users[a.PatientID]
		email := patient.Email
		result = append(result, AppointmentView{
			ID:               a.ID,
			ScheduledAt:      a.ScheduledAt,
			CounterpartName:  patient.FullName(),
			CounterpartEmail: &email,
			CounterpartDNI:   patient.DNI,
			SpecialtyName:    r.state.specialties[a.SpecialtyID],
			Projection:       r.state.project(a.ID),
		})
	}
	sortViews(result)
	return result, nil
}

func (r *MemoryRepository) ListActiveBetween(_ context.Context, from, to time.Time) ([]Upcoming, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Upcoming
	for _, a := range r.state.appointments {
		if a.ScheduledAt.Before(from) || a.ScheduledAt.After(to) {
			continue
		}
		status := CurrentStatus(r.state.eventsFor(a.ID))
		if status == StatusCancelled {
			continue
		}
		result = append(result, Upcoming{
			AppointmentID: a.ID,
			PatientID:     a.PatientID,
			DoctorID:      a.DoctorID,
			ScheduledAt:   a.ScheduledAt,
			PatientEmail:  r.state.users[a.PatientID].Email,
			DoctorName:    r.state.users[a.DoctorID].FullName(),
			SpecialtyName: r.state.specialties[a.SpecialtyID],
			Status:        status,
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ScheduledAt.Before(result[j].ScheduledAt)
	})
	return result, nil
}

func sortViews(views []AppointmentView) {
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].ScheduledAt.After(views[j].ScheduledAt)
	})
}

// memTx runs with repo.mu held by WithinTx.
type memTx struct {
	repo *MemoryRepository
}

func (t *memTx) fail(op string) error {
	return t.repo.failures[op]
}

func (t *memTx) StatusID(_ context.Context, status Status) (int64, bool, error) {
	if err := t.fail("StatusID"); err != nil {
		return 0, false, err
	}
	id, ok := t.repo.state.statuses[status]
	return id, ok, nil
}

func (t *memTx) statusName(id int64) (Status, bool) {
	for s, v := range t.repo.state.statuses {
		if v == id {
			return s, true
		}
	}
	return "", false
}

func (t *memTx) EnsurePatientProfile(_ context.Context, patientID uuid.UUID) error {
	if err := t.fail("EnsurePatientProfile"); err != nil {
		return err
	}
	st := t.repo.state
	if st.patients[patientID] {
		return nil
	}
	u, ok := st.users[patientID]
	if !ok || u.Role != "PACIENTE" {
		return ErrPatientNotFound
	}
	st.patients[patientID] = true
	return nil
}

func (t *memTx) DoctorSpecialties(_ context.Context, doctorID uuid.UUID) ([]uuid.UUID, error) {
	if err := t.fail("DoctorSpecialties"); err != nil {
		return nil, err
	}
	return slices.Clone(t.repo.state.doctors[doctorID]), nil
}

func (t *memTx) SlotStatuses(_ context.Context, doctorID uuid.UUID, at time.Time) ([]Status, error) {
	if err := t.fail("SlotStatuses"); err != nil {
		return nil, err
	}
	var out []Status
	for _, a := range t.repo.state.appointments {
		if a.DoctorID == doctorID && a.ScheduledAt.Equal(at) {
			out = append(out, CurrentStatus(t.repo.state.eventsFor(a.ID)))
		}
	}
	return out, nil
}

func (t *memTx) InsertAppointment(_ context.Context, a *Appointment) error {
	if err := t.fail("InsertAppointment"); err != nil {
		return err
	}
	st := t.repo.state
	for _, existing := range st.appointments {
		if existing.active && existing.DoctorID == a.DoctorID && existing.ScheduledAt.Equal(a.ScheduledAt) {
			return ErrSlotReserved
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = t.repo.now()
	st.appointments = append(st.appointments, memAppointment{Appointment: *a, active: true})
	return nil
}

func (t *memTx) InsertStatusEvent(_ context.Context, appointmentID uuid.UUID, statusID int64) error {
	if err := t.fail("InsertStatusEvent"); err != nil {
		return err
	}
	status, ok := t.statusName(statusID)
	if !ok {
		return errors.New("status id violates foreign key")
	}
	st := t.repo.state
	st.nextEventID++
	st.events = append(st.events, StatusEvent{
		ID:            st.nextEventID,
		AppointmentID: appointmentID,
		Status:        status,
		CreatedAt:     t.repo.now(),
	})
	return nil
}

func (t *memTx) LockAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	if err := t.fail("LockAppointment"); err != nil {
		return nil, err
	}
	for _, a := range t.repo.state.appointments {
		if a.ID == id {
			appt := a.Appointment
			return &appt, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (t *memTx) StatusHistory(_ context.Context, appointmentID uuid.UUID) ([]StatusEvent, error) {
	if err := t.fail("StatusHistory"); err != nil {
		return nil, err
	}
	return t.repo.state.eventsFor(appointmentID), nil
}

func (t *memTx) Deactivate(_ context.Context, appointmentID uuid.UUID) error {
	if err := t.fail("Deactivate"); err != nil {
		return err
	}
	for i := range t.repo.state.appointments {
		if t.repo.state.appointments[i].ID == appointmentID {
			t.repo.state.appointments[i].active = false
		}
	}
	return nil
}

func (t *memTx) InsertCancellation(_ context.Context, rec CancellationRecord) error {
	if err := t.fail("InsertCancellation"); err != nil {
		return err
	}
	st := t.repo.state
	st.nextCancelID++
	rec.ID = st.nextCancelID
	rec.CreatedAt = t.repo.now()
	st.cancellations = append(st.cancellations, rec)
	return nil
}
