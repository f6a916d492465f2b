package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Status is a value of the status catalog. The string is the catalog value
// stored in the statuses table and shown to users.
type Status string

const (
	StatusPending   Status = "Pendiente"
	StatusConfirmed Status = "Confirmado"
	StatusCancelled Status = "Cancelado"
	StatusAttended  Status = "Atendido"
)

// Statuses lists every value the catalog must provide.
var Statuses = []Status{StatusPending, StatusConfirmed, StatusCancelled, StatusAttended}

// Actor tags who performed a cancellation.
type Actor string

const (
	ActorPatient Actor = "PACIENTE"
	ActorDoctor  Actor = "MEDICO"
)

func (a Actor) Valid() bool {
	return a == ActorPatient || a == ActorDoctor
}

type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	SpecialtyID uuid.UUID
	ScheduledAt time.Time
	CreatedAt   time.Time
}

type StatusEvent struct {
	ID            int64
	AppointmentID uuid.UUID
	Status        Status
	CreatedAt     time.Time
}

type CancellationRecord struct {
	ID            int64
	AppointmentID uuid.UUID
	Reason        *string
	Actor         Actor
	CreatedAt     time.Time
}

// Projection is the state derived from an appointment's history.
type Projection struct {
	Status       Status
	CancelReason *string
	CancelActor  *Actor
}

// AppointmentView is one row of a patient or doctor listing. Counterpart
// fields hold the doctor for patient listings and the patient for doctor
// listings.
type AppointmentView struct {
	ID               uuid.UUID
	ScheduledAt      time.Time
	CounterpartName  string
	CounterpartEmail *string
	CounterpartDNI   *string
	SpecialtyName    string
	Projection
}

func (v AppointmentView) Date() string { return v.ScheduledAt.Format(dateLayout) }
func (v AppointmentView) Time() string { return v.ScheduledAt.Format(timeLayout) }

// Upcoming is an active appointment due inside a reminder window.
type Upcoming struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	ScheduledAt   time.Time
	PatientEmail  string
	DoctorName    string
	SpecialtyName string
	Status        Status
}
