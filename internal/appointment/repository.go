package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ValidationError is a user-correctable problem. Message is safe to show to
// the caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(msg string) *ValidationError { return &ValidationError{Message: msg} }

var (
	ErrIncompleteData     = invalid("Datos incompletos para crear el turno")
	ErrInvalidDate        = invalid("Fecha inválida (usar formato YYYY-MM-DD)")
	ErrInvalidTime        = invalid("Hora inválida (usar formato HH:mm)")
	ErrPatientNotFound    = invalid("Paciente no encontrado")
	ErrDoctorNotFound     = invalid("Doctor no encontrado")
	ErrSpecialtyNotServed = invalid("El doctor no atiende la especialidad seleccionada")
	ErrSlotReserved       = invalid("El turno ya está reservado")
	ErrSlotBeingBooked    = invalid("El turno se está reservando en este momento, intente nuevamente")
	ErrPatientMismatch    = invalid("Turno no coincide con el paciente")
	ErrDoctorMismatch     = invalid("Turno no coincide con el médico")
	ErrReasonTooShort     = invalid("Indica un motivo (mínimo 5 caracteres)")
	ErrInvalidActor       = invalid("Actor de cancelación inválido")
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrStatusNotProvisioned means the statuses table lacks a catalog value.
	// It is a deployment error and must never be replaced by a default.
	ErrStatusNotProvisioned = errors.New("status catalog not provisioned")
)

// IsValidation reports whether err is a user-correctable validation error.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// StatusLookup resolves a catalog value to its storage id. found is false when
// the value is not provisioned.
type StatusLookup interface {
	StatusID(ctx context.Context, status Status) (id int64, found bool, err error)
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	StatusLookup

	// WithinTx runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentView, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]AppointmentView, error)

	// ListActiveBetween returns appointments scheduled in [from, to] whose
	// derived status is not cancelled.
	ListActiveBetween(ctx context.Context, from, to time.Time) ([]Upcoming, error)
}

// Tx is the set of operations available inside a booking or cancellation
// transaction.
type Tx interface {
	StatusLookup

	// EnsurePatientProfile creates the patient profile when missing. Returns
	// ErrPatientNotFound when the user does not exist or is not a patient.
	EnsurePatientProfile(ctx context.Context, patientID uuid.UUID) error
	DoctorSpecialties(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error)

	// SlotStatuses returns the derived status of every appointment booked
	// for the doctor at exactly at.
	SlotStatuses(ctx context.Context, doctorID uuid.UUID, at time.Time) ([]Status, error)

	// InsertAppointment fills a.ID and a.CreatedAt. Returns ErrSlotReserved
	// when another active appointment holds the slot.
	InsertAppointment(ctx context.Context, a *Appointment) error
	InsertStatusEvent(ctx context.Context, appointmentID uuid.UUID, statusID int64) error

	// LockAppointment loads the appointment and holds an exclusive row lock
	// until the transaction ends.
	LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	StatusHistory(ctx context.Context, appointmentID uuid.UUID) ([]StatusEvent, error)
	Deactivate(ctx context.Context, appointmentID uuid.UUID) error
	InsertCancellation(ctx context.Context, rec CancellationRecord) error
}
