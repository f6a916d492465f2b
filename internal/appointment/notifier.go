package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	KindCreated   = "appointment.created"
	KindCancelled = "appointment.cancelled"
	KindReminder  = "appointment.reminder"
)

// Notification describes a scheduling event for downstream delivery.
type Notification struct {
	Kind          string    `json:"kind"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	Actor         *Actor    `json:"actor,omitempty"`
	Reason        *string   `json:"reason,omitempty"`
}

// Notifier delivers notifications on a best-effort basis.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }
