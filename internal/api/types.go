package api

import (
	"github.com/google/uuid"

	"github.com/hackgods/turnos-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	DoctorID    string `json:"doctor_id"`
	SpecialtyID string `json:"specialty_id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
}

type CreateAppointmentResponse struct {
	ID uuid.UUID `json:"id"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

// PatientAppointmentResponse is one row of GET /api/appointments/my.
type PatientAppointmentResponse struct {
	ID            uuid.UUID `json:"id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	DoctorName    string    `json:"doctor_name"`
	SpecialtyName string    `json:"specialty_name"`
	Status        string    `json:"status"`
	CancelReason  *string   `json:"cancel_reason"`
	CancelActor   *string   `json:"cancel_actor"`
}

// DoctorAppointmentResponse is one row of GET /api/appointments/doctor/my.
type DoctorAppointmentResponse struct {
	ID            uuid.UUID `json:"id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	PatientName   string    `json:"patient_name"`
	PatientEmail  *string   `json:"patient_email"`
	PatientDNI    *string   `json:"patient_dni"`
	SpecialtyName string    `json:"specialty_name"`
	Status        string    `json:"status"`
	CancelReason  *string   `json:"cancel_reason"`
	CancelActor   *string   `json:"cancel_actor"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func actorString(a *appointment.Actor) *string {
	if a == nil {
		return nil
	}
	s := string(*a)
	return &s
}

func toPatientResponses(views []appointment.AppointmentView) []PatientAppointmentResponse {
	out := make([]PatientAppointmentResponse, 0, len(views))
	for _, v := range views {
		out = append(out, PatientAppointmentResponse{
			ID:            v.ID,
			Date:          v.Date(),
			Time:          v.Time(),
			DoctorName:    v.CounterpartName,
			SpecialtyName: v.SpecialtyName,
			Status:        string(v.Status),
			CancelReason:  v.CancelReason,
			CancelActor:   actorString(v.CancelActor),
		})
	}
	return out
}

func toDoctorResponses(views []appointment.AppointmentView) []DoctorAppointmentResponse {
	out := make([]DoctorAppointmentResponse, 0, len(views))
	for _, v := range views {
		out = append(out, DoctorAppointmentResponse{
			ID:            v.ID,
			Date:          v.Date(),
			Time:          v.Time(),
			PatientName:   v.CounterpartName,
			PatientEmail:  v.CounterpartEmail,
			PatientDNI:    v.CounterpartDNI,
			SpecialtyName: v.SpecialtyName,
			Status:        string(v.Status),
			CancelReason:  v.CancelReason,
			CancelActor:   actorString(v.CancelActor),
		})
	}
	return out
}
