package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/turnos-scheduling/internal/appointment"
	"github.com/hackgods/turnos-scheduling/internal/identity"
)

// parseOptionalID treats an empty string as missing so the service reports
// incomplete data.
func parseOptionalID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(raw)
}

// decodeBody decodes JSON into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func listForPatientHandler(svc AppointmentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identity.FromContext(r.Context())

		views, err := svc.ListForPatient(r.Context(), caller.UserID)
		if err != nil {
			handleError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toPatientResponses(views))
	}
}

func listForDoctorHandler(svc AppointmentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identity.FromContext(r.Context())

		views, err := svc.ListForDoctor(r.Context(), caller.UserID)
		if err != nil {
			handleError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toDoctorResponses(views))
	}
}

func createAppointmentHandler(svc AppointmentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identity.FromContext(r.Context())

		var req CreateAppointmentRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := parseOptionalID(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		specialtyID, err := parseOptionalID(req.SpecialtyID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_specialty_id", "specialty_id must be a valid UUID")
			return
		}

		id, err := svc.CreateAppointment(r.Context(), appointment.CreateInput{
			PatientID:   caller.UserID,
			DoctorID:    doctorID,
			SpecialtyID: specialtyID,
			Date:        req.Date,
			Time:        req.Time,
		})
		if err != nil {
			handleError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreateAppointmentResponse{ID: id})
	}
}

// cancelAppointmentHandler serves both cancel routes. actor follows the
// route, not the caller's role, so an admin acts as patient or doctor.
func cancelAppointmentHandler(svc AppointmentService, actor appointment.Actor, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identity.FromContext(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CancelAppointmentRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		err = svc.CancelAppointment(r.Context(), appointment.CancelInput{
			AppointmentID: id,
			ActorID:       caller.UserID,
			Actor:         actor,
			Reason:        req.Reason,
		})
		if err != nil {
			handleError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, OKResponse{OK: true})
	}
}

var validationCodes = map[error]string{
	appointment.ErrIncompleteData:     "incomplete_data",
	appointment.ErrInvalidDate:        "invalid_date",
	appointment.ErrInvalidTime:        "invalid_time",
	appointment.ErrPatientNotFound:    "patient_not_found",
	appointment.ErrDoctorNotFound:     "doctor_not_found",
	appointment.ErrSpecialtyNotServed: "specialty_not_served",
	appointment.ErrPatientMismatch:    "patient_mismatch",
	appointment.ErrDoctorMismatch:     "doctor_mismatch",
	appointment.ErrReasonTooShort:     "reason_too_short",
	appointment.ErrInvalidActor:       "invalid_actor",
}

const msgAppointmentNotFound = "Turno no encontrado"

func handleError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrSlotReserved):
		writeError(w, http.StatusConflict, "slot_reserved", err.Error())
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", msgAppointmentNotFound)
	case appointment.IsValidation(err):
		var v *appointment.ValidationError
		errors.As(err, &v)
		code, ok := validationCodes[v]
		if !ok {
			code = "invalid_request"
		}
		writeError(w, http.StatusBadRequest, code, v.Message)
	default:
		logger.Error().Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
