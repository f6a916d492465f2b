package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/turnos-scheduling/internal/appointment"
	"github.com/hackgods/turnos-scheduling/internal/identity"
)

type AppointmentService interface {
	CreateAppointment(ctx context.Context, in appointment.CreateInput) (uuid.UUID, error)
	CancelAppointment(ctx context.Context, in appointment.CancelInput) error
	ListForPatient(ctx context.Context, patientID uuid.UUID) ([]appointment.AppointmentView, error)
	ListForDoctor(ctx context.Context, doctorID uuid.UUID) ([]appointment.AppointmentView, error)
}

type RouterConfig struct {
	Service  AppointmentService
	Verifier *identity.Verifier
	Health   *HealthHandler
	Logger   zerolog.Logger
	Timeout  time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Timeout > 0 {
		r.Use(middleware.Timeout(cfg.Timeout))
	}

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	patientRoles := identity.RequireRole(identity.RolePatient, identity.RoleAdmin)
	doctorRoles := identity.RequireRole(identity.RoleDoctor, identity.RoleAdmin)

	r.Route("/api/appointments", func(r chi.Router) {
		r.Use(identity.Authenticate(cfg.Verifier))

		r.With(patientRoles).Get("/my", listForPatientHandler(cfg.Service, cfg.Logger))
		r.With(doctorRoles).Get("/doctor/my", listForDoctorHandler(cfg.Service, cfg.Logger))
		r.With(patientRoles).Post("/", createAppointmentHandler(cfg.Service, cfg.Logger))
		r.With(patientRoles).Post("/{id}/cancel", cancelAppointmentHandler(cfg.Service, appointment.ActorPatient, cfg.Logger))
		r.With(doctorRoles).Post("/{id}/doctor-cancel", cancelAppointmentHandler(cfg.Service, appointment.ActorDoctor, cfg.Logger))
	})

	return r
}
