package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/turnos-scheduling/internal/appointment"
	"github.com/hackgods/turnos-scheduling/internal/identity"
	redisclient "github.com/hackgods/turnos-scheduling/internal/redis"
)

const testSecret = "router-test-secret"

type testEnv struct {
	t          *testing.T
	repo       *appointment.MemoryRepository
	handler    http.Handler
	patient    uuid.UUID
	doctor     uuid.UUID
	admin      uuid.UUID
	cardiology uuid.UUID
	derma      uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, nil)
}

// newTestEnvWithStore lets a test wrap the in-memory store the service uses.
func newTestEnvWithStore(t *testing.T, wrap func(*appointment.MemoryRepository) appointment.Repository) *testEnv {
	t.Helper()

	repo := appointment.NewMemoryRepository()
	cardiology := repo.AddSpecialty("Cardiología")
	derma := repo.AddSpecialty("Dermatología")

	dni := "30111222"
	patient := repo.AddUser(appointment.User{
		FirstName: "Ana",
		LastName:  "Pérez",
		Email:     "ana.perez@example.com",
		DNI:       &dni,
		Role:      string(identity.RolePatient),
	})
	doctor := repo.AddDoctor(appointment.User{
		FirstName: "Sofía",
		LastName:  "Paredes",
		Email:     "sofia.paredes@cardio.local",
	}, cardiology)
	admin := repo.AddUser(appointment.User{
		FirstName: gofakeit.FirstName(),
		Email:     gofakeit.Email(),
		Role:      string(identity.RoleAdmin),
	})

	var store appointment.Repository = repo
	if wrap != nil {
		store = wrap(repo)
	}
	svc := appointment.NewService(store, redisclient.NewLocalLocker(), nil, nil, zerolog.Nop())
	health := NewHealthHandler(map[string]CheckFunc{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, []string{"postgres"}, "test", "v0")

	handler := NewRouter(RouterConfig{
		Service:  svc,
		Verifier: identity.NewVerifier(testSecret),
		Health:   health,
		Logger:   zerolog.Nop(),
	})

	return &testEnv{
		t:          t,
		repo:       repo,
		handler:    handler,
		patient:    patient,
		doctor:     doctor,
		admin:      admin,
		cardiology: cardiology,
		derma:      derma,
	}
}

func (e *testEnv) token(id uuid.UUID, role identity.Role) string {
	e.t.Helper()
	tok, err := identity.Sign(testSecret, identity.Identity{UserID: id, Role: role}, time.Hour)
	require.NoError(e.t, err)
	return tok
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) create(token string, doctor, specialty uuid.UUID, date, clock string) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, "/api/appointments", token, CreateAppointmentRequest{
		DoctorID:    doctor.String(),
		SpecialtyID: specialty.String(),
		Date:        date,
		Time:        clock,
	})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCreateAndListForPatient(t *testing.T) {
	e := newTestEnv(t)
	tok := e.token(e.patient, identity.RolePatient)

	rec := e.create(tok, e.doctor, e.cardiology, "2025-03-10", "10:30")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[CreateAppointmentResponse](t, rec)
	assert.NotEqual(t, uuid.Nil, created.ID)

	rec = e.do(http.MethodGet, "/api/appointments/my", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rows := decode[[]PatientAppointmentResponse](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, created.ID, rows[0].ID)
	assert.Equal(t, "2025-03-10", rows[0].Date)
	assert.Equal(t, "10:30", rows[0].Time)
	assert.Equal(t, "Sofía Paredes", rows[0].DoctorName)
	assert.Equal(t, "Cardiología", rows[0].SpecialtyName)
	assert.Equal(t, "Pendiente", rows[0].Status)
	assert.Nil(t, rows[0].CancelReason)
	assert.Nil(t, rows[0].CancelActor)
}

func TestListForPatient_EmptyIsArray(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/api/appointments/my", e.token(e.patient, identity.RolePatient), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestDoctorCancelShowsReasonAndActor(t *testing.T) {
	e := newTestEnv(t)
	patientTok := e.token(e.patient, identity.RolePatient)
	doctorTok := e.token(e.doctor, identity.RoleDoctor)

	rec := e.create(patientTok, e.doctor, e.cardiology, "2025-03-10", "10:30")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[CreateAppointmentResponse](t, rec).ID

	rec = e.do(http.MethodPost, "/api/appointments/"+id.String()+"/doctor-cancel", doctorTok,
		CancelAppointmentRequest{Reason: "Emergencia familiar"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = e.do(http.MethodGet, "/api/appointments/doctor/my", doctorTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]DoctorAppointmentResponse](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "Cancelado", rows[0].Status)
	require.NotNil(t, rows[0].CancelReason)
	assert.Equal(t, "Emergencia familiar", *rows[0].CancelReason)
	require.NotNil(t, rows[0].CancelActor)
	assert.Equal(t, "MEDICO", *rows[0].CancelActor)
	assert.Equal(t, "Ana Pérez", rows[0].PatientName)
	require.NotNil(t, rows[0].PatientEmail)
	assert.Equal(t, "ana.perez@example.com", *rows[0].PatientEmail)
	require.NotNil(t, rows[0].PatientDNI)
	assert.Equal(t, "30111222", *rows[0].PatientDNI)

	rec = e.do(http.MethodGet, "/api/appointments/my", patientTok, nil)
	patientRows := decode[[]PatientAppointmentResponse](t, rec)
	require.Len(t, patientRows, 1)
	assert.Equal(t, "Cancelado", patientRows[0].Status)
	require.NotNil(t, patientRows[0].CancelActor)
	assert.Equal(t, "MEDICO", *patientRows[0].CancelActor)
}

func TestDoctorCancel_ReasonTooShort(t *testing.T) {
	e := newTestEnv(t)
	rec := e.create(e.token(e.patient, identity.RolePatient), e.doctor, e.cardiology, "2025-03-10", "10:30")
	id := decode[CreateAppointmentResponse](t, rec).ID

	rec = e.do(http.MethodPost, "/api/appointments/"+id.String()+"/doctor-cancel",
		e.token(e.doctor, identity.RoleDoctor), CancelAppointmentRequest{Reason: "abc"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "reason_too_short", body.Error)
	assert.Equal(t, "Indica un motivo (mínimo 5 caracteres)", body.Details)
	assert.Len(t, e.repo.Events(id), 1)
}

func TestPatientCancel_EmptyBodyAndIdempotent(t *testing.T) {
	e := newTestEnv(t)
	tok := e.token(e.patient, identity.RolePatient)
	id := decode[CreateAppointmentResponse](t, e.create(tok, e.doctor, e.cardiology, "2025-03-10", "10:30")).ID

	for i := 0; i < 2; i++ {
		rec := e.do(http.MethodPost, "/api/appointments/"+id.String()+"/cancel", tok, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	records := e.repo.Cancellations(id)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Reason)
}

func TestCreate_SlotConflict(t *testing.T) {
	e := newTestEnv(t)
	tok := e.token(e.patient, identity.RolePatient)

	require.Equal(t, http.StatusCreated, e.create(tok, e.doctor, e.cardiology, "2025-03-10", "10:30").Code)

	rec := e.create(tok, e.doctor, e.cardiology, "2025-03-10", "10:30")
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "slot_reserved", body.Error)
	assert.Equal(t, "El turno ya está reservado", body.Details)
}

// blindConflictStore reports every slot as free, leaving the insert to
// reject a taken slot.
type blindConflictStore struct {
	*appointment.MemoryRepository
}

func (s blindConflictStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx appointment.Tx) error) error {
	return s.MemoryRepository.WithinTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
		return fn(ctx, blindConflictTx{Tx: tx})
	})
}

type blindConflictTx struct {
	appointment.Tx
}

func (blindConflictTx) SlotStatuses(context.Context, uuid.UUID, time.Time) ([]appointment.Status, error) {
	return nil, nil
}

func TestCreate_SlotConflictCaughtAtInsert(t *testing.T) {
	e := newTestEnvWithStore(t, func(repo *appointment.MemoryRepository) appointment.Repository {
		return blindConflictStore{repo}
	})
	tok := e.token(e.patient, identity.RolePatient)

	require.Equal(t, http.StatusCreated, e.create(tok, e.doctor, e.cardiology, "2025-03-10", "10:30").Code)

	rec := e.create(tok, e.doctor, e.cardiology, "2025-03-10", "10:30")
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "slot_reserved", body.Error)
	assert.Equal(t, "El turno ya está reservado", body.Details)
	assert.Equal(t, 1, e.repo.AppointmentCount())
}

func TestCreate_ValidationErrors(t *testing.T) {
	e := newTestEnv(t)
	tok := e.token(e.patient, identity.RolePatient)

	tests := []struct {
		name string
		body any
		code string
	}{
		{"specialty not served", CreateAppointmentRequest{DoctorID: e.doctor.String(), SpecialtyID: e.derma.String(), Date: "2025-03-10", Time: "10:30"}, "specialty_not_served"},
		{"bad date", CreateAppointmentRequest{DoctorID: e.doctor.String(), SpecialtyID: e.cardiology.String(), Date: "10/03/2025", Time: "10:30"}, "invalid_date"},
		{"bad time", CreateAppointmentRequest{DoctorID: e.doctor.String(), SpecialtyID: e.cardiology.String(), Date: "2025-03-10", Time: "10h30"}, "invalid_time"},
		{"missing doctor", CreateAppointmentRequest{SpecialtyID: e.cardiology.String(), Date: "2025-03-10", Time: "10:30"}, "incomplete_data"},
		{"malformed doctor", CreateAppointmentRequest{DoctorID: "7", SpecialtyID: e.cardiology.String(), Date: "2025-03-10", Time: "10:30"}, "invalid_doctor_id"},
		{"unknown doctor", CreateAppointmentRequest{DoctorID: uuid.NewString(), SpecialtyID: e.cardiology.String(), Date: "2025-03-10", Time: "10:30"}, "doctor_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(http.MethodPost, "/api/appointments", tok, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Error)
		})
	}
	assert.Zero(t, e.repo.AppointmentCount())
}

func TestCancel_NotFoundAndMismatch(t *testing.T) {
	e := newTestEnv(t)
	tok := e.token(e.patient, identity.RolePatient)

	rec := e.do(http.MethodPost, "/api/appointments/"+uuid.NewString()+"/cancel", tok, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	notFound := decode[ErrorResponse](t, rec)
	assert.Equal(t, "appointment_not_found", notFound.Error)
	assert.Equal(t, "Turno no encontrado", notFound.Details)

	rec = e.do(http.MethodPost, "/api/appointments/42/cancel", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	id := decode[CreateAppointmentResponse](t, e.create(tok, e.doctor, e.cardiology, "2025-03-10", "10:30")).ID
	other := e.token(uuid.New(), identity.RolePatient)
	rec = e.do(http.MethodPost, "/api/appointments/"+id.String()+"/cancel", other, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Turno no coincide con el paciente", decode[ErrorResponse](t, rec).Details)
}

func TestAuthAndRoles(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/api/appointments/my", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token requerido", decode[ErrorResponse](t, rec).Details)

	rec = e.do(http.MethodGet, "/api/appointments/my", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token inválido", decode[ErrorResponse](t, rec).Details)

	rec = e.do(http.MethodGet, "/api/appointments/my", e.token(e.doctor, identity.RoleDoctor), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "No autorizado", decode[ErrorResponse](t, rec).Details)

	rec = e.do(http.MethodGet, "/api/appointments/doctor/my", e.token(e.patient, identity.RolePatient), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodGet, "/api/appointments/doctor/my", e.token(e.admin, identity.RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminCannotBookWithoutPatientProfile(t *testing.T) {
	e := newTestEnv(t)

	rec := e.create(e.token(e.admin, identity.RoleAdmin), e.doctor, e.cardiology, "2025-03-10", "10:30")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "patient_not_found", decode[ErrorResponse](t, rec).Error)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/health/live", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[LivenessResponse](t, rec).Status)

	rec = e.do(http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "down"}, ready.Dependencies)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealth_RequiredDependencyDown(t *testing.T) {
	h := NewHealthHandler(map[string]CheckFunc{
		"postgres": func(context.Context) error { return errors.New("down") },
	}, []string{"postgres"}, "test", "v0")

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingService struct{ AppointmentService }

func (failingService) ListForPatient(context.Context, uuid.UUID) ([]appointment.AppointmentView, error) {
	return nil, errors.New("pool closed")
}

func TestInternalErrorsAreHidden(t *testing.T) {
	h := NewRouter(RouterConfig{
		Service:  failingService{},
		Verifier: identity.NewVerifier(testSecret),
		Logger:   zerolog.Nop(),
	})
	tok, err := identity.Sign(testSecret, identity.Identity{UserID: uuid.New(), Role: identity.RolePatient}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/appointments/my", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "internal_error", body.Error)
	assert.NotContains(t, body.Details, "pool closed")
}
