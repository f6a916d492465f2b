package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation   = "23505"
	activeSlotIndex   = "appointments_active_slot_uq"
	defaultStatusText = string(StatusPending)
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Helpers

func lookupStatusID(ctx context.Context, q queryable, status Status) (int64, bool, error) {
	var id int64
	err := q.QueryRow(ctx, `SELECT id FROM statuses WHERE value = $1`, string(status)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SpecialtyID,
		&a.ScheduledAt,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanViews(rows pgx.Rows) ([]AppointmentView, error) {
	defer rows.Close()

	result := make([]AppointmentView, 0)
	for rows.Next() {
		var (
			v      AppointmentView
			status string
			actor  *string
		)
		err := rows.Scan(
			&v.ID,
			&v.ScheduledAt,
			&v.CounterpartName,
			&v.CounterpartEmail,
			&v.CounterpartDNI,
			&v.SpecialtyName,
			&status,
			&v.CancelReason,
			&actor,
		)
		if err != nil {
			return nil, err
		}
		v.Status = Status(status)
		if actor != nil {
			a := Actor(*actor)
			v.CancelActor = &a
		}
		result = append(result, v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) StatusID(ctx context.Context, status Status) (int64, bool, error) {
	return lookupStatusID(ctx, r.pool, status)
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// no-op after a successful commit
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// viewSelect projects status and last cancellation through the
// appointment_current_status and appointment_last_cancellation views, which
// order history by (created_at, id) descending.
const viewSelect = `
	SELECT a.id,
	       a.scheduled_at,
	       TRIM(u.first_name || ' ' || COALESCE(u.last_name, '')),
	       %s,
	       %s,
	       sp.name,
	       COALESCE(cs.status, '` + defaultStatusText + `'),
	       lc.reason,
	       lc.actor
	FROM appointments a
	JOIN users u ON u.id = a.%s
	JOIN specialties sp ON sp.id = a.specialty_id
	LEFT JOIN appointment_current_status cs ON cs.appointment_id = a.id
	LEFT JOIN appointment_last_cancellation lc ON lc.appointment_id = a.id
	WHERE a.%s = $1
	ORDER BY a.scheduled_at DESC, a.created_at DESC
`

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentView, error) {
	query := fmt.Sprintf(viewSelect, "NULL::text", "NULL::text", "doctor_id", "patient_id")
	rows, err := r.pool.Query(ctx, query, patientID)
	if err != nil {
		return nil, err
	}
	return scanViews(rows)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]AppointmentView, error) {
	query := fmt.Sprintf(viewSelect, "u.email", "u.dni", "patient_id", "doctor_id")
	rows, err := r.pool.Query(ctx, query, doctorID)
	if err != nil {
		return nil, err
	}
	return scanViews(rows)
}

func (r *PgRepository) ListActiveBetween(ctx context.Context, from, to time.Time) ([]Upcoming, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.patient_id, a.doctor_id, a.scheduled_at,
		       p.email,
		       TRIM(d.first_name || ' ' || COALESCE(d.last_name, '')),
		       sp.name,
		       COALESCE(cs.status, '`+defaultStatusText+`')
		FROM appointments a
		JOIN users p ON p.id = a.patient_id
		JOIN users d ON d.id = a.doctor_id
		JOIN specialties sp ON sp.id = a.specialty_id
		LEFT JOIN appointment_current_status cs ON cs.appointment_id = a.id
		WHERE a.scheduled_at BETWEEN $1 AND $2
		  AND COALESCE(cs.status, '`+defaultStatusText+`') <> $3
		ORDER BY a.scheduled_at
	`, from, to, string(StatusCancelled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Upcoming
	for rows.Next() {
		var (
			u      Upcoming
			status string
		)
		if err := rows.Scan(&u.AppointmentID, &u.PatientID, &u.DoctorID, &u.ScheduledAt,
			&u.PatientEmail, &u.DoctorName, &u.SpecialtyName, &status); err != nil {
			return nil, err
		}
		u.Status = Status(status)
		result = append(result, u)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// pgTx implements Tx over one pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) StatusID(ctx context.Context, status Status) (int64, bool, error) {
	return lookupStatusID(ctx, t.tx, status)
}

func (t *pgTx) EnsurePatientProfile(ctx context.Context, patientID uuid.UUID) error {
	var hasProfile bool
	if err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patients WHERE user_id = $1)`, patientID,
	).Scan(&hasProfile); err != nil {
		return fmt.Errorf("check patient profile: %w", err)
	}
	if hasProfile {
		return nil
	}

	var isPatient bool
	if err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND role = 'PACIENTE')`, patientID,
	).Scan(&isPatient); err != nil {
		return fmt.Errorf("check patient user: %w", err)
	}
	if !isPatient {
		return ErrPatientNotFound
	}

	if _, err := t.tx.Exec(ctx, `
		INSERT INTO patients (user_id, birth_date, gender)
		VALUES ($1, NULL, NULL)
		ON CONFLICT (user_id) DO NOTHING
	`, patientID); err != nil {
		return fmt.Errorf("create patient profile: %w", err)
	}

	return nil
}

func (t *pgTx) DoctorSpecialties(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT ds.specialty_id
		FROM doctors d
		JOIN doctor_specialties ds ON ds.doctor_id = d.user_id
		WHERE d.user_id = $1
	`, doctorID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (t *pgTx) SlotStatuses(ctx context.Context, doctorID uuid.UUID, at time.Time) ([]Status, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT COALESCE(cs.status, '`+defaultStatusText+`')
		FROM appointments a
		LEFT JOIN appointment_current_status cs ON cs.appointment_id = a.id
		WHERE a.doctor_id = $1 AND a.scheduled_at = $2
	`, doctorID, at)
	if err != nil {
		return nil, err
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, len(values))
	for i, v := range values {
		statuses[i] = Status(v)
	}
	return statuses, nil
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()

	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, specialty_id, scheduled_at, active, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, now())
		RETURNING created_at
	`, a.ID, a.PatientID, a.DoctorID, a.SpecialtyID, a.ScheduledAt)
	return scanInserted(row, a)
}

// scanInserted reads the RETURNING row of an appointment insert. A violation
// of the active slot index means a concurrent booking won the slot.
func scanInserted(row pgx.Row, a *Appointment) error {
	if err := row.Scan(&a.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeSlotIndex {
			return ErrSlotReserved
		}
		return err
	}
	return nil
}

func (t *pgTx) InsertStatusEvent(ctx context.Context, appointmentID uuid.UUID, statusID int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointment_status_events (appointment_id, status_id, created_at)
		VALUES ($1, $2, clock_timestamp())
	`, appointmentID, statusID)
	return err
}

func (t *pgTx) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, specialty_id, scheduled_at, created_at
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (t *pgTx) StatusHistory(ctx context.Context, appointmentID uuid.UUID) ([]StatusEvent, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT e.id, e.appointment_id, s.value, e.created_at
		FROM appointment_status_events e
		JOIN statuses s ON s.id = e.status_id
		WHERE e.appointment_id = $1
		ORDER BY e.created_at DESC, e.id DESC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StatusEvent
	for rows.Next() {
		var (
			e      StatusEvent
			status string
		)
		if err := rows.Scan(&e.ID, &e.AppointmentID, &status, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		events = append(events, e)
	}

	return events, rows.Err()
}

func (t *pgTx) Deactivate(ctx context.Context, appointmentID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `UPDATE appointments SET active = FALSE WHERE id = $1`, appointmentID)
	return err
}

func (t *pgTx) InsertCancellation(ctx context.Context, rec CancellationRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointment_cancellations (appointment_id, reason, actor, created_at)
		VALUES ($1, $2, $3, clock_timestamp())
	`, rec.AppointmentID, rec.Reason, string(rec.Actor))
	return err
}
