package appointment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/turnos-scheduling/internal/redis"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	// MinDoctorReasonLength is the minimum trimmed reason a doctor must give
	// to cancel.
	MinDoctorReasonLength = 5

	notifyTimeout = 2 * time.Second
)

var (
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timePattern = regexp.MustCompile(`^\d{2}:\d{2}$`)

	// errAlreadyCancelled aborts the cancellation transaction without writes.
	errAlreadyCancelled = errors.New("appointment already cancelled")
)

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	catalog  *Catalog
	notifier Notifier
	log      zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, catalog *Catalog, notifier Notifier, logger zerolog.Logger) *Service {
	if catalog == nil {
		catalog = NewCatalog()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		catalog:  catalog,
		notifier: notifier,
		log:      logger.With().Str("component", "appointment").Logger(),
	}
}

type CreateInput struct {
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	SpecialtyID uuid.UUID
	Date        string // YYYY-MM-DD
	Time        string // HH:mm
}

type CancelInput struct {
	AppointmentID uuid.UUID
	ActorID       uuid.UUID
	Actor         Actor
	Reason        string
}

// ParseSlot validates date and time and builds the slot timestamp as
// "date time:00" on the UTC wall clock.
func ParseSlot(date, clock string) (time.Time, error) {
	if !datePattern.MatchString(date) {
		return time.Time{}, ErrInvalidDate
	}
	if !timePattern.MatchString(clock) {
		return time.Time{}, ErrInvalidTime
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return time.Time{}, ErrInvalidDate
	}
	if _, err := time.Parse(timeLayout, clock); err != nil {
		return time.Time{}, ErrInvalidTime
	}
	at, err := time.ParseInLocation(dateLayout+" "+timeLayout+":05", date+" "+clock+":00", time.UTC)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return at, nil
}

// CreateAppointment books a slot for a patient. The patient profile check,
// doctor/specialty check, conflict check and both inserts run in a single
// transaction while the slot lock is held.
func (s *Service) CreateAppointment(ctx context.Context, in CreateInput) (uuid.UUID, error) {
	if in.PatientID == uuid.Nil || in.DoctorID == uuid.Nil || in.SpecialtyID == uuid.Nil ||
		strings.TrimSpace(in.Date) == "" || strings.TrimSpace(in.Time) == "" {
		return uuid.Nil, ErrIncompleteData
	}

	at, err := ParseSlot(strings.TrimSpace(in.Date), strings.TrimSpace(in.Time))
	if err != nil {
		return uuid.Nil, err
	}

	var created Appointment

	err = s.locker.WithSlotLock(ctx, slotKey(in.DoctorID, at), func(lockCtx context.Context) error {
		return s.repo.WithinTx(lockCtx, func(ctx context.Context, tx Tx) error {
			if err := tx.EnsurePatientProfile(ctx, in.PatientID); err != nil {
				return err
			}

			specialties, err := tx.DoctorSpecialties(ctx, in.DoctorID)
			if err != nil {
				return fmt.Errorf("load doctor specialties: %w", err)
			}
			if len(specialties) == 0 {
				return ErrDoctorNotFound
			}
			if !containsID(specialties, in.SpecialtyID) {
				return ErrSpecialtyNotServed
			}

			conflict, err := hasConflict(ctx, tx, in.DoctorID, at)
			if err != nil {
				return err
			}
			if conflict {
				return ErrSlotReserved
			}

			appt := Appointment{
				PatientID:   in.PatientID,
				DoctorID:    in.DoctorID,
				SpecialtyID: in.SpecialtyID,
				ScheduledAt: at,
			}
			if err := tx.InsertAppointment(ctx, &appt); err != nil {
				if errors.Is(err, ErrSlotReserved) {
					return err
				}
				return fmt.Errorf("insert appointment: %w", err)
			}

			pendingID, err := s.catalog.Resolve(ctx, tx, StatusPending)
			if err != nil {
				return err
			}
			if err := tx.InsertStatusEvent(ctx, appt.ID, pendingID); err != nil {
				return fmt.Errorf("insert pending status: %w", err)
			}

			created = appt
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return uuid.Nil, ErrSlotBeingBooked
		}
		return uuid.Nil, err
	}

	s.dispatch(ctx, Notification{
		Kind:          KindCreated,
		AppointmentID: created.ID,
		PatientID:     created.PatientID,
		DoctorID:      created.DoctorID,
		ScheduledAt:   created.ScheduledAt,
	})

	return created.ID, nil
}

// CancelAppointment moves an appointment to cancelled on behalf of its
// patient or doctor. Cancelling an already cancelled appointment succeeds
// without writing anything.
func (s *Service) CancelAppointment(ctx context.Context, in CancelInput) error {
	if !in.Actor.Valid() || in.ActorID == uuid.Nil {
		return ErrInvalidActor
	}

	reason := strings.TrimSpace(in.Reason)
	if in.Actor == ActorDoctor && utf8.RuneCountInString(reason) < MinDoctorReasonLength {
		return ErrReasonTooShort
	}

	var cancelled *Appointment

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.LockAppointment(ctx, in.AppointmentID)
		if err != nil {
			return err
		}

		history, err := tx.StatusHistory(ctx, appt.ID)
		if err != nil {
			return fmt.Errorf("load status history: %w", err)
		}

		switch in.Actor {
		case ActorPatient:
			if appt.PatientID != in.ActorID {
				return ErrPatientMismatch
			}
		case ActorDoctor:
			if appt.DoctorID != in.ActorID {
				return ErrDoctorMismatch
			}
		}

		if CurrentStatus(history) == StatusCancelled {
			return errAlreadyCancelled
		}

		cancelledID, err := s.catalog.Resolve(ctx, tx, StatusCancelled)
		if err != nil {
			return err
		}
		if err := tx.InsertStatusEvent(ctx, appt.ID, cancelledID); err != nil {
			return fmt.Errorf("insert cancelled status: %w", err)
		}
		if err := tx.Deactivate(ctx, appt.ID); err != nil {
			return fmt.Errorf("release slot: %w", err)
		}

		rec := CancellationRecord{AppointmentID: appt.ID, Actor: in.Actor}
		if reason != "" {
			rec.Reason = &reason
		}
		if err := tx.InsertCancellation(ctx, rec); err != nil {
			return fmt.Errorf("insert cancellation: %w", err)
		}

		cancelled = appt
		return nil
	})
	if errors.Is(err, errAlreadyCancelled) {
		return nil
	}
	if err != nil {
		return err
	}

	actor := in.Actor
	n := Notification{
		Kind:          KindCancelled,
		AppointmentID: cancelled.ID,
		PatientID:     cancelled.PatientID,
		DoctorID:      cancelled.DoctorID,
		ScheduledAt:   cancelled.ScheduledAt,
		Actor:         &actor,
	}
	if reason != "" {
		n.Reason = &reason
	}
	s.dispatch(ctx, n)

	return nil
}

// ListForPatient returns the patient's appointments, most recent first.
func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentView, error) {
	views, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return views, nil
}

// ListForDoctor returns the doctor's appointments, most recent first.
func (s *Service) ListForDoctor(ctx context.Context, doctorID uuid.UUID) ([]AppointmentView, error) {
	views, err := s.repo.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return views, nil
}

// ListUpcoming returns non-cancelled appointments scheduled in [from, to].
func (s *Service) ListUpcoming(ctx context.Context, from, to time.Time) ([]Upcoming, error) {
	items, err := s.repo.ListActiveBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list upcoming appointments: %w", err)
	}
	return items, nil
}

// PreloadCatalog fails when any status value is missing from the store.
func (s *Service) PreloadCatalog(ctx context.Context) error {
	return s.catalog.Preload(ctx, s.repo)
}

// dispatch sends a notification outside the transaction. Failures are
// logged and never reach the caller.
func (s *Service) dispatch(ctx context.Context, n Notification) {
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := s.notifier.Notify(notifyCtx, n); err != nil {
		s.log.Warn().Err(err).
			Str("kind", n.Kind).
			Str("appointment_id", n.AppointmentID.String()).
			Msg("notification dispatch failed")
	}
}

func slotKey(doctorID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s:%d", doctorID, at.Unix())
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
