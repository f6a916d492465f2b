// Package reminder notifies patients the day before their appointments.
package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/jinzhu/now"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hackgods/turnos-scheduling/internal/appointment"
)

type UpcomingLister interface {
	ListUpcoming(ctx context.Context, from, to time.Time) ([]appointment.Upcoming, error)
}

type Job struct {
	lister   UpcomingLister
	notifier appointment.Notifier
	log      zerolog.Logger
	loc      *time.Location
	now      func() time.Time
	timeout  time.Duration
}

// NewJob builds a reminder job for a clinic in loc. A nil loc means UTC.
func NewJob(lister UpcomingLister, notifier appointment.Notifier, loc *time.Location, logger zerolog.Logger) *Job {
	if loc == nil {
		loc = time.UTC
	}
	return &Job{
		lister:   lister,
		loc:      loc,
		notifier: notifier,
		log:      logger.With().Str("component", "reminder").Logger(),
		now:      time.Now,
		timeout:  time.Minute,
	}
}

// Window returns the clinic's next calendar day after ref as
// [00:00, 23:59:59.999]. Appointments store the clinic wall clock labelled
// UTC, so the bounds carry the clinic date in UTC.
func Window(ref time.Time, loc *time.Location) (from, to time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := ref.In(loc).Date()
	day := now.With(time.Date(y, m, d+1, 12, 0, 0, 0, time.UTC))
	return day.BeginningOfDay(), day.EndOfDay()
}

// RunOnce sends one reminder per non-cancelled appointment due tomorrow and
// returns how many were delivered. A failed delivery is logged and skipped.
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	runCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	from, to := Window(j.now(), j.loc)
	items, err := j.lister.ListUpcoming(runCtx, from, to)
	if err != nil {
		return 0, fmt.Errorf("list upcoming: %w", err)
	}

	sent := 0
	for _, u := range items {
		err := j.notifier.Notify(runCtx, appointment.Notification{
			Kind:          appointment.KindReminder,
			AppointmentID: u.AppointmentID,
			PatientID:     u.PatientID,
			DoctorID:      u.DoctorID,
			ScheduledAt:   u.ScheduledAt,
		})
		if err != nil {
			j.log.Warn().Err(err).Str("appointment_id", u.AppointmentID.String()).Msg("reminder not delivered")
			continue
		}
		sent++
	}

	j.log.Info().
		Time("from", from).
		Time("to", to).
		Int("due", len(items)).
		Int("sent", sent).
		Msg("reminder run complete")

	return sent, nil
}

// Schedule registers the job on c under a standard five-field cron spec.
func Schedule(ctx context.Context, c *cron.Cron, spec string, job *Job) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if _, err := job.RunOnce(ctx); err != nil {
			job.log.Error().Err(err).Msg("reminder run failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule reminders %q: %w", spec, err)
	}
	return id, nil
}
