// Package notify delivers appointment notifications to downstream consumers.
// Delivery is best effort: the appointment service logs failures and moves on.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/turnos-scheduling/internal/appointment"
)

// RedisPublisher publishes notifications as JSON on a Redis channel. Mail,
// SMS or push workers subscribe to the channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Notify(ctx context.Context, n appointment.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", n.Kind, err)
	}
	return nil
}

// LogNotifier writes notifications to the log. Used when no channel is
// configured, mirroring a console mail fallback.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger.With().Str("component", "notify").Logger()}
}

func (l *LogNotifier) Notify(_ context.Context, n appointment.Notification) error {
	evt := l.log.Info().
		Str("kind", n.Kind).
		Str("appointment_id", n.AppointmentID.String()).
		Str("patient_id", n.PatientID.String()).
		Str("doctor_id", n.DoctorID.String()).
		Time("scheduled_at", n.ScheduledAt)
	if n.Actor != nil {
		evt = evt.Str("actor", string(*n.Actor))
	}
	if n.Reason != nil {
		evt = evt.Str("reason", *n.Reason)
	}
	evt.Msg("notification")
	return nil
}
