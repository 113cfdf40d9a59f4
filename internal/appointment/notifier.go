package appointment

import (
	"context"

	"github.com/rs/zerolog"
)

// EventPublisher sends an arbitrary payload to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, payload any) error
}

// PublishingNotifier forwards notifications to an EventPublisher.
type PublishingNotifier struct {
	pub EventPublisher
}

func NewPublishingNotifier(pub EventPublisher) *PublishingNotifier {
	return &PublishingNotifier{pub: pub}
}

func (n *PublishingNotifier) Notify(ctx context.Context, msg Notification) error {
	return n.pub.Publish(ctx, msg)
}

// LogNotifier writes notifications to the log. Used when no broker is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg Notification) error {
	n.logger.Info().
		Str("type", msg.Type).
		Str("appointment_id", msg.AppointmentID.String()).
		Str("status", string(msg.Status)).
		Msg("notification")
	return nil
}
