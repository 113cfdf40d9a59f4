package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExpiryScheduler fires Expire for an appointment at a point in time unless
// cancelled first. Delivery may happen more than once.
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, ref string, at time.Time) error
	CancelExpiry(ctx context.Context, ref string) error
}

// ExpiryTaskRef is the timer reference stored on an appointment.
func ExpiryTaskRef(appointmentID uuid.UUID) string {
	return appointmentID.String()
}

// Notification is emitted after a transition commits.
type Notification struct {
	Type          string            `json:"type"`
	AppointmentID uuid.UUID         `json:"appointment_id"`
	ClientID      uuid.UUID         `json:"client_id"`
	TherapistID   uuid.UUID         `json:"therapist_id"`
	Status        AppointmentStatus `json:"status"`
	ScheduledAt   time.Time         `json:"scheduled_at"`
	ActorID       uuid.UUID         `json:"actor_id"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// Notifier delivers notifications. Failures never affect the transition.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
