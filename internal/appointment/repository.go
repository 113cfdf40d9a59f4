package appointment

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// AppointmentFilter narrows ListAppointments. Zero values mean "any".
type AppointmentFilter struct {
	ClientID    *uuid.UUID
	TherapistID *uuid.UUID
	Statuses    []AppointmentStatus
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

type RecurringFilter struct {
	ClientID    *uuid.UUID
	TherapistID *uuid.UUID
	ActiveOnly  bool
}

type StatsFilter struct {
	ClientID    *uuid.UUID
	TherapistID *uuid.UUID
	From        time.Time
	To          time.Time
}

// Reader contains the queries the scheduling core needs.
type Reader interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	ListAppointmentsByRecurring(ctx context.Context, recurringID uuid.UUID) ([]Appointment, error)

	// For conflict checks: active appointments of a therapist overlapping [from, to).
	ListActiveOverlapping(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]Appointment, error)

	// Expiry sweep
	FindStalePending(ctx context.Context, createdBefore time.Time) ([]Appointment, error)

	ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]HistoryEntry, error)
	LastHistoryAt(ctx context.Context, appointmentID uuid.UUID) (time.Time, error)

	GetRecurring(ctx context.Context, id uuid.UUID) (*RecurringAppointment, error)
	ListRecurring(ctx context.Context, f RecurringFilter) ([]RecurringAppointment, error)

	GetRule(ctx context.Context, id uuid.UUID) (*AvailabilityRule, error)
	ListRules(ctx context.Context, therapistID uuid.UUID, activeOnly bool) ([]AvailabilityRule, error)

	GetBlockedSlot(ctx context.Context, id uuid.UUID) (*BlockedSlot, error)
	ListBlockedSlots(ctx context.Context, therapistID uuid.UUID, from, to civil.Date, activeOnly bool) ([]BlockedSlot, error)

	ListSettings(ctx context.Context) ([]SystemSetting, error)
	CountByStatus(ctx context.Context, f StatsFilter) (map[AppointmentStatus]int, error)
}

// Writer contains the mutations. They are only reachable inside a transaction.
type Writer interface {
	InsertAppointment(ctx context.Context, a *Appointment) error
	// UpdateAppointment persists a only while its stored status still equals from.
	// It returns ErrStaleUpdate otherwise.
	UpdateAppointment(ctx context.Context, a *Appointment, from AppointmentStatus) error

	InsertHistory(ctx context.Context, h *HistoryEntry) error

	InsertRecurring(ctx context.Context, r *RecurringAppointment) error
	SetRecurringActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) error

	InsertRule(ctx context.Context, r *AvailabilityRule) error
	UpdateRule(ctx context.Context, r *AvailabilityRule) error

	InsertBlockedSlot(ctx context.Context, b *BlockedSlot) error
	UpdateBlockedSlot(ctx context.Context, b *BlockedSlot) error

	UpsertSetting(ctx context.Context, s SystemSetting) error
}

type Tx interface {
	Reader
	Writer
}

// Store is the transactional persistence port.
type Store interface {
	Reader

	// WithinTherapistTx runs fn in a transaction serialized against every other
	// transaction for the same therapist. If fn returns an error nothing is kept.
	WithinTherapistTx(ctx context.Context, therapistID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error

	// WithinTx runs fn in a transaction that is not scoped to a therapist.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
