package appointment

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending              AppointmentStatus = "PENDING"
	StatusConfirmed            AppointmentStatus = "CONFIRMED"
	StatusRejected             AppointmentStatus = "REJECTED"
	StatusCancelledByClient    AppointmentStatus = "CANCELLED_BY_CLIENT"
	StatusCancelledByTherapist AppointmentStatus = "CANCELLED_BY_THERAPIST"
	StatusCancelledByAdmin     AppointmentStatus = "CANCELLED_BY_ADMIN"
	StatusAutoCancelled        AppointmentStatus = "AUTO_CANCELLED"
	StatusPendingModification  AppointmentStatus = "PENDING_MODIFICATION"
	StatusModificationRejected AppointmentStatus = "MODIFICATION_REJECTED"
	StatusCompleted            AppointmentStatus = "COMPLETED"
	StatusNoShow               AppointmentStatus = "NO_SHOW"
)

// AllStatuses lists every status in declaration order.
var AllStatuses = []AppointmentStatus{
	StatusPending,
	StatusConfirmed,
	StatusRejected,
	StatusCancelledByClient,
	StatusCancelledByTherapist,
	StatusCancelledByAdmin,
	StatusAutoCancelled,
	StatusPendingModification,
	StatusModificationRejected,
	StatusCompleted,
	StatusNoShow,
}

// ActiveStatuses are the statuses that hold a therapist's time.
var ActiveStatuses = []AppointmentStatus{
	StatusPending,
	StatusConfirmed,
	StatusPendingModification,
}

// Valid reports whether s is one of the known statuses.
func (s AppointmentStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Active reports whether the status counts for conflict purposes.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusPendingModification
}

// Terminal reports whether no lifecycle transition leaves s.
// MODIFICATION_REJECTED is terminal but still accepts a cancellation.
func (s AppointmentStatus) Terminal() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPendingModification:
		return false
	default:
		return true
	}
}

// Endable reports whether a cancellation may still be applied.
func (s AppointmentStatus) Endable() bool {
	return !s.Terminal() || s == StatusModificationRejected
}

type Pattern string

const (
	PatternWeekly   Pattern = "WEEKLY"
	PatternBiweekly Pattern = "BIWEEKLY"
	PatternMonthly  Pattern = "MONTHLY"
)

func (p Pattern) Valid() bool {
	switch p {
	case PatternWeekly, PatternBiweekly, PatternMonthly:
		return true
	}
	return false
}

type Role string

const (
	RoleClient    Role = "CLIENT"
	RoleTherapist Role = "THERAPIST"
	RoleAdmin     Role = "ADMIN"
	// RoleSystem is used by the expiry worker and other internal triggers.
	RoleSystem Role = "SYSTEM"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleTherapist, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is the resolved caller of an operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// SystemActor is the actor recorded for timer driven transitions.
var SystemActor = Actor{ID: uuid.Nil, Role: RoleSystem}

const (
	DefaultDurationMinutes = 60
	MaxNotesLength         = 500
)

type Appointment struct {
	ID                      uuid.UUID
	ClientID                uuid.UUID
	TherapistID             uuid.UUID
	ScheduledAt             time.Time
	TimeZone                string
	DurationMinutes         int
	Status                  AppointmentStatus
	Notes                   *string
	CancellationReason      *string
	ModificationRequestedAt *time.Time
	ModificationReason      *string
	RecurringID             *uuid.UUID
	AutoCancelTaskRef       *string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// EndsAt is the end instant of the appointment.
func (a *Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

type RecurringAppointment struct {
	ID              uuid.UUID
	ClientID        uuid.UUID
	TherapistID     uuid.UUID
	StartDate       civil.Date
	EndDate         civil.Date
	TimeOfDay       civil.Time
	DurationMinutes int
	Pattern         Pattern
	Notes           *string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type AvailabilityRule struct {
	ID            uuid.UUID
	TherapistID   uuid.UUID
	DayOfWeek     int
	StartTime     civil.Time
	EndTime       civil.Time
	EffectiveDate civil.Date
	ExpiryDate    *civil.Date
	IsActive      bool
	BufferMinutes int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AppliesOn reports whether the rule governs the given day.
func (r *AvailabilityRule) AppliesOn(day civil.Date) bool {
	if !r.IsActive || r.DayOfWeek != DayOfWeek(day) {
		return false
	}
	if day.Before(r.EffectiveDate) {
		return false
	}
	return r.ExpiryDate == nil || !day.After(*r.ExpiryDate)
}

// overlapsWindow reports whether the effective windows of two rules share a day.
func (r *AvailabilityRule) overlapsWindow(o *AvailabilityRule) bool {
	if r.ExpiryDate != nil && r.ExpiryDate.Before(o.EffectiveDate) {
		return false
	}
	if o.ExpiryDate != nil && o.ExpiryDate.Before(r.EffectiveDate) {
		return false
	}
	return true
}

type BlockedSlot struct {
	ID          uuid.UUID
	TherapistID uuid.UUID
	BlockedDate civil.Date
	StartTime   civil.Time
	EndTime     civil.Time
	Reason      string
	Notes       *string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type HistoryAction string

const (
	ActionCreate             HistoryAction = "create"
	ActionAccept             HistoryAction = "accept"
	ActionReject             HistoryAction = "reject"
	ActionModifyRequest      HistoryAction = "modify_request"
	ActionAcceptModification HistoryAction = "accept_modification"
	ActionRejectModification HistoryAction = "reject_modification"
	ActionCancel             HistoryAction = "cancel"
	ActionAutoCancel         HistoryAction = "auto_cancel"
	ActionComplete           HistoryAction = "complete"
	ActionNoShow             HistoryAction = "no_show"
)

type HistoryEntry struct {
	ID             uuid.UUID
	AppointmentID  uuid.UUID
	Action         HistoryAction
	OldStatus      *AppointmentStatus
	NewStatus      AppointmentStatus
	OldScheduledAt *time.Time
	NewScheduledAt *time.Time
	ChangedBy      uuid.UUID
	Reason         *string
	Extra          json.RawMessage
	CreatedAt      time.Time
}

type SystemSetting struct {
	Key         string
	Value       string
	Description string
	IsActive    bool
	UpdatedAt   time.Time
}

// Slot is a bookable interval produced by the availability calculator.
type Slot struct {
	Date            civil.Date
	StartTime       civil.Time
	EndTime         civil.Time
	DurationMinutes int
}

// DayOfWeek maps a date to 0..6 with Monday as 0.
func DayOfWeek(d civil.Date) int {
	return (int(d.In(time.UTC).Weekday()) + 6) % 7
}

// minutesOf returns the number of minutes since midnight.
func minutesOf(t civil.Time) int {
	return t.Hour*60 + t.Minute
}

// clockAt builds a civil time from minutes since midnight.
func clockAt(minutes int) civil.Time {
	return civil.Time{Hour: minutes / 60, Minute: minutes % 60}
}

// instantOf combines a civil date and minutes since midnight into an instant in loc.
func instantOf(d civil.Date, minutes int, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, minutes, 0, 0, loc)
}

// InstantAt resolves a civil date and time of day in loc.
func InstantAt(d civil.Date, t civil.Time, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, t.Second, 0, loc)
}
