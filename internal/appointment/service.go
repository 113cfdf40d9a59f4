package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/therapy-scheduling/internal/metrics"
	redisclient "github.com/hackgods/therapy-scheduling/internal/redis"
)

var tracer = otel.Tracer("github.com/hackgods/therapy-scheduling/internal/appointment")

const (
	defaultListLimit = 20
	maxListLimit     = 100
	notifyTimeout    = 5 * time.Second
)

type Service struct {
	store    Store
	locker   redisclient.Locker
	settings SettingsProvider
	timer    ExpiryScheduler
	notifier Notifier
	metrics  *metrics.SchedulingMetrics
	logger   zerolog.Logger
	loc      *time.Location
	now      func() time.Time
	history  historyRecorder

	notifyWG sync.WaitGroup
}

type Option func(*Service)

func WithExpiryScheduler(t ExpiryScheduler) Option {
	return func(s *Service) { s.timer = t }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithLocation sets the zone in which work hours and recurring dates are interpreted.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the scheduling core. locker may be nil, in which case
// only the store's per-therapist transaction serializes writers.
func NewService(store Store, locker redisclient.Locker, settings SettingsProvider, opts ...Option) *Service {
	s := &Service{
		store:    store,
		locker:   locker,
		settings: settings,
		logger:   zerolog.Nop(),
		loc:      time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.history = historyRecorder{now: s.now}
	return s
}

// Location is the zone used for civil date and time of day interpretation.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Now is the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// Drain waits for in-flight notifications.
func (s *Service) Drain() {
	s.notifyWG.Wait()
}

// withTherapist runs fn in a transaction serialized per therapist. The Redis
// lock, when configured, keeps contending writers off the database.
func (s *Service) withTherapist(ctx context.Context, therapistID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	run := func(ctx context.Context) error {
		return s.store.WithinTherapistTx(ctx, therapistID, fn)
	}
	if s.locker == nil {
		return run(ctx)
	}
	err := s.locker.WithTherapistLock(ctx, therapistID, run)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrTherapistBusy
	}
	return err
}

type CreateRequest struct {
	ClientID        uuid.UUID
	TherapistID     uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	Notes           *string
	// TimeZone is the IANA zone the client booked in. Display only.
	TimeZone string
}

func (r *CreateRequest) normalize(loc *time.Location) error {
	if r.ClientID == uuid.Nil {
		return validationErr("client_id is required")
	}
	if r.TherapistID == uuid.Nil {
		return validationErr("therapist_id is required")
	}
	if r.ScheduledAt.IsZero() {
		return validationErr("scheduled_at is required")
	}
	if r.DurationMinutes == 0 {
		r.DurationMinutes = DefaultDurationMinutes
	}
	if r.DurationMinutes < 0 || r.DurationMinutes > 24*60 {
		return validationErr("duration_minutes must be between 1 and 1440")
	}
	if r.Notes != nil && utf8.RuneCountInString(*r.Notes) > MaxNotesLength {
		return validationErr("notes must be at most %d characters", MaxNotesLength)
	}
	if r.TimeZone == "" {
		r.TimeZone = loc.String()
	} else if _, err := time.LoadLocation(r.TimeZone); err != nil {
		return validationErr("unknown time zone %q", r.TimeZone)
	}
	r.ScheduledAt = r.ScheduledAt.UTC().Truncate(time.Microsecond)
	return nil
}

// CreateAppointment books a single appointment in PENDING.
func (s *Service) CreateAppointment(ctx context.Context, actor Actor, req CreateRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("therapist_id", req.TherapistID.String()),
		attribute.String("actor_role", string(actor.Role)),
	)

	if !isBookingParty(actor, req.ClientID) {
		s.metrics.ObserveTransition(string(EventCreate), KindOf(ErrPermission))
		return nil, permissionErr("only the client or an admin may book for this client")
	}

	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	appt, err := s.create(ctx, actor, req, settings, nil)
	s.metrics.ObserveTransition(string(EventCreate), KindOf(err))
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// create is the booking path shared by single and recurring requests.
func (s *Service) create(ctx context.Context, actor Actor, req CreateRequest, settings Settings, recurringID *uuid.UUID) (*Appointment, error) {
	if err := req.normalize(s.loc); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.validateBookingTime(settings, req.ScheduledAt, now); err != nil {
		return nil, err
	}

	appt := &Appointment{
		ID:              uuid.New(),
		ClientID:        req.ClientID,
		TherapistID:     req.TherapistID,
		ScheduledAt:     req.ScheduledAt,
		TimeZone:        req.TimeZone,
		DurationMinutes: req.DurationMinutes,
		Status:          StatusPending,
		Notes:           req.Notes,
		RecurringID:     recurringID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	ref := ExpiryTaskRef(appt.ID)
	appt.AutoCancelTaskRef = &ref

	err := s.withTherapist(ctx, appt.TherapistID, func(ctx context.Context, tx Tx) error {
		conflict, err := HasConflict(ctx, tx, appt.TherapistID, appt.ScheduledAt, appt.EndsAt(), nil)
		if err != nil {
			return err
		}
		if conflict {
			return ErrTimeConflict
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		scheduled := appt.ScheduledAt
		_, err = s.history.record(ctx, tx, historyInput{
			AppointmentID:  appt.ID,
			Action:         ActionCreate,
			NewStatus:      StatusPending,
			NewScheduledAt: &scheduled,
			ChangedBy:      actor.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("therapist_id", appt.TherapistID.String()).
		Time("scheduled_at", appt.ScheduledAt).
		Msg("appointment created")

	if s.timer != nil {
		fireAt := now.Add(settings.AutoCancelTimeout())
		if err := s.timer.ScheduleExpiry(ctx, ref, fireAt); err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to schedule expiry, sweep will cover it")
		}
	}
	s.notify(EventCreate, appt, actor)
	return appt, nil
}

// validateBookingTime applies the advance-time and work-hours rules. Only the
// start instant is checked against the work window.
func (s *Service) validateBookingTime(settings Settings, at, now time.Time) error {
	earliest := now.Add(settings.MinimumAdvance())
	if at.Before(earliest) {
		return validationErr("appointments must be booked at least %d hours in advance", settings.MinimumAdvanceHours)
	}

	local := at.In(s.loc)
	tod := local.Hour()*3600 + local.Minute()*60 + local.Second()
	start := minutesOf(settings.WorkTimeStart)*60 + settings.WorkTimeStart.Second
	end := minutesOf(settings.WorkTimeEnd)*60 + settings.WorkTimeEnd.Second
	if tod < start || tod >= end {
		return validationErr("appointments must start between %s and %s",
			FormatTimeOfDay(settings.WorkTimeStart), FormatTimeOfDay(settings.WorkTimeEnd))
	}
	return nil
}

// GetAppointment returns the appointment if the actor may see it.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, appt) {
		return nil, ErrAppointmentNotFound
	}
	return appt, nil
}

// ListAppointments lists appointments scoped to the actor. Clients and
// therapists only ever see their own.
func (s *Service) ListAppointments(ctx context.Context, actor Actor, f AppointmentFilter) ([]Appointment, error) {
	switch actor.Role {
	case RoleClient:
		f.ClientID = &actor.ID
	case RoleTherapist:
		f.TherapistID = &actor.ID
	case RoleAdmin, RoleSystem:
	default:
		return nil, permissionErr("unknown role %q", actor.Role)
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, validationErr("unknown status %q", st)
		}
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, validationErr("from must be before to")
	}

	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	appts, err := s.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// History returns the audit trail of an appointment in creation order.
func (s *Service) History(ctx context.Context, actor Actor, id uuid.UUID) ([]HistoryEntry, error) {
	if _, err := s.GetAppointment(ctx, actor, id); err != nil {
		return nil, err
	}
	entries, err := s.store.ListHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// notify hands the notification to the notifier without blocking the caller.
func (s *Service) notify(ev Event, appt *Appointment, actor Actor) {
	if s.notifier == nil {
		return
	}
	n := Notification{
		Type:          "appointment." + string(ev),
		AppointmentID: appt.ID,
		ClientID:      appt.ClientID,
		TherapistID:   appt.TherapistID,
		Status:        appt.Status,
		ScheduledAt:   appt.ScheduledAt,
		ActorID:       actor.ID,
		OccurredAt:    s.now().UTC(),
	}
	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.metrics.ObserveNotifyFailure()
			s.logger.Warn().Err(err).Str("appointment_id", n.AppointmentID.String()).Str("type", n.Type).Msg("notification failed")
		}
	}()
}

func isBookingParty(actor Actor, clientID uuid.UUID) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleClient:
		return actor.ID == clientID
	}
	return false
}

func canView(actor Actor, a *Appointment) bool {
	switch actor.Role {
	case RoleAdmin, RoleSystem:
		return true
	case RoleClient:
		return a.ClientID == actor.ID
	case RoleTherapist:
		return a.TherapistID == actor.ID
	}
	return false
}

// KindOf maps an error to a short label for metrics and logs.
func KindOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "state"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRecurrenceFailed):
		return "recurrence"
	default:
		return "error"
	}
}
