package appointment

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// MaxRecurrenceSpanDays bounds end_date - start_date of a recurring request.
const MaxRecurrenceSpanDays = 366

// Occurrences yields the dates of a pattern from start through end inclusive.
// The sequence is lazy and may be iterated any number of times.
func Occurrences(start, end civil.Date, p Pattern) iter.Seq[civil.Date] {
	return func(yield func(civil.Date) bool) {
		for k := 0; ; k++ {
			var d civil.Date
			switch p {
			case PatternWeekly:
				d = start.AddDays(7 * k)
			case PatternBiweekly:
				d = start.AddDays(14 * k)
			case PatternMonthly:
				d = addMonthsClamped(start, k)
			default:
				return
			}
			if d.After(end) || !yield(d) {
				return
			}
		}
	}
}

// addMonthsClamped moves d forward n calendar months keeping the day of month,
// clamped to the last day of the target month.
func addMonthsClamped(d civil.Date, n int) civil.Date {
	first := time.Date(d.Year, d.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	return civil.Date{Year: first.Year(), Month: first.Month(), Day: min(d.Day, lastDay)}
}

type CreateRecurringRequest struct {
	ClientID        uuid.UUID
	TherapistID     uuid.UUID
	StartDate       civil.Date
	EndDate         civil.Date
	TimeOfDay       civil.Time
	DurationMinutes int
	Pattern         Pattern
	Notes           *string
}

func (r *CreateRecurringRequest) validate() error {
	if r.ClientID == uuid.Nil || r.TherapistID == uuid.Nil {
		return validationErr("client_id and therapist_id are required")
	}
	if !r.Pattern.Valid() {
		return validationErr("pattern must be one of WEEKLY, BIWEEKLY, MONTHLY")
	}
	if !r.StartDate.IsValid() || !r.EndDate.IsValid() {
		return validationErr("start_date and end_date must be valid dates")
	}
	if r.EndDate.Before(r.StartDate) {
		return validationErr("end_date must not be before start_date")
	}
	if r.EndDate.DaysSince(r.StartDate) > MaxRecurrenceSpanDays {
		return validationErr("recurring appointments may span at most %d days", MaxRecurrenceSpanDays)
	}
	if !r.TimeOfDay.IsValid() {
		return validationErr("time_of_day must be a valid time")
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
	return nil
}

// Outcome is the result of one generated date.
type Outcome struct {
	Date          civil.Date
	Appointment   *Appointment
	SkippedReason string
}

type RecurringResult struct {
	Recurring *RecurringAppointment
	Outcomes  []Outcome
}

func (r *RecurringResult) Created() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Appointment != nil {
			n++
		}
	}
	return n
}

// CreateRecurring stores the template as active and books every generated
// date through the normal create path. Dates that fail are skipped with their
// reason. When no date could be booked the template is deactivated.
func (s *Service) CreateRecurring(ctx context.Context, actor Actor, req CreateRecurringRequest) (*RecurringResult, error) {
	ctx, span := tracer.Start(ctx, "appointment.create_recurring")
	defer span.End()
	span.SetAttributes(
		attribute.String("therapist_id", req.TherapistID.String()),
		attribute.String("pattern", string(req.Pattern)),
	)

	if !isBookingParty(actor, req.ClientID) {
		return nil, permissionErr("only the client or an admin may book for this client")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	tmpl := &RecurringAppointment{
		ID:              uuid.New(),
		ClientID:        req.ClientID,
		TherapistID:     req.TherapistID,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		TimeOfDay:       req.TimeOfDay,
		DurationMinutes: req.DurationMinutes,
		Pattern:         req.Pattern,
		Notes:           req.Notes,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertRecurring(ctx, tmpl)
	})
	if err != nil {
		return nil, fmt.Errorf("insert recurring appointment: %w", err)
	}

	result := &RecurringResult{Recurring: tmpl}
	for day := range Occurrences(req.StartDate, req.EndDate, req.Pattern) {
		appt, err := s.create(ctx, actor, CreateRequest{
			ClientID:        req.ClientID,
			TherapistID:     req.TherapistID,
			ScheduledAt:     InstantAt(day, req.TimeOfDay, s.loc),
			DurationMinutes: req.DurationMinutes,
			Notes:           req.Notes,
		}, settings, &tmpl.ID)
		if err != nil {
			if KindOf(err) == "error" {
				s.logger.Error().Err(err).Str("recurring_id", tmpl.ID.String()).Str("date", day.String()).Msg("recurring date failed")
			}
			result.Outcomes = append(result.Outcomes, Outcome{Date: day, SkippedReason: reasonOf(err)})
			continue
		}
		result.Outcomes = append(result.Outcomes, Outcome{Date: day, Appointment: appt})
	}

	created := result.Created()
	s.metrics.ObserveRecurringDates(created, len(result.Outcomes)-created)
	span.SetAttributes(attribute.Int("created", created))
	if created == 0 {
		s.metrics.ObserveTransition("create_recurring", KindOf(ErrNoDatesCreated))
		err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.SetRecurringActive(ctx, tmpl.ID, false, s.now().UTC())
		})
		if err != nil {
			return result, fmt.Errorf("deactivate recurring appointment: %w", err)
		}
		tmpl.IsActive = false
		return result, ErrNoDatesCreated
	}

	s.metrics.ObserveTransition("create_recurring", "ok")

	s.logger.Info().
		Str("recurring_id", tmpl.ID.String()).
		Int("created", created).
		Int("skipped", len(result.Outcomes)-created).
		Msg("recurring appointment created")
	return result, nil
}

func reasonOf(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Reason
	}
	return err.Error()
}

func canViewRecurring(actor Actor, r *RecurringAppointment) bool {
	switch actor.Role {
	case RoleAdmin, RoleSystem:
		return true
	case RoleClient:
		return r.ClientID == actor.ID
	case RoleTherapist:
		return r.TherapistID == actor.ID
	}
	return false
}

// GetRecurring returns the template and its appointments.
func (s *Service) GetRecurring(ctx context.Context, actor Actor, id uuid.UUID) (*RecurringAppointment, []Appointment, error) {
	r, err := s.store.GetRecurring(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !canViewRecurring(actor, r) {
		return nil, nil, ErrRecurringNotFound
	}
	children, err := s.store.ListAppointmentsByRecurring(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list recurring children: %w", err)
	}
	return r, children, nil
}

func (s *Service) ListRecurring(ctx context.Context, actor Actor, f RecurringFilter) ([]RecurringAppointment, error) {
	switch actor.Role {
	case RoleClient:
		f.ClientID = &actor.ID
	case RoleTherapist:
		f.TherapistID = &actor.ID
	case RoleAdmin, RoleSystem:
	default:
		return nil, permissionErr("unknown role %q", actor.Role)
	}
	list, err := s.store.ListRecurring(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list recurring appointments: %w", err)
	}
	return list, nil
}

type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

type RespondRequest struct {
	AcceptAll bool
	Decisions map[civil.Date]Decision
	Reason    *string
}

// RespondOutcome reports what happened to one child appointment.
type RespondOutcome struct {
	AppointmentID uuid.UUID
	Date          civil.Date
	Decision      Decision
	Status        AppointmentStatus
	Error         string
}

// RespondRecurring lets the therapist accept every pending child at once, or
// accept and reject individual dates. Pending children whose date is not in
// the map are left alone.
func (s *Service) RespondRecurring(ctx context.Context, actor Actor, id uuid.UUID, req RespondRequest) ([]RespondOutcome, error) {
	ctx, span := tracer.Start(ctx, "appointment.respond_recurring")
	defer span.End()

	if !req.AcceptAll && len(req.Decisions) == 0 {
		return nil, validationErr("either accept_all or individual decisions are required")
	}
	for d, dec := range req.Decisions {
		if dec != DecisionAccept && dec != DecisionReject {
			return nil, validationErr("invalid decision %q for %s", dec, d)
		}
	}

	r, children, err := s.GetRecurring(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleTherapist || actor.ID != r.TherapistID {
		return nil, permissionErr("only the assigned therapist may respond")
	}

	var outcomes []RespondOutcome
	for _, child := range children {
		if child.Status != StatusPending {
			continue
		}
		day := civil.DateOf(child.ScheduledAt.In(s.loc))
		dec := DecisionAccept
		if !req.AcceptAll {
			var ok bool
			if dec, ok = req.Decisions[day]; !ok {
				continue
			}
		}

		var updated *Appointment
		if dec == DecisionAccept {
			updated, err = s.Accept(ctx, actor, child.ID)
		} else {
			updated, err = s.Reject(ctx, actor, child.ID, req.Reason)
		}
		out := RespondOutcome{AppointmentID: child.ID, Date: day, Decision: dec, Status: child.Status}
		if err != nil {
			out.Error = reasonOf(err)
		} else {
			out.Status = updated.Status
		}
		outcomes = append(outcomes, out)
	}
	span.SetAttributes(attribute.Int("responded", len(outcomes)))
	return outcomes, nil
}

// CancelRecurring cancels every child that still accepts a cancellation and
// then deactivates the template. It is safe to retry after a partial failure.
func (s *Service) CancelRecurring(ctx context.Context, actor Actor, id uuid.UUID, reason *string) (int, error) {
	ctx, span := tracer.Start(ctx, "appointment.cancel_recurring")
	defer span.End()

	ev, err := CancelEventFor(actor.Role)
	if err != nil {
		return 0, err
	}
	r, children, err := s.GetRecurring(ctx, actor, id)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	var errs []error
	for _, child := range children {
		if !child.Status.Endable() {
			continue
		}
		_, applied, err := s.transition(ctx, child.ID, ev, actor, transitionInput{Reason: reason})
		if err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", child.ID, err))
			continue
		}
		if applied {
			cancelled++
		}
	}
	if len(errs) > 0 {
		return cancelled, errors.Join(errs...)
	}

	if r.IsActive {
		err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.SetRecurringActive(ctx, r.ID, false, s.now().UTC())
		})
		if err != nil {
			return cancelled, fmt.Errorf("deactivate recurring appointment: %w", err)
		}
	}

	s.logger.Info().Str("recurring_id", r.ID.String()).Int("cancelled", cancelled).Msg("recurring appointment cancelled")
	return cancelled, nil
}
