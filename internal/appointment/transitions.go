package appointment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type Event string

const (
	EventCreate              Event = "create"
	EventAccept              Event = "accept"
	EventReject              Event = "reject"
	EventRequestModification Event = "request_modification"
	EventAcceptModification  Event = "accept_modification"
	EventRejectModification  Event = "reject_modification"
	EventCancelByClient      Event = "cancel_by_client"
	EventCancelByTherapist   Event = "cancel_by_therapist"
	EventForceCancel         Event = "force_cancel"
	EventExpire              Event = "expire"
	EventComplete            Event = "complete"
	EventNoShow              Event = "no_show"
)

type guard struct {
	who   string
	allow func(actor Actor, a *Appointment) bool
}

var (
	clientGuard = guard{"the client", func(actor Actor, a *Appointment) bool {
		return actor.Role == RoleClient && actor.ID == a.ClientID
	}}
	therapistGuard = guard{"the assigned therapist", func(actor Actor, a *Appointment) bool {
		return actor.Role == RoleTherapist && actor.ID == a.TherapistID
	}}
	adminGuard = guard{"an admin", func(actor Actor, _ *Appointment) bool {
		return actor.Role == RoleAdmin
	}}
	systemGuard = guard{"the system", func(actor Actor, _ *Appointment) bool {
		return actor.Role == RoleSystem
	}}
	operatorGuard = guard{"the assigned therapist, an admin or the system", func(actor Actor, a *Appointment) bool {
		return therapistGuard.allow(actor, a) || actor.Role == RoleAdmin || actor.Role == RoleSystem
	}}
)

type transitionRule struct {
	from   []AppointmentStatus
	to     AppointmentStatus
	action HistoryAction
	guard  guard
	// idempotent rules succeed without effect when the state no longer matches.
	idempotent bool
}

var cancellable = []AppointmentStatus{StatusPending, StatusConfirmed, StatusPendingModification, StatusModificationRejected}

var transitions = map[Event]transitionRule{
	EventAccept:              {from: []AppointmentStatus{StatusPending}, to: StatusConfirmed, action: ActionAccept, guard: therapistGuard},
	EventReject:              {from: []AppointmentStatus{StatusPending}, to: StatusRejected, action: ActionReject, guard: therapistGuard},
	EventRequestModification: {from: []AppointmentStatus{StatusConfirmed}, to: StatusPendingModification, action: ActionModifyRequest, guard: clientGuard},
	EventAcceptModification:  {from: []AppointmentStatus{StatusPendingModification}, to: StatusConfirmed, action: ActionAcceptModification, guard: therapistGuard},
	EventRejectModification:  {from: []AppointmentStatus{StatusPendingModification}, to: StatusModificationRejected, action: ActionRejectModification, guard: therapistGuard},
	EventCancelByClient:      {from: cancellable, to: StatusCancelledByClient, action: ActionCancel, guard: clientGuard},
	EventCancelByTherapist:   {from: cancellable, to: StatusCancelledByTherapist, action: ActionCancel, guard: therapistGuard},
	EventForceCancel:         {from: cancellable, to: StatusCancelledByAdmin, action: ActionCancel, guard: adminGuard},
	EventExpire:              {from: []AppointmentStatus{StatusPending}, to: StatusAutoCancelled, action: ActionAutoCancel, guard: systemGuard, idempotent: true},
	EventComplete:            {from: []AppointmentStatus{StatusConfirmed}, to: StatusCompleted, action: ActionComplete, guard: operatorGuard},
	EventNoShow:              {from: []AppointmentStatus{StatusConfirmed}, to: StatusNoShow, action: ActionNoShow, guard: operatorGuard},
}

// dispatch resolves ev against the table. The permission check runs before
// the state check, so an outsider learns nothing about the current status.
func dispatch(ev Event, actor Actor, a *Appointment) (transitionRule, error) {
	rule, ok := transitions[ev]
	if !ok {
		return transitionRule{}, stateErr("unknown event %q", ev)
	}
	if !rule.guard.allow(actor, a) {
		return rule, permissionErr("%s requires %s", ev, rule.guard.who)
	}
	if !slices.Contains(rule.from, a.Status) {
		return rule, stateErr("cannot %s an appointment in status %s", ev, a.Status)
	}
	return rule, nil
}

// CancelEventFor picks the cancel event matching the actor's role.
func CancelEventFor(role Role) (Event, error) {
	switch role {
	case RoleClient:
		return EventCancelByClient, nil
	case RoleTherapist:
		return EventCancelByTherapist, nil
	case RoleAdmin:
		return EventForceCancel, nil
	}
	return "", permissionErr("role %q cannot cancel appointments", role)
}

type transitionInput struct {
	Reason  *string
	NewTime *time.Time
}

// transition loads the appointment, dispatches ev and applies it inside the
// therapist transaction together with its history entry.
func (s *Service) transition(ctx context.Context, id uuid.UUID, ev Event, actor Actor, in transitionInput) (*Appointment, bool, error) {
	ctx, span := tracer.Start(ctx, "appointment."+string(ev))
	defer span.End()
	span.SetAttributes(
		attribute.String("appointment_id", id.String()),
		attribute.String("actor_role", string(actor.Role)),
	)

	appt, applied, prev, err := s.applyTransition(ctx, id, ev, actor, in)
	s.metrics.ObserveTransition(string(ev), KindOf(err))
	if err != nil {
		return nil, false, err
	}
	if !applied {
		return appt, false, nil
	}

	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("event", string(ev)).
		Str("from", string(prev.Status)).
		Str("to", string(appt.Status)).
		Msg("appointment transition")

	if prev.Status == StatusPending && prev.AutoCancelTaskRef != nil && s.timer != nil && ev != EventExpire {
		if err := s.timer.CancelExpiry(ctx, *prev.AutoCancelTaskRef); err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to cancel expiry timer")
		}
	}
	s.notify(ev, appt, actor)
	return appt, true, nil
}

func (s *Service) applyTransition(ctx context.Context, id uuid.UUID, ev Event, actor Actor, in transitionInput) (*Appointment, bool, *Appointment, error) {
	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, false, nil, err
	}

	current, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, false, nil, err
	}
	if !canView(actor, current) {
		return nil, false, nil, ErrAppointmentNotFound
	}

	var (
		updated *Appointment
		prev    *Appointment
		applied bool
	)
	err = s.withTherapist(ctx, current.TherapistID, func(ctx context.Context, tx Tx) error {
		a, err := tx.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		rule, err := dispatch(ev, actor, a)
		if err != nil {
			if rule.idempotent && errors.Is(err, ErrInvalidTransition) {
				updated = a
				return nil
			}
			return err
		}

		now := s.now().UTC()
		next := *a
		hist := historyInput{
			AppointmentID: a.ID,
			Action:        rule.action,
			OldStatus:     &a.Status,
			NewStatus:     rule.to,
			ChangedBy:     actor.ID,
			Reason:        in.Reason,
		}
		if err := s.applyEffects(ctx, tx, ev, &next, &hist, in, settings, now); err != nil {
			return err
		}

		next.Status = rule.to
		next.UpdatedAt = now
		if rule.to != StatusPending {
			next.AutoCancelTaskRef = nil
		}
		if err := tx.UpdateAppointment(ctx, &next, a.Status); err != nil {
			return err
		}
		if _, err := s.history.record(ctx, tx, hist); err != nil {
			return err
		}
		prev, updated, applied = a, &next, true
		return nil
	})
	if err != nil {
		return nil, false, nil, err
	}
	return updated, applied, prev, nil
}

// applyEffects runs the event specific guards and field changes.
func (s *Service) applyEffects(ctx context.Context, tx Tx, ev Event, a *Appointment, hist *historyInput, in transitionInput, settings Settings, now time.Time) error {
	switch ev {
	case EventRequestModification:
		if in.NewTime == nil {
			return validationErr("new scheduled time is required")
		}
		deadline := a.ScheduledAt.Add(-settings.ModificationDeadline())
		if !now.Before(deadline) {
			return validationErr("modifications must be requested at least %d hours before the appointment", settings.ModificationDeadlineHours)
		}
		newTime := in.NewTime.UTC().Truncate(time.Microsecond)
		if err := s.validateBookingTime(settings, newTime, now); err != nil {
			return err
		}
		if err := s.ensureFree(ctx, tx, a, newTime); err != nil {
			return err
		}
		old := a.ScheduledAt
		a.ModificationRequestedAt = &newTime
		a.ModificationReason = in.Reason
		hist.OldScheduledAt, hist.NewScheduledAt = &old, &newTime

	case EventAcceptModification:
		if a.ModificationRequestedAt == nil {
			return stateErr("appointment has no requested time")
		}
		newTime := *a.ModificationRequestedAt
		if err := s.ensureFree(ctx, tx, a, newTime); err != nil {
			return err
		}
		old := a.ScheduledAt
		a.ScheduledAt = newTime
		a.ModificationRequestedAt, a.ModificationReason = nil, nil
		hist.OldScheduledAt, hist.NewScheduledAt = &old, &newTime

	case EventRejectModification:
		hist.Extra = map[string]any{"requested_at": a.ModificationRequestedAt}
		a.ModificationRequestedAt, a.ModificationReason = nil, nil

	case EventCancelByClient, EventCancelByTherapist, EventForceCancel:
		a.CancellationReason = in.Reason
		a.ModificationRequestedAt, a.ModificationReason = nil, nil

	case EventExpire:
		hist.Extra = map[string]any{"timeout_hours": settings.AutoCancelTimeoutHours}

	case EventComplete, EventNoShow:
		if now.Before(a.ScheduledAt) {
			return validationErr("appointment has not started yet")
		}
	}
	return nil
}

// ensureFree checks that a moved to start would not overlap another active appointment.
func (s *Service) ensureFree(ctx context.Context, tx Tx, a *Appointment, start time.Time) error {
	end := start.Add(time.Duration(a.DurationMinutes) * time.Minute)
	conflict, err := HasConflict(ctx, tx, a.TherapistID, start, end, &a.ID)
	if err != nil {
		return fmt.Errorf("check conflicts: %w", err)
	}
	if conflict {
		return ErrTimeConflict
	}
	return nil
}

// Accept confirms a pending appointment.
func (s *Service) Accept(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, _, err := s.transition(ctx, id, EventAccept, actor, transitionInput{})
	return a, err
}

// Reject declines a pending appointment.
func (s *Service) Reject(ctx context.Context, actor Actor, id uuid.UUID, reason *string) (*Appointment, error) {
	a, _, err := s.transition(ctx, id, EventReject, actor, transitionInput{Reason: reason})
	return a, err
}

// RequestModification asks the therapist to move a confirmed appointment to newTime.
func (s *Service) RequestModification(ctx context.Context, actor Actor, id uuid.UUID, newTime time.Time, reason *string) (*Appointment, error) {
	a, _, err := s.transition(ctx, id, EventRequestModification, actor, transitionInput{Reason: reason, NewTime: &newTime})
	return a, err
}

func (s *Service) AcceptModification(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, _, err := s.transition(ctx, id, EventAcceptModification, actor, transitionInput{})
	return a, err
}

func (s *Service) RejectModification(ctx context.Context, actor Actor, id uuid.UUID, reason *string) (*Appointment, error) {
	a, _, err := s.transition(ctx, id, EventRejectModification, actor, transitionInput{Reason: reason})
	return a, err
}

// Cancel applies the cancel event matching the actor's role.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason *string) (*Appointment, error) {
	ev, err := CancelEventFor(actor.Role)
	if err != nil {
		return nil, err
	}
	a, _, err := s.transition(ctx, id, ev, actor, transitionInput{Reason: reason})
	return a, err
}

func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, _, err := s.transition(ctx, id, EventComplete, actor, transitionInput{})
	return a, err
}

func (s *Service) NoShow(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, _, err := s.transition(ctx, id, EventNoShow, actor, transitionInput{})
	return a, err
}

// Expire auto-cancels a pending appointment. Repeated calls are no-ops and
// report false.
func (s *Service) Expire(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.expire(ctx, id, "timer")
}

func (s *Service) expire(ctx context.Context, id uuid.UUID, source string) (bool, error) {
	_, applied, err := s.transition(ctx, id, EventExpire, SystemActor, transitionInput{})
	if err != nil {
		return false, err
	}
	s.metrics.ObserveExpiry(source, applied)
	return applied, nil
}
