package appointment

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// MaxAvailabilityRangeDays bounds date_to - date_from for slot queries.
const MaxAvailabilityRangeDays = 30

type AvailabilityQuery struct {
	TherapistID     uuid.UUID
	From            civil.Date
	To              civil.Date
	DurationMinutes int
}

func (q AvailabilityQuery) validate() error {
	if q.TherapistID == uuid.Nil {
		return validationErr("therapist_id is required")
	}
	if !q.From.IsValid() || !q.To.IsValid() {
		return validationErr("date_from and date_to must be valid dates")
	}
	if q.To.Before(q.From) {
		return validationErr("date_to must not be before date_from")
	}
	if q.To.DaysSince(q.From) > MaxAvailabilityRangeDays {
		return ErrRangeTooLarge
	}
	if q.DurationMinutes <= 0 || q.DurationMinutes > 24*60 {
		return validationErr("duration_minutes must be between 1 and 1440")
	}
	return nil
}

// ComputeSlots lists the bookable slots of a therapist between two dates, inclusive.
// Every input is read once, so identical data always yields the identical sequence.
func (s *Service) ComputeSlots(ctx context.Context, q AvailabilityQuery) ([]Slot, error) {
	ctx, span := tracer.Start(ctx, "appointment.compute_slots")
	defer span.End()
	span.SetAttributes(attribute.String("therapist_id", q.TherapistID.String()))

	start := s.now()
	defer func() { s.metrics.ObserveAvailability(time.Since(start)) }()

	if q.DurationMinutes == 0 {
		q.DurationMinutes = DefaultDurationMinutes
	}
	if err := q.validate(); err != nil {
		return nil, err
	}

	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	rules, err := s.store.ListRules(ctx, q.TherapistID, true)
	if err != nil {
		return nil, fmt.Errorf("load availability rules: %w", err)
	}
	blocked, err := s.store.ListBlockedSlots(ctx, q.TherapistID, q.From, q.To, true)
	if err != nil {
		return nil, fmt.Errorf("load blocked slots: %w", err)
	}
	appts, err := s.store.ListActiveOverlapping(ctx, q.TherapistID,
		instantOf(q.From, 0, s.loc), instantOf(q.To.AddDays(1), 0, s.loc))
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	slots := computeSlots(q, settings, rules, blocked, newIntervalSet(appts), s.loc)
	span.SetAttributes(attribute.Int("slots", len(slots)))
	return slots, nil
}

func computeSlots(q AvailabilityQuery, settings Settings, rules []AvailabilityRule, blocked []BlockedSlot, busy intervalSet, loc *time.Location) []Slot {
	blockedByDay := make(map[civil.Date][]BlockedSlot)
	for _, b := range blocked {
		if b.IsActive {
			blockedByDay[b.BlockedDate] = append(blockedByDay[b.BlockedDate], b)
		}
	}

	workStart, workEnd := minutesOf(settings.WorkTimeStart), minutesOf(settings.WorkTimeEnd)
	duration := q.DurationMinutes

	var slots []Slot
	for day := q.From; !day.After(q.To); day = day.AddDays(1) {
		rule := resolveRule(rules, day)
		if rule == nil {
			continue
		}

		windowStart := max(minutesOf(rule.StartTime), workStart)
		windowEnd := min(minutesOf(rule.EndTime), workEnd)
		step := duration + max(rule.BufferMinutes, 0)

		for cursor := windowStart; cursor+duration <= windowEnd; cursor += step {
			end := cursor + duration
			if isBlocked(blockedByDay[day], cursor, end) {
				continue
			}
			if busy.conflicts(instantOf(day, cursor, loc), instantOf(day, end, loc), nil) {
				continue
			}
			slots = append(slots, Slot{
				Date:            day,
				StartTime:       clockAt(cursor),
				EndTime:         clockAt(end),
				DurationMinutes: duration,
			})
		}
	}
	return slots
}

// resolveRule picks the active rule governing day. If stored data holds more
// than one, the latest effective date wins.
func resolveRule(rules []AvailabilityRule, day civil.Date) *AvailabilityRule {
	var best *AvailabilityRule
	for i := range rules {
		r := &rules[i]
		if !r.AppliesOn(day) {
			continue
		}
		if best == nil || r.EffectiveDate.After(best.EffectiveDate) ||
			(r.EffectiveDate == best.EffectiveDate && r.CreatedAt.Before(best.CreatedAt)) {
			best = r
		}
	}
	return best
}

func isBlocked(blocked []BlockedSlot, start, end int) bool {
	for _, b := range blocked {
		if start < minutesOf(b.EndTime) && minutesOf(b.StartTime) < end {
			return true
		}
	}
	return false
}
