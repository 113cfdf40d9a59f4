package appointment

import (
	"context"
	"fmt"
	"unicode/utf8"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

const maxBlockedReasonLength = 255

func canManageSchedule(actor Actor, therapistID uuid.UUID) bool {
	return actor.Role == RoleAdmin || (actor.Role == RoleTherapist && actor.ID == therapistID)
}

type RuleInput struct {
	DayOfWeek     int
	StartTime     civil.Time
	EndTime       civil.Time
	EffectiveDate civil.Date
	ExpiryDate    *civil.Date
	BufferMinutes int
	IsActive      bool
}

func (in RuleInput) validate() error {
	if in.DayOfWeek < 0 || in.DayOfWeek > 6 {
		return validationErr("day_of_week must be between 0 (Monday) and 6 (Sunday)")
	}
	if !in.StartTime.IsValid() || !in.EndTime.IsValid() {
		return validationErr("start_time and end_time must be valid times")
	}
	if !timeBefore(in.StartTime, in.EndTime) {
		return validationErr("start_time must be before end_time")
	}
	if !in.EffectiveDate.IsValid() {
		return validationErr("effective_date is required")
	}
	if in.ExpiryDate != nil && in.ExpiryDate.Before(in.EffectiveDate) {
		return validationErr("expiry_date must not be before effective_date")
	}
	if in.BufferMinutes < 0 || in.BufferMinutes > 24*60 {
		return validationErr("buffer_minutes must be between 0 and 1440")
	}
	return nil
}

// ensureNoRuleOverlap enforces one active rule per weekday per effective window.
func ensureNoRuleOverlap(ctx context.Context, tx Tx, rule *AvailabilityRule) error {
	if !rule.IsActive {
		return nil
	}
	existing, err := tx.ListRules(ctx, rule.TherapistID, true)
	if err != nil {
		return fmt.Errorf("load availability rules: %w", err)
	}
	for i := range existing {
		other := &existing[i]
		if other.ID == rule.ID || other.DayOfWeek != rule.DayOfWeek {
			continue
		}
		if rule.overlapsWindow(other) {
			return conflictErr("an active rule for day %d already covers this period", rule.DayOfWeek)
		}
	}
	return nil
}

func (s *Service) CreateRule(ctx context.Context, actor Actor, therapistID uuid.UUID, in RuleInput) (*AvailabilityRule, error) {
	if !canManageSchedule(actor, therapistID) {
		return nil, permissionErr("only the therapist or an admin may manage availability")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rule := &AvailabilityRule{
		ID:            uuid.New(),
		TherapistID:   therapistID,
		DayOfWeek:     in.DayOfWeek,
		StartTime:     in.StartTime,
		EndTime:       in.EndTime,
		EffectiveDate: in.EffectiveDate,
		ExpiryDate:    in.ExpiryDate,
		IsActive:      in.IsActive,
		BufferMinutes: in.BufferMinutes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.withTherapist(ctx, therapistID, func(ctx context.Context, tx Tx) error {
		if err := ensureNoRuleOverlap(ctx, tx, rule); err != nil {
			return err
		}
		return tx.InsertRule(ctx, rule)
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *Service) UpdateRule(ctx context.Context, actor Actor, therapistID, ruleID uuid.UUID, in RuleInput) (*AvailabilityRule, error) {
	if !canManageSchedule(actor, therapistID) {
		return nil, permissionErr("only the therapist or an admin may manage availability")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var updated *AvailabilityRule
	err := s.withTherapist(ctx, therapistID, func(ctx context.Context, tx Tx) error {
		rule, err := tx.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}
		if rule.TherapistID != therapistID {
			return ErrRuleNotFound
		}
		rule.DayOfWeek = in.DayOfWeek
		rule.StartTime, rule.EndTime = in.StartTime, in.EndTime
		rule.EffectiveDate, rule.ExpiryDate = in.EffectiveDate, in.ExpiryDate
		rule.BufferMinutes = in.BufferMinutes
		rule.IsActive = in.IsActive
		rule.UpdatedAt = s.now().UTC()
		if err := ensureNoRuleOverlap(ctx, tx, rule); err != nil {
			return err
		}
		updated = rule
		return tx.UpdateRule(ctx, rule)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeactivateRule soft deletes a rule.
func (s *Service) DeactivateRule(ctx context.Context, actor Actor, therapistID, ruleID uuid.UUID) error {
	if !canManageSchedule(actor, therapistID) {
		return permissionErr("only the therapist or an admin may manage availability")
	}
	return s.withTherapist(ctx, therapistID, func(ctx context.Context, tx Tx) error {
		rule, err := tx.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}
		if rule.TherapistID != therapistID {
			return ErrRuleNotFound
		}
		if !rule.IsActive {
			return nil
		}
		rule.IsActive = false
		rule.UpdatedAt = s.now().UTC()
		return tx.UpdateRule(ctx, rule)
	})
}

func (s *Service) ListRules(ctx context.Context, therapistID uuid.UUID, activeOnly bool) ([]AvailabilityRule, error) {
	rules, err := s.store.ListRules(ctx, therapistID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list availability rules: %w", err)
	}
	return rules, nil
}

type BlockedSlotInput struct {
	Date      civil.Date
	StartTime civil.Time
	EndTime   civil.Time
	Reason    string
	Notes     *string
	IsActive  bool
}

func (in BlockedSlotInput) validate() error {
	if !in.Date.IsValid() {
		return validationErr("blocked_date is required")
	}
	if !in.StartTime.IsValid() || !in.EndTime.IsValid() {
		return validationErr("start_time and end_time must be valid times")
	}
	if !timeBefore(in.StartTime, in.EndTime) {
		return validationErr("start_time must be before end_time")
	}
	if utf8.RuneCountInString(in.Reason) > maxBlockedReasonLength {
		return validationErr("reason must be at most %d characters", maxBlockedReasonLength)
	}
	if in.Notes != nil && utf8.RuneCountInString(*in.Notes) > MaxNotesLength {
		return validationErr("notes must be at most %d characters", MaxNotesLength)
	}
	return nil
}

// ensureBlockFree rejects an active block that would cover a booked appointment.
func (s *Service) ensureBlockFree(ctx context.Context, tx Tx, b *BlockedSlot) error {
	if !b.IsActive {
		return nil
	}
	conflict, err := HasConflict(ctx, tx, b.TherapistID,
		InstantAt(b.BlockedDate, b.StartTime, s.loc), InstantAt(b.BlockedDate, b.EndTime, s.loc), nil)
	if err != nil {
		return err
	}
	if conflict {
		return conflictErr("blocked period overlaps an active appointment")
	}
	return nil
}

func (s *Service) CreateBlockedSlot(ctx context.Context, actor Actor, therapistID uuid.UUID, in BlockedSlotInput) (*BlockedSlot, error) {
	if !canManageSchedule(actor, therapistID) {
		return nil, permissionErr("only the therapist or an admin may manage blocked slots")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	b := &BlockedSlot{
		ID:          uuid.New(),
		TherapistID: therapistID,
		BlockedDate: in.Date,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		Reason:      in.Reason,
		Notes:       in.Notes,
		IsActive:    in.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.withTherapist(ctx, therapistID, func(ctx context.Context, tx Tx) error {
		if err := s.ensureBlockFree(ctx, tx, b); err != nil {
			return err
		}
		return tx.InsertBlockedSlot(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) UpdateBlockedSlot(ctx context.Context, actor Actor, therapistID, slotID uuid.UUID, in BlockedSlotInput) (*BlockedSlot, error) {
	if !canManageSchedule(actor, therapistID) {
		return nil, permissionErr("only the therapist or an admin may manage blocked slots")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var updated *BlockedSlot
	err := s.withTherapist(ctx, therapistID, func(ctx context.Context, tx Tx) error {
		b, err := tx.GetBlockedSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if b.TherapistID != therapistID {
			return ErrBlockedSlotNotFound
		}
		b.BlockedDate = in.Date
		b.StartTime, b.EndTime = in.StartTime, in.EndTime
		b.Reason, b.Notes = in.Reason, in.Notes
		b.IsActive = in.IsActive
		b.UpdatedAt = s.now().UTC()
		if err := s.ensureBlockFree(ctx, tx, b); err != nil {
			return err
		}
		updated = b
		return tx.UpdateBlockedSlot(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) DeactivateBlockedSlot(ctx context.Context, actor Actor, therapistID, slotID uuid.UUID) error {
	if !canManageSchedule(actor, therapistID) {
		return permissionErr("only the therapist or an admin may manage blocked slots")
	}
	return s.withTherapist(ctx, therapistID, func(ctx context.Context, tx Tx) error {
		b, err := tx.GetBlockedSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if b.TherapistID != therapistID {
			return ErrBlockedSlotNotFound
		}
		if !b.IsActive {
			return nil
		}
		b.IsActive = false
		b.UpdatedAt = s.now().UTC()
		return tx.UpdateBlockedSlot(ctx, b)
	})
}

func (s *Service) ListBlockedSlots(ctx context.Context, therapistID uuid.UUID, from, to civil.Date, activeOnly bool) ([]BlockedSlot, error) {
	if to.Before(from) {
		return nil, validationErr("to must not be before from")
	}
	slots, err := s.store.ListBlockedSlots(ctx, therapistID, from, to, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list blocked slots: %w", err)
	}
	return slots, nil
}
