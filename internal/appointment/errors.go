package appointment

import (
	"errors"
	"fmt"
)

// Error kinds. Every domain failure wraps exactly one of these so callers
// can branch with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPermission        = errors.New("permission denied")
	ErrNotFound          = errors.New("not found")
	ErrRecurrenceFailed  = errors.New("recurrence failure")
)

// Error carries a stable kind and a human readable reason.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Kind }

func validationErr(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Reason: fmt.Sprintf(format, args...)}
}

func conflictErr(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Reason: fmt.Sprintf(format, args...)}
}

func stateErr(format string, args ...any) error {
	return &Error{Kind: ErrInvalidTransition, Reason: fmt.Sprintf(format, args...)}
}

func permissionErr(format string, args ...any) error {
	return &Error{Kind: ErrPermission, Reason: fmt.Sprintf(format, args...)}
}

var (
	ErrAppointmentNotFound = &Error{Kind: ErrNotFound, Reason: "appointment not found"}
	ErrRecurringNotFound   = &Error{Kind: ErrNotFound, Reason: "recurring appointment not found"}
	ErrRuleNotFound        = &Error{Kind: ErrNotFound, Reason: "availability rule not found"}
	ErrBlockedSlotNotFound = &Error{Kind: ErrNotFound, Reason: "blocked slot not found"}
	ErrSettingNotFound     = &Error{Kind: ErrNotFound, Reason: "setting not found"}

	ErrTimeConflict   = &Error{Kind: ErrConflict, Reason: "therapist already has an appointment in this time range"}
	ErrRangeTooLarge  = &Error{Kind: ErrValidation, Reason: "date range must not exceed 30 days"}
	ErrTherapistBusy  = &Error{Kind: ErrConflict, Reason: "therapist schedule is being modified, please retry"}
	ErrStaleUpdate    = &Error{Kind: ErrConflict, Reason: "appointment changed concurrently"}
	ErrNoDatesCreated = &Error{Kind: ErrRecurrenceFailed, Reason: "no date in the recurring request could be booked"}
)
