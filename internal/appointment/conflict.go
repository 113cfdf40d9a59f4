package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// overlaps is the half-open interval test [s1,e1) ∩ [s2,e2) ≠ ∅.
// Back-to-back intervals do not overlap.
func overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

type interval struct {
	id    uuid.UUID
	start time.Time
	end   time.Time
}

// intervalSet is an in-memory view of a therapist's active appointments.
type intervalSet []interval

func newIntervalSet(appts []Appointment) intervalSet {
	set := make(intervalSet, 0, len(appts))
	for i := range appts {
		if !appts[i].Status.Active() {
			continue
		}
		set = append(set, interval{id: appts[i].ID, start: appts[i].ScheduledAt, end: appts[i].EndsAt()})
	}
	return set
}

func (s intervalSet) conflicts(start, end time.Time, exclude *uuid.UUID) bool {
	for _, iv := range s {
		if exclude != nil && iv.id == *exclude {
			continue
		}
		if overlaps(start, end, iv.start, iv.end) {
			return true
		}
	}
	return false
}

// HasConflict reports whether [start, end) overlaps an active appointment of
// the therapist, ignoring exclude when set.
func HasConflict(ctx context.Context, r Reader, therapistID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error) {
	if !start.Before(end) {
		return false, validationErr("interval end must be after start")
	}
	appts, err := r.ListActiveOverlapping(ctx, therapistID, start, end)
	if err != nil {
		return false, fmt.Errorf("load overlapping appointments: %w", err)
	}
	return newIntervalSet(appts).conflicts(start, end, exclude), nil
}
