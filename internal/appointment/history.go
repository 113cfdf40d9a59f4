package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// historyRecorder appends audit entries inside the caller's transaction.
type historyRecorder struct {
	now func() time.Time
}

type historyInput struct {
	AppointmentID  uuid.UUID
	Action         HistoryAction
	OldStatus      *AppointmentStatus
	NewStatus      AppointmentStatus
	OldScheduledAt *time.Time
	NewScheduledAt *time.Time
	ChangedBy      uuid.UUID
	Reason         *string
	Extra          map[string]any
}

// record writes one entry. created_at is forced past the appointment's latest
// entry so the per-appointment order is strict even on clock ties.
func (r historyRecorder) record(ctx context.Context, tx Tx, in historyInput) (*HistoryEntry, error) {
	at := r.now().UTC().Truncate(time.Microsecond)
	last, err := tx.LastHistoryAt(ctx, in.AppointmentID)
	if err != nil {
		return nil, err
	}
	if !at.After(last) {
		at = last.Add(time.Microsecond)
	}

	var extra json.RawMessage
	if len(in.Extra) > 0 {
		extra, err = json.Marshal(in.Extra)
		if err != nil {
			return nil, fmt.Errorf("marshal history extra: %w", err)
		}
	}

	entry := &HistoryEntry{
		ID:             uuid.New(),
		AppointmentID:  in.AppointmentID,
		Action:         in.Action,
		OldStatus:      in.OldStatus,
		NewStatus:      in.NewStatus,
		OldScheduledAt: in.OldScheduledAt,
		NewScheduledAt: in.NewScheduledAt,
		ChangedBy:      in.ChangedBy,
		Reason:         in.Reason,
		Extra:          extra,
		CreatedAt:      at,
	}
	if err := tx.InsertHistory(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
