package appointment

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

type settingsReloader interface {
	Reload(ctx context.Context) (Settings, error)
}

// SettingsView is the effective configuration plus the stored rows behind it.
type SettingsView struct {
	Effective Settings
	Stored    []SystemSetting
}

func (s *Service) GetSettings(ctx context.Context, actor Actor) (*SettingsView, error) {
	if actor.Role != RoleAdmin {
		return nil, permissionErr("settings are restricted to admins")
	}
	effective, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return &SettingsView{Effective: effective, Stored: stored}, nil
}

// UpdateSettings validates and stores a batch of settings, then reloads the
// provider so the next operation sees them.
func (s *Service) UpdateSettings(ctx context.Context, actor Actor, updates map[string]string) (*SettingsView, error) {
	if actor.Role != RoleAdmin {
		return nil, permissionErr("settings are restricted to admins")
	}
	if len(updates) == 0 {
		return nil, validationErr("no settings given")
	}

	current, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if err := ValidateSettings(current, updates); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	keys := slices.Sorted(maps.Keys(updates))
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		for _, key := range keys {
			err := tx.UpsertSetting(ctx, SystemSetting{
				Key:         key,
				Value:       updates[key],
				Description: SettingDescriptions[key],
				IsActive:    true,
				UpdatedAt:   now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store settings: %w", err)
	}

	if r, ok := s.settings.(settingsReloader); ok {
		if _, err := r.Reload(ctx); err != nil {
			return nil, err
		}
	}
	s.logger.Info().Strs("keys", keys).Str("actor_id", actor.ID.String()).Msg("settings updated")
	return s.GetSettings(ctx, actor)
}

type StatisticsQuery struct {
	ClientID    *uuid.UUID
	TherapistID *uuid.UUID
	From        time.Time
	To          time.Time
}

type Statistics struct {
	From   time.Time
	To     time.Time
	Counts map[AppointmentStatus]int
	Total  int
}

// Statistics counts appointments per status scheduled in [From, To). Clients
// and therapists are restricted to their own appointments.
func (s *Service) Statistics(ctx context.Context, actor Actor, q StatisticsQuery) (*Statistics, error) {
	switch actor.Role {
	case RoleClient:
		q.ClientID = &actor.ID
	case RoleTherapist:
		q.TherapistID = &actor.ID
	case RoleAdmin:
	default:
		return nil, permissionErr("unknown role %q", actor.Role)
	}

	now := s.now().UTC()
	if q.From.IsZero() {
		q.From = now.AddDate(0, 0, -30)
	}
	if q.To.IsZero() {
		q.To = q.From.AddDate(0, 0, 60)
	}
	if !q.From.Before(q.To) {
		return nil, validationErr("from must be before to")
	}

	counts, err := s.store.CountByStatus(ctx, StatsFilter{
		ClientID:    q.ClientID,
		TherapistID: q.TherapistID,
		From:        q.From,
		To:          q.To,
	})
	if err != nil {
		return nil, err
	}

	stats := &Statistics{From: q.From, To: q.To, Counts: make(map[AppointmentStatus]int, len(AllStatuses))}
	for _, st := range AllStatuses {
		stats.Counts[st] = counts[st]
		stats.Total += counts[st]
	}
	return stats, nil
}
