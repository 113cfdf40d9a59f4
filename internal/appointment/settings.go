package appointment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
)

const (
	SettingMinimumAdvanceHours       = "minimum_advance_hours"
	SettingModificationDeadlineHours = "modification_deadline_hours"
	SettingAutoCancelTimeoutHours    = "auto_cancel_timeout_hours"
	SettingWorkTimeStart             = "work_time_start"
	SettingWorkTimeEnd               = "work_time_end"
)

// SettingDescriptions documents every known key; keys outside this map are rejected.
var SettingDescriptions = map[string]string{
	SettingMinimumAdvanceHours:       "Minimum hours between now and the start of a new booking",
	SettingModificationDeadlineHours: "Hours before the appointment after which modification requests are refused",
	SettingAutoCancelTimeoutHours:    "Hours a pending appointment may wait for the therapist before it is auto cancelled",
	SettingWorkTimeStart:             "Earliest bookable time of day (HH:MM)",
	SettingWorkTimeEnd:               "End of the bookable time of day window (HH:MM)",
}

// Settings is an immutable snapshot of the business rule parameters.
type Settings struct {
	Version                   int64
	MinimumAdvanceHours       int
	ModificationDeadlineHours int
	AutoCancelTimeoutHours    int
	WorkTimeStart             civil.Time
	WorkTimeEnd               civil.Time
}

func DefaultSettings() Settings {
	return Settings{
		MinimumAdvanceHours:       24,
		ModificationDeadlineHours: 12,
		AutoCancelTimeoutHours:    12,
		WorkTimeStart:             civil.Time{Hour: 8},
		WorkTimeEnd:               civil.Time{Hour: 20},
	}
}

func (s Settings) MinimumAdvance() time.Duration {
	return time.Duration(s.MinimumAdvanceHours) * time.Hour
}

func (s Settings) ModificationDeadline() time.Duration {
	return time.Duration(s.ModificationDeadlineHours) * time.Hour
}

func (s Settings) AutoCancelTimeout() time.Duration {
	return time.Duration(s.AutoCancelTimeoutHours) * time.Hour
}

// Values renders the snapshot as key/value pairs.
func (s Settings) Values() map[string]string {
	return map[string]string{
		SettingMinimumAdvanceHours:       strconv.Itoa(s.MinimumAdvanceHours),
		SettingModificationDeadlineHours: strconv.Itoa(s.ModificationDeadlineHours),
		SettingAutoCancelTimeoutHours:    strconv.Itoa(s.AutoCancelTimeoutHours),
		SettingWorkTimeStart:             FormatTimeOfDay(s.WorkTimeStart),
		SettingWorkTimeEnd:               FormatTimeOfDay(s.WorkTimeEnd),
	}
}

// SettingsProvider hands out one snapshot per operation.
type SettingsProvider interface {
	Snapshot(ctx context.Context) (Settings, error)
}

type staticSettings Settings

// StaticSettings returns a provider that always yields s.
func StaticSettings(s Settings) SettingsProvider {
	return staticSettings(s)
}

func (s staticSettings) Snapshot(context.Context) (Settings, error) {
	return Settings(s), nil
}

type settingsSource interface {
	ListSettings(ctx context.Context) ([]SystemSetting, error)
}

// StoreSettingsProvider caches the settings table and reloads it when the
// cached copy is older than refresh or when Reload is called.
type StoreSettingsProvider struct {
	source  settingsSource
	refresh time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	mu       sync.RWMutex
	current  Settings
	loadedAt time.Time
	loaded   bool
}

func NewStoreSettingsProvider(source settingsSource, refresh time.Duration, logger zerolog.Logger) *StoreSettingsProvider {
	return &StoreSettingsProvider{
		source:  source,
		refresh: refresh,
		now:     time.Now,
		logger:  logger,
	}
}

func (p *StoreSettingsProvider) Snapshot(ctx context.Context) (Settings, error) {
	p.mu.RLock()
	if p.loaded && p.now().Sub(p.loadedAt) < p.refresh {
		s := p.current
		p.mu.RUnlock()
		return s, nil
	}
	p.mu.RUnlock()
	return p.Reload(ctx)
}

// Reload reads the settings table and publishes a new snapshot version.
func (p *StoreSettingsProvider) Reload(ctx context.Context) (Settings, error) {
	rows, err := p.source.ListSettings(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	next := ParseSettings(rows, p.logger)

	p.mu.Lock()
	defer p.mu.Unlock()
	next.Version = p.current.Version + 1
	p.current = next
	p.loadedAt = p.now()
	p.loaded = true
	return next, nil
}

// ParseSettings overlays active stored rows on the defaults. Malformed values
// keep the default.
func ParseSettings(rows []SystemSetting, logger zerolog.Logger) Settings {
	s := DefaultSettings()
	for _, row := range rows {
		if !row.IsActive {
			continue
		}
		if err := applySetting(&s, row.Key, row.Value); err != nil {
			logger.Warn().Err(err).Str("key", row.Key).Str("value", row.Value).Msg("ignoring invalid setting")
		}
	}
	if !timeBefore(s.WorkTimeStart, s.WorkTimeEnd) {
		d := DefaultSettings()
		logger.Warn().
			Str("work_time_start", FormatTimeOfDay(s.WorkTimeStart)).
			Str("work_time_end", FormatTimeOfDay(s.WorkTimeEnd)).
			Msg("work time window is empty, using defaults")
		s.WorkTimeStart, s.WorkTimeEnd = d.WorkTimeStart, d.WorkTimeEnd
	}
	return s
}

// ValidateSettings checks a batch of updates against the current snapshot.
func ValidateSettings(current Settings, updates map[string]string) error {
	next := current
	for key, value := range updates {
		if _, ok := SettingDescriptions[key]; !ok {
			return validationErr("unknown setting %q", key)
		}
		if err := applySetting(&next, key, value); err != nil {
			return validationErr("%v", err)
		}
	}
	if !timeBefore(next.WorkTimeStart, next.WorkTimeEnd) {
		return validationErr("work_time_start must be before work_time_end")
	}
	return nil
}

func applySetting(s *Settings, key, value string) error {
	switch key {
	case SettingMinimumAdvanceHours, SettingModificationDeadlineHours, SettingAutoCancelTimeoutHours:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer", key)
		}
		switch key {
		case SettingMinimumAdvanceHours:
			s.MinimumAdvanceHours = n
		case SettingModificationDeadlineHours:
			s.ModificationDeadlineHours = n
		default:
			s.AutoCancelTimeoutHours = n
		}
	case SettingWorkTimeStart, SettingWorkTimeEnd:
		t, err := ParseTimeOfDay(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if key == SettingWorkTimeStart {
			s.WorkTimeStart = t
		} else {
			s.WorkTimeEnd = t
		}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

// ParseTimeOfDay accepts HH:MM or HH:MM:SS.
func ParseTimeOfDay(v string) (civil.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return civil.TimeOf(t), nil
		}
	}
	return civil.Time{}, fmt.Errorf("invalid time of day %q", v)
}

func FormatTimeOfDay(t civil.Time) string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func timeBefore(a, b civil.Time) bool {
	return minutesOf(a) < minutesOf(b)
}
