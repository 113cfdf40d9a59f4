package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSettings(t *testing.T) {
	tests := []struct {
		name string
		rows []SystemSetting
		want func(s *Settings)
	}{
		{
			name: "defaults",
		},
		{
			name: "overrides",
			rows: []SystemSetting{
				{Key: SettingMinimumAdvanceHours, Value: "2", IsActive: true},
				{Key: SettingWorkTimeStart, Value: "07:30", IsActive: true},
				{Key: SettingWorkTimeEnd, Value: "18:00:00", IsActive: true},
			},
			want: func(s *Settings) {
				s.MinimumAdvanceHours = 2
				s.WorkTimeStart = civil.Time{Hour: 7, Minute: 30}
				s.WorkTimeEnd = civil.Time{Hour: 18}
			},
		},
		{
			name: "inactive rows are ignored",
			rows: []SystemSetting{{Key: SettingAutoCancelTimeoutHours, Value: "1", IsActive: false}},
		},
		{
			name: "malformed values keep the default",
			rows: []SystemSetting{
				{Key: SettingModificationDeadlineHours, Value: "soon", IsActive: true},
				{Key: SettingAutoCancelTimeoutHours, Value: "-3", IsActive: true},
				{Key: SettingWorkTimeStart, Value: "25:00", IsActive: true},
				{Key: "colour_scheme", Value: "dark", IsActive: true},
			},
		},
		{
			name: "empty window falls back",
			rows: []SystemSetting{
				{Key: SettingWorkTimeStart, Value: "18:00", IsActive: true},
				{Key: SettingWorkTimeEnd, Value: "09:00", IsActive: true},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := DefaultSettings()
			if tt.want != nil {
				tt.want(&want)
			}
			assert.Equal(t, want, ParseSettings(tt.rows, zerolog.Nop()))
		})
	}
}

func TestValidateSettings(t *testing.T) {
	cur := DefaultSettings()

	assert.NoError(t, ValidateSettings(cur, map[string]string{SettingMinimumAdvanceHours: "0"}))
	assert.NoError(t, ValidateSettings(cur, map[string]string{
		SettingWorkTimeStart: "21:00",
		SettingWorkTimeEnd:   "23:00",
	}), "the window is checked after every update applies")

	for name, updates := range map[string]map[string]string{
		"unknown key":   {"colour_scheme": "dark"},
		"not a number":  {SettingAutoCancelTimeoutHours: "twelve"},
		"negative":      {SettingModificationDeadlineHours: "-1"},
		"bad time":      {SettingWorkTimeEnd: "8pm"},
		"empty window":  {SettingWorkTimeStart: "20:00"},
		"window swaped": {SettingWorkTimeStart: "19:00", SettingWorkTimeEnd: "09:00"},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateSettings(cur, updates), ErrValidation)
		})
	}
}

func TestSettingsValuesRoundTrip(t *testing.T) {
	s := DefaultSettings()
	s.WorkTimeStart = civil.Time{Hour: 9, Minute: 15}
	rows := make([]SystemSetting, 0)
	for k, v := range s.Values() {
		rows = append(rows, SystemSetting{Key: k, Value: v, IsActive: true})
	}
	assert.Equal(t, s, ParseSettings(rows, zerolog.Nop()))
}

type countingSource struct {
	rows  []SystemSetting
	calls int
	err   error
}

func (c *countingSource) ListSettings(context.Context) ([]SystemSetting, error) {
	c.calls++
	return c.rows, c.err
}

func TestStoreSettingsProvider(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{rows: []SystemSetting{{Key: SettingMinimumAdvanceHours, Value: "6", IsActive: true}}}
	clock := newFakeClock(testNow)
	p := NewStoreSettingsProvider(src, time.Minute, zerolog.Nop())
	p.now = clock.Now

	s, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, s.MinimumAdvanceHours)
	assert.Equal(t, int64(1), s.Version)

	_, err = p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "served from cache")

	clock.Advance(2 * time.Minute)
	s, err = p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, int64(2), s.Version)

	src.rows[0].Value = "3"
	s, err = p.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.MinimumAdvanceHours)
	assert.Equal(t, int64(3), s.Version)

	src.err = errors.New("connection reset")
	clock.Advance(2 * time.Minute)
	_, err = p.Snapshot(ctx)
	assert.Error(t, err)
}

func newSettingsFixture(t *testing.T) (*Service, *MemoryStore, *StoreSettingsProvider) {
	t.Helper()
	store := NewMemoryStore()
	provider := NewStoreSettingsProvider(store, time.Hour, zerolog.Nop())
	svc := NewService(store, nil, provider, WithClock(newFakeClock(testNow).Now))
	t.Cleanup(svc.Drain)
	return svc, store, provider
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newSettingsFixture(t)
	admin := Actor{ID: uuid.New(), Role: RoleAdmin}
	client := Actor{ID: uuid.New(), Role: RoleClient}

	_, err := svc.UpdateSettings(ctx, client, map[string]string{SettingMinimumAdvanceHours: "1"})
	assert.ErrorIs(t, err, ErrPermission)
	_, err = svc.GetSettings(ctx, Actor{ID: uuid.New(), Role: RoleTherapist})
	assert.ErrorIs(t, err, ErrPermission)

	_, err = svc.UpdateSettings(ctx, admin, nil)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.UpdateSettings(ctx, admin, map[string]string{SettingWorkTimeEnd: "06:00"})
	assert.ErrorIs(t, err, ErrValidation)

	view, err := svc.UpdateSettings(ctx, admin, map[string]string{
		SettingMinimumAdvanceHours: "1",
		SettingWorkTimeEnd:         "21:00",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, view.Effective.MinimumAdvanceHours)
	assert.Equal(t, civil.Time{Hour: 21}, view.Effective.WorkTimeEnd)
	require.Len(t, view.Stored, 2)
	assert.Equal(t, SettingMinimumAdvanceHours, view.Stored[0].Key)
	assert.Equal(t, SettingDescriptions[SettingMinimumAdvanceHours], view.Stored[0].Description)

	// The new values take effect on the next booking without a restart.
	_, err = svc.CreateAppointment(ctx, client, CreateRequest{
		ClientID:    client.ID,
		TherapistID: uuid.New(),
		ScheduledAt: at(2024, 10, 16, 20, 30),
	})
	assert.NoError(t, err)
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.book(t, at(2024, 10, 18, 9, 0))
	f.bookConfirmed(t, at(2024, 10, 18, 11, 0))
	_, err := f.svc.Cancel(ctx, f.client, a.ID, nil)
	require.NoError(t, err)

	otherClient := uuid.New()
	_, err = f.svc.CreateAppointment(ctx, f.admin, CreateRequest{
		ClientID:    otherClient,
		TherapistID: uuid.New(),
		ScheduledAt: at(2024, 10, 18, 9, 0),
	})
	require.NoError(t, err)

	stats, err := f.svc.Statistics(ctx, f.admin, StatisticsQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Len(t, stats.Counts, len(AllStatuses))
	assert.Equal(t, 1, stats.Counts[StatusPending])
	assert.Equal(t, 1, stats.Counts[StatusConfirmed])
	assert.Equal(t, 1, stats.Counts[StatusCancelledByClient])
	assert.Zero(t, stats.Counts[StatusNoShow])

	stats, err = f.svc.Statistics(ctx, f.client, StatisticsQuery{ClientID: &otherClient})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total, "clients only ever count their own")

	stats, err = f.svc.Statistics(ctx, f.therapist, StatisticsQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)

	stats, err = f.svc.Statistics(ctx, f.admin, StatisticsQuery{From: at(2024, 10, 18, 10, 0), To: at(2024, 10, 19, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)

	_, err = f.svc.Statistics(ctx, f.admin, StatisticsQuery{From: at(2024, 10, 19, 0, 0), To: at(2024, 10, 18, 0, 0)})
	assert.ErrorIs(t, err, ErrValidation)
}
