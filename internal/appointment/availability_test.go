package appointment

import (
	"context"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-10-21 is a Monday.
var monday = date(2024, 10, 21)

func (f *fixture) rule(t *testing.T, in RuleInput) *AvailabilityRule {
	t.Helper()
	r, err := f.svc.CreateRule(context.Background(), f.therapist, f.therapist.ID, in)
	require.NoError(t, err)
	return r
}

func (f *fixture) slots(t *testing.T, from, to civil.Date, duration int) []Slot {
	t.Helper()
	got, err := f.svc.ComputeSlots(context.Background(), AvailabilityQuery{
		TherapistID:     f.therapist.ID,
		From:            from,
		To:              to,
		DurationMinutes: duration,
	})
	require.NoError(t, err)
	return got
}

func startTimes(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Date.String()+" "+FormatTimeOfDay(s.StartTime))
	}
	return out
}

func morningRule() RuleInput {
	return RuleInput{
		DayOfWeek:     0,
		StartTime:     civil.Time{Hour: 9},
		EndTime:       civil.Time{Hour: 12},
		EffectiveDate: date(2024, 10, 1),
		BufferMinutes: 15,
		IsActive:      true,
	}
}

func TestDayOfWeek(t *testing.T) {
	assert.Equal(t, 0, DayOfWeek(monday))
	assert.Equal(t, 2, DayOfWeek(date(2024, 10, 16)))
	assert.Equal(t, 6, DayOfWeek(date(2024, 10, 27)))
}

func TestComputeSlots_BufferSteps(t *testing.T) {
	f := newFixture(t)
	f.rule(t, morningRule())

	got := f.slots(t, monday, monday, 60)
	require.Len(t, got, 2)
	assert.Equal(t, Slot{Date: monday, StartTime: civil.Time{Hour: 9}, EndTime: civil.Time{Hour: 10}, DurationMinutes: 60}, got[0])
	assert.Equal(t, Slot{Date: monday, StartTime: civil.Time{Hour: 10, Minute: 15}, EndTime: civil.Time{Hour: 11, Minute: 15}, DurationMinutes: 60}, got[1])

	// Tuesday has no rule.
	assert.Empty(t, f.slots(t, monday.AddDays(1), monday.AddDays(1), 60))
}

func TestComputeSlots_AppointmentsAndBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, morningRule())

	f.book(t, at(2024, 10, 21, 9, 0))
	assert.Equal(t, []string{"2024-10-21 10:15"}, startTimes(f.slots(t, monday, monday, 60)))

	_, err := f.svc.CreateBlockedSlot(ctx, f.therapist, f.therapist.ID, BlockedSlotInput{
		Date:      monday,
		StartTime: civil.Time{Hour: 10},
		EndTime:   civil.Time{Hour: 11},
		Reason:    "Supervision",
		IsActive:  true,
	})
	require.NoError(t, err)
	assert.Empty(t, f.slots(t, monday, monday, 60))
}

func TestComputeSlots_CancelledAppointmentFreesSlot(t *testing.T) {
	f := newFixture(t)
	f.rule(t, morningRule())

	a := f.book(t, at(2024, 10, 21, 9, 0))
	_, err := f.svc.Cancel(context.Background(), f.client, a.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-10-21 09:00", "2024-10-21 10:15"}, startTimes(f.slots(t, monday, monday, 60)))
}

func TestComputeSlots_ClampedToWorkHours(t *testing.T) {
	f := newFixture(t)
	f.rule(t, RuleInput{
		DayOfWeek:     0,
		StartTime:     civil.Time{Hour: 6},
		EndTime:       civil.Time{Hour: 22},
		EffectiveDate: date(2024, 10, 1),
		IsActive:      true,
	})

	got := startTimes(f.slots(t, monday, monday, 120))
	assert.Equal(t, []string{
		"2024-10-21 08:00", "2024-10-21 10:00", "2024-10-21 12:00",
		"2024-10-21 14:00", "2024-10-21 16:00", "2024-10-21 18:00",
	}, got)
}

func TestComputeSlots_EffectiveWindow(t *testing.T) {
	f := newFixture(t)
	expiry := date(2024, 10, 27)
	in := morningRule()
	in.ExpiryDate = &expiry
	f.rule(t, in)

	later := morningRule()
	later.EffectiveDate = date(2024, 10, 28)
	later.StartTime = civil.Time{Hour: 14}
	later.EndTime = civil.Time{Hour: 15}
	f.rule(t, later)

	got := startTimes(f.slots(t, monday, date(2024, 11, 4), 60))
	assert.Equal(t, []string{
		"2024-10-21 09:00", "2024-10-21 10:15",
		"2024-10-28 14:00",
		"2024-11-04 14:00",
	}, got)
}

func TestComputeSlots_Deterministic(t *testing.T) {
	f := newFixture(t)
	for dow := 0; dow < 5; dow++ {
		in := morningRule()
		in.DayOfWeek = dow
		f.rule(t, in)
	}
	f.book(t, at(2024, 10, 22, 10, 15))

	first := f.slots(t, monday, date(2024, 11, 15), 45)
	second := f.slots(t, monday, date(2024, 11, 15), 45)
	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestComputeSlots_QueryValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ComputeSlots(ctx, AvailabilityQuery{TherapistID: f.therapist.ID, From: date(2024, 10, 1), To: date(2024, 11, 1)})
	assert.ErrorIs(t, err, ErrRangeTooLarge)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.ComputeSlots(ctx, AvailabilityQuery{TherapistID: f.therapist.ID, From: date(2024, 10, 1), To: date(2024, 10, 31)})
	assert.NoError(t, err, "exactly thirty days is allowed")

	_, err = f.svc.ComputeSlots(ctx, AvailabilityQuery{TherapistID: f.therapist.ID, From: monday, To: monday.AddDays(-1)})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.ComputeSlots(ctx, AvailabilityQuery{From: monday, To: monday})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateRule_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name   string
		mutate func(in *RuleInput)
	}{
		{"day of week", func(in *RuleInput) { in.DayOfWeek = 7 }},
		{"end before start", func(in *RuleInput) { in.EndTime = civil.Time{Hour: 8} }},
		{"equal times", func(in *RuleInput) { in.EndTime = in.StartTime }},
		{"expiry before effective", func(in *RuleInput) { d := date(2024, 9, 1); in.ExpiryDate = &d }},
		{"negative buffer", func(in *RuleInput) { in.BufferMinutes = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := morningRule()
			tt.mutate(&in)
			_, err := f.svc.CreateRule(ctx, f.therapist, f.therapist.ID, in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreateRule_Overlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.rule(t, morningRule())

	_, err := f.svc.CreateRule(ctx, f.therapist, f.therapist.ID, morningRule())
	assert.ErrorIs(t, err, ErrConflict)

	tuesday := morningRule()
	tuesday.DayOfWeek = 1
	_, err = f.svc.CreateRule(ctx, f.therapist, f.therapist.ID, tuesday)
	assert.NoError(t, err)

	inactive := morningRule()
	inactive.IsActive = false
	_, err = f.svc.CreateRule(ctx, f.therapist, f.therapist.ID, inactive)
	assert.NoError(t, err, "inactive rules never overlap")

	require.NoError(t, f.svc.DeactivateRule(ctx, f.therapist, f.therapist.ID, first.ID))
	_, err = f.svc.CreateRule(ctx, f.therapist, f.therapist.ID, morningRule())
	assert.NoError(t, err)

	all, err := f.svc.ListRules(ctx, f.therapist.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	active, err := f.svc.ListRules(ctx, f.therapist.ID, true)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestUpdateRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.rule(t, morningRule())

	in := morningRule()
	in.EndTime = civil.Time{Hour: 11}
	in.BufferMinutes = 0
	updated, err := f.svc.UpdateRule(ctx, f.therapist, f.therapist.ID, r.ID, in)
	require.NoError(t, err)
	assert.Equal(t, civil.Time{Hour: 11}, updated.EndTime)
	assert.Equal(t, []string{"2024-10-21 09:00", "2024-10-21 10:00"}, startTimes(f.slots(t, monday, monday, 60)))

	other := uuid.New()
	_, err = f.svc.UpdateRule(ctx, f.admin, other, r.ID, in)
	assert.ErrorIs(t, err, ErrNotFound, "rule belongs to another therapist")

	_, err = f.svc.UpdateRule(ctx, f.admin, f.therapist.ID, uuid.New(), in)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSchedule_Permissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stranger := Actor{ID: uuid.New(), Role: RoleTherapist}

	_, err := f.svc.CreateRule(ctx, f.client, f.therapist.ID, morningRule())
	assert.ErrorIs(t, err, ErrPermission)
	_, err = f.svc.CreateRule(ctx, stranger, f.therapist.ID, morningRule())
	assert.ErrorIs(t, err, ErrPermission)
	_, err = f.svc.CreateRule(ctx, f.admin, f.therapist.ID, morningRule())
	assert.NoError(t, err)

	_, err = f.svc.CreateBlockedSlot(ctx, stranger, f.therapist.ID, BlockedSlotInput{
		Date: monday, StartTime: civil.Time{Hour: 9}, EndTime: civil.Time{Hour: 10}, IsActive: true,
	})
	assert.ErrorIs(t, err, ErrPermission)
}

func TestBlockedSlot_OverAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, at(2024, 10, 21, 14, 0))

	in := BlockedSlotInput{
		Date:      monday,
		StartTime: civil.Time{Hour: 13, Minute: 30},
		EndTime:   civil.Time{Hour: 14, Minute: 30},
		Reason:    "Training",
		IsActive:  true,
	}
	_, err := f.svc.CreateBlockedSlot(ctx, f.therapist, f.therapist.ID, in)
	assert.ErrorIs(t, err, ErrConflict)

	in.EndTime = civil.Time{Hour: 14}
	b, err := f.svc.CreateBlockedSlot(ctx, f.therapist, f.therapist.ID, in)
	require.NoError(t, err, "touching the appointment start is fine")

	in.EndTime = civil.Time{Hour: 15}
	_, err = f.svc.UpdateBlockedSlot(ctx, f.therapist, f.therapist.ID, b.ID, in)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, f.svc.DeactivateBlockedSlot(ctx, f.therapist, f.therapist.ID, b.ID))
	active, err := f.svc.ListBlockedSlots(ctx, f.therapist.ID, monday, monday, true)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := f.svc.ListBlockedSlots(ctx, f.therapist.ID, monday, monday, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.svc.ListBlockedSlots(ctx, f.therapist.ID, monday, monday.AddDays(-1), true)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBlockedSlot_TextLimitsCountCharacters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := BlockedSlotInput{
		Date:      monday,
		StartTime: civil.Time{Hour: 9},
		EndTime:   civil.Time{Hour: 10},
		Reason:    strings.Repeat("é", maxBlockedReasonLength),
		Notes:     strPtr(strings.Repeat("ü", MaxNotesLength)),
		IsActive:  true,
	}
	_, err := f.svc.CreateBlockedSlot(ctx, f.therapist, f.therapist.ID, in)
	require.NoError(t, err, "multibyte text at the limit is accepted")

	in.Date = monday.AddDays(1)
	in.Reason += "é"
	_, err = f.svc.CreateBlockedSlot(ctx, f.therapist, f.therapist.ID, in)
	assert.ErrorIs(t, err, ErrValidation)

	in.Reason = "Training"
	in.Notes = strPtr(strings.Repeat("ü", MaxNotesLength+1))
	_, err = f.svc.CreateBlockedSlot(ctx, f.therapist, f.therapist.ID, in)
	assert.ErrorIs(t, err, ErrValidation)
}
