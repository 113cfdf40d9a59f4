package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_PermissionBeforeState(t *testing.T) {
	client := Actor{ID: uuid.New(), Role: RoleClient}
	a := &Appointment{ClientID: client.ID, TherapistID: uuid.New(), Status: StatusCompleted}

	_, err := dispatch(EventAccept, client, a)
	assert.ErrorIs(t, err, ErrPermission, "a client may never accept, whatever the status")

	_, err = dispatch(EventCancelByClient, client, a)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = dispatch(Event("teleport"), client, a)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDispatch_Table(t *testing.T) {
	client := Actor{ID: uuid.New(), Role: RoleClient}
	therapist := Actor{ID: uuid.New(), Role: RoleTherapist}
	admin := Actor{ID: uuid.New(), Role: RoleAdmin}

	tests := []struct {
		ev     Event
		actor  Actor
		from   AppointmentStatus
		to     AppointmentStatus
		action HistoryAction
	}{
		{EventAccept, therapist, StatusPending, StatusConfirmed, ActionAccept},
		{EventReject, therapist, StatusPending, StatusRejected, ActionReject},
		{EventRequestModification, client, StatusConfirmed, StatusPendingModification, ActionModifyRequest},
		{EventAcceptModification, therapist, StatusPendingModification, StatusConfirmed, ActionAcceptModification},
		{EventRejectModification, therapist, StatusPendingModification, StatusModificationRejected, ActionRejectModification},
		{EventCancelByClient, client, StatusModificationRejected, StatusCancelledByClient, ActionCancel},
		{EventCancelByTherapist, therapist, StatusPendingModification, StatusCancelledByTherapist, ActionCancel},
		{EventForceCancel, admin, StatusConfirmed, StatusCancelledByAdmin, ActionCancel},
		{EventExpire, SystemActor, StatusPending, StatusAutoCancelled, ActionAutoCancel},
		{EventComplete, admin, StatusConfirmed, StatusCompleted, ActionComplete},
		{EventNoShow, therapist, StatusConfirmed, StatusNoShow, ActionNoShow},
	}
	for _, tt := range tests {
		t.Run(string(tt.ev), func(t *testing.T) {
			a := &Appointment{ClientID: client.ID, TherapistID: therapist.ID, Status: tt.from}
			rule, err := dispatch(tt.ev, tt.actor, a)
			require.NoError(t, err)
			assert.Equal(t, tt.to, rule.to)
			assert.Equal(t, tt.action, rule.action)
		})
	}
}

func TestCancelEventFor(t *testing.T) {
	for role, want := range map[Role]Event{
		RoleClient:    EventCancelByClient,
		RoleTherapist: EventCancelByTherapist,
		RoleAdmin:     EventForceCancel,
	} {
		ev, err := CancelEventFor(role)
		require.NoError(t, err)
		assert.Equal(t, want, ev)
	}
	_, err := CancelEventFor(RoleSystem)
	assert.ErrorIs(t, err, ErrPermission)
}

func TestAccept_ClearsTimer(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, at(2024, 10, 18, 14, 0))
	ref := *a.AutoCancelTaskRef

	got, err := f.svc.Accept(context.Background(), f.therapist, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Nil(t, got.AutoCancelTaskRef)

	_, scheduled := f.timer.firesAt(ref)
	assert.False(t, scheduled)
	assert.Contains(t, f.timer.cancelled, ref)

	stored, err := f.store.GetAppointment(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.AutoCancelTaskRef)
}

func TestAccept_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, at(2024, 10, 18, 14, 0))

	_, err := f.svc.Accept(ctx, f.client, a.ID)
	assert.ErrorIs(t, err, ErrPermission)

	_, err = f.svc.Accept(ctx, Actor{ID: uuid.New(), Role: RoleTherapist}, a.ID)
	assert.ErrorIs(t, err, ErrNotFound, "other therapists cannot see the appointment")

	_, err = f.svc.Accept(ctx, f.admin, a.ID)
	assert.ErrorIs(t, err, ErrPermission)

	_, err = f.svc.Accept(ctx, f.therapist, a.ID)
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, f.therapist, a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestModificationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.bookConfirmed(t, at(2024, 10, 18, 14, 0))

	f.clock.Advance(time.Minute)
	newTime := at(2024, 10, 18, 16, 0)
	got, err := f.svc.RequestModification(ctx, f.client, a.ID, newTime, strPtr("dentist"))
	require.NoError(t, err)
	assert.Equal(t, StatusPendingModification, got.Status)
	require.NotNil(t, got.ModificationRequestedAt)
	assert.Equal(t, newTime, *got.ModificationRequestedAt)
	assert.Equal(t, at(2024, 10, 18, 14, 0), got.ScheduledAt, "the original time holds until accepted")

	got, err = f.svc.AcceptModification(ctx, f.therapist, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, newTime, got.ScheduledAt)
	assert.Nil(t, got.ModificationRequestedAt)
	assert.Nil(t, got.ModificationReason)

	entries, err := f.svc.History(ctx, f.client, a.ID)
	require.NoError(t, err)
	actions := make([]HistoryAction, 0, len(entries))
	for i, e := range entries {
		actions = append(actions, e.Action)
		if i > 0 {
			assert.True(t, e.CreatedAt.After(entries[i-1].CreatedAt), "history must be strictly increasing")
		}
	}
	assert.Equal(t, []HistoryAction{ActionCreate, ActionAccept, ActionModifyRequest, ActionAcceptModification}, actions)

	last := entries[len(entries)-1]
	require.NotNil(t, last.OldScheduledAt)
	require.NotNil(t, last.NewScheduledAt)
	assert.Equal(t, at(2024, 10, 18, 14, 0), *last.OldScheduledAt)
	assert.Equal(t, newTime, *last.NewScheduledAt)
}

func TestRequestModification_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.bookConfirmed(t, at(2024, 10, 18, 14, 0))

	_, err := f.svc.RequestModification(ctx, f.client, a.ID, at(2024, 10, 18, 21, 0), nil)
	assert.ErrorIs(t, err, ErrValidation, "outside work hours")

	_, err = f.svc.RequestModification(ctx, f.client, a.ID, at(2024, 10, 17, 9, 0), nil)
	assert.ErrorIs(t, err, ErrValidation, "violates the minimum advance")

	blocker := Actor{ID: uuid.New(), Role: RoleClient}
	_, err = f.svc.CreateAppointment(ctx, blocker, CreateRequest{
		ClientID:    blocker.ID,
		TherapistID: f.therapist.ID,
		ScheduledAt: at(2024, 10, 18, 16, 0),
	})
	require.NoError(t, err)
	_, err = f.svc.RequestModification(ctx, f.client, a.ID, at(2024, 10, 18, 16, 30), nil)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.RequestModification(ctx, f.client, a.ID, at(2024, 10, 18, 14, 30), nil)
	assert.NoError(t, err, "overlapping its own current slot is fine")

	_, err = f.svc.RequestModification(ctx, f.therapist, a.ID, at(2024, 10, 18, 18, 0), nil)
	assert.ErrorIs(t, err, ErrPermission)
}

func TestRequestModification_Deadline(t *testing.T) {
	f := newFixture(t)
	a := f.bookConfirmed(t, at(2024, 10, 18, 14, 0))

	// 12h deadline: at 02:00 on the day the window has closed.
	f.clock.Advance(40 * time.Hour)
	_, err := f.svc.RequestModification(context.Background(), f.client, a.ID, at(2024, 10, 20, 14, 0), nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAcceptModification_RechecksConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.bookConfirmed(t, at(2024, 10, 18, 14, 0))

	_, err := f.svc.RequestModification(ctx, f.client, a.ID, at(2024, 10, 18, 16, 0), nil)
	require.NoError(t, err)

	// The admin books the requested slot for someone else in the meantime.
	other := uuid.New()
	_, err = f.svc.CreateAppointment(ctx, f.admin, CreateRequest{
		ClientID:    other,
		TherapistID: f.therapist.ID,
		ScheduledAt: at(2024, 10, 18, 16, 30),
	})
	require.NoError(t, err)

	_, err = f.svc.AcceptModification(ctx, f.therapist, a.ID)
	assert.ErrorIs(t, err, ErrConflict)

	stored, err := f.store.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingModification, stored.Status, "a failed transition leaves no trace")
}

func TestRejectModificationThenCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.bookConfirmed(t, at(2024, 10, 18, 14, 0))

	_, err := f.svc.RequestModification(ctx, f.client, a.ID, at(2024, 10, 18, 16, 0), nil)
	require.NoError(t, err)

	got, err := f.svc.RejectModification(ctx, f.therapist, a.ID, strPtr("not possible"))
	require.NoError(t, err)
	assert.Equal(t, StatusModificationRejected, got.Status)
	assert.Equal(t, at(2024, 10, 18, 14, 0), got.ScheduledAt)
	assert.Nil(t, got.ModificationRequestedAt)

	got, err = f.svc.Cancel(ctx, f.client, a.ID, strPtr("never mind"))
	require.NoError(t, err)
	assert.Equal(t, StatusCancelledByClient, got.Status)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, "never mind", *got.CancellationReason)
}

func TestCancel_ByRole(t *testing.T) {
	tests := []struct {
		name string
		who  func(f *fixture) Actor
		want AppointmentStatus
	}{
		{"client", func(f *fixture) Actor { return f.client }, StatusCancelledByClient},
		{"therapist", func(f *fixture) Actor { return f.therapist }, StatusCancelledByTherapist},
		{"admin", func(f *fixture) Actor { return f.admin }, StatusCancelledByAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a := f.book(t, at(2024, 10, 18, 14, 0))
			got, err := f.svc.Cancel(context.Background(), tt.who(f), a.ID, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Contains(t, f.timer.cancelled, ExpiryTaskRef(a.ID))
		})
	}
}

func TestCancel_TerminalStatusesRefuse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, at(2024, 10, 18, 14, 0))

	_, err := f.svc.Reject(ctx, f.therapist, a.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.client, a.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompleteAndNoShow_RequireStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.bookConfirmed(t, at(2024, 10, 18, 14, 0))
	b := f.bookConfirmed(t, at(2024, 10, 18, 16, 0))

	_, err := f.svc.Complete(ctx, f.therapist, a.ID)
	assert.ErrorIs(t, err, ErrValidation)

	f.clock.Advance(2*24*time.Hour + 7*time.Hour)

	_, err = f.svc.Complete(ctx, f.client, a.ID)
	assert.ErrorIs(t, err, ErrPermission)

	got, err := f.svc.Complete(ctx, f.therapist, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	got, err = f.svc.NoShow(ctx, f.admin, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, got.Status)
}

func TestExpire_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, at(2024, 10, 18, 14, 0))

	applied, err := f.svc.Expire(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = f.svc.Expire(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	stored, err := f.store.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAutoCancelled, stored.Status)

	entries, err := f.store.ListHistory(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionAutoCancel, entries[1].Action)
	assert.Equal(t, uuid.Nil, entries[1].ChangedBy)
	assert.JSONEq(t, `{"timeout_hours":12}`, string(entries[1].Extra))
}

func TestExpire_IgnoresConfirmed(t *testing.T) {
	f := newFixture(t)
	a := f.bookConfirmed(t, at(2024, 10, 18, 14, 0))

	applied, err := f.svc.Expire(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	stored, err := f.store.GetAppointment(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)
}

func TestExpire_UnknownAppointment(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Expire(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
