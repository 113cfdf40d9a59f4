package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// testNow is Wednesday 2024-10-16 10:00 UTC.
var testNow = time.Date(2024, 10, 16, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeTimer struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	cancelled []string
}

func newFakeTimer() *fakeTimer { return &fakeTimer{scheduled: make(map[string]time.Time)} }

func (f *fakeTimer) ScheduleExpiry(_ context.Context, ref string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled[ref] = at
	return nil
}

func (f *fakeTimer) CancelExpiry(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scheduled, ref)
	f.cancelled = append(f.cancelled, ref)
	return nil
}

func (f *fakeTimer) firesAt(ref string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.scheduled[ref]
	return at, ok
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, msg)
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.got))
	for _, m := range n.got {
		out = append(out, m.Type)
	}
	return out
}

type fixture struct {
	svc       *Service
	store     *MemoryStore
	clock     *fakeClock
	timer     *fakeTimer
	notifier  *recordingNotifier
	client    Actor
	therapist Actor
	admin     Actor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:     NewMemoryStore(),
		clock:     newFakeClock(testNow),
		timer:     newFakeTimer(),
		notifier:  &recordingNotifier{},
		client:    Actor{ID: uuid.New(), Role: RoleClient},
		therapist: Actor{ID: uuid.New(), Role: RoleTherapist},
		admin:     Actor{ID: uuid.New(), Role: RoleAdmin},
	}
	base := []Option{
		WithClock(f.clock.Now),
		WithExpiryScheduler(f.timer),
		WithNotifier(f.notifier),
	}
	f.svc = NewService(f.store, nil, StaticSettings(DefaultSettings()), append(base, opts...)...)
	t.Cleanup(f.svc.Drain)
	return f
}

func (f *fixture) book(t *testing.T, at time.Time) *Appointment {
	t.Helper()
	a, err := f.svc.CreateAppointment(context.Background(), f.client, CreateRequest{
		ClientID:    f.client.ID,
		TherapistID: f.therapist.ID,
		ScheduledAt: at,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) bookConfirmed(t *testing.T, at time.Time) *Appointment {
	t.Helper()
	a := f.book(t, at)
	a, err := f.svc.Accept(context.Background(), f.therapist, a.ID)
	require.NoError(t, err)
	return a
}

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func date(year int, month time.Month, day int) civil.Date {
	return civil.Date{Year: year, Month: month, Day: day}
}

func strPtr(s string) *string { return &s }
