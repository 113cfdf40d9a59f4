package appointment

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Transactions for one therapist are
// serialized by a per-therapist mutex and undone on error.
type MemoryStore struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]Appointment
	history      map[uuid.UUID][]HistoryEntry
	recurring    map[uuid.UUID]RecurringAppointment
	rules        map[uuid.UUID]AvailabilityRule
	blocked      map[uuid.UUID]BlockedSlot
	settings     map[string]SystemSetting

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
	global  sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appointments: make(map[uuid.UUID]Appointment),
		history:      make(map[uuid.UUID][]HistoryEntry),
		recurring:    make(map[uuid.UUID]RecurringAppointment),
		rules:        make(map[uuid.UUID]AvailabilityRule),
		blocked:      make(map[uuid.UUID]BlockedSlot),
		settings:     make(map[string]SystemSetting),
		locks:        make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *MemoryStore) therapistLock(id uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *MemoryStore) WithinTherapistTx(ctx context.Context, therapistID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	l := s.therapistLock(therapistID)
	l.Lock()
	defer l.Unlock()
	return s.run(ctx, fn)
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.global.Lock()
	defer s.global.Unlock()
	return s.run(ctx, fn)
}

func (s *MemoryStore) run(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{MemoryStore: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Reader

func (s *MemoryStore) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *MemoryStore) ListAppointments(_ context.Context, f AppointmentFilter) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Appointment
	for _, a := range s.appointments {
		if f.ClientID != nil && a.ClientID != *f.ClientID {
			continue
		}
		if f.TherapistID != nil && a.TherapistID != *f.TherapistID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
			continue
		}
		if f.From != nil && a.ScheduledAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !a.ScheduledAt.Before(*f.To) {
			continue
		}
		result = append(result, a)
	}
	sortAppointments(result)
	if f.Offset > 0 {
		if f.Offset >= len(result) {
			return nil, nil
		}
		result = result[f.Offset:]
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (s *MemoryStore) ListAppointmentsByRecurring(_ context.Context, recurringID uuid.UUID) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Appointment
	for _, a := range s.appointments {
		if a.RecurringID != nil && *a.RecurringID == recurringID {
			result = append(result, a)
		}
	}
	sortAppointments(result)
	return result, nil
}

func (s *MemoryStore) ListActiveOverlapping(_ context.Context, therapistID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Appointment
	for _, a := range s.appointments {
		if a.TherapistID != therapistID || !a.Status.Active() {
			continue
		}
		if overlaps(a.ScheduledAt, a.EndsAt(), from, to) {
			result = append(result, a)
		}
	}
	sortAppointments(result)
	return result, nil
}

func (s *MemoryStore) FindStalePending(_ context.Context, createdBefore time.Time) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Appointment
	for _, a := range s.appointments {
		if a.Status == StatusPending && a.CreatedAt.Before(createdBefore) {
			result = append(result, a)
		}
	}
	sortAppointments(result)
	return result, nil
}

func (s *MemoryStore) ListHistory(_ context.Context, appointmentID uuid.UUID) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history[appointmentID]), nil
}

func (s *MemoryStore) LastHistoryAt(_ context.Context, appointmentID uuid.UUID) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[appointmentID]
	if len(entries) == 0 {
		return time.Time{}, nil
	}
	return entries[len(entries)-1].CreatedAt, nil
}

func (s *MemoryStore) GetRecurring(_ context.Context, id uuid.UUID) (*RecurringAppointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recurring[id]
	if !ok {
		return nil, ErrRecurringNotFound
	}
	return &r, nil
}

func (s *MemoryStore) ListRecurring(_ context.Context, f RecurringFilter) ([]RecurringAppointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []RecurringAppointment
	for _, r := range s.recurring {
		if f.ClientID != nil && r.ClientID != *f.ClientID {
			continue
		}
		if f.TherapistID != nil && r.TherapistID != *f.TherapistID {
			continue
		}
		if f.ActiveOnly && !r.IsActive {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartDate != result[j].StartDate {
			return result[i].StartDate.Before(result[j].StartDate)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (s *MemoryStore) GetRule(_ context.Context, id uuid.UUID) (*AvailabilityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return &r, nil
}

func (s *MemoryStore) ListRules(_ context.Context, therapistID uuid.UUID, activeOnly bool) ([]AvailabilityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []AvailabilityRule
	for _, r := range s.rules {
		if r.TherapistID != therapistID || (activeOnly && !r.IsActive) {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.DayOfWeek != b.DayOfWeek {
			return a.DayOfWeek < b.DayOfWeek
		}
		if a.EffectiveDate != b.EffectiveDate {
			return a.EffectiveDate.Before(b.EffectiveDate)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) GetBlockedSlot(_ context.Context, id uuid.UUID) (*BlockedSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocked[id]
	if !ok {
		return nil, ErrBlockedSlotNotFound
	}
	return &b, nil
}

func (s *MemoryStore) ListBlockedSlots(_ context.Context, therapistID uuid.UUID, from, to civil.Date, activeOnly bool) ([]BlockedSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []BlockedSlot
	for _, b := range s.blocked {
		if b.TherapistID != therapistID || (activeOnly && !b.IsActive) {
			continue
		}
		if b.BlockedDate.Before(from) || b.BlockedDate.After(to) {
			continue
		}
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].BlockedDate != result[j].BlockedDate {
			return result[i].BlockedDate.Before(result[j].BlockedDate)
		}
		return minutesOf(result[i].StartTime) < minutesOf(result[j].StartTime)
	})
	return result, nil
}

func (s *MemoryStore) ListSettings(_ context.Context) ([]SystemSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]SystemSetting, 0, len(s.settings))
	for _, v := range s.settings {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context, f StatsFilter) (map[AppointmentStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[AppointmentStatus]int)
	for _, a := range s.appointments {
		if f.ClientID != nil && a.ClientID != *f.ClientID {
			continue
		}
		if f.TherapistID != nil && a.TherapistID != *f.TherapistID {
			continue
		}
		if a.ScheduledAt.Before(f.From) || !a.ScheduledAt.Before(f.To) {
			continue
		}
		counts[a.Status]++
	}
	return counts, nil
}

func sortAppointments(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if !appts[i].ScheduledAt.Equal(appts[j].ScheduledAt) {
			return appts[i].ScheduledAt.Before(appts[j].ScheduledAt)
		}
		return appts[i].ID.String() < appts[j].ID.String()
	})
}

// memTx applies writes immediately and keeps an undo journal.
type memTx struct {
	*MemoryStore
	undo []func()
}

func (t *memTx) rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// put stores v under key in m and journals the previous state.
func put[K comparable, V any](t *memTx, m map[K]V, key K, v V) {
	prev, existed := m[key]
	m[key] = v
	t.undo = append(t.undo, func() {
		if existed {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
}

func (t *memTx) InsertAppointment(_ context.Context, a *Appointment) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	put(t, t.appointments, a.ID, *a)
	return nil
}

func (t *memTx) UpdateAppointment(_ context.Context, a *Appointment, from AppointmentStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.appointments[a.ID]
	if !ok || cur.Status != from {
		return ErrStaleUpdate
	}
	put(t, t.appointments, a.ID, *a)
	return nil
}

func (t *memTx) InsertHistory(_ context.Context, h *HistoryEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.history[h.AppointmentID]
	next := append(slices.Clone(prev), *h)
	put(t, t.history, h.AppointmentID, next)
	return nil
}

func (t *memTx) InsertRecurring(_ context.Context, r *RecurringAppointment) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	put(t, t.recurring, r.ID, *r)
	return nil
}

func (t *memTx) SetRecurringActive(_ context.Context, id uuid.UUID, active bool, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.recurring[id]
	if !ok {
		return ErrRecurringNotFound
	}
	r.IsActive = active
	r.UpdatedAt = at
	put(t, t.recurring, id, r)
	return nil
}

func (t *memTx) InsertRule(_ context.Context, r *AvailabilityRule) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	put(t, t.rules, r.ID, *r)
	return nil
}

func (t *memTx) UpdateRule(_ context.Context, r *AvailabilityRule) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rules[r.ID]; !ok {
		return ErrRuleNotFound
	}
	put(t, t.rules, r.ID, *r)
	return nil
}

func (t *memTx) InsertBlockedSlot(_ context.Context, b *BlockedSlot) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	put(t, t.blocked, b.ID, *b)
	return nil
}

func (t *memTx) UpdateBlockedSlot(_ context.Context, b *BlockedSlot) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.blocked[b.ID]; !ok {
		return ErrBlockedSlotNotFound
	}
	put(t, t.blocked, b.ID, *b)
	return nil
}

func (t *memTx) UpsertSetting(_ context.Context, s SystemSetting) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	put(t, t.settings, s.Key, s)
	return nil
}
