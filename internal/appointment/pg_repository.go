package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// pgxQuerier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgxPool interface {
	pgxQuerier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// PgStore is the Postgres implementation of Store. Therapist scoped
// transactions run READ COMMITTED behind a transaction level advisory lock,
// so every statement after the lock sees what the previous holder committed.
// Other transactions run SERIALIZABLE.
type PgStore struct {
	pgQueries
	pool pgxPool
}

func NewPgStore(pool pgxPool) *PgStore {
	return &PgStore{pgQueries: pgQueries{q: pool}, pool: pool}
}

func (s *PgStore) WithinTherapistTx(ctx context.Context, therapistID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	return s.withTx(ctx, pgx.ReadCommitted, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, therapistID.String()); err != nil {
			return fmt.Errorf("lock therapist schedule: %w", err)
		}
		return fn(ctx, pgQueries{q: tx})
	})
}

func (s *PgStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.withTx(ctx, pgx.Serializable, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, pgQueries{q: tx})
	})
}

func (s *PgStore) withTx(ctx context.Context, iso pgx.TxIsoLevel, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return mapTxError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapTxError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// mapTxError turns serialization failures and deadlocks into the conflict kind
// so the loser of a race is told to retry.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return ErrTherapistBusy
	}
	return err
}

type pgQueries struct {
	q pgxQuerier
}

// Helpers

const appointmentColumns = `id, client_id, therapist_id, scheduled_at, time_zone, duration_minutes, status,
	notes, cancellation_reason, modification_requested_at, modification_reason,
	recurring_id, auto_cancel_task_ref, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.ClientID,
		&a.TherapistID,
		&a.ScheduledAt,
		&a.TimeZone,
		&a.DurationMinutes,
		&a.Status,
		&a.Notes,
		&a.CancellationReason,
		&a.ModificationRequestedAt,
		&a.ModificationReason,
		&a.RecurringID,
		&a.AutoCancelTaskRef,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const recurringColumns = `id, client_id, therapist_id, start_date, end_date, time_of_day, duration_minutes,
	pattern, notes, is_active, created_at, updated_at`

func scanRecurring(row pgx.Row) (*RecurringAppointment, error) {
	var r RecurringAppointment
	var start, end pgtype.Date
	var tod pgtype.Time
	err := row.Scan(
		&r.ID,
		&r.ClientID,
		&r.TherapistID,
		&start,
		&end,
		&tod,
		&r.DurationMinutes,
		&r.Pattern,
		&r.Notes,
		&r.IsActive,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecurringNotFound
		}
		return nil, err
	}
	r.StartDate = fromPGDate(start)
	r.EndDate = fromPGDate(end)
	r.TimeOfDay = fromPGTime(tod)
	return &r, nil
}

const ruleColumns = `id, therapist_id, day_of_week, start_time, end_time, effective_date, expiry_date,
	is_active, buffer_minutes, created_at, updated_at`

func scanRule(row pgx.Row) (*AvailabilityRule, error) {
	var r AvailabilityRule
	var start, end pgtype.Time
	var effective, expiry pgtype.Date
	err := row.Scan(
		&r.ID,
		&r.TherapistID,
		&r.DayOfWeek,
		&start,
		&end,
		&effective,
		&expiry,
		&r.IsActive,
		&r.BufferMinutes,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	r.StartTime = fromPGTime(start)
	r.EndTime = fromPGTime(end)
	r.EffectiveDate = fromPGDate(effective)
	if expiry.Valid {
		d := fromPGDate(expiry)
		r.ExpiryDate = &d
	}
	return &r, nil
}

const blockedColumns = `id, therapist_id, blocked_date, start_time, end_time, reason, notes, is_active,
	created_at, updated_at`

func scanBlockedSlot(row pgx.Row) (*BlockedSlot, error) {
	var b BlockedSlot
	var day pgtype.Date
	var start, end pgtype.Time
	err := row.Scan(
		&b.ID,
		&b.TherapistID,
		&day,
		&start,
		&end,
		&b.Reason,
		&b.Notes,
		&b.IsActive,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlockedSlotNotFound
		}
		return nil, err
	}
	b.BlockedDate = fromPGDate(day)
	b.StartTime = fromPGTime(start)
	b.EndTime = fromPGTime(end)
	return &b, nil
}

// Appointments

func (r pgQueries) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r pgQueries) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ClientID != nil {
		where = append(where, "client_id = "+arg(*f.ClientID))
	}
	if f.TherapistID != nil {
		where = append(where, "therapist_id = "+arg(*f.TherapistID))
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(statusStrings(f.Statuses))+")")
	}
	if f.From != nil {
		where = append(where, "scheduled_at >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "scheduled_at < "+arg(*f.To))
	}

	sql := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY scheduled_at, id`
	if f.Limit > 0 {
		sql += ` LIMIT ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		sql += ` OFFSET ` + arg(f.Offset)
	}

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r pgQueries) ListAppointmentsByRecurring(ctx context.Context, recurringID uuid.UUID) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE recurring_id = $1
		ORDER BY scheduled_at, id
	`, recurringID)
	if err != nil {
		return nil, fmt.Errorf("list recurring children: %w", err)
	}
	return collectAppointments(rows)
}

func (r pgQueries) ListActiveOverlapping(ctx context.Context, therapistID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE therapist_id = $1
		  AND status = ANY($2)
		  AND scheduled_at < $3
		  AND scheduled_at + make_interval(mins => duration_minutes) > $4
		ORDER BY scheduled_at, id
	`, therapistID, statusStrings(ActiveStatuses), to, from)
	if err != nil {
		return nil, fmt.Errorf("list overlapping appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r pgQueries) FindStalePending(ctx context.Context, createdBefore time.Time) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'PENDING'
		  AND created_at < $1
		ORDER BY created_at
	`, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("find stale pending: %w", err)
	}
	return collectAppointments(rows)
}

func (r pgQueries) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, a.ID, a.ClientID, a.TherapistID, a.ScheduledAt, a.TimeZone, a.DurationMinutes, a.Status,
		a.Notes, a.CancellationReason, a.ModificationRequestedAt, a.ModificationReason,
		a.RecurringID, a.AutoCancelTaskRef, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r pgQueries) UpdateAppointment(ctx context.Context, a *Appointment, from AppointmentStatus) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE appointments
		SET scheduled_at = $2,
		    duration_minutes = $3,
		    status = $4,
		    cancellation_reason = $5,
		    modification_requested_at = $6,
		    modification_reason = $7,
		    auto_cancel_task_ref = $8,
		    updated_at = $9
		WHERE id = $1
		  AND status = $10
	`, a.ID, a.ScheduledAt, a.DurationMinutes, a.Status, a.CancellationReason,
		a.ModificationRequestedAt, a.ModificationReason, a.AutoCancelTaskRef, a.UpdatedAt, from)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleUpdate
	}
	return nil
}

// History

func (r pgQueries) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, appointment_id, action, old_status, new_status, old_scheduled_at, new_scheduled_at,
		       changed_by, reason, extra, created_at
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY created_at, id
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var result []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(
			&h.ID,
			&h.AppointmentID,
			&h.Action,
			&h.OldStatus,
			&h.NewStatus,
			&h.OldScheduledAt,
			&h.NewScheduledAt,
			&h.ChangedBy,
			&h.Reason,
			&h.Extra,
			&h.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

func (r pgQueries) LastHistoryAt(ctx context.Context, appointmentID uuid.UUID) (time.Time, error) {
	var last *time.Time
	err := r.q.QueryRow(ctx, `
		SELECT max(created_at) FROM appointment_history WHERE appointment_id = $1
	`, appointmentID).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("last history entry: %w", err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

func (r pgQueries) InsertHistory(ctx context.Context, h *HistoryEntry) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO appointment_history (id, appointment_id, action, old_status, new_status,
			old_scheduled_at, new_scheduled_at, changed_by, reason, extra, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, h.ID, h.AppointmentID, h.Action, h.OldStatus, h.NewStatus, h.OldScheduledAt, h.NewScheduledAt,
		h.ChangedBy, h.Reason, nullableJSON(h.Extra), h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// Recurring appointments

func (r pgQueries) GetRecurring(ctx context.Context, id uuid.UUID) (*RecurringAppointment, error) {
	row := r.q.QueryRow(ctx, `SELECT `+recurringColumns+` FROM recurring_appointments WHERE id = $1`, id)
	return scanRecurring(row)
}

func (r pgQueries) ListRecurring(ctx context.Context, f RecurringFilter) ([]RecurringAppointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+recurringColumns+`
		FROM recurring_appointments
		WHERE ($1::uuid IS NULL OR client_id = $1)
		  AND ($2::uuid IS NULL OR therapist_id = $2)
		  AND (NOT $3 OR is_active)
		ORDER BY start_date, id
	`, f.ClientID, f.TherapistID, f.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("list recurring appointments: %w", err)
	}
	defer rows.Close()

	var result []RecurringAppointment
	for rows.Next() {
		ra, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ra)
	}
	return result, rows.Err()
}

func (r pgQueries) InsertRecurring(ctx context.Context, ra *RecurringAppointment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO recurring_appointments (`+recurringColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, ra.ID, ra.ClientID, ra.TherapistID, toPGDate(ra.StartDate), toPGDate(ra.EndDate),
		toPGTime(ra.TimeOfDay), ra.DurationMinutes, ra.Pattern, ra.Notes, ra.IsActive, ra.CreatedAt, ra.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert recurring appointment: %w", err)
	}
	return nil
}

func (r pgQueries) SetRecurringActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE recurring_appointments SET is_active = $2, updated_at = $3 WHERE id = $1
	`, id, active, at)
	if err != nil {
		return fmt.Errorf("update recurring appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecurringNotFound
	}
	return nil
}

// Availability rules

func (r pgQueries) GetRule(ctx context.Context, id uuid.UUID) (*AvailabilityRule, error) {
	row := r.q.QueryRow(ctx, `SELECT `+ruleColumns+` FROM availability_rules WHERE id = $1`, id)
	return scanRule(row)
}

func (r pgQueries) ListRules(ctx context.Context, therapistID uuid.UUID, activeOnly bool) ([]AvailabilityRule, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM availability_rules
		WHERE therapist_id = $1
		  AND (NOT $2 OR is_active)
		ORDER BY day_of_week, effective_date, created_at
	`, therapistID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list availability rules: %w", err)
	}
	defer rows.Close()

	var result []AvailabilityRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	return result, rows.Err()
}

func (r pgQueries) InsertRule(ctx context.Context, rule *AvailabilityRule) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO availability_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rule.ID, rule.TherapistID, rule.DayOfWeek, toPGTime(rule.StartTime), toPGTime(rule.EndTime),
		toPGDate(rule.EffectiveDate), toPGNullableDate(rule.ExpiryDate), rule.IsActive, rule.BufferMinutes,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert availability rule: %w", err)
	}
	return nil
}

func (r pgQueries) UpdateRule(ctx context.Context, rule *AvailabilityRule) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE availability_rules
		SET day_of_week = $2, start_time = $3, end_time = $4, effective_date = $5, expiry_date = $6,
		    is_active = $7, buffer_minutes = $8, updated_at = $9
		WHERE id = $1
	`, rule.ID, rule.DayOfWeek, toPGTime(rule.StartTime), toPGTime(rule.EndTime), toPGDate(rule.EffectiveDate),
		toPGNullableDate(rule.ExpiryDate), rule.IsActive, rule.BufferMinutes, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update availability rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// Blocked slots

func (r pgQueries) GetBlockedSlot(ctx context.Context, id uuid.UUID) (*BlockedSlot, error) {
	row := r.q.QueryRow(ctx, `SELECT `+blockedColumns+` FROM blocked_slots WHERE id = $1`, id)
	return scanBlockedSlot(row)
}

func (r pgQueries) ListBlockedSlots(ctx context.Context, therapistID uuid.UUID, from, to civil.Date, activeOnly bool) ([]BlockedSlot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+blockedColumns+`
		FROM blocked_slots
		WHERE therapist_id = $1
		  AND blocked_date BETWEEN $2 AND $3
		  AND (NOT $4 OR is_active)
		ORDER BY blocked_date, start_time, id
	`, therapistID, toPGDate(from), toPGDate(to), activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list blocked slots: %w", err)
	}
	defer rows.Close()

	var result []BlockedSlot
	for rows.Next() {
		b, err := scanBlockedSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func (r pgQueries) InsertBlockedSlot(ctx context.Context, b *BlockedSlot) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO blocked_slots (`+blockedColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, b.ID, b.TherapistID, toPGDate(b.BlockedDate), toPGTime(b.StartTime), toPGTime(b.EndTime),
		b.Reason, b.Notes, b.IsActive, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert blocked slot: %w", err)
	}
	return nil
}

func (r pgQueries) UpdateBlockedSlot(ctx context.Context, b *BlockedSlot) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE blocked_slots
		SET blocked_date = $2, start_time = $3, end_time = $4, reason = $5, notes = $6,
		    is_active = $7, updated_at = $8
		WHERE id = $1
	`, b.ID, toPGDate(b.BlockedDate), toPGTime(b.StartTime), toPGTime(b.EndTime), b.Reason, b.Notes,
		b.IsActive, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update blocked slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBlockedSlotNotFound
	}
	return nil
}

// Settings and statistics

func (r pgQueries) ListSettings(ctx context.Context) ([]SystemSetting, error) {
	rows, err := r.q.Query(ctx, `
		SELECT key, value, description, is_active, updated_at
		FROM system_settings
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var result []SystemSetting
	for rows.Next() {
		var s SystemSetting
		if err := rows.Scan(&s.Key, &s.Value, &s.Description, &s.IsActive, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r pgQueries) UpsertSetting(ctx context.Context, s SystemSetting) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO system_settings (key, value, description, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    description = EXCLUDED.description,
		    is_active = EXCLUDED.is_active,
		    updated_at = EXCLUDED.updated_at
	`, s.Key, s.Value, s.Description, s.IsActive, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", s.Key, err)
	}
	return nil
}

func (r pgQueries) CountByStatus(ctx context.Context, f StatsFilter) (map[AppointmentStatus]int, error) {
	rows, err := r.q.Query(ctx, `
		SELECT status, count(*)
		FROM appointments
		WHERE scheduled_at >= $1
		  AND scheduled_at < $2
		  AND ($3::uuid IS NULL OR client_id = $3)
		  AND ($4::uuid IS NULL OR therapist_id = $4)
		GROUP BY status
	`, f.From, f.To, f.ClientID, f.TherapistID)
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}
	defer rows.Close()

	counts := make(map[AppointmentStatus]int)
	for rows.Next() {
		var status AppointmentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func statusStrings(statuses []AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullableJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func toPGDate(d civil.Date) pgtype.Date {
	return pgtype.Date{Time: d.In(time.UTC), Valid: true}
}

func toPGNullableDate(d *civil.Date) pgtype.Date {
	if d == nil {
		return pgtype.Date{}
	}
	return toPGDate(*d)
}

func fromPGDate(d pgtype.Date) civil.Date {
	if !d.Valid {
		return civil.Date{}
	}
	return civil.DateOf(d.Time)
}

func toPGTime(t civil.Time) pgtype.Time {
	us := int64(t.Hour)*3600_000_000 + int64(t.Minute)*60_000_000 + int64(t.Second)*1_000_000 + int64(t.Nanosecond)/1000
	return pgtype.Time{Microseconds: us, Valid: true}
}

func fromPGTime(t pgtype.Time) civil.Time {
	us := t.Microseconds
	return civil.Time{
		Hour:       int(us / 3600_000_000),
		Minute:     int(us / 60_000_000 % 60),
		Second:     int(us / 1_000_000 % 60),
		Nanosecond: int(us%1_000_000) * 1000,
	}
}
