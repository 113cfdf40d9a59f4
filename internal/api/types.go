package api

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/therapy-scheduling/internal/appointment"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type CreateAppointmentRequest struct {
	ClientID        string    `json:"client_id"`
	TherapistID     string    `json:"therapist_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Notes           *string   `json:"notes"`
	TimeZone        string    `json:"time_zone"`
}

type ReasonRequest struct {
	Reason *string `json:"reason"`
}

type ModificationRequest struct {
	NewScheduledAt time.Time `json:"new_scheduled_at"`
	Reason         *string   `json:"reason"`
}

type AppointmentResponse struct {
	ID                      uuid.UUID  `json:"id"`
	ClientID                uuid.UUID  `json:"client_id"`
	TherapistID             uuid.UUID  `json:"therapist_id"`
	ScheduledAt             time.Time  `json:"scheduled_at"`
	EndsAt                  time.Time  `json:"ends_at"`
	TimeZone                string     `json:"time_zone"`
	DurationMinutes         int        `json:"duration_minutes"`
	Status                  string     `json:"status"`
	Notes                   *string    `json:"notes,omitempty"`
	CancellationReason      *string    `json:"cancellation_reason,omitempty"`
	ModificationRequestedAt *time.Time `json:"modification_requested_at,omitempty"`
	ModificationReason      *string    `json:"modification_reason,omitempty"`
	RecurringID             *uuid.UUID `json:"recurring_id,omitempty"`
	AutoCancelTaskRef       *string    `json:"auto_cancel_task_ref,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// toAppointmentResponse renders times in the zone the appointment was booked in.
func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	loc, err := time.LoadLocation(a.TimeZone)
	if err != nil {
		loc = time.UTC
	}
	var modAt *time.Time
	if a.ModificationRequestedAt != nil {
		t := a.ModificationRequestedAt.In(loc)
		modAt = &t
	}
	return AppointmentResponse{
		ID:                      a.ID,
		ClientID:                a.ClientID,
		TherapistID:             a.TherapistID,
		ScheduledAt:             a.ScheduledAt.In(loc),
		EndsAt:                  a.EndsAt().In(loc),
		TimeZone:                a.TimeZone,
		DurationMinutes:         a.DurationMinutes,
		Status:                  string(a.Status),
		Notes:                   a.Notes,
		CancellationReason:      a.CancellationReason,
		ModificationRequestedAt: modAt,
		ModificationReason:      a.ModificationReason,
		RecurringID:             a.RecurringID,
		AutoCancelTaskRef:       a.AutoCancelTaskRef,
		CreatedAt:               a.CreatedAt,
		UpdatedAt:               a.UpdatedAt,
	}
}

func toAppointmentResponses(appts []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toAppointmentResponse(&appts[i]))
	}
	return out
}

type HistoryEntryResponse struct {
	ID             uuid.UUID       `json:"id"`
	AppointmentID  uuid.UUID       `json:"appointment_id"`
	Action         string          `json:"action"`
	OldStatus      *string         `json:"old_status,omitempty"`
	NewStatus      string          `json:"new_status"`
	OldScheduledAt *time.Time      `json:"old_scheduled_at,omitempty"`
	NewScheduledAt *time.Time      `json:"new_scheduled_at,omitempty"`
	ChangedBy      uuid.UUID       `json:"changed_by"`
	Reason         *string         `json:"reason,omitempty"`
	Extra          json.RawMessage `json:"extra,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func toHistoryResponses(entries []appointment.HistoryEntry) []HistoryEntryResponse {
	out := make([]HistoryEntryResponse, 0, len(entries))
	for _, h := range entries {
		var old *string
		if h.OldStatus != nil {
			s := string(*h.OldStatus)
			old = &s
		}
		out = append(out, HistoryEntryResponse{
			ID:             h.ID,
			AppointmentID:  h.AppointmentID,
			Action:         string(h.Action),
			OldStatus:      old,
			NewStatus:      string(h.NewStatus),
			OldScheduledAt: h.OldScheduledAt,
			NewScheduledAt: h.NewScheduledAt,
			ChangedBy:      h.ChangedBy,
			Reason:         h.Reason,
			Extra:          h.Extra,
			CreatedAt:      h.CreatedAt,
		})
	}
	return out
}

type SlotResponse struct {
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type AvailabilityResponse struct {
	TherapistID uuid.UUID      `json:"therapist_id"`
	DateFrom    string         `json:"date_from"`
	DateTo      string         `json:"date_to"`
	Slots       []SlotResponse `json:"slots"`
}

type RuleRequest struct {
	DayOfWeek     int     `json:"day_of_week"`
	StartTime     string  `json:"start_time"`
	EndTime       string  `json:"end_time"`
	EffectiveDate string  `json:"effective_date"`
	ExpiryDate    *string `json:"expiry_date"`
	BufferMinutes int     `json:"buffer_minutes"`
	IsActive      *bool   `json:"is_active"`
}

func (req RuleRequest) toInput() (appointment.RuleInput, error) {
	start, err := appointment.ParseTimeOfDay(req.StartTime)
	if err != nil {
		return appointment.RuleInput{}, fmt.Errorf("start_time: %w", err)
	}
	end, err := appointment.ParseTimeOfDay(req.EndTime)
	if err != nil {
		return appointment.RuleInput{}, fmt.Errorf("end_time: %w", err)
	}
	effective, err := civil.ParseDate(req.EffectiveDate)
	if err != nil {
		return appointment.RuleInput{}, fmt.Errorf("effective_date must be YYYY-MM-DD")
	}
	var expiry *civil.Date
	if req.ExpiryDate != nil && *req.ExpiryDate != "" {
		d, err := civil.ParseDate(*req.ExpiryDate)
		if err != nil {
			return appointment.RuleInput{}, fmt.Errorf("expiry_date must be YYYY-MM-DD")
		}
		expiry = &d
	}
	return appointment.RuleInput{
		DayOfWeek:     req.DayOfWeek,
		StartTime:     start,
		EndTime:       end,
		EffectiveDate: effective,
		ExpiryDate:    expiry,
		BufferMinutes: req.BufferMinutes,
		IsActive:      req.IsActive == nil || *req.IsActive,
	}, nil
}

type RuleResponse struct {
	ID            uuid.UUID `json:"id"`
	TherapistID   uuid.UUID `json:"therapist_id"`
	DayOfWeek     int       `json:"day_of_week"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	EffectiveDate string    `json:"effective_date"`
	ExpiryDate    *string   `json:"expiry_date,omitempty"`
	IsActive      bool      `json:"is_active"`
	BufferMinutes int       `json:"buffer_minutes"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toRuleResponse(r *appointment.AvailabilityRule) RuleResponse {
	var expiry *string
	if r.ExpiryDate != nil {
		s := r.ExpiryDate.String()
		expiry = &s
	}
	return RuleResponse{
		ID:            r.ID,
		TherapistID:   r.TherapistID,
		DayOfWeek:     r.DayOfWeek,
		StartTime:     appointment.FormatTimeOfDay(r.StartTime),
		EndTime:       appointment.FormatTimeOfDay(r.EndTime),
		EffectiveDate: r.EffectiveDate.String(),
		ExpiryDate:    expiry,
		IsActive:      r.IsActive,
		BufferMinutes: r.BufferMinutes,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type BlockedSlotRequest struct {
	BlockedDate string  `json:"blocked_date"`
	StartTime   string  `json:"start_time"`
	EndTime     string  `json:"end_time"`
	Reason      string  `json:"reason"`
	Notes       *string `json:"notes"`
	IsActive    *bool   `json:"is_active"`
}

func (req BlockedSlotRequest) toInput() (appointment.BlockedSlotInput, error) {
	date, err := civil.ParseDate(req.BlockedDate)
	if err != nil {
		return appointment.BlockedSlotInput{}, fmt.Errorf("blocked_date must be YYYY-MM-DD")
	}
	start, err := appointment.ParseTimeOfDay(req.StartTime)
	if err != nil {
		return appointment.BlockedSlotInput{}, fmt.Errorf("start_time: %w", err)
	}
	end, err := appointment.ParseTimeOfDay(req.EndTime)
	if err != nil {
		return appointment.BlockedSlotInput{}, fmt.Errorf("end_time: %w", err)
	}
	return appointment.BlockedSlotInput{
		Date:      date,
		StartTime: start,
		EndTime:   end,
		Reason:    req.Reason,
		Notes:     req.Notes,
		IsActive:  req.IsActive == nil || *req.IsActive,
	}, nil
}

type BlockedSlotResponse struct {
	ID          uuid.UUID `json:"id"`
	TherapistID uuid.UUID `json:"therapist_id"`
	BlockedDate string    `json:"blocked_date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	Reason      string    `json:"reason"`
	Notes       *string   `json:"notes,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toBlockedSlotResponse(b *appointment.BlockedSlot) BlockedSlotResponse {
	return BlockedSlotResponse{
		ID:          b.ID,
		TherapistID: b.TherapistID,
		BlockedDate: b.BlockedDate.String(),
		StartTime:   appointment.FormatTimeOfDay(b.StartTime),
		EndTime:     appointment.FormatTimeOfDay(b.EndTime),
		Reason:      b.Reason,
		Notes:       b.Notes,
		IsActive:    b.IsActive,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

type RecurringRequest struct {
	ClientID        string  `json:"client_id"`
	TherapistID     string  `json:"therapist_id"`
	StartDate       string  `json:"start_date"`
	EndDate         string  `json:"end_date"`
	TimeOfDay       string  `json:"time_of_day"`
	DurationMinutes int     `json:"duration_minutes"`
	Pattern         string  `json:"pattern"`
	Notes           *string `json:"notes"`
}

type RecurringResponse struct {
	ID              uuid.UUID             `json:"id"`
	ClientID        uuid.UUID             `json:"client_id"`
	TherapistID     uuid.UUID             `json:"therapist_id"`
	StartDate       string                `json:"start_date"`
	EndDate         string                `json:"end_date"`
	TimeOfDay       string                `json:"time_of_day"`
	DurationMinutes int                   `json:"duration_minutes"`
	Pattern         string                `json:"pattern"`
	Notes           *string               `json:"notes,omitempty"`
	IsActive        bool                  `json:"is_active"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	Outcomes        []OutcomeResponse     `json:"outcomes,omitempty"`
	Appointments    []AppointmentResponse `json:"appointments,omitempty"`
}

type OutcomeResponse struct {
	Date          string     `json:"date"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	SkippedReason string     `json:"skipped_reason,omitempty"`
}

func toRecurringResponse(r *appointment.RecurringAppointment) RecurringResponse {
	return RecurringResponse{
		ID:              r.ID,
		ClientID:        r.ClientID,
		TherapistID:     r.TherapistID,
		StartDate:       r.StartDate.String(),
		EndDate:         r.EndDate.String(),
		TimeOfDay:       appointment.FormatTimeOfDay(r.TimeOfDay),
		DurationMinutes: r.DurationMinutes,
		Pattern:         string(r.Pattern),
		Notes:           r.Notes,
		IsActive:        r.IsActive,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toOutcomeResponses(outcomes []appointment.Outcome) []OutcomeResponse {
	out := make([]OutcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		resp := OutcomeResponse{Date: o.Date.String(), SkippedReason: o.SkippedReason}
		if o.Appointment != nil {
			id := o.Appointment.ID
			resp.AppointmentID = &id
		}
		out = append(out, resp)
	}
	return out
}

type RespondRecurringRequest struct {
	AcceptAll bool `json:"accept_all"`
	// Appointments maps YYYY-MM-DD to "accept" or "reject".
	Appointments map[string]string `json:"appointments"`
	Reason       *string           `json:"reason"`
}

type RespondOutcomeResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Date          string    `json:"date"`
	Decision      string    `json:"decision"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
}

type CancelRecurringResponse struct {
	ID        uuid.UUID `json:"id"`
	Cancelled int       `json:"cancelled"`
}

type SettingResponse struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SettingsResponse struct {
	Version   int64             `json:"version"`
	Effective map[string]string `json:"effective"`
	Stored    []SettingResponse `json:"stored"`
}

func toSettingsResponse(v *appointment.SettingsView) SettingsResponse {
	stored := make([]SettingResponse, 0, len(v.Stored))
	for _, s := range v.Stored {
		stored = append(stored, SettingResponse{
			Key:         s.Key,
			Value:       s.Value,
			Description: s.Description,
			IsActive:    s.IsActive,
			UpdatedAt:   s.UpdatedAt,
		})
	}
	return SettingsResponse{
		Version:   v.Effective.Version,
		Effective: v.Effective.Values(),
		Stored:    stored,
	}
}

type UpdateSettingsRequest struct {
	Settings map[string]string `json:"settings"`
}

type StatisticsResponse struct {
	From   time.Time      `json:"from"`
	To     time.Time      `json:"to"`
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"`
}
