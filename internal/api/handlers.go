package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/therapy-scheduling/internal/appointment"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r)

		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		clientID := actor.ID
		if req.ClientID != "" {
			id, err := uuid.Parse(req.ClientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_client_id", "client_id must be a valid UUID")
				return
			}
			clientID = id
		}

		therapistID, err := uuid.Parse(req.TherapistID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_therapist_id", "therapist_id must be a valid UUID")
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), actor, appointment.CreateRequest{
			ClientID:        clientID,
			TherapistID:     therapistID,
			ScheduledAt:     req.ScheduledAt,
			DurationMinutes: req.DurationMinutes,
			Notes:           req.Notes,
			TimeZone:        req.TimeZone,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var f appointment.AppointmentFilter

		if v := q.Get("status"); v != "" {
			for _, s := range strings.Split(v, ",") {
				f.Statuses = append(f.Statuses, appointment.AppointmentStatus(strings.ToUpper(strings.TrimSpace(s))))
			}
		}

		var ok bool
		if f.ClientID, ok = optionalUUIDQuery(w, q.Get("client_id"), "client_id"); !ok {
			return
		}
		if f.TherapistID, ok = optionalUUIDQuery(w, q.Get("therapist_id"), "therapist_id"); !ok {
			return
		}
		if f.From, ok = optionalTimeQuery(w, q.Get("from"), "from"); !ok {
			return
		}
		if f.To, ok = optionalTimeQuery(w, q.Get("to"), "to"); !ok {
			return
		}

		limit, err := parseIntQuery(q.Get("limit"), 20)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a valid integer")
			return
		}
		offset, err := parseIntQuery(q.Get("offset"), 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be a valid integer")
			return
		}
		f.Limit, f.Offset = limit, offset

		appts, err := svc.ListAppointments(r.Context(), actorFrom(r), f)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"appointments": toAppointmentResponses(appts),
			"limit":        min(max(limit, 1), 100),
			"offset":       max(offset, 0),
			"count":        len(appts),
		})
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		appt, err := svc.GetAppointment(r.Context(), actorFrom(r), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func appointmentHistoryHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		entries, err := svc.History(r.Context(), actorFrom(r), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": toHistoryResponses(entries)})
	}
}

type transitionFunc func(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error)

// transitionHandler serves the body-less status transitions.
func transitionHandler(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		appt, err := fn(r.Context(), actorFrom(r), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

type reasonTransitionFunc func(ctx context.Context, actor appointment.Actor, id uuid.UUID, reason *string) (*appointment.Appointment, error)

// reasonTransitionHandler serves transitions that take an optional reason.
func reasonTransitionHandler(fn reasonTransitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req ReasonRequest
		if !decodeOptionalJSON(w, r, &req) {
			return
		}
		appt, err := fn(r.Context(), actorFrom(r), id, req.Reason)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func requestModificationHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req ModificationRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.NewScheduledAt.IsZero() {
			writeError(w, http.StatusBadRequest, "validation_error", "new_scheduled_at is required")
			return
		}
		appt, err := svc.RequestModification(r.Context(), actorFrom(r), id, req.NewScheduledAt, req.Reason)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func optionalUUIDQuery(w http.ResponseWriter, v, name string) (*uuid.UUID, bool) {
	if v == "" {
		return nil, true
	}
	id, err := uuid.Parse(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return nil, false
	}
	return &id, true
}

func optionalTimeQuery(w http.ResponseWriter, v, name string) (*time.Time, bool) {
	if v == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be an RFC 3339 timestamp")
		return nil, false
	}
	return &t, true
}

func parseIntQuery(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON: "+err.Error())
		return false
	}
	return true
}
