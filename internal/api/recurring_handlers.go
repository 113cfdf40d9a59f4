package api

import (
	"errors"
	"net/http"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/therapy-scheduling/internal/appointment"
)

func createRecurringHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r)

		var req RecurringRequest
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
		start, err := civil.ParseDate(req.StartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "start_date must be YYYY-MM-DD")
			return
		}
		end, err := civil.ParseDate(req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "end_date must be YYYY-MM-DD")
			return
		}
		tod, err := appointment.ParseTimeOfDay(req.TimeOfDay)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "time_of_day: "+err.Error())
			return
		}

		result, err := svc.CreateRecurring(r.Context(), actor, appointment.CreateRecurringRequest{
			ClientID:        clientID,
			TherapistID:     therapistID,
			StartDate:       start,
			EndDate:         end,
			TimeOfDay:       tod,
			DurationMinutes: req.DurationMinutes,
			Pattern:         appointment.Pattern(strings.ToUpper(req.Pattern)),
			Notes:           req.Notes,
		})
		if errors.Is(err, appointment.ErrNoDatesCreated) && result != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":    "recurrence_failed",
				"details":  appointment.ErrNoDatesCreated.Reason,
				"outcomes": toOutcomeResponses(result.Outcomes),
			})
			return
		}
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := toRecurringResponse(result.Recurring)
		resp.Outcomes = toOutcomeResponses(result.Outcomes)
		writeJSON(w, http.StatusCreated, resp)
	}
}

func listRecurringHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var f appointment.RecurringFilter

		var ok bool
		if f.ClientID, ok = optionalUUIDQuery(w, q.Get("client_id"), "client_id"); !ok {
			return
		}
		if f.TherapistID, ok = optionalUUIDQuery(w, q.Get("therapist_id"), "therapist_id"); !ok {
			return
		}
		f.ActiveOnly = q.Get("active_only") == "true"

		list, err := svc.ListRecurring(r.Context(), actorFrom(r), f)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		out := make([]RecurringResponse, 0, len(list))
		for i := range list {
			out = append(out, toRecurringResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"recurring_appointments": out})
	}
}

func getRecurringHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		tmpl, children, err := svc.GetRecurring(r.Context(), actorFrom(r), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		resp := toRecurringResponse(tmpl)
		resp.Appointments = toAppointmentResponses(children)
		writeJSON(w, http.StatusOK, resp)
	}
}

func respondRecurringHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req RespondRecurringRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		decisions := make(map[civil.Date]appointment.Decision, len(req.Appointments))
		for k, v := range req.Appointments {
			d, err := civil.ParseDate(k)
			if err != nil {
				writeError(w, http.StatusBadRequest, "validation_error", "appointment keys must be YYYY-MM-DD dates")
				return
			}
			decisions[d] = appointment.Decision(strings.ToLower(v))
		}

		outcomes, err := svc.RespondRecurring(r.Context(), actorFrom(r), id, appointment.RespondRequest{
			AcceptAll: req.AcceptAll,
			Decisions: decisions,
			Reason:    req.Reason,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		out := make([]RespondOutcomeResponse, 0, len(outcomes))
		for _, o := range outcomes {
			out = append(out, RespondOutcomeResponse{
				AppointmentID: o.AppointmentID,
				Date:          o.Date.String(),
				Decision:      string(o.Decision),
				Status:        string(o.Status),
				Error:         o.Error,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": out})
	}
}

func cancelRecurringHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req ReasonRequest
		if !decodeOptionalJSON(w, r, &req) {
			return
		}
		n, err := svc.CancelRecurring(r.Context(), actorFrom(r), id, req.Reason)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, CancelRecurringResponse{ID: id, Cancelled: n})
	}
}
