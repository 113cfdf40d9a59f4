package api

import (
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"

	"github.com/hackgods/therapy-scheduling/internal/appointment"
)

func availabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		q := r.URL.Query()

		from, err := civil.ParseDate(q.Get("date_from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date_from", "date_from must be YYYY-MM-DD")
			return
		}
		to, err := civil.ParseDate(q.Get("date_to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date_to", "date_to must be YYYY-MM-DD")
			return
		}
		duration, err := parseIntQuery(q.Get("duration"), appointment.DefaultDurationMinutes)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a number of minutes")
			return
		}

		slots, err := svc.ComputeSlots(r.Context(), appointment.AvailabilityQuery{
			TherapistID:     therapistID,
			From:            from,
			To:              to,
			DurationMinutes: duration,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := AvailabilityResponse{
			TherapistID: therapistID,
			DateFrom:    from.String(),
			DateTo:      to.String(),
			Slots:       make([]SlotResponse, 0, len(slots)),
		}
		for _, s := range slots {
			resp.Slots = append(resp.Slots, SlotResponse{
				Date:            s.Date.String(),
				StartTime:       appointment.FormatTimeOfDay(s.StartTime),
				EndTime:         appointment.FormatTimeOfDay(s.EndTime),
				DurationMinutes: s.DurationMinutes,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createRuleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req RuleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		in, err := req.toInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		rule, err := svc.CreateRule(r.Context(), actorFrom(r), therapistID, in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRuleResponse(rule))
	}
}

func listRulesHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		activeOnly := true
		if v := r.URL.Query().Get("active_only"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_active_only", "active_only must be a boolean")
				return
			}
			activeOnly = b
		}
		rules, err := svc.ListRules(r.Context(), therapistID, activeOnly)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		out := make([]RuleResponse, 0, len(rules))
		for i := range rules {
			out = append(out, toRuleResponse(&rules[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": out})
	}
}

func updateRuleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		ruleID, ok := pathUUID(w, r, "ruleID")
		if !ok {
			return
		}
		var req RuleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		in, err := req.toInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		rule, err := svc.UpdateRule(r.Context(), actorFrom(r), therapistID, ruleID, in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRuleResponse(rule))
	}
}

func deactivateRuleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		ruleID, ok := pathUUID(w, r, "ruleID")
		if !ok {
			return
		}
		if err := svc.DeactivateRule(r.Context(), actorFrom(r), therapistID, ruleID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func createBlockedSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req BlockedSlotRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		in, err := req.toInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		b, err := svc.CreateBlockedSlot(r.Context(), actorFrom(r), therapistID, in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBlockedSlotResponse(b))
	}
}

func listBlockedSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		q := r.URL.Query()
		today := civil.DateOf(svc.Now().In(svc.Location()))
		from, to := today, today.AddDays(appointment.MaxAvailabilityRangeDays)

		var err error
		if v := q.Get("date_from"); v != "" {
			if from, err = civil.ParseDate(v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date_from", "date_from must be YYYY-MM-DD")
				return
			}
		}
		if v := q.Get("date_to"); v != "" {
			if to, err = civil.ParseDate(v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date_to", "date_to must be YYYY-MM-DD")
				return
			}
		}
		activeOnly := q.Get("include_inactive") != "true"

		slots, err := svc.ListBlockedSlots(r.Context(), therapistID, from, to, activeOnly)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		out := make([]BlockedSlotResponse, 0, len(slots))
		for i := range slots {
			out = append(out, toBlockedSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"blocked_slots": out})
	}
}

func updateBlockedSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		slotID, ok := pathUUID(w, r, "slotID")
		if !ok {
			return
		}
		var req BlockedSlotRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		in, err := req.toInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		b, err := svc.UpdateBlockedSlot(r.Context(), actorFrom(r), therapistID, slotID, in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBlockedSlotResponse(b))
	}
}

func deactivateBlockedSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		slotID, ok := pathUUID(w, r, "slotID")
		if !ok {
			return
		}
		if err := svc.DeactivateBlockedSlot(r.Context(), actorFrom(r), therapistID, slotID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
