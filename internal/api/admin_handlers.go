package api

import (
	"net/http"
	"time"

	"github.com/hackgods/therapy-scheduling/internal/appointment"
)

func getSettingsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.GetSettings(r.Context(), actorFrom(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toSettingsResponse(view))
	}
}

func updateSettingsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateSettingsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		view, err := svc.UpdateSettings(r.Context(), actorFrom(r), req.Settings)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toSettingsResponse(view))
	}
}

func statisticsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var sq appointment.StatisticsQuery

		var ok bool
		if sq.ClientID, ok = optionalUUIDQuery(w, q.Get("client_id"), "client_id"); !ok {
			return
		}
		if sq.TherapistID, ok = optionalUUIDQuery(w, q.Get("therapist_id"), "therapist_id"); !ok {
			return
		}
		var from, to *time.Time
		if from, ok = optionalTimeQuery(w, q.Get("from"), "from"); !ok {
			return
		}
		if to, ok = optionalTimeQuery(w, q.Get("to"), "to"); !ok {
			return
		}
		if from != nil {
			sq.From = *from
		}
		if to != nil {
			sq.To = *to
		}

		stats, err := svc.Statistics(r.Context(), actorFrom(r), sq)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		counts := make(map[string]int, len(stats.Counts))
		for st, n := range stats.Counts {
			counts[string(st)] = n
		}
		writeJSON(w, http.StatusOK, StatisticsResponse{
			From:   stats.From,
			To:     stats.To,
			Total:  stats.Total,
			Counts: counts,
		})
	}
}
