package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-scheduling/internal/appointment"
	"github.com/hackgods/therapy-scheduling/internal/auth"
)

type RouterConfig struct {
	Service      *appointment.Service
	Auth         *auth.Resolver
	Logger       zerolog.Logger
	Dependencies []Dependency
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	svc := cfg.Service
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware)

	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Auth))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", createAppointmentHandler(svc))
			r.Get("/", listAppointmentsHandler(svc))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", getAppointmentHandler(svc))
				r.Get("/history", appointmentHistoryHandler(svc))
				r.Post("/accept", transitionHandler(svc.Accept))
				r.Post("/reject", reasonTransitionHandler(svc.Reject))
				r.Post("/modification", requestModificationHandler(svc))
				r.Post("/modification/accept", transitionHandler(svc.AcceptModification))
				r.Post("/modification/reject", reasonTransitionHandler(svc.RejectModification))
				r.Post("/cancel", reasonTransitionHandler(svc.Cancel))
				r.Post("/complete", transitionHandler(svc.Complete))
				r.Post("/no-show", transitionHandler(svc.NoShow))
			})
		})

		r.Route("/therapists/{id}", func(r chi.Router) {
			r.Get("/availability", availabilityHandler(svc))

			r.Post("/availability-rules", createRuleHandler(svc))
			r.Get("/availability-rules", listRulesHandler(svc))
			r.Put("/availability-rules/{ruleID}", updateRuleHandler(svc))
			r.Delete("/availability-rules/{ruleID}", deactivateRuleHandler(svc))

			r.Post("/blocked-slots", createBlockedSlotHandler(svc))
			r.Get("/blocked-slots", listBlockedSlotsHandler(svc))
			r.Put("/blocked-slots/{slotID}", updateBlockedSlotHandler(svc))
			r.Delete("/blocked-slots/{slotID}", deactivateBlockedSlotHandler(svc))
		})

		r.Route("/recurring-appointments", func(r chi.Router) {
			r.Post("/", createRecurringHandler(svc))
			r.Get("/", listRecurringHandler(svc))
			r.Get("/{id}", getRecurringHandler(svc))
			r.Post("/{id}/respond", respondRecurringHandler(svc))
			r.Post("/{id}/cancel", cancelRecurringHandler(svc))
		})

		r.Get("/admin/settings", getSettingsHandler(svc))
		r.Put("/admin/settings", updateSettingsHandler(svc))
		r.Get("/statistics/appointments", statisticsHandler(svc))
	})

	return r
}
