package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Router(h *Handler, secret string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(Metrics)

	r.Get("/v1/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RequireBearer(secret))

		r.Post("/v1/dispatch/push", h.DispatchPush)
		r.Post("/v1/dispatch/whatsapp", h.DispatchWhatsApp)

		r.Get("/v1/messages", h.ListMessages)

		r.Get("/v1/scheduler/status", h.SchedulerStatus)
		r.Post("/v1/scheduler/start", h.SchedulerStart)
		r.Post("/v1/scheduler/stop", h.SchedulerStop)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("gym-notification-dispatcher"))
	})

	return r
}
