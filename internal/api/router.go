package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
	"github.com/hackgods/vet-appointment-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service  AppointmentService
	Postgres Pinger
	Redis    redis.UniversalClient
	Logger   *zap.Logger
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := logging.OrNop(cfg.Logger)

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", metrics.Handler(cfg.Gatherer))

	h := &handlers{svc: cfg.Service, logger: logger}
	r.Group(func(r chi.Router) {
		r.Use(requireActor)

		r.Post("/appointments", h.book)
		r.Get("/appointments/{id}", h.get)
		r.Post("/appointments/{id}/reschedule", h.reschedule)
		r.Post("/appointments/{id}/status", h.changeStatus)
		r.Post("/appointments/{id}/cancel", h.cancel)

		r.Get("/vets/{vetID}/slots", h.slots)
		r.Get("/vets/{vetID}/appointments", h.vetAppointments)
	})

	return r
}
