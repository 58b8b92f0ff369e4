package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service   Scheduler
	Postgres  Pinger
	Redis     *redis.Client
	JWTSecret []byte
	Logger    zerolog.Logger
	Metrics   *metrics.SchedulingMetrics
	Gatherer  prometheus.Gatherer
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Metrics))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Metrics, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	h := &handlers{svc: cfg.Service, log: cfg.Logger}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Get("/doctors/{doctorID}/available-slots", h.availableSlots)

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.book)
			r.Get("/", h.list)
			r.With(requireRole(appointment.RoleAdmin)).Get("/statistics", h.statistics)
			r.With(requireRole(appointment.RoleAdmin)).Get("/overdue", h.overdue)
			r.Get("/{id}", h.get)
			r.Post("/{id}/transitions", h.transition)
			r.Post("/{id}/reschedule", h.reschedule)
		})
	})

	return r
}
