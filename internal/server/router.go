package server

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sevigo/build-trigger/internal/config"
	"github.com/sevigo/build-trigger/internal/metrics"
	"github.com/sevigo/build-trigger/internal/server/handler"
	"github.com/sevigo/build-trigger/internal/trigger"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *config.Config, svc *trigger.Service, m *metrics.Metrics, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(m.Middleware())

	webhookHandler := handler.NewWebhookHandler(cfg, svc, m, logger)

	r.Get("/ping", webhookHandler.Ping)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/gitlab/hook", webhookHandler.Handle)

	return r
}
