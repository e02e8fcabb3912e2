package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"edustat/internal/config"
	"edustat/internal/infrastructure"
	"edustat/internal/middleware"
)

// RouterDeps are the collaborators of the ops router
type RouterDeps struct {
	Tasks      TaskService
	Statistics StatisticsReader
	Exporter   BatchExporter
	Store      Pinger
	Metrics    http.Handler
	Business   *infrastructure.BusinessMetrics
	Server     config.ServerConfig
	Version    string
	Logger     *slog.Logger
}

// NewRouter builds the ops router.
// Middleware order: RequestID, RealIP, Tracing, StructuredLogger, Recoverer, rate limit.
func NewRouter(deps RouterDeps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Tracing(deps.Business))
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(logger))
	if deps.Server.RateLimitRPS > 0 {
		r.Use(middleware.NewRateLimiter(deps.Server.RateLimitRPS, deps.Server.RateLimitBurst, logger).Handler)
	}

	health := NewHealthHandler(deps.Store, deps.Version, logger)
	r.Get("/healthz", health.Liveness)
	r.Get("/readyz", health.Readiness)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		tasks := NewTasksHandler(deps.Tasks, logger)
		r.Get("/status", tasks.Status)
		r.Mount("/tasks", tasks.Routes())
		r.Post("/batches/{batch}/cancel", tasks.CancelBatch)

		if deps.Statistics != nil {
			stats := NewStatisticsHandler(deps.Statistics, deps.Exporter, logger)
			r.Get("/batches/{batch}/statistics", stats.Get)
			if deps.Exporter != nil {
				r.Get("/batches/{batch}/export", stats.Export)
			}
		}
	})

	return r
}
