package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-deals/internal/deals"
	"github.com/odyssey-erp/odyssey-deals/internal/observability"
	"github.com/odyssey-erp/odyssey-deals/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-deals/jobs"
)

// HealthChecker reports whether a dependency is ready to serve.
type HealthChecker func(r *http.Request) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	DealsHandler *deals.Handler
	JobHandler   *jobs.Handler
	Metrics      *observability.Metrics
	// RequireActor authenticates API requests; nil leaves the API unauthenticated.
	RequireActor func(http.Handler) http.Handler
	Readiness    map[string]HealthChecker
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(params.Readiness))
		status := http.StatusOK
		for name, check := range params.Readiness {
			if err := check(r); err != nil {
				params.Logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
				checks[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		httpx.JSON(w, status, map[string]any{"checks": checks})
	})

	if params.DealsHandler != nil {
		r.Route("/api/v1", func(r chi.Router) {
			if params.RequireActor != nil {
				r.Use(params.RequireActor)
			}
			params.DealsHandler.MountRoutes(r)
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, r.URL.Path))
	})

	return r
}
