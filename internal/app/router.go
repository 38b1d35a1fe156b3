package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fieldline-dms/fieldline/internal/audit"
	"github.com/fieldline-dms/fieldline/internal/cash"
	"github.com/fieldline-dms/fieldline/internal/counts"
	"github.com/fieldline-dms/fieldline/internal/movements"
	"github.com/fieldline-dms/fieldline/internal/observability"
	"github.com/fieldline-dms/fieldline/internal/purchasing"
	"github.com/fieldline-dms/fieldline/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	PurchasingHandler *purchasing.Handler
	MovementsHandler  *movements.Handler
	CountsHandler     *counts.Handler
	CashHandler       *cash.Handler
	AuditHandler      *audit.Handler
	JobsHandler       *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Fieldline defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/purchase-orders", params.PurchasingHandler.MountRoutes)
	r.Route("/api/stock-movements", params.MovementsHandler.MountRoutes)
	r.Route("/api/stock-counts", params.CountsHandler.MountRoutes)
	r.Route("/api/cash", params.CashHandler.MountRoutes)
	if params.AuditHandler != nil {
		r.Route("/api/audit-logs", params.AuditHandler.MountRoutes)
	}
	if params.JobsHandler != nil {
		r.Route("/api/jobs", params.JobsHandler.MountRoutes)
	}

	return r
}
