package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hornero-erp/hornero-erp/internal/alerts"
	"github.com/hornero-erp/hornero-erp/internal/catalog"
	"github.com/hornero-erp/hornero-erp/internal/lots"
	"github.com/hornero-erp/hornero-erp/internal/procurement"
	"github.com/hornero-erp/hornero-erp/internal/sales"
	"github.com/hornero-erp/hornero-erp/internal/spoilage"
	"github.com/hornero-erp/hornero-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	CatalogHandler     *catalog.Handler
	LotsHandler        *lots.Handler
	SpoilageHandler    *spoilage.Handler
	AlertsHandler      *alerts.Handler
	ProcurementHandler *procurement.Handler
	SalesHandler       *sales.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with Hornero defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(api chi.Router) {
		api.Route("/products", params.CatalogHandler.MountRoutes)
		api.Route("/lots", params.LotsHandler.MountRoutes)
		api.Route("/spoilage", params.SpoilageHandler.MountRoutes)
		api.Route("/alerts", params.AlertsHandler.MountRoutes)
		params.ProcurementHandler.MountRoutes(api)
		api.Route("/sales", params.SalesHandler.MountRoutes)
		if params.JobHandler != nil {
			api.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
