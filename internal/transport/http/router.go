package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"closethopper/internal/config"
	"closethopper/internal/registry"
)

// NewRouter assembles the license service router: the wire contract
// under /api/licenses, the admin surface under /admin, plus health and
// metrics endpoints.
func NewRouter(reg *registry.Registry, cfg config.ServerConfig, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	licenseHandler := NewLicenseHandler(reg, logger)
	r.Route("/api/licenses", func(r chi.Router) {
		r.Use(RateLimit(cfg.RateLimit, logger))
		r.Mount("/", licenseHandler.Routes())
	})

	adminHandler := NewAdminHandler(reg, logger)
	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminAuth(cfg.AdminTokenHash, logger))
		r.Mount("/", adminHandler.Routes())
	})

	return r
}
