package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"closethopper/internal/registry"
	"closethopper/pkg/contracts/licensing"
)

// AdminHandler serves the operator surface: minting licenses for
// manual grants and revoking compromised ones. Purchases normally
// create licenses through the payment webhook, which lives outside
// this service.
type AdminHandler struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// NewAdminHandler creates an admin handler over the registry.
func NewAdminHandler(reg *registry.Registry, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		registry: reg,
		logger:   logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns the /admin sub-router. Callers wrap it in AdminAuth.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/licenses", h.CreateLicense)
	r.Post("/licenses/{key}/revoke", h.RevokeLicense)
	r.Get("/licenses/{key}", h.GetLicense)
	return r
}

// CreateLicenseRequest is the manual grant payload.
type CreateLicenseRequest struct {
	Plan   string `json:"plan"`
	Status string `json:"status,omitempty"`
}

// CreateLicenseResponse returns the minted license.
type CreateLicenseResponse struct {
	OK      bool             `json:"ok"`
	License *registry.License `json:"license"`
}

// CreateLicense handles POST /admin/licenses.
func (h *AdminHandler) CreateLicense(w http.ResponseWriter, r *http.Request) {
	var req CreateLicenseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, licensing.ErrorResponse{OK: false, Error: licensing.CodeBadRequest})
		return
	}
	if req.Plan == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, licensing.ErrorResponse{OK: false, Error: licensing.CodeBadRequest})
		return
	}
	switch req.Status {
	case "", licensing.StatusAvailable, licensing.StatusActive:
	default:
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, licensing.ErrorResponse{OK: false, Error: licensing.CodeBadRequest})
		return
	}

	lic, err := h.registry.Create(req.Plan, req.Status)
	if err != nil {
		h.logger.Error("license creation failed", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, licensing.ErrorResponse{OK: false, Error: licensing.CodeServerError})
		return
	}

	h.logger.InfoContext(r.Context(), "manual license created",
		slog.String("plan", lic.Plan),
		slog.String("status", lic.Status),
		slog.Time("created_at", lic.CreatedAt.Truncate(time.Second)),
	)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, CreateLicenseResponse{OK: true, License: lic})
}

// RevokeLicense handles POST /admin/licenses/{key}/revoke.
func (h *AdminHandler) RevokeLicense(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.registry.Revoke(key); err != nil {
		if errors.Is(err, registry.ErrInvalidKey) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, licensing.ErrorResponse{OK: false, Error: licensing.CodeInvalidKey})
			return
		}
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, licensing.ErrorResponse{OK: false, Error: licensing.CodeServerError})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, licensing.PingResponse{OK: true})
}

// GetLicense handles GET /admin/licenses/{key}.
func (h *AdminHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	lic := h.registry.Get(chi.URLParam(r, "key"))
	if lic == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, licensing.ErrorResponse{OK: false, Error: licensing.CodeInvalidKey})
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, CreateLicenseResponse{OK: true, License: lic})
}
