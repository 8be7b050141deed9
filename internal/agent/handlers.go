package agent

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apperrors "closethopper/internal/errors"
	"closethopper/internal/license"
	"closethopper/internal/listing"
	"closethopper/internal/marketplace"
	"closethopper/pkg/contracts/licensing"
)

// Handler serves the companion's local API. License endpoints are
// always reachable (the UI needs them to get licensed in the first
// place); everything that touches listings sits behind the gate.
type Handler struct {
	client   *license.Client
	gate     *license.Gate
	listings *listing.Store
	scraper  marketplace.Scraper
	logger   *slog.Logger
}

// NewHandler creates the local API handler.
func NewHandler(client *license.Client, gate *license.Gate, listings *listing.Store, scraper marketplace.Scraper, logger *slog.Logger) *Handler {
	return &Handler{
		client:   client,
		gate:     gate,
		listings: listings,
		scraper:  scraper,
		logger:   logger.With(slog.String("handler", "agent")),
	}
}

// Routes assembles the local API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/license", func(r chi.Router) {
		r.Get("/status", h.LicenseStatus)
		r.Post("/activate", h.ActivateLicense)
		r.Post("/deactivate", h.DeactivateLicense)
	})

	r.Route("/api/listings", func(r chi.Router) {
		r.Use(h.RequireLicense)
		r.Get("/", h.ListListings)
		r.Post("/", h.PutListing)
		r.Post("/import", h.ImportListing)
		r.Get("/{sku}", h.GetListing)
		r.Put("/{sku}", h.PutListing)
		r.Delete("/{sku}", h.DeleteListing)
		r.Get("/{sku}/form", h.GetListingForm)
		r.Post("/{sku}/status", h.UpdateListingStatus)
	})

	return r
}

// RequireLicense blocks feature routes when the installation holds no
// license. The check is a local cache read; it never blocks on the
// license service.
func (h *Handler) RequireLicense(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.gate.RequireLicense(r.Context()); err != nil {
			render.Render(w, r, apperrors.ErrNotLicensed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LicenseStatusResponse reports the cached license state to the UI.
type LicenseStatusResponse struct {
	Licensed    bool      `json:"licensed"`
	LicenseKey  string    `json:"license_key,omitempty"`
	NextCheckAt time.Time `json:"next_check_at,omitempty"`
	CheckDue    bool      `json:"check_due"`
}

// LicenseStatus handles GET /api/license/status.
func (h *Handler) LicenseStatus(w http.ResponseWriter, r *http.Request) {
	resp := LicenseStatusResponse{
		Licensed: h.gate.IsLicensed(r.Context()),
	}
	if rec := h.client.Cached(); rec != nil {
		resp.LicenseKey = license.MaskKey(rec.LicenseKey)
		resp.NextCheckAt = rec.NextCheck()
		resp.CheckDue = h.client.Due()
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// ActivateLicenseRequest is the activation payload from the UI.
type ActivateLicenseRequest struct {
	Key   string `json:"key"`
	Email string `json:"email,omitempty"`
}

// ActivateLicenseResponse reports the activation outcome.
type ActivateLicenseResponse struct {
	Activated bool   `json:"activated"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
}

// ActivateLicense handles POST /api/license/activate.
func (h *Handler) ActivateLicense(w http.ResponseWriter, r *http.Request) {
	var req ActivateLicenseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	if req.Key == "" {
		render.Render(w, r, apperrors.ErrValidation("key", "license key is required"))
		return
	}

	result, err := h.client.Activate(r.Context(), req.Key, req.Email)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "activation failed locally",
			slog.String("error", err.Error()),
		)
		render.Render(w, r, apperrors.FileSystemError("license activation", err))
		return
	}

	if !result.Accepted {
		render.Status(r, activationFailureStatus(result.Code))
		render.JSON(w, r, ActivateLicenseResponse{Code: result.Code, Message: activationFailureMessage(result.Code)})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ActivateLicenseResponse{Activated: true, Message: result.Message})
}

// DeactivateLicense handles POST /api/license/deactivate.
func (h *Handler) DeactivateLicense(w http.ResponseWriter, r *http.Request) {
	result, err := h.client.Deactivate(r.Context())
	if err != nil {
		render.Render(w, r, apperrors.FileSystemError("license deactivation", err))
		return
	}
	if !result.Accepted {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, ActivateLicenseResponse{Code: result.Code, Message: activationFailureMessage(result.Code)})
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, ActivateLicenseResponse{Activated: false, Message: result.Message})
}

// activationFailureStatus maps wire codes to local API statuses.
func activationFailureStatus(code string) int {
	switch code {
	case licensing.CodeBadRequest:
		return http.StatusBadRequest
	case licensing.CodeInvalidKey:
		return http.StatusNotFound
	case licensing.CodeLicenseRevoked, licensing.CodeLicenseFull:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

// activationFailureMessage gives the UI a human message per code; the
// popup shows these verbatim.
func activationFailureMessage(code string) string {
	switch code {
	case licensing.CodeBadRequest:
		return "That license key doesn't look right. Keys are 16 characters, like AB12-CD34-EF56-7890."
	case licensing.CodeInvalidKey:
		return "We couldn't find that license key. Double-check it against your purchase email."
	case licensing.CodeLicenseRevoked:
		return "This license is no longer active. Contact support if you think that's wrong."
	case licensing.CodeLicenseFull:
		return "This license is already in use on another device."
	default:
		return "Couldn't reach the license server. Your license is unchanged; try again in a bit."
	}
}

// ListListings handles GET /api/listings.
func (h *Handler) ListListings(w http.ResponseWriter, r *http.Request) {
	items, err := h.listings.List()
	if err != nil {
		render.Render(w, r, apperrors.FileSystemError("listing scan", err))
		return
	}
	if items == nil {
		items = []*listing.Listing{}
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, items)
}

// GetListing handles GET /api/listings/{sku}.
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	l, err := h.listings.Get(chi.URLParam(r, "sku"))
	if err != nil {
		h.renderListingError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, l)
}

// PutListing handles POST /api/listings and PUT /api/listings/{sku}.
func (h *Handler) PutListing(w http.ResponseWriter, r *http.Request) {
	var l listing.Listing
	if err := render.DecodeJSON(r.Body, &l); err != nil {
		render.Render(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	if sku := chi.URLParam(r, "sku"); sku != "" {
		l.SKU = sku
	}
	if l.Status == "" {
		l.Status = listing.StatusDownloaded
	}
	if l.DownloadedAt.IsZero() {
		l.DownloadedAt = time.Now()
	}

	if err := h.listings.Put(&l); err != nil {
		render.Render(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, l)
}

// ImportListing handles POST /api/listings/import: a captured source
// page goes through the scraper and lands in the store as a fresh
// downloaded listing.
func (h *Handler) ImportListing(w http.ResponseWriter, r *http.Request) {
	var page marketplace.Page
	if err := render.DecodeJSON(r.Body, &page); err != nil {
		render.Render(w, r, apperrors.InvalidRequestWithError(err))
		return
	}

	l, err := h.scraper.Scrape(r.Context(), page)
	if err != nil {
		render.Render(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	if err := h.listings.Put(l); err != nil {
		render.Render(w, r, apperrors.FileSystemError("listing import", err))
		return
	}

	h.logger.InfoContext(r.Context(), "listing imported",
		slog.String("sku", l.SKU),
		slog.String("platform", l.Source.Platform),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, l)
}

// DeleteListing handles DELETE /api/listings/{sku}.
func (h *Handler) DeleteListing(w http.ResponseWriter, r *http.Request) {
	if err := h.listings.Delete(chi.URLParam(r, "sku")); err != nil {
		h.renderListingError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// GetListingForm handles GET /api/listings/{sku}/form, returning the
// destination form for the extension's form filler.
func (h *Handler) GetListingForm(w http.ResponseWriter, r *http.Request) {
	l, err := h.listings.Get(chi.URLParam(r, "sku"))
	if err != nil {
		h.renderListingError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, listing.BuildForm(l))
}

// UpdateListingStatusRequest moves a listing through the workflow.
type UpdateListingStatusRequest struct {
	Status listing.Status `json:"status"`
}

// UpdateListingStatus handles POST /api/listings/{sku}/status.
func (h *Handler) UpdateListingStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateListingStatusRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apperrors.InvalidRequestWithError(err))
		return
	}

	l, err := h.listings.Get(chi.URLParam(r, "sku"))
	if err != nil {
		h.renderListingError(w, r, err)
		return
	}
	if err := l.TransitionTo(req.Status); err != nil {
		render.Render(w, r, apperrors.ErrValidation("status", err.Error()))
		return
	}
	if err := h.listings.Put(l); err != nil {
		render.Render(w, r, apperrors.FileSystemError("listing update", err))
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, l)
}

func (h *Handler) renderListingError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, listing.ErrNotFound) {
		render.Render(w, r, apperrors.NotFoundError("listing"))
		return
	}
	render.Render(w, r, apperrors.FileSystemError("listing access", err))
}
