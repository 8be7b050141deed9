// Package http provides the HTTP transport for the license service:
// the fixed JSON contract consumed by companion installs, plus the
// admin surface for minting and revoking licenses.
package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"closethopper/internal/registry"
	"closethopper/pkg/contracts/licensing"
)

// LicenseHandler serves the license service wire contract.
type LicenseHandler struct {
	registry *registry.Registry
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewLicenseHandler creates a license handler over the registry.
func NewLicenseHandler(reg *registry.Registry, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		registry: reg,
		logger:   logger.With(slog.String("handler", "license")),
		validate: validator.New(),
		tracer:   otel.Tracer("license-service"),
	}
}

// Routes returns the /licenses sub-router.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/activate", h.Activate)
	r.Post("/validate", h.Validate)
	r.Post("/ping", h.Ping)
	r.Post("/deactivate", h.Deactivate)

	return r
}

// Activate handles POST /api/licenses/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.activate",
		trace.WithAttributes(
			attribute.String("http.route", "/api/licenses/activate"),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
		),
	)
	defer span.End()
	start := time.Now()

	var req licensing.ActivateRequest
	if !h.decode(w, r, &req, "activate") {
		return
	}

	already, err := h.registry.Activate(req.Key, req.ProfileHash)
	if err != nil {
		h.renderRegistryError(w, r, "activate", err)
		span.SetAttributes(attribute.String("license.outcome", "error"))
		return
	}

	message := licensing.MessageActivated
	if already {
		message = licensing.MessageAlreadyActivated
	}
	span.SetAttributes(attribute.String("license.outcome", message))

	h.logger.InfoContext(ctx, "activation handled",
		slog.String("message", message),
		slog.Duration("latency", time.Since(start)),
	)
	observeOperation("activate", message, time.Since(start))

	render.Status(r, http.StatusOK)
	render.JSON(w, r, licensing.ActivateResponse{OK: true, Message: message})
}

// Validate handles POST /api/licenses/validate.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.validate",
		trace.WithAttributes(
			attribute.String("http.route", "/api/licenses/validate"),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
		),
	)
	defer span.End()
	start := time.Now()

	var req licensing.ValidateRequest
	if !h.decode(w, r, &req, "validate") {
		return
	}

	info, err := h.registry.Validate(req.Key, req.ProfileHash)
	if err != nil {
		h.renderRegistryError(w, r, "validate", err)
		span.SetAttributes(attribute.String("license.outcome", "error"))
		return
	}
	span.SetAttributes(
		attribute.Bool("license.bound", info.Bound),
		attribute.Int("license.seats_used", info.SeatsUsed),
	)

	h.logger.InfoContext(ctx, "validation handled",
		slog.Bool("bound", info.Bound),
		slog.Duration("latency", time.Since(start)),
	)
	observeOperation("validate", "ok", time.Since(start))

	render.Status(r, http.StatusOK)
	render.JSON(w, r, licensing.ValidateResponse{
		OK:     true,
		Status: info.Status,
		Plan:   info.Plan,
		Seats: licensing.Seats{
			Used: info.SeatsUsed,
			Max:  info.SeatLimit,
		},
		Bound:           info.Bound,
		NextCheckInDays: registry.NextCheckInDays,
	})
}

// Ping handles POST /api/licenses/ping. It never fails a well-formed
// request: ping is a freshness beacon, not a check.
func (h *LicenseHandler) Ping(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "license_handler.ping")
	defer span.End()
	start := time.Now()

	var req licensing.PingRequest
	if !h.decode(w, r, &req, "ping") {
		return
	}

	h.registry.Ping(req.Key, req.ProfileHash)
	observeOperation("ping", "ok", time.Since(start))

	render.Status(r, http.StatusOK)
	render.JSON(w, r, licensing.PingResponse{OK: true})
}

// Deactivate handles POST /api/licenses/deactivate, releasing a seat.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.deactivate")
	defer span.End()
	start := time.Now()

	var req licensing.DeactivateRequest
	if !h.decode(w, r, &req, "deactivate") {
		return
	}

	if err := h.registry.Deactivate(req.Key, req.ProfileHash); err != nil {
		h.renderRegistryError(w, r, "deactivate", err)
		return
	}

	h.logger.InfoContext(ctx, "deactivation handled",
		slog.Duration("latency", time.Since(start)),
	)
	observeOperation("deactivate", "ok", time.Since(start))

	render.Status(r, http.StatusOK)
	render.JSON(w, r, licensing.DeactivateResponse{OK: true})
}

// decode parses and validates a request body, rendering bad_request on
// failure.
func (h *LicenseHandler) decode(w http.ResponseWriter, r *http.Request, req interface{}, operation string) bool {
	if err := render.DecodeJSON(r.Body, req); err != nil {
		h.renderError(w, r, operation, http.StatusBadRequest, licensing.CodeBadRequest)
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		h.renderError(w, r, operation, http.StatusBadRequest, licensing.CodeBadRequest)
		return false
	}
	return true
}

func (h *LicenseHandler) renderRegistryError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	switch {
	case errors.Is(err, registry.ErrInvalidKey):
		h.renderError(w, r, operation, http.StatusNotFound, licensing.CodeInvalidKey)
	case errors.Is(err, registry.ErrRevoked):
		h.renderError(w, r, operation, http.StatusForbidden, licensing.CodeLicenseRevoked)
	case errors.Is(err, registry.ErrSeatsExhausted):
		h.renderError(w, r, operation, http.StatusForbidden, licensing.CodeLicenseFull)
	case errors.Is(err, registry.ErrNotBound):
		h.renderError(w, r, operation, http.StatusNotFound, licensing.CodeInvalidKey)
	default:
		h.logger.Error("license operation failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		h.renderError(w, r, operation, http.StatusInternalServerError, licensing.CodeServerError)
	}
}

func (h *LicenseHandler) renderError(w http.ResponseWriter, r *http.Request, operation string, status int, code string) {
	observeOperation(operation, code, 0)
	render.Status(r, status)
	render.JSON(w, r, licensing.ErrorResponse{OK: false, Error: code})
}
