package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"closethopper/pkg/contracts/licensing"
)

// Remote is the boundary to the license service. The production
// implementation is HTTPRemote; tests substitute fakes.
type Remote interface {
	Activate(ctx context.Context, req licensing.ActivateRequest) (*licensing.ActivateResponse, error)
	Validate(ctx context.Context, req licensing.ValidateRequest) (*licensing.ValidateResponse, error)
	Ping(ctx context.Context, req licensing.PingRequest) (*licensing.PingResponse, error)
	Deactivate(ctx context.Context, req licensing.DeactivateRequest) (*licensing.DeactivateResponse, error)
}

// ServiceError is any failure from a Remote call, normalized to one of
// the closed set of wire codes. Transport-level failures carry
// CodeNetworkError and no HTTP status.
type ServiceError struct {
	Code       string
	HTTPStatus int
	cause      error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("license service: %s: %v", e.Code, e.cause)
	}
	return fmt.Sprintf("license service: %s", e.Code)
}

func (e *ServiceError) Unwrap() error {
	return e.cause
}

// CodeOf extracts the normalized error code from a Remote failure.
// Anything that is not a ServiceError counts as a network failure.
func CodeOf(err error) string {
	if se, ok := err.(*ServiceError); ok {
		return se.Code
	}
	return licensing.CodeNetworkError
}

// authoritative reports whether a code is a definitive negative answer
// about the license itself, as opposed to a transient delivery failure.
func authoritative(code string) bool {
	switch code {
	case licensing.CodeInvalidKey, licensing.CodeLicenseRevoked, licensing.CodeLicenseFull:
		return true
	}
	return false
}

// HTTPRemote talks JSON over HTTP(S) to the license service. Every
// call is bounded by the configured timeout and resolves to a result
// or a ServiceError; nothing hangs past the deadline and nothing is
// retried here.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPRemote creates a remote bound to baseURL, e.g.
// "https://closethopper.com/api".
func NewHTTPRemote(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPRemote {
	return &HTTPRemote{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "license_remote")),
	}
}

func (r *HTTPRemote) Activate(ctx context.Context, req licensing.ActivateRequest) (*licensing.ActivateResponse, error) {
	var resp licensing.ActivateResponse
	if err := r.post(ctx, "/licenses/activate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *HTTPRemote) Validate(ctx context.Context, req licensing.ValidateRequest) (*licensing.ValidateResponse, error) {
	var resp licensing.ValidateResponse
	if err := r.post(ctx, "/licenses/validate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *HTTPRemote) Ping(ctx context.Context, req licensing.PingRequest) (*licensing.PingResponse, error) {
	var resp licensing.PingResponse
	if err := r.post(ctx, "/licenses/ping", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *HTTPRemote) Deactivate(ctx context.Context, req licensing.DeactivateRequest) (*licensing.DeactivateResponse, error) {
	var resp licensing.DeactivateResponse
	if err := r.post(ctx, "/licenses/deactivate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *HTTPRemote) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &ServiceError{Code: licensing.CodeBadRequest, cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &ServiceError{Code: licensing.CodeNetworkError, cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		r.logger.WarnContext(ctx, "license service unreachable",
			slog.String("path", path),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return &ServiceError{Code: licensing.CodeNetworkError, cause: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return &ServiceError{Code: licensing.CodeNetworkError, cause: err}
	}

	if httpResp.StatusCode != http.StatusOK {
		return &ServiceError{
			Code:       errorCode(httpResp.StatusCode, data),
			HTTPStatus: httpResp.StatusCode,
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &ServiceError{Code: licensing.CodeServerError, HTTPStatus: httpResp.StatusCode, cause: err}
	}

	r.logger.DebugContext(ctx, "license service call completed",
		slog.String("path", path),
		slog.Duration("latency", time.Since(start)),
	)
	return nil
}

// errorCode picks the wire code from a failure body, falling back to a
// status-based guess when the body is not the expected shape.
func errorCode(status int, body []byte) string {
	var er licensing.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		return er.Error
	}
	switch status {
	case http.StatusBadRequest:
		return licensing.CodeBadRequest
	case http.StatusNotFound:
		return licensing.CodeInvalidKey
	case http.StatusForbidden:
		return licensing.CodeLicenseRevoked
	default:
		return licensing.CodeServerError
	}
}
