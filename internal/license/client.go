package license

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"closethopper/pkg/contracts/licensing"
)

// FingerprintProvider supplies the device fingerprint the seat is
// bound to.
type FingerprintProvider interface {
	Fingerprint() (string, error)
}

// Client owns the activation/validation/ping protocol and the local
// cache of license state. Network failures degrade to "unknown" and
// leave the cache alone; only an authoritative rejection clears it.
type Client struct {
	remote        Remote
	store         *Store
	identity      FingerprintProvider
	checkInterval time.Duration
	logger        *slog.Logger

	// now is swapped out by tests.
	now func() time.Time
}

// NewClient creates a license client. checkInterval is how long a
// successful check is trusted before revalidation is due.
func NewClient(remote Remote, store *Store, identity FingerprintProvider, checkInterval time.Duration, logger *slog.Logger) *Client {
	return &Client{
		remote:        remote,
		store:         store,
		identity:      identity,
		checkInterval: checkInterval,
		logger:        logger.With(slog.String("component", "license_client")),
		now:           time.Now,
	}
}

// ActivationResult reports the outcome of an activation attempt.
// Expected failures come back as a result with a code, not an error.
type ActivationResult struct {
	Accepted bool
	Message  string
	Code     string
}

// Activate binds this device to the given license key. On success the
// local cache is written wholesale; on failure it is left untouched.
// The returned error is reserved for local storage problems.
func (c *Client) Activate(ctx context.Context, key, email string) (*ActivationResult, error) {
	if err := licensing.ValidateKeyFormat(key); err != nil {
		return &ActivationResult{Code: licensing.CodeBadRequest, Message: err.Error()}, nil
	}
	key = licensing.FormatKey(key)

	fingerprint, err := c.identity.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("cannot activate without device identity: %w", err)
	}

	resp, err := c.remote.Activate(ctx, licensing.ActivateRequest{
		Key:         key,
		ProfileHash: fingerprint,
		Email:       email,
	})
	if err != nil {
		code := CodeOf(err)
		c.logger.WarnContext(ctx, "license activation failed",
			slog.String("license_key", MaskKey(key)),
			slog.String("code", code),
		)
		return &ActivationResult{Code: code}, nil
	}

	rec := Record{
		LicenseKey:  key,
		ProfileHash: fingerprint,
		NextCheckAt: c.now().Add(c.checkInterval).UnixMilli(),
	}
	if err := c.store.Save(rec); err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "license activated",
		slog.String("license_key", MaskKey(key)),
		slog.String("message", resp.Message),
		slog.Time("next_check_at", rec.NextCheck()),
	)
	return &ActivationResult{Accepted: true, Message: resp.Message}, nil
}

// ValidationOutcome classifies a validation attempt.
type ValidationOutcome int

const (
	// ValidationOK: the service confirmed the license; the check
	// window was advanced.
	ValidationOK ValidationOutcome = iota
	// ValidationUnavailable: the service could not be reached or
	// errored transiently; cached state is untouched.
	ValidationUnavailable
	// ValidationRejected: the service authoritatively denied the
	// license; the cache has been cleared.
	ValidationRejected
	// ValidationNotActivated: there is no cached license to validate.
	ValidationNotActivated
)

// ValidationResult carries the outcome and, when the service answered,
// its report.
type ValidationResult struct {
	Outcome ValidationOutcome
	Code    string
	Status  string
	Plan    string
	Seats   licensing.Seats
	Bound   bool
}

// Validate checks the cached license against the service and applies
// the state machine: success advances the window, authoritative
// rejection clears the cache, anything transient changes nothing.
// Idempotent and safe to call anytime; it never consumes a seat.
func (c *Client) Validate(ctx context.Context) (*ValidationResult, error) {
	rec, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &ValidationResult{Outcome: ValidationNotActivated}, nil
	}

	resp, err := c.remote.Validate(ctx, licensing.ValidateRequest{
		Key:         rec.LicenseKey,
		ProfileHash: rec.ProfileHash,
	})
	if err != nil {
		code := CodeOf(err)
		if authoritative(code) {
			if clearErr := c.store.Clear(); clearErr != nil {
				return nil, clearErr
			}
			c.logger.WarnContext(ctx, "license rejected, local cache cleared",
				slog.String("license_key", MaskKey(rec.LicenseKey)),
				slog.String("code", code),
			)
			return &ValidationResult{Outcome: ValidationRejected, Code: code}, nil
		}

		c.logger.WarnContext(ctx, "license validation unavailable, keeping cached state",
			slog.String("license_key", MaskKey(rec.LicenseKey)),
			slog.String("code", code),
		)
		return &ValidationResult{Outcome: ValidationUnavailable, Code: code}, nil
	}

	rec.NextCheckAt = c.now().Add(c.checkInterval).UnixMilli()
	if err := c.store.Save(*rec); err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "license validated",
		slog.String("license_key", MaskKey(rec.LicenseKey)),
		slog.String("status", resp.Status),
		slog.Bool("bound", resp.Bound),
		slog.Time("next_check_at", rec.NextCheck()),
	)
	return &ValidationResult{
		Outcome: ValidationOK,
		Status:  resp.Status,
		Plan:    resp.Plan,
		Seats:   resp.Seats,
		Bound:   resp.Bound,
	}, nil
}

// Ping records freshness server-side after a successful validation.
// Failure is non-fatal and carries no state change.
func (c *Client) Ping(ctx context.Context) bool {
	rec, err := c.store.Load()
	if err != nil || rec == nil {
		return false
	}

	resp, err := c.remote.Ping(ctx, licensing.PingRequest{
		Key:         rec.LicenseKey,
		ProfileHash: rec.ProfileHash,
	})
	if err != nil {
		c.logger.DebugContext(ctx, "license ping failed",
			slog.String("code", CodeOf(err)),
		)
		return false
	}
	return resp.OK
}

// Deactivate releases this device's seat and clears the local cache.
// Extension point for seat transfer; the service must support it.
func (c *Client) Deactivate(ctx context.Context) (*ActivationResult, error) {
	rec, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &ActivationResult{Accepted: true, Message: "not_activated"}, nil
	}

	if _, err := c.remote.Deactivate(ctx, licensing.DeactivateRequest{
		Key:         rec.LicenseKey,
		ProfileHash: rec.ProfileHash,
	}); err != nil {
		code := CodeOf(err)
		// An authoritative rejection means the seat is already gone
		// server-side; drop the local cache either way.
		if !authoritative(code) {
			return &ActivationResult{Code: code}, nil
		}
	}

	if err := c.store.Clear(); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "license deactivated",
		slog.String("license_key", MaskKey(rec.LicenseKey)),
	)
	return &ActivationResult{Accepted: true, Message: "deactivated"}, nil
}

// Cached returns the current cached record, or nil when unlicensed.
func (c *Client) Cached() *Record {
	rec, err := c.store.Load()
	if err != nil {
		c.logger.Warn("failed to read license cache", slog.String("error", err.Error()))
		return nil
	}
	return rec
}

// IsLicensed reports cache presence. Presence means "was valid as of
// the last check"; staleness is the scheduler's problem, not the
// caller's.
func (c *Client) IsLicensed() bool {
	return c.Cached() != nil
}

// Due reports whether the cached license has passed its revalidation
// deadline. False when unlicensed.
func (c *Client) Due() bool {
	rec := c.Cached()
	return rec != nil && !c.now().Before(rec.NextCheck())
}

// MaskKey hides all but the final group of a license key for logging.
func MaskKey(key string) string {
	clean := licensing.NormalizeKey(key)
	if len(clean) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(clean)-4) + clean[len(clean)-4:]
}
