package license

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNotLicensed is returned by RequireLicense when no license is
// cached for this installation.
var ErrNotLicensed = errors.New("not licensed")

// Gate is the capability boundary feature code consults before
// enabling listing download or relisting. It answers synchronously
// from the local cache and never blocks on the network; when the
// cached state is past its check deadline it still grants, and kicks
// off one coalesced background revalidation to let the cache catch up.
type Gate struct {
	client         *Client
	logger         *slog.Logger
	group          singleflight.Group
	refreshTimeout time.Duration
}

// NewGate creates a capability gate over the license client.
func NewGate(client *Client, logger *slog.Logger) *Gate {
	return &Gate{
		client:         client,
		logger:         logger.With(slog.String("component", "license_gate")),
		refreshTimeout: 15 * time.Second,
	}
}

// IsLicensed reports whether this installation currently holds a
// license. Never errors: storage trouble reads as unlicensed.
func (g *Gate) IsLicensed(ctx context.Context) bool {
	rec := g.client.Cached()
	if rec == nil {
		return false
	}

	if g.client.Due() {
		// Grant optimistically on the stale cache and refresh behind
		// the caller's back. Concurrent callers share one flight.
		go g.refresh()
	}
	return true
}

// RequireLicense gates an entry point, returning ErrNotLicensed when
// the capability is absent.
func (g *Gate) RequireLicense(ctx context.Context) error {
	if !g.IsLicensed(ctx) {
		return ErrNotLicensed
	}
	return nil
}

func (g *Gate) refresh() {
	_, _, _ = g.group.Do("revalidate", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), g.refreshTimeout)
		defer cancel()

		res, err := g.client.Validate(ctx)
		if err != nil {
			g.logger.Warn("lazy revalidation failed", slog.String("error", err.Error()))
			return nil, nil
		}
		if res.Outcome == ValidationOK {
			g.client.Ping(ctx)
		}
		return nil, nil
	})
}
