// Package agent wires the device-side companion: device identity,
// license client, capability gate, revalidation scheduler, and the
// local HTTP API the popup UI talks to.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"closethopper/internal/config"
	"closethopper/internal/device"
	"closethopper/internal/license"
	"closethopper/internal/listing"
	"closethopper/internal/marketplace"
)

// App is the assembled companion daemon.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	scheduler *license.Scheduler
	server    *http.Server
}

// New builds the companion from configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	identity := device.NewIdentity(cfg.Paths.StateDir, logger)
	store := license.NewStore(cfg.Paths.StateDir, logger)
	remote := license.NewHTTPRemote(cfg.License.ServiceURL, cfg.License.RequestTimeout, logger)
	client := license.NewClient(remote, store, identity, cfg.License.CheckInterval, logger)
	gate := license.NewGate(client, logger)
	scheduler := license.NewScheduler(client, cfg.License.WakeInterval, logger)
	listings := listing.NewStore(cfg.Paths.DataDir, logger)

	handler := NewHandler(client, gate, listings, marketplace.NewFieldScraper(), logger)

	return &App{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "agent")),
		scheduler: scheduler,
		server: &http.Server{
			Addr:    cfg.Agent.ListenAddr,
			Handler: handler.Routes(),
		},
	}
}

// Run starts the scheduler and the local API, and blocks until ctx is
// canceled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start(ctx)
	defer a.scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("local API listening",
			slog.String("addr", a.server.Addr),
		)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("local API failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Agent.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("local API shutdown: %w", err)
	}

	a.logger.Info("agent stopped")
	return nil
}
