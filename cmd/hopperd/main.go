// hopperd is the ClosetHopper companion daemon: it holds the device's
// license state, revalidates it in the background, and serves the
// local API the extension popup talks to.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"closethopper/internal/agent"
	"closethopper/internal/config"
	"closethopper/internal/infrastructure"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Error("failed to initialize logger", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer infrastructure.CloseLogFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := infrastructure.InitializeTracing(ctx, cfg.Tracing.Enabled, "closethopper-agent", logger)
	if err != nil {
		logger.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	app := agent.New(cfg, logger)
	if err := app.Run(ctx); err != nil {
		logger.Error("agent exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
