package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/colinrozzi/th-commit/pkg/cmd"
	"github.com/colinrozzi/th-commit/pkg/config"
	"github.com/colinrozzi/th-commit/pkg/engine"
	"github.com/colinrozzi/th-commit/pkg/generator"
	"github.com/colinrozzi/th-commit/pkg/gitops"
	"github.com/colinrozzi/th-commit/pkg/otelhelper"
	"github.com/colinrozzi/th-commit/pkg/server"
)

const shutdownTimeout = 10 * time.Second

// Daemon assembles the engine, event bus, persistence, and protocol server
// and runs them until a termination signal arrives.
type Daemon struct {
	config  config.Config
	tracing bool
	logger  *slog.Logger
}

func NewDaemon(cfg config.Config, tracing bool, logger *slog.Logger) *Daemon {
	return &Daemon{
		config:  cfg,
		tracing: tracing,
		logger:  logger,
	}
}

func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.logger.InfoContext(ctx, "Initializing th-commit daemon",
		"address", d.config.ServerAddress, "state_dir", d.config.StateDir)

	eventBus := cmd.NewEventBus(d.logger)
	defer func() {
		if err := eventBus.Close(); err != nil {
			d.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	persistence := cmd.NewPersistence(ctx, d.logger, d.config.StateDir)
	defer func() {
		if err := persistence.Close(ctx); err != nil {
			d.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	git := gitops.NewCLI()

	if d.config.GeminiAPIKey == "" {
		d.logger.WarnContext(ctx, "No generation API key configured, runs will use the templated fallback",
			"env", config.EnvGeminiAPIKey)
	}

	options := []engine.Option{
		engine.WithConfig(d.config.EngineConfig()),
	}

	if !d.config.DisableFallback {
		options = append(options, engine.WithFallbackGenerator(generator.NewFallback()))
	}

	if d.tracing {
		tracer, err := otelhelper.NewTracer(ctx, "th-commitd")
		if err != nil {
			return err
		}

		options = append(options, engine.WithTracer(tracer))
	}

	eng := engine.New(
		git,
		generator.NewGemini(d.config.GeminiAPIKey),
		git,
		git,
		eventBus,
		d.logger,
		options...,
	)

	srv := server.New(d.config.ServerAddress, eng, eventBus, persistence, d.logger)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	statusAPI := server.NewStatusAPI(srv)

	if d.config.StatusPort > 0 {
		go func() {
			if err := statusAPI.Start(d.config.StatusPort); err != nil {
				d.logger.ErrorContext(ctx, "Status API stopped", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		d.logger.InfoContext(ctx, "Shutting down daemon", "signal", sig.String())
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := statusAPI.Shutdown(shutdownCtx); err != nil {
		d.logger.ErrorContext(ctx, "Failed to stop status API", "error", err)
	}

	return srv.Shutdown(shutdownCtx)
}
