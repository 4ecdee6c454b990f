package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/colinrozzi/th-commit/pkg/config"
	"github.com/colinrozzi/th-commit/pkg/log"
)

func main() {
	cmd := &cli.Command{
		Name:                  "th-commitd",
		EnableShellCompletion: true,
		Usage:                 "Long-lived daemon that stages, commits, and pushes on behalf of th-commit clients",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				Value:   "",
				Sources: cli.EnvVars("TH_COMMIT_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "address",
				Usage:   "TCP address to listen on",
				Value:   "",
				Sources: cli.EnvVars(config.EnvServerAddress),
			},
			&cli.StringFlag{
				Name:    "state-dir",
				Usage:   "Directory for run history storage",
				Value:   "",
				Sources: cli.EnvVars("TH_COMMIT_STATE_DIR"),
			},
			&cli.StringFlag{
				Name:    "gemini-api-key",
				Usage:   "API key for the commit message generation service",
				Value:   "",
				Sources: cli.EnvVars(config.EnvGeminiAPIKey),
			},
			&cli.IntFlag{
				Name:    "status-port",
				Usage:   "HTTP port for the read-only status API (0 disables it)",
				Value:   0,
				Sources: cli.EnvVars("TH_COMMIT_STATUS_PORT"),
			},
			&cli.BoolFlag{
				Name:    "disable-fallback",
				Usage:   "Fail the run instead of using a templated message when generation is unavailable",
				Sources: cli.EnvVars("TH_COMMIT_DISABLE_FALLBACK"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces for pipeline stages",
				Sources: cli.EnvVars("TH_COMMIT_TRACING"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			cfg := config.LoadOrDefault(command.String("config"))

			if address := command.String("address"); address != "" {
				cfg.ServerAddress = address
			}

			if stateDir := command.String("state-dir"); stateDir != "" {
				cfg.StateDir = stateDir
			}

			if apiKey := command.String("gemini-api-key"); apiKey != "" {
				cfg.GeminiAPIKey = apiKey
			}

			if port := command.Int("status-port"); port != 0 {
				cfg.StatusPort = port
			}

			if command.Bool("disable-fallback") {
				cfg.DisableFallback = true
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			daemon := NewDaemon(cfg, command.Bool("tracing"), log.WithModule("th-commitd"))

			return daemon.Run(ctx)
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
