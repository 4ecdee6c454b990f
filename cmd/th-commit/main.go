package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/colinrozzi/th-commit/pkg/client"
	"github.com/colinrozzi/th-commit/pkg/config"
	"github.com/colinrozzi/th-commit/pkg/events"
	"github.com/colinrozzi/th-commit/pkg/log"
	"github.com/colinrozzi/th-commit/pkg/protocol"
	"github.com/colinrozzi/th-commit/pkg/ui"
)

func main() {
	cmd := &cli.Command{
		Name:                  "th-commit",
		EnableShellCompletion: true,
		Usage:                 "Stage, generate a commit message, commit, and optionally push via the th-commit daemon",
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
				Usage:   "Daemon TCP address",
				Value:   "",
				Sources: cli.EnvVars(config.EnvServerAddress),
			},
			&cli.StringFlag{
				Name:    "repo",
				Aliases: []string{"r"},
				Usage:   "Repository to commit in (defaults to the working directory)",
				Value:   "",
			},
			&cli.StringFlag{
				Name:  "hint",
				Usage: "Extra context for the generated commit message",
				Value: "",
			},
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "Prefix prepended to the generated commit message",
				Value: "",
			},
			&cli.BoolFlag{
				Name:    "push",
				Aliases: []string{"p"},
				Usage:   "Push to the remote after committing",
			},
			&cli.BoolFlag{
				Name:  "skip-staging",
				Usage: "Commit only what is already staged",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Stop after generating the message, without committing",
			},
			&cli.IntFlag{
				Name:  "timeout-seconds",
				Usage: "Maximum seconds to wait between progress events",
				Value: 120,
			},
			&cli.BoolFlag{
				Name:    "no-color",
				Usage:   "Disable colored output",
				Sources: cli.EnvVars("NO_COLOR"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("th-commit")

	cfg := config.LoadOrDefault(command.String("config"))

	if address := command.String("address"); address != "" {
		cfg.ServerAddress = address
	}

	repoPath := command.String("repo")
	if repoPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}

		repoPath = cwd
	}

	repoPath, err := filepath.Abs(repoPath)
	if err != nil {
		return err
	}

	presenter := ui.NewPresenter(os.Stdout, command.Bool("no-color"))

	session, err := client.Dial(ctx, cfg.ServerAddress, logger, client.DialConfig{})
	if err != nil {
		presenter.Failed(&events.RunFailed{
			Stage:  events.StageTransport,
			Reason: err.Error(),
		})

		return cli.Exit("", events.ExitTransport)
	}
	defer func() {
		_ = session.Close()
	}()

	tracker := &runTracker{Presenter: presenter}

	controller := client.NewController(session, tracker, logger, client.ControllerConfig{
		EventTimeout: time.Duration(command.Int("timeout-seconds")) * time.Second,
	})

	// Ctrl-C requests cancellation; the daemon refuses once the commit
	// stage has begun and the run finishes on its own.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		for range sigChan {
			if runID := tracker.RunID(); runID != "" {
				if _, err := controller.Cancel(ctx, runID); err != nil {
					logger.Warn("Cancellation request failed", "run_id", runID, "error", err)
				}
			}
		}
	}()

	exitCode := controller.Run(ctx, protocol.StartRequest{
		RepositoryPath: repoPath,
		Hint:           command.String("hint"),
		Prefix:         command.String("prefix"),
		Push:           command.Bool("push"),
		SkipStaging:    command.Bool("skip-staging"),
		DryRun:         command.Bool("dry-run"),
	})

	if exitCode != 0 {
		return cli.Exit("", exitCode)
	}

	return nil
}

// runTracker passes every event through to the real presenter while
// remembering the run ID so a signal handler can cancel the right run.
type runTracker struct {
	client.Presenter

	mu    sync.Mutex
	runID string
}

func (t *runTracker) RunStarted(runID, repositoryPath string) {
	t.mu.Lock()
	t.runID = runID
	t.mu.Unlock()

	t.Presenter.RunStarted(runID, repositoryPath)
}

func (t *runTracker) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.runID
}
