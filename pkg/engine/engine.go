package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/colinrozzi/th-commit/pkg/eventbus"
	"github.com/colinrozzi/th-commit/pkg/events"
	"github.com/colinrozzi/th-commit/pkg/generator"
	"github.com/colinrozzi/th-commit/pkg/gitops"
	"github.com/colinrozzi/th-commit/pkg/otelhelper"
	"github.com/colinrozzi/th-commit/pkg/retry"
)

// Config bounds each external collaborator call. Exceeding a stage timeout
// fails that stage the same way a hard collaborator error does.
type Config struct {
	DetectTimeout    time.Duration
	GenerateTimeout  time.Duration
	CommitTimeout    time.Duration
	PushTimeout      time.Duration
	CommitRetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.DetectTimeout == 0 {
		c.DetectTimeout = 30 * time.Second
	}

	if c.GenerateTimeout == 0 {
		c.GenerateTimeout = 60 * time.Second
	}

	if c.CommitTimeout == 0 {
		c.CommitTimeout = 30 * time.Second
	}

	if c.PushTimeout == 0 {
		c.PushTimeout = 120 * time.Second
	}

	if c.CommitRetryDelay == 0 {
		c.CommitRetryDelay = 500 * time.Millisecond
	}

	return c
}

// Engine sequences the commit pipeline for one run at a time, invoking the
// external collaborators and emitting one progress event per transition.
type Engine struct {
	detector  gitops.ChangeDetector
	generator generator.Generator
	fallback  generator.Generator
	committer gitops.Committer
	pusher    gitops.Pusher
	sink      eventbus.EventPublisher
	logger    *slog.Logger
	tracer    trace.Tracer
	config    Config
}

type Option func(*Engine)

// WithFallbackGenerator enables degraded-mode message generation: when the
// primary generator fails, the fallback's templated message is substituted
// and the run proceeds.
func WithFallbackGenerator(fallback generator.Generator) Option {
	return func(e *Engine) { e.fallback = fallback }
}

// WithTracer enables one span per pipeline stage.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func WithConfig(config Config) Option {
	return func(e *Engine) { e.config = config }
}

func New(
	detector gitops.ChangeDetector,
	gen generator.Generator,
	committer gitops.Committer,
	pusher gitops.Pusher,
	sink eventbus.EventPublisher,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		detector:  detector,
		generator: gen,
		committer: committer,
		pusher:    pusher,
		sink:      sink,
		logger:    logger.With("module", "engine"),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.config = e.config.withDefaults()

	return e
}

// Execute drives run through the pipeline until it reaches a terminal
// state. It always emits exactly one terminal event (RunCompleted or
// RunFailed) and never returns an error past the engine boundary: every
// failure becomes a RunFailed event.
func (e *Engine) Execute(ctx context.Context, run *Run) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	run.mu.Lock()
	run.cancelFn = cancel
	if run.cancelled {
		// Cancelled before the pipeline started.
		cancel()
	}
	run.mu.Unlock()

	logger := e.logger.With("run_id", run.ID, "repository", run.Request.RepositoryPath)
	logger.InfoContext(ctx, "Starting commit run")

	run.setState(StateDetecting)
	e.emit(ctx, run, events.RunStartedEvent, func(base events.BaseEvent) events.Event {
		return events.RunStarted{BaseEvent: base, RepositoryPath: run.Request.RepositoryPath}
	})

	changeSet, stat, err := e.detect(runCtx, run)
	if err != nil {
		e.fail(ctx, run, logger, events.StageDetecting, err)

		return
	}

	if len(changeSet) == 0 {
		logger.InfoContext(ctx, "No pending changes, nothing to commit")
		e.complete(ctx, run, logger, events.RunCompleted{NothingToCommit: true})

		return
	}

	run.mu.Lock()
	run.changeSet = changeSet
	run.mu.Unlock()

	run.setState(StateGenerating)
	e.emit(ctx, run, events.ChangesDetectedEvent, func(base events.BaseEvent) events.Event {
		return events.ChangesDetected{BaseEvent: base, Count: len(changeSet), Summary: changeSet, Stat: stat}
	})

	message, usedFallback, err := e.generate(runCtx, run, changeSet)
	if err != nil {
		e.fail(ctx, run, logger, events.StageGenerating, err)

		return
	}

	if prefix := strings.TrimSpace(run.Request.Prefix); prefix != "" {
		message = prefix + " " + message
	}

	run.mu.Lock()
	run.message = message
	run.fallback = usedFallback
	run.mu.Unlock()

	e.emit(ctx, run, events.MessageGeneratedEvent, func(base events.BaseEvent) events.Event {
		return events.MessageGenerated{BaseEvent: base, Text: message, Fallback: usedFallback}
	})

	if run.Request.DryRun {
		logger.InfoContext(ctx, "Dry run, stopping before commit", "message", message)
		e.complete(ctx, run, logger, events.RunCompleted{DryRun: true, Stat: stat})

		return
	}

	// Cancellation past this point is rejected; the pipeline runs to a
	// terminal state on its own.
	run.setState(StateCommitting)

	commitID, err := e.commit(runCtx, run, message)
	if err != nil {
		e.fail(ctx, run, logger, events.StageCommitting, err)

		return
	}

	run.mu.Lock()
	run.commitID = commitID
	run.mu.Unlock()

	e.emit(ctx, run, events.CommittedEvent, func(base events.BaseEvent) events.Event {
		return events.Committed{BaseEvent: base, CommitID: commitID}
	})

	if !run.Request.Push {
		e.complete(ctx, run, logger, events.RunCompleted{CommitID: commitID, Stat: stat})

		return
	}

	run.setState(StatePushing)

	remote, err := e.push(runCtx, run)
	if err != nil {
		// The commit already made is never rolled back; the failure names
		// it so the user knows local progress survived.
		e.fail(ctx, run, logger, events.StagePushing, err)

		return
	}

	e.emit(ctx, run, events.PushedEvent, func(base events.BaseEvent) events.Event {
		return events.Pushed{BaseEvent: base, Remote: remote}
	})

	e.complete(ctx, run, logger, events.RunCompleted{CommitID: commitID, Stat: stat})
}

func (e *Engine) detect(ctx context.Context, run *Run) ([]events.Change, events.DiffStat, error) {
	ctx, span := e.startStageSpan(ctx, run, events.StageDetecting)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.config.DetectTimeout)
	defer cancel()

	changeSet, stat, err := e.detector.DetectChanges(ctx, run.Request.RepositoryPath, !run.Request.SkipStaging)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, events.DiffStat{}, err
	}

	return changeSet, stat, nil
}

func (e *Engine) generate(ctx context.Context, run *Run, changeSet []events.Change) (string, bool, error) {
	ctx, span := e.startStageSpan(ctx, run, events.StageGenerating)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.config.GenerateTimeout)
	defer cancel()

	message, err := e.generator.GenerateMessage(ctx, changeSet, run.Request.Hint)
	if err == nil {
		return message, false, nil
	}

	if e.fallback == nil || run.isCancelled() {
		otelhelper.SetError(span, err)

		return "", false, err
	}

	e.logger.WarnContext(ctx, "Generation service failed, using templated fallback",
		"run_id", run.ID, "error", err)

	message, fallbackErr := e.fallback.GenerateMessage(ctx, changeSet, run.Request.Hint)
	if fallbackErr != nil {
		otelhelper.SetError(span, fallbackErr)

		return "", false, fallbackErr
	}

	return message, true, nil
}

func (e *Engine) commit(ctx context.Context, run *Run, message string) (string, error) {
	ctx, span := e.startStageSpan(ctx, run, events.StageCommitting)
	defer span.End()

	var commitID string

	// Exactly one retry, and only for lock contention.
	err := retry.Do(ctx, 2, e.config.CommitRetryDelay,
		func(err error) bool { return errors.Is(err, gitops.ErrRepositoryLocked) },
		func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, e.config.CommitTimeout)
			defer cancel()

			var err error
			commitID, err = e.committer.Commit(attemptCtx, run.Request.RepositoryPath, message)

			return err
		})
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	span.SetAttributes(attribute.String(otelhelper.CommitIDKey, commitID))

	return commitID, nil
}

func (e *Engine) push(ctx context.Context, run *Run) (string, error) {
	ctx, span := e.startStageSpan(ctx, run, events.StagePushing)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.config.PushTimeout)
	defer cancel()

	remote, err := e.pusher.Push(ctx, run.Request.RepositoryPath)
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	return remote, nil
}

func (e *Engine) fail(ctx context.Context, run *Run, logger *slog.Logger, stage events.Stage, cause error) {
	reason := cause.Error()

	if run.isCancelled() {
		stage = events.StageCancelled
		reason = "run cancelled by client"
	}

	stageErr := &StageError{Stage: stage, Cause: cause}

	run.mu.Lock()
	run.state = StateFailed
	run.err = stageErr
	commitID := run.commitID
	run.mu.Unlock()

	if stage == events.StagePushing && commitID != "" {
		reason = reason + "; local commit " + commitID + " was created and is preserved, retry the push manually"
	}

	logger.ErrorContext(ctx, "Commit run failed", "stage", stage, "error", cause)

	e.emit(ctx, run, events.RunFailedEvent, func(base events.BaseEvent) events.Event {
		return events.RunFailed{BaseEvent: base, Stage: stage, Reason: reason, CommitID: commitID}
	})
}

func (e *Engine) complete(ctx context.Context, run *Run, logger *slog.Logger, completed events.RunCompleted) {
	run.setState(StateDone)

	completed.Duration = time.Since(run.StartedAt)

	logger.InfoContext(ctx, "Commit run completed",
		"commit_id", completed.CommitID,
		"nothing_to_commit", completed.NothingToCommit,
		"duration", completed.Duration)

	e.emit(ctx, run, events.RunCompletedEvent, func(base events.BaseEvent) events.Event {
		completed.BaseEvent = base

		return completed
	})
}

// emit assigns the next sequence number, journals the event, and publishes
// it on the bus. Publish failures are logged, not fatal: the journaled copy
// still reaches reconnecting clients through replay.
func (e *Engine) emit(ctx context.Context, run *Run, eventType events.EventType, build func(events.BaseEvent) events.Event) {
	event := build(events.NewBaseEvent(eventType, run.ID, run.nextSequence()))

	run.Journal.Append(event)

	if err := e.sink.Publish(ctx, run.ID, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish progress event",
			"run_id", run.ID, "event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) startStageSpan(ctx context.Context, run *Run, stage events.Stage) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return otelhelper.StartSpan(ctx, e.tracer, "run."+string(stage),
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.StageKey, string(stage)),
		attribute.String(otelhelper.RepositoryKey, run.Request.RepositoryPath),
	)
}
