package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/colinrozzi/th-commit/pkg/events"
	"github.com/colinrozzi/th-commit/pkg/protocol"
)

// Presenter renders run progress to the user. One method per progress
// event; the controller calls them in event order.
type Presenter interface {
	RunStarted(runID, repositoryPath string)
	ChangesDetected(detected *events.ChangesDetected)
	MessageGenerated(text string, fallback bool)
	Committed(commitID string)
	Pushed(remote string)
	Completed(completed *events.RunCompleted)
	Failed(failed *events.RunFailed)
}

// Transport is the slice of Session the controller depends on.
type Transport interface {
	Send(ctx context.Context, method string, payload, result any) error
	NextEvent(ctx context.Context, timeout time.Duration) (events.Event, error)
}

// ControllerConfig bounds how long the controller waits between events
// before treating the stream as dead.
type ControllerConfig struct {
	EventTimeout time.Duration
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.EventTimeout == 0 {
		c.EventTimeout = 2 * time.Minute
	}

	return c
}

// Controller drives one commit run: it sends run.start, consumes the event
// stream, forwards each event to the presenter, and maps the terminal event
// to a process exit code.
type Controller struct {
	transport Transport
	presenter Presenter
	logger    *slog.Logger
	config    ControllerConfig
}

func NewController(transport Transport, presenter Presenter, logger *slog.Logger, config ControllerConfig) *Controller {
	return &Controller{
		transport: transport,
		presenter: presenter,
		logger:    logger.With("module", "controller"),
		config:    config.withDefaults(),
	}
}

// Run executes one commit run end to end and returns the process exit
// code. Transport failures never panic or hang: they surface as a
// synthesized transport-stage failure and exit code 14.
func (c *Controller) Run(ctx context.Context, request protocol.StartRequest) int {
	var started protocol.StartResponse

	if err := c.transport.Send(ctx, protocol.MethodRunStart, request, &started); err != nil {
		return c.transportFailure("failed to start run: " + err.Error())
	}

	// Delivery is at-least-once; the cursor drops redelivered events.
	var cursor uint64

	for {
		event, err := c.transport.NextEvent(ctx, c.config.EventTimeout)
		if err != nil {
			switch {
			case errors.Is(err, ErrEventTimeout):
				return c.transportFailure("no progress from daemon within " + c.config.EventTimeout.String())
			case errors.Is(err, ErrSessionClosed):
				return c.transportFailure("connection closed before the run finished")
			default:
				return c.transportFailure(err.Error())
			}
		}

		base := event.GetBase()
		if base.RunID != started.RunID || base.Sequence <= cursor {
			continue
		}

		cursor = base.Sequence

		if exitCode, terminal := c.present(event); terminal {
			return exitCode
		}
	}
}

// Cancel asks the daemon to cancel the run. The daemon refuses once the
// commit stage has begun.
func (c *Controller) Cancel(ctx context.Context, runID string) (protocol.CancelResponse, error) {
	var response protocol.CancelResponse

	err := c.transport.Send(ctx, protocol.MethodRunCancel, protocol.CancelRequest{RunID: runID}, &response)

	return response, err
}

// present forwards one event to the presenter and reports whether it was
// terminal, with the exit code if so.
func (c *Controller) present(event events.Event) (int, bool) {
	switch ev := event.(type) {
	case *events.RunStarted:
		c.presenter.RunStarted(ev.RunID, ev.RepositoryPath)
	case *events.ChangesDetected:
		c.presenter.ChangesDetected(ev)
	case *events.MessageGenerated:
		c.presenter.MessageGenerated(ev.Text, ev.Fallback)
	case *events.Committed:
		c.presenter.Committed(ev.CommitID)
	case *events.Pushed:
		c.presenter.Pushed(ev.Remote)
	case *events.RunCompleted:
		c.presenter.Completed(ev)

		return events.ExitSuccess, true
	case *events.RunFailed:
		c.presenter.Failed(ev)

		return ev.Stage.ExitCode(), true
	default:
		c.logger.Warn("Ignoring unknown event", "event_type", event.GetType())
	}

	return 0, false
}

func (c *Controller) transportFailure(reason string) int {
	c.presenter.Failed(&events.RunFailed{
		BaseEvent: events.BaseEvent{Type: events.RunFailedEvent},
		Stage:     events.StageTransport,
		Reason:    reason,
	})

	return events.ExitTransport
}
