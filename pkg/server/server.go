// Package server implements the daemon side of the orchestration protocol:
// a TCP listener speaking newline-delimited JSON frames, a registry of live
// runs, and fan-out of run progress events to connected sessions.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/colinrozzi/th-commit/pkg/engine"
	"github.com/colinrozzi/th-commit/pkg/eventbus"
	"github.com/colinrozzi/th-commit/pkg/events"
	"github.com/colinrozzi/th-commit/pkg/persistence"
)

// watcherBuffer sizes the per-session event channel. A run emits a handful
// of events, so the buffer comfortably covers a full run.
const watcherBuffer = 32

// Server accepts client connections and owns every run started through
// them. Runs outlive the session that started them: a client can drop the
// connection and re-attach later with run.resume.
type Server struct {
	addr        string
	engine      *engine.Engine
	bus         eventbus.EventBus
	persistence persistence.Persistence
	validate    *validator.Validate
	logger      *slog.Logger
	startedAt   time.Time

	mu       sync.RWMutex
	runs     map[string]*engine.Run
	watchers map[string]map[string]chan events.Event

	listener net.Listener
	runCtx   context.Context
	wg       sync.WaitGroup
}

func New(
	addr string,
	eng *engine.Engine,
	bus eventbus.EventBus,
	persist persistence.Persistence,
	logger *slog.Logger,
) *Server {
	return &Server{
		addr:        addr,
		engine:      eng,
		bus:         bus,
		persistence: persist,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "server"),
		startedAt:   time.Now().UTC(),
		runs:        make(map[string]*engine.Run),
		watchers:    make(map[string]map[string]chan events.Event),
	}
}

// Start subscribes to the event bus, binds the listener, and begins
// accepting connections. It returns once the listener is bound; the accept
// loop runs until ctx is cancelled or Shutdown closes the listener.
func (s *Server) Start(ctx context.Context) error {
	s.runCtx = ctx

	for _, eventType := range []events.EventType{
		events.RunStartedEvent,
		events.ChangesDetectedEvent,
		events.MessageGeneratedEvent,
		events.CommittedEvent,
		events.PushedEvent,
		events.RunFailedEvent,
		events.RunCompletedEvent,
	} {
		if err := s.bus.Handle(eventType, s.handleEvent); err != nil {
			return err
		}
	}

	if err := s.bus.Subscribe(ctx); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.listener = listener
	s.logger.InfoContext(ctx, "Daemon listening", "address", listener.Addr().String())

	s.wg.Add(1)

	go s.acceptLoop(ctx)

	return nil
}

// Addr returns the bound listener address. Valid only after Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Shutdown closes the listener and waits for open sessions to finish their
// current frame handling.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			return err
		}
	}

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}

			s.logger.ErrorContext(ctx, "Failed to accept connection", "error", err)

			continue
		}

		session := newSession(conn, s)
		s.wg.Add(1)

		go func() {
			defer s.wg.Done()
			session.serve(ctx)
		}()
	}
}

// handleEvent receives every run progress event from the bus, archives
// terminal runs, and fans the event out to sessions watching the run.
func (s *Server) handleEvent(ctx context.Context, event events.Event) error {
	base := event.GetBase()

	if events.Terminal(event) {
		s.recordRun(ctx, base.RunID, event)
	}

	s.mu.RLock()
	channels := make([]chan events.Event, 0, len(s.watchers[base.RunID]))
	for _, ch := range s.watchers[base.RunID] {
		channels = append(channels, ch)
	}
	s.mu.RUnlock()

	for _, ch := range channels {
		select {
		case ch <- event:
		default:
			// The watcher fell behind; journal replay covers the gap after
			// a reconnect.
			s.logger.WarnContext(ctx, "Dropping event for slow watcher",
				"run_id", base.RunID, "event_type", base.Type, "sequence", base.Sequence)
		}
	}

	return nil
}

func (s *Server) recordRun(ctx context.Context, runID string, event events.Event) {
	run, ok := s.getRun(runID)
	if !ok {
		return
	}

	record := &persistence.RunRecord{
		RunID:          run.ID,
		RepositoryPath: run.Request.RepositoryPath,
		StartedAt:      run.StartedAt,
		FinishedAt:     time.Now().UTC(),
		Message:        run.Message(),
	}

	switch ev := event.(type) {
	case *events.RunCompleted:
		record.Success = true
		record.CommitID = ev.CommitID
		record.NothingToCommit = ev.NothingToCommit
		record.Duration = ev.Duration
	case *events.RunFailed:
		record.FailedStage = ev.Stage
		record.FailureReason = ev.Reason
		record.CommitID = ev.CommitID
		record.Duration = record.FinishedAt.Sub(record.StartedAt)
	}

	if err := s.persistence.RunRepository().Save(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "Failed to archive run", "run_id", runID, "error", err)
	}
}

func (s *Server) registerRun(run *engine.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
}

func (s *Server) getRun(runID string) (*engine.Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]

	return run, ok
}

// watch registers a per-session delivery channel for the run's events. A
// second watch from the same session replaces the previous channel.
func (s *Server) watch(runID, sessionID string) chan events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watchers[runID] == nil {
		s.watchers[runID] = make(map[string]chan events.Event)
	}

	ch := make(chan events.Event, watcherBuffer)
	s.watchers[runID][sessionID] = ch

	return ch
}

func (s *Server) unwatch(runID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if watchers, ok := s.watchers[runID]; ok {
		delete(watchers, sessionID)

		if len(watchers) == 0 {
			delete(s.watchers, runID)
		}
	}
}

// RunStatus is a snapshot of one registered run, served by the status API.
type RunStatus struct {
	RunID          string       `json:"run_id"`
	State          engine.State `json:"state"`
	RepositoryPath string       `json:"repository_path"`
	StartedAt      time.Time    `json:"started_at"`
}

func (s *Server) registeredRuns() []RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]RunStatus, 0, len(s.runs))
	for _, run := range s.runs {
		statuses = append(statuses, RunStatus{
			RunID:          run.ID,
			State:          run.State(),
			RepositoryPath: run.Request.RepositoryPath,
			StartedAt:      run.StartedAt,
		})
	}

	return statuses
}
