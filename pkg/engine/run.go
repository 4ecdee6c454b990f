// Package engine implements the workflow state machine that drives a commit
// run: stage changes, generate a message, commit, push. Each run is owned
// exclusively by the engine; clients observe it only through the progress
// events it emits.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/colinrozzi/th-commit/pkg/events"
)

// State names a position in the run state machine.
type State string

const (
	StateIdle       State = "idle"
	StateDetecting  State = "detecting"
	StateGenerating State = "generating"
	StateCommitting State = "committing"
	StatePushing    State = "pushing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Request describes one commit run. It is created once per invocation and
// never mutated afterwards.
type Request struct {
	RepositoryPath string `validate:"required"`
	Hint           string
	// Prefix is prepended to the generated message before the commit is
	// created.
	Prefix      string
	Push        bool
	SkipStaging bool
	DryRun      bool
}

// StageError is a pipeline failure classified by the stage it happened in.
type StageError struct {
	Stage events.Stage
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// Run is the live instance of one pipeline execution. Journal holds every
// event emitted for it, for replay after a client reconnect.
type Run struct {
	ID        string
	Request   Request
	StartedAt time.Time
	Journal   *Journal

	mu        sync.Mutex
	state     State
	cancelled bool
	cancelFn  func()
	sequence  uint64

	changeSet []events.Change
	message   string
	fallback  bool
	commitID  string
	err       *StageError
}

func NewRun(request Request) *Run {
	return &Run{
		ID:        "run-" + uuid.New().String()[:8],
		Request:   request,
		StartedAt: time.Now().UTC(),
		Journal:   NewJournal(),
		state:     StateIdle,
	}
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

func (r *Run) CommitID() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.commitID
}

func (r *Run) Message() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.message
}

func (r *Run) Err() *StageError {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

// Cancel requests cancellation. It is honored only before the commit stage
// has begun: once a commit is initiated the run is never aborted, because
// partial-commit rollback is out of scope.
func (r *Run) Cancel() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateIdle, StateDetecting, StateGenerating:
		r.cancelled = true
		if r.cancelFn != nil {
			r.cancelFn()
		}

		return true, ""
	case StateDone, StateFailed:
		return false, "run already finished"
	default:
		return false, "commit already initiated, run cannot be cancelled"
	}
}

func (r *Run) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cancelled
}

func (r *Run) setState(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = state
}

func (r *Run) nextSequence() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sequence++

	return r.sequence
}

// Terminal reports whether the run has finished, successfully or not.
func (r *Run) Terminal() bool {
	state := r.State()

	return state == StateDone || state == StateFailed
}
