package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colinrozzi/th-commit/pkg/events"
	"github.com/colinrozzi/th-commit/pkg/gitops"
)

// Test collaborators.

type fakeDetector struct {
	changeSet []events.Change
	stat      events.DiffStat
	err       error
	calls     int
}

func (d *fakeDetector) DetectChanges(_ context.Context, _ string, _ bool) ([]events.Change, events.DiffStat, error) {
	d.calls++

	return d.changeSet, d.stat, d.err
}

type fakeGenerator struct {
	message string
	err     error
	delay   time.Duration
	calls   int
}

func (g *fakeGenerator) GenerateMessage(ctx context.Context, _ []events.Change, _ string) (string, error) {
	g.calls++

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return g.message, g.err
}

type fakeCommitter struct {
	commitID string
	errs     []error
	calls    int
}

func (c *fakeCommitter) Commit(_ context.Context, _, _ string) (string, error) {
	c.calls++

	if len(c.errs) >= c.calls {
		if err := c.errs[c.calls-1]; err != nil {
			return "", err
		}
	}

	return c.commitID, nil
}

type fakePusher struct {
	remote string
	err    error
	calls  int
}

func (p *fakePusher) Push(_ context.Context, _ string) (string, error) {
	p.calls++

	if p.err != nil {
		return "", p.err
	}

	if p.remote == "" {
		return "origin", nil
	}

	return p.remote, nil
}

// collectingSink records every published event in order.
type collectingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *collectingSink) Publish(_ context.Context, _ string, event events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)

	return nil
}

func (s *collectingSink) types() []events.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()

	eventTypes := make([]events.EventType, 0, len(s.events))
	for _, event := range s.events {
		eventTypes = append(eventTypes, event.GetType())
	}

	return eventTypes
}

var testChangeSet = []events.Change{
	{Path: "a.go", Kind: events.ChangeModified},
	{Path: "b.go", Kind: events.ChangeModified},
	{Path: "c.go", Kind: events.ChangeModified},
}

var testStat = events.DiffStat{FilesChanged: 3, Insertions: 10, Deletions: 2}

func testLogger() *slog.Logger {
	return slog.Default()
}

type harness struct {
	detector  *fakeDetector
	generator *fakeGenerator
	committer *fakeCommitter
	pusher    *fakePusher
	sink      *collectingSink
	engine    *Engine
}

func newHarness(opts ...Option) *harness {
	h := &harness{
		detector:  &fakeDetector{changeSet: testChangeSet, stat: testStat},
		generator: &fakeGenerator{message: "Refactor auth module"},
		committer: &fakeCommitter{commitID: "c1"},
		pusher:    &fakePusher{},
		sink:      &collectingSink{},
	}

	opts = append(opts, WithConfig(Config{CommitRetryDelay: time.Millisecond}))
	h.engine = New(h.detector, h.generator, h.committer, h.pusher, h.sink, testLogger(), opts...)

	return h
}

func newRun(request Request) *Run {
	request.Push = true
	if request.RepositoryPath == "" {
		request.RepositoryPath = "/repo"
	}

	return NewRun(request)
}

func TestExecute_FullPipelineSuccess(t *testing.T) {
	h := newHarness()
	run := newRun(Request{})

	h.engine.Execute(context.Background(), run)

	assert.Equal(t, []events.EventType{
		events.RunStartedEvent,
		events.ChangesDetectedEvent,
		events.MessageGeneratedEvent,
		events.CommittedEvent,
		events.PushedEvent,
		events.RunCompletedEvent,
	}, h.sink.types())

	assert.Equal(t, StateDone, run.State())
	assert.Equal(t, "c1", run.CommitID())

	detected, ok := h.sink.events[1].(events.ChangesDetected)
	require.True(t, ok)
	assert.Equal(t, 3, detected.Count)
	assert.Equal(t, testStat, detected.Stat)

	generated, ok := h.sink.events[2].(events.MessageGenerated)
	require.True(t, ok)
	assert.Equal(t, "Refactor auth module", generated.Text)
	assert.False(t, generated.Fallback)

	pushed, ok := h.sink.events[4].(events.Pushed)
	require.True(t, ok)
	assert.Equal(t, "origin", pushed.Remote)

	completed, ok := h.sink.events[5].(events.RunCompleted)
	require.True(t, ok)
	assert.Equal(t, "c1", completed.CommitID)
	assert.Equal(t, testStat, completed.Stat)
	assert.Greater(t, completed.Duration, time.Duration(0))
}

func TestExecute_PrefixPrependedToMessage(t *testing.T) {
	h := newHarness()
	run := newRun(Request{Prefix: "JIRA-42:"})

	h.engine.Execute(context.Background(), run)

	require.Equal(t, StateDone, run.State())

	generated, ok := h.sink.events[2].(events.MessageGenerated)
	require.True(t, ok)
	assert.Equal(t, "JIRA-42: Refactor auth module", generated.Text)
	assert.Equal(t, "JIRA-42: Refactor auth module", run.Message())
}

func TestExecute_GenerateTimeoutFailsGeneratingStage(t *testing.T) {
	h := newHarness()
	h.engine.config.GenerateTimeout = 5 * time.Millisecond
	h.generator.delay = time.Second
	run := newRun(Request{})

	h.engine.Execute(context.Background(), run)

	assert.Equal(t, []events.EventType{
		events.RunStartedEvent,
		events.ChangesDetectedEvent,
		events.RunFailedEvent,
	}, h.sink.types())

	failed, ok := h.sink.events[2].(events.RunFailed)
	require.True(t, ok)
	assert.Equal(t, events.StageGenerating, failed.Stage)
	assert.Equal(t, StateFailed, run.State())
	assert.Equal(t, 0, h.committer.calls)
}

func TestExecute_SequenceNumbersIncrease(t *testing.T) {
	h := newHarness()
	run := newRun(Request{})

	h.engine.Execute(context.Background(), run)

	for i, event := range h.sink.events {
		assert.Equal(t, uint64(i+1), event.GetBase().Sequence)
		assert.Equal(t, run.ID, event.GetBase().RunID)
	}
}

func TestExecute_NothingToCommit(t *testing.T) {
	h := newHarness()
	h.detector.changeSet = nil
	run := newRun(Request{})

	h.engine.Execute(context.Background(), run)

	assert.Equal(t, []events.EventType{
		events.RunStartedEvent,
		events.RunCompletedEvent,
	}, h.sink.types())

	completed, ok := h.sink.events[1].(events.RunCompleted)
	require.True(t, ok)
	assert.True(t, completed.NothingToCommit)

	// The later collaborators are never invoked.
	assert.Equal(t, 0, h.generator.calls)
	assert.Equal(t, 0, h.committer.calls)
	assert.Equal(t, 0, h.pusher.calls)
	assert.Equal(t, StateDone, run.State())
}

func TestExecute_DetectFailure(t *testing.T) {
	h := newHarness()
	h.detector.err = errors.New("permission denied")
	run := newRun(Request{})

	h.engine.Execute(context.Background(), run)

	assert.Equal(t, []events.EventType{
		events.RunStartedEvent,
		events.RunFailedEvent,
	}, h.sink.types())

	failed, ok := h.sink.events[1].(events.RunFailed)
	require.True(t, ok)
	assert.Equal(t, events.StageDetecting, failed.Stage)
	assert.Equal(t, StateFailed, run.State())
	require.NotNil(t, run.Err())
	assert.Equal(t, events.StageDetecting, run.Err().Stage)
}

func TestExecute_GenerationFailureWithoutFallback(t *testing.T) {
	h := newHarness()
	h.generator.err = errors.New("timeout")
	run := newRun(Request{})

	h.engine.Execute(context.Background(), run)

	assert.Equal(t, []events.EventType{
		events.RunStartedEvent,
		events.ChangesDetectedEvent,
		events.RunFailedEvent,
	}, h.sink.types())

	failed, ok := h.sink.events[2].(events.RunFailed)
	require.True(t, ok)
	assert.Equal(t, events.StageGenerating, failed.Stage)
	assert.Contains(t, failed.Reason, "timeout")
	assert.Equal(t, 0, h.committer.calls)
}

func TestExecute_GenerationFailureWithFallback(t *testing.T) {
	fallback := &fakeGenerator{message: "Update 3 files (3 modified)"}
	h := newHarness(WithFallbackGenerator(fallback))
	h.generator.err = errors.New("service unavailable")
	run := newRun(Request{})

	h.engine.Execute(context.Background(), run)

	assert.Equal(t, []events.EventType{
		events.RunStartedEvent,
		events.ChangesDetectedEvent,
		events.MessageGeneratedEvent,
		events.CommittedEvent,
		events.PushedEvent,
		events.RunCompletedEvent,
	}, h.sink.types())

	generated, ok := h.sink.events[2].(events.MessageGenerated)
	require.True(t, ok)
	assert.True(t, generated.Fallback)
	assert.Equal(t, "Update 3 files (3 modified)", generated.Text)
}

func TestExecute_CommitLockRetriedExactlyOnce(t *testing.T) {
	h := newHarness()
	h.committer.errs = []error{gitops.ErrRepositoryLocked, nil}
	run := newRun(Request{})

	h.engine.Execute(context.Background(), run)

	assert.Equal(t, 2, h.committer.calls)
	assert.Equal(t, StateDone, run.State())
	assert.Equal(t, "c1", run.CommitID())
}

func TestExecute_CommitLockPersistsFails(t *testing.T) {
	h := newHarness()
	h.committer.errs = []error{gitops.ErrRepositoryLocked, gitops.ErrRepositoryLocked}
	run := newRun(Request{})

	h.engine.Execute(context.Background(), run)

	assert.Equal(t, 2, h.committer.calls)

	failed, ok := h.sink.events[len(h.sink.events)-1].(events.RunFailed)
	require.True(t, ok)
	assert.Equal(t, events.StageCommitting, failed.Stage)
	assert.Equal(t, 0, h.pusher.calls)
}

func TestExecute_NonLockCommitFailureNeverRetried(t *testing.T) {
	h := newHarness()
	h.committer.errs = []error{errors.New("empty ident name")}
	run := newRun(Request{})

	h.engine.Execute(context.Background(), run)

	assert.Equal(t, 1, h.committer.calls)

	failed, ok := h.sink.events[len(h.sink.events)-1].(events.RunFailed)
	require.True(t, ok)
	assert.Equal(t, events.StageCommitting, failed.Stage)
}

func TestExecute_PushFailurePreservesCommit(t *testing.T) {
	h := newHarness()
	h.committer.commitID = "c2"
	h.pusher.err = errors.New("network unreachable")
	run := newRun(Request{})

	h.engine.Execute(context.Background(), run)

	assert.Equal(t, []events.EventType{
		events.RunStartedEvent,
		events.ChangesDetectedEvent,
		events.MessageGeneratedEvent,
		events.CommittedEvent,
		events.RunFailedEvent,
	}, h.sink.types())

	failed, ok := h.sink.events[4].(events.RunFailed)
	require.True(t, ok)
	assert.Equal(t, events.StagePushing, failed.Stage)
	assert.Equal(t, "c2", failed.CommitID)
	assert.Contains(t, failed.Reason, "c2")
	assert.Contains(t, failed.Reason, "preserved")

	// The commit is never rolled back and never re-attempted.
	assert.Equal(t, "c2", run.CommitID())
	assert.Equal(t, 1, h.committer.calls)
	assert.Equal(t, 1, h.pusher.calls)
}

func TestExecute_PushDisabledStopsAfterCommit(t *testing.T) {
	h := newHarness()
	run := NewRun(Request{RepositoryPath: "/repo", Push: false})

	h.engine.Execute(context.Background(), run)

	assert.Equal(t, []events.EventType{
		events.RunStartedEvent,
		events.ChangesDetectedEvent,
		events.MessageGeneratedEvent,
		events.CommittedEvent,
		events.RunCompletedEvent,
	}, h.sink.types())
	assert.Equal(t, 0, h.pusher.calls)
}

func TestExecute_DryRunStopsBeforeCommit(t *testing.T) {
	h := newHarness()
	run := newRun(Request{DryRun: true})

	h.engine.Execute(context.Background(), run)

	assert.Equal(t, []events.EventType{
		events.RunStartedEvent,
		events.ChangesDetectedEvent,
		events.MessageGeneratedEvent,
		events.RunCompletedEvent,
	}, h.sink.types())

	completed, ok := h.sink.events[3].(events.RunCompleted)
	require.True(t, ok)
	assert.True(t, completed.DryRun)
	assert.Equal(t, 0, h.committer.calls)
}

func TestExecute_CancelDuringGenerating(t *testing.T) {
	h := newHarness()
	h.generator.delay = 5 * time.Second
	run := newRun(Request{})

	go func() {
		// Wait until the run reaches the generating stage.
		for run.State() != StateGenerating {
			time.Sleep(time.Millisecond)
		}

		accepted, _ := run.Cancel()
		assert.True(t, accepted)
	}()

	done := make(chan struct{})

	go func() {
		h.engine.Execute(context.Background(), run)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled run did not terminate")
	}

	failed, ok := h.sink.events[len(h.sink.events)-1].(events.RunFailed)
	require.True(t, ok)
	assert.Equal(t, events.StageCancelled, failed.Stage)
	assert.Equal(t, 0, h.committer.calls)
}

func TestCancel_RejectedOnceCommitting(t *testing.T) {
	run := newRun(Request{})
	run.setState(StateCommitting)

	accepted, reason := run.Cancel()
	assert.False(t, accepted)
	assert.Contains(t, reason, "commit already initiated")

	run.setState(StatePushing)
	accepted, _ = run.Cancel()
	assert.False(t, accepted)
}

func TestExecute_JournalMatchesEmittedEvents(t *testing.T) {
	h := newHarness()
	run := newRun(Request{})

	h.engine.Execute(context.Background(), run)

	journal := run.Journal.All()
	require.Len(t, journal, len(h.sink.events))

	for i, event := range journal {
		assert.Equal(t, h.sink.events[i].GetType(), event.GetType())
		assert.Equal(t, h.sink.events[i].GetBase().Sequence, event.GetBase().Sequence)
	}

	// Replay from a cursor skips already-consumed events.
	replay := run.Journal.After(4)
	require.Len(t, replay, 2)
	assert.Equal(t, uint64(5), replay[0].GetBase().Sequence)
	assert.Equal(t, uint64(6), replay[1].GetBase().Sequence)
}

func TestExecute_FailedIsAlwaysFinal(t *testing.T) {
	h := newHarness()
	h.pusher.err = errors.New("network")
	run := newRun(Request{})

	h.engine.Execute(context.Background(), run)

	for i, event := range h.sink.events {
		if event.GetType() == events.RunFailedEvent {
			assert.Equal(t, len(h.sink.events)-1, i, "RunFailed must be the final event")
		}
	}
}
