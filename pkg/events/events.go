// Package events defines the progress event types emitted by a commit run.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the event bus topic carrying run progress events.
const Topic = "thcommit.run.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunStartedEvent       EventType = "run.started"
	ChangesDetectedEvent  EventType = "run.changes_detected"
	MessageGeneratedEvent EventType = "run.message_generated"
	CommittedEvent        EventType = "run.committed"
	PushedEvent           EventType = "run.pushed"
	RunFailedEvent        EventType = "run.failed"
	RunCompletedEvent     EventType = "run.completed"
)

// Event is implemented by every progress event variant.
type Event interface {
	GetType() EventType
	GetBase() BaseEvent
}

// BaseEvent carries the fields shared by all progress events. Sequence is
// a per-run monotonically increasing counter starting at 1; consumers use
// it to deduplicate redelivered events after a reconnect.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	Sequence  uint64    `json:"sequence"`
}

func (b BaseEvent) GetBase() BaseEvent { return b }

type RunStarted struct {
	BaseEvent

	RepositoryPath string `json:"repository_path"`
}

func (e RunStarted) GetType() EventType { return RunStartedEvent }

type ChangesDetected struct {
	BaseEvent

	Count   int      `json:"count"`
	Summary []Change `json:"summary"`
	Stat    DiffStat `json:"stat"`
}

func (e ChangesDetected) GetType() EventType { return ChangesDetectedEvent }

// DiffStat summarizes the staged diff the run is about to commit.
type DiffStat struct {
	FilesChanged int `json:"files_changed"`
	Insertions   int `json:"insertions"`
	Deletions    int `json:"deletions"`
}

// Change describes one pending change in the working tree.
type Change struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
}

type ChangeKind string

const (
	ChangeAdded     ChangeKind = "added"
	ChangeModified  ChangeKind = "modified"
	ChangeDeleted   ChangeKind = "deleted"
	ChangeRenamed   ChangeKind = "renamed"
	ChangeUntracked ChangeKind = "untracked"
)

type MessageGenerated struct {
	BaseEvent

	Text string `json:"text"`
	// Fallback is true when the text came from the templated fallback
	// generator instead of the generation service.
	Fallback bool `json:"fallback"`
}

func (e MessageGenerated) GetType() EventType { return MessageGeneratedEvent }

type Committed struct {
	BaseEvent

	CommitID string `json:"commit_id"`
}

func (e Committed) GetType() EventType { return CommittedEvent }

type Pushed struct {
	BaseEvent

	Remote string `json:"remote,omitempty"`
}

func (e Pushed) GetType() EventType { return PushedEvent }

// RunFailed is always the final event of a failed run.
type RunFailed struct {
	BaseEvent

	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
	// CommitID is set when a commit was created before the failure, so the
	// client can tell the user the local commit survives.
	CommitID string `json:"commit_id,omitempty"`
}

func (e RunFailed) GetType() EventType { return RunFailedEvent }

// RunCompleted is the terminal event of a successful run.
type RunCompleted struct {
	BaseEvent

	CommitID        string        `json:"commit_id,omitempty"`
	Duration        time.Duration `json:"duration"`
	Stat            DiffStat      `json:"stat"`
	NothingToCommit bool          `json:"nothing_to_commit"`
	DryRun          bool          `json:"dry_run,omitempty"`
}

func (e RunCompleted) GetType() EventType { return RunCompletedEvent }

func NewBaseEvent(eventType EventType, runID string, sequence uint64) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Sequence:  sequence,
	}
}

// Terminal reports whether the event ends its run.
func Terminal(e Event) bool {
	switch e.GetType() {
	case RunFailedEvent, RunCompletedEvent:
		return true
	default:
		return false
	}
}
