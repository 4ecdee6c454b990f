// Package persistence records finished commit runs so the daemon can report
// history across restarts.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/colinrozzi/th-commit/pkg/events"
)

var ErrRunNotFound = errors.New("run record not found")

// IsRunNotFound checks if an error indicates a run record was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// RunRecord is the durable projection of a finished run.
type RunRecord struct {
	RunID           string        `json:"run_id"`
	RepositoryPath  string        `json:"repository_path"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	Success         bool          `json:"success"`
	NothingToCommit bool          `json:"nothing_to_commit,omitempty"`
	CommitID        string        `json:"commit_id,omitempty"`
	Message         string        `json:"message,omitempty"`
	FailedStage     events.Stage  `json:"failed_stage,omitempty"`
	FailureReason   string        `json:"failure_reason,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// RunRepository stores and retrieves run records.
type RunRepository interface {
	Save(ctx context.Context, record *RunRecord) error
	GetByID(ctx context.Context, runID string) (*RunRecord, error)
	List(ctx context.Context) ([]*RunRecord, error)
}

// Persistence is the daemon's storage layer.
type Persistence interface {
	RunRepository() RunRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
