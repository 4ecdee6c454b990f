// Package gitops implements the version-control collaborators the workflow
// engine depends on, by shelling out to the git command line.
package gitops

import (
	"context"
	"errors"

	"github.com/colinrozzi/th-commit/pkg/events"
)

// Static error variables for linter compliance.
var (
	ErrNotARepository = errors.New("not a git repository")
	// ErrRepositoryLocked marks lock-contention failures (another process
	// holds index.lock); the engine retries these exactly once.
	ErrRepositoryLocked = errors.New("repository lock held by another process")
	ErrNothingStaged    = errors.New("nothing staged to commit")
)

// ChangeDetector stages pending changes and reports the resulting change set
// together with the staged diff stat.
type ChangeDetector interface {
	DetectChanges(ctx context.Context, repoPath string, stage bool) ([]events.Change, events.DiffStat, error)
}

// Committer creates a commit from the staged changes and returns its ID.
type Committer interface {
	Commit(ctx context.Context, repoPath, message string) (string, error)
}

// Pusher pushes the current branch to its upstream and reports the remote it
// pushed to.
type Pusher interface {
	Push(ctx context.Context, repoPath string) (string, error)
}
