package gitops

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/colinrozzi/th-commit/pkg/events"
)

// CLI runs git commands against a repository working tree. It implements
// ChangeDetector, Committer and Pusher.
type CLI struct{}

func NewCLI() *CLI {
	return &CLI{}
}

// ValidateRepository checks that path is the root of a git work tree and
// that git itself is available.
func (g *CLI) ValidateRepository(ctx context.Context, repoPath string) error {
	if _, err := os.Stat(filepath.Join(repoPath, ".git")); err != nil {
		return fmt.Errorf("%w: %s", ErrNotARepository, repoPath)
	}

	if _, err := g.run(ctx, repoPath, "--version"); err != nil {
		return fmt.Errorf("git is not available: %w", err)
	}

	return nil
}

// DetectChanges stages all pending changes (unless stage is false) and
// returns the ordered change set from `git status --porcelain` together
// with the staged diff stat.
func (g *CLI) DetectChanges(ctx context.Context, repoPath string, stage bool) ([]events.Change, events.DiffStat, error) {
	if err := g.ValidateRepository(ctx, repoPath); err != nil {
		return nil, events.DiffStat{}, err
	}

	if stage {
		if _, err := g.run(ctx, repoPath, "add", "-A"); err != nil {
			return nil, events.DiffStat{}, fmt.Errorf("failed to stage changes: %w", err)
		}
	}

	output, err := g.run(ctx, repoPath, "status", "--porcelain")
	if err != nil {
		return nil, events.DiffStat{}, fmt.Errorf("failed to read git status: %w", err)
	}

	shortstat, err := g.run(ctx, repoPath, "diff", "--cached", "--shortstat")
	if err != nil {
		return nil, events.DiffStat{}, fmt.Errorf("failed to read staged diff stat: %w", err)
	}

	return ParsePorcelain(output), ParseShortStat(shortstat), nil
}

func (g *CLI) Commit(ctx context.Context, repoPath, message string) (string, error) {
	if _, err := g.run(ctx, repoPath, "commit", "-m", message); err != nil {
		return "", classifyCommitError(err)
	}

	commitID, err := g.run(ctx, repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve commit id: %w", err)
	}

	return strings.TrimSpace(commitID), nil
}

// Push pushes the current branch and returns the remote it pushed to.
func (g *CLI) Push(ctx context.Context, repoPath string) (string, error) {
	if _, err := g.run(ctx, repoPath, "push"); err != nil {
		return "", fmt.Errorf("git push failed: %w", err)
	}

	return g.remoteName(ctx, repoPath), nil
}

// remoteName resolves the remote the current branch pushes to, falling back
// to the first configured remote and then to "origin".
func (g *CLI) remoteName(ctx context.Context, repoPath string) string {
	if output, err := g.run(ctx, repoPath, "remote"); err == nil {
		if remotes := strings.Fields(output); len(remotes) > 0 {
			return remotes[0]
		}
	}

	return "origin"
}

func (g *CLI) run(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(output)))
	}

	return string(output), nil
}

func classifyCommitError(err error) error {
	message := err.Error()

	if strings.Contains(message, "index.lock") || strings.Contains(message, "Unable to create") {
		return fmt.Errorf("%w: %s", ErrRepositoryLocked, message)
	}

	if strings.Contains(message, "nothing to commit") || strings.Contains(message, "nothing added to commit") {
		return fmt.Errorf("%w: %s", ErrNothingStaged, message)
	}

	return err
}

// ParsePorcelain converts `git status --porcelain` output into an ordered
// change set. Staged status takes precedence over the work-tree status.
func ParsePorcelain(output string) []events.Change {
	changeSet := make([]events.Change, 0)

	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}

		staged, unstaged := line[0], line[1]
		path := strings.TrimSpace(line[3:])

		// Renames are reported as "old -> new"; keep the new path.
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}

		changeSet = append(changeSet, events.Change{
			Path: path,
			Kind: changeKind(staged, unstaged),
		})
	}

	return changeSet
}

// ParseShortStat converts `git diff --shortstat` output, e.g.
// " 3 files changed, 10 insertions(+), 2 deletions(-)", into a DiffStat.
// An empty diff yields the zero stat.
func ParseShortStat(output string) events.DiffStat {
	var stat events.DiffStat

	for _, part := range strings.Split(strings.TrimSpace(output), ",") {
		fields := strings.Fields(part)
		if len(fields) < 2 {
			continue
		}

		count, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(fields[1], "file"):
			stat.FilesChanged = count
		case strings.HasPrefix(fields[1], "insertion"):
			stat.Insertions = count
		case strings.HasPrefix(fields[1], "deletion"):
			stat.Deletions = count
		}
	}

	return stat
}

func changeKind(staged, unstaged byte) events.ChangeKind {
	code := staged
	if code == ' ' {
		code = unstaged
	}

	switch code {
	case 'A':
		return events.ChangeAdded
	case 'D':
		return events.ChangeDeleted
	case 'R':
		return events.ChangeRenamed
	case '?':
		return events.ChangeUntracked
	default:
		return events.ChangeModified
	}
}
