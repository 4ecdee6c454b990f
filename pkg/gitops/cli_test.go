package gitops

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colinrozzi/th-commit/pkg/events"
)

func TestParsePorcelain(t *testing.T) {
	output := "M  internal/auth/session.go\n" +
		"A  internal/auth/token.go\n" +
		" D docs/old.md\n" +
		"R  pkg/a.go -> pkg/b.go\n" +
		"?? notes.txt\n"

	changeSet := ParsePorcelain(output)

	require.Len(t, changeSet, 5)
	assert.Equal(t, events.Change{Path: "internal/auth/session.go", Kind: events.ChangeModified}, changeSet[0])
	assert.Equal(t, events.Change{Path: "internal/auth/token.go", Kind: events.ChangeAdded}, changeSet[1])
	assert.Equal(t, events.Change{Path: "docs/old.md", Kind: events.ChangeDeleted}, changeSet[2])
	assert.Equal(t, events.Change{Path: "pkg/b.go", Kind: events.ChangeRenamed}, changeSet[3])
	assert.Equal(t, events.Change{Path: "notes.txt", Kind: events.ChangeUntracked}, changeSet[4])
}

func TestParsePorcelain_Empty(t *testing.T) {
	assert.Empty(t, ParsePorcelain(""))
	assert.Empty(t, ParsePorcelain("\n"))
}

func TestParseShortStat(t *testing.T) {
	stat := ParseShortStat(" 3 files changed, 10 insertions(+), 2 deletions(-)\n")

	assert.Equal(t, events.DiffStat{FilesChanged: 3, Insertions: 10, Deletions: 2}, stat)
}

func TestParseShortStat_SingularForms(t *testing.T) {
	stat := ParseShortStat(" 1 file changed, 1 insertion(+)\n")

	assert.Equal(t, events.DiffStat{FilesChanged: 1, Insertions: 1}, stat)
}

func TestParseShortStat_DeletionsOnly(t *testing.T) {
	stat := ParseShortStat(" 2 files changed, 5 deletions(-)\n")

	assert.Equal(t, events.DiffStat{FilesChanged: 2, Deletions: 5}, stat)
}

func TestParseShortStat_Empty(t *testing.T) {
	assert.Equal(t, events.DiffStat{}, ParseShortStat(""))
}

func TestClassifyCommitError_Lock(t *testing.T) {
	err := classifyCommitError(errors.New("git commit: exit status 128: fatal: Unable to create '/repo/.git/index.lock': File exists"))
	assert.ErrorIs(t, err, ErrRepositoryLocked)
}

func TestClassifyCommitError_NothingStaged(t *testing.T) {
	err := classifyCommitError(errors.New("git commit: exit status 1: nothing to commit, working tree clean"))
	assert.ErrorIs(t, err, ErrNothingStaged)
}

func TestClassifyCommitError_Other(t *testing.T) {
	cause := errors.New("git commit: exit status 128: fatal: empty ident name")
	err := classifyCommitError(cause)
	assert.NotErrorIs(t, err, ErrRepositoryLocked)
	assert.NotErrorIs(t, err, ErrNothingStaged)
}
