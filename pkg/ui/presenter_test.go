package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/colinrozzi/th-commit/pkg/events"
)

func newTestPresenter() (*Presenter, *bytes.Buffer) {
	var buf bytes.Buffer

	return NewPresenter(&buf, true), &buf
}

func TestPresenter_RunStarted(t *testing.T) {
	p, buf := newTestPresenter()

	p.RunStarted("run-ab12cd34", "/home/user/project")

	assert.Contains(t, buf.String(), "Run run-ab12cd34")
	assert.Contains(t, buf.String(), "/home/user/project")
}

func TestPresenter_ChangesDetected(t *testing.T) {
	p, buf := newTestPresenter()

	p.ChangesDetected(&events.ChangesDetected{
		Count: 2,
		Summary: []events.Change{
			{Path: "main.go", Kind: events.ChangeModified},
			{Path: "notes.txt", Kind: events.ChangeAdded},
		},
		Stat: events.DiffStat{FilesChanged: 2, Insertions: 12, Deletions: 4},
	})

	out := buf.String()
	assert.Contains(t, out, "Changes: 2 files (+12 insertions, -4 deletions)")
	assert.Contains(t, out, "modified")
	assert.Contains(t, out, "main.go")
	assert.Contains(t, out, "added")
	assert.Contains(t, out, "notes.txt")
}

func TestPresenter_ChangesDetectedTruncatesListing(t *testing.T) {
	p, buf := newTestPresenter()

	changes := make([]events.Change, 15)
	for i := range changes {
		changes[i] = events.Change{Path: "file" + string(rune('a'+i)) + ".go", Kind: events.ChangeModified}
	}

	p.ChangesDetected(&events.ChangesDetected{Count: 15, Summary: changes})

	out := buf.String()
	assert.Contains(t, out, "... and 5 more")
	assert.Equal(t, maxChangeLines+2, strings.Count(out, "\n"))
}

func TestPresenter_MessageGeneratedFallbackNote(t *testing.T) {
	p, buf := newTestPresenter()

	p.MessageGenerated("Update 3 files (3 modified)", true)

	out := buf.String()
	assert.Contains(t, out, "Update 3 files (3 modified)")
	assert.Contains(t, out, "templated message")
}

func TestPresenter_PushedNamesRemote(t *testing.T) {
	p, buf := newTestPresenter()

	p.Pushed("upstream")

	assert.Contains(t, buf.String(), "Pushed to upstream")
}

func TestPresenter_CompletedVariants(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		p, buf := newTestPresenter()

		p.Completed(&events.RunCompleted{
			CommitID: "abcdef1234567890",
			Duration: 3210 * time.Millisecond,
			Stat:     events.DiffStat{FilesChanged: 3, Insertions: 20, Deletions: 5},
		})

		out := buf.String()
		assert.Contains(t, out, "commit abcdef12")
		assert.Contains(t, out, "3.21s")
		assert.Contains(t, out, "+20 insertions, -5 deletions")
	})

	t.Run("commit without diff stat", func(t *testing.T) {
		p, buf := newTestPresenter()

		p.Completed(&events.RunCompleted{
			CommitID: "abcdef1234567890",
			Duration: time.Second,
		})

		assert.NotContains(t, buf.String(), "insertions")
	})

	t.Run("nothing to commit", func(t *testing.T) {
		p, buf := newTestPresenter()

		p.Completed(&events.RunCompleted{NothingToCommit: true})

		assert.Contains(t, buf.String(), "Nothing to commit")
	})

	t.Run("dry run", func(t *testing.T) {
		p, buf := newTestPresenter()

		p.Completed(&events.RunCompleted{DryRun: true})

		assert.Contains(t, buf.String(), "Dry run")
	})
}

func TestPresenter_FailedPushNamesPreservedCommit(t *testing.T) {
	p, buf := newTestPresenter()

	p.Failed(&events.RunFailed{
		Stage:    events.StagePushing,
		Reason:   "remote rejected",
		CommitID: "abcdef1234567890",
	})

	out := buf.String()
	assert.Contains(t, out, "Failed during pushing")
	assert.Contains(t, out, "remote rejected")
	assert.Contains(t, out, "Local commit abcdef12 is preserved")
}

func TestPresenter_FailedOtherStageHasNoCommitNote(t *testing.T) {
	p, buf := newTestPresenter()

	p.Failed(&events.RunFailed{Stage: events.StageGenerating, Reason: "service down"})

	out := buf.String()
	assert.Contains(t, out, "Failed during generating")
	assert.NotContains(t, out, "preserved")
}
