// Package ui renders commit run progress to the terminal. It is pure
// presentation: the client controller decides what happens, the presenter
// only draws it.
package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/colinrozzi/th-commit/pkg/events"
)

// maxChangeLines bounds the per-file listing; large change sets collapse
// into a summary line.
const maxChangeLines = 10

var (
	headerColor  = lipgloss.Color("33")
	dimColor     = lipgloss.Color("242")
	successColor = lipgloss.Color("42")
	failureColor = lipgloss.Color("9")
	warnColor    = lipgloss.Color("214")
)

var messageBlockStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(dimColor).
	Padding(0, 1)

// Presenter writes styled progress lines for one commit run.
type Presenter struct {
	out     io.Writer
	noColor bool
}

func NewPresenter(out io.Writer, noColor bool) *Presenter {
	return &Presenter{out: out, noColor: noColor}
}

func (p *Presenter) RunStarted(runID, repositoryPath string) {
	p.println(p.stylize("Run "+runID+" | Repo: "+repositoryPath, headerColor))
}

func (p *Presenter) ChangesDetected(detected *events.ChangesDetected) {
	noun := "files"
	if detected.Count == 1 {
		noun = "file"
	}

	line := "Changes: " + strconv.Itoa(detected.Count) + " " + noun
	if diff := formatDiffStat(detected.Stat); diff != "" {
		line += " (" + diff + ")"
	}

	p.println(line)

	summary := detected.Summary
	for i, change := range summary {
		if i == maxChangeLines {
			remaining := len(summary) - maxChangeLines
			p.println(p.stylize("  ... and "+strconv.Itoa(remaining)+" more", dimColor))

			break
		}

		p.println(p.stylize(fmt.Sprintf("  %-9s %s", change.Kind, change.Path), dimColor))
	}
}

func (p *Presenter) MessageGenerated(text string, fallback bool) {
	p.println("Commit message:")

	if p.noColor {
		p.println("  " + text)
	} else {
		p.println(messageBlockStyle.Render(text))
	}

	if fallback {
		p.println(p.stylize("Generation service unavailable, used a templated message", warnColor))
	}
}

func (p *Presenter) Committed(commitID string) {
	p.println(p.stylize("Committed "+shortCommit(commitID), successColor))
}

func (p *Presenter) Pushed(remote string) {
	if remote == "" {
		remote = "remote"
	}

	p.println(p.stylize("Pushed to "+remote, successColor))
}

func (p *Presenter) Completed(completed *events.RunCompleted) {
	switch {
	case completed.NothingToCommit:
		p.println("Nothing to commit, working tree clean")
	case completed.DryRun:
		p.println("Dry run, no commit was made")
	default:
		line := "Done in " + completed.Duration.Round(10*time.Millisecond).String()
		if completed.CommitID != "" {
			line += " | commit " + shortCommit(completed.CommitID)
		}

		if diff := formatDiffStat(completed.Stat); diff != "" {
			line += " | " + diff
		}

		p.println(p.stylize(line, successColor))
	}
}

func (p *Presenter) Failed(failed *events.RunFailed) {
	p.println(p.stylize("Failed during "+string(failed.Stage)+": "+failed.Reason, failureColor))

	if failed.Stage == events.StagePushing && failed.CommitID != "" {
		p.println(p.stylize("Local commit "+shortCommit(failed.CommitID)+" is preserved", warnColor))
	}
}

func (p *Presenter) println(line string) {
	fmt.Fprintln(p.out, line)
}

func (p *Presenter) stylize(text string, color lipgloss.Color) string {
	if p.noColor {
		return text
	}

	return lipgloss.NewStyle().Foreground(color).Render(text)
}

// formatDiffStat renders "+N insertions, -N deletions", dropping the parts
// that are zero. Returns "" when the diff stat is empty.
func formatDiffStat(stat events.DiffStat) string {
	var parts []string

	if stat.Insertions > 0 {
		parts = append(parts, "+"+strconv.Itoa(stat.Insertions)+" insertions")
	}

	if stat.Deletions > 0 {
		parts = append(parts, "-"+strconv.Itoa(stat.Deletions)+" deletions")
	}

	return strings.Join(parts, ", ")
}

func shortCommit(commitID string) string {
	if len(commitID) > 8 {
		return commitID[:8]
	}

	return commitID
}
