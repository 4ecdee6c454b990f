package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/colinrozzi/th-commit/pkg/events"
)

// Fallback produces a deterministic templated message from the change set.
// It is substituted when the generation service fails and the fallback is
// enabled, so a run can still complete in degraded mode.
type Fallback struct{}

func NewFallback() *Fallback {
	return &Fallback{}
}

func (f *Fallback) GenerateMessage(_ context.Context, changeSet []events.Change, hint string) (string, error) {
	counts := make(map[events.ChangeKind]int)
	for _, change := range changeSet {
		counts[change.Kind]++
	}

	parts := make([]string, 0, len(counts))

	// Fixed order keeps the message deterministic for a given change set.
	for _, kind := range []events.ChangeKind{
		events.ChangeAdded,
		events.ChangeModified,
		events.ChangeDeleted,
		events.ChangeRenamed,
		events.ChangeUntracked,
	} {
		if counts[kind] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[kind], kind))
		}
	}

	subject := fmt.Sprintf("Update %d files (%s)", len(changeSet), strings.Join(parts, ", "))
	if len(changeSet) == 1 {
		subject = fmt.Sprintf("Update %s", changeSet[0].Path)
	}

	if hint != "" {
		subject = hint + ": " + subject
	}

	return subject, nil
}
