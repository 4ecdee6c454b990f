package engine

import (
	"sync"

	"github.com/colinrozzi/th-commit/pkg/events"
)

// Journal buffers every event emitted for a run, in emission order, for the
// lifetime of the run. A reconnecting client resumes by asking for events
// after its last-acknowledged sequence number.
type Journal struct {
	mu      sync.RWMutex
	entries []events.Event
}

func NewJournal() *Journal {
	return &Journal{}
}

func (j *Journal) Append(event events.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, event)
}

// After returns all buffered events with a sequence number greater than seq,
// in order.
func (j *Journal) After(seq uint64) []events.Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	replay := make([]events.Event, 0)

	for _, event := range j.entries {
		if event.GetBase().Sequence > seq {
			replay = append(replay, event)
		}
	}

	return replay
}

// All returns the full buffered sequence.
func (j *Journal) All() []events.Event {
	return j.After(0)
}

// Len returns the number of buffered events.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return len(j.entries)
}
