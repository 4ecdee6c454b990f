// Package cmd wires shared dependencies for the th-commit binaries.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/colinrozzi/th-commit/pkg/channels/gochannel"
	"github.com/colinrozzi/th-commit/pkg/eventbus"
)

// NewEventBus creates the in-process event bus carrying run progress
// events between the engine and serving sessions.
func NewEventBus(logger *slog.Logger) eventbus.EventBus {
	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	if err != nil {
		panic(fmt.Errorf("failed to create event channel: %w", err))
	}

	return eventbus.NewWatermillEventBus(pub, sub)
}
