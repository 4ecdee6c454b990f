package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownEventType = errors.New("unknown event type")

// Decode unmarshals a serialized progress event into its concrete variant
// based on the type tag.
func Decode(eventType EventType, payload []byte) (Event, error) {
	var event Event

	switch eventType {
	case RunStartedEvent:
		event = &RunStarted{}
	case ChangesDetectedEvent:
		event = &ChangesDetected{}
	case MessageGeneratedEvent:
		event = &MessageGenerated{}
	case CommittedEvent:
		event = &Committed{}
	case PushedEvent:
		event = &Pushed{}
	case RunFailedEvent:
		event = &RunFailed{}
	case RunCompletedEvent:
		event = &RunCompleted{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	return event, nil
}
