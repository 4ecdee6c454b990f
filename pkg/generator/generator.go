// Package generator produces commit messages from a detected change set,
// either through the Gemini generation service or a deterministic fallback
// template.
package generator

import (
	"context"
	"errors"

	"github.com/colinrozzi/th-commit/pkg/events"
)

// MaxMessageLength bounds a generated commit message. Longer responses are
// a generation-stage error, not truncated.
const MaxMessageLength = 4096

var (
	ErrEmptyMessage   = errors.New("generation service returned an empty message")
	ErrMessageTooLong = errors.New("generated message exceeds length limit")
	ErrServiceFailed  = errors.New("generation service request failed")
	ErrMissingAPIKey  = errors.New("generation service credential not configured")
)

// Generator turns a change set into a commit message.
type Generator interface {
	GenerateMessage(ctx context.Context, changeSet []events.Change, hint string) (string, error)
}

// Validate enforces the message contract shared by all generators.
func Validate(message string) error {
	if message == "" {
		return ErrEmptyMessage
	}

	if len(message) > MaxMessageLength {
		return ErrMessageTooLong
	}

	return nil
}
