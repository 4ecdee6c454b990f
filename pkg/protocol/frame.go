// Package protocol defines the wire protocol spoken between the th-commit
// client and the orchestration daemon: a frame envelope carried as
// newline-delimited JSON over a TCP connection.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameErr      FrameType = "error"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Frame is the message envelope. Every message exchanged over the
// connection is a Frame.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type"`

	// Method names the operation for request frames (e.g., "run.start").
	Method string `json:"method,omitempty"`

	// CorrelID links a response or error to its originating request.
	CorrelID string `json:"correl_id,omitempty"`

	// Data carries the method-specific payload, or the serialized progress
	// event for event frames.
	Data json.RawMessage `json:"data,omitempty"`

	// EventType carries the progress event type tag on event frames.
	EventType string `json:"event_type,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts"`
}

// ErrorDetail describes an error in an error frame.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Well-known methods.
const (
	MethodRunStart  = "run.start"
	MethodRunCancel = "run.cancel"
	MethodRunResume = "run.resume"
)

// Well-known error codes.
const (
	ErrCodeBadRequest    = 400
	ErrCodeNotFound      = 404
	ErrCodeRunInProgress = 409
	ErrCodeInternal      = 500
)

// StartRequest asks the daemon to begin a commit run.
type StartRequest struct {
	RepositoryPath string `json:"repository_path" validate:"required"`
	Hint           string `json:"hint,omitempty"`
	Prefix         string `json:"prefix,omitempty"`
	Push           bool   `json:"push"`
	SkipStaging    bool   `json:"skip_staging,omitempty"`
	DryRun         bool   `json:"dry_run,omitempty"`
}

// StartResponse confirms the run was accepted.
type StartResponse struct {
	RunID string `json:"run_id"`
}

// CancelRequest asks the daemon to cancel the active run.
type CancelRequest struct {
	RunID string `json:"run_id" validate:"required"`
}

// CancelResponse reports whether the cancellation was accepted. Cancellation
// is rejected once the commit stage has begun.
type CancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	Reason    string `json:"reason,omitempty"`
}

// ResumeRequest re-attaches to a run after a reconnect. The daemon replays
// buffered events with sequence numbers greater than AfterSeq.
type ResumeRequest struct {
	RunID    string `json:"run_id" validate:"required"`
	AfterSeq uint64 `json:"after_seq"`
}

// ResumeResponse confirms the replay subscription.
type ResumeResponse struct {
	RunID    string `json:"run_id"`
	Terminal bool   `json:"terminal"`
}

// NewRequestFrame creates a request frame for the given method.
func NewRequestFrame(method string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Frame{
		ID:        uuid.New().String(),
		Type:      FrameRequest,
		Method:    method,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewResponseFrame creates a response to a request.
func NewResponseFrame(correlID string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Frame{
		ID:        uuid.New().String(),
		Type:      FrameResponse,
		CorrelID:  correlID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewErrorFrame creates an error response to a request.
func NewErrorFrame(correlID string, code int, message string) *Frame {
	return &Frame{
		ID:       uuid.New().String(),
		Type:     FrameErr,
		CorrelID: correlID,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewEventFrame wraps a serialized progress event.
func NewEventFrame(eventType string, payload json.RawMessage) *Frame {
	return &Frame{
		ID:        uuid.New().String(),
		Type:      FrameEvent,
		EventType: eventType,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewPongFrame answers a ping.
func NewPongFrame(correlID string) *Frame {
	return &Frame{
		ID:        uuid.New().String(),
		Type:      FramePong,
		CorrelID:  correlID,
		Timestamp: time.Now().UTC(),
	}
}
