// Package client implements the client side of the orchestration protocol:
// a frame session over TCP and a controller that drives one commit run and
// renders its progress.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/colinrozzi/th-commit/pkg/events"
	"github.com/colinrozzi/th-commit/pkg/protocol"
	"github.com/colinrozzi/th-commit/pkg/retry"
)

var (
	// ErrSessionClosed reports that the connection ended before the caller
	// got what it was waiting for.
	ErrSessionClosed = errors.New("session closed")

	// ErrEventTimeout reports that no event arrived within the wait window.
	// A single timeout is not a failure; callers decide when the ceiling is
	// reached.
	ErrEventTimeout = errors.New("timed out waiting for event")
)

// ServerError is an error frame returned by the daemon.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// DialConfig bounds connection establishment.
type DialConfig struct {
	ConnectTimeout time.Duration
	Attempts       int
	RetryDelay     time.Duration
}

func (c DialConfig) withDefaults() DialConfig {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}

	if c.Attempts == 0 {
		c.Attempts = 3
	}

	if c.RetryDelay == 0 {
		c.RetryDelay = 250 * time.Millisecond
	}

	return c
}

// Session is one client connection to the daemon. Responses are matched to
// requests by correlation ID; event frames are decoded and queued for
// NextEvent.
type Session struct {
	conn   net.Conn
	codec  *protocol.Codec
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *protocol.Frame

	events    chan events.Event
	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to the daemon, retrying transient connect failures a
// bounded number of times.
func Dial(ctx context.Context, address string, logger *slog.Logger, config DialConfig) (*Session, error) {
	config = config.withDefaults()

	var conn net.Conn

	err := retry.Do(ctx, config.Attempts, config.RetryDelay,
		func(error) bool { return true },
		func(ctx context.Context) error {
			dialer := net.Dialer{Timeout: config.ConnectTimeout}

			c, err := dialer.DialContext(ctx, "tcp", address)
			if err != nil {
				return err
			}

			conn = c

			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon at %s: %w", address, err)
	}

	session := newSession(conn, logger)

	go session.readLoop()

	return session, nil
}

func newSession(conn net.Conn, logger *slog.Logger) *Session {
	return &Session{
		conn:    conn,
		codec:   protocol.NewCodec(conn),
		logger:  logger.With("module", "client"),
		pending: make(map[string]chan *protocol.Frame),
		events:  make(chan events.Event, 32),
		closed:  make(chan struct{}),
	}
}

func (s *Session) readLoop() {
	defer s.Close()

	for {
		frame, err := s.codec.ReadFrame()
		if err != nil {
			return
		}

		switch frame.Type {
		case protocol.FrameResponse, protocol.FrameErr:
			s.deliverResponse(frame)
		case protocol.FrameEvent:
			event, err := events.Decode(events.EventType(frame.EventType), frame.Data)
			if err != nil {
				s.logger.Warn("Dropping undecodable event frame",
					"event_type", frame.EventType, "error", err)

				continue
			}

			select {
			case s.events <- event:
			case <-s.closed:
				return
			}
		case protocol.FramePing:
			_ = s.write(protocol.NewPongFrame(frame.ID))
		default:
			// Pongs and anything unrecognized are ignored.
		}
	}
}

func (s *Session) deliverResponse(frame *protocol.Frame) {
	s.mu.Lock()
	ch, ok := s.pending[frame.CorrelID]
	if ok {
		delete(s.pending, frame.CorrelID)
	}
	s.mu.Unlock()

	if ok {
		ch <- frame
	}
}

// Send issues a request and blocks until the matching response arrives.
// Error frames come back as *ServerError; a successful response payload is
// unmarshaled into result when result is non-nil.
func (s *Session) Send(ctx context.Context, method string, payload, result any) error {
	frame, err := protocol.NewRequestFrame(method, payload)
	if err != nil {
		return err
	}

	responseCh := make(chan *protocol.Frame, 1)

	s.mu.Lock()
	s.pending[frame.ID] = responseCh
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, frame.ID)
		s.mu.Unlock()
	}()

	if err := s.write(frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case response := <-responseCh:
		if response.Type == protocol.FrameErr {
			return &ServerError{Code: response.Error.Code, Message: response.Error.Message}
		}

		if result != nil {
			if err := json.Unmarshal(response.Data, result); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", method, err)
			}
		}

		return nil
	case <-s.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextEvent returns the next progress event, ErrEventTimeout when none
// arrives within timeout, or ErrSessionClosed when the stream ended.
func (s *Session) NextEvent(ctx context.Context, timeout time.Duration) (events.Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case event := <-s.events:
		return event, nil
	case <-timer.C:
		return nil, ErrEventTimeout
	case <-s.closed:
		// Drain events already queued before the close.
		select {
		case event := <-s.events:
			return event, nil
		default:
			return nil, ErrSessionClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) write(frame *protocol.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.codec.WriteFrame(frame)
}

// Close tears the connection down. Safe to call more than once.
func (s *Session) Close() error {
	var err error

	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})

	return err
}
