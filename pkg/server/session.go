package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/colinrozzi/th-commit/pkg/engine"
	"github.com/colinrozzi/th-commit/pkg/events"
	"github.com/colinrozzi/th-commit/pkg/protocol"
)

// Session handles one client connection. At most one non-terminal run may
// be attached to a session at a time; starting another is rejected with a
// run-in-progress error until the attached run reaches a terminal state.
type Session struct {
	id     string
	conn   net.Conn
	codec  *protocol.Codec
	server *Server
	logger *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	activeRun *engine.Run
}

func newSession(conn net.Conn, server *Server) *Session {
	id := "sess-" + uuid.New().String()[:8]

	return &Session{
		id:     id,
		conn:   conn,
		codec:  protocol.NewCodec(conn),
		server: server,
		logger: server.logger.With("session_id", id, "remote", conn.RemoteAddr().String()),
	}
}

func (s *Session) serve(ctx context.Context) {
	defer func() {
		_ = s.conn.Close()
	}()

	s.logger.DebugContext(ctx, "Session opened")

	for {
		frame, err := s.codec.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.WarnContext(ctx, "Session read failed", "error", err)
			}

			s.logger.DebugContext(ctx, "Session closed")

			return
		}

		switch frame.Type {
		case protocol.FramePing:
			s.write(ctx, protocol.NewPongFrame(frame.ID))
		case protocol.FrameRequest:
			s.handleRequest(ctx, frame)
		default:
			s.write(ctx, protocol.NewErrorFrame(frame.ID, protocol.ErrCodeBadRequest,
				"unexpected frame type "+string(frame.Type)))
		}
	}
}

func (s *Session) handleRequest(ctx context.Context, frame *protocol.Frame) {
	switch frame.Method {
	case protocol.MethodRunStart:
		s.handleStart(ctx, frame)
	case protocol.MethodRunCancel:
		s.handleCancel(ctx, frame)
	case protocol.MethodRunResume:
		s.handleResume(ctx, frame)
	default:
		s.write(ctx, protocol.NewErrorFrame(frame.ID, protocol.ErrCodeBadRequest,
			"unknown method "+frame.Method))
	}
}

func (s *Session) handleStart(ctx context.Context, frame *protocol.Frame) {
	var req protocol.StartRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		s.write(ctx, protocol.NewErrorFrame(frame.ID, protocol.ErrCodeBadRequest,
			"invalid run.start payload: "+err.Error()))

		return
	}

	if err := s.server.validate.Struct(req); err != nil {
		s.write(ctx, protocol.NewErrorFrame(frame.ID, protocol.ErrCodeBadRequest, err.Error()))

		return
	}

	s.mu.Lock()
	if s.activeRun != nil && !s.activeRun.Terminal() {
		activeID := s.activeRun.ID
		s.mu.Unlock()

		s.write(ctx, protocol.NewErrorFrame(frame.ID, protocol.ErrCodeRunInProgress,
			"run "+activeID+" is still in progress on this session"))

		return
	}

	run := engine.NewRun(engine.Request{
		RepositoryPath: req.RepositoryPath,
		Hint:           req.Hint,
		Prefix:         req.Prefix,
		Push:           req.Push,
		SkipStaging:    req.SkipStaging,
		DryRun:         req.DryRun,
	})
	s.activeRun = run
	s.mu.Unlock()

	s.server.registerRun(run)
	ch := s.server.watch(run.ID, s.id)

	response, err := protocol.NewResponseFrame(frame.ID, protocol.StartResponse{RunID: run.ID})
	if err != nil {
		s.write(ctx, protocol.NewErrorFrame(frame.ID, protocol.ErrCodeInternal, err.Error()))

		return
	}

	s.write(ctx, response)
	s.logger.InfoContext(ctx, "Run started", "run_id", run.ID, "repository", req.RepositoryPath)

	go s.forward(ctx, run, ch, 0)

	// The run is owned by the server so it survives a client disconnect.
	go s.server.engine.Execute(s.server.runCtx, run)
}

func (s *Session) handleCancel(ctx context.Context, frame *protocol.Frame) {
	var req protocol.CancelRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		s.write(ctx, protocol.NewErrorFrame(frame.ID, protocol.ErrCodeBadRequest,
			"invalid run.cancel payload: "+err.Error()))

		return
	}

	run, ok := s.server.getRun(req.RunID)
	if !ok {
		s.write(ctx, protocol.NewErrorFrame(frame.ID, protocol.ErrCodeNotFound,
			"run "+req.RunID+" not found"))

		return
	}

	cancelled, reason := run.Cancel()

	s.logger.InfoContext(ctx, "Cancellation requested",
		"run_id", req.RunID, "cancelled", cancelled, "reason", reason)

	response, err := protocol.NewResponseFrame(frame.ID, protocol.CancelResponse{
		Cancelled: cancelled,
		Reason:    reason,
	})
	if err != nil {
		s.write(ctx, protocol.NewErrorFrame(frame.ID, protocol.ErrCodeInternal, err.Error()))

		return
	}

	s.write(ctx, response)
}

func (s *Session) handleResume(ctx context.Context, frame *protocol.Frame) {
	var req protocol.ResumeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		s.write(ctx, protocol.NewErrorFrame(frame.ID, protocol.ErrCodeBadRequest,
			"invalid run.resume payload: "+err.Error()))

		return
	}

	run, ok := s.server.getRun(req.RunID)
	if !ok {
		s.write(ctx, protocol.NewErrorFrame(frame.ID, protocol.ErrCodeNotFound,
			"run "+req.RunID+" not found"))

		return
	}

	s.mu.Lock()
	s.activeRun = run
	s.mu.Unlock()

	// Register the live channel before snapshotting the journal so no event
	// falls between replay and live delivery; the sequence cursor in forward
	// drops the overlap.
	ch := s.server.watch(run.ID, s.id)

	response, err := protocol.NewResponseFrame(frame.ID, protocol.ResumeResponse{
		RunID:    run.ID,
		Terminal: run.Terminal(),
	})
	if err != nil {
		s.server.unwatch(run.ID, s.id)
		s.write(ctx, protocol.NewErrorFrame(frame.ID, protocol.ErrCodeInternal, err.Error()))

		return
	}

	s.write(ctx, response)
	s.logger.InfoContext(ctx, "Run resumed", "run_id", run.ID, "after_seq", req.AfterSeq)

	go s.forward(ctx, run, ch, req.AfterSeq)
}

// forward streams run events to the client: first the journaled events
// after the cursor, then live events from the watch channel. Delivery is
// at-least-once across reconnects; the client deduplicates by sequence.
func (s *Session) forward(ctx context.Context, run *engine.Run, ch <-chan events.Event, afterSeq uint64) {
	defer s.server.unwatch(run.ID, s.id)

	cursor := afterSeq

	for _, event := range run.Journal.After(afterSeq) {
		if !s.sendEvent(ctx, event, &cursor) {
			return
		}

		if events.Terminal(event) {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}

			if event.GetBase().Sequence <= cursor {
				continue
			}

			if !s.sendEvent(ctx, event, &cursor) {
				return
			}

			if events.Terminal(event) {
				return
			}
		}
	}
}

func (s *Session) sendEvent(ctx context.Context, event events.Event, cursor *uint64) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to encode event", "event_type", event.GetType(), "error", err)

		return false
	}

	if err := s.write(ctx, protocol.NewEventFrame(string(event.GetType()), payload)); err != nil {
		return false
	}

	*cursor = event.GetBase().Sequence

	return true
}

func (s *Session) write(ctx context.Context, frame *protocol.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.codec.WriteFrame(frame); err != nil {
		if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
			s.logger.WarnContext(ctx, "Session write failed", "error", err)
		}

		return err
	}

	return nil
}
