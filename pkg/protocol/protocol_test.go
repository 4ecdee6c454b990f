package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readWriter struct {
	io.Reader
	io.Writer
}

func TestCodec_RoundTrip(t *testing.T) {
	var buf bytes.Buffer

	codec := NewCodec(&readWriter{Reader: &buf, Writer: &buf})

	request, err := NewRequestFrame(MethodRunStart, StartRequest{
		RepositoryPath: "/home/user/project",
		Hint:           "auth refactor",
		Push:           true,
	})
	require.NoError(t, err)

	require.NoError(t, codec.WriteFrame(request))

	decoded, err := codec.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, FrameRequest, decoded.Type)
	assert.Equal(t, MethodRunStart, decoded.Method)
	assert.Equal(t, request.ID, decoded.ID)

	var start StartRequest

	require.NoError(t, json.Unmarshal(decoded.Data, &start))
	assert.Equal(t, "/home/user/project", start.RepositoryPath)
	assert.True(t, start.Push)
}

func TestCodec_MultipleFramesInOrder(t *testing.T) {
	var buf bytes.Buffer

	codec := NewCodec(&readWriter{Reader: &buf, Writer: &buf})

	first := NewEventFrame("run.started", json.RawMessage(`{"sequence":1}`))
	second := NewEventFrame("run.completed", json.RawMessage(`{"sequence":2}`))

	require.NoError(t, codec.WriteFrame(first))
	require.NoError(t, codec.WriteFrame(second))

	got1, err := codec.ReadFrame()
	require.NoError(t, err)
	got2, err := codec.ReadFrame()
	require.NoError(t, err)

	assert.Equal(t, "run.started", got1.EventType)
	assert.Equal(t, "run.completed", got2.EventType)
}

func TestCodec_ReadFrame_EOF(t *testing.T) {
	codec := NewCodec(&readWriter{Reader: bytes.NewReader(nil), Writer: io.Discard})

	_, err := codec.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewErrorFrame(t *testing.T) {
	frame := NewErrorFrame("req-1", ErrCodeRunInProgress, "a run is already active on this session")

	assert.Equal(t, FrameErr, frame.Type)
	assert.Equal(t, "req-1", frame.CorrelID)
	require.NotNil(t, frame.Error)
	assert.Equal(t, ErrCodeRunInProgress, frame.Error.Code)
}
