package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Codec reads and writes frames as newline-delimited JSON. Writes are not
// synchronized; callers that share a codec across goroutines must serialize
// WriteFrame calls themselves.
type Codec struct {
	reader *bufio.Reader
	writer io.Writer
}

// MaxFrameSize bounds a single frame line. Diffs never cross the wire, so
// frames stay small; anything larger indicates a corrupt stream.
const MaxFrameSize = 1 << 20

func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{
		reader: bufio.NewReaderSize(rw, 64*1024),
		writer: rw,
	}
}

// ReadFrame blocks until a full frame line arrives or the stream ends.
func (c *Codec) ReadFrame() (*Frame, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}

	if len(line) > MaxFrameSize {
		return nil, fmt.Errorf("frame exceeds %d bytes", MaxFrameSize)
	}

	var frame Frame
	if err := json.Unmarshal(line, &frame); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	return &frame, nil
}

// WriteFrame serializes the frame followed by a newline.
func (c *Codec) WriteFrame(frame *Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	payload = append(payload, '\n')

	_, err = c.writer.Write(payload)

	return err
}
