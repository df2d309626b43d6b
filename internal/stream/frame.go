// Package stream implements the frame-streaming core shared by the minicap
// and screenrecord backends: a bounded latest-wins frame buffer and the
// producer lifecycle that turns a raw byte transport into published frames.
package stream

import (
	"errors"
	"time"
)

var (
	// ErrNoFrame is returned when no frame became available within the
	// caller's deadline. Retryable; callers should check Producer.Alive
	// to decide whether retrying makes sense.
	ErrNoFrame = errors.New("no frames available")

	// ErrStopped is returned once capture has been stopped. Terminal.
	ErrStopped = errors.New("capture stopped")
)

// Frame is a single captured picture. Data is raw RGBA pixels
// (Width*Height*4 bytes) and must not be modified after publishing.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	Seq        uint64 // assigned by the buffer on publish
	CapturedAt time.Time
}

// Clone returns a deep copy whose Data does not alias the original
func (f *Frame) Clone() *Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	c := *f
	c.Data = data
	return &c
}

// Framer converts a raw byte stream into complete frames. Feed may be called
// with arbitrarily sized chunks; a framer buffers partial input internally
// and must behave identically regardless of how the stream is split.
// Recoverable parse problems are handled inside the framer; a returned error
// means the stream cannot be framed at all and ends the read loop.
type Framer interface {
	Feed(chunk []byte) ([]*Frame, error)
}
