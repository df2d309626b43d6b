// Package screenrecord implements the H264 streaming backend: an
// `adb exec-out screenrecord --output-format=h264` subprocess whose stdout
// is framed into access units and decoded to raw RGBA pictures.
package screenrecord

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/droidcap/droidcap/internal/logger"
)

// Picture is a decoded video picture in raw RGBA layout
type Picture struct {
	Data   []byte
	Width  int
	Height int
}

// Decoder turns H264 access units into pictures. Decode may return zero
// pictures for a given input (decoders buffer reference frames) and deliver
// them on a later call.
type Decoder interface {
	// Start prepares the decoder for pictures of the given geometry
	Start(width, height int) error

	// Decode feeds one Annex B access unit and harvests any pictures that
	// have become available
	Decode(annexb []byte) ([]Picture, error)

	// Close releases decoder resources
	Close() error
}

// FFmpegDecoder decodes by piping the elementary stream through an ffmpeg
// subprocess emitting raw RGBA on stdout. This sidesteps CGO codec bindings
// the same way the capture side sidesteps device APIs: one process per
// concern, plain pipes in between.
type FFmpegDecoder struct {
	bin string

	// mu guards process state against concurrent Close: the supervisor tears
	// the decoder down while a late Decode from the old session may still be
	// in flight.
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	pics   []Picture
	rdErr  error
	width  int
	height int
}

// NewFFmpegDecoder creates a decoder using the given ffmpeg binary
// ("ffmpeg" resolves from PATH)
func NewFFmpegDecoder(bin string) *FFmpegDecoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegDecoder{bin: bin}
}

// Start spawns the ffmpeg process for the given picture geometry. Restarting
// with a new geometry closes the previous process first.
func (d *FFmpegDecoder) Start(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid decoder geometry %dx%d", width, height)
	}
	d.Close()

	// Input geometry comes from the bitstream itself; the output side is
	// fixed-size rawvideo so frames can be sliced off stdout.
	cmd := exec.Command(d.bin,
		"-hide_banner", "-loglevel", "error",
		"-f", "h264", "-i", "pipe:0",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open decoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open decoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", d.bin, err)
	}

	d.mu.Lock()
	d.cmd = cmd
	d.stdin = stdin
	d.width, d.height = width, height
	d.pics = nil
	d.rdErr = nil
	d.mu.Unlock()

	go d.harvest(stdout, width, height)

	logger.WithComponent("ffmpeg-decoder").Info().Int("width", width).Int("height", height).Msg("Decoder started")
	return nil
}

// harvest reads fixed-size RGBA pictures off the decoder's stdout until it
// closes
func (d *FFmpegDecoder) harvest(stdout io.Reader, width, height int) {
	frameSize := width * height * 4
	for {
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(stdout, buf); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				d.mu.Lock()
				d.rdErr = err
				d.mu.Unlock()
			}
			return
		}
		d.mu.Lock()
		d.pics = append(d.pics, Picture{Data: buf, Width: width, Height: height})
		d.mu.Unlock()
	}
}

// Decode writes one access unit to the decoder and returns whatever pictures
// the harvest goroutine has collected so far
func (d *FFmpegDecoder) Decode(annexb []byte) ([]Picture, error) {
	// Snapshot the pipe rather than holding mu across the write: the write
	// can block on ffmpeg and the harvest goroutine needs mu to drain it.
	d.mu.Lock()
	stdin := d.stdin
	d.mu.Unlock()
	if stdin == nil {
		return nil, fmt.Errorf("decoder not started")
	}
	if _, err := stdin.Write(annexb); err != nil {
		return nil, fmt.Errorf("decoder write failed: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rdErr != nil {
		return nil, fmt.Errorf("decoder output failed: %w", d.rdErr)
	}
	pics := d.pics
	d.pics = nil
	return pics, nil
}

// Close shuts the ffmpeg process down. Safe to call concurrently with Decode
// and idempotent: only the caller that swaps the process out tears it down.
func (d *FFmpegDecoder) Close() error {
	d.mu.Lock()
	stdin := d.stdin
	cmd := d.cmd
	d.stdin = nil
	d.cmd = nil
	d.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil {
		done := make(chan struct{})
		go func() {
			cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			cmd.Process.Kill()
			<-done
		}
	}
	return nil
}
