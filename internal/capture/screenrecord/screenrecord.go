package screenrecord

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/droidcap/droidcap/internal/config"
	"github.com/droidcap/droidcap/internal/device"
	"github.com/droidcap/droidcap/internal/imgutil"
	"github.com/droidcap/droidcap/internal/logger"
	"github.com/droidcap/droidcap/internal/stream"
)

const latestTimeout = 2 * time.Second

// Capture is the screenrecord backend. It records the display as an H264
// elementary stream over `adb exec-out`, frames and decodes it, and keeps
// the latest pictures in a buffer. screenrecord caps a single recording at
// 180 seconds, so a supervisor restarts the session whenever the stream ends
// before Stop is called.
type Capture struct {
	dev     device.Device
	cfg     config.ScreenrecordConfig
	bufSize int

	width  int
	height int

	buf     *stream.Buffer
	mu      sync.Mutex
	current *stream.Producer
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// New creates a screenrecord backend for the device
func New(dev device.Device, cfg config.ScreenrecordConfig, bufferSize int) *Capture {
	return &Capture{
		dev:     dev,
		cfg:     cfg,
		bufSize: bufferSize,
	}
}

// Name returns the backend name
func (c *Capture) Name() string {
	return "screenrecord"
}

// IsAvailable reports whether the device ships the screenrecord binary
func (c *Capture) IsAvailable() bool {
	out, err := c.dev.Shell("which", "screenrecord")
	return err == nil && strings.TrimSpace(out) != ""
}

// Args builds the screenrecord command line for the given geometry
func Args(cfg config.ScreenrecordConfig, width, height int) []string {
	args := []string{"screenrecord", "--output-format=h264"}
	if cfg.TimeLimit > 0 {
		args = append(args, "--time-limit", strconv.Itoa(cfg.TimeLimit))
	}
	if width > 0 && height > 0 {
		args = append(args, "--size", fmt.Sprintf("%dx%d", width, height))
	}
	if cfg.Bitrate != "" {
		args = append(args, "--bit-rate", cfg.Bitrate)
	}
	return append(args, "-")
}

// Start resolves the capture geometry, starts the first recording session
// synchronously so setup errors surface to the caller, and spawns the
// session supervisor.
func (c *Capture) Start() error {
	w, h := c.cfg.Width, c.cfg.Height
	if w == 0 || h == 0 {
		dw, dh, err := c.dev.WindowSize()
		if err != nil {
			return fmt.Errorf("failed to read window size: %w", err)
		}
		if w == 0 {
			w = dw
		}
		if h == 0 {
			h = dh
		}
	}
	c.width, c.height = w, h

	c.buf = stream.NewBuffer(c.bufSize)

	producer, framer, err := c.startSession()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.current = producer
	c.mu.Unlock()

	c.wg.Add(1)
	go c.supervise(producer, framer)
	return nil
}

// startSession spawns one recording subprocess and its producer, sharing the
// backend-wide frame buffer
func (c *Capture) startSession() (*stream.Producer, *Framer, error) {
	framer := NewFramer(NewFFmpegDecoder(c.cfg.FFmpeg), c.width, c.height)
	cmd := c.dev.StreamCommand(true, Args(c.cfg, c.width, c.height)...)

	dial := func() (io.ReadCloser, error) {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to open screenrecord stdout: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start screenrecord: %w", err)
		}
		logger.WithComponent("screenrecord").Info().
			Int("width", c.width).Int("height", c.height).Str("bitrate", c.cfg.Bitrate).
			Msg("Recording session started")
		return &session{ReadCloser: stdout, cmd: cmd}, nil
	}

	producer := stream.NewProducer("screenrecord", dial, framer, c.buf)
	if err := producer.Start(); err != nil {
		return nil, nil, err
	}
	return producer, framer, nil
}

// supervise restarts the recording whenever a session's read loop exits
// before Stop was requested (screenrecord's own time limit, device hiccups).
// The restart handoff happens under c.mu so Stop always observes the session
// it needs to kill; decoders are torn down here, after the read loop that
// feeds them has provably exited.
func (c *Capture) supervise(producer *stream.Producer, framer *Framer) {
	defer c.wg.Done()
	log := logger.WithComponent("screenrecord")

	for {
		<-producer.Done()
		framer.CloseDecoder()

		c.mu.Lock()
		if c.stopped.Load() {
			c.mu.Unlock()
			return
		}

		log.Info().Msg("Recording session ended, restarting")
		next, nf, err := c.startSession()
		if err != nil {
			c.buf.Close()
			c.mu.Unlock()
			log.Error().Err(err).Msg("Failed to restart recording session")
			return
		}
		c.current = next
		c.mu.Unlock()
		producer, framer = next, nf
	}
}

// session bundles the subprocess transport so closing it tears the process
// down with the pipe. Decoder teardown belongs to the supervisor, which waits
// for the read loop to finish first.
type session struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (s *session) Close() error {
	s.ReadCloser.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	return nil
}

// producer returns the current session's producer
func (c *Capture) producer() *stream.Producer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Alive reports whether a recording session is currently producing
func (c *Capture) Alive() bool {
	p := c.producer()
	return p != nil && p.Alive()
}

// latestFrame fetches the most recent decoded frame, translating a timeout
// on a dead pipeline into the terminal stopped condition
func (c *Capture) latestFrame() (*stream.Frame, error) {
	if c.buf == nil {
		return nil, fmt.Errorf("screenrecord capture not started")
	}
	f, err := c.buf.Latest(latestTimeout)
	if err != nil {
		if errors.Is(err, stream.ErrNoFrame) && !c.Alive() {
			return nil, fmt.Errorf("%w: screenrecord producer died", stream.ErrStopped)
		}
		return nil, err
	}
	return f, nil
}

// ScreencapRaw returns the latest frame's raw RGBA bytes
func (c *Capture) ScreencapRaw() ([]byte, error) {
	f, err := c.latestFrame()
	if err != nil {
		return nil, err
	}
	return f.Data, nil
}

// Screencap returns the latest frame as an RGBA image
func (c *Capture) Screencap() (*image.RGBA, error) {
	f, err := c.latestFrame()
	if err != nil {
		return nil, err
	}
	return imgutil.RGBAFromRaw(f.Data, f.Width, f.Height)
}

// Frames returns a fresh iterator over decoded frames
func (c *Capture) Frames() (*stream.Iterator, error) {
	if c.buf == nil {
		return nil, fmt.Errorf("screenrecord capture not started")
	}
	return c.buf.Iter(), nil
}

// Stop ends the current session and prevents restarts. Idempotent. The flag
// is set before reading the producer so a restart racing this call either
// sees the flag and bails, or publishes its new session to c.current where it
// is stopped here.
func (c *Capture) Stop() error {
	if c.stopped.Swap(true) {
		return nil
	}
	if p := c.producer(); p != nil {
		p.Stop()
	} else if c.buf != nil {
		c.buf.Close()
	}
	c.wg.Wait()
	return nil
}
