package minicap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/droidcap/droidcap/internal/capture"
	"github.com/droidcap/droidcap/internal/config"
	"github.com/droidcap/droidcap/internal/device"
	"github.com/droidcap/droidcap/internal/imgutil"
	"github.com/droidcap/droidcap/internal/logger"
	"github.com/droidcap/droidcap/internal/stream"
)

const (
	remoteBin     = "/data/local/tmp/minicap"
	remoteLib     = "/data/local/tmp/minicap.so"
	remoteSocket  = "localabstract:minicap"
	maxSupported  = 34 // minicap has no prebuilts past Android SDK 34
	startupDelay  = 3 * time.Second
	dialTimeout   = 5 * time.Second
	latestTimeout = 2 * time.Second
)

// jpegPreamble separates minicap's informational output from the JPEG body
// in one-shot (-s) mode
var jpegPreamble = []byte("for JPG encoder\n")

// deviceInfo is the JSON document printed by `minicap -i`
type deviceInfo struct {
	Rotation int     `json:"rotation"`
	FPS      float64 `json:"fps"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

// Capture is the minicap backend. In streaming mode it runs the device-side
// minicap process, forwards its abstract socket to a local TCP port, and
// keeps the latest frames in a buffer; in one-shot mode each Screencap
// shells a single JPEG capture.
type Capture struct {
	dev       device.Device
	cfg       config.MinicapConfig
	useStream bool
	bufSize   int

	width    int
	height   int
	rotation int
	rate     int

	proc      *exec.Cmd
	localPort int
	producer  *stream.Producer
}

// New creates a minicap backend for the device. Streaming starts on Start,
// not here.
func New(dev device.Device, cfg config.MinicapConfig, bufferSize int, useStream bool) *Capture {
	return &Capture{
		dev:       dev,
		cfg:       cfg,
		useStream: useStream,
		bufSize:   bufferSize,
		rate:      cfg.Rate,
	}
}

// Name returns the backend name
func (c *Capture) Name() string {
	return "minicap"
}

// IsAvailable reports whether the device can run minicap at all
func (c *Capture) IsAvailable() bool {
	sdk, err := c.sdkVersion()
	return err == nil && sdk <= maxSupported
}

func (c *Capture) sdkVersion() (int, error) {
	raw, err := c.dev.Getprop("ro.build.version.sdk")
	if err != nil {
		return 0, err
	}
	sdk, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("unexpected sdk version %q", raw)
	}
	return sdk, nil
}

// Start prepares and launches minicap: kill stale processes, push the
// prebuilt binaries, probe display parameters, then (in streaming mode)
// start the device process, forward its socket, and spawn the producer.
// Every failure here is a fatal setup error.
func (c *Capture) Start() error {
	log := logger.WithComponent("minicap")

	w, h, err := c.dev.WindowSize()
	if err != nil {
		return fmt.Errorf("failed to read window size: %w", err)
	}
	c.width, c.height = w, h

	// A leftover minicap process holds the abstract socket.
	c.dev.Shell("pkill", "-9", "minicap")

	if err := c.install(); err != nil {
		return err
	}

	info, err := c.probe()
	if err != nil {
		return err
	}
	c.rotation = info.Rotation
	if c.rate == 0 && info.FPS > 0 {
		c.rate = int(info.FPS)
	}
	log.Info().Int("rotation", c.rotation).Int("rate", c.rate).Msg("Device probe complete")

	if !c.useStream {
		return nil
	}

	if err := c.startStream(); err != nil {
		return err
	}
	return nil
}

// install pushes the minicap executable and the SDK-specific shared library
func (c *Capture) install() error {
	if c.cfg.BinDir == "" {
		return fmt.Errorf("%w: minicap bin_dir not configured", capture.ErrUnsupported)
	}

	sdk, err := c.sdkVersion()
	if err != nil {
		return fmt.Errorf("failed to read sdk version: %w", err)
	}
	if sdk > maxSupported {
		return fmt.Errorf("%w: minicap does not support Android SDK %d (max %d)", capture.ErrUnsupported, sdk, maxSupported)
	}

	abi, err := c.dev.Getprop("ro.product.cpu.abi")
	if err != nil {
		return fmt.Errorf("failed to read cpu abi: %w", err)
	}
	// SDK 32 ships no x86_64 minicap.so; the x86 build works there.
	if sdk == 32 && abi == "x86_64" {
		abi = "x86"
	}

	bin := fmt.Sprintf("%s/libs/%s/minicap", c.cfg.BinDir, abi)
	lib := fmt.Sprintf("%s/jni/android-%d/%s/minicap.so", c.cfg.BinDir, sdk, abi)

	if err := c.dev.Push(bin, remoteBin); err != nil {
		return err
	}
	if err := c.dev.Push(lib, remoteLib); err != nil {
		return err
	}
	if _, err := c.dev.Shell("chmod", "+x", remoteBin); err != nil {
		return err
	}
	return nil
}

// probe runs `minicap -i` and parses the JSON document it prints after some
// informational noise
func (c *Capture) probe() (*deviceInfo, error) {
	out, err := c.dev.Shell("LD_LIBRARY_PATH=/data/local/tmp", remoteBin, "-i")
	if err != nil {
		return nil, fmt.Errorf("minicap -i failed: %w", err)
	}
	start := strings.Index(out, "{")
	if start < 0 {
		return nil, fmt.Errorf("%w: minicap -i produced no info document", capture.ErrUnsupported)
	}
	var info deviceInfo
	if err := json.Unmarshal([]byte(out[start:]), &info); err != nil {
		return nil, fmt.Errorf("%w: failed to parse minicap info: %v", capture.ErrUnsupported, err)
	}
	return &info, nil
}

// projection builds the -P argument: real@virtual/rotation
func (c *Capture) projection() string {
	return fmt.Sprintf("%dx%d@%dx%d/%d", c.width, c.height, c.width, c.height, c.rotation)
}

// startStream launches the device-side process, forwards its socket, and
// starts the producer over a local TCP connection
func (c *Capture) startStream() error {
	log := logger.WithComponent("minicap")

	args := []string{"LD_LIBRARY_PATH=/data/local/tmp", remoteBin, "-P", c.projection(), "-Q", strconv.Itoa(c.cfg.Quality)}
	if c.rate > 0 {
		args = append(args, "-r", strconv.Itoa(c.rate))
	}
	if c.cfg.SkipFrame {
		args = append(args, "-S")
	}

	c.proc = c.dev.StreamCommand(false, args...)
	c.proc.Stdout = io.Discard
	c.proc.Stderr = io.Discard
	if err := c.proc.Start(); err != nil {
		return fmt.Errorf("failed to start minicap process: %w", err)
	}
	log.Info().Str("projection", c.projection()).Msg("minicap process started, waiting for socket")
	time.Sleep(startupDelay)

	port, err := c.dev.Forward(remoteSocket)
	if err != nil {
		c.killProc()
		return err
	}
	c.localPort = port

	buf := stream.NewBuffer(c.bufSize)
	framer := NewFramer(nil)
	dial := func() (io.ReadCloser, error) {
		return net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), dialTimeout)
	}
	c.producer = stream.NewProducer("minicap", dial, framer, buf)
	if err := c.producer.Start(); err != nil {
		c.killProc()
		return err
	}
	return nil
}

func (c *Capture) killProc() {
	if c.proc != nil && c.proc.Process != nil {
		c.proc.Process.Kill()
		c.proc.Wait()
	}
	c.proc = nil
}

// latestFrame fetches the most recent streamed frame, translating a timeout
// on a dead producer into the terminal stopped condition
func (c *Capture) latestFrame() (*stream.Frame, error) {
	if c.producer == nil {
		return nil, fmt.Errorf("minicap stream not started")
	}
	f, err := c.producer.Buffer().Latest(latestTimeout)
	if err != nil {
		if errors.Is(err, stream.ErrNoFrame) && !c.producer.Alive() {
			return nil, fmt.Errorf("%w: minicap producer died", stream.ErrStopped)
		}
		return nil, err
	}
	return f, nil
}

// ScreencapRaw returns the latest frame's raw RGBA bytes in streaming mode,
// or JPEG bytes from a one-shot capture otherwise
func (c *Capture) ScreencapRaw() ([]byte, error) {
	if c.useStream {
		f, err := c.latestFrame()
		if err != nil {
			return nil, err
		}
		return f.Data, nil
	}
	return c.oneShotJPEG()
}

// oneShotJPEG shells `minicap -s` and strips everything before the JPEG body
func (c *Capture) oneShotJPEG() ([]byte, error) {
	out, err := c.dev.ShellBytes("LD_LIBRARY_PATH=/data/local/tmp", remoteBin,
		"-P", c.projection(), "-Q", strconv.Itoa(c.cfg.Quality), "-s")
	if err != nil {
		return nil, err
	}
	if idx := bytes.LastIndex(out, jpegPreamble); idx >= 0 {
		out = out[idx+len(jpegPreamble):]
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty frame from minicap -s")
	}
	return out, nil
}

// Screencap returns the latest frame as an RGBA image
func (c *Capture) Screencap() (*image.RGBA, error) {
	if c.useStream {
		f, err := c.latestFrame()
		if err != nil {
			return nil, err
		}
		return imgutil.RGBAFromRaw(f.Data, f.Width, f.Height)
	}
	raw, err := c.oneShotJPEG()
	if err != nil {
		return nil, err
	}
	return imgutil.DecodeImage(raw)
}

// Frames returns a fresh iterator over frames in streaming mode
func (c *Capture) Frames() (*stream.Iterator, error) {
	if c.producer == nil {
		return nil, fmt.Errorf("minicap stream not started")
	}
	return c.producer.Frames(), nil
}

// Producer exposes the underlying producer for liveness checks
func (c *Capture) Producer() *stream.Producer {
	return c.producer
}

// Stop shuts the stream down, kills the device-side process, and removes the
// port forward. Idempotent.
func (c *Capture) Stop() error {
	if c.producer != nil {
		c.producer.Stop()
	}
	c.killProc()
	if c.localPort != 0 {
		c.dev.RemoveForward(c.localPort)
		c.localPort = 0
	}
	return nil
}
