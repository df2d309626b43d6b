// Package droidcast is the HTTP-polling backend: a small APK served by
// app_process exposes the screen over HTTP on the device, reached through an
// adb port forward. Each capture is one GET request.
package droidcast

import (
	"fmt"
	"image"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/droidcap/droidcap/internal/capture"
	"github.com/droidcap/droidcap/internal/config"
	"github.com/droidcap/droidcap/internal/device"
	"github.com/droidcap/droidcap/internal/imgutil"
	"github.com/droidcap/droidcap/internal/logger"
)

const (
	packageName  = "com.rayworks.droidcast"
	apkVersion   = "1.4.1"
	remoteAPK    = "/data/local/tmp/DroidCast_" + apkVersion + ".apk"
	startupDelay = 1 * time.Second
	maxRetries   = 3
	retryDelay   = 500 * time.Millisecond
)

// Capture is the DroidCast backend
type Capture struct {
	dev device.Device
	cfg config.DroidCastConfig

	apkPath   string
	client    *http.Client
	proc      *exec.Cmd
	localPort int
	url       string
}

// New creates a DroidCast backend. apkPath points at the local APK to
// install when the device lacks the expected version.
func New(dev device.Device, cfg config.DroidCastConfig, apkPath string) *Capture {
	return &Capture{
		dev:     dev,
		cfg:     cfg,
		apkPath: apkPath,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
	}
}

// Name returns the backend name
func (c *Capture) Name() string {
	return "droidcast"
}

// IsAvailable reports whether the APK is installed or installable
func (c *Capture) IsAvailable() bool {
	if c.installedVersion() != "" {
		return true
	}
	return c.apkPath != ""
}

// installedVersion returns the installed DroidCast versionName, or ""
func (c *Capture) installedVersion() string {
	out, err := c.dev.Shell("dumpsys", "package", packageName)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "versionName="); ok {
			return v
		}
	}
	return ""
}

// install pushes and installs the APK when the expected version is missing
func (c *Capture) install() error {
	if c.installedVersion() == apkVersion {
		return nil
	}
	if c.apkPath == "" {
		return fmt.Errorf("%w: droidcast %s not installed and no apk path configured", capture.ErrUnsupported, apkVersion)
	}

	log := logger.WithComponent("droidcast")
	if v := c.installedVersion(); v != "" {
		log.Info().Str("from", v).Str("to", apkVersion).Msg("Upgrading DroidCast")
		c.dev.Shell("pm", "uninstall", packageName)
	}

	if err := c.dev.Push(c.apkPath, remoteAPK); err != nil {
		return err
	}
	if out, err := c.dev.Shell("pm", "install", "-t", remoteAPK); err != nil {
		return fmt.Errorf("failed to install droidcast: %w (%s)", err, strings.TrimSpace(out))
	}
	return nil
}

// classPath resolves the installed APK path for app_process
func (c *Capture) classPath() (string, error) {
	out, err := c.dev.Shell("pm", "path", packageName)
	if err != nil {
		return "", fmt.Errorf("pm path failed: %w", err)
	}
	out = strings.TrimSpace(out)
	_, path, ok := strings.Cut(out, ":")
	if !ok || path == "" {
		return "", fmt.Errorf("cannot determine classpath for %s: %q", packageName, out)
	}
	return path, nil
}

// Start installs the APK if needed, launches the server via app_process,
// forwards its port, and verifies it answers
func (c *Capture) Start() error {
	log := logger.WithComponent("droidcast")

	if err := c.install(); err != nil {
		return err
	}

	cp, err := c.classPath()
	if err != nil {
		return err
	}

	c.proc = c.dev.StreamCommand(false,
		"CLASSPATH="+cp, "exec", "app_process", "/", packageName+".Main",
		"--port="+strconv.Itoa(c.cfg.Port))
	c.proc.Stdout = io.Discard
	c.proc.Stderr = io.Discard
	if err := c.proc.Start(); err != nil {
		return fmt.Errorf("failed to start droidcast process: %w", err)
	}
	time.Sleep(startupDelay)

	port, err := c.dev.Forward(fmt.Sprintf("tcp:%d", c.cfg.Port))
	if err != nil {
		c.killProc()
		return err
	}
	c.localPort = port
	c.url = fmt.Sprintf("http://127.0.0.1:%d/screenshot?format=png", port)

	// The server needs a moment after app_process start; probe with retries.
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if _, lastErr = c.fetch(); lastErr == nil {
			log.Info().Int("port", port).Msg("DroidCast ready")
			return nil
		}
		time.Sleep(retryDelay)
	}
	c.Stop()
	return fmt.Errorf("droidcast did not come up: %w", lastErr)
}

// fetch performs one screenshot request
func (c *Capture) fetch() ([]byte, error) {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("droidcast request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("droidcast returned %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("droidcast response read failed: %w", err)
	}
	return data, nil
}

// ScreencapRaw captures one screenshot and returns the PNG bytes
func (c *Capture) ScreencapRaw() ([]byte, error) {
	if c.url == "" {
		return nil, fmt.Errorf("droidcast not started")
	}
	return c.fetch()
}

// Screencap captures one screenshot as an RGBA image
func (c *Capture) Screencap() (*image.RGBA, error) {
	raw, err := c.ScreencapRaw()
	if err != nil {
		return nil, err
	}
	return imgutil.DecodeImage(raw)
}

func (c *Capture) killProc() {
	if c.proc != nil && c.proc.Process != nil {
		c.proc.Process.Kill()
		c.proc.Wait()
	}
	c.proc = nil
}

// Stop kills the device-side server and removes the forward. Idempotent.
func (c *Capture) Stop() error {
	c.killProc()
	if c.localPort != 0 {
		c.dev.RemoveForward(c.localPort)
		c.localPort = 0
	}
	c.url = ""
	return nil
}
