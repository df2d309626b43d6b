// Package adbcap is the zero-setup fallback backend: each capture shells the
// stock `screencap -p` command and decodes the PNG it prints. Slow but works
// on every device.
package adbcap

import (
	"fmt"
	"image"

	"github.com/droidcap/droidcap/internal/device"
	"github.com/droidcap/droidcap/internal/imgutil"
)

// Capture is the screencap backend
type Capture struct {
	dev device.Device
}

// New creates an adbcap backend for the device
func New(dev device.Device) *Capture {
	return &Capture{dev: dev}
}

// Name returns the backend name
func (c *Capture) Name() string {
	return "adbcap"
}

// IsAvailable always reports true; screencap ships with Android
func (c *Capture) IsAvailable() bool {
	return true
}

// Start is a no-op; there is no device-side state
func (c *Capture) Start() error {
	return nil
}

// Stop is a no-op
func (c *Capture) Stop() error {
	return nil
}

// ScreencapRaw captures one screenshot and returns the PNG bytes. It goes
// through `adb exec-out` so the PNG stream stays 8-bit clean.
func (c *Capture) ScreencapRaw() ([]byte, error) {
	out, err := c.dev.StreamCommand(true, "screencap", "-p").Output()
	if err != nil {
		return nil, fmt.Errorf("screencap failed: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("screencap produced no output")
	}
	return out, nil
}

// Screencap captures one screenshot as an RGBA image
func (c *Capture) Screencap() (*image.RGBA, error) {
	raw, err := c.ScreencapRaw()
	if err != nil {
		return nil, err
	}
	return imgutil.DecodeImage(raw)
}
