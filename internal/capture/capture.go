// Package capture defines the Capturer interface implemented by every
// screen-capture backend and the router that picks one for a device.
package capture

import (
	"errors"
	"image"
)

// ErrUnsupported indicates a backend cannot run against the target device
// (missing binary, unsupported SDK version, and so on)
var ErrUnsupported = errors.New("capture backend not supported on this device")

// Capturer is the interface all capture backends implement
type Capturer interface {
	// Name returns a short backend identifier
	Name() string

	// Start initializes the backend and any device-side processes.
	// Failures are fatal setup errors, surfaced synchronously.
	Start() error

	// Stop releases resources and stops background processes. Idempotent.
	Stop() error

	// Screencap returns the most recent screen content as an RGBA image
	Screencap() (*image.RGBA, error)

	// ScreencapRaw returns the most recent screen content in the backend's
	// native byte encoding (raw RGBA for streaming backends, JPEG/PNG for
	// one-shot backends)
	ScreencapRaw() ([]byte, error)

	// IsAvailable checks whether this backend can be used with the device
	IsAvailable() bool
}
