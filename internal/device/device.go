// Package device abstracts the Android device handle used by the capture
// backends. Backends depend on the Device interface only; the ADB
// implementation shells out to the adb binary.
package device

import "os/exec"

// Device exposes the capabilities the capture backends need from a connected
// device. Failures from any of these methods are setup errors: backends
// surface them synchronously from Start and never retry internally.
type Device interface {
	// Serial returns the device serial number
	Serial() string

	// Shell runs a command on the device and returns its combined output
	Shell(args ...string) (string, error)

	// ShellBytes runs a command on the device and returns raw output bytes
	ShellBytes(args ...string) ([]byte, error)

	// Push copies a local file to the device
	Push(local, remote string) error

	// Forward sets up a port forward to the given remote address
	// (e.g. "localabstract:minicap") and returns the local TCP port
	Forward(remote string) (int, error)

	// RemoveForward tears down a previously established forward
	RemoveForward(localPort int) error

	// WindowSize returns the device display size in pixels
	WindowSize() (int, int, error)

	// Getprop reads a system property
	Getprop(key string) (string, error)

	// StreamCommand builds a long-running device command whose stdout is
	// consumed as a byte stream (shell or exec-out transport)
	StreamCommand(execOut bool, args ...string) *exec.Cmd
}
