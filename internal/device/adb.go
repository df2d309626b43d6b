package device

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/droidcap/droidcap/internal/logger"
)

// ADB implements Device by shelling out to the adb binary
type ADB struct {
	path   string
	serial string
}

// NewADB creates a Device for the given serial. An empty adbPath resolves
// "adb" from PATH.
func NewADB(serial, adbPath string) (*ADB, error) {
	if adbPath == "" {
		adbPath = "adb"
	}
	resolved, err := exec.LookPath(adbPath)
	if err != nil {
		return nil, fmt.Errorf("adb binary not found: %w", err)
	}
	return &ADB{path: resolved, serial: serial}, nil
}

// Serial returns the device serial number
func (a *ADB) Serial() string {
	return a.serial
}

func (a *ADB) args(rest ...string) []string {
	out := make([]string, 0, len(rest)+2)
	if a.serial != "" {
		out = append(out, "-s", a.serial)
	}
	return append(out, rest...)
}

// Shell runs a command on the device and returns its output as a string
func (a *ADB) Shell(args ...string) (string, error) {
	out, err := a.ShellBytes(args...)
	return string(out), err
}

// ShellBytes runs a command on the device and returns raw output bytes
func (a *ADB) ShellBytes(args ...string) ([]byte, error) {
	cmd := exec.Command(a.path, a.args(append([]string{"shell"}, args...)...)...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("adb shell %s failed: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// Push copies a local file to the device
func (a *ADB) Push(local, remote string) error {
	cmd := exec.Command(a.path, a.args("push", local, remote)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("adb push %s failed: %w (%s)", local, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Forward sets up a forward from a dynamically allocated local TCP port to
// the given remote address and returns the local port. adb prints the
// allocated port when asked to forward tcp:0.
func (a *ADB) Forward(remote string) (int, error) {
	cmd := exec.Command(a.path, a.args("forward", "tcp:0", remote)...)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("adb forward to %s failed: %w", remote, err)
	}
	port, err := ParseForwardOutput(string(out))
	if err != nil {
		return 0, fmt.Errorf("adb forward to %s: %w", remote, err)
	}
	logger.WithDevice(a.serial).Debug().Int("port", port).Str("remote", remote).Msg("Port forward established")
	return port, nil
}

// RemoveForward tears down a previously established forward
func (a *ADB) RemoveForward(localPort int) error {
	cmd := exec.Command(a.path, a.args("forward", "--remove", fmt.Sprintf("tcp:%d", localPort))...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("adb forward --remove tcp:%d failed: %w", localPort, err)
	}
	return nil
}

// WindowSize returns the device display size in pixels, preferring an
// override size when one is set
func (a *ADB) WindowSize() (int, int, error) {
	out, err := a.Shell("wm", "size")
	if err != nil {
		return 0, 0, err
	}
	w, h, err := ParseWindowSize(out)
	if err != nil {
		return 0, 0, fmt.Errorf("wm size: %w", err)
	}
	return w, h, nil
}

// Getprop reads a system property
func (a *ADB) Getprop(key string) (string, error) {
	out, err := a.Shell("getprop", key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// StreamCommand builds a long-running adb command whose stdout carries a raw
// byte stream. execOut selects `adb exec-out` (8-bit clean) over `adb shell`.
func (a *ADB) StreamCommand(execOut bool, args ...string) *exec.Cmd {
	transport := "shell"
	if execOut {
		transport = "exec-out"
	}
	return exec.Command(a.path, a.args(append([]string{transport}, args...)...)...)
}

// ParseForwardOutput extracts the allocated local port from adb forward output
func ParseForwardOutput(out string) (int, error) {
	s := strings.TrimSpace(out)
	if s == "" {
		return 0, fmt.Errorf("no port in output")
	}
	// Recent adb versions echo just the port; older ones echo the full spec.
	s = strings.TrimPrefix(s, "tcp:")
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unexpected forward output %q", out)
	}
	return port, nil
}

// ParseWindowSize extracts WxH from `wm size` output, e.g.
// "Physical size: 1080x2400" with an optional "Override size" line that
// takes precedence.
func ParseWindowSize(out string) (int, int, error) {
	var w, h int
	found := false
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		isOverride := strings.HasPrefix(line, "Override size:")
		if !isOverride && !strings.HasPrefix(line, "Physical size:") {
			continue
		}
		fields := strings.Fields(line)
		dims := strings.Split(fields[len(fields)-1], "x")
		if len(dims) != 2 {
			continue
		}
		pw, err1 := strconv.Atoi(dims[0])
		ph, err2 := strconv.Atoi(dims[1])
		if err1 != nil || err2 != nil {
			continue
		}
		w, h = pw, ph
		found = true
		if isOverride {
			break
		}
	}
	if !found {
		return 0, 0, fmt.Errorf("unexpected output %q", strings.TrimSpace(out))
	}
	return w, h, nil
}
