package capture

import (
	"image"
	"os/exec"
	"testing"

	"github.com/droidcap/droidcap/internal/config"
	"github.com/droidcap/droidcap/internal/device"
)

type fakeDevice struct{ serial string }

func (d *fakeDevice) Serial() string { return d.serial }
func (d *fakeDevice) Shell(args ...string) (string, error) { return "", nil }
func (d *fakeDevice) ShellBytes(args ...string) ([]byte, error) { return nil, nil }
func (d *fakeDevice) Push(local, remote string) error { return nil }
func (d *fakeDevice) Forward(remote string) (int, error) { return 0, nil }
func (d *fakeDevice) RemoveForward(localPort int) error { return nil }
func (d *fakeDevice) WindowSize() (int, int, error) { return 1080, 2400, nil }
func (d *fakeDevice) Getprop(key string) (string, error) { return "", nil }
func (d *fakeDevice) StreamCommand(execOut bool, args ...string) *exec.Cmd {
	return exec.Command("true")
}

type fakeCapturer struct {
	name      string
	available bool
	probed    *int
}

func (c *fakeCapturer) Name() string { return c.name }
func (c *fakeCapturer) Start() error { return nil }
func (c *fakeCapturer) Stop() error { return nil }
func (c *fakeCapturer) Screencap() (*image.RGBA, error) { return nil, ErrUnsupported }
func (c *fakeCapturer) ScreencapRaw() ([]byte, error) { return nil, ErrUnsupported }
func (c *fakeCapturer) IsAvailable() bool {
	if c.probed != nil {
		*c.probed++
	}
	return c.available
}

func withRegistry(t *testing.T, entries map[config.Backend]*fakeCapturer, order ...config.Backend) {
	t.Helper()
	saved := registry
	registry = nil
	t.Cleanup(func() { registry = saved })
	for _, name := range order {
		c := entries[name]
		Register(name, func(device.Device, *config.Config) Capturer { return c })
	}
}

func TestNew_ExplicitBackendSkipsProbe(t *testing.T) {
	probes := 0
	withRegistry(t, map[config.Backend]*fakeCapturer{
		"alpha": {name: "alpha", available: false, probed: &probes},
	}, "alpha")

	c, err := New(&fakeDevice{serial: "emulator-5554"}, &config.Config{Backend: "alpha"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Name() != "alpha" {
		t.Errorf("selected %q, want alpha", c.Name())
	}
	// An explicit choice is honored even when the probe would say no.
	if probes != 0 {
		t.Errorf("explicit selection probed availability %d times", probes)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	withRegistry(t, map[config.Backend]*fakeCapturer{
		"alpha": {name: "alpha", available: true},
	}, "alpha")

	if _, err := New(&fakeDevice{}, &config.Config{Backend: "nonesuch"}); err == nil {
		t.Fatal("New accepted an unknown backend name")
	}
}

func TestNew_AutoPicksFirstAvailable(t *testing.T) {
	withRegistry(t, map[config.Backend]*fakeCapturer{
		"alpha": {name: "alpha", available: false},
		"beta":  {name: "beta", available: true},
		"gamma": {name: "gamma", available: true},
	}, "alpha", "beta", "gamma")

	c, err := New(&fakeDevice{}, &config.Config{Backend: config.BackendAuto})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Name() != "beta" {
		t.Errorf("auto selected %q, want beta (first available in order)", c.Name())
	}
}

func TestNew_AutoNoneAvailable(t *testing.T) {
	withRegistry(t, map[config.Backend]*fakeCapturer{
		"alpha": {name: "alpha", available: false},
	}, "alpha")

	if _, err := New(&fakeDevice{serial: "dead"}, &config.Config{}); err == nil {
		t.Fatal("New succeeded with no available backends")
	}
}
