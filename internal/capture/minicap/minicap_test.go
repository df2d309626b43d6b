package minicap

import (
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/droidcap/droidcap/internal/capture"
	"github.com/droidcap/droidcap/internal/config"
)

// scriptedDevice answers Getprop from a map and Shell via a hook; everything
// else records calls.
type scriptedDevice struct {
	props   map[string]string
	shellFn func(args ...string) (string, error)
	pushes  [][2]string
}

func (d *scriptedDevice) Serial() string { return "test-device" }

func (d *scriptedDevice) Shell(args ...string) (string, error) {
	if d.shellFn != nil {
		return d.shellFn(args...)
	}
	return "", nil
}

func (d *scriptedDevice) ShellBytes(args ...string) ([]byte, error) {
	out, err := d.Shell(args...)
	return []byte(out), err
}

func (d *scriptedDevice) Push(local, remote string) error {
	d.pushes = append(d.pushes, [2]string{local, remote})
	return nil
}

func (d *scriptedDevice) Forward(remote string) (int, error) { return 40000, nil }
func (d *scriptedDevice) RemoveForward(localPort int) error { return nil }
func (d *scriptedDevice) WindowSize() (int, int, error) { return 1080, 2400, nil }

func (d *scriptedDevice) Getprop(key string) (string, error) {
	v, ok := d.props[key]
	if !ok {
		return "", errors.New("no such property")
	}
	return v, nil
}

func (d *scriptedDevice) StreamCommand(execOut bool, args ...string) *exec.Cmd {
	return exec.Command("true")
}

func TestIsAvailable_SDKGate(t *testing.T) {
	cases := []struct {
		sdk  string
		want bool
	}{
		{"30", true},
		{"34", true},
		{"35", false},
		{"not a number", false},
	}
	for _, tc := range cases {
		dev := &scriptedDevice{props: map[string]string{"ro.build.version.sdk": tc.sdk}}
		c := New(dev, config.MinicapConfig{}, 4, false)
		if got := c.IsAvailable(); got != tc.want {
			t.Errorf("sdk %q: IsAvailable = %v, want %v", tc.sdk, got, tc.want)
		}
	}
}

func TestInstall_PushesMatchingPrebuilts(t *testing.T) {
	dev := &scriptedDevice{props: map[string]string{
		"ro.build.version.sdk": "33",
		"ro.product.cpu.abi":   "arm64-v8a",
	}}
	c := New(dev, config.MinicapConfig{BinDir: "/opt/minicap"}, 4, false)

	if err := c.install(); err != nil {
		t.Fatalf("install: %v", err)
	}
	if len(dev.pushes) != 2 {
		t.Fatalf("pushed %d files, want 2", len(dev.pushes))
	}
	if dev.pushes[0][0] != "/opt/minicap/libs/arm64-v8a/minicap" {
		t.Errorf("binary path = %q", dev.pushes[0][0])
	}
	if dev.pushes[1][0] != "/opt/minicap/jni/android-33/arm64-v8a/minicap.so" {
		t.Errorf("library path = %q", dev.pushes[1][0])
	}
}

// SDK 32 has no x86_64 shared library; the x86 build substitutes.
func TestInstall_SDK32X86Fallback(t *testing.T) {
	dev := &scriptedDevice{props: map[string]string{
		"ro.build.version.sdk": "32",
		"ro.product.cpu.abi":   "x86_64",
	}}
	c := New(dev, config.MinicapConfig{BinDir: "/opt/minicap"}, 4, false)

	if err := c.install(); err != nil {
		t.Fatalf("install: %v", err)
	}
	for _, p := range dev.pushes {
		if strings.Contains(p[0], "x86_64") {
			t.Errorf("pushed x86_64 artifact %q on SDK 32", p[0])
		}
	}
}

func TestInstall_UnsupportedSDK(t *testing.T) {
	dev := &scriptedDevice{props: map[string]string{
		"ro.build.version.sdk": "35",
		"ro.product.cpu.abi":   "arm64-v8a",
	}}
	c := New(dev, config.MinicapConfig{BinDir: "/opt/minicap"}, 4, false)

	if err := c.install(); !errors.Is(err, capture.ErrUnsupported) {
		t.Errorf("install on SDK 35: err = %v, want ErrUnsupported", err)
	}
}

func TestInstall_MissingBinDir(t *testing.T) {
	dev := &scriptedDevice{props: map[string]string{"ro.build.version.sdk": "33"}}
	c := New(dev, config.MinicapConfig{}, 4, false)

	if err := c.install(); !errors.Is(err, capture.ErrUnsupported) {
		t.Errorf("install without bin_dir: err = %v, want ErrUnsupported", err)
	}
}

func TestProbe_ParsesInfoAfterNoise(t *testing.T) {
	dev := &scriptedDevice{
		props: map[string]string{"ro.build.version.sdk": "33"},
		shellFn: func(args ...string) (string, error) {
			return "INFO: loading library\nWARNING: something\n" +
				`{"id": 0, "rotation": 90, "fps": 60.0, "width": 1080, "height": 2400}` + "\n", nil
		},
	}
	c := New(dev, config.MinicapConfig{}, 4, false)

	info, err := c.probe()
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.Rotation != 90 {
		t.Errorf("rotation = %d, want 90", info.Rotation)
	}
	if info.FPS != 60 {
		t.Errorf("fps = %v, want 60", info.FPS)
	}
	if info.Width != 1080 || info.Height != 2400 {
		t.Errorf("geometry = %dx%d, want 1080x2400", info.Width, info.Height)
	}
}

func TestProbe_NoDocument(t *testing.T) {
	dev := &scriptedDevice{
		shellFn: func(args ...string) (string, error) {
			return "CANNOT LINK EXECUTABLE\n", nil
		},
	}
	c := New(dev, config.MinicapConfig{}, 4, false)

	if _, err := c.probe(); !errors.Is(err, capture.ErrUnsupported) {
		t.Errorf("probe without JSON: err = %v, want ErrUnsupported", err)
	}
}

func TestOneShotJPEG_StripsPreamble(t *testing.T) {
	jpegBody := "\xff\xd8\xff\xe0fakejpegdata"
	dev := &scriptedDevice{
		shellFn: func(args ...string) (string, error) {
			return "PID: 1234\nINFO: Using projection\nINFO: dumping for JPG encoder\n" + jpegBody, nil
		},
	}
	c := New(dev, config.MinicapConfig{Quality: 90}, 4, false)

	out, err := c.oneShotJPEG()
	if err != nil {
		t.Fatalf("oneShotJPEG: %v", err)
	}
	if string(out) != jpegBody {
		t.Errorf("output = %q, preamble not stripped", out)
	}
}

func TestOneShotJPEG_EmptyOutput(t *testing.T) {
	dev := &scriptedDevice{
		shellFn: func(args ...string) (string, error) {
			return "INFO: dumping for JPG encoder\n", nil
		},
	}
	c := New(dev, config.MinicapConfig{}, 4, false)

	if _, err := c.oneShotJPEG(); err == nil {
		t.Error("oneShotJPEG accepted empty frame output")
	}
}

func TestProjection(t *testing.T) {
	c := New(&scriptedDevice{}, config.MinicapConfig{}, 4, false)
	c.width, c.height, c.rotation = 1080, 2400, 90
	if got := c.projection(); got != "1080x2400@1080x2400/90" {
		t.Errorf("projection = %q", got)
	}
}
