package minicap

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/droidcap/droidcap/internal/stream"
)

// buildBanner serializes a banner. length may exceed 24; the extra bytes are
// zero padding the framer must skip.
func buildBanner(version, length byte, pid, realW, realH, virtW, virtH uint32, orientation, quirks byte) []byte {
	out := make([]byte, int(length))
	out[0] = version
	out[1] = length
	binary.LittleEndian.PutUint32(out[2:], pid)
	binary.LittleEndian.PutUint32(out[6:], realW)
	binary.LittleEndian.PutUint32(out[10:], realH)
	binary.LittleEndian.PutUint32(out[14:], virtW)
	binary.LittleEndian.PutUint32(out[18:], virtH)
	out[22] = orientation
	out[23] = quirks
	return out
}

func feedAll(t *testing.T, f *Framer, data []byte, chunkSize int) []*stream.Frame {
	t.Helper()
	var frames []*stream.Frame
	for start := 0; start < len(data); start += chunkSize {
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		got, err := f.Feed(data[start:end])
		if err != nil {
			t.Fatalf("Feed returned error: %v", err)
		}
		frames = append(frames, got...)
	}
	return frames
}

func TestFramer_BannerFields(t *testing.T) {
	data := buildBanner(1, 24, 12345, 1080, 2400, 540, 1200, 3, 0x05)

	f := NewFramer(nil)
	if _, err := f.Feed(data); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	if !f.BannerDone() {
		t.Fatal("banner should be complete")
	}
	b := f.Banner()
	if b.Version != 1 {
		t.Errorf("version = %d, want 1", b.Version)
	}
	if b.PID != 12345 {
		t.Errorf("pid = %d, want 12345", b.PID)
	}
	if b.RealWidth != 1080 || b.RealHeight != 2400 {
		t.Errorf("real = %dx%d, want 1080x2400", b.RealWidth, b.RealHeight)
	}
	if b.VirtualWidth != 540 || b.VirtualHeight != 1200 {
		t.Errorf("virtual = %dx%d, want 540x1200", b.VirtualWidth, b.VirtualHeight)
	}
	if b.Orientation != 270 {
		t.Errorf("orientation = %d, want 270", b.Orientation)
	}
	if b.Quirks != 0x05 {
		t.Errorf("quirks = %#02x, want 0x05", b.Quirks)
	}
}

// TestFramer_SplitMidBannerMidFrame: a v1 banner with virtual 2x1 followed by
// one RGBA frame, delivered as chunks split mid-banner and mid-frame.
func TestFramer_SplitMidBannerMidFrame(t *testing.T) {
	banner := buildBanner(1, 24, 0, 2, 1, 2, 1, 0, 0)
	frame := []byte{10, 20, 30, 255, 40, 50, 60, 255}
	data := append(append([]byte{}, banner...), frame...)

	f := NewFramer(nil)

	// First chunk ends mid-banner; second starts mid-banner and ends
	// mid-frame; third completes the frame.
	first, err := f.Feed(data[:13])
	if err != nil || len(first) != 0 {
		t.Fatalf("mid-banner chunk: frames=%d err=%v, want none", len(first), err)
	}
	second, err := f.Feed(data[13:28])
	if err != nil || len(second) != 0 {
		t.Fatalf("mid-frame chunk: frames=%d err=%v, want none", len(second), err)
	}
	third, err := f.Feed(data[28:])
	if err != nil {
		t.Fatalf("final chunk: %v", err)
	}
	if len(third) != 1 {
		t.Fatalf("got %d frames, want 1", len(third))
	}
	got := third[0]
	if !bytes.Equal(got.Data, frame) {
		t.Errorf("frame data = %v, want %v", got.Data, frame)
	}
	if got.Width != 2 || got.Height != 1 {
		t.Errorf("frame geometry = %dx%d, want 2x1", got.Width, got.Height)
	}
}

// TestFramer_ChunkingInvariance: any partition of the stream, including
// 1-byte chunks, yields the same frames.
func TestFramer_ChunkingInvariance(t *testing.T) {
	banner := buildBanner(1, 24, 99, 8, 4, 4, 2, 1, 0)
	var frames []byte
	for i := 0; i < 3; i++ {
		frame := bytes.Repeat([]byte{byte(i + 1)}, 4*2*4)
		frames = append(frames, frame...)
	}
	data := append(append([]byte{}, banner...), frames...)

	whole := NewFramer(nil)
	want, err := whole.Feed(data)
	if err != nil {
		t.Fatalf("Feed whole: %v", err)
	}
	if len(want) != 3 {
		t.Fatalf("whole stream yielded %d frames, want 3", len(want))
	}

	for _, chunkSize := range []int{1, 2, 3, 5, 7, 16, 31, 64, len(data)} {
		f := NewFramer(nil)
		got := feedAll(t, f, data, chunkSize)
		if len(got) != len(want) {
			t.Fatalf("chunkSize=%d: got %d frames, want %d", chunkSize, len(got), len(want))
		}
		for i := range got {
			if !bytes.Equal(got[i].Data, want[i].Data) {
				t.Errorf("chunkSize=%d: frame %d differs", chunkSize, i)
			}
		}
	}
}

// TestFramer_LongBanner: the declared header length exceeds the minimal 24
// bytes; frame parsing must not start until the full declared length is
// consumed.
func TestFramer_LongBanner(t *testing.T) {
	banner := buildBanner(2, 32, 7, 4, 4, 2, 2, 0, 0)
	frame := bytes.Repeat([]byte{0xAB}, 2*2*4)
	data := append(append([]byte{}, banner...), frame...)

	f := NewFramer(nil)
	got := feedAll(t, f, data, 5)
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	if !bytes.Equal(got[0].Data, frame) {
		t.Error("frame data corrupted by long banner")
	}
}

// TestFramer_ZeroGeometryPauses: a banner without virtual dimensions must
// never produce a frame.
func TestFramer_ZeroGeometryPauses(t *testing.T) {
	banner := buildBanner(1, 24, 7, 1080, 2400, 0, 0, 0, 0)
	data := append(append([]byte{}, banner...), bytes.Repeat([]byte{0xFF}, 1024)...)

	f := NewFramer(nil)
	got := feedAll(t, f, data, 64)
	if len(got) != 0 {
		t.Fatalf("got %d frames from zero-geometry banner, want 0", len(got))
	}
}

func TestFramer_OnBannerCallback(t *testing.T) {
	var seen []Banner
	f := NewFramer(func(b Banner) { seen = append(seen, b) })

	feedAll(t, f, buildBanner(1, 24, 1, 2, 2, 2, 2, 0, 0), 1)
	if len(seen) != 1 {
		t.Fatalf("callback fired %d times, want 1", len(seen))
	}
	if seen[0].VirtualWidth != 2 || seen[0].VirtualHeight != 2 {
		t.Errorf("callback banner virtual = %dx%d, want 2x2", seen[0].VirtualWidth, seen[0].VirtualHeight)
	}
}

// TestFramer_FrameLifetime: a published frame must not share memory with the
// framer's accumulator for the next frame.
func TestFramer_FrameLifetime(t *testing.T) {
	banner := buildBanner(1, 24, 0, 2, 1, 2, 1, 0, 0)
	frame1 := []byte{1, 1, 1, 1, 1, 1, 1, 1}
	frame2 := []byte{2, 2, 2, 2, 2, 2, 2, 2}
	data := append(append(append([]byte{}, banner...), frame1...), frame2...)

	f := NewFramer(nil)
	got := feedAll(t, f, data, len(data))
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if !bytes.Equal(got[0].Data, frame1) || !bytes.Equal(got[1].Data, frame2) {
		t.Error("second frame overwrote the first")
	}
}

func TestBanner_FrameSize(t *testing.T) {
	b := Banner{VirtualWidth: 540, VirtualHeight: 1200}
	if got := b.FrameSize(); got != 540*1200*4 {
		t.Errorf("FrameSize = %d, want %d", got, 540*1200*4)
	}
	if got := (Banner{}).FrameSize(); got != 0 {
		t.Errorf("empty banner FrameSize = %d, want 0", got)
	}
}
