// Package minicap implements the minicap streaming backend: a TCP connection
// to the device-side minicap process carrying a self-describing banner
// followed by fixed-length raw RGBA frame bodies.
package minicap

import "fmt"

// Banner field offsets within the header. The header's own length is
// declared at offset 1 and may exceed the minimal 24 bytes; trailing bytes
// are skipped.
const (
	offVersion       = 0
	offLength        = 1
	offPID           = 2
	offRealWidth     = 6
	offRealHeight    = 10
	offVirtualWidth  = 14
	offVirtualHeight = 18
	offOrientation   = 22
	offQuirks        = 23
)

// Quirk bits reported by minicap in the banner
const (
	QuirkDumb         = 1 << 0 // frames must be polled
	QuirkAlwaysUpdate = 1 << 1 // frames are sent even without screen changes
	QuirkTear         = 1 << 2 // frames may tear
)

// Banner is the stream header minicap sends once per connection. The virtual
// dimensions size every subsequent frame body (VirtualWidth*VirtualHeight*4
// bytes of RGBA).
type Banner struct {
	Version       int
	Length        int
	PID           uint32
	RealWidth     uint32
	RealHeight    uint32
	VirtualWidth  uint32
	VirtualHeight uint32
	Orientation   int // degrees: 0, 90, 180, 270
	Quirks        byte
}

// FrameSize returns the fixed frame body length announced by the banner,
// or 0 while the virtual dimensions are unknown
func (b Banner) FrameSize() int {
	return int(b.VirtualWidth) * int(b.VirtualHeight) * 4
}

func (b Banner) String() string {
	return fmt.Sprintf("minicap banner v%d pid=%d real=%dx%d virtual=%dx%d orientation=%d quirks=%#02x",
		b.Version, b.PID, b.RealWidth, b.RealHeight, b.VirtualWidth, b.VirtualHeight, b.Orientation, b.Quirks)
}

// apply folds one header byte at position pos into the banner. Multi-byte
// fields are little-endian, accumulated a byte at a time so the parser works
// no matter how the transport chunks the stream.
func (b *Banner) apply(pos int, v byte) {
	switch {
	case pos == offVersion:
		b.Version = int(v)
	case pos == offLength:
		b.Length = int(v)
	case pos >= offPID && pos < offRealWidth:
		b.PID |= uint32(v) << (8 * (pos - offPID))
	case pos >= offRealWidth && pos < offRealHeight:
		b.RealWidth |= uint32(v) << (8 * (pos - offRealWidth))
	case pos >= offRealHeight && pos < offVirtualWidth:
		b.RealHeight |= uint32(v) << (8 * (pos - offRealHeight))
	case pos >= offVirtualWidth && pos < offVirtualHeight:
		b.VirtualWidth |= uint32(v) << (8 * (pos - offVirtualWidth))
	case pos >= offVirtualHeight && pos < offOrientation:
		b.VirtualHeight |= uint32(v) << (8 * (pos - offVirtualHeight))
	case pos == offOrientation:
		b.Orientation = int(v) * 90
	case pos == offQuirks:
		b.Quirks = v
	}
	// Bytes past offQuirks belong to future protocol revisions; skip them.
}
