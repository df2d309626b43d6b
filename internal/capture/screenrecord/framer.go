package screenrecord

import (
	"time"

	"github.com/droidcap/droidcap/internal/h264"
	"github.com/droidcap/droidcap/internal/logger"
	"github.com/droidcap/droidcap/internal/stream"
)

var startCode = []byte{0, 0, 0, 1}

// Framer converts the raw H264 elementary stream into decoded frames. Unlike
// the minicap protocol, frame boundaries come from the bitstream itself: the
// accumulator is scanned for complete NAL units, units are grouped into
// access units, and each access unit is handed to the decoder.
//
// Geometry handling: the framer starts with the geometry the caller
// requested, but the first SPS seen in the stream is authoritative — if the
// encoder produced a different size, the advertised geometry is updated and
// the decoder is (re)started to match, rather than scaling every picture to
// a stale target.
//
// Not safe for concurrent use; owned by the producer's read goroutine.
type Framer struct {
	dec Decoder

	targetWidth  int
	targetHeight int
	width        int // authoritative once an SPS is seen
	height       int

	acc         []byte
	pending     []h264.NALUnit // non-VCL units awaiting their access unit's VCL
	decoderUp   bool
	awaitingIDR bool // drop until the next keyframe after a decode error
}

// NewFramer creates a framer decoding with dec. width/height are the
// requested target geometry; the stream's SPS may override them.
func NewFramer(dec Decoder, width, height int) *Framer {
	return &Framer{
		dec:          dec,
		targetWidth:  width,
		targetHeight: height,
		width:        width,
		height:       height,
	}
}

// Geometry returns the currently advertised frame geometry
func (f *Framer) Geometry() (int, int) {
	return f.width, f.height
}

// CloseDecoder shuts the decoder down if it was started
func (f *Framer) CloseDecoder() error {
	if !f.decoderUp {
		return nil
	}
	f.decoderUp = false
	return f.dec.Close()
}

// Feed appends a transport chunk to the accumulator and decodes every access
// unit that can be delimited. If no complete NAL unit is available yet the
// accumulator is retained untouched — that is the normal "need more data"
// case, never an error. Decode failures are logged and drop the in-flight
// segment; parsing resynchronizes at the next keyframe.
func (f *Framer) Feed(chunk []byte) ([]*stream.Frame, error) {
	log := logger.WithComponent("screenrecord")

	f.acc = append(f.acc, chunk...)
	units, consumed := h264.Split(f.acc)
	if consumed == 0 {
		return nil, nil
	}
	f.acc = f.acc[consumed:]

	var frames []*stream.Frame
	for _, u := range units {
		if u.Type == h264.NALTypeSPS {
			f.handleSPS(u)
		}

		f.pending = append(f.pending, u)
		if !h264.IsVCL(u.Type) {
			continue
		}

		// A VCL unit completes the access unit.
		au := f.pending
		f.pending = nil

		if f.awaitingIDR {
			if !h264.IsKeyframe(u.Type) {
				continue
			}
			f.awaitingIDR = false
			log.Debug().Msg("Keyframe reached, resuming decode")
		}

		if !f.decoderUp {
			if f.width <= 0 || f.height <= 0 {
				// No usable geometry yet; nothing sane to decode into.
				continue
			}
			if err := f.dec.Start(f.width, f.height); err != nil {
				log.Error().Err(err).Msg("Decoder start failed")
				f.awaitingIDR = true
				continue
			}
			f.decoderUp = true
		}

		pics, err := f.dec.Decode(assemble(au))
		if err != nil {
			// Desynchronization: drop this segment, resume at a keyframe.
			log.Warn().Err(err).Msg("Decode failed, dropping segment")
			f.awaitingIDR = true
			continue
		}
		for _, p := range pics {
			frames = append(frames, &stream.Frame{
				Data:       p.Data,
				Width:      p.Width,
				Height:     p.Height,
				CapturedAt: time.Now(),
			})
		}
	}

	return frames, nil
}

// handleSPS adopts the stream's own geometry when it disagrees with the
// advertised one. The decoder is restarted so subsequent pictures come out
// at the true size.
func (f *Framer) handleSPS(u h264.NALUnit) {
	info, err := h264.ParseSPS(u.Data)
	if err != nil {
		logger.WithComponent("screenrecord").Debug().Err(err).Msg("Unparseable SPS, keeping current geometry")
		return
	}
	if info.Width == f.width && info.Height == f.height {
		return
	}

	logger.WithComponent("screenrecord").Info().
		Int("requested_width", f.targetWidth).Int("requested_height", f.targetHeight).
		Int("width", info.Width).Int("height", info.Height).
		Msg("Stream geometry differs from requested, adopting stream geometry")

	f.width = info.Width
	f.height = info.Height
	if f.decoderUp {
		f.dec.Close()
		f.decoderUp = false
	}
}

// assemble rejoins an access unit's NAL units with 4-byte start codes
func assemble(au []h264.NALUnit) []byte {
	size := 0
	for _, u := range au {
		size += len(startCode) + len(u.Data)
	}
	out := make([]byte, 0, size)
	for _, u := range au {
		out = append(out, startCode...)
		out = append(out, u.Data...)
	}
	return out
}
