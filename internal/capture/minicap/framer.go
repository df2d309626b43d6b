package minicap

import (
	"time"

	"github.com/droidcap/droidcap/internal/logger"
	"github.com/droidcap/droidcap/internal/stream"
)

// provisionalBannerLength covers the version and declared-length bytes. The
// true header length is encoded at offset 1, so parsing starts with this
// minimal guess and corrects itself the moment that byte arrives.
const provisionalBannerLength = 2

// Framer demultiplexes the minicap byte stream into frames. It first
// reconstructs the banner to its self-declared length, then slices the
// remaining stream into fixed-length RGBA frame bodies. Feed is
// chunking-agnostic: header and frame boundaries never need to line up with
// chunk boundaries.
//
// Framer is not safe for concurrent use; it is owned by the producer's read
// goroutine.
type Framer struct {
	banner       Banner
	bannerRead   int
	bannerLength int
	body         []byte
	bodyLength   int
	onBanner     func(Banner)
}

// NewFramer creates a framer. onBanner, if non-nil, is invoked once when the
// header completes.
func NewFramer(onBanner func(Banner)) *Framer {
	return &Framer{
		bannerLength: provisionalBannerLength,
		onBanner:     onBanner,
	}
}

// Banner returns the header parsed so far. Complete once BannerDone reports
// true.
func (f *Framer) Banner() Banner {
	return f.banner
}

// BannerDone reports whether the full header has been consumed
func (f *Framer) BannerDone() bool {
	return f.bannerRead >= f.bannerLength
}

// Feed consumes one transport chunk and returns every frame it completed.
// Partial header or body bytes are retained for the next call.
func (f *Framer) Feed(chunk []byte) ([]*stream.Frame, error) {
	var frames []*stream.Frame

	cursor := 0
	for cursor < len(chunk) {
		if f.bannerRead < f.bannerLength {
			b := chunk[cursor]
			f.banner.apply(f.bannerRead, b)
			if f.bannerRead == offLength {
				// The header announces its own length; correct the
				// provisional guess before reading further.
				f.bannerLength = int(b)
			}
			cursor++
			f.bannerRead++

			if f.bannerRead == f.bannerLength {
				logger.WithComponent("minicap").Info().Stringer("banner", f.banner).Msg("Banner received")
				if f.onBanner != nil {
					f.onBanner(f.banner)
				}
			}
			continue
		}

		if f.bodyLength == 0 {
			size := f.banner.FrameSize()
			if size == 0 {
				// Malformed or truncated banner: without virtual
				// dimensions a frame cannot be sized. Hold position and
				// wait rather than produce garbage.
				logger.WithComponent("minicap").Warn().Msg("Banner lacks virtual dimensions, pausing frame parsing")
				return frames, nil
			}
			f.bodyLength = size
			f.body = make([]byte, 0, size)
		}

		n := len(chunk) - cursor
		if needed := f.bodyLength - len(f.body); n > needed {
			n = needed
		}
		f.body = append(f.body, chunk[cursor:cursor+n]...)
		cursor += n

		if len(f.body) == f.bodyLength {
			// Hand the accumulator off to the frame and start a fresh one
			// so the published frame's lifetime is independent.
			frames = append(frames, &stream.Frame{
				Data:       f.body,
				Width:      int(f.banner.VirtualWidth),
				Height:     int(f.banner.VirtualHeight),
				CapturedAt: time.Now(),
			})
			f.body = make([]byte, 0, f.bodyLength)
		}
	}

	return frames, nil
}
