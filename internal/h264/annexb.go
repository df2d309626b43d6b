// Package h264 provides the minimal H.264 elementary-stream parsing the
// screenrecord backend needs: Annex B start-code scanning and SPS geometry
// extraction.
package h264

// NAL unit types from ITU-T H.264 Table 7-1
const (
	NALTypeNonIDR = 1
	NALTypeIDR    = 5
	NALTypeSEI    = 6
	NALTypeSPS    = 7
	NALTypePPS    = 8
	NALTypeAUD    = 9
)

// NALUnit is a single NAL with its start code stripped. Data includes the
// NAL header byte.
type NALUnit struct {
	Type byte
	Data []byte
}

// IsKeyframe reports whether the NAL type is an IDR slice
func IsKeyframe(nalType byte) bool {
	return nalType == NALTypeIDR
}

// IsVCL reports whether the NAL type carries picture slice data
func IsVCL(nalType byte) bool {
	return nalType == NALTypeNonIDR || nalType == NALTypeIDR
}

// startCodeAt returns the start-code length (3 or 4) at offset i, or 0
func startCodeAt(data []byte, i int) int {
	if i+3 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
		return 4
	}
	if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
		return 3
	}
	return 0
}

// Split scans an Annex B byte stream for complete NAL units. A unit is
// complete only once the next start code appears, so the trailing
// (potentially partial) unit is never emitted; it stays in the unconsumed
// region. Split returns the complete units and the number of bytes consumed
// from data — the caller retains data[consumed:] for the next scan.
// Bytes before the first start code are consumed and discarded.
func Split(data []byte) ([]NALUnit, int) {
	type pos struct {
		scStart   int
		dataStart int
	}

	var positions []pos
	for i := 0; i < len(data); {
		if n := startCodeAt(data, i); n > 0 {
			positions = append(positions, pos{scStart: i, dataStart: i + n})
			i += n
			continue
		}
		i++
	}

	if len(positions) == 0 {
		return nil, 0
	}

	var units []NALUnit
	for i := 0; i+1 < len(positions); i++ {
		nal := data[positions[i].dataStart:positions[i+1].scStart]
		if len(nal) == 0 {
			continue
		}
		units = append(units, NALUnit{Type: nal[0] & 0x1F, Data: nal})
	}

	// Everything before the final start code is consumed; the last unit
	// waits for the next chunk to delimit it.
	return units, positions[len(positions)-1].scStart
}
