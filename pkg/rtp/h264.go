package rtp

// H.264 NAL unit types, as carried in the low 5 bits of the first NALU
// byte.
const (
	NALUTypeUnspecified = 0
	NALUTypePFrame      = 1
	NALUTypeIFrame      = 5
	NALUTypeSEI         = 6
	NALUTypeSPS         = 7
	NALUTypePPS         = 8
	NALUTypeAUD         = 9
)

// SPSPPSTracker watches an H.264 encoder's Annex-B access units for
// SPS/PPS NAL units and retains the most recent pair, so
// TSPacketizer.SetCodecSpecificData can be kept current without the
// encoder needing a side channel. Mirrors the SPS/PPS retention in the
// original RTP depacketizer, repurposed here to watch encoder output
// instead of received RTP payloads.
type SPSPPSTracker struct {
	sps, pps []byte
}

// NewSPSPPSTracker returns an empty tracker.
func NewSPSPPSTracker() *SPSPPSTracker {
	return &SPSPPSTracker{}
}

// Observe scans accessUnit (Annex-B byte-stream format, 3- or 4-byte
// start codes) for SPS/PPS NAL units, updating the tracker's retained
// copies. It returns true if either changed.
func (t *SPSPPSTracker) Observe(accessUnit []byte) (updated bool) {
	for _, nalu := range splitAnnexB(accessUnit) {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1F {
		case NALUTypeSPS:
			if !bytesEqual(t.sps, nalu) {
				t.sps = append([]byte(nil), nalu...)
				updated = true
			}
		case NALUTypePPS:
			if !bytesEqual(t.pps, nalu) {
				t.pps = append([]byte(nil), nalu...)
				updated = true
			}
		}
	}
	return updated
}

// SPS returns the most recently observed SPS NALU, without its start
// code, or nil if none has been seen.
func (t *SPSPPSTracker) SPS() []byte { return t.sps }

// PPS returns the most recently observed PPS NALU, without its start
// code, or nil if none has been seen.
func (t *SPSPPSTracker) PPS() []byte { return t.pps }

// ContainsIDR reports whether accessUnit carries an IDR (type 5) NAL
// unit, used to decide when PREPEND_SPS_PPS_TO_IDR_FRAMES applies.
func ContainsIDR(accessUnit []byte) bool {
	for _, nalu := range splitAnnexB(accessUnit) {
		if len(nalu) > 0 && nalu[0]&0x1F == NALUTypeIFrame {
			return true
		}
	}
	return false
}

// splitAnnexB splits an Annex-B byte stream into its constituent NAL
// units (start codes stripped), tolerating both 3- and 4-byte start
// codes.
func splitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	start := -1
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				nalus = append(nalus, trimTrailingZero(data[start:i]))
			}
			start = i + 3
		}
	}
	if start >= 0 && start <= len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}

// trimTrailingZero drops a dangling zero byte left behind when the
// next start code used the 4-byte form (an extra leading 0x00 belongs
// to the following NALU's start code, not this one's payload).
func trimTrailingZero(nalu []byte) []byte {
	if len(nalu) > 0 && nalu[len(nalu)-1] == 0 {
		return nalu[:len(nalu)-1]
	}
	return nalu
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
