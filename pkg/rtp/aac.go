package rtp

import "fmt"

// AACClockRate is the RTP clock rate required for MPEG-4 audio by
// RFC 3640, used to derive RTP timestamps for AAC tracks.
const AACClockRate = 48000

// adtsSampleRates is the ADTS/MPEG-4 sampling_frequency_index table
// (ISO/IEC 13818-7 Table 1.18).
var adtsSampleRates = []int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// ADTSFramer wraps raw AAC access units (as produced by an encoder,
// without any framing) in a 7-byte ADTS header so they can travel
// inside an MPEG2-TS audio elementary stream, which TSPacketizer
// requires for StreamTypeAACADTS. profile is the MPEG-4 audio object
// type (2 = AAC-LC, the only profile the pipeline's encoder produces).
type ADTSFramer struct {
	profile       uint8
	sampleRateIdx uint8
	channelConfig uint8
}

// NewADTSFramer returns a framer for the given sample rate (must
// appear in the ADTS sampling-frequency table) and channel count
// (1-7, per ADTS's 3-bit channel_configuration field).
func NewADTSFramer(profile uint8, sampleRate, channels int) (*ADTSFramer, error) {
	idx := -1
	for i, rate := range adtsSampleRates {
		if rate == sampleRate {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("rtp: unsupported AAC sample rate %d", sampleRate)
	}
	if channels < 1 || channels > 7 {
		return nil, fmt.Errorf("rtp: unsupported AAC channel count %d", channels)
	}
	return &ADTSFramer{
		profile:       profile,
		sampleRateIdx: uint8(idx),
		channelConfig: uint8(channels),
	}, nil
}

// Frame prepends a 7-byte ADTS header (no CRC) to aacFrame and returns
// the combined buffer.
func (f *ADTSFramer) Frame(aacFrame []byte) []byte {
	frameLength := 7 + len(aacFrame)

	out := make([]byte, 7, frameLength)
	out[0] = 0xFF
	out[1] = 0xF1 // syncword cont., MPEG-4, layer 0, no CRC
	out[2] = (f.profile-1)<<6 | f.sampleRateIdx<<2 | (f.channelConfig>>2)&0x1
	out[3] = (f.channelConfig&0x3)<<6 | byte(frameLength>>11)
	out[4] = byte(frameLength >> 3)
	out[5] = byte(frameLength<<5) | 0x1F
	out[6] = 0xFC // buffer fullness all-1s, 1 AAC frame per ADTS frame

	return append(out, aacFrame...)
}
