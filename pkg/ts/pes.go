package ts

// PES stream IDs for the two elementary stream kinds this packetizer
// frames.
const (
	streamIDVideo = 0xE0
	streamIDAudio = 0xC0
)

// buildPESHeader returns a PES packet (header + payload) carrying ptsUs
// (microseconds) as a PTS-only timestamp, per ISO/IEC 13818-1 §2.4.3.6.
// video is used only to choose the stream_id; PES_packet_length is left
// at 0 (unbounded) for video per convention and set exactly for audio.
func buildPESHeader(video bool, ptsUs int64, payload []byte) []byte {
	streamID := byte(streamIDAudio)
	if video {
		streamID = streamIDVideo
	}

	pts90k := uint64(ptsUs) * 9 / 100

	header := make([]byte, 0, 19+len(payload))
	header = append(header, 0x00, 0x00, 0x01, streamID)

	packetLength := 0
	if !video {
		packetLength = 3 + 5 + len(payload)
		if packetLength > 0xFFFF {
			packetLength = 0
		}
	}
	header = append(header, byte(packetLength>>8), byte(packetLength))

	header = append(header,
		0x80, // '10' marker, scrambling=0, priority=0, alignment=0, copyright=0, original=0
		0x80, // PTS_DTS_flags='10' (PTS only), other flags 0
		0x05, // PES_header_data_length = 5 (one PTS field)
	)
	header = append(header, packPTS(0x2, pts90k)...)

	return append(header, payload...)
}

// packPTS encodes a 33-bit 90kHz timestamp into the 5-byte PES PTS (or
// DTS) field, with the given 4-bit prefix ('0010' for PTS-only, '0011'
// or '0001' when paired with a DTS).
func packPTS(prefix byte, ts uint64) []byte {
	ts &= 0x1FFFFFFFF
	b := make([]byte, 5)
	b[0] = (prefix << 4) | byte((ts>>29)&0x0E) | 0x01
	b[1] = byte(ts >> 22)
	b[2] = byte((ts>>14)&0xFE) | 0x01
	b[3] = byte(ts >> 7)
	b[4] = byte((ts<<1)&0xFE) | 0x01
	return b
}
