package ts

// buildPAT returns the single-section Program Association Table
// payload (pointer_field + table data), mapping program 1 to the PMT
// PID, with a trailing CRC32.
func buildPAT(pmtPID uint16) []byte {
	section := make([]byte, 0, 12)
	section = append(section,
		0x00,       // table_id (program_association_section)
		0xB0, 0x00, // section_syntax_indicator=1, reserved, section_length (patched below)
		0x00, 0x01, // transport_stream_id
		0xC1,       // reserved, version=0, current_next=1
		0x00,       // section_number
		0x00,       // last_section_number
		0x00, 0x01, // program_number = 1
		byte(0xE0|pmtPID>>8), byte(pmtPID), // reserved bits + PMT PID
	)

	// section_length covers everything after the length field through
	// the CRC, inclusive.
	sectionLength := len(section) - 3 + 4
	section[1] = 0xB0 | byte(sectionLength>>8&0x0F)
	section[2] = byte(sectionLength)

	crc := crc32MPEG2(section)
	section = append(section, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))

	out := make([]byte, 0, len(section)+1)
	out = append(out, 0x00) // pointer_field
	out = append(out, section...)
	return out
}

// esEntry describes one elementary stream for PMT construction.
type esEntry struct {
	streamType uint8
	pid        uint16
	encrypted  bool
}

// buildPMT returns the single-section Program Map Table payload for
// the given elementary streams, PCR PID, and program number 1. When an
// entry is flagged encrypted, a private HDCP_private_data descriptor
// tag is attached to its ES loop (descriptor presence only; the
// descriptor's 16 bytes of per-PES private data travel in the PES
// payload itself, not here).
func buildPMT(pcrPID uint16, streams []esEntry) []byte {
	section := make([]byte, 0, 32)
	section = append(section,
		0x02,       // table_id (TS_program_map_section)
		0xB0, 0x00, // section_syntax_indicator=1, section_length placeholder
		0x00, 0x01, // program_number = 1
		0xC1,                               // reserved, version=0, current_next=1
		0x00,                               // section_number
		0x00,                               // last_section_number
		byte(0xE0|pcrPID>>8), byte(pcrPID), // PCR_PID
		0xF0, 0x00, // program_info_length = 0
	)

	for _, es := range streams {
		section = append(section, es.streamType)
		section = append(section, byte(0xE0|es.pid>>8), byte(es.pid))
		if es.encrypted {
			// Registration descriptor (tag 0x05) carrying "HDCP"
			// followed by a version byte, flagging the ES as
			// HDCP-protected so a sink knows to expect PES private
			// data on every access unit.
			desc := []byte{0x05, 0x05, 'H', 'D', 'C', 'P', 0x20}
			section = append(section, byte(0xF0|len(desc)>>8), byte(len(desc)))
			section = append(section, desc...)
		} else {
			section = append(section, 0xF0, 0x00)
		}
	}

	sectionLength := len(section) - 3 + 4
	section[1] = 0xB0 | byte(sectionLength>>8&0x0F)
	section[2] = byte(sectionLength)

	crc := crc32MPEG2(section)
	section = append(section, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))

	out := make([]byte, 0, len(section)+1)
	out = append(out, 0x00) // pointer_field
	out = append(out, section...)
	return out
}

// sectionToPackets fragments a PSI section (already including its
// pointer_field byte) into 188-byte TS packets on pid, advancing
// continuity as it goes.
func sectionToPackets(pid uint16, data []byte, cc *uint8) []Packet {
	var out []Packet
	offset := 0
	first := true
	for offset < len(data) {
		var pkt Packet
		chunk := PacketSize - 4
		remaining := len(data) - offset
		n := chunk
		if remaining < n {
			n = remaining
		}

		pkt.setHeader(pid, first, *cc, false, true)
		copy(pkt[4:], data[offset:offset+n])
		for i := 4 + n; i < PacketSize; i++ {
			pkt[i] = 0xFF
		}

		*cc = (*cc + 1) & 0x0f
		offset += n
		first = false
		out = append(out, pkt)
	}
	return out
}
