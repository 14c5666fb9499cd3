package ts

import (
	"fmt"

	"github.com/ethan/wfd-miracast/pkg/au"
)

// Flags gates optional per-call packetizer behavior, mirroring the
// bitmask accepted by the original TSPacketizer::packetize.
type Flags uint32

const (
	EmitPATAndPMT Flags = 1 << iota
	EmitPCR
	IsEncrypted
	PrependSPSPPSToIDRFrames
)

// track holds per-track packetizer state: PID, stream type, and its
// own continuity counter.
type track struct {
	pid        uint16
	streamType uint8
	video      bool
	cc         uint8
	sps, pps   []byte
}

// Packetizer builds an MPEG2 transport stream from per-track access
// units, emitting PAT/PMT tables and PCR on request. A Packetizer is
// not safe for concurrent use; callers serialize access the same way
// PlaybackSession serializes its PTS-ordered interleave.
type Packetizer struct {
	tracks  []*track
	patCC   uint8
	pmtCC   uint8
	nextPID uint16
}

// NewPacketizer returns an empty Packetizer ready to accept tracks.
func NewPacketizer() *Packetizer {
	return &Packetizer{nextPID: FirstESPID}
}

// AddTrack registers a new elementary stream and returns its track
// index, used by later Packetize calls.
func (p *Packetizer) AddTrack(codec au.Codec) (int, error) {
	var streamType uint8
	switch codec {
	case au.CodecH264:
		streamType = StreamTypeH264
	case au.CodecAAC:
		streamType = StreamTypeAACADTS
	case au.CodecPCM:
		streamType = StreamTypePCM
	default:
		return 0, fmt.Errorf("ts: unsupported codec %v", codec)
	}

	t := &track{
		pid:        p.nextPID,
		streamType: streamType,
		video:      codec == au.CodecH264,
	}
	p.nextPID++
	p.tracks = append(p.tracks, t)
	return len(p.tracks) - 1, nil
}

// SetCodecSpecificData records the SPS/PPS NAL units to prepend ahead
// of IDR frames when PrependSPSPPSToIDRFrames is set; analogous to
// configuring the encoder's CSD out of band before encrypted delivery
// (original TSPacketizer::prependCSD).
func (p *Packetizer) SetCodecSpecificData(trackIndex int, sps, pps []byte) error {
	t, err := p.track(trackIndex)
	if err != nil {
		return err
	}
	t.sps, t.pps = sps, pps
	return nil
}

func (p *Packetizer) track(trackIndex int) (*track, error) {
	if trackIndex < 0 || trackIndex >= len(p.tracks) {
		return nil, fmt.Errorf("ts: track index %d out of range", trackIndex)
	}
	return p.tracks[trackIndex], nil
}

// Packetize frames one access unit for trackIndex into a sequence of
// TS packets: PAT/PMT (if requested), a PES header carrying the
// access unit's PTS, the optional HDCP private data attached as PES
// private data, SPS/PPS prepended ahead of IDR frames (if requested),
// and the 184-byte-per-packet fragmentation of the resulting PES
// packet with PCR and continuity-counter bookkeeping. The final packet
// of the PES is padded to exactly 188 bytes via adaptation-field
// stuffing when its payload does not fill the packet.
func (p *Packetizer) Packetize(trackIndex int, unit au.Unit, flags Flags, pesPrivateData []byte) ([]Packet, error) {
	t, err := p.track(trackIndex)
	if err != nil {
		return nil, err
	}

	var out []Packet

	if flags&EmitPATAndPMT != 0 {
		out = append(out, sectionToPackets(PIDPAT, buildPAT(PIDPMT), &p.patCC)...)
		pmt := buildPMT(p.pcrPID(), p.esEntries(flags))
		out = append(out, sectionToPackets(PIDPMT, pmt, &p.pmtCC)...)
	}

	payload := unit.Payload
	if flags&PrependSPSPPSToIDRFrames != 0 && t.video && unit.Flags.IDR() {
		prefixed := make([]byte, 0, len(t.sps)+len(t.pps)+len(payload))
		prefixed = append(prefixed, t.sps...)
		prefixed = append(prefixed, t.pps...)
		prefixed = append(prefixed, payload...)
		payload = prefixed
	}

	pes := buildPESHeader(t.video, unit.PTSUs, payload)
	if flags&IsEncrypted != 0 && len(pesPrivateData) > 0 {
		pes = insertPESPrivateData(pes, pesPrivateData)
	}

	out = append(out, p.fragmentPES(t, pes, unit.PTSUs, flags&EmitPCR != 0)...)
	return out, nil
}

func (p *Packetizer) pcrPID() uint16 {
	if len(p.tracks) == 0 {
		return PIDPCR
	}
	return p.tracks[0].pid
}

func (p *Packetizer) esEntries(flags Flags) []esEntry {
	entries := make([]esEntry, 0, len(p.tracks))
	for _, t := range p.tracks {
		entries = append(entries, esEntry{
			streamType: t.streamType,
			pid:        t.pid,
			encrypted:  flags&IsEncrypted != 0,
		})
	}
	return entries
}

// fragmentPES splits a complete PES packet into 188-byte TS packets on
// t's PID, setting PUSI on the first packet, attaching a PCR to the
// first packet when pcr is requested, and padding the final packet to
// exactly 188 bytes with adaptation-field stuffing.
func (p *Packetizer) fragmentPES(t *track, pes []byte, ptsUs int64, pcr bool) []Packet {
	const maxPayload = PacketSize - 4 // 184 bytes of packet body after the 4-byte header
	const pcrAFLen = 8                // length byte + flags byte + 6-byte PCR field

	var out []Packet
	offset := 0
	first := true
	pcrValue := uint64(ptsUs) * 9 / 100

	for offset < len(pes) {
		remaining := len(pes) - offset
		needsPCR := first && pcr

		capacity := maxPayload
		minAF := 0
		if needsPCR {
			minAF = pcrAFLen
			capacity -= minAF
		}

		var n, afTotalLen int
		if remaining <= capacity {
			// Final packet of this PES: pad with adaptation-field
			// stuffing so the packet lands on exactly 188 bytes.
			n = remaining
			afTotalLen = minAF + (capacity - n)
		} else {
			n = capacity
			afTotalLen = minAF
		}

		var pkt Packet
		hasAF := afTotalLen > 0
		pkt.setHeader(t.pid, first, t.cc, hasAF, true)
		if hasAF {
			var pcrPtr *uint64
			if needsPCR {
				pcrPtr = &pcrValue
			}
			pkt.writeAdaptationField(afTotalLen, pcrPtr)
		}
		copy(pkt[4+afTotalLen:], pes[offset:offset+n])

		t.cc = (t.cc + 1) & 0x0f
		offset += n
		first = false
		out = append(out, pkt)
	}
	return out
}

// insertPESPrivateData rewrites the PES header to add a PES extension
// with the PES_private_data flag set and splice in the 16-byte HDCP
// descriptor ahead of the payload, per ISO/IEC 13818-1 §2.4.3.7.
func insertPESPrivateData(pes []byte, private []byte) []byte {
	if len(pes) < 9 {
		return pes
	}
	headerDataLen := int(pes[8])
	packetLength := int(pes[4])<<8 | int(pes[5])
	if packetLength != 0 {
		packetLength += 1 + len(private)
		if packetLength > 0xFFFF {
			packetLength = 0
		}
	}
	out := make([]byte, 0, len(pes)+1+len(private))
	out = append(out, pes[:4]...)
	out = append(out, byte(packetLength>>8), byte(packetLength))
	out = append(out, pes[6], pes[7]|0x01) // PES_extension_flag
	out = append(out, byte(headerDataLen+1+len(private)))
	out = append(out, pes[9:9+headerDataLen]...)
	out = append(out, 0x8E) // PES_private_data_flag, reserved bits
	out = append(out, private...)
	out = append(out, pes[9+headerDataLen:]...)
	return out
}
