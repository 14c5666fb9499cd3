// Package rtp builds the RTP/RTCP sender side of the pipeline: framing
// MPEG2-TS packets into RTP, periodic SR/SDES, and NACK-driven
// retransmission from a bounded packet history. Encoder-output
// helpers (SPSPPSTracker for SPS/PPS tracking, ADTSFramer for ADTS
// framing of raw AAC) live alongside it.
package rtp

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/ethan/wfd-miracast/pkg/ts"
)

const (
	payloadTypeMP2T = 33

	// maxRTPPacketSize bounds a single RTP packet to fit one Ethernet
	// frame; maxTSPacketsPerRTP is how many 188-byte TS packets fit in
	// the remaining space after the 12-byte RTP header.
	maxRTPPacketSize   = 1500
	maxTSPacketsPerRTP = (maxRTPPacketSize - 12) / ts.PacketSize
)

// ErrMalformed tags a parse failure on an incoming RTCP feedback
// packet.
type ErrMalformed struct {
	Reason string
}

func (e *ErrMalformed) Error() string { return fmt.Sprintf("rtp: malformed: %s", e.Reason) }

// Sender frames TS packets into RTP, tracks send history for NACK
// retransmission, and builds periodic RTCP sender reports. It is not
// safe for concurrent use; callers serialize calls the way one Looper
// owns one Sender.
type Sender struct {
	ssrc uint32
	seq  uint16

	history *History
	cname   string
	note    string

	numSent       uint32
	numOctetsSent uint32
	firstSendNTP  uint64
}

// NewSender returns a Sender using ssrc as its RTP/RTCP source
// identifier and historyLen as the retransmission window (0 disables
// history tracking and therefore NACK retransmission).
func NewSender(ssrc uint32, historyLen int, cname string) *Sender {
	return &Sender{
		ssrc:    ssrc,
		history: NewHistory(historyLen),
		cname:   cname,
		note:    "wfd-miracast",
	}
}

// Packetize splits tsPackets into as many RTP packets as needed (up to
// maxTSPacketsPerRTP TS packets each), stamping every one with
// rtpTimestamp (90kHz units) and an incrementing sequence number, and
// records each in the retransmission history. The marker bit is never
// set; the original source never sets it for TS payloads either.
func (s *Sender) Packetize(tsPackets []ts.Packet, rtpTimestamp uint32) ([][]byte, error) {
	var out [][]byte

	for offset := 0; offset < len(tsPackets); offset += maxTSPacketsPerRTP {
		end := offset + maxTSPacketsPerRTP
		if end > len(tsPackets) {
			end = len(tsPackets)
		}
		group := tsPackets[offset:end]

		payload := make([]byte, 0, len(group)*ts.PacketSize)
		for i := range group {
			payload = append(payload, group[i][:]...)
		}

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    payloadTypeMP2T,
				SequenceNumber: s.seq,
				Timestamp:      rtpTimestamp,
				SSRC:           s.ssrc,
			},
			Payload: payload,
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return nil, fmt.Errorf("rtp: marshal packet seq %d: %w", s.seq, err)
		}

		s.history.Add(s.seq, raw)
		s.numSent++
		s.numOctetsSent += uint32(len(payload))
		s.seq++

		out = append(out, raw)
	}

	return out, nil
}

// BuildSenderReport returns a compound RTCP packet (SR + SDES) for
// periodic transmission, matching the original's addSR/addSDES pair
// sent together on the same RTCP socket.
func (s *Sender) BuildSenderReport(ntpTime uint64, rtpTimestamp uint32) ([]byte, error) {
	sr := &rtcp.SenderReport{
		SSRC:        s.ssrc,
		NTPTime:     ntpTime,
		RTPTime:     rtpTimestamp,
		PacketCount: s.numSent,
		OctetCount:  s.numOctetsSent,
	}
	sdes := &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{
			{
				Source: s.ssrc,
				Items: []rtcp.SourceDescriptionItem{
					{Type: rtcp.SDESCNAME, Text: s.cname},
					{Type: rtcp.SDESNote, Text: s.note},
				},
			},
		},
	}
	return rtcp.Marshal([]rtcp.Packet{sr, sdes})
}

// BuildGoodbye returns an RTCP BYE packet for session teardown.
func (s *Sender) BuildGoodbye() ([]byte, error) {
	bye := &rtcp.Goodbye{Sources: []uint32{s.ssrc}}
	return rtcp.Marshal([]rtcp.Packet{bye})
}

// HandleTSFB parses a generic-NACK transport-layer feedback packet
// (RTCP PT=205, FMT=1) and returns the matching history entries to
// retransmit, in ascending sequence order, exactly as
// Sender::parseTSFB walks its history: a FCI entry names one seq plus
// a 16-bit bitmask (BLP) of up to 16 further lost seqs following it.
func (s *Sender) HandleTSFB(data []byte) ([][]byte, error) {
	if len(data) < 12 {
		return nil, &ErrMalformed{Reason: "TSFB header too short"}
	}
	if data[0]&0x1f != 1 {
		return nil, &ErrMalformed{Reason: "only generic NACK (FMT=1) is supported"}
	}
	if srcID := binary.BigEndian.Uint32(data[8:12]); srcID != s.ssrc {
		return nil, &ErrMalformed{Reason: "TSFB media source SSRC mismatch"}
	}

	var out [][]byte
	for i := 12; i+4 <= len(data); i += 4 {
		seqNo := binary.BigEndian.Uint16(data[i : i+2])
		blp := binary.BigEndian.Uint16(data[i+2 : i+4])

		wanted := map[uint16]bool{seqNo: true}
		for bit := 0; bit < 16; bit++ {
			if blp&(1<<uint(bit)) != 0 {
				wanted[seqNo+uint16(bit)+1] = true
			}
		}

		for _, entry := range s.history.entries {
			if wanted[entry.seq] {
				out = append(out, entry.data)
				delete(wanted, entry.seq)
			}
		}
	}

	return out, nil
}
