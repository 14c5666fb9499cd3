package ts

import (
	"testing"

	"github.com/ethan/wfd-miracast/pkg/au"
)

func TestPacketizePATAndPMTAndPCR(t *testing.T) {
	p := NewPacketizer()

	videoIdx, err := p.AddTrack(au.CodecH264)
	if err != nil {
		t.Fatalf("AddTrack video: %v", err)
	}
	if _, err := p.AddTrack(au.CodecAAC); err != nil {
		t.Fatalf("AddTrack audio: %v", err)
	}
	if p.tracks[videoIdx].pid != 0x1011 {
		t.Fatalf("video PID = %#x, want 0x1011", p.tracks[videoIdx].pid)
	}
	if p.tracks[1].pid != 0x1012 {
		t.Fatalf("audio PID = %#x, want 0x1012", p.tracks[1].pid)
	}

	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i)
	}
	unit := au.New(au.CodecH264, 100000, au.FlagIDR, payload)

	packets, err := p.Packetize(videoIdx, unit, EmitPATAndPMT|EmitPCR, nil)
	if err != nil {
		t.Fatalf("Packetize: %v", err)
	}
	if len(packets) < 3 {
		t.Fatalf("expected at least 3 packets, got %d", len(packets))
	}

	pat := packets[0]
	if pat.PID() != PIDPAT {
		t.Fatalf("packet 0 PID = %#x, want PAT (0)", pat.PID())
	}
	if crcValid(pat[:]) == false {
		t.Fatalf("PAT CRC invalid")
	}

	pmt := packets[1]
	if pmt.PID() != PIDPMT {
		t.Fatalf("packet 1 PID = %#x, want PMT (0x100)", pmt.PID())
	}
	if crcValid(pmt[:]) == false {
		t.Fatalf("PMT CRC invalid")
	}
	if !containsStreamType(pmt[:], StreamTypeH264) {
		t.Errorf("PMT missing H.264 stream type 0x1b")
	}
	if !containsStreamType(pmt[:], StreamTypeAACADTS) {
		t.Errorf("PMT missing AAC stream type 0x0f")
	}

	esPackets := packets[2:]
	if esPackets[0].PID() != 0x1011 {
		t.Fatalf("first ES packet PID = %#x, want 0x1011", esPackets[0].PID())
	}
	if esPackets[0][1]&0x40 == 0 {
		t.Errorf("expected PUSI set on first ES packet")
	}
	afc := (esPackets[0][3] >> 4) & 0x3
	if afc&0x2 == 0 {
		t.Fatalf("expected adaptation field on first ES packet for PCR")
	}
	pcrFlags := esPackets[0][5]
	if pcrFlags&0x10 == 0 {
		t.Fatalf("expected PCR_flag set")
	}
	gotPCRBase := readPCRBase(esPackets[0][6:12])
	wantPCRBase := uint64(9000)
	if gotPCRBase != wantPCRBase {
		t.Errorf("PCR base = %d, want %d", gotPCRBase, wantPCRBase)
	}

	for i, pkt := range esPackets[1:] {
		if pkt.PID() != 0x1011 {
			t.Fatalf("ES packet %d PID = %#x, want 0x1011", i+1, pkt.PID())
		}
		if pkt[1]&0x40 != 0 {
			t.Errorf("ES packet %d should not have PUSI set", i+1)
		}
	}

	last := esPackets[len(esPackets)-1]
	if len(last) != PacketSize {
		t.Fatalf("last packet length = %d, want %d", len(last), PacketSize)
	}
}

func crcValid(pkt []byte) bool {
	payload := pkt[5:] // pointer_field at pkt[4] skipped
	tableID := payload[0]
	if tableID != 0x00 && tableID != 0x02 {
		return false
	}
	sectionLength := int(payload[1]&0x0F)<<8 | int(payload[2])
	total := 3 + sectionLength
	if total > len(payload) {
		return false
	}
	section := payload[:total]
	want := crc32MPEG2(section[:len(section)-4])
	got := uint32(section[len(section)-4])<<24 | uint32(section[len(section)-3])<<16 |
		uint32(section[len(section)-2])<<8 | uint32(section[len(section)-1])
	return want == got
}

func containsStreamType(pkt []byte, streamType byte) bool {
	for _, b := range pkt {
		if b == streamType {
			return true
		}
	}
	return false
}

func readPCRBase(b []byte) uint64 {
	word := uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
	return word >> 15
}
