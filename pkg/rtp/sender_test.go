package rtp

import (
	"encoding/binary"
	"testing"

	"github.com/ethan/wfd-miracast/pkg/ts"
)

func makeTSPackets(n int) []ts.Packet {
	pkts := make([]ts.Packet, n)
	for i := range pkts {
		pkts[i][0] = ts.SyncByte
		pkts[i][1] = byte(i) // distinguish packets in the test
	}
	return pkts
}

func TestPacketizeSplitsAt1316Bytes(t *testing.T) {
	s := NewSender(0xDEADBEEF, 128, "wfd-source")

	packets, err := s.Packetize(makeTSPackets(10), 9000)
	if err != nil {
		t.Fatalf("Packetize: %v", err)
	}
	if len(packets) != 2 {
		t.Fatalf("got %d RTP packets, want 2", len(packets))
	}
	if len(packets[0]) != 12+7*188 {
		t.Errorf("packet 0 size = %d, want %d", len(packets[0]), 12+7*188)
	}
	if len(packets[1]) != 12+3*188 {
		t.Errorf("packet 1 size = %d, want %d", len(packets[1]), 12+3*188)
	}

	seq0 := binary.BigEndian.Uint16(packets[0][2:4])
	seq1 := binary.BigEndian.Uint16(packets[1][2:4])
	if seq1 != seq0+1 {
		t.Errorf("seq1 = %d, want seq0+1 = %d", seq1, seq0+1)
	}

	ts0 := binary.BigEndian.Uint32(packets[0][4:8])
	ts1 := binary.BigEndian.Uint32(packets[1][4:8])
	if ts0 != 9000 || ts1 != 9000 {
		t.Errorf("rtp timestamps = %d, %d, want both 9000", ts0, ts1)
	}
}

func buildNACK(ssrc uint32, seqNo, blp uint16) []byte {
	data := make([]byte, 16)
	data[0] = 0x80 | 1 // version=2, FMT=1 (generic NACK)
	data[1] = 205
	binary.BigEndian.PutUint16(data[2:4], 3) // length in 32-bit words minus 1
	binary.BigEndian.PutUint32(data[4:8], 0x11111111)
	binary.BigEndian.PutUint32(data[8:12], ssrc)
	binary.BigEndian.PutUint16(data[12:14], seqNo)
	binary.BigEndian.PutUint16(data[14:16], blp)
	return data
}

func TestHandleTSFBRetransmitsInOrder(t *testing.T) {
	s := NewSender(0xDEADBEEF, 128, "wfd-source")

	for seq := uint16(0); seq <= 10; seq++ {
		if _, err := s.Packetize(makeTSPackets(1), uint32(seq)*3000); err != nil {
			t.Fatalf("Packetize seq %d: %v", seq, err)
		}
	}

	nack := buildNACK(0xDEADBEEF, 3, 0b0000000000000110)
	retrans, err := s.HandleTSFB(nack)
	if err != nil {
		t.Fatalf("HandleTSFB: %v", err)
	}
	if len(retrans) != 3 {
		t.Fatalf("got %d retransmissions, want 3", len(retrans))
	}
	wantSeqs := []uint16{3, 5, 6}
	for i, pkt := range retrans {
		got := binary.BigEndian.Uint16(pkt[2:4])
		if got != wantSeqs[i] {
			t.Errorf("retransmit %d: seq = %d, want %d", i, got, wantSeqs[i])
		}
	}

	noop := buildNACK(0xDEADBEEF, 200, 0)
	retrans2, err := s.HandleTSFB(noop)
	if err != nil {
		t.Fatalf("HandleTSFB (no-op): %v", err)
	}
	if len(retrans2) != 0 {
		t.Errorf("got %d retransmissions for unavailable seq, want 0", len(retrans2))
	}
}
