package netsession

import (
	"net"
	"testing"
	"time"
)

func TestPacketConnRoundTrip(t *testing.T) {
	m := NewManager(0, 0)
	pc, id, err := m.ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}

	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("peer listen: %v", err)
	}
	defer peer.Close()

	if _, err := peer.WriteTo([]byte("hello"), pc.LocalAddr()); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	msg := recvMessage(t, m.Messages())
	if msg.Kind != KindData || msg.SessionID != id {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if string(msg.Payload) != "hello" {
		t.Fatalf("payload = %q, want hello", msg.Payload)
	}

	// The PacketConn should have learned the peer's address from the
	// first datagram and can now reply without an explicit SetRemote.
	if err := pc.Send([]byte("world")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := peer.ReadFrom(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(buf[:n]) != "world" {
		t.Fatalf("peer received %q, want world", buf[:n])
	}
}

func TestPacketConnSetRemote(t *testing.T) {
	m := NewManager(0, 0)
	pc, _, err := m.ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}

	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("peer listen: %v", err)
	}
	defer peer.Close()

	pc.SetRemote(peer.LocalAddr())
	if err := pc.Send([]byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := peer.ReadFrom(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("peer received %q, want ping", buf[:n])
	}
}
