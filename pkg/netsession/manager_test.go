package netsession

import (
	"context"
	"net"
	"testing"
	"time"
)

// acceptOne accepts a single connection. Errors are returned rather than
// failing the test directly since this runs on a server-side goroutine,
// and t.Fatal must only be called from the test's own goroutine.
func acceptOne(ln net.Listener) (net.Conn, error) {
	return ln.Accept()
}

func recvMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestManagerDialReceivesControlMessage(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		nc, err := acceptOne(ln)
		if err != nil {
			return
		}
		defer nc.Close()
		resp := "RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n"
		nc.Write([]byte(resp))
	}()

	m := NewManager(0, 0)
	ctx := context.Background()
	conn, id, err := m.Dial(ctx, "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if conn.ID() != id {
		t.Fatalf("conn.ID() = %d, want %d", conn.ID(), id)
	}

	msg := recvMessage(t, m.Messages())
	if msg.Kind != KindControl {
		t.Fatalf("kind = %v, want control", msg.Kind)
	}
	if msg.SessionID != id {
		t.Fatalf("session id = %d, want %d", msg.SessionID, id)
	}
	want := "RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n"
	if string(msg.Payload) != want {
		t.Fatalf("payload = %q, want %q", msg.Payload, want)
	}

	<-serverDone
}

func TestManagerDialReceivesDataFrame(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		nc, err := acceptOne(ln)
		if err != nil {
			return
		}
		defer nc.Close()
		frame := []byte{'$', 0, 0, 4, 0xde, 0xad, 0xbe, 0xef}
		nc.Write(frame)
	}()

	m := NewManager(0, 0)
	_, id, err := m.Dial(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	msg := recvMessage(t, m.Messages())
	if msg.Kind != KindData {
		t.Fatalf("kind = %v, want data", msg.Kind)
	}
	if msg.SessionID != id || msg.Channel != 0 {
		t.Fatalf("unexpected session/channel: %+v", msg)
	}
	if len(msg.Payload) != 4 || msg.Payload[0] != 0xde {
		t.Fatalf("payload = %x, want de ad be ef", msg.Payload)
	}

	<-serverDone
}

func TestManagerCloseStopsTracking(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		nc, err := acceptOne(ln)
		if err != nil {
			return
		}
		// Hold the connection open; the test closes the client side.
		<-time.After(2 * time.Second)
		nc.Close()
	}()

	m := NewManager(0, 0)
	_, id, err := m.Dial(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}

	m.Close(id)
	if m.Len() != 0 {
		t.Fatalf("Len() after Close = %d, want 0", m.Len())
	}
	if _, ok := m.Conn(id); ok {
		t.Fatalf("Conn(%d) still tracked after Close", id)
	}
}

func TestManagerListenAcceptsAndTracks(t *testing.T) {
	m := NewManager(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := m.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientConn.Close()

	clientConn.Write([]byte("OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n"))

	msg := recvMessage(t, m.Messages())
	if msg.Kind != KindControl {
		t.Fatalf("kind = %v, want control", msg.Kind)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
}

func TestDialWithRetryNoLimiterFailsFast(t *testing.T) {
	// With no reconnect limiter configured, DialWithRetry behaves like a
	// single Dial attempt: it must not loop forever against a closed
	// port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	m := NewManager(0, 0)
	if _, _, err := m.DialWithRetry(context.Background(), "tcp", addr); err == nil {
		t.Fatalf("expected dial error against closed port, got nil")
	}
}
