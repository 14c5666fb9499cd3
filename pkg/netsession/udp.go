package netsession

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// PacketConn wraps one UDP socket (the unicast RTP or RTCP port a WFD
// SETUP negotiates). Like Conn, a single reader goroutine owns all
// reads; datagrams are posted as KindData messages tagged with the
// session ID the socket was registered under, writes are serialized
// behind writeMu.
type PacketConn struct {
	id      int32
	pc      net.PacketConn
	remote  net.Addr
	writeMu sync.Mutex
	out     chan<- Message
}

func newPacketConn(id int32, pc net.PacketConn, out chan<- Message) *PacketConn {
	return &PacketConn{id: id, pc: pc, out: out}
}

// ID returns the session ID this socket is tracked under.
func (p *PacketConn) ID() int32 { return p.id }

// LocalAddr returns the socket's bound local address.
func (p *PacketConn) LocalAddr() net.Addr { return p.pc.LocalAddr() }

// SetRemote pins the peer address Send writes to, set once a WFD SETUP
// response reports the negotiated client_port/server_port.
func (p *PacketConn) SetRemote(addr net.Addr) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.remote = addr
}

// Send writes one datagram to the pinned remote address.
func (p *PacketConn) Send(payload []byte) error {
	p.writeMu.Lock()
	remote := p.remote
	p.writeMu.Unlock()
	if remote == nil {
		return errors.New("netsession: PacketConn has no remote address set")
	}
	_, err := p.pc.WriteTo(payload, remote)
	return err
}

// Close closes the underlying socket.
func (p *PacketConn) Close() error {
	return p.pc.Close()
}

// run reads datagrams in a loop, posting each as a KindData message
// until the socket is closed.
func (p *PacketConn) run() {
	buf := make([]byte, 65536)
	for {
		n, addr, err := p.pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				p.out <- Message{SessionID: p.id, Kind: KindClosed}
				return
			}
			p.out <- Message{SessionID: p.id, Kind: KindClosed, Err: err}
			return
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		p.writeMu.Lock()
		if p.remote == nil {
			p.remote = addr
		}
		p.writeMu.Unlock()

		p.out <- Message{SessionID: p.id, Kind: KindData, Payload: payload}
	}
}

// ListenUDP opens a UDP socket bound to addr (e.g. "0.0.0.0:15550") and
// tracks it under a fresh session ID, starting its reader goroutine.
func (m *Manager) ListenUDP(addr string) (*PacketConn, int32, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("netsession: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, 0, fmt.Errorf("netsession: listen udp %s: %w", addr, err)
	}

	id := m.allocID()
	pc := newPacketConn(id, conn, m.out)

	m.mu.Lock()
	m.packets[id] = pc
	m.mu.Unlock()

	go pc.run()
	return pc, id, nil
}

// PacketConn returns the tracked UDP socket for a session ID, if any.
func (m *Manager) PacketConn(id int32) (*PacketConn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.packets[id]
	return pc, ok
}
