package netsession

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Manager is the process-wide socket table: guarded by one mutex
// internally, it is the only shared mutable state a handler ever
// touches besides atomic refcounts. Every Conn and PacketConn this
// Manager hands out is reachable by its session ID through the same
// mutex-guarded map.
type Manager struct {
	mu      sync.Mutex
	conns   map[int32]*Conn
	packets map[int32]*PacketConn
	nextID  int32

	out chan Message

	idleTimeout time.Duration

	// reconnect bounds how often DialWithRetry actually attempts a new
	// dial after a transient failure, with one shared limiter across
	// every tracked connection.
	reconnect *rate.Limiter
}

// NewManager returns a Manager whose Messages channel delivers readiness
// events from every connection it tracks. idleTimeout, when non-zero, is
// applied as a write deadline on every Send/SendData call. reconnectQPS
// bounds DialWithRetry's attempt rate; 0 disables the limiter.
func NewManager(idleTimeout time.Duration, reconnectQPS float64) *Manager {
	m := &Manager{
		conns:       make(map[int32]*Conn),
		packets:     make(map[int32]*PacketConn),
		out:         make(chan Message, 256),
		idleTimeout: idleTimeout,
	}
	if reconnectQPS > 0 {
		m.reconnect = rate.NewLimiter(rate.Limit(reconnectQPS), 1)
	}
	return m
}

// Messages is the single channel every tracked connection's I/O
// goroutine posts readiness events to. Exactly one goroutine should
// drain this channel, matching the one-Looper-per-concern rule: a
// Manager is the dedicated I/O goroutine for every socket it owns, and
// the Messages consumer is the control Looper that reacts to them.
func (m *Manager) Messages() <-chan Message { return m.out }

func (m *Manager) allocID() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

// Dial opens a TCP connection and starts tracking it under a fresh
// session ID, starting its reader goroutine immediately.
func (m *Manager) Dial(ctx context.Context, network, addr string) (*Conn, int32, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	nc, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, 0, fmt.Errorf("netsession: dial %s: %w", addr, err)
	}
	if tcpConn, ok := nc.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	id := m.allocID()
	conn := newConn(id, nc, m.out, m.idleTimeout)

	m.mu.Lock()
	m.conns[id] = conn
	m.mu.Unlock()

	go conn.run()
	return conn, id, nil
}

// DialWithRetry dials repeatedly until it succeeds or ctx is cancelled,
// pacing attempts through the Manager's shared reconnect limiter so a
// flapping peer cannot spin the caller in a tight loop. Without a
// limiter (reconnectQPS 0) it makes a single attempt and returns its
// error.
func (m *Manager) DialWithRetry(ctx context.Context, network, addr string) (*Conn, int32, error) {
	for {
		if m.reconnect != nil {
			if err := m.reconnect.Wait(ctx); err != nil {
				return nil, 0, err
			}
		}
		conn, id, err := m.Dial(ctx, network, addr)
		if err == nil {
			return conn, id, nil
		}
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		default:
		}
		if m.reconnect == nil {
			return nil, 0, err
		}
	}
}

// Listen accepts TCP connections on addr until ctx is cancelled, tracking
// each newly accepted connection under its own session ID the same way
// Dial does.
func (m *Manager) Listen(ctx context.Context, network, addr string) (net.Listener, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("netsession: listen %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			if tcpConn, ok := nc.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(true)
			}

			id := m.allocID()
			conn := newConn(id, nc, m.out, m.idleTimeout)

			m.mu.Lock()
			m.conns[id] = conn
			m.mu.Unlock()

			go conn.run()
		}
	}()

	return ln, nil
}

// Conn returns the tracked connection for a session ID, if any.
func (m *Manager) Conn(id int32) (*Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	return c, ok
}

// Close drops a tracked connection from the table and closes its
// socket. Safe to call once the connection has already reported
// KindClosed.
func (m *Manager) Close(id int32) {
	m.mu.Lock()
	conn, ok := m.conns[id]
	delete(m.conns, id)
	pc, pok := m.packets[id]
	delete(m.packets, id)
	m.mu.Unlock()

	if ok {
		_ = conn.Close()
	}
	if pok {
		_ = pc.Close()
	}
}

// Len reports how many sockets (TCP and UDP combined) are currently
// tracked, for tests and diagnostics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns) + len(m.packets)
}
