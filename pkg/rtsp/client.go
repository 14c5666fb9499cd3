package rtsp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethan/wfd-miracast/pkg/netsession"
)

// NetSessionTransport implements Transport on top of a netsession.Manager,
// the generalized form of this file's original connect/read-loop/
// keep-alive logic (now pkg/netsession's Conn and Manager). A
// SourceSession or SinkSession calls Send; NetSessionTransport looks the
// session's Conn up in the Manager's socket table and writes to it.
type NetSessionTransport struct {
	mgr *netsession.Manager
}

// NewNetSessionTransport returns a Transport backed by mgr's tracked
// connections.
func NewNetSessionTransport(mgr *netsession.Manager) *NetSessionTransport {
	return &NetSessionTransport{mgr: mgr}
}

// Send implements Transport.
func (t *NetSessionTransport) Send(sessionID int32, data []byte) error {
	conn, ok := t.mgr.Conn(sessionID)
	if !ok {
		return fmt.Errorf("rtsp: no tracked connection for session %d", sessionID)
	}
	return conn.Send(data)
}

// Handler is anything that can accept one parsed RTSP message for a
// given connection, e.g. (*SourceSession).HandleMessage or
// (*SinkSession).HandleMessage.
type Handler interface {
	HandleMessage(msg *Message) error
}

// RunDispatchLoop is the single control-plane dispatch loop: it drains
// mgr's Messages channel and, for every KindControl frame, parses it
// and hands the result to sessionFor's returned Handler. It never
// blocks on I/O itself — that already happened on each Conn's own
// reader goroutine — so one RunDispatchLoop can serve every session a
// Manager tracks.
//
// dataHandler, when non-nil, receives KindData frames: de-interleaved
// RTP/RTCP payloads from a TCP connection that also carries RTSP
// control traffic, and datagrams from any UDP PacketConn the Manager
// tracks (cmd/wfdsink receives its RTP this way).
func RunDispatchLoop(ctx context.Context, mgr *netsession.Manager, logger *slog.Logger, sessionFor func(sessionID int32) Handler, dataHandler func(sessionID int32, channel byte, payload []byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-mgr.Messages():
			switch msg.Kind {
			case netsession.KindControl:
				parsed, _, err := Parse(msg.Payload)
				if err != nil {
					if logger != nil {
						logger.Warn("rtsp: failed to parse control message", "session", msg.SessionID, "error", err)
					}
					continue
				}
				handler := sessionFor(msg.SessionID)
				if handler == nil {
					continue
				}
				if err := handler.HandleMessage(parsed); err != nil && logger != nil {
					logger.Warn("rtsp: handler error", "session", msg.SessionID, "error", err)
				}
			case netsession.KindData:
				if dataHandler != nil {
					dataHandler(msg.SessionID, msg.Channel, msg.Payload)
				}
			case netsession.KindClosed:
				if msg.Err != nil && logger != nil {
					logger.Info("rtsp: connection closed", "session", msg.SessionID, "error", msg.Err)
				}
			}
		}
	}
}
