package rtsp

import (
	"fmt"
	"log/slog"
)

// responseID keys a pending response handler by the connection it was
// sent on and the CSeq it expects back, mirroring WifiDisplaySource's
// and WifiDisplaySink's ResponseID (sessionID, CSeq) pair.
type responseID struct {
	sessionID int32
	cseq      int32
}

// responseFunc handles one matched response.
type responseFunc func(msg *Message) error

// responseTable is a (sessionID, CSeq) -> handler map. A duplicate
// CSeq registration is logged and replaces the existing handler,
// matching KeyedVector's add-or-replace semantics in the original
// source.
type responseTable struct {
	handlers map[responseID]responseFunc
}

func newResponseTable() responseTable {
	return responseTable{handlers: make(map[responseID]responseFunc)}
}

func (t *responseTable) register(sessionID int32, cseq int32, fn responseFunc) {
	if _, dup := t.handlers[responseID{sessionID, cseq}]; dup {
		slog.Warn("rtsp: duplicate CSeq, replacing response handler", "session", sessionID, "cseq", cseq)
	}
	t.handlers[responseID{sessionID, cseq}] = fn
}

// dispatch looks up and removes the handler for (sessionID, cseq). A
// response with no matching entry is a protocol error.
func (t *responseTable) dispatch(sessionID int32, cseq int32, msg *Message) error {
	id := responseID{sessionID, cseq}
	fn, ok := t.handlers[id]
	if !ok {
		return fmt.Errorf("rtsp: response to session %d cseq %d has no registered handler", sessionID, cseq)
	}
	delete(t.handlers, id)
	return fn(msg)
}
