package rtpsink

import (
	"sort"
	"time"

	"github.com/pion/rtcp"
)

// NACKWindow is how long a reorder buffer waits for a missing packet
// to arrive before requesting retransmission, matching the 20ms
// first-failure window referenced in the sink's packet pacing.
const NACKWindow = 20 * time.Millisecond

type queuedPacket struct {
	extSeq uint32
	data   []byte
}

// TunnelRenderer reassembles incoming RTP payloads into extended-seq
// order before handing them to the transport-stream player, requesting
// retransmission of a missing packet once it has been absent for
// NACKWindow. Modeled on TunnelRenderer's buffered-packet list and
// last-dequeued bookkeeping; the original native implementation
// delegates the player itself to IMediaPlayer, out of scope here — the
// reorder/NACK policy is what this package reproduces.
type TunnelRenderer struct {
	packets            []queuedPacket
	haveLastDequeued   bool
	lastDequeuedExtSeq uint32
	firstFailedAttempt time.Time
	requestedRetrans   bool
}

// NewTunnelRenderer returns an empty reorder buffer.
func NewTunnelRenderer() *TunnelRenderer {
	return &TunnelRenderer{}
}

// QueueBuffer inserts a received payload keyed by its extended
// sequence number, maintaining sorted order.
func (t *TunnelRenderer) QueueBuffer(extSeq uint32, data []byte) {
	i := sort.Search(len(t.packets), func(i int) bool {
		return t.packets[i].extSeq >= extSeq
	})
	if i < len(t.packets) && t.packets[i].extSeq == extSeq {
		return // duplicate, e.g. a retransmission racing the original
	}
	t.packets = append(t.packets, queuedPacket{})
	copy(t.packets[i+1:], t.packets[i:])
	t.packets[i] = queuedPacket{extSeq: extSeq, data: data}
}

// Dequeue returns the next in-order payload if the head of the buffer
// is ready, or a NACK request if the expected next packet has been
// missing for longer than NACKWindow.
func (t *TunnelRenderer) Dequeue(now time.Time) (data []byte, nack *rtcp.NackPair, ok bool) {
	if len(t.packets) == 0 {
		return nil, nil, false
	}

	head := t.packets[0]
	expected := head.extSeq
	if t.haveLastDequeued {
		expected = t.lastDequeuedExtSeq + 1
	}

	if head.extSeq == expected {
		t.packets = t.packets[1:]
		t.lastDequeuedExtSeq = head.extSeq
		t.haveLastDequeued = true
		t.firstFailedAttempt = time.Time{}
		t.requestedRetrans = false
		return head.data, nil, true
	}

	// head.extSeq > expected: a gap. Wait for the missing packet
	// before giving up and requesting retransmission.
	if t.firstFailedAttempt.IsZero() {
		t.firstFailedAttempt = now
		return nil, nil, false
	}

	if !t.requestedRetrans && now.Sub(t.firstFailedAttempt) >= NACKWindow {
		t.requestedRetrans = true
		return nil, &rtcp.NackPair{PacketID: uint16(expected), LostPackets: 0}, false
	}

	return nil, nil, false
}

// Pending reports how many out-of-order payloads are currently
// buffered awaiting the missing packet.
func (t *TunnelRenderer) Pending() int { return len(t.packets) }
