// Package rtpsink implements the sink side of the RTP/RTCP pipeline:
// per-SSRC sequence-number tracking and resync (RFC 3550 Appendix
// A.1), lateness estimation via total least squares, a reorder buffer
// with NACK-on-gap, and periodic receiver reports.
package rtpsink

const (
	minSequential = 2
	maxDropout    = 3000
	maxMisorder   = 100
	seqMod        = 1 << 16
)

// Source tracks one SSRC's RTP sequence-number stream, detecting
// packet loss, reordering, and source restarts exactly as
// RTPSink::Source::updateSeq does.
type Source struct {
	maxSeq        uint16
	cycles        uint32
	baseSeq       uint32
	badSeq        uint32
	probation     uint32
	received      uint32
	expectedPrior uint32
	receivedPrior uint32
}

// NewSource starts tracking a new SSRC at its first observed sequence
// number. The first packet is always forwarded; probation governs
// whether subsequent packets are trusted before the source is
// considered synced (see Update).
//
// The original sink sets its equivalent of maxSeq to seq-1 right after
// construction, which forces the very next packet (seq+1 in the
// common case) to always miss the in-order check and restart
// probation. That does not match this module's probation contract (a
// clean run of the source's next minSequential packets should clear
// probation without a spurious restart), so this port follows RFC 3550
// Appendix A.1's reference init_seq instead: maxSeq starts at seq
// itself.
func NewSource(seq uint16) *Source {
	s := &Source{probation: minSequential}
	s.initSeq(seq)
	return s
}

func (s *Source) initSeq(seq uint16) {
	s.maxSeq = seq
	s.cycles = 0
	s.baseSeq = uint32(seq)
	s.badSeq = seqMod + 1
	s.received = 0
	s.expectedPrior = 0
	s.receivedPrior = 0
}

// Update processes the next received sequence number. queue reports
// whether the packet should be forwarded to the renderer; synced
// reports whether the source has cleared probation and is confirmed
// as a stable, sequential flow (mirroring updateSeq's bool return).
func (s *Source) Update(seq uint16) (queue, synced bool) {
	udelta := seq - s.maxSeq

	if s.probation > 0 {
		if seq == s.maxSeq+1 {
			s.probation--
			s.maxSeq = seq
			if s.probation == 0 {
				s.initSeq(seq)
				s.received++
				return true, true
			}
			return true, false
		}

		// Packet out of sequence: restart the startup phase.
		s.probation = minSequential - 1
		s.maxSeq = seq
		return true, false
	}

	switch {
	case udelta < maxDropout:
		// In order, with a permissible gap.
		if seq < s.maxSeq {
			s.cycles += seqMod
		}
		s.maxSeq = seq

	case uint32(udelta) <= seqMod-maxMisorder:
		// A very large jump forward.
		if seq == uint16(s.badSeq) {
			// Two sequential packets this far out: assume the peer
			// restarted without telling us, and re-sync as if this
			// were the first packet.
			s.initSeq(seq)
		} else {
			s.badSeq = (uint32(seq) + 1) & (seqMod - 1)
			return false, false
		}

	default:
		// Duplicate or reordered packet; accept and forward as-is.
	}

	s.received++
	return true, true
}

// MaxSeq returns the highest 16-bit sequence number seen.
func (s *Source) MaxSeq() uint16 { return s.maxSeq }

// Cycles returns the accumulated 16-bit wraparound count, shifted into
// the upper bits of the 32-bit extended sequence number.
func (s *Source) Cycles() uint32 { return s.cycles }

// ExtendedSeq returns the 32-bit extended sequence number (cycles |
// maxSeq).
func (s *Source) ExtendedSeq() uint32 { return s.cycles | uint32(s.maxSeq) }

// Received returns the count of packets counted toward the receiver
// report's expected/received interval tracking.
func (s *Source) Received() uint32 { return s.received }

// Probation returns the number of further in-order packets still
// required before the source is trusted.
func (s *Source) Probation() uint32 { return s.probation }

// ReportBlock computes the fraction-lost/cumulative-lost fields for an
// RTCP receiver report block, exactly as addReportBlock does: lost
// clamped to signed 24-bit range, fractionLost computed from the
// interval since the last report and clamped to zero when negative.
type ReportBlock struct {
	ExtendedHighestSeq uint32
	CumulativeLost     int32
	FractionLost       uint8
}

// AddReportBlock advances the prior-interval bookkeeping and returns
// the next receiver report block for this source.
func (s *Source) AddReportBlock() ReportBlock {
	extMaxSeq := s.cycles | uint32(s.maxSeq)
	expected := extMaxSeq - s.baseSeq + 1

	lost := int64(expected) - int64(s.received)
	if lost > 0x7fffff {
		lost = 0x7fffff
	} else if lost < -0x800000 {
		lost = -0x800000
	}

	expectedInterval := expected - s.expectedPrior
	s.expectedPrior = expected

	receivedInterval := s.received - s.receivedPrior
	s.receivedPrior = s.received

	lostInterval := int64(expectedInterval) - int64(receivedInterval)

	var fractionLost uint8
	if expectedInterval != 0 && lostInterval > 0 {
		fractionLost = uint8((lostInterval << 8) / int64(expectedInterval))
	}

	return ReportBlock{
		ExtendedHighestSeq: extMaxSeq,
		CumulativeLost:     int32(lost),
		FractionLost:       fractionLost,
	}
}
