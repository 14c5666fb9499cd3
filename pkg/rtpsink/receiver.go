package rtpsink

import (
	"fmt"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// ErrUnsupported tags an RTCP/RTP shape this sink does not (yet)
// handle, mirroring ERROR_UNSUPPORTED in the original parseRTCP/parseTSFB.
type ErrUnsupported struct {
	Reason string
}

func (e *ErrUnsupported) Error() string { return fmt.Sprintf("rtpsink: unsupported: %s", e.Reason) }

// sourceState is the per-SSRC bookkeeping a Receiver keeps: sequence
// tracking, lateness estimation, and the reorder buffer feeding the TS
// player.
type sourceState struct {
	source     *Source
	regression *LinearRegression
	renderer   *TunnelRenderer

	haveFirstArrival bool
	firstArrivalUs   int64
	maxDelayMs       float32
	haveMaxDelay     bool
}

// Receiver demultiplexes incoming RTP packets by SSRC, feeding each
// source's sequence tracker, lateness regression, and reorder buffer,
// exactly as RTPSink::onRTPData does for the single-source case,
// generalized here to track every SSRC independently.
type Receiver struct {
	sources map[uint32]*sourceState

	regressionHistory int

	// OnLateness, when set, is called with every lateness sample
	// computed from the fitted line: cheap to compute here, exposed for
	// a future A/V-sync consumer rather than silently dropped.
	OnLateness func(ssrc uint32, latenessMs float32)
}

// NewReceiver returns an empty Receiver. regressionHistory bounds each
// source's LinearRegression point history (1000, matching the
// original's mRegression(1000), unless overridden).
func NewReceiver(regressionHistory int) *Receiver {
	if regressionHistory <= 0 {
		regressionHistory = 1000
	}
	return &Receiver{sources: make(map[uint32]*sourceState), regressionHistory: regressionHistory}
}

// HandleRTP parses one incoming RTP packet, updates its source's
// sequence/lateness state, and returns any now-ready payloads (in
// order) along with an optional NACK to send back to the sender.
func (r *Receiver) HandleRTP(raw []byte, arrival time.Time) (ready [][]byte, nack *rtcp.NackPair, ssrc uint32, err error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return nil, nil, 0, fmt.Errorf("rtpsink: unmarshal RTP packet: %w", err)
	}
	ssrc = pkt.SSRC

	st, exists := r.sources[ssrc]
	queue := true
	if !exists {
		st = &sourceState{
			source:     NewSource(pkt.SequenceNumber),
			regression: NewLinearRegression(r.regressionHistory),
			renderer:   NewTunnelRenderer(),
		}
		r.sources[ssrc] = st
	} else {
		queue, _ = st.source.Update(pkt.SequenceNumber)
	}

	if !st.haveFirstArrival {
		st.firstArrivalUs = arrival.UnixMicro()
		st.haveFirstArrival = true
	}
	arrivalTimeMedia := float32(arrival.UnixMicro()-st.firstArrivalUs) * 9 / 100

	st.regression.AddPoint(float32(pkt.Timestamp), arrivalTimeMedia)
	if latenessMs, ok := EstimateLatenessMs(st.regression, float32(pkt.Timestamp), arrivalTimeMedia); ok {
		if !st.haveMaxDelay || latenessMs > st.maxDelayMs {
			st.maxDelayMs = latenessMs
			st.haveMaxDelay = true
		}
		if r.OnLateness != nil {
			r.OnLateness(ssrc, latenessMs)
		}
	}

	if queue {
		st.renderer.QueueBuffer(st.source.ExtendedSeq(), pkt.Payload)
	}

	for {
		data, n, ok := st.renderer.Dequeue(arrival)
		if data != nil {
			ready = append(ready, data)
			continue
		}
		if n != nil {
			nack = n
		}
		if !ok {
			break
		}
	}

	return ready, nack, ssrc, nil
}

// ReceiverReport builds an RTCP receiver report covering every known
// SSRC, to be sent every 2 seconds per the sink's report cadence.
func (r *Receiver) ReceiverReport(reporterSSRC uint32) *rtcp.ReceiverReport {
	rr := &rtcp.ReceiverReport{SSRC: reporterSSRC}
	for ssrc, st := range r.sources {
		block := st.source.AddReportBlock()
		rr.Reports = append(rr.Reports, rtcp.ReceptionReport{
			SSRC:               ssrc,
			FractionLost:       block.FractionLost,
			TotalLost:          uint32(block.CumulativeLost) & 0xFFFFFF,
			LastSequenceNumber: block.ExtendedHighestSeq,
		})
	}
	return rr
}
