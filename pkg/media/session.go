package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethan/wfd-miracast/pkg/au"
	"github.com/ethan/wfd-miracast/pkg/config"
	"github.com/ethan/wfd-miracast/pkg/hdcp"
	"github.com/ethan/wfd-miracast/pkg/rtp"
	"github.com/ethan/wfd-miracast/pkg/ts"
)

// tsClockRate is the 90 kHz clock MPEG-TS PCR and RTP payload type 33
// (MP2T) both run on, used to convert a Unit's microsecond PTS into
// the 33-bit PTS ts.Packetizer expects and the RTP timestamp the
// Sender stamps each packet with.
const tsClockRate = 90000

// patPMTInterval and pcrInterval gate how often PlaybackSession asks
// the Packetizer to emit PAT/PMT and PCR. The wire layout those flags
// produce is fixed by TSPacketizer; the emission cadence is a policy
// choice made here. 100 ms matches common MPEG-TS muxer practice and
// keeps PAT/PMT well inside a sink's table-scan timeout.
const (
	patPMTInterval = 100 * time.Millisecond
	pcrInterval    = 40 * time.Millisecond
)

// trackState is PlaybackSession's private bookkeeping for one Track:
// its packetizer index, HDCP stream counter, and PCR/PAT-PMT emission
// clocks.
type trackState struct {
	track        *Track
	packetizerID int
	streamCTR    uint64
	lastPATPMT   time.Time
	lastPCR      time.Time
}

// PlaybackSession owns every Track, the shared Packetizer and Sender,
// and interleaves Track output strictly by presentation timestamp once
// every Track has a packetizer index (so PAT/PMT always describes
// every stream before the first PES is emitted). HDCP encryption, when
// configured, is serialized through hdcpMu so only one encrypt is ever
// in flight across every Track.
type PlaybackSession struct {
	cfg        config.Pipeline
	packetizer *ts.Packetizer
	sender     *rtp.Sender
	oracle     hdcp.Oracle

	mu     sync.Mutex
	tracks []*trackState

	hdcpMu sync.Mutex

	// OnPackets is called with serialized RTP packets ready to go on
	// the wire, once per drained access unit.
	OnPackets func(packets [][]byte)
	// OnSessionDead reports a fatal resource error (encoder init
	// failure, HDCP failure) — fatal to this session, not to the RTSP
	// server, which may still accept new sessions.
	OnSessionDead func(error)
	// OnSessionDestroyed fires once every Track has confirmed stop
	// during Destroy, mirroring kWhatSessionDestroyed.
	OnSessionDestroyed func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	drain  chan struct{}
}

// NewPlaybackSession constructs an empty session; call AddTrack for
// each elementary stream before Start.
func NewPlaybackSession(cfg config.Pipeline, oracle hdcp.Oracle) *PlaybackSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &PlaybackSession{
		cfg:        cfg,
		packetizer: ts.NewPacketizer(),
		sender:     rtp.NewSender(cfg.SSRC, 128, "wfd-source"),
		oracle:     oracle,
		ctx:        ctx,
		cancel:     cancel,
		drain:      make(chan struct{}, 1),
	}
}

// AddTrack registers a new elementary stream: a Packetizer PID is
// assigned immediately (AddTrack never blocks on capability
// negotiation), and the underlying Track is constructed; Start starts
// it.
func (s *PlaybackSession) AddTrack(codec au.Codec, video bool, source CaptureSource, encoder Encoder) (*Track, error) {
	pidIdx, err := s.packetizer.AddTrack(codec)
	if err != nil {
		return nil, fmt.Errorf("media: add track: %w", err)
	}

	track := NewTrack(codec, video, source, encoder)
	track.SetPacketizerIndex(pidIdx)

	s.mu.Lock()
	s.tracks = append(s.tracks, &trackState{track: track, packetizerID: pidIdx})
	s.mu.Unlock()

	return track, nil
}

// SetCodecSpecificData forwards a track's SPS/PPS so the Packetizer
// can prepend them to the next IDR frame, gated by
// PrependSPSPPSToIDRFrames the same way TSPacketizer.packetize is.
func (s *PlaybackSession) SetCodecSpecificData(track *Track, sps, pps []byte) error {
	idx, _ := track.PacketizerIndex()
	return s.packetizer.SetCodecSpecificData(idx, sps, pps)
}

// Start begins every Track's puller and the session's own drain loop.
func (s *PlaybackSession) Start() {
	s.mu.Lock()
	tracks := make([]*trackState, len(s.tracks))
	copy(tracks, s.tracks)
	s.mu.Unlock()

	for _, t := range tracks {
		t.track.Start()
	}

	s.wg.Add(1)
	go s.loop()
}

// poke wakes the drain loop; cheap to call from any Track's output
// callback.
func (s *PlaybackSession) poke() {
	select {
	case s.drain <- struct{}{}:
	default:
	}
}

func (s *PlaybackSession) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.drain:
			s.tryDrain()
		case <-ticker.C:
			s.tryDrain()
		}
	}
}

// tryDrain finds the Track whose head output AU has the smallest PTS;
// if any non-suspended Track has no head AU, it stops and waits for
// more input; otherwise it dequeues, HDCP-encrypts, packetizes and
// hands the result to the Sender. It repeats until no Track can make
// progress.
func (s *PlaybackSession) tryDrain() {
	s.mu.Lock()
	tracks := make([]*trackState, len(s.tracks))
	copy(tracks, s.tracks)
	s.mu.Unlock()

	if len(tracks) == 0 {
		return
	}
	for _, t := range tracks {
		if _, ok := t.track.PacketizerIndex(); !ok {
			return
		}
	}

	for {
		now := time.Now()
		var best *trackState
		var bestUnit au.Unit

		for _, t := range tracks {
			unit, ok := t.track.head()
			if !ok {
				if !t.track.suspended(now) {
					return
				}
				continue
			}
			if best == nil || unit.PTSUs < bestUnit.PTSUs {
				best = t
				bestUnit = unit
			}
		}

		if best == nil {
			return
		}

		best.track.pop()
		if err := s.emit(best, bestUnit, now); err != nil && s.OnSessionDead != nil {
			s.OnSessionDead(err)
			return
		}
	}
}

func (s *PlaybackSession) emit(t *trackState, unit au.Unit, now time.Time) error {
	var privateData []byte
	if s.oracle != nil {
		payload := append([]byte(nil), unit.Payload...)
		s.hdcpMu.Lock()
		inputCTR, err := s.oracle.Encrypt(payload, t.streamCTR)
		s.hdcpMu.Unlock()
		if err != nil {
			return &hdcp.ErrEncryptFailed{StreamCTR: t.streamCTR, Cause: err}
		}
		unit.Payload = payload
		t.streamCTR++
		d := hdcp.PrivateData(t.streamCTR, inputCTR)
		privateData = d[:]
	}

	var flags ts.Flags
	if s.oracle != nil {
		flags |= ts.IsEncrypted
	}
	if unit.Flags.IDR() {
		flags |= ts.PrependSPSPPSToIDRFrames
	}
	if now.Sub(t.lastPATPMT) >= patPMTInterval {
		flags |= ts.EmitPATAndPMT
		t.lastPATPMT = now
	}
	if t.track.Video && now.Sub(t.lastPCR) >= pcrInterval {
		flags |= ts.EmitPCR
		t.lastPCR = now
	}

	packets, err := s.packetizer.Packetize(t.packetizerID, unit, flags, privateData)
	if err != nil {
		return fmt.Errorf("media: packetize: %w", err)
	}

	rtpTimestamp := uint32(unit.PTSUs * tsClockRate / 1_000_000)
	rtpPackets, err := s.sender.Packetize(packets, rtpTimestamp)
	if err != nil {
		return fmt.Errorf("media: rtp packetize: %w", err)
	}

	if s.OnPackets != nil {
		s.OnPackets(rtpPackets)
	}
	return nil
}

// Destroy broadcasts stop to every Track, waits for the drain loop to
// quiesce, and invokes OnSessionDestroyed. This is synchronous since
// every Track's Stop already blocks until its own puller and converter
// have quiesced.
func (s *PlaybackSession) Destroy() {
	s.mu.Lock()
	tracks := make([]*trackState, len(s.tracks))
	copy(tracks, s.tracks)
	s.mu.Unlock()

	for _, t := range tracks {
		t.track.Stop()
	}

	s.cancel()
	s.wg.Wait()

	if s.OnSessionDestroyed != nil {
		s.OnSessionDestroyed()
	}
}
