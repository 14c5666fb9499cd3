// Package media implements the source-side capture→encode→interleave
// pipeline: Converter, MediaPuller, RepeaterSource and PlaybackSession.
// One Track exists per elementary stream, each owning its own puller
// and converter, feeding a PlaybackSession that interleaves every
// Track's output by presentation timestamp once all Tracks have a
// packetizer index.
package media

import (
	"sync"
	"time"

	"github.com/ethan/wfd-miracast/pkg/au"
)

// CaptureSource is the opaque collaborator interface a Track pulls
// access units from — a camera, a screen grabber, a microphone. Read
// blocks until the next unit is available or the source is closed.
type CaptureSource interface {
	Read() (au.Unit, error)
	Close() error
}

// Encoder is the opaque collaborator interface wrapping an
// asynchronous hardware or software encoder handle. Feed submits raw
// input; Drain returns any encoded output units produced so far
// without blocking (an empty slice means none are ready yet).
// RequestIDR asks the next output unit to be a keyframe.
type Encoder interface {
	Feed(au.Unit) error
	Drain() ([]au.Unit, error)
	RequestIDR()
	SignalEOS() error
	Close() error
}

// DisplaySink is the sink-side opaque collaborator a decoded frame is
// ultimately pushed to; declared here so source and sink share one
// collaborator-interface surface, even though only the sink-side
// pipeline (pkg/rtpsink + a future decoder wiring) calls it.
type DisplaySink interface {
	Render(au.Unit) error
}

// suspendThreshold is the window after which a video Track with no
// fresh output is considered suspended and excluded from
// PlaybackSession's "every Track must have a head AU" rule, so a
// static screen doesn't stall audio. Applied unconditionally to every
// video Track rather than behind a capability flag.
const suspendThreshold = 60 * time.Millisecond

// Track is a per-stream record: a MediaPuller pulling from a
// CaptureSource, a Converter wrapping the Encoder, the PID the
// Packetizer assigned it, and the pending output AU queue awaiting
// interleaving. A Track exclusively owns its Puller and Converter;
// nothing outside the Track touches them directly.
type Track struct {
	Codec au.Codec
	Video bool

	puller    *MediaPuller
	converter *Converter

	mu            sync.Mutex
	packetizerIdx int
	hasPacketizer bool
	pendingOutput []au.Unit // decoded output AUs awaiting interleaving
	lastOutputAt  time.Time
	everProduced  bool
}

// NewTrack wires a Track's MediaPuller and Converter together: the
// puller's output feeds the converter, and the converter's output is
// queued on the Track for PlaybackSession to drain.
func NewTrack(codec au.Codec, video bool, source CaptureSource, encoder Encoder) *Track {
	t := &Track{Codec: codec, Video: video}
	t.converter = NewConverter(encoder, t.enqueueOutput)
	t.puller = NewMediaPuller(source, t.converter.FeedAccessUnit)
	return t
}

// SetPacketizerIndex records the PID index the session's TSPacketizer
// assigned this Track. Until every Track in a session has one, the
// session's drain loop (PlaybackSession.tryDrain) must not emit any AU:
// PAT/PMT has to describe every stream before the first PES goes out.
func (t *Track) SetPacketizerIndex(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.packetizerIdx = idx
	t.hasPacketizer = true
}

// PacketizerIndex returns the assigned PID index and whether one has
// been assigned yet.
func (t *Track) PacketizerIndex() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.packetizerIdx, t.hasPacketizer
}

// Start begins the Track's puller goroutine.
func (t *Track) Start() {
	t.puller.Start()
}

// RequestIDR asks the encoder to make its next output a keyframe.
func (t *Track) RequestIDR() {
	t.converter.RequestIDR()
}

func (t *Track) enqueueOutput(u au.Unit) {
	t.mu.Lock()
	t.pendingOutput = append(t.pendingOutput, u)
	t.lastOutputAt = time.Now()
	t.everProduced = true
	t.mu.Unlock()
}

// head returns the Track's oldest undelivered output AU without
// removing it, and whether one is present.
func (t *Track) head() (au.Unit, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pendingOutput) == 0 {
		return au.Unit{}, false
	}
	return t.pendingOutput[0], true
}

// pop removes the Track's oldest undelivered output AU.
func (t *Track) pop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pendingOutput) > 0 {
		t.pendingOutput = t.pendingOutput[1:]
	}
}

// suspended reports whether this Track should be excluded from the
// "every Track must have a head AU" rule: only video Tracks are ever
// eligible, and only once they have produced at least one AU (a Track
// that has never produced anything is still starting up, not
// suspended) and gone quiet for longer than suspendThreshold.
func (t *Track) suspended(now time.Time) bool {
	if !t.Video {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.everProduced {
		return false
	}
	return len(t.pendingOutput) == 0 && now.Sub(t.lastOutputAt) > suspendThreshold
}

// Stop quiesces the Track's puller and converter in order: the puller
// stops pulling first, then the converter shuts down; input still
// queued in the converter is discarded.
func (t *Track) Stop() {
	t.puller.Stop()
	t.converter.Stop()
}
