package media

import (
	"sync"
	"time"

	"github.com/ethan/wfd-miracast/pkg/au"
)

// repeaterFramePeriod is the steady 30 Hz output rate RepeaterSource
// guarantees.
const repeaterFramePeriod = time.Second / 30

// RepeaterSource wraps a video CaptureSource to guarantee a steady
// 30 Hz output, repeating the most recently produced frame — with its
// timestamp advanced to the current repeat slot — whenever the
// wrapped source has not produced a new one within one frame period.
// This is what keeps a PlaybackSession's suspend policy from ever
// tripping on a genuinely live (if momentarily static) video source:
// the Track only goes quiet when the underlying capture itself stops.
type RepeaterSource struct {
	inner CaptureSource

	mu       sync.Mutex
	lastUnit au.Unit
	haveLast bool

	newUnit  chan au.Unit
	readErr  chan error
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRepeaterSource wraps inner, starting its own pull goroutine
// immediately so Read always has either a fresh frame or the most
// recent repeat to hand back within one frame period.
func NewRepeaterSource(inner CaptureSource) *RepeaterSource {
	r := &RepeaterSource{
		inner:   inner,
		newUnit: make(chan au.Unit, 1),
		readErr: make(chan error, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.pump()
	return r
}

// pump is the dedicated goroutine draining the wrapped source; it
// never blocks RepeaterSource.Read, which instead waits on a ticker
// and repeats the last frame if pump hasn't delivered a fresh one in
// time.
func (r *RepeaterSource) pump() {
	defer close(r.done)
	for {
		unit, err := r.inner.Read()
		if err != nil {
			select {
			case r.readErr <- err:
			case <-r.stop:
			}
			return
		}
		select {
		case r.newUnit <- unit:
		case <-r.stop:
			return
		}
	}
}

// Read returns the next unit to output: a freshly pulled frame if one
// arrived within the frame period, or a retimed copy of the last frame
// otherwise. It blocks until a frame is available, waiting one frame
// period at a time.
func (r *RepeaterSource) Read() (au.Unit, error) {
	for {
		timer := time.NewTimer(repeaterFramePeriod)

		select {
		case unit := <-r.newUnit:
			timer.Stop()
			r.mu.Lock()
			r.lastUnit = unit
			r.haveLast = true
			r.mu.Unlock()
			return unit, nil

		case err := <-r.readErr:
			timer.Stop()
			return au.Unit{}, err

		case <-timer.C:
			r.mu.Lock()
			haveLast := r.haveLast
			last := r.lastUnit
			r.mu.Unlock()
			if !haveLast {
				// No frame has ever arrived; keep waiting rather
				// than repeating an empty unit.
				continue
			}
			repeated := last.WithTiming(last.PTSUs + repeaterFramePeriod.Microseconds())
			r.mu.Lock()
			r.lastUnit = repeated
			r.mu.Unlock()
			return repeated, nil
		}
	}
}

// Close stops the pump goroutine and closes the wrapped source.
func (r *RepeaterSource) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
	return r.inner.Close()
}
