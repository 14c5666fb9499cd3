package media

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethan/wfd-miracast/pkg/au"
)

// fakeCaptureSource replays a fixed list of units, then blocks (as a
// real capture source would when idle) until Close unblocks it.
type fakeCaptureSource struct {
	mu     sync.Mutex
	units  []au.Unit
	idx    int
	closed bool
	block  chan struct{}
}

func newFakeCaptureSource(units []au.Unit) *fakeCaptureSource {
	return &fakeCaptureSource{units: units, block: make(chan struct{})}
}

func (f *fakeCaptureSource) Read() (au.Unit, error) {
	f.mu.Lock()
	if f.idx < len(f.units) {
		u := f.units[f.idx]
		f.idx++
		f.mu.Unlock()
		return u, nil
	}
	f.mu.Unlock()

	<-f.block
	return au.Unit{}, errors.New("fakeCaptureSource: closed")
}

func (f *fakeCaptureSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.block)
	}
	return nil
}

func TestMediaPullerFeedsUnitsInOrder(t *testing.T) {
	units := []au.Unit{
		au.New(au.CodecH264, 0, 0, []byte{0}),
		au.New(au.CodecH264, 1000, 0, []byte{1}),
		au.New(au.CodecH264, 2000, 0, []byte{2}),
	}
	source := newFakeCaptureSource(units)

	fed := make(chan au.Unit, len(units))
	puller := NewMediaPuller(source, func(u au.Unit) error {
		fed <- u
		return nil
	})
	puller.Start()
	defer puller.Stop()

	for i, want := range units {
		select {
		case got := <-fed:
			if got.PTSUs != want.PTSUs {
				t.Errorf("unit %d PTS = %d, want %d", i, got.PTSUs, want.PTSUs)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for unit %d", i)
		}
	}
}

func TestMediaPullerStopQuiescesCleanly(t *testing.T) {
	source := newFakeCaptureSource(nil)
	puller := NewMediaPuller(source, func(au.Unit) error { return nil })
	puller.Start()

	done := make(chan struct{})
	go func() {
		puller.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return; puller failed to quiesce")
	}
}

func TestMediaPullerStopsOnFeedError(t *testing.T) {
	units := []au.Unit{au.New(au.CodecH264, 0, 0, nil)}
	source := newFakeCaptureSource(units)

	feedErr := errors.New("downstream closed")
	puller := NewMediaPuller(source, func(au.Unit) error { return feedErr })
	puller.Start()

	// The pull loop should exit on the first feed error without
	// requiring Stop to unblock a Read.
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		puller.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the pull loop should have already exited")
	}
}
