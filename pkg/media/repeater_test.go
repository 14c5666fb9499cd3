package media

import (
	"errors"
	"testing"
	"time"

	"github.com/ethan/wfd-miracast/pkg/au"
)

// blockingSource hands out queued units immediately, and otherwise
// blocks Read until either one is queued or the source is closed.
type blockingSource struct {
	units  chan au.Unit
	closed chan struct{}
}

func newBlockingSource() *blockingSource {
	return &blockingSource{
		units:  make(chan au.Unit, 4),
		closed: make(chan struct{}),
	}
}

func (b *blockingSource) Read() (au.Unit, error) {
	select {
	case u := <-b.units:
		return u, nil
	case <-b.closed:
		return au.Unit{}, errors.New("blockingSource: closed")
	}
}

func (b *blockingSource) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}

func TestRepeaterSourcePassesThroughFreshFrames(t *testing.T) {
	inner := newBlockingSource()
	inner.units <- au.New(au.CodecH264, 1000, au.FlagIDR, []byte{9})

	r := NewRepeaterSource(inner)
	defer r.Close()

	got, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.PTSUs != 1000 {
		t.Errorf("PTS = %d, want 1000", got.PTSUs)
	}
	if !got.Flags.IDR() {
		t.Errorf("IDR flag lost in pass-through")
	}
}

func TestRepeaterSourceRepeatsWhenIdle(t *testing.T) {
	inner := newBlockingSource()
	inner.units <- au.New(au.CodecH264, 500, 0, []byte{1, 2, 3})

	r := NewRepeaterSource(inner)
	defer r.Close()

	first, err := r.Read()
	if err != nil {
		t.Fatalf("first Read: %v", err)
	}

	start := time.Now()
	second, err := r.Read()
	if err != nil {
		t.Fatalf("second Read: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < repeaterFramePeriod/2 {
		t.Errorf("repeat returned too quickly (%v) for a source with nothing queued", elapsed)
	}
	if string(second.Payload) != string(first.Payload) {
		t.Errorf("repeated frame payload changed: got %v, want %v", second.Payload, first.Payload)
	}
	if second.PTSUs == first.PTSUs {
		t.Errorf("repeated frame timestamp was not advanced")
	}
}

func TestRepeaterSourceCloseUnblocksRead(t *testing.T) {
	inner := newBlockingSource()
	r := NewRepeaterSource(inner)

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}
