package media

import (
	"sync"
	"testing"
	"time"

	"github.com/ethan/wfd-miracast/pkg/au"
)

type fakeEncoder struct {
	mu          sync.Mutex
	pending     []au.Unit
	idrRequests int
	eosSignaled bool
	closed      bool
}

func (f *fakeEncoder) Feed(u au.Unit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, u)
	return nil
}

func (f *fakeEncoder) Drain() ([]au.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out, nil
}

func (f *fakeEncoder) RequestIDR() {
	f.mu.Lock()
	f.idrRequests++
	f.mu.Unlock()
}

func (f *fakeEncoder) SignalEOS() error {
	f.mu.Lock()
	f.eosSignaled = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEncoder) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestConverterEncodedPathProducesOutput(t *testing.T) {
	enc := &fakeEncoder{}
	outCh := make(chan au.Unit, 8)
	c := NewConverter(enc, func(u au.Unit) { outCh <- u })
	defer c.Stop()

	unit := au.New(au.CodecH264, 1000, au.FlagIDR, []byte{1, 2, 3})
	if err := c.FeedAccessUnit(unit); err != nil {
		t.Fatalf("FeedAccessUnit: %v", err)
	}

	select {
	case got := <-outCh:
		if got.PTSUs != 1000 {
			t.Errorf("output PTS = %d, want 1000", got.PTSUs)
		}
		if !got.Flags.IDR() {
			t.Errorf("output lost IDR flag")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for converter output")
	}
}

func TestConverterRequestIDRForwardsToEncoder(t *testing.T) {
	enc := &fakeEncoder{}
	c := NewConverter(enc, func(au.Unit) {})
	defer c.Stop()

	c.RequestIDR()

	enc.mu.Lock()
	got := enc.idrRequests
	enc.mu.Unlock()
	if got != 1 {
		t.Fatalf("idrRequests = %d, want 1", got)
	}
}

func TestConverterStopClosesEncoder(t *testing.T) {
	enc := &fakeEncoder{}
	c := NewConverter(enc, func(au.Unit) {})
	c.Stop()

	enc.mu.Lock()
	closed := enc.closed
	enc.mu.Unlock()
	if !closed {
		t.Fatalf("encoder was not closed on Stop")
	}
}

func TestConverterPCMBypassFramesFixedDuration(t *testing.T) {
	var mu sync.Mutex
	var outputs []au.Unit
	c := NewConverter(nil, func(u au.Unit) {
		mu.Lock()
		outputs = append(outputs, u)
		mu.Unlock()
	})
	defer c.Stop()

	// Exactly two frames' worth of PCM payload.
	payload := make([]byte, pcmFrameBytes*2)
	for i := range payload {
		payload[i] = byte(i)
	}

	unit := au.New(au.CodecPCM, 0, 0, payload)
	if err := c.FeedAccessUnit(unit); err != nil {
		t.Fatalf("FeedAccessUnit: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(outputs) != 2 {
		t.Fatalf("got %d PCM frames, want 2", len(outputs))
	}
	if outputs[0].PTSUs != 0 {
		t.Errorf("first frame PTS = %d, want 0", outputs[0].PTSUs)
	}
	wantSecondPTS := pcmFrameDuration.Microseconds()
	if outputs[1].PTSUs != wantSecondPTS {
		t.Errorf("second frame PTS = %d, want %d", outputs[1].PTSUs, wantSecondPTS)
	}
	if len(outputs[0].Payload) != pcmFrameBytes || len(outputs[1].Payload) != pcmFrameBytes {
		t.Errorf("frame sizes = %d, %d, want both %d", len(outputs[0].Payload), len(outputs[1].Payload), pcmFrameBytes)
	}
}

func TestConverterPCMBypassBuffersPartialFrame(t *testing.T) {
	var mu sync.Mutex
	var outputs []au.Unit
	c := NewConverter(nil, func(u au.Unit) {
		mu.Lock()
		outputs = append(outputs, u)
		mu.Unlock()
	})
	defer c.Stop()

	half := make([]byte, pcmFrameBytes/2)
	unit := au.New(au.CodecPCM, 0, 0, half)
	if err := c.FeedAccessUnit(unit); err != nil {
		t.Fatalf("FeedAccessUnit: %v", err)
	}

	mu.Lock()
	n := len(outputs)
	mu.Unlock()
	if n != 0 {
		t.Fatalf("got %d frames from a half-size feed, want 0 (should buffer)", n)
	}

	if err := c.FeedAccessUnit(au.New(au.CodecPCM, 0, 0, half)); err != nil {
		t.Fatalf("FeedAccessUnit: %v", err)
	}
	mu.Lock()
	n = len(outputs)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("got %d frames after completing a full frame, want 1", n)
	}
}
