package media

import (
	"testing"
	"time"

	"github.com/ethan/wfd-miracast/pkg/au"
)

func TestTrackPacketizerIndexRoundTrip(t *testing.T) {
	tr := NewTrack(au.CodecH264, true, newFakeCaptureSource(nil), &fakeEncoder{})
	defer tr.Stop()

	if _, ok := tr.PacketizerIndex(); ok {
		t.Fatalf("PacketizerIndex reported set before SetPacketizerIndex was called")
	}
	tr.SetPacketizerIndex(3)
	idx, ok := tr.PacketizerIndex()
	if !ok || idx != 3 {
		t.Fatalf("PacketizerIndex = (%d, %v), want (3, true)", idx, ok)
	}
}

func TestTrackHeadAndPopOrdering(t *testing.T) {
	tr := NewTrack(au.CodecH264, true, newFakeCaptureSource(nil), nil)
	defer tr.Stop()

	tr.enqueueOutput(au.New(au.CodecH264, 100, 0, nil))
	tr.enqueueOutput(au.New(au.CodecH264, 200, 0, nil))

	head, ok := tr.head()
	if !ok || head.PTSUs != 100 {
		t.Fatalf("head = (%+v, %v), want PTS 100", head, ok)
	}
	tr.pop()
	head, ok = tr.head()
	if !ok || head.PTSUs != 200 {
		t.Fatalf("head after pop = (%+v, %v), want PTS 200", head, ok)
	}
	tr.pop()
	if _, ok := tr.head(); ok {
		t.Fatalf("head reported a unit after draining all output")
	}
}

func TestTrackAudioNeverSuspends(t *testing.T) {
	tr := NewTrack(au.CodecAAC, false, newFakeCaptureSource(nil), nil)
	defer tr.Stop()

	if tr.suspended(time.Now()) {
		t.Fatalf("audio track reported suspended")
	}
	tr.enqueueOutput(au.New(au.CodecAAC, 0, 0, nil))
	tr.pop()
	future := time.Now().Add(suspendThreshold * 10)
	if tr.suspended(future) {
		t.Fatalf("audio track reported suspended; suspend policy must be video-only")
	}
}

func TestTrackVideoSuspendsAfterThreshold(t *testing.T) {
	tr := NewTrack(au.CodecH264, true, newFakeCaptureSource(nil), nil)
	defer tr.Stop()

	now := time.Now()
	if tr.suspended(now) {
		t.Fatalf("a track that has never produced output must not be considered suspended")
	}

	tr.enqueueOutput(au.New(au.CodecH264, 0, 0, nil))
	tr.pop()

	if tr.suspended(now) {
		t.Fatalf("track suspended immediately after producing output")
	}
	later := now.Add(suspendThreshold * 10)
	if !tr.suspended(later) {
		t.Fatalf("track did not suspend after exceeding the idle threshold")
	}
}
