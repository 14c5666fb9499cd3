package rtpsink

import "testing"

// newSyncedSource runs a Source through its two-packet probation
// window so tests can start from a trusted, post-probation state.
func newSyncedSource(first uint16) *Source {
	s := NewSource(first)
	s.Update(first + 1)
	s.Update(first + 2)
	return s
}

func TestSourceProbation(t *testing.T) {
	s := NewSource(100)
	if s.Probation() != minSequential {
		t.Fatalf("probation = %d, want %d", s.Probation(), minSequential)
	}

	queue, synced := s.Update(101)
	if !queue {
		t.Errorf("seq 101: expected queue=true")
	}
	if synced {
		t.Errorf("seq 101: expected synced=false (still on probation)")
	}
	if s.Probation() != 1 {
		t.Errorf("probation after seq 101 = %d, want 1", s.Probation())
	}

	queue, synced = s.Update(102)
	if !queue || !synced {
		t.Errorf("seq 102: got queue=%v synced=%v, want true,true", queue, synced)
	}
	if s.Probation() != 0 {
		t.Errorf("probation after seq 102 = %d, want 0", s.Probation())
	}
	if s.Received() != 1 {
		t.Errorf("received = %d, want 1", s.Received())
	}
	if s.MaxSeq() != 102 {
		t.Errorf("maxSeq = %d, want 102", s.MaxSeq())
	}
	if s.ExtendedSeq() != 102 {
		t.Errorf("extended seq = %d, want 102", s.ExtendedSeq())
	}
}

func TestSourceSequenceWrap(t *testing.T) {
	s := newSyncedSource(65533) // synced at maxSeq=65535

	if _, synced := s.Update(0); !synced {
		t.Fatalf("expected synced after wrap to 0")
	}
	if _, synced := s.Update(1); !synced {
		t.Fatalf("expected synced after wrap to 1")
	}

	if s.Cycles() != 1<<16 {
		t.Errorf("cycles = %d, want %d", s.Cycles(), uint32(1)<<16)
	}
	if s.MaxSeq() != 1 {
		t.Errorf("maxSeq = %d, want 1", s.MaxSeq())
	}
	want := uint32(1<<16) | 1
	if s.ExtendedSeq() != want {
		t.Errorf("extended seq = %d, want %d", s.ExtendedSeq(), want)
	}
}

func TestSourceLargeForwardJumpThenResync(t *testing.T) {
	s := newSyncedSource(98) // synced at maxSeq=100

	if queue, synced := s.Update(40000); queue || synced {
		t.Errorf("first seq 40000: got queue=%v synced=%v, want false,false", queue, synced)
	}
	if queue, synced := s.Update(40000); queue || synced {
		t.Errorf("second seq 40000: got queue=%v synced=%v, want false,false", queue, synced)
	}

	queue, synced := s.Update(40001)
	if !queue || !synced {
		t.Errorf("seq 40001: got queue=%v synced=%v, want true,true", queue, synced)
	}
	if s.MaxSeq() != 40001 {
		t.Errorf("maxSeq after resync = %d, want 40001", s.MaxSeq())
	}
	if s.Received() != 1 {
		t.Errorf("received after resync = %d, want 1 (initSeq resets the counter, then this packet counts)", s.Received())
	}
}
