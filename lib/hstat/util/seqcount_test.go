package util

import (
	"sync/atomic"
	"testing"
)

func TestSeqCountSingleThreaded(t *testing.T) {
	var seq SeqCount

	s := seq.ReadBegin()
	if seq.ReadRetry(s) {
		t.Errorf("snapshot must be valid with no writer in flight")
	}

	seq.WriteBegin()
	if !seq.ReadRetry(s) {
		t.Errorf("snapshot must be invalidated by a writer")
	}
	seq.WriteEnd()

	s2 := seq.ReadBegin()
	if s2 == s {
		t.Errorf("sequence must advance across a write section")
	}
	if seq.ReadRetry(s2) {
		t.Errorf("fresh snapshot must be valid")
	}
}

// TestSeqCountConsistentSnapshot pairs a writer that always keeps two
// counters equal with readers that must never observe them apart.
func TestSeqCountConsistentSnapshot(t *testing.T) {
	var (
		seq  SeqCount
		a, b atomic.Uint64
		stop atomic.Bool
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; !stop.Load(); i++ {
			seq.WriteBegin()
			a.Add(1)
			b.Add(1)
			seq.WriteEnd()
		}
	}()

	for i := 0; i < 100_000; i++ {
		for {
			s := seq.ReadBegin()
			snapA := a.Load()
			snapB := b.Load()
			if seq.ReadRetry(s) {
				continue
			}
			if snapA != snapB {
				t.Fatalf("torn read: a=%d b=%d", snapA, snapB)
			}
			break
		}
	}

	stop.Store(true)
	<-done
}
