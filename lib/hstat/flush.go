package hstat

import (
	"runtime"
)

// --------------------------------------------------------------------------
// Flush Driver
// --------------------------------------------------------------------------

// Flush collapses all pending per-CPU deltas in the subtree rooted at root
// into cumulative totals and propagates them upwards. After Flush returns,
// every (node, cpu) pair under root that was dirty at call time has had its
// pending delta folded in; nodes outside the subtree are untouched. Deltas
// arriving concurrently are either captured by this flush or deferred to
// the next one - never lost, never double counted.
//
// The subsystem lock is reacquired for every CPU shard rather than held
// across the whole walk. This bounds the pause imposed on concurrent
// updaters to a single per-CPU pass, at the price of not providing a
// cross-CPU-atomic snapshot; callers that need one must quiesce their
// writers first.
//
// With a custom flush callback installed, the callback runs after the
// subsystem lock is released and may block. At most one Flush of a given
// subsystem is in progress at a time. Flush itself may block and always
// runs to completion.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Subsystem) Flush(root *Node) {
	s.mustBinding(root)

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.metrics.flushes.Inc()

	for cpu := 0; cpu < s.numCPU; cpu++ {
		s.lockSubsystem()
		list := s.buildFlushList(root, cpu)

		if s.flushCB == nil {
			// the built-in accumulator folds cumulative totals, which the
			// subsystem lock owns, and never blocks - run it under the lock
			for _, n := range list {
				s.baseStatFlush(n, cpu)
			}
			s.lock.Unlock()
		} else {
			s.lock.Unlock()
			for _, n := range list {
				s.flushCB(n, cpu)
			}
		}

		s.metrics.flushedNodes.Add(len(list))

		// yield between per-CPU passes so long hierarchies don't starve
		// other goroutines
		runtime.Gosched()
	}
}

// lockSubsystem acquires the subsystem lock, counting contention.
func (s *Subsystem) lockSubsystem() {
	if !s.lock.TryLock() {
		s.metrics.lockContended.Inc()
		s.lock.Lock()
	}
}
