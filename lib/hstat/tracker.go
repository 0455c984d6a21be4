package hstat

// --------------------------------------------------------------------------
// Update Tracker
// --------------------------------------------------------------------------

// MarkDirty records that n's statistics changed on the given CPU shard and
// puts n on that shard's updated tree, splicing it into its parent's
// dirty-children list.
//
// Both additions and removals are bottom-up: if a node is already on the
// tree, all of its ancestors are too, so the walk stops at the first dirty
// ancestor. A burst of updates to the same subtree therefore pays the full
// walk only once; subsequent calls return after a single unlocked read.
//
// MarkDirty never fails and never blocks beyond the per-shard spinlock,
// whose critical section is O(1) per visited ancestor. It is safe to call
// from any goroutine, including ones that must not sleep.
//
// Operating on a node that was never bound is a fatal contract violation
// and panics.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Subsystem) MarkDirty(n *Node, cpu int) {
	s.checkCPU(cpu)
	b := s.mustBinding(n)

	// Speculative already-on-tree test without the shard lock. A racing
	// flush may clear the flag right after we read it; the delta is then
	// picked up by the next flush. A false negative only costs a redundant
	// locked re-check, never data.
	if b.shard(cpu).onTree.Load() {
		return
	}

	s.metrics.updates.Inc()
	s.updatesPerCPU[cpu].Add(1)

	lock := s.lockCPU(cpu, true)

	// put n and all not-yet-dirty ancestors on the updated tree
	for {
		sh := b.shard(cpu)
		if sh.onTree.Load() {
			break
		}

		parent := n.parent
		if parent == nil {
			// the root has no parent list to join, marking it dirty is enough
			sh.onTree.Store(true)
			break
		}

		pb := s.mustBinding(parent)
		psh := pb.shard(cpu)
		sh.next = psh.children
		psh.children = n
		sh.onTree.Store(true)

		n = parent
		b = pb
	}

	lock.Unlock()
}
