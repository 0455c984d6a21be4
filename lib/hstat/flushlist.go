package hstat

// --------------------------------------------------------------------------
// Flush Order Builder
// --------------------------------------------------------------------------

// buildFlushList unlinks the dirty subtree under root from the given CPU
// shard's updated tree and returns it as a slice in which every node
// appears before all of its ancestors. It returns nil if root has no
// pending data on that shard.
//
// No ordering between siblings or unrelated branches is promised - the
// child-before-ancestor guarantee is the only contract, and it is exactly
// what the delta accumulator needs: a parent must not fold its own totals
// upward before every visited child has folded into it.
//
// The traversal is iterative and visits each dirty node exactly once, so
// the work is bounded by the dirty count, not by tree depth, and no
// call-stack depth depends on the data.
//
// The caller must hold the subsystem lock; the shard lock is taken here
// only for the duration of the splice.
func (s *Subsystem) buildFlushList(root *Node, cpu int) []*Node {
	b := s.mustBinding(root)

	lock := s.lockCPU(cpu, false)
	defer lock.Unlock()

	rsh := b.shard(cpu)
	if !rsh.onTree.Load() {
		return nil
	}

	// Unlink root from its parent's dirty-children list. The list is singly
	// linked and unordered, so finding the predecessor is a linear scan
	// over the parent's dirty children. That cost is paid once per flush,
	// not once per update.
	if parent := root.parent; parent != nil {
		psh := s.mustBinding(parent).shard(cpu)
		if psh.children == root {
			psh.children = rsh.next
		} else {
			for prev := psh.children; prev != nil; {
				prevSh := s.mustBinding(prev).shard(cpu)
				if prevSh.next == root {
					prevSh.next = rsh.next
					break
				}
				prev = prevSh.next
			}
		}
		rsh.next = nil
	}
	rsh.onTree.Store(false)

	// Drain the subtree breadth-first. Every visited node's dirty-children
	// list is emptied as the node is expanded, and each drained child is
	// taken off the tree immediately, so the shard is fully clean for this
	// subtree when the lock drops.
	order := append(make([]*Node, 0, 16), root)
	for i := 0; i < len(order); i++ {
		sh := s.mustBinding(order[i]).shard(cpu)
		for child := sh.children; child != nil; {
			csh := s.mustBinding(child).shard(cpu)
			next := csh.next
			csh.next = nil
			csh.onTree.Store(false)
			order = append(order, child)
			child = next
		}
		sh.children = nil
	}

	// breadth-first order has ancestors first; the flush contract wants
	// children first, so reverse in place
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	return order
}
