package testing

import (
	"fmt"
	"github.com/ValentinKolb/hstat/lib/hstat"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
)

// Harness adapts one engine configuration (built-in accumulator or custom
// flush callback) to the suite.
//
// NewChild must create a child node and bind it. Account must apply a raw
// increment of delta to n on the given CPU shard and mark it dirty. Total
// must report the cumulative total folded into n so far, which covers n's
// whole subtree (hierarchy propagation is part of the contract under test).
//
// The suite builds trees from a single goroutine before starting writers,
// so NewChild does not need to be thread-safe.
type Harness struct {
	Subsystem *hstat.Subsystem
	Root      *hstat.Node
	NewChild  func(parent *hstat.Node, name string) *hstat.Node
	Account   func(n *hstat.Node, cpu int, delta uint64)
	Total     func(n *hstat.Node) uint64
}

// HarnessFactory creates a fresh tree and subsystem with numCPU CPU shards.
type HarnessFactory func(numCPU int) *Harness

// RunEngineTests runs the engine property suite for one configuration.
func RunEngineTests(t *testing.T, name string, factory HarnessFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("DirtyClosure", func(t *testing.T) {
			testDirtyClosure(t, factory(2))
		})

		t.Run("SingleChainFlush", func(t *testing.T) {
			testSingleChainFlush(t, factory(2))
		})

		t.Run("TwoCPUWriters", func(t *testing.T) {
			testTwoCPUWriters(t, factory(2))
		})

		t.Run("IdempotentDoubleFlush", func(t *testing.T) {
			testIdempotentDoubleFlush(t, factory(2))
		})

		t.Run("PartialSubtreeFlush", func(t *testing.T) {
			testPartialSubtreeFlush(t, factory(1))
		})

		t.Run("NoLostUpdates", func(t *testing.T) {
			testNoLostUpdates(t, factory(4))
		})

		t.Run("DeepHierarchy", func(t *testing.T) {
			testDeepHierarchy(t, factory(1))
		})

		t.Run("UnbindDirtyPanics", func(t *testing.T) {
			testUnbindDirtyPanics(t, factory(1))
		})

		t.Run("UnbindAfterFlush", func(t *testing.T) {
			testUnbindAfterFlush(t, factory(2))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func assertDirty(t *testing.T, s *hstat.Subsystem, n *hstat.Node, cpu int, want bool) {
	t.Helper()
	if got := s.IsDirty(n, cpu); got != want {
		t.Errorf("IsDirty(%s, cpu %d) = %t, want %t", n.Path(), cpu, got, want)
	}
}

func assertTotal(t *testing.T, h *Harness, n *hstat.Node, want uint64) {
	t.Helper()
	if got := h.Total(n); got != want {
		t.Errorf("Total(%s) = %d, want %d", n.Path(), got, want)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testDirtyClosure(t *testing.T, h *Harness) {
	a := h.NewChild(h.Root, "a")
	b := h.NewChild(a, "b")
	c := h.NewChild(b, "c")

	h.Account(c, 0, 1)

	// every strict ancestor of a dirty node must be dirty on the same shard
	for _, n := range []*hstat.Node{c, b, a, h.Root} {
		assertDirty(t, h.Subsystem, n, 0, true)
	}

	// the other shard must be untouched
	for _, n := range []*hstat.Node{c, b, a, h.Root} {
		assertDirty(t, h.Subsystem, n, 1, false)
	}

	h.Subsystem.Flush(h.Root)

	for _, n := range []*hstat.Node{c, b, a, h.Root} {
		assertDirty(t, h.Subsystem, n, 0, false)
	}
}

func testSingleChainFlush(t *testing.T, h *Harness) {
	a := h.NewChild(h.Root, "a")
	b := h.NewChild(a, "b")

	h.Account(b, 0, 5)

	assertDirty(t, h.Subsystem, a, 0, true)
	assertDirty(t, h.Subsystem, h.Root, 0, true)

	h.Subsystem.Flush(h.Root)

	// one pass must fold b's delta through a into the root
	assertDirty(t, h.Subsystem, b, 0, false)
	assertDirty(t, h.Subsystem, a, 0, false)
	assertDirty(t, h.Subsystem, h.Root, 0, false)
	assertTotal(t, h, b, 5)
	assertTotal(t, h, a, 5)
	assertTotal(t, h, h.Root, 5)
}

func testTwoCPUWriters(t *testing.T, h *Harness) {
	leaf := h.NewChild(h.Root, "leaf")

	// two concurrent writers on distinct CPU shards, no flush in between
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.Account(leaf, 0, 3)
	}()
	go func() {
		defer wg.Done()
		h.Account(leaf, 1, 4)
	}()
	wg.Wait()

	h.Subsystem.Flush(h.Root)

	// exactly two distinct per-CPU deltas, neither dropped nor doubled
	assertTotal(t, h, leaf, 7)
	assertTotal(t, h, h.Root, 7)
}

func testIdempotentDoubleFlush(t *testing.T, h *Harness) {
	a := h.NewChild(h.Root, "a")
	b := h.NewChild(a, "b")

	h.Account(a, 0, 10)
	h.Account(b, 1, 20)

	h.Subsystem.Flush(h.Root)
	want := []uint64{h.Total(h.Root), h.Total(a), h.Total(b)}

	// a second flush with no intervening updates must fold a zero delta
	h.Subsystem.Flush(h.Root)
	assertTotal(t, h, h.Root, want[0])
	assertTotal(t, h, a, want[1])
	assertTotal(t, h, b, want[2])
}

func testPartialSubtreeFlush(t *testing.T, h *Harness) {
	a := h.NewChild(h.Root, "a")
	a1 := h.NewChild(a, "a1")
	b := h.NewChild(h.Root, "b")
	b1 := h.NewChild(b, "b1")

	h.Account(a1, 0, 2)
	h.Account(b1, 0, 3)

	// flushing the subtree under a must not touch b's branch
	h.Subsystem.Flush(a)

	assertDirty(t, h.Subsystem, a1, 0, false)
	assertDirty(t, h.Subsystem, a, 0, false)
	assertDirty(t, h.Subsystem, b1, 0, true)
	assertDirty(t, h.Subsystem, b, 0, true)
	assertTotal(t, h, a, 2)
	assertTotal(t, h, b, 0)

	h.Subsystem.Flush(h.Root)

	assertTotal(t, h, b, 3)
	assertTotal(t, h, h.Root, 5)
}

func testNoLostUpdates(t *testing.T, h *Harness) {
	const (
		numCPU          = 4
		nodesPerBranch  = 10
		accountsPerCPU  = 2000
		maxDeltaPerCall = 8
	)

	// three branches of ten nodes each, every node a child of the previous
	var nodes []*hstat.Node
	for branch := 0; branch < 3; branch++ {
		parent := h.Root
		for i := 0; i < nodesPerBranch; i++ {
			parent = h.NewChild(parent, fmt.Sprintf("n-%d-%d", branch, i))
			nodes = append(nodes, parent)
		}
	}

	// per-node expected raw increments, indexed like nodes
	expected := make([]atomic.Uint64, len(nodes))

	// one writer per CPU shard racing with a concurrent flusher
	var wg sync.WaitGroup
	wg.Add(numCPU)
	for cpu := 0; cpu < numCPU; cpu++ {
		go func(cpu int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(cpu)))
			for i := 0; i < accountsPerCPU; i++ {
				idx := rng.Intn(len(nodes))
				delta := uint64(rng.Intn(maxDeltaPerCall)) + 1
				h.Account(nodes[idx], cpu, delta)
				expected[idx].Add(delta)
			}
		}(cpu)
	}

	stopFlusher := make(chan struct{})
	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		for {
			select {
			case <-stopFlusher:
				return
			default:
				h.Subsystem.Flush(h.Root)
			}
		}
	}()

	wg.Wait()
	close(stopFlusher)
	<-flusherDone

	// the final flush must capture everything the racing flushes deferred
	h.Subsystem.Flush(h.Root)

	// every node's total must equal the raw increments of its subtree;
	// within one branch, node i's subtree is nodes i..end of the branch
	var grandTotal uint64
	for branch := 0; branch < 3; branch++ {
		var subtree uint64
		for i := nodesPerBranch - 1; i >= 0; i-- {
			idx := branch*nodesPerBranch + i
			subtree += expected[idx].Load()
			assertTotal(t, h, nodes[idx], subtree)
		}
		grandTotal += subtree
	}
	assertTotal(t, h, h.Root, grandTotal)
}

func testDeepHierarchy(t *testing.T, h *Harness) {
	const (
		depth          = 50
		leavesPerLevel = 19 // 50 chain nodes + 50*19 leaves = 1000 nodes
	)

	// a 50-deep chain where every chain node carries extra leaf children
	chain := make([]*hstat.Node, depth)
	var all []*hstat.Node
	parent := h.Root
	for i := 0; i < depth; i++ {
		chain[i] = h.NewChild(parent, fmt.Sprintf("c%d", i))
		all = append(all, chain[i])
		for j := 0; j < leavesPerLevel; j++ {
			leaf := h.NewChild(chain[i], fmt.Sprintf("l%d", j))
			all = append(all, leaf)
		}
		parent = chain[i]
	}

	// dirty every node on one shard; a depth-bound traversal would overflow
	// long before 50 levels if it recursed per level
	for _, n := range all {
		h.Account(n, 0, 1)
	}

	h.Subsystem.Flush(h.Root)

	for _, n := range all {
		assertDirty(t, h.Subsystem, n, 0, false)
	}

	// chain node i's subtree holds (depth-i) chain nodes and their leaves
	for i := 0; i < depth; i++ {
		want := uint64((depth - i) * (1 + leavesPerLevel))
		assertTotal(t, h, chain[i], want)
	}
	assertTotal(t, h, h.Root, uint64(len(all)))
}

func testUnbindDirtyPanics(t *testing.T, h *Harness) {
	leaf := h.NewChild(h.Root, "leaf")
	h.Account(leaf, 0, 1)

	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("Unbind of a dirty binding must panic")
			}
		}()
		h.Subsystem.Unbind(leaf)
	}()

	// after a flush the same teardown must succeed
	h.Subsystem.Flush(h.Root)
	h.Subsystem.Unbind(leaf)
}

func testUnbindAfterFlush(t *testing.T, h *Harness) {
	a := h.NewChild(h.Root, "a")
	b := h.NewChild(a, "b")

	h.Account(b, 0, 4)
	h.Account(b, 1, 6)
	h.Subsystem.Flush(h.Root)
	assertTotal(t, h, h.Root, 10)

	// children before parents
	h.Subsystem.Unbind(b)
	h.Subsystem.Unbind(a)

	if h.Subsystem.IsBound(a) || h.Subsystem.IsBound(b) {
		t.Errorf("nodes still bound after Unbind")
	}
}
