package testing

import (
	"fmt"
	"github.com/ValentinKolb/hstat/lib/hstat"
	"testing"
)

// RunEngineBenchmarks runs the engine benchmark suite for one configuration.
func RunEngineBenchmarks(b *testing.B, name string, factory HarnessFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("AccountHotLeaf", func(b *testing.B) {
			benchmarkAccountHotLeaf(b, factory(1))
		})

		b.Run("AccountFanout", func(b *testing.B) {
			benchmarkAccountFanout(b, factory(1))
		})

		b.Run("FlushDirtySubtree", func(b *testing.B) {
			benchmarkFlushDirtySubtree(b, factory(1))
		})
	})
}

// benchmarkAccountHotLeaf measures the update fast path: after the first
// call the leaf and all ancestors are already on the updated tree, so each
// iteration is a single speculative check.
func benchmarkAccountHotLeaf(b *testing.B, h *Harness) {
	parent := h.Root
	for i := 0; i < 8; i++ {
		parent = h.NewChild(parent, fmt.Sprintf("c%d", i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Account(parent, 0, 1)
	}
}

// benchmarkAccountFanout measures marking across many distinct leaves,
// which exercises the splice path whenever the leaf is not yet dirty.
func benchmarkAccountFanout(b *testing.B, h *Harness) {
	const fanout = 256
	leaves := make([]*hstat.Node, fanout)
	for i := range leaves {
		leaves[i] = h.NewChild(h.Root, fmt.Sprintf("leaf%d", i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Account(leaves[i%fanout], 0, 1)
		if i%fanout == fanout-1 {
			// reset dirtiness so the splice path keeps being exercised
			b.StopTimer()
			h.Subsystem.Flush(h.Root)
			b.StartTimer()
		}
	}
}

// benchmarkFlushDirtySubtree measures a full build-and-fold pass over a
// dirty tree of moderate size.
func benchmarkFlushDirtySubtree(b *testing.B, h *Harness) {
	const width, depth = 16, 3 // 16^1+16^2+16^3 nodes
	var build func(parent *hstat.Node, level int, prefix string) []*hstat.Node
	build = func(parent *hstat.Node, level int, prefix string) []*hstat.Node {
		if level == depth {
			return nil
		}
		var nodes []*hstat.Node
		for i := 0; i < width; i++ {
			n := h.NewChild(parent, fmt.Sprintf("%s%d", prefix, i))
			nodes = append(nodes, n)
			nodes = append(nodes, build(n, level+1, prefix+"x")...)
		}
		return nodes
	}
	nodes := build(h.Root, 0, "n")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for _, n := range nodes {
			h.Account(n, 0, 1)
		}
		b.StartTimer()
		h.Subsystem.Flush(h.Root)
	}
}
