package hstat_test

import (
	"github.com/ValentinKolb/hstat/lib/hstat"
	enginetesting "github.com/ValentinKolb/hstat/lib/hstat/testing"
	"github.com/puzpuzpuz/xsync/v3"
	"sync/atomic"
	"testing"
)

func Test(t *testing.T) {
	enginetesting.RunEngineTests(t, "BaseStat", newBaseHarness)
	enginetesting.RunEngineTests(t, "CustomFlush", newCustomHarness)
}

func Benchmark(b *testing.B) {
	enginetesting.RunEngineBenchmarks(b, "BaseStat", newBaseHarness)
	enginetesting.RunEngineBenchmarks(b, "CustomFlush", newCustomHarness)
}

// --------------------------------------------------------------------------
// Built-in accumulator harness
// --------------------------------------------------------------------------

func newBaseHarness(numCPU int) *enginetesting.Harness {
	root := hstat.NewRoot("root")
	s := hstat.NewSubsystem(root, &hstat.Options{
		Name:   "base-test",
		NumCPU: numCPU,
	})

	return &enginetesting.Harness{
		Subsystem: s,
		Root:      root,
		NewChild: func(parent *hstat.Node, name string) *hstat.Node {
			n := parent.NewChild(name)
			s.MustBind(n)
			return n
		},
		Account: func(n *hstat.Node, cpu int, delta uint64) {
			s.AccountExecTime(n, cpu, delta)
		},
		Total: func(n *hstat.Node) uint64 {
			stat, _ := s.Stat(n)
			return stat.ExecRuntime
		},
	}
}

// --------------------------------------------------------------------------
// Custom flush callback harness
// --------------------------------------------------------------------------

// customState is the callback-owned accounting state of one node: raw
// per-CPU counters written by the accounting side, and totals maintained
// by the flush callback. Flushes are serialized by the engine, so the
// callback needs no locking for its own fields.
type customState struct {
	raw       []atomic.Uint64
	last      []uint64
	total     uint64
	lastTotal uint64
}

func newCustomHarness(numCPU int) *enginetesting.Harness {
	root := hstat.NewRoot("root")
	table := xsync.NewMapOf[*hstat.Node, *customState]()

	newState := func(n *hstat.Node) {
		table.Store(n, &customState{
			raw:  make([]atomic.Uint64, numCPU),
			last: make([]uint64, numCPU),
		})
	}
	newState(root)

	// fold the per-CPU delta into the node's total and propagate the
	// total's delta to the parent; correctness relies on the engine
	// visiting every node before its ancestors
	flush := func(n *hstat.Node, cpu int) {
		c, ok := table.Load(n)
		if !ok {
			return
		}

		cur := c.raw[cpu].Load()
		c.total += cur - c.last[cpu]
		c.last[cpu] = cur

		if parent := n.Parent(); parent != nil {
			if pc, ok := table.Load(parent); ok {
				pc.total += c.total - c.lastTotal
				c.lastTotal = c.total
			}
		}
	}

	s := hstat.NewSubsystem(root, &hstat.Options{
		Name:   "custom-test",
		NumCPU: numCPU,
		Flush:  flush,
	})

	return &enginetesting.Harness{
		Subsystem: s,
		Root:      root,
		NewChild: func(parent *hstat.Node, name string) *hstat.Node {
			n := parent.NewChild(name)
			s.MustBind(n)
			newState(n)
			return n
		},
		Account: func(n *hstat.Node, cpu int, delta uint64) {
			c, _ := table.Load(n)
			c.raw[cpu].Add(delta)
			s.MarkDirty(n, cpu)
		},
		Total: func(n *hstat.Node) uint64 {
			c, _ := table.Load(n)
			return c.total
		},
	}
}
