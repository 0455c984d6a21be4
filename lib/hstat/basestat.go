package hstat

import (
	"fmt"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// BaseStat (additive payload of the built-in delta accumulator)
// --------------------------------------------------------------------------

// BaseStat is the additive CPU-time record tracked per (node, cpu) by the
// built-in delta accumulator. All figures are monotonically increasing.
type BaseStat struct {
	UserTime    uint64 `json:"user_time"`
	SystemTime  uint64 `json:"system_time"`
	ExecRuntime uint64 `json:"exec_runtime"`
	NiceTime    uint64 `json:"nice_time"`
}

// Add adds src to b field by field.
func (b *BaseStat) Add(src BaseStat) {
	b.UserTime += src.UserTime
	b.SystemTime += src.SystemTime
	b.ExecRuntime += src.ExecRuntime
	b.NiceTime += src.NiceTime
}

// Sub subtracts src from b field by field.
func (b *BaseStat) Sub(src BaseStat) {
	b.UserTime -= src.UserTime
	b.SystemTime -= src.SystemTime
	b.ExecRuntime -= src.ExecRuntime
	b.NiceTime -= src.NiceTime
}

func (b BaseStat) String() string {
	return fmt.Sprintf("BaseStat{user: %d, system: %d, exec: %d, nice: %d}",
		b.UserTime, b.SystemTime, b.ExecRuntime, b.NiceTime)
}

// rawBaseStat holds the writer-side raw counters. The fields are atomics
// so the seqcount retry loop on the reader side is free of torn loads; the
// seqcount still provides cross-field snapshot consistency.
type rawBaseStat struct {
	user   atomic.Uint64
	system atomic.Uint64
	exec   atomic.Uint64
	nice   atomic.Uint64
}

// snapshotRaw returns a consistent snapshot of the shard's raw counters,
// retrying until no writer-side update was in flight.
func (sh *cpuShard) snapshotRaw() BaseStat {
	for {
		seq := sh.bsync.ReadBegin()
		snap := BaseStat{
			UserTime:    sh.raw.user.Load(),
			SystemTime:  sh.raw.system.Load(),
			ExecRuntime: sh.raw.exec.Load(),
			NiceTime:    sh.raw.nice.Load(),
		}
		if !sh.bsync.ReadRetry(seq) {
			return snap
		}
	}
}

// --------------------------------------------------------------------------
// Accounting (writer side)
// --------------------------------------------------------------------------

// accountBegin validates the accounting call and opens the seqcount write
// section for the shard.
func (s *Subsystem) accountBegin(n *Node, cpu int) *cpuShard {
	s.checkCPU(cpu)
	if s.flushCB != nil {
		panic(fmt.Sprintf("hstat: subsystem %q has a custom flush callback, the built-in accumulator is disabled", s.name))
	}
	sh := s.mustBinding(n).shard(cpu)
	sh.bsync.WriteBegin()
	return sh
}

// accountEnd closes the write section and marks the node dirty.
func (s *Subsystem) accountEnd(n *Node, cpu int, sh *cpuShard) {
	sh.bsync.WriteEnd()
	s.MarkDirty(n, cpu)
}

// AccountExecTime charges delta of execution runtime to n on the given CPU
// shard and marks it dirty. Writers to the same (node, cpu) shard must be
// serialized by the caller (one writer per shard is the intended model).
//
// Thread-safety: This method is thread-safe across distinct (node, cpu)
// shards and never blocks beyond the per-shard spinlock.
func (s *Subsystem) AccountExecTime(n *Node, cpu int, delta uint64) {
	sh := s.accountBegin(n, cpu)
	sh.raw.exec.Add(delta)
	s.accountEnd(n, cpu, sh)
}

// AccountTimeField charges delta to the BaseStat figure selected by field
// and marks n dirty on the given CPU shard. Nice time counts as user time
// as well, and IRQ/SoftIRQ time counts as system time.
//
// Thread-safety: see AccountExecTime.
func (s *Subsystem) AccountTimeField(n *Node, cpu int, field CPUTimeField, delta uint64) {
	sh := s.accountBegin(n, cpu)

	switch field {
	case FieldNice:
		sh.raw.nice.Add(delta)
		sh.raw.user.Add(delta)
	case FieldUser:
		sh.raw.user.Add(delta)
	case FieldSystem, FieldIRQ, FieldSoftIRQ:
		sh.raw.system.Add(delta)
	default:
		panic(fmt.Sprintf("hstat: unknown cpu time field %d", field))
	}

	s.accountEnd(n, cpu, sh)
}

// --------------------------------------------------------------------------
// Delta Accumulator (default flush behavior)
// --------------------------------------------------------------------------

// baseStatFlush folds n's pending delta on the given CPU shard into its
// cumulative total and propagates it to the parent. Called with the
// subsystem lock held, in child-before-ancestor order, so every child has
// already folded into n by the time n folds into its own parent.
func (s *Subsystem) baseStatFlush(n *Node, cpu int) {
	parent := n.parent
	if parent == nil {
		// root-level raw figures are sourced from RootSource on demand
		return
	}

	b := s.mustBinding(n)
	sh := b.shard(cpu)

	// fetch the current raw per-cpu values and fold the delta since the
	// last flush into the node and its per-cpu subtree figure
	delta := sh.snapshotRaw()
	delta.Sub(sh.lastRaw)
	b.stat.Add(delta)
	sh.lastRaw.Add(delta)
	sh.subtree.Add(delta)

	// propagate the node's cumulative and per-cpu subtree deltas upward;
	// the shadow copies make the fold idempotent
	pb := s.mustBinding(parent)

	delta = b.stat
	delta.Sub(b.lastStat)
	pb.stat.Add(delta)
	b.lastStat.Add(delta)

	psh := pb.shard(cpu)
	delta = sh.subtree
	delta.Sub(sh.lastSubtree)
	psh.subtree.Add(delta)
	sh.lastSubtree.Add(delta)
}

// --------------------------------------------------------------------------
// Read accessors
// --------------------------------------------------------------------------

// Stat returns n's hierarchy-propagated cumulative total. The figure is
// authoritative only immediately after a flush covering n - other CPU
// shards may hold newer unflushed deltas.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Subsystem) Stat(n *Node) (BaseStat, bool) {
	b, ok := s.bindings.Load(n)
	if !ok {
		return BaseStat{}, false
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return b.stat, true
}

// CPUSubtreeStat returns the cumulative subtree total of n on one CPU
// shard (n's own deltas plus everything folded up from its descendants on
// that shard). Authoritative only immediately after a covering flush.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Subsystem) CPUSubtreeStat(n *Node, cpu int) (BaseStat, bool) {
	s.checkCPU(cpu)
	b, ok := s.bindings.Load(n)
	if !ok {
		return BaseStat{}, false
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return b.shard(cpu).subtree, true
}

// FlushedStat flushes the subtree rooted at n and returns its up-to-date
// cumulative total. For the tree root with a RootSource configured, the
// figure is instead reconstructed by summing the system-wide per-CPU
// counter source, bypassing delta tracking entirely.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Subsystem) FlushedStat(n *Node) BaseStat {
	if n.parent == nil && s.rootSource != nil {
		var sum BaseStat
		for cpu := 0; cpu < s.numCPU; cpu++ {
			sum.Add(s.rootSource(cpu))
		}
		return sum
	}

	s.Flush(n)
	stat, _ := s.Stat(n)
	return stat
}
