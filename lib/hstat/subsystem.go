package hstat

import (
	"fmt"
	"github.com/ValentinKolb/hstat/lib/hstat/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"runtime"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger("hstat")

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures a Subsystem during initialization.
type Options struct {
	Name   string // Subsystem name, used for logging and metrics
	NumCPU int    // Number of CPU shards (0 = runtime.NumCPU())

	// Flush replaces the built-in delta accumulator with a custom per-node
	// flush callback. When nil, the subsystem runs the BaseStat accumulator
	// and the Account* methods become available.
	Flush FlushFunc

	// RootSource supplies system-wide per-CPU counters for reconstructing
	// the root's figures (built-in accumulator only, optional).
	RootSource RootSourceFunc
}

// DefaultOptions returns the default Subsystem options.
func DefaultOptions() *Options {
	return &Options{
		Name:   "base",
		NumCPU: runtime.NumCPU(),
	}
}

// --------------------------------------------------------------------------
// Per-binding state
// --------------------------------------------------------------------------

// cpuShard is the per-(node, subsystem, cpu) slice of engine state.
//
// The intrusive update-tree fields (onTree, next, children) are owned by
// the subsystem's per-CPU shard lock. The accumulator fields split two
// ways: raw is written by the accounting side under bsync, everything else
// is owned by the subsystem lock and only touched during a flush.
type cpuShard struct {
	// onTree is true while the owning node is linked on this CPU's updated
	// tree, i.e. it has (or an ancestor splice left it with) pending data.
	// Read speculatively without the shard lock on the update fast path.
	onTree atomic.Bool

	// next links to the next dirty sibling in the parent's dirty-children
	// list, nil when last. children heads the owning node's own
	// dirty-children list, nil when empty.
	next     *Node
	children *Node

	// built-in accumulator state
	bsync       util.SeqCount // guards raw against torn reads
	raw         rawBaseStat   // monotonically increasing raw counters
	lastRaw     BaseStat      // raw snapshot folded at the last flush
	subtree     BaseStat      // per-CPU subtree cumulative total
	lastSubtree BaseStat      // subtree figure last folded into the parent
}

// binding is the full engine state of one (node, subsystem) pair.
type binding struct {
	node   *Node
	percpu []cpuShard

	// cumulative totals, owned by the subsystem lock
	stat     BaseStat // hierarchy-propagated cumulative total
	lastStat BaseStat // cumulative figure last folded into the parent
}

func (b *binding) shard(cpu int) *cpuShard {
	return &b.percpu[cpu]
}

// --------------------------------------------------------------------------
// Subsystem
// --------------------------------------------------------------------------

// Subsystem is one independent aggregation domain over an accounting tree.
//
// It owns one spinlock per CPU shard (guarding that shard's intrusive
// update lists), one mutex serializing flush-list construction against
// those lists, and the table of (node, subsystem) bindings.
type Subsystem struct {
	name       string
	numCPU     int
	flushCB    FlushFunc
	rootSource RootSourceFunc

	root     *Node
	bindings *xsync.MapOf[*Node, *binding]

	// lock is the subsystem lock: it serializes flush-list construction
	// against concurrent splices and owns all cumulative totals. flushMu
	// serializes whole Flush calls so at most one flush of this subsystem's
	// tree is in progress at a time; it is held across the per-CPU passes
	// while lock is deliberately dropped between them.
	lock     sync.Mutex
	flushMu  sync.Mutex
	cpuLocks []util.SpinLock

	// updatesPerCPU counts MarkDirty calls per shard (for Info reporting)
	updatesPerCPU []atomic.Uint64

	metrics *subsystemMetrics
}

// NewSubsystem creates a new Subsystem over the tree rooted at root and
// eagerly binds the root (the root can never leave while the tree exists).
//
// Thread-safety: This function is not thread-safe and should only be called
// once per subsystem during initialization.
func NewSubsystem(root *Node, opts *Options) *Subsystem {
	if opts == nil {
		opts = DefaultOptions()
	}
	if root == nil || !root.IsRoot() {
		panic("hstat: NewSubsystem requires the root of an accounting tree")
	}

	numCPU := opts.NumCPU
	if numCPU <= 0 {
		numCPU = runtime.NumCPU()
	}

	s := &Subsystem{
		name:          opts.Name,
		numCPU:        numCPU,
		flushCB:       opts.Flush,
		rootSource:    opts.RootSource,
		root:          root,
		bindings:      xsync.NewMapOf[*Node, *binding](),
		cpuLocks:      make([]util.SpinLock, numCPU),
		updatesPerCPU: make([]atomic.Uint64, numCPU),
		metrics:       newSubsystemMetrics(opts.Name),
	}

	// the root binding is allocated eagerly
	s.bindings.Store(root, &binding{
		node:   root,
		percpu: make([]cpuShard, numCPU),
	})

	Logger.Infof("created subsystem %q (cpus=%d, custom flush=%t)",
		s.name, s.numCPU, s.flushCB != nil)

	return s
}

// Name returns the subsystem name.
func (s *Subsystem) Name() string {
	return s.name
}

// NumCPU returns the number of CPU shards of the subsystem.
func (s *Subsystem) NumCPU() int {
	return s.numCPU
}

// Root returns the tree root the subsystem was created over.
func (s *Subsystem) Root() *Node {
	return s.root
}

// --------------------------------------------------------------------------
// Binding lifecycle
// --------------------------------------------------------------------------

// Bind allocates per-CPU shard state for n, making it part of this
// subsystem's aggregation domain. The parent of n must already be bound
// (the dirty-closure invariant requires every ancestor of a dirty node to
// have shard state).
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Subsystem) Bind(n *Node) error {
	if n == nil {
		return fmt.Errorf("hstat: cannot bind nil node")
	}
	if n.parent == nil {
		// the root was bound at subsystem creation
		return fmt.Errorf("hstat: root %q is bound implicitly", n.Name())
	}
	if _, ok := s.bindings.Load(n.parent); !ok {
		return fmt.Errorf("hstat: cannot bind %q: parent %q is not bound to subsystem %q",
			n.Path(), n.parent.Path(), s.name)
	}

	b := &binding{
		node:   n,
		percpu: make([]cpuShard, s.numCPU),
	}
	if _, loaded := s.bindings.LoadOrStore(n, b); loaded {
		return fmt.Errorf("hstat: %q is already bound to subsystem %q", n.Path(), s.name)
	}
	return nil
}

// MustBind is like Bind but panics on error.
func (s *Subsystem) MustBind(n *Node) {
	if err := s.Bind(n); err != nil {
		panic(err)
	}
}

// Unbind frees the per-CPU shard state of n.
//
// Callers must flush any pending deltas first (Flush on n or an ancestor)
// and unbind children before parents. Violating either contract means data
// loss has already occurred, so it is treated as fatal: Unbind panics if
// the binding is still dirty on any CPU or if a bound child remains.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Subsystem) Unbind(n *Node) {
	b, ok := s.bindings.Load(n)
	if !ok {
		panic(fmt.Sprintf("hstat: %q is not bound to subsystem %q", n.Path(), s.name))
	}

	// a bound child would be left with a dangling ancestor chain
	n.RangeChildren(func(child *Node) bool {
		if _, bound := s.bindings.Load(child); bound {
			panic(fmt.Sprintf("hstat: cannot unbind %q: child %q is still bound", n.Path(), child.Path()))
		}
		return true
	})

	// sanity check: a final flush must have emptied every shard
	for cpu := 0; cpu < s.numCPU; cpu++ {
		lock := s.lockCPU(cpu, false)
		sh := b.shard(cpu)
		dirty := sh.onTree.Load() || sh.children != nil || sh.next != nil
		lock.Unlock()
		if dirty {
			Logger.Errorf("subsystem %q: %q unbound with pending deltas on cpu %d", s.name, n.Path(), cpu)
			panic(fmt.Sprintf("hstat: %q unbound with pending deltas on cpu %d (flush before Unbind)", n.Path(), cpu))
		}
	}

	s.bindings.Delete(n)
}

// IsBound reports whether n is bound to the subsystem.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Subsystem) IsBound(n *Node) bool {
	_, ok := s.bindings.Load(n)
	return ok
}

// IsDirty reports whether n has pending data on the given CPU shard (it is
// linked on that shard's updated tree).
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Subsystem) IsDirty(n *Node, cpu int) bool {
	s.checkCPU(cpu)
	b, ok := s.bindings.Load(n)
	if !ok {
		return false
	}
	return b.shard(cpu).onTree.Load()
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Info returns a point-in-time snapshot of the subsystem state.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Subsystem) Info() SubsystemInfo {
	info := SubsystemInfo{
		Name:        s.name,
		NumCPU:      s.numCPU,
		DirtyPerCPU: make([]int, s.numCPU),
	}

	s.bindings.Range(func(_ *Node, b *binding) bool {
		info.Bindings++
		for cpu := 0; cpu < s.numCPU; cpu++ {
			if b.shard(cpu).onTree.Load() {
				info.DirtyPerCPU[cpu]++
			}
		}
		return true
	})

	updates := make([]float64, s.numCPU)
	for cpu := range updates {
		updates[cpu] = float64(s.updatesPerCPU[cpu].Load())
	}
	info.UpdateDistribution = util.NewDistributionStats(updates)

	return info
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// mustBinding returns the binding of n, treating a missing binding as a
// fatal contract violation (operating on an uninitialized binding means
// updates have already been dropped).
func (s *Subsystem) mustBinding(n *Node) *binding {
	b, ok := s.bindings.Load(n)
	if !ok {
		panic(fmt.Sprintf("hstat: %q is not bound to subsystem %q", n.Path(), s.name))
	}
	return b
}

func (s *Subsystem) checkCPU(cpu int) {
	if cpu < 0 || cpu >= s.numCPU {
		panic(fmt.Sprintf("hstat: cpu %d out of range [0,%d)", cpu, s.numCPU))
	}
}

// lockCPU acquires the shard lock for cpu, counting contention separately
// for the high-frequency update fast path and the flush slow path.
func (s *Subsystem) lockCPU(cpu int, fastPath bool) *util.SpinLock {
	l := &s.cpuLocks[cpu]
	if !l.TryLock() {
		if fastPath {
			s.metrics.cpuLockContendedFast.Inc()
		} else {
			s.metrics.cpuLockContended.Inc()
		}
		l.Lock()
	}
	return l
}
