// Package hstat implements a hierarchical statistics aggregation engine:
// many independent writers spread over CPU shards cheaply record "this
// accounting node changed", and a reader later collapses all pending
// per-CPU deltas into authoritative, hierarchy-propagated totals.
//
// The engine is built around three cooperating mechanisms:
//
//   - Update tracking: MarkDirty threads a node into an intrusive per-CPU
//     tree of "nodes with pending data". Marking is O(1) amortized - once a
//     node is on the tree, it and all its ancestors stay there until the
//     next flush, so repeated updates to a hot subtree touch nothing but
//     the new leaf. The only lock taken is a per-(subsystem, cpu) spinlock
//     with a bounded critical section, so marking never blocks.
//
//   - Flush list building: for one CPU, the whole dirty subtree under a
//     given root is unlinked and re-linearized into a list in which every
//     node precedes all of its ancestors. The traversal is iterative and
//     bounded by the number of dirty nodes, never by tree depth.
//
//   - Flushing: the driver walks all CPU shards, builds the per-CPU list
//     under the subsystem lock, and then folds each node's pending delta
//     into its cumulative total and its parent's total. Subsystems may
//     replace the built-in delta accumulator with their own flush callback,
//     which is invoked without any engine lock held and may block.
//
// Key Components:
//
//   - Node: a vertex in the static accounting tree (NewRoot, NewChild).
//     Nodes carry no statistics themselves; state exists per
//     (node, subsystem) binding.
//
//   - Subsystem: one independent aggregation domain. It owns the per-CPU
//     shard locks, the subsystem lock, and the binding table. Created with
//     NewSubsystem over a tree root; nodes join via Bind and leave via
//     Unbind.
//
//   - BaseStat: the additive CPU-time payload of the built-in delta
//     accumulator, recorded with AccountExecTime / AccountTimeField and
//     read back with Stat, CPUSubtreeStat and FlushedStat.
//
// Consistency model: a delta recorded concurrently with a flush is either
// captured by that flush or deferred to the next one - never lost and never
// double counted. The engine guarantees per-(node, cpu) delta correctness
// only; it does not provide a cross-CPU-atomic snapshot (the subsystem lock
// is deliberately dropped between CPU passes to bound pause times). Callers
// that need full quiescence must stop their writers first.
//
// Related Packages:
//
//   - lib/hstat/util: spinlock, sequence counter and distribution
//     statistics primitives
//   - lib/hstat/testing: reusable property test and benchmark suite for
//     engine harnesses
package hstat
