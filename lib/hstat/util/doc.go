// Package util provides the low-level concurrency primitives the hstat
// engine is built on, plus small statistics helpers used for reporting.
//
// Key components:
//
//   - SpinLock: a non-sleeping raw lock with exponential backoff. It guards
//     the per-(subsystem, cpu) intrusive update lists. The update path of the
//     engine must never block, so a parking lock (sync.Mutex) is not an
//     option there.
//
//   - SeqCount: a sequence counter implementing the "consistent snapshot
//     read" pattern. A writer bumps the counter around a multi-field update,
//     a reader retries until it observes the same even value before and
//     after reading. The writer is never blocked by readers.
//
//   - Stats / DistributionStats: descriptive statistics over a set of
//     per-shard figures, used to judge how evenly update load spreads
//     across CPUs.
package util
