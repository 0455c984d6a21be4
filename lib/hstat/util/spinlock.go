package util

import (
	"runtime"
	"sync/atomic"
)

// ----------------------------------------------------------------------------
// SpinLock
// ----------------------------------------------------------------------------

// SpinLock is a non-sleeping mutual exclusion lock.
//
// Unlike sync.Mutex it never parks the calling goroutine, which makes it
// usable on paths that must stay non-blocking with an O(1) critical section
// (the engine's update tracking path). Contended acquisition spins with
// exponential backoff: short spins at low contention to avoid scheduling
// overhead, yielding to the scheduler at higher contention to avoid a
// thundering herd.
//
// The zero value is an unlocked SpinLock. A SpinLock must not be copied
// after first use.
type SpinLock struct {
	state atomic.Uint32
}

// TryLock attempts to acquire the lock without spinning.
// It returns true if the lock was acquired.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *SpinLock) TryLock() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Lock acquires the lock, spinning until it is available.
// Critical sections guarded by a SpinLock must be short and must not block.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *SpinLock) Lock() {
	var backoff uint8 = 0
	for {
		if l.state.CompareAndSwap(0, 1) {
			return
		}

		// wait for the lock to look free before retrying the CAS,
		// backing off exponentially while it stays held
		for l.state.Load() != 0 {
			if backoff < 10 {
				backoff++
			}
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
	}
}

// Unlock releases the lock.
// It must only be called by the holder of the lock.
func (l *SpinLock) Unlock() {
	if !l.state.CompareAndSwap(1, 0) {
		panic("util: unlock of unlocked SpinLock")
	}
}
