package util

import (
	"sync"
	"testing"
)

func TestSpinLockMutualExclusion(t *testing.T) {
	const (
		goroutines = 8
		increments = 10_000
	)

	var (
		lock    SpinLock
		counter int
		wg      sync.WaitGroup
	)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				lock.Lock()
				counter++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	if counter != goroutines*increments {
		t.Errorf("counter = %d, want %d", counter, goroutines*increments)
	}
}

func TestSpinLockTryLock(t *testing.T) {
	var lock SpinLock

	if !lock.TryLock() {
		t.Fatal("TryLock on a free lock must succeed")
	}
	if lock.TryLock() {
		t.Errorf("TryLock on a held lock must fail")
	}

	lock.Unlock()

	if !lock.TryLock() {
		t.Errorf("TryLock after Unlock must succeed")
	}
	lock.Unlock()
}

func TestSpinLockUnlockOfUnlockedPanics(t *testing.T) {
	var lock SpinLock

	defer func() {
		if recover() == nil {
			t.Errorf("Unlock of an unlocked SpinLock must panic")
		}
	}()
	lock.Unlock()
}
