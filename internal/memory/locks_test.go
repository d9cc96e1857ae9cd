package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestIDLocks_MutualExclusion tests that the same id serializes and the
// lock entry is reclaimed once unused.
func TestIDLocks_MutualExclusion(t *testing.T) {
	locks := newIDLocks()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("same-id")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	locks.mu.Lock()
	assert.Empty(t, locks.locks, "released locks must not accumulate")
	locks.mu.Unlock()
}

// TestIDLocks_DistinctIDsIndependent tests that different ids do not block
// each other.
func TestIDLocks_DistinctIDsIndependent(t *testing.T) {
	locks := newIDLocks()

	unlockA := locks.lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := locks.lock("b")
		unlockB()
		close(done)
	}()

	<-done
}
