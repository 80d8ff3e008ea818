package payroll

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLocks_SerializesSameKey(t *testing.T) {
	var locks keyedLocks[string]
	var inside, peak atomic.Int32
	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("PAY-1")
			defer unlock()
			n := inside.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, peak.Load())
	assert.Zero(t, locks.held())
}

func TestKeyedLocks_DistinctKeysDoNotBlock(t *testing.T) {
	var locks keyedLocks[string]
	unlockA := locks.lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		locks.lock("b")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
	assert.Equal(t, 1, locks.held())
}

func TestKeyedLocks_DropsReleasedEntries(t *testing.T) {
	var locks keyedLocks[int]
	for i := range 100 {
		locks.lock(i)()
	}
	assert.Zero(t, locks.held())

	unlock := locks.lock(7)
	unlock()
	unlock()
	assert.Zero(t, locks.held(), "double release is ignored")
}
