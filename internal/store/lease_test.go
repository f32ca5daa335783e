package store

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLeaseSerializesSameID(t *testing.T) {
	lt := newLeaseTable()
	var order []int32
	var mu sync.Mutex
	var counter int32

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := lt.acquire("x")
			defer release()
			n := atomic.AddInt32(&counter, 1)
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, order, 10)
}

func TestLeaseDoesNotSerializeDifferentIDs(t *testing.T) {
	lt := newLeaseTable()
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			release := lt.acquire(id)
			defer release()
			time.Sleep(20 * time.Millisecond)
		}(i)
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLeaseReleaseIsIdempotent(t *testing.T) {
	lt := newLeaseTable()
	release := lt.acquire("x")
	release()
	assert.NotPanics(t, func() { release() })
}

func TestLeaseTableCleansUpIdleEntries(t *testing.T) {
	lt := newLeaseTable()
	release := lt.acquire("x")
	release()

	lt.mu.Lock()
	_, present := lt.entries["x"]
	lt.mu.Unlock()
	assert.False(t, present)
}
