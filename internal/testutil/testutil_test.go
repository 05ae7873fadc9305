package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_StartsAtEpoch(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
	assert.Equal(t, int64(2), clock.Readings())
}

func TestDeterministicClock_CustomStep(t *testing.T) {
	start := time.Date(2030, 5, 6, 7, 8, 9, 0, time.UTC)
	clock := NewDeterministicClockAt(start, time.Millisecond)

	clock.Now()
	assert.Equal(t, start.Add(time.Millisecond), clock.Now())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock()
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, int64(0), clock.Readings())
	assert.Equal(t, Epoch, clock.Now())
}

func TestDeterministicClock_ConcurrentReadingsAreUnique(t *testing.T) {
	clock := NewDeterministicClock()
	const n = 100

	var (
		mu   sync.Mutex
		seen = make(map[time.Time]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := clock.Now()
			mu.Lock()
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
}

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("cp")
	assert.Equal(t, "cp-1", ids.Generate())
	assert.Equal(t, "cp-2", ids.Generate())

	assert.Equal(t, "msg-1", NewSequentialIDs("").Generate())
}

func TestDiscardLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		DiscardLogger().Info("dropped", "key", "value")
	})
}
