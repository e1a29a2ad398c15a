package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectorIncAndGet(t *testing.T) {
	c := New()
	c.Inc(StandardConns)
	c.Inc(StandardConns)
	c.Add(DecryptedBytes, 100)
	c.Add(DecryptedBytes, 0)

	assert.Equal(t, uint64(2), c.Get(StandardConns))
	assert.Equal(t, uint64(100), c.Get(DecryptedBytes))
	assert.Equal(t, uint64(0), c.Get(Alerts))
}

func TestCollectorSnapshot(t *testing.T) {
	c := New()
	c.Inc(EphemeralMisses)
	c.Inc(KeyMatches)
	c.Add(EncryptedBytes, 512)
	c.Inc(Evictions)

	s := c.Snapshot()
	assert.Equal(t, uint64(1), s.EphemeralMisses)
	assert.Equal(t, uint64(1), s.KeyMatches)
	assert.Equal(t, uint64(512), s.EncryptedBytes)
	assert.Equal(t, uint64(1), s.Evictions)
}

func TestCollectorReset(t *testing.T) {
	c := New()
	for i := Counter(0); i < numCounters; i++ {
		c.Add(i, uint64(i)+1)
	}
	c.Tick(100)
	c.FlowActive()
	c.Tick(101)

	c.Reset()
	assert.Equal(t, Snapshot{}, c.Snapshot())
}

func TestCollectorConcurrentIncrements(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc(DecodeFails)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8000), c.Get(DecodeFails))
}

func TestCounterString(t *testing.T) {
	assert.Equal(t, "standard_conns", StandardConns.String())
	assert.Equal(t, "evictions", Evictions.String())
	assert.Equal(t, "unknown", Counter(-1).String())
	assert.Equal(t, "unknown", numCounters.String())
}

func TestRateWindow(t *testing.T) {
	c := New()

	c.Tick(1000)
	c.FlowActive()
	c.FlowActive()
	c.EncryptedFlowActive()
	c.EncryptedConnStarted()

	// nothing published until the second rolls over
	s := c.Snapshot()
	assert.Equal(t, uint64(0), s.ActiveFlowsPerSecond)

	c.Tick(1001)
	s = c.Snapshot()
	assert.Equal(t, uint64(2), s.ActiveFlowsPerSecond)
	assert.Equal(t, uint64(1), s.ActiveEncryptedConnsPerSecond)
	assert.Equal(t, uint64(1), s.EncryptedConnsPerSecond)

	// same second again is a no-op
	c.Tick(1001)
	assert.Equal(t, uint64(2), c.Snapshot().ActiveFlowsPerSecond)

	// an idle gap publishes zero for the last completed second
	c.FlowActive()
	c.Tick(1005)
	assert.Equal(t, uint64(0), c.Snapshot().ActiveFlowsPerSecond)

	// time going backwards is ignored
	c.FlowActive()
	c.Tick(900)
	c.Tick(1006)
	assert.Equal(t, uint64(1), c.Snapshot().ActiveFlowsPerSecond)
}
