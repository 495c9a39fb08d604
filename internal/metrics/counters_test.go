package metrics

import (
	"sync"
	"testing"
)

func TestCounters_SnapshotUnderConcurrency(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.PushReceived.Add(1)
			c.Inserted.Add(1)
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap["push_received"] != 100 || snap["inserted"] != 100 {
		t.Errorf("unexpected snapshot: %v", snap)
	}
	if snap["dead_lettered"] != 0 {
		t.Errorf("dead_lettered = %d, want 0", snap["dead_lettered"])
	}
}
