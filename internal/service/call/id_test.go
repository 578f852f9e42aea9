package call

import (
	"sync"
	"testing"
)

func TestIDGenerator_Next(t *testing.T) {
	gen := NewIDGenerator()

	id1 := gen.Next("mock")
	if id1 != "mock-call-1" {
		t.Errorf("expected 'mock-call-1', got %s", id1)
	}

	id2 := gen.Next("mock")
	if id2 != "mock-call-2" {
		t.Errorf("expected 'mock-call-2', got %s", id2)
	}

	// Counter is shared across prefixes
	id3 := gen.Next("other")
	if id3 != "other-call-3" {
		t.Errorf("expected 'other-call-3', got %s", id3)
	}
}

func TestIDGenerator_ThreadSafety(t *testing.T) {
	gen := NewIDGenerator()
	numGoroutines := 50
	perGoroutine := 20

	var wg sync.WaitGroup
	results := make(chan string, numGoroutines*perGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				results <- gen.Next("concurrent")
			}
		}()
	}

	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for id := range results {
		if seen[id] {
			t.Errorf("duplicate call ID generated: %s", id)
		}
		seen[id] = true
	}

	if len(seen) != numGoroutines*perGoroutine {
		t.Errorf("expected %d unique call IDs, got %d", numGoroutines*perGoroutine, len(seen))
	}
}
