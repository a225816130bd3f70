package internal

import (
	"sync"
	"testing"
	"time"
)

func TestNewSessionIDMonotonicWithinMillisecond(t *testing.T) {
	at := time.Now()
	prev := NewSessionIDAt(at)
	for i := 0; i < 100; i++ {
		next := NewSessionIDAt(at)
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestNewSessionIDConcurrentUnique(t *testing.T) {
	const workers, perWorker = 8, 200

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := NewSessionID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique ids, got %d", workers*perWorker, len(seen))
	}
}

func TestValidSessionID(t *testing.T) {
	if !ValidSessionID(NewSessionID()) {
		t.Fatal("generated id should validate")
	}
	for _, bad := range []string{"", "abc", NewID()} {
		if ValidSessionID(bad) {
			t.Fatalf("%q should not validate", bad)
		}
	}
}
