package ledger

import (
	"sync"
	"testing"
	"time"
)

func TestLockArenaReclaimsIdleLocks(t *testing.T) {
	a := newLockArena()

	unlock := a.lock("g1")
	runlock := a.rlock("g2")
	if n := a.size(); n != 2 {
		t.Fatalf("size = %d, want 2", n)
	}
	unlock()
	runlock()
	if n := a.size(); n != 0 {
		t.Errorf("size = %d after release, want 0", n)
	}
}

func TestLockArenaSerializesWriters(t *testing.T) {
	a := newLockArena()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := a.lock("g")
			defer unlock()

			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("%d writers held the lock at once", maxSeen)
	}
	if n := a.size(); n != 0 {
		t.Errorf("size = %d, want 0", n)
	}
}

func TestLockArenaAllowsConcurrentReaders(t *testing.T) {
	a := newLockArena()

	first := a.rlock("g")
	acquired := make(chan struct{})
	go func() {
		second := a.rlock("g")
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("second reader blocked behind the first")
	}
	first()
}
