package lockmgr

import (
	"sync"
	"testing"
	"time"
)

func TestAcquireSerializes(t *testing.T) {
	m := New("test")
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := m.Acquire("g", "alice")
			defer release()
			counter++
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Fatalf("counter=%d, lock did not serialize", counter)
	}
}

func TestDistinctEntitiesIndependent(t *testing.T) {
	m := New("test")
	release := m.Acquire("g", "alice")
	defer release()

	done := make(chan struct{})
	go func() {
		r := m.Acquire("g", "bob")
		r()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("bob blocked on alice's lock")
	}
}

func TestGroupsIsolated(t *testing.T) {
	m := New("test")
	release := m.Acquire("g1", "alice")
	defer release()

	done := make(chan struct{})
	go func() {
		r := m.Acquire("g2", "alice")
		r()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("same entity in another group blocked")
	}
}

func TestAcquirePairSameEntity(t *testing.T) {
	m := New("test")
	release := m.AcquirePair("g", "alice", "alice")
	release()
	// The lock must be free again.
	r := m.Acquire("g", "alice")
	r()
}

func TestAcquireAllDeduplicates(t *testing.T) {
	m := New("test")
	release := m.AcquireAll("g", "bob", "alice", "bob", "carol", "alice")
	release()
	// Every lock must be free again.
	for _, id := range []string{"alice", "bob", "carol"} {
		r := m.Acquire("g", id)
		r()
	}
}

func TestAcquireAllOpposingOrdersNoDeadlock(t *testing.T) {
	m := New("test")
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release := m.AcquireAll("g", "alice", "bob", "carol")
			counter++
			release()
		}()
		go func() {
			defer wg.Done()
			release := m.AcquireAll("g", "carol", "bob", "alice")
			counter++
			release()
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("opposing multi-lock acquisitions deadlocked")
	}
	if counter != 400 {
		t.Fatalf("counter=%d, lock set did not serialize", counter)
	}
}

func TestAcquirePairOrderingPreventsDeadlock(t *testing.T) {
	m := New("test")
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release := m.AcquirePair("g", "alice", "bob")
			release()
		}()
		go func() {
			defer wg.Done()
			release := m.AcquirePair("g", "bob", "alice")
			release()
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("opposing pair acquisitions deadlocked")
	}
}
