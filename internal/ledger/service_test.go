package ledger

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestGetAccountCreatesOnce(t *testing.T) {
	svc := newTestService(t, nil)
	acc, _ := svc.GetAccount("g", "alice")
	if acc.Coins != 150 || acc.Value != 100 {
		t.Fatalf("starting account: %+v", acc)
	}

	// The snapshot must be detached from the live record.
	acc.Coins = 999
	again, _ := svc.GetAccount("g", "alice")
	if again.Coins != 150 {
		t.Fatalf("snapshot leaked into the store: coins=%d", again.Coins)
	}
}

func TestSnapshotsConsistentUnderConcurrentMutation(t *testing.T) {
	svc := newTestService(t, nil)
	acc, _ := svc.Store().Get("g", "alice")
	acc.Coins = 1 << 20
	svc.Store().Save("g", "alice", acc)

	// Deposits and withdrawals move coins between cash and bank; every
	// snapshot taken mid-stream must still see the two summing to the start.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := svc.Store().Snapshot()
			rec := snap["g"]["alice"]
			if got := rec.Coins + rec.Bank; got != 1<<20 {
				t.Errorf("torn snapshot: coins+bank=%d", got)
				return
			}
			svc.Rankings("g", "networth", 10)
		}
	}()

	var writers sync.WaitGroup
	for i := 0; i < 4; i++ {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for j := 0; j < 200; j++ {
				_, _ = svc.Deposit("g", "alice", 1)
				_, _ = svc.Withdraw("g", "alice", 1)
			}
		}()
	}
	writers.Wait()
	close(stop)
	readers.Wait()

	final, _ := svc.Store().Lookup("g", "alice")
	if got := final.Coins + final.Bank; got != 1<<20 {
		t.Fatalf("final coins+bank=%d want %d", got, 1<<20)
	}
}

func TestAutosaveWritesDirtyStateOnce(t *testing.T) {
	dir := t.TempDir()
	svc := newTestServiceAt(t, dir, nil)
	svc.GetAccount("g", "alice")

	svc.snapshotIfDirty()
	path := filepath.Join(dir, "ledger.yml")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	// Nothing changed, so a second cycle must not rewrite the file.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	svc.snapshotIfDirty()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("clean store still wrote a snapshot")
	}
}

func TestCloseFlushesAndBacksUp(t *testing.T) {
	dir := t.TempDir()
	svc := newTestServiceAt(t, dir, nil)
	svc.GetAccount("g", "alice")
	svc.snapshotIfDirty()

	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	if err != nil {
		t.Fatalf("read backups: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("backups=%d, close must back up the previous file", len(entries))
	}

	// The written state survives a reload.
	svc2 := newTestServiceAt(t, dir, nil)
	svc2.Store().Replace(svc2.persist.Load(), time.Now())
	if _, ok := svc2.Store().Lookup("g", "alice"); !ok {
		t.Fatal("flushed account missing after reload")
	}
}

func TestFlushWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	svc := newTestServiceAt(t, dir, nil)
	svc.GetAccount("g", "alice")

	if err := svc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ledger.yml")); err != nil {
		t.Fatalf("ledger file missing: %v", err)
	}
}
