package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPurchaseUnownedPet(t *testing.T) {
	svc := newTestService(t, nil)
	buyer, _ := svc.Store().Get("g", "alice")
	buyer.Coins = 500
	svc.Store().Save("g", "alice", buyer)

	out, err := svc.PurchasePet("g", "alice", "bob")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	// A fresh target is worth 100.
	if out.Cost != 100 {
		t.Fatalf("cost=%d want 100", out.Cost)
	}
	if out.ValueIncrease < 10 || out.ValueIncrease > 30 {
		t.Fatalf("value increase %d outside [10,30]", out.ValueIncrease)
	}
	if out.Coins != 400 {
		t.Fatalf("buyer coins=%d want 400", out.Coins)
	}

	pet, _ := svc.Store().Lookup("g", "bob")
	if pet.Master != "alice" {
		t.Fatalf("pet master=%q", pet.Master)
	}
	if pet.Value != 100+out.ValueIncrease {
		t.Fatalf("pet value=%d", pet.Value)
	}
	// Unowned pets keep half the price as a subsidy.
	if pet.Coins != 150+50 {
		t.Fatalf("pet coins=%d want 200", pet.Coins)
	}
	owner, _ := svc.Store().Lookup("g", "alice")
	if !containsID(owner.Pets, "bob") {
		t.Fatal("pet missing from owner's list")
	}
}

func TestPurchaseOwnedPetPaysPreviousMaster(t *testing.T) {
	svc := newTestService(t, nil)

	prev, _ := svc.Store().Get("g", "prev")
	prev.Pets = []string{"bob"}
	svc.Store().Save("g", "prev", prev)

	pet, _ := svc.Store().Get("g", "bob")
	pet.Master = "prev"
	pet.Value = 200
	svc.Store().Save("g", "bob", pet)

	buyer, _ := svc.Store().Get("g", "alice")
	buyer.Coins = 500
	svc.Store().Save("g", "alice", buyer)

	out, err := svc.PurchasePet("g", "alice", "bob")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if out.Cost != 200 {
		t.Fatalf("cost=%d want the pet's value", out.Cost)
	}

	prevAfter, _ := svc.Store().Lookup("g", "prev")
	if prevAfter.Coins != 150+200 {
		t.Fatalf("previous master coins=%d, full price must change hands", prevAfter.Coins)
	}
	if containsID(prevAfter.Pets, "bob") {
		t.Fatal("previous master still lists the pet")
	}
	petAfter, _ := svc.Store().Lookup("g", "bob")
	if petAfter.Master != "alice" {
		t.Fatalf("pet master=%q want alice", petAfter.Master)
	}
	// An owned pet gets no subsidy on resale.
	if petAfter.Coins != 150 {
		t.Fatalf("pet coins=%d want 150", petAfter.Coins)
	}
}

func TestPurchaseSaleCreditSurvivesConcurrentMasterOps(t *testing.T) {
	svc := newTestService(t, nil)

	prev, _ := svc.Store().Get("g", "prev")
	prev.Pets = []string{"bob"}
	svc.Store().Save("g", "prev", prev)

	pet, _ := svc.Store().Get("g", "bob")
	pet.Master = "prev"
	pet.Value = 200
	svc.Store().Save("g", "bob", pet)

	buyer, _ := svc.Store().Get("g", "alice")
	buyer.Coins = 500
	svc.Store().Save("g", "alice", buyer)

	// The previous master shuffles coins between cash and bank while the sale
	// credits them. Net worth must end at 150 starting coins + 200 sale price.
	var wg sync.WaitGroup
	var purchaseErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, purchaseErr = svc.PurchasePet("g", "alice", "bob")
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, _ = svc.Deposit("g", "prev", 1)
			_, _ = svc.Withdraw("g", "prev", 1)
		}
	}()
	wg.Wait()

	if purchaseErr != nil {
		t.Fatalf("purchase: %v", purchaseErr)
	}
	after, _ := svc.Store().Lookup("g", "prev")
	if got := after.Coins + after.Bank; got != 150+200 {
		t.Fatalf("previous master net worth=%d want 350, credit lost or duplicated", got)
	}
	if containsID(after.Pets, "bob") {
		t.Fatal("previous master still lists the pet")
	}
}

func TestPurchaseRejections(t *testing.T) {
	svc := newTestService(t, nil)
	buyer, _ := svc.Store().Get("g", "alice")
	buyer.Coins = 5000
	svc.Store().Save("g", "alice", buyer)

	if _, err := svc.PurchasePet("g", "alice", "alice"); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("self-purchase: %v", err)
	}

	if _, err := svc.PurchasePet("g", "alice", "bob"); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := svc.PurchasePet("g", "alice", "bob"); !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected purchase cooldown, got %v", err)
	}

	// Reset the cooldown; owning the pet is its own rejection.
	owner, _ := svc.Store().Get("g", "alice")
	owner.Cooldowns["purchase"] = 0
	svc.Store().Save("g", "alice", owner)
	if _, err := svc.PurchasePet("g", "alice", "bob"); !errors.Is(err, ErrPetOwned) {
		t.Fatalf("expected already-owned, got %v", err)
	}

	// A pet cannot buy its own master.
	pet, _ := svc.Store().Get("g", "bob")
	pet.Coins = 5000
	svc.Store().Save("g", "bob", pet)
	if _, err := svc.PurchasePet("g", "bob", "alice"); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected master-purchase rejection, got %v", err)
	}
}

func TestPurchaseBlockedByProtection(t *testing.T) {
	svc := newTestService(t, nil)
	buyer, _ := svc.Store().Get("g", "alice")
	buyer.Coins = 5000
	svc.Store().Save("g", "alice", buyer)

	pet, _ := svc.Store().Get("g", "bob")
	pet.ProtectedUntil = time.Now().Add(time.Hour).Unix()
	svc.Store().Save("g", "bob", pet)

	if _, err := svc.PurchasePet("g", "alice", "bob"); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected protection rejection, got %v", err)
	}
}

func TestReleasePetRefund(t *testing.T) {
	svc := newTestService(t, nil)
	owner, _ := svc.Store().Get("g", "alice")
	owner.Pets = []string{"bob"}
	svc.Store().Save("g", "alice", owner)

	pet, _ := svc.Store().Get("g", "bob")
	pet.Master = "alice"
	pet.Value = 300
	svc.Store().Save("g", "bob", pet)

	out, err := svc.ReleasePet("g", "alice", "bob")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if out.Refund != 90 {
		t.Fatalf("refund=%d want 30%% of 300", out.Refund)
	}
	freed, _ := svc.Store().Lookup("g", "bob")
	if freed.Master != "" {
		t.Fatalf("pet still owned by %q", freed.Master)
	}
	after, _ := svc.Store().Lookup("g", "alice")
	if containsID(after.Pets, "bob") {
		t.Fatal("pet still listed after release")
	}

	if _, err := svc.ReleasePet("g", "alice", "bob"); !errors.Is(err, ErrNotYourPet) {
		t.Fatalf("expected not-your-pet, got %v", err)
	}
}

func TestRansomFreesAndProtects(t *testing.T) {
	svc := newTestService(t, nil)
	owner, _ := svc.Store().Get("g", "alice")
	owner.Pets = []string{"bob"}
	svc.Store().Save("g", "alice", owner)

	pet, _ := svc.Store().Get("g", "bob")
	pet.Master = "alice"
	pet.Value = 200
	pet.Coins = 500
	svc.Store().Save("g", "bob", pet)

	out, err := svc.Ransom("g", "bob")
	if err != nil {
		t.Fatalf("ransom: %v", err)
	}
	// Value 200 at the 1.5x premium.
	if out.Cost != 300 {
		t.Fatalf("cost=%d want 300", out.Cost)
	}
	if out.Master != "alice" {
		t.Fatalf("master=%q", out.Master)
	}
	if out.Coins != 200 {
		t.Fatalf("coins=%d want 200", out.Coins)
	}

	freed, _ := svc.Store().Lookup("g", "bob")
	if freed.Master != "" {
		t.Fatal("ransom did not free the pet")
	}
	if until := freed.ProtectedUntil - time.Now().Unix(); until < 23*3600 || until > 25*3600 {
		t.Fatalf("protection window %ds, want about 24h", until)
	}
	ownerAfter, _ := svc.Store().Lookup("g", "alice")
	if ownerAfter.Coins != 150+300 {
		t.Fatalf("master coins=%d, ransom must be paid over", ownerAfter.Coins)
	}
	if containsID(ownerAfter.Pets, "bob") {
		t.Fatal("master still lists the freed pet")
	}

	if _, err := svc.Ransom("g", "bob"); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected already-free, got %v", err)
	}
}

func TestRansomUnaffordable(t *testing.T) {
	svc := newTestService(t, nil)
	pet, _ := svc.Store().Get("g", "bob")
	pet.Master = "alice"
	pet.Value = 1000
	pet.Coins = 100
	svc.Store().Save("g", "bob", pet)

	if _, err := svc.Ransom("g", "bob"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestRemoveID(t *testing.T) {
	ids := []string{"a", "b", "c", "b"}
	out := removeID(ids, "b")
	if len(out) != 2 || out[0] != "a" || out[1] != "c" {
		t.Fatalf("removeID result: %v", out)
	}
	if got := removeID(nil, "x"); len(got) != 0 {
		t.Fatalf("removeID(nil): %v", got)
	}
}
