package ledger

import (
	"fmt"
	"time"
)

const (
	purchaseCooldown = time.Hour
	releaseCooldown  = time.Hour
	releaseRefund    = 0.3
	protectionWindow = 24 * time.Hour
)

// PetResult reports a pet-relation mutation.
type PetResult struct {
	Pet           string `json:"pet,omitempty"`
	Master        string `json:"master,omitempty"`
	Cost          int64  `json:"cost,omitempty"`
	Refund        int64  `json:"refund,omitempty"`
	ValueIncrease int64  `json:"value_increase,omitempty"`
	Coins         int64  `json:"coins"`
}

// PurchasePet buys the target as a pet at the target's current value. An
// unowned target keeps half the price as a subsidy; an owned one changes
// hands with the full price going to the previous master. The sale bumps the
// target's value by a random 10 to 30.
func (s *Service) PurchasePet(group, buyer, target string) (*PetResult, error) {
	if buyer == target || target == "" {
		return nil, fmt.Errorf("%w: cannot purchase %q", ErrInvalidTarget, target)
	}
	if err := s.checkJailed(group, buyer); err != nil {
		return nil, err
	}

	// The current master joins the lock set; read before locking to build the
	// plan, re-checked after, as in Ransom.
	planned := ""
	if pet, ok := s.store.Lookup(group, target); ok {
		planned = pet.Master
	}
	extra := []string{target}
	if planned != "" && planned != buyer {
		extra = append(extra, planned)
	}
	release := s.lockForUpdate(group, buyer, extra...)
	defer release()

	acc, _ := s.store.Get(group, buyer)
	if s.refresh(group, buyer, acc) {
		return nil, fmt.Errorf("account liquidated, purchase aborted")
	}
	pet, _ := s.store.Get(group, target)
	if pet.Master != planned {
		s.store.Save(group, buyer, acc)
		return nil, fmt.Errorf("%w: ownership changed, try again", ErrInvalidTarget)
	}
	if acc.Master == target {
		s.store.Save(group, buyer, acc)
		return nil, fmt.Errorf("%w: cannot purchase your own master", ErrInvalidTarget)
	}
	now := time.Now()
	if now.Unix() < pet.ProtectedUntil {
		s.store.Save(group, buyer, acc)
		return nil, fmt.Errorf("%w: target is protected for another %ds", ErrInvalidTarget, pet.ProtectedUntil-now.Unix())
	}
	if remain := acc.CooldownRemaining("purchase", purchaseCooldown, now); remain > 0 {
		s.store.Save(group, buyer, acc)
		return nil, fmt.Errorf("%w: %ds remaining", ErrCooldown, remain)
	}
	if pet.Master == buyer || containsID(acc.Pets, target) {
		s.store.Save(group, buyer, acc)
		return nil, fmt.Errorf("%w: already your pet", ErrPetOwned)
	}

	cost := pet.Value
	if acc.Coins < cost {
		s.store.Save(group, buyer, acc)
		return nil, fmt.Errorf("%w: pet costs %d, have %d", ErrInsufficientFunds, cost, acc.Coins)
	}

	acc.Coins -= cost
	acc.Pets = append(acc.Pets, target)
	acc.SetCooldown("purchase", now)

	oldMaster := pet.Master
	increase := 10 + int64(s.nextFloat()*21)
	pet.Value += increase
	pet.Master = buyer

	if oldMaster == "" {
		pet.Coins += cost / 2
	}
	s.store.Save(group, buyer, acc)
	s.store.Save(group, target, pet)

	if oldMaster != "" && oldMaster != buyer {
		// The previous master's lock is part of the acquired plan.
		prev, _ := s.store.Get(group, oldMaster)
		prev.Coins += cost
		prev.Pets = removeID(prev.Pets, target)
		s.store.Save(group, oldMaster, prev)
	}

	s.log.Info("pet purchased", "group", group, "buyer", buyer, "pet", target, "cost", cost, "previous_master", oldMaster)
	return &PetResult{Pet: target, Cost: cost, ValueIncrease: increase, Coins: acc.Coins}, nil
}

// ReleasePet frees a pet, refunding 30% of its value to the master.
func (s *Service) ReleasePet(group, master, target string) (*PetResult, error) {
	if err := s.checkJailed(group, master); err != nil {
		return nil, err
	}

	release := s.locks.AcquirePair(group, master, target)
	defer release()

	acc, _ := s.store.Get(group, master)
	if !containsID(acc.Pets, target) {
		return nil, fmt.Errorf("%w: %s", ErrNotYourPet, target)
	}
	now := time.Now()
	if remain := acc.CooldownRemaining("release", releaseCooldown, now); remain > 0 {
		return nil, fmt.Errorf("%w: %ds remaining", ErrCooldown, remain)
	}

	pet, _ := s.store.Get(group, target)
	refund := int64(float64(pet.Value) * releaseRefund)

	acc.Coins += refund
	acc.Pets = removeID(acc.Pets, target)
	acc.SetCooldown("release", now)
	pet.Master = ""

	s.store.Save(group, master, acc)
	s.store.Save(group, target, pet)
	return &PetResult{Pet: target, Refund: refund, Coins: acc.Coins}, nil
}

// Ransom lets a pet buy its own freedom. The price is the pet's value scaled
// by the ransom premium, paid to the master, and the freed pet gets a 24 hour
// protection window against repurchase.
func (s *Service) Ransom(group, entity string) (*PetResult, error) {
	if err := s.checkJailed(group, entity); err != nil {
		return nil, err
	}

	// Master is read before locking to pick the lock pair; re-checked after.
	acc, ok := s.store.Lookup(group, entity)
	if !ok || acc.Master == "" {
		return nil, fmt.Errorf("%w: you are already free", ErrInvalidTarget)
	}
	master := acc.Master

	release := s.locks.AcquirePair(group, entity, master)
	defer release()

	acc, _ = s.store.Get(group, entity)
	if acc.Master != master {
		return nil, fmt.Errorf("%w: ownership changed, try again", ErrInvalidTarget)
	}

	cost := int64(float64(acc.Value) * s.cfg.RansomPremium)
	if acc.Coins < cost {
		return nil, fmt.Errorf("%w: ransom costs %d, have %d", ErrInsufficientFunds, cost, acc.Coins)
	}

	owner, _ := s.store.Get(group, master)
	now := time.Now()

	acc.Coins -= cost
	acc.Master = ""
	acc.ProtectedUntil = now.Add(protectionWindow).Unix()
	owner.Coins += cost
	owner.Pets = removeID(owner.Pets, entity)

	s.store.Save(group, entity, acc)
	s.store.Save(group, master, owner)
	s.log.Info("ransom paid", "group", group, "entity", entity, "master", master, "cost", cost)
	return &PetResult{Master: master, Cost: cost, Coins: acc.Coins}, nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
