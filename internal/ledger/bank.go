package ledger

import (
	"fmt"
	"time"
)

// BankStatus reports the savings side of an account after a bank operation.
type BankStatus struct {
	Coins     int64 `json:"coins"`
	Bank      int64 `json:"bank"`
	BankLevel int   `json:"bank_level"`
	BankLimit int64 `json:"bank_limit"`
	Interest  int64 `json:"interest,omitempty"`
	Cost      int64 `json:"cost,omitempty"`
}

// SettleBankInterest credits hourly compound interest on savings to cash,
// capped at the configured number of hours, and advances the watermark.
// Caller holds the entity lock.
func (s *Service) SettleBankInterest(acc *Account) int64 {
	now := time.Now()
	if acc.Bank <= 0 {
		acc.LastInterestAt = now.Unix()
		return 0
	}
	hours := int((now.Unix() - acc.LastInterestAt) / 3600)
	if hours > s.cfg.BankMaxInterestHrs {
		hours = s.cfg.BankMaxInterestHrs
	}
	if hours < 1 {
		acc.LastInterestAt = now.Unix()
		return 0
	}
	interest := CompoundInterest(acc.Bank, s.cfg.BankInterestRate, hours)
	if interest > 0 {
		acc.Coins += interest
	}
	acc.LastInterestAt = now.Unix()
	return interest
}

// Deposit moves coins into the bank, bounded by the level's storage cap.
func (s *Service) Deposit(group, entity string, amount int64) (*BankStatus, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.checkJailed(group, entity); err != nil {
		return nil, err
	}
	release := s.lockForUpdate(group, entity)
	defer release()

	acc, _ := s.store.Get(group, entity)
	if s.refresh(group, entity, acc) {
		return nil, fmt.Errorf("account liquidated, deposit aborted")
	}
	if acc.Coins < amount {
		s.store.Save(group, entity, acc)
		return nil, fmt.Errorf("%w: have %d", ErrInsufficientFunds, acc.Coins)
	}
	limit := BankLimit(s.cfg.BankInitialLimit, acc.BankLevel)
	if acc.Bank+amount > limit {
		s.store.Save(group, entity, acc)
		return nil, fmt.Errorf("%w: limit %d, stored %d", ErrBankFull, limit, acc.Bank)
	}

	acc.Coins -= amount
	acc.Bank += amount
	s.store.Save(group, entity, acc)
	return s.bankStatus(acc), nil
}

// Withdraw moves coins out of the bank.
func (s *Service) Withdraw(group, entity string, amount int64) (*BankStatus, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.checkJailed(group, entity); err != nil {
		return nil, err
	}
	release := s.lockForUpdate(group, entity)
	defer release()

	acc, _ := s.store.Get(group, entity)
	if s.refresh(group, entity, acc) {
		return nil, fmt.Errorf("account liquidated, withdrawal aborted")
	}
	if acc.Bank < amount {
		s.store.Save(group, entity, acc)
		return nil, fmt.Errorf("%w: stored %d", ErrInsufficientBank, acc.Bank)
	}

	acc.Bank -= amount
	acc.Coins += amount
	s.store.Save(group, entity, acc)
	return s.bankStatus(acc), nil
}

// CollectInterest settles pending bank interest into cash.
func (s *Service) CollectInterest(group, entity string) (*BankStatus, error) {
	if err := s.checkJailed(group, entity); err != nil {
		return nil, err
	}
	release := s.lockForUpdate(group, entity)
	defer release()

	acc, _ := s.store.Get(group, entity)
	interest := s.SettleBankInterest(acc)
	s.refresh(group, entity, acc)
	s.store.Save(group, entity, acc)
	st := s.bankStatus(acc)
	st.Interest = interest
	return st, nil
}

// UpgradeBank raises the bank level, paying the level-scaled cost from cash.
// A higher level raises both the storage cap and the credit limit.
func (s *Service) UpgradeBank(group, entity string) (*BankStatus, error) {
	if err := s.checkJailed(group, entity); err != nil {
		return nil, err
	}
	release := s.lockForUpdate(group, entity)
	defer release()

	acc, _ := s.store.Get(group, entity)
	if s.refresh(group, entity, acc) {
		return nil, fmt.Errorf("account liquidated, upgrade aborted")
	}
	cost := BankUpgradeCost(acc.BankLevel)
	if acc.Coins < cost {
		s.store.Save(group, entity, acc)
		return nil, fmt.Errorf("%w: upgrade costs %d, have %d", ErrInsufficientFunds, cost, acc.Coins)
	}

	acc.Coins -= cost
	acc.BankLevel++
	s.store.Save(group, entity, acc)
	st := s.bankStatus(acc)
	st.Cost = cost
	return st, nil
}

func (s *Service) bankStatus(acc *Account) *BankStatus {
	return &BankStatus{
		Coins:     acc.Coins,
		Bank:      acc.Bank,
		BankLevel: acc.BankLevel,
		BankLimit: BankLimit(s.cfg.BankInitialLimit, acc.BankLevel),
	}
}
