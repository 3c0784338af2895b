package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const transferHistoryCap = 20

// TransferResult reports a completed transfer.
type TransferResult struct {
	ID           string `json:"id"`
	From         string `json:"from"`
	To           string `json:"to"`
	Amount       int64  `json:"amount"`
	Fee          int64  `json:"fee"`
	SenderCoins  int64  `json:"sender_coins"`
	TargetCoins  int64  `json:"target_coins"`
	DebtRecorded bool   `json:"debt_recorded"`
}

// Transfer moves coins between two entities in the same group. The sender
// pays amount plus a percentage fee and enters the transfer cooldown. Both
// accounts keep a capped, newest-first history. Transfers made while the
// sender is indebted are additionally recorded for the liquidation engine's
// clawback pass.
func (s *Service) Transfer(group, from, to string, amount int64) (*TransferResult, error) {
	if from == to || to == "" {
		return nil, fmt.Errorf("%w: cannot transfer to %q", ErrInvalidTarget, to)
	}
	if amount < s.cfg.TransferMinAmount {
		return nil, fmt.Errorf("%w: minimum transfer is %d", ErrInvalidAmount, s.cfg.TransferMinAmount)
	}
	if err := s.checkJailed(group, from); err != nil {
		return nil, err
	}
	if err := s.checkJailed(group, to); err != nil {
		return nil, fmt.Errorf("target unavailable: %w", err)
	}

	release := s.lockForUpdate(group, from, to)
	defer release()

	sender, _ := s.store.Get(group, from)
	if s.refresh(group, from, sender) {
		return nil, fmt.Errorf("account liquidated, transfer aborted")
	}

	now := time.Now()
	if remain := sender.CooldownRemaining("transfer", s.cfg.TransferCooldown, now); remain > 0 {
		s.store.Save(group, from, sender)
		return nil, fmt.Errorf("%w: %ds remaining", ErrCooldown, remain)
	}

	fee := int64(float64(amount) * s.cfg.TransferFeeRate)
	total := amount + fee
	if sender.Coins < total {
		s.store.Save(group, from, sender)
		return nil, fmt.Errorf("%w: need %d (amount %d + fee %d), have %d", ErrInsufficientFunds, total, amount, fee, sender.Coins)
	}

	// The target copy is taken after refresh: a liquidation above may have
	// touched the target's record if it happened to be one of the sender's
	// pets.
	target, _ := s.store.Get(group, to)

	sender.Coins -= total
	target.Coins += amount
	sender.SetCooldown("transfer", now)

	ts := now.Unix()
	id := uuid.NewString()
	sender.TransferHistory = prependHistory(sender.TransferHistory, TransferRecord{
		ID: id, Type: "send", Peer: to, Amount: amount, Fee: fee, Timestamp: ts,
	})
	target.TransferHistory = prependHistory(target.TransferHistory, TransferRecord{
		ID: id, Type: "receive", Peer: from, Amount: amount, Timestamp: ts,
	})

	debtRecorded := false
	if sender.LoanAmount > 0 {
		sender.LoanTransfers = append(sender.LoanTransfers, LoanTransfer{
			Target: to, Amount: amount, Timestamp: ts,
		})
		debtRecorded = true
	}

	s.store.Save(group, from, sender)
	s.store.Save(group, to, target)
	s.log.Info("transfer", "group", group, "from", from, "to", to, "amount", amount, "fee", fee, "debt_recorded", debtRecorded)

	return &TransferResult{
		ID:           id,
		From:         from,
		To:           to,
		Amount:       amount,
		Fee:          fee,
		SenderCoins:  sender.Coins,
		TargetCoins:  target.Coins,
		DebtRecorded: debtRecorded,
	}, nil
}

func prependHistory(history []TransferRecord, rec TransferRecord) []TransferRecord {
	history = append([]TransferRecord{rec}, history...)
	if len(history) > transferHistoryCap {
		history = history[:transferHistoryCap]
	}
	return history
}

// TransferHistory returns the newest-first record list.
func (s *Service) TransferHistory(group, entity string) []TransferRecord {
	release := s.locks.Acquire(group, entity)
	defer release()

	acc, _ := s.store.Get(group, entity)
	return append([]TransferRecord(nil), acc.TransferHistory...)
}
