package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"

	"petmarket/internal/notify"
)

// LoanStatus is returned by loan mutations.
type LoanStatus struct {
	Granted       int64 `json:"granted,omitempty"`
	Repaid        int64 `json:"repaid,omitempty"`
	LoanAmount    int64 `json:"loan_amount"`
	LoanPrincipal int64 `json:"loan_principal"`
	Frozen        bool  `json:"frozen"`
	Coins         int64 `json:"coins"`
}

// UpdateLoanInterest accrues compound interest on the outstanding loan for
// every whole elapsed hour, capped at principal*(1+max multiplier). The
// watermark always advances, even when the cap keeps the amount flat, so the
// same hour is never counted twice. Returns the interest added. Caller holds
// the entity lock.
func (s *Service) UpdateLoanInterest(acc *Account) int64 {
	now := time.Now()
	if acc.LoanAmount <= 0 || acc.LoanInterestFrozen {
		acc.LastLoanInterestAt = now.Unix()
		if acc.LoanAmount <= 0 {
			acc.LoanPrincipal = 0
			acc.LoanInterestFrozen = false
		}
		return 0
	}

	hours := int((now.Unix() - acc.LastLoanInterestAt) / 3600)
	if hours < 1 {
		return 0
	}

	theoretical := float64(acc.LoanAmount) * math.Pow(1+s.cfg.LoanInterestRate, float64(hours))
	if !isFinite(theoretical) {
		theoretical = float64(acc.LoanAmount)
	}
	newLoan := int64(theoretical)

	// A non-positive multiplier disables the cap (and liquidation): interest
	// grows unbounded.
	if s.cfg.LoanMaxMultiplier > 0 && acc.LoanPrincipal > 0 {
		capAmount := int64(float64(acc.LoanPrincipal) * (1 + s.cfg.LoanMaxMultiplier))
		if newLoan > capAmount {
			newLoan = capAmount
		}
	}

	added := newLoan - acc.LoanAmount
	if added > 0 {
		acc.LoanAmount = newLoan
	} else {
		added = 0
	}
	acc.LastLoanInterestAt = now.Unix()
	return added
}

// TakeLoan draws a new loan, bounded by the bank-level credit limit.
func (s *Service) TakeLoan(group, entity string, amount int64) (*LoanStatus, error) {
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
		return nil, fmt.Errorf("account liquidated, loan rejected")
	}

	limit := LoanLimit(s.cfg.LoanLimitPerLevel, acc.BankLevel)
	if acc.LoanAmount+amount > limit {
		s.store.Save(group, entity, acc)
		canBorrow := limit - acc.LoanAmount
		if canBorrow < 0 {
			canBorrow = 0
		}
		return nil, fmt.Errorf("%w: limit %d, available %d", ErrCreditLimit, limit, canBorrow)
	}

	acc.LoanAmount += amount
	acc.LoanPrincipal += amount
	acc.Coins += amount
	s.store.Save(group, entity, acc)

	return &LoanStatus{
		Granted:       amount,
		LoanAmount:    acc.LoanAmount,
		LoanPrincipal: acc.LoanPrincipal,
		Coins:         acc.Coins,
	}, nil
}

// Repay pays down the loan from cash. amount <= 0 repays everything owed.
// Interest is repaid before principal: principal only shrinks once the
// outstanding amount drops below it.
func (s *Service) Repay(group, entity string, amount int64) (*LoanStatus, error) {
	if err := s.checkJailed(group, entity); err != nil {
		return nil, err
	}
	release := s.lockForUpdate(group, entity)
	defer release()

	acc, _ := s.store.Get(group, entity)
	if s.refresh(group, entity, acc) {
		return nil, fmt.Errorf("account liquidated before repayment")
	}

	if acc.LoanAmount <= 0 {
		acc.LoanPrincipal = 0
		acc.LoanInterestFrozen = false
		s.store.Save(group, entity, acc)
		return &LoanStatus{Coins: acc.Coins}, nil
	}

	target := amount
	if target <= 0 {
		target = acc.LoanAmount
	}
	repay := target
	if repay > acc.LoanAmount {
		repay = acc.LoanAmount
	}
	if acc.Coins < repay {
		s.store.Save(group, entity, acc)
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, repay, acc.Coins)
	}

	acc.Coins -= repay
	acc.LoanAmount -= repay
	if acc.LoanAmount < acc.LoanPrincipal {
		acc.LoanPrincipal = acc.LoanAmount
	}
	if acc.LoanAmount <= 0 {
		acc.LoanAmount = 0
		acc.LoanPrincipal = 0
		acc.LoanInterestFrozen = false
		// Debt cleared: prior transfers are no longer suspect.
		acc.LoanTransfers = nil
	}
	s.store.Save(group, entity, acc)

	return &LoanStatus{
		Repaid:        repay,
		LoanAmount:    acc.LoanAmount,
		LoanPrincipal: acc.LoanPrincipal,
		Frozen:        acc.LoanInterestFrozen,
		Coins:         acc.Coins,
	}, nil
}

// CheckAndLiquidate runs the forced-liquidation cascade when debt has hit
// the threshold: seize cash above the safety floor, then bank balance, then
// sell pets one at a time at 80% value, stopping once debt is covered. If
// debt survives all three steps, interest freezes and clawback tasks are
// enqueued for every transfer made while indebted. Either way the account is
// topped back up to the welfare floor. Returns true when liquidation ran.
// Caller holds the lockForUpdate plan, which covers the entity and, while it
// is in debt, every pet the forced sale may touch.
func (s *Service) CheckAndLiquidate(group, entity string, acc *Account) bool {
	if s.cfg.LoanMaxMultiplier <= 0 || acc.LoanAmount <= 0 || acc.LoanInterestFrozen {
		return false
	}
	threshold := int64(float64(acc.LoanPrincipal) * (1 + s.cfg.LoanMaxMultiplier))
	if acc.LoanAmount < threshold {
		return false
	}

	debt := acc.LoanAmount
	var lines []string
	lines = append(lines, fmt.Sprintf("FORCED LIQUIDATION: debt %d reached %.1fx of principal %d.", debt, 1+s.cfg.LoanMaxMultiplier, acc.LoanPrincipal))

	var seized int64

	// Step 1: cash above the safety floor.
	if acc.Coins > s.cfg.LiquidationFloor {
		take := acc.Coins - s.cfg.LiquidationFloor
		if take > debt {
			take = debt
		}
		if take > 0 {
			acc.Coins -= take
			seized += take
			lines = append(lines, fmt.Sprintf("seized %d coins above the protected floor", take))
		}
	}

	// Step 2: bank balance.
	if remaining := debt - seized; remaining > 0 && acc.Bank > 0 {
		take := acc.Bank
		if take > remaining {
			take = remaining
		}
		acc.Bank -= take
		seized += take
		lines = append(lines, fmt.Sprintf("seized %d from bank savings", take))
	}

	// Step 3: forced pet sale at 80% of value, one at a time.
	if remaining := debt - seized; remaining > 0 && len(acc.Pets) > 0 {
		var proceeds int64
		var sold int
		kept := acc.Pets[:0]
		for i, petID := range acc.Pets {
			if proceeds >= remaining {
				kept = append(kept, acc.Pets[i:]...)
				break
			}
			pet, _ := s.store.Get(group, petID)
			proceeds += int64(float64(pet.Value) * 0.8)
			pet.Master = ""
			s.store.Save(group, petID, pet)
			sold++
		}
		acc.Pets = append([]string(nil), kept...)
		seized += proceeds
		if sold > 0 {
			lines = append(lines, fmt.Sprintf("force-sold %d pet(s) for %d coins", sold, proceeds))
		}
	}

	acc.LoanAmount = debt - seized
	if acc.LoanAmount < 0 {
		acc.LoanAmount = 0
	}

	if acc.LoanAmount > 0 {
		// Still underwater: chase funds moved away while indebted.
		if n := s.enqueueClawbacks(group, entity, acc); n > 0 {
			lines = append(lines, fmt.Sprintf("flagged %d transfer(s) made while indebted for recovery", n))
		}
		acc.LoanInterestFrozen = true
		lines = append(lines, fmt.Sprintf("debt of %d remains; interest frozen", acc.LoanAmount))
	} else {
		acc.LoanPrincipal = 0
		acc.LoanInterestFrozen = false
		if overshoot := seized - debt; overshoot > 0 {
			acc.Coins += overshoot
			lines = append(lines, fmt.Sprintf("debt cleared; %d surplus returned to cash", overshoot))
		} else {
			lines = append(lines, "debt cleared")
		}
	}

	// Welfare: never leave the entity unable to play.
	if acc.Coins < s.cfg.WelfareFloor {
		grant := s.cfg.WelfareFloor - acc.Coins
		acc.Coins = s.cfg.WelfareFloor
		lines = append(lines, fmt.Sprintf("welfare grant of %d coins issued", grant))
	}

	msg := strings.Join(lines, " ")
	acc.LastNote = msg
	s.store.Save(group, entity, acc)
	s.notifier.Publish(notify.Notice{Group: group, Entity: entity, Kind: "liquidation", Message: msg})
	s.log.Warn("liquidation executed", "group", group, "entity", entity, "seized", seized, "remaining", acc.LoanAmount)
	return true
}
