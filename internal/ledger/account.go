package ledger

import (
	"errors"
	"math"
	"time"
)

var (
	ErrInsufficientFunds = errors.New("insufficient coins")
	ErrInsufficientBank  = errors.New("insufficient bank balance")
	ErrCreditLimit       = errors.New("credit limit exceeded")
	ErrBankFull          = errors.New("bank storage limit reached")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidTarget     = errors.New("invalid target entity")
	ErrJailed            = errors.New("entity is jailed")
	ErrCooldown          = errors.New("action is cooling down")
	ErrNoHolding         = errors.New("no holding for instrument")
	ErrNoInvestment      = errors.New("no active investment")
	ErrInvestmentActive  = errors.New("an investment is already active")
	ErrPetOwned          = errors.New("target already has a master")
	ErrNotYourPet        = errors.New("target is not your pet")
)

// Account is the per-(group, entity) ledger record. Timestamps are unix
// seconds in both the file and the API.
type Account struct {
	Coins    int64  `yaml:"coins" json:"coins"`
	Value    int64  `yaml:"value" json:"value"`
	Nickname string `yaml:"nickname,omitempty" json:"nickname,omitempty"`

	Pets   []string `yaml:"pets,omitempty" json:"pets,omitempty"`
	Master string   `yaml:"master,omitempty" json:"master,omitempty"`

	Bank           int64 `yaml:"bank" json:"bank"`
	BankLevel      int   `yaml:"bank_level" json:"bank_level"`
	LastInterestAt int64 `yaml:"last_interest_time" json:"last_interest_time"`

	LoanAmount         int64 `yaml:"loan_amount" json:"loan_amount"`
	LoanPrincipal      int64 `yaml:"loan_principal" json:"loan_principal"`
	LoanInterestFrozen bool  `yaml:"loan_interest_frozen" json:"loan_interest_frozen"`
	LastLoanInterestAt int64 `yaml:"last_loan_interest_time" json:"last_loan_interest_time"`

	Holdings    map[string]*Holding `yaml:"holdings,omitempty" json:"holdings,omitempty"`
	Investments []*Investment       `yaml:"investments,omitempty" json:"investments,omitempty"`

	Cooldowns       map[string]int64 `yaml:"cooldowns,omitempty" json:"cooldowns,omitempty"`
	TransferHistory []TransferRecord `yaml:"transfer_history,omitempty" json:"transfer_history,omitempty"`
	// LoanTransfers records outbound transfers made while indebted. The
	// liquidation engine turns them into clawback tasks and clears the list.
	LoanTransfers []LoanTransfer `yaml:"loan_transfers,omitempty" json:"loan_transfers,omitempty"`

	ProtectedUntil int64 `yaml:"protection_until,omitempty" json:"protection_until,omitempty"`
	JailedUntil    int64 `yaml:"jailed_until,omitempty" json:"jailed_until,omitempty"`
	LastActive     int64 `yaml:"last_active" json:"last_active"`

	// LastNote is the latest human-readable banking notice (liquidation,
	// clawback) attached to the account.
	LastNote string `yaml:"last_note,omitempty" json:"last_note,omitempty"`
}

// Holding is a weighted-average-cost position in one market instrument.
type Holding struct {
	Shares    float64 `yaml:"shares" json:"shares"`
	TotalCost float64 `yaml:"total_cost" json:"total_cost"`
}

func (h *Holding) AvgPrice() float64 {
	if h.Shares <= 0 {
		return 0
	}
	return h.TotalCost / h.Shares
}

// Investment is the legacy discrete-trend position. At most one may be
// active per account.
type Investment struct {
	Amount       int64        `yaml:"amount" json:"amount"`
	AddonAmount  int64        `yaml:"addon_amount" json:"addon_amount"`
	CurrentValue int64        `yaml:"current_value" json:"current_value"`
	StartedAt    int64        `yaml:"start_time" json:"start_time"`
	NextSettleAt int64        `yaml:"next_settlement_time" json:"next_settlement_time"`
	Status       string       `yaml:"status" json:"status"` // "active" | "closed"
	TrendHistory []TrendPoint `yaml:"trend_history,omitempty" json:"trend_history,omitempty"`
}

type TrendPoint struct {
	Trend  string  `yaml:"trend" json:"trend"`
	Change float64 `yaml:"change" json:"change"`
}

type TransferRecord struct {
	ID        string `yaml:"id" json:"id"`
	Type      string `yaml:"type" json:"type"` // "send" | "receive"
	Peer      string `yaml:"peer" json:"peer"`
	Amount    int64  `yaml:"amount" json:"amount"`
	Fee       int64  `yaml:"fee" json:"fee"`
	Timestamp int64  `yaml:"timestamp" json:"timestamp"`
}

type LoanTransfer struct {
	Target    string `yaml:"target" json:"target"`
	Amount    int64  `yaml:"amount" json:"amount"`
	Timestamp int64  `yaml:"time" json:"time"`
}

// NewAccount builds an account with the documented starting state.
func NewAccount(initialCoins int64, now time.Time) *Account {
	ts := now.Unix()
	return &Account{
		Coins:              initialCoins,
		Value:              100,
		BankLevel:          1,
		LastInterestAt:     ts,
		LastLoanInterestAt: ts,
		Holdings:           map[string]*Holding{},
		Cooldowns:          map[string]int64{},
		LastActive:         ts,
	}
}

// Normalize backfills fields that older on-disk records may lack and
// re-establishes the debt invariant. It runs once per record at load time.
func (a *Account) Normalize(now time.Time) {
	ts := now.Unix()
	if a.BankLevel < 1 {
		a.BankLevel = 1
	}
	if a.Value <= 0 {
		a.Value = 100
	}
	if a.LastInterestAt == 0 {
		a.LastInterestAt = ts
	}
	if a.LastLoanInterestAt == 0 {
		a.LastLoanInterestAt = ts
	}
	if a.Holdings == nil {
		a.Holdings = map[string]*Holding{}
	}
	if a.Cooldowns == nil {
		a.Cooldowns = map[string]int64{}
	}
	if a.LoanAmount <= 0 {
		a.LoanAmount = 0
		a.LoanPrincipal = 0
		a.LoanInterestFrozen = false
	}
	if a.LoanPrincipal > a.LoanAmount {
		a.LoanPrincipal = a.LoanAmount
	}
}

// Clone deep-copies the account; snapshots hand clones to the I/O path so
// concurrent mutations never leak into an in-flight write.
func (a *Account) Clone() *Account {
	c := *a
	c.Pets = append([]string(nil), a.Pets...)
	c.TransferHistory = append([]TransferRecord(nil), a.TransferHistory...)
	c.LoanTransfers = append([]LoanTransfer(nil), a.LoanTransfers...)
	c.Holdings = make(map[string]*Holding, len(a.Holdings))
	for code, h := range a.Holdings {
		hc := *h
		c.Holdings[code] = &hc
	}
	c.Cooldowns = make(map[string]int64, len(a.Cooldowns))
	for k, v := range a.Cooldowns {
		c.Cooldowns[k] = v
	}
	c.Investments = make([]*Investment, 0, len(a.Investments))
	for _, inv := range a.Investments {
		ic := *inv
		ic.TrendHistory = append([]TrendPoint(nil), inv.TrendHistory...)
		c.Investments = append(c.Investments, &ic)
	}
	return &c
}

// ActiveInvestment returns the single active legacy investment, or nil.
func (a *Account) ActiveInvestment() *Investment {
	for _, inv := range a.Investments {
		if inv.Status == "active" {
			return inv
		}
	}
	return nil
}

func (a *Account) Jailed(now time.Time) (bool, int64) {
	remain := a.JailedUntil - now.Unix()
	if remain > 0 {
		return true, remain
	}
	return false, 0
}

// CooldownRemaining reports how long the given action kind stays blocked.
func (a *Account) CooldownRemaining(kind string, window time.Duration, now time.Time) int64 {
	last := a.Cooldowns[kind]
	remain := last + int64(window.Seconds()) - now.Unix()
	if remain > 0 {
		return remain
	}
	return 0
}

func (a *Account) SetCooldown(kind string, now time.Time) {
	if a.Cooldowns == nil {
		a.Cooldowns = map[string]int64{}
	}
	a.Cooldowns[kind] = now.Unix()
}

// BankLimit is the bank storage cap for a level: initial * 1.2^(level-1).
func BankLimit(initial int64, level int) int64 {
	if level < 1 {
		level = 1
	}
	return int64(float64(initial) * math.Pow(1.2, float64(level-1)))
}

// BankUpgradeCost is 100 * 1.5^(level-1) for upgrading from the given level.
func BankUpgradeCost(level int) int64 {
	if level < 1 {
		level = 1
	}
	return int64(100 * math.Pow(1.5, float64(level-1)))
}

// LoanLimit is the total borrowing cap for a bank level.
func LoanLimit(perLevel int64, level int) int64 {
	if level < 1 {
		level = 1
	}
	return int64(level) * perLevel
}

// CompoundInterest returns the interest earned on principal at rate per hour
// over the given whole hours.
func CompoundInterest(principal int64, rate float64, hours int) int64 {
	if principal <= 0 || hours <= 0 || rate <= 0 {
		return 0
	}
	final := float64(principal) * math.Pow(1+rate, float64(hours))
	if !isFinite(final) {
		return 0
	}
	return int64(final) - principal
}

func isFinite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}
