package ledger

import (
	"fmt"
	"time"
)

// trendBucket is one row of a discrete trend table: a cumulative upper bound
// on a uniform [0,100) draw, a label, and the return range sampled when the
// draw lands in the bucket.
type trendBucket struct {
	upper float64
	name  string
	lo    float64
	hi    float64
}

// primaryTrends drives settlements of pure primary investments.
var primaryTrends = []trendBucket{
	{40, "flat", -0.02, 0.02},
	{65, "small rise", 0.03, 0.05},
	{85, "small dip", -0.04, -0.03},
	{93, "strong rise", 0.06, 0.09},
	{98, "strong dip", -0.091, -0.05},
	{99.5, "extreme rise", 0.10, 0.15},
	{100, "extreme dip", -0.18, -0.10},
}

// addonTrends drives settlements once add-on funds are present; calmer tail.
var addonTrends = []trendBucket{
	{50, "flat", -0.01, 0.01},
	{75, "small rise", 0.02, 0.04},
	{90, "small dip", -0.039, -0.02},
	{97, "strong rise", 0.05, 0.09},
	{99.5, "strong dip", -0.05, -0.04},
	{99.9, "extreme rise", 0.10, 0.12},
	{100, "extreme dip", -0.081, -0.051},
}

// drawTrend scans the table against one uniform draw and samples the return
// range of the matching bucket.
func (s *Service) drawTrend(table []trendBucket) (string, float64) {
	roll := s.nextFloat() * 100
	for _, b := range table {
		if roll < b.upper {
			return b.name, b.lo + s.nextFloat()*(b.hi-b.lo)
		}
	}
	last := table[len(table)-1]
	return last.name, last.lo + s.nextFloat()*(last.hi-last.lo)
}

// investmentTrigger reports "take-profit" at >= +10% on total input and
// "stop-loss" at <= -5%. The position stays open either way; closing is a
// separate user action.
func investmentTrigger(inv *Investment) string {
	total := inv.Amount + inv.AddonAmount
	if total <= 0 {
		return ""
	}
	rate := float64(inv.CurrentValue-total) / float64(total)
	switch {
	case rate >= 0.10:
		return "take-profit"
	case rate <= -0.05:
		return "stop-loss"
	}
	return ""
}

// SettleInvestments applies one hourly trend draw to each active investment
// whose settlement time has arrived, and returns human-readable update lines.
// Caller holds the entity lock.
func (s *Service) SettleInvestments(acc *Account) []string {
	var updates []string
	now := time.Now().Unix()
	for _, inv := range acc.Investments {
		if inv.Status != "active" || now < inv.NextSettleAt {
			continue
		}
		table := primaryTrends
		if inv.AddonAmount > 0 {
			table = addonTrends
		}
		trend, change := s.drawTrend(table)
		inv.CurrentValue = int64(float64(inv.CurrentValue) * (1 + change))
		inv.TrendHistory = append(inv.TrendHistory, TrendPoint{Trend: trend, Change: change})
		inv.NextSettleAt = now + 3600

		if trigger := investmentTrigger(inv); trigger != "" {
			pnl := inv.CurrentValue - inv.Amount - inv.AddonAmount
			updates = append(updates, fmt.Sprintf("investment hit the %s trigger: %+d coins, consider closing", trigger, pnl))
		} else {
			updates = append(updates, fmt.Sprintf("investment update: %s %+.2f%%, now worth %d coins", trend, change*100, inv.CurrentValue))
		}
	}
	return updates
}

// InvestmentStatus is returned by legacy investment mutations.
type InvestmentStatus struct {
	Amount       int64  `json:"amount"`
	AddonAmount  int64  `json:"addon_amount"`
	CurrentValue int64  `json:"current_value"`
	Payout       int64  `json:"payout,omitempty"`
	Profit       int64  `json:"profit,omitempty"`
	Coins        int64  `json:"coins"`
	Trigger      string `json:"trigger,omitempty"`
}

// OpenInvestment starts the single legacy investment from cash.
func (s *Service) OpenInvestment(group, entity string, amount int64) (*InvestmentStatus, error) {
	if amount < s.cfg.InvestMinAmount {
		return nil, fmt.Errorf("%w: minimum investment is %d", ErrInvalidAmount, s.cfg.InvestMinAmount)
	}
	if err := s.checkJailed(group, entity); err != nil {
		return nil, err
	}
	release := s.lockForUpdate(group, entity)
	defer release()

	acc, _ := s.store.Get(group, entity)
	if s.refresh(group, entity, acc) {
		return nil, fmt.Errorf("account liquidated, investment rejected")
	}
	if acc.ActiveInvestment() != nil {
		s.store.Save(group, entity, acc)
		return nil, ErrInvestmentActive
	}
	if acc.Coins < amount {
		s.store.Save(group, entity, acc)
		return nil, fmt.Errorf("%w: have %d", ErrInsufficientFunds, acc.Coins)
	}

	now := time.Now().Unix()
	acc.Coins -= amount
	acc.Investments = append(acc.Investments, &Investment{
		Amount:       amount,
		CurrentValue: amount,
		StartedAt:    now,
		NextSettleAt: now + 3600,
		Status:       "active",
	})
	s.store.Save(group, entity, acc)
	return &InvestmentStatus{Amount: amount, CurrentValue: amount, Coins: acc.Coins}, nil
}

// AddOnInvestment adds funds to the active investment, switching its future
// settlements to the add-on trend table.
func (s *Service) AddOnInvestment(group, entity string, amount int64) (*InvestmentStatus, error) {
	if amount < s.cfg.InvestMinAmount {
		return nil, fmt.Errorf("%w: minimum add-on is %d", ErrInvalidAmount, s.cfg.InvestMinAmount)
	}
	if err := s.checkJailed(group, entity); err != nil {
		return nil, err
	}
	release := s.lockForUpdate(group, entity)
	defer release()

	acc, _ := s.store.Get(group, entity)
	if s.refresh(group, entity, acc) {
		return nil, fmt.Errorf("account liquidated, add-on rejected")
	}
	inv := acc.ActiveInvestment()
	if inv == nil {
		s.store.Save(group, entity, acc)
		return nil, ErrNoInvestment
	}
	if acc.Coins < amount {
		s.store.Save(group, entity, acc)
		return nil, fmt.Errorf("%w: have %d", ErrInsufficientFunds, acc.Coins)
	}

	acc.Coins -= amount
	inv.AddonAmount += amount
	inv.CurrentValue += amount
	s.store.Save(group, entity, acc)
	return &InvestmentStatus{
		Amount:       inv.Amount,
		AddonAmount:  inv.AddonAmount,
		CurrentValue: inv.CurrentValue,
		Coins:        acc.Coins,
	}, nil
}

// CloseInvestment liquidates the active investment at its current value.
func (s *Service) CloseInvestment(group, entity string) (*InvestmentStatus, error) {
	if err := s.checkJailed(group, entity); err != nil {
		return nil, err
	}
	release := s.lockForUpdate(group, entity)
	defer release()

	acc, _ := s.store.Get(group, entity)
	s.SettleInvestments(acc)
	inv := acc.ActiveInvestment()
	if inv == nil {
		return nil, ErrNoInvestment
	}

	payout := inv.CurrentValue
	total := inv.Amount + inv.AddonAmount
	acc.Coins += payout
	inv.Status = "closed"
	trigger := investmentTrigger(inv)
	s.UpdateLoanInterest(acc)
	s.CheckAndLiquidate(group, entity, acc)
	s.store.Save(group, entity, acc)
	return &InvestmentStatus{
		Amount:       inv.Amount,
		AddonAmount:  inv.AddonAmount,
		CurrentValue: inv.CurrentValue,
		Payout:       payout,
		Profit:       payout - total,
		Coins:        acc.Coins,
		Trigger:      trigger,
	}, nil
}

// TradeResult is returned by market buy and sell operations.
type TradeResult struct {
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Shares       float64 `json:"shares"`
	Amount       int64   `json:"amount,omitempty"`
	Proceeds     int64   `json:"proceeds,omitempty"`
	Profit       float64 `json:"profit,omitempty"`
	Coins        int64   `json:"coins"`
	LegacyRefund int64   `json:"legacy_refund,omitempty"`
	Holding      Holding `json:"holding"`
}

// BuyInstrument converts cash into shares of a market instrument at its
// current price, accumulating the weighted-average cost basis. Pre-migration
// investment records found on the account are cashed out at current value
// first, so old and new valuation modes never mix.
func (s *Service) BuyInstrument(group, entity, codeOrName string, amount int64) (*TradeResult, error) {
	if amount < s.cfg.InvestMinAmount {
		return nil, fmt.Errorf("%w: minimum buy is %d", ErrInvalidAmount, s.cfg.InvestMinAmount)
	}
	code, inst, ok := s.market.Get(codeOrName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown instrument %q", ErrInvalidTarget, codeOrName)
	}
	if err := s.checkJailed(group, entity); err != nil {
		return nil, err
	}
	release := s.lockForUpdate(group, entity)
	defer release()

	acc, _ := s.store.Get(group, entity)
	if s.refresh(group, entity, acc) {
		return nil, fmt.Errorf("account liquidated, buy rejected")
	}

	var refund int64
	if len(acc.Investments) > 0 {
		for _, inv := range acc.Investments {
			if inv.Status == "active" {
				refund += inv.CurrentValue
			}
		}
		acc.Investments = nil
		acc.Coins += refund
		if refund > 0 {
			s.log.Info("legacy investments cashed out", "group", group, "entity", entity, "refund", refund)
		}
	}

	if acc.Coins < amount {
		s.store.Save(group, entity, acc)
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, amount, acc.Coins)
	}

	price := inst.CurrentPrice
	shares := float64(amount) / price

	h := acc.Holdings[code]
	if h == nil {
		h = &Holding{}
		acc.Holdings[code] = h
	}
	h.Shares += shares
	h.TotalCost += float64(amount)
	acc.Coins -= amount
	s.store.Save(group, entity, acc)

	return &TradeResult{
		Code:         code,
		Name:         inst.Name,
		Price:        price,
		Shares:       shares,
		Amount:       amount,
		Coins:        acc.Coins,
		LegacyRefund: refund,
		Holding:      *h,
	}, nil
}

// SellInstrument redeems holdings at the current price. value <= 0 sells the
// whole position. Cost basis is reduced proportionally to the share fraction
// sold; realized profit is proceeds minus the cost reduction.
func (s *Service) SellInstrument(group, entity, codeOrName string, value int64) (*TradeResult, error) {
	code, inst, ok := s.market.Get(codeOrName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown instrument %q", ErrInvalidTarget, codeOrName)
	}
	if err := s.checkJailed(group, entity); err != nil {
		return nil, err
	}
	release := s.lockForUpdate(group, entity)
	defer release()

	acc, _ := s.store.Get(group, entity)
	if s.refresh(group, entity, acc) {
		return nil, fmt.Errorf("account liquidated, sell rejected")
	}

	h := acc.Holdings[code]
	if h == nil || h.Shares <= 0 {
		s.store.Save(group, entity, acc)
		return nil, fmt.Errorf("%w: %s", ErrNoHolding, code)
	}

	price := inst.CurrentPrice
	maxValue := h.Shares * price

	var sellShares, sellValue float64
	if value <= 0 {
		sellShares = h.Shares
		sellValue = maxValue
	} else {
		sellValue = float64(value)
		if sellValue > maxValue {
			s.store.Save(group, entity, acc)
			return nil, fmt.Errorf("%w: position worth %.2f, requested %d", ErrInsufficientFunds, maxValue, value)
		}
		sellShares = sellValue / price
	}

	costReduction := h.AvgPrice() * sellShares
	proceeds := int64(sellValue)

	h.Shares -= sellShares
	h.TotalCost -= costReduction
	if h.Shares < 0.0001 {
		delete(acc.Holdings, code)
		h = &Holding{}
	}
	acc.Coins += proceeds
	s.store.Save(group, entity, acc)

	return &TradeResult{
		Code:     code,
		Name:     inst.Name,
		Price:    price,
		Shares:   sellShares,
		Proceeds: proceeds,
		Profit:   float64(proceeds) - costReduction,
		Coins:    acc.Coins,
		Holding:  *h,
	}, nil
}

// PortfolioLine is one holding valued at the current market price.
type PortfolioLine struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Shares      float64 `json:"shares"`
	AvgPrice    float64 `json:"avg_price"`
	Price       float64 `json:"price"`
	MarketValue float64 `json:"market_value"`
	Profit      float64 `json:"profit"`
}

// Portfolio values every holding at current prices.
func (s *Service) Portfolio(group, entity string) ([]PortfolioLine, error) {
	release := s.locks.Acquire(group, entity)
	defer release()

	acc, _ := s.store.Get(group, entity)
	lines := make([]PortfolioLine, 0, len(acc.Holdings))
	for _, inst := range s.market.List() {
		h := acc.Holdings[inst.Code]
		if h == nil || h.Shares <= 0 {
			continue
		}
		mv := h.Shares * inst.CurrentPrice
		lines = append(lines, PortfolioLine{
			Code:        inst.Code,
			Name:        inst.Name,
			Shares:      h.Shares,
			AvgPrice:    h.AvgPrice(),
			Price:       inst.CurrentPrice,
			MarketValue: mv,
			Profit:      mv - h.TotalCost,
		})
	}
	return lines, nil
}
