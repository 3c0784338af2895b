package main

import (
	"encoding/json"
	"fmt"
	"time"

	"petmarket/internal/ledger"
	"petmarket/internal/market"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

var (
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)

	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).MarginTop(1)
	noteStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("11"))
)

func printSuccess(msg string) { success.Println(msg) }
func printWarn(msg string)    { warn.Println(msg) }
func printInfo(msg string)    { neutral.Println(msg) }

func section(title string) {
	fmt.Println(sectionStyle.Render(title))
}

func decodeInto[T any](raw map[string]any) (T, error) {
	var out T
	buf, err := json.Marshal(raw)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(buf, &out); err != nil {
		return out, err
	}
	return out, nil
}

type accountPayload struct {
	Account ledger.Account `json:"account"`
	Updates []string       `json:"updates"`
}

func renderAccount(raw map[string]any) error {
	p, err := decodeInto[accountPayload](raw)
	if err != nil {
		return err
	}
	a := p.Account

	section("Account")
	fmt.Printf("Coins:      %d\n", a.Coins)
	fmt.Printf("Bank:       %d (level %d)\n", a.Bank, a.BankLevel)
	fmt.Printf("Value:      %d\n", a.Value)
	if a.LoanAmount > 0 {
		frozen := ""
		if a.LoanInterestFrozen {
			frozen = " [interest frozen]"
		}
		danger.Printf("Loan:       %d (principal %d)%s\n", a.LoanAmount, a.LoanPrincipal, frozen)
	}
	if a.Master != "" {
		fmt.Printf("Master:     %s\n", a.Master)
	}
	if len(a.Pets) > 0 {
		fmt.Printf("Pets:       %v\n", a.Pets)
	}
	if inv := a.ActiveInvestment(); inv != nil {
		fmt.Printf("Investment: %d in, now %d\n", inv.Amount+inv.AddonAmount, inv.CurrentValue)
	}
	if a.LastNote != "" {
		fmt.Println(noteStyle.Render("Note: " + a.LastNote))
	}
	for _, u := range p.Updates {
		printInfo("• " + u)
	}
	return nil
}

func renderBank(raw map[string]any) error {
	st, err := decodeInto[ledger.BankStatus](raw)
	if err != nil {
		return err
	}
	section("Bank")
	fmt.Printf("Coins: %d\n", st.Coins)
	fmt.Printf("Bank:  %d / %d (level %d)\n", st.Bank, st.BankLimit, st.BankLevel)
	if st.Interest > 0 {
		printSuccess(fmt.Sprintf("Interest collected: %d", st.Interest))
	}
	if st.Cost > 0 {
		printInfo(fmt.Sprintf("Upgrade cost: %d", st.Cost))
	}
	return nil
}

func renderLoan(raw map[string]any) error {
	st, err := decodeInto[ledger.LoanStatus](raw)
	if err != nil {
		return err
	}
	section("Loan")
	if st.Granted > 0 {
		printSuccess(fmt.Sprintf("Granted: %d", st.Granted))
	}
	if st.Repaid > 0 {
		printSuccess(fmt.Sprintf("Repaid: %d", st.Repaid))
	}
	fmt.Printf("Outstanding: %d (principal %d)\n", st.LoanAmount, st.LoanPrincipal)
	if st.Frozen {
		printWarn("Interest frozen after liquidation.")
	}
	fmt.Printf("Coins: %d\n", st.Coins)
	return nil
}

func renderTransfer(raw map[string]any) error {
	t, err := decodeInto[ledger.TransferResult](raw)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Sent %d to %s (fee %d).", t.Amount, t.To, t.Fee))
	fmt.Printf("Your coins: %d\n", t.SenderCoins)
	if t.DebtRecorded {
		printWarn("You are indebted: this transfer was recorded and may be reclaimed on default.")
	}
	return nil
}

type transfersPayload struct {
	Transfers []ledger.TransferRecord `json:"transfers"`
}

func renderTransferHistory(raw map[string]any) error {
	p, err := decodeInto[transfersPayload](raw)
	if err != nil {
		return err
	}
	if len(p.Transfers) == 0 {
		printInfo("No transfers yet.")
		return nil
	}
	section("Transfers")
	fmt.Println(headerStyle.Render(fmt.Sprintf("%-19s %-8s %-16s %10s %8s", "WHEN", "TYPE", "PEER", "AMOUNT", "FEE")))
	for _, rec := range p.Transfers {
		when := time.Unix(rec.Timestamp, 0).Format("2006-01-02 15:04:05")
		fmt.Printf("%-19s %-8s %-16s %10d %8d\n", when, rec.Type, truncate(rec.Peer, 16), rec.Amount, rec.Fee)
	}
	return nil
}

type marketPayload struct {
	Instruments []market.Instrument `json:"instruments"`
	LastUpdate  int64               `json:"last_update"`
}

func renderMarket(raw map[string]any) error {
	p, err := decodeInto[marketPayload](raw)
	if err != nil {
		return err
	}
	section("Financial Market")
	fmt.Println(headerStyle.Render(fmt.Sprintf("%-6s %-26s %-6s %12s %9s", "CODE", "NAME", "TYPE", "PRICE", "24H")))
	for _, inst := range p.Instruments {
		line := fmt.Sprintf("%-6s %-26s %-6s %12.4f %8.2f%%", inst.Code, truncate(inst.Name, 26), inst.Type, inst.CurrentPrice, inst.Change24h*100)
		switch {
		case inst.Change24h > 0:
			success.Println(line)
		case inst.Change24h < 0:
			danger.Println(line)
		default:
			fmt.Println(line)
		}
	}
	if p.LastUpdate > 0 {
		printInfo("Updated " + time.Unix(p.LastUpdate, 0).Format(time.RFC1123))
	}
	return nil
}

func renderInstrument(raw map[string]any) error {
	inst, err := decodeInto[market.Instrument](raw)
	if err != nil {
		return err
	}
	fmt.Println(market.Describe(&inst))
	return nil
}

func renderTrade(raw map[string]any) error {
	t, err := decodeInto[ledger.TradeResult](raw)
	if err != nil {
		return err
	}
	if t.LegacyRefund > 0 {
		printWarn(fmt.Sprintf("Old managed investments were cashed out for %d coins.", t.LegacyRefund))
	}
	if t.Proceeds > 0 {
		printSuccess(fmt.Sprintf("Sold %s (%s) for %d at %.4f.", t.Name, t.Code, t.Proceeds, t.Price))
		fmt.Printf("Realized P/L: %+.2f\n", t.Profit)
	} else {
		printSuccess(fmt.Sprintf("Bought %.4f shares of %s (%s) at %.4f.", t.Shares, t.Name, t.Code, t.Price))
	}
	if t.Holding.Shares > 0 {
		fmt.Printf("Position: %.4f shares, avg %.4f\n", t.Holding.Shares, t.Holding.AvgPrice())
	}
	fmt.Printf("Coins: %d\n", t.Coins)
	return nil
}

type portfolioPayload struct {
	Holdings []ledger.PortfolioLine `json:"holdings"`
}

func renderPortfolio(raw map[string]any) error {
	p, err := decodeInto[portfolioPayload](raw)
	if err != nil {
		return err
	}
	if len(p.Holdings) == 0 {
		printInfo("No holdings. Use `pmctl market` and `pmctl buy`.")
		return nil
	}
	section("Portfolio")
	fmt.Println(headerStyle.Render(fmt.Sprintf("%-6s %-26s %12s %10s %10s %12s %10s", "CODE", "NAME", "SHARES", "AVG", "NOW", "VALUE", "P/L")))
	var totalValue, totalProfit float64
	for _, h := range p.Holdings {
		totalValue += h.MarketValue
		totalProfit += h.Profit
		fmt.Printf("%-6s %-26s %12.4f %10.4f %10.4f %12.2f %+10.2f\n",
			h.Code, truncate(h.Name, 26), h.Shares, h.AvgPrice, h.Price, h.MarketValue, h.Profit)
	}
	fmt.Printf("Total market value: %.2f  P/L: %+.2f\n", totalValue, totalProfit)
	return nil
}

func renderInvestment(raw map[string]any) error {
	st, err := decodeInto[ledger.InvestmentStatus](raw)
	if err != nil {
		return err
	}
	section("Investment")
	fmt.Printf("Principal: %d  Add-on: %d\n", st.Amount, st.AddonAmount)
	fmt.Printf("Value:     %d\n", st.CurrentValue)
	if st.Payout > 0 {
		printSuccess(fmt.Sprintf("Closed for %d (P/L %+d).", st.Payout, st.Profit))
	}
	if st.Trigger != "" {
		printWarn("Trigger: " + st.Trigger)
	}
	fmt.Printf("Coins: %d\n", st.Coins)
	return nil
}

func renderPet(raw map[string]any) error {
	p, err := decodeInto[ledger.PetResult](raw)
	if err != nil {
		return err
	}
	switch {
	case p.Pet != "" && p.Cost > 0:
		printSuccess(fmt.Sprintf("Purchased pet %s for %d (value +%d).", p.Pet, p.Cost, p.ValueIncrease))
	case p.Pet != "" && p.Refund > 0:
		printSuccess(fmt.Sprintf("Released pet %s, refunded %d.", p.Pet, p.Refund))
	case p.Master != "":
		printSuccess(fmt.Sprintf("Paid %d to %s. You are free, with a 24h protection window.", p.Cost, p.Master))
	}
	fmt.Printf("Coins: %d\n", p.Coins)
	return nil
}

type rankingsPayload struct {
	Rows []ledger.RankEntry `json:"rows"`
}

func renderRankings(raw map[string]any, kind string) error {
	p, err := decodeInto[rankingsPayload](raw)
	if err != nil {
		return err
	}
	if len(p.Rows) == 0 {
		printInfo("Nobody here yet.")
		return nil
	}
	section("Leaderboard (" + kind + ")")
	fmt.Println(headerStyle.Render(fmt.Sprintf("%4s %-24s %14s", "#", "ENTITY", "SCORE")))
	for i, row := range p.Rows {
		name := row.Entity
		if row.Nickname != "" {
			name = row.Nickname
		}
		fmt.Printf("%4d %-24s %14d\n", i+1, truncate(name, 24), row.Score)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
