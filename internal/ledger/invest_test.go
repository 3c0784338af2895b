package ledger

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeMarketFixture pins one instrument's price before the simulator loads,
// so trade math is deterministic.
func writeMarketFixture(t *testing.T, dir, code, name string, price float64) {
	t.Helper()
	state := map[string]any{
		"last_update": time.Now().Unix(),
		"instruments": map[string]any{
			code: map[string]any{
				"code":          code,
				"name":          name,
				"type":          "stock",
				"current_price": price,
				"price_history": []float64{price},
			},
		},
	}
	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "market.json"), raw, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func TestBuyAccumulatesWeightedCost(t *testing.T) {
	dir := t.TempDir()
	writeMarketFixture(t, dir, "S201", "Tabby Technologies", 2.0)
	svc := newTestServiceAt(t, dir, nil)

	acc, _ := svc.Store().Get("g", "alice")
	acc.Coins = 1000
	svc.Store().Save("g", "alice", acc)

	out, err := svc.BuyInstrument("g", "alice", "s201", 1000)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if out.Code != "S201" {
		t.Fatalf("code=%q, lookup should be case-insensitive", out.Code)
	}
	if out.Shares != 500 {
		t.Fatalf("shares=%v want 500", out.Shares)
	}
	if out.Coins != 0 {
		t.Fatalf("coins=%d want 0", out.Coins)
	}
	if out.Holding.Shares != 500 || out.Holding.TotalCost != 1000 {
		t.Fatalf("holding=%+v", out.Holding)
	}
	if avg := out.Holding.AvgPrice(); avg != 2.0 {
		t.Fatalf("avg=%v want 2.0", avg)
	}
}

func TestSellRealizesProportionalProfit(t *testing.T) {
	dir := t.TempDir()
	writeMarketFixture(t, dir, "S201", "Tabby Technologies", 2.5)
	svc := newTestServiceAt(t, dir, nil)

	acc, _ := svc.Store().Get("g", "bob")
	acc.Holdings["S201"] = &Holding{Shares: 500, TotalCost: 1000}
	svc.Store().Save("g", "bob", acc)

	out, err := svc.SellInstrument("g", "bob", "S201", 625)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if out.Proceeds != 625 {
		t.Fatalf("proceeds=%d want 625", out.Proceeds)
	}
	// 625 worth at 2.5 is 250 shares; cost released at avg 2.0 is 500.
	if out.Profit != 125 {
		t.Fatalf("profit=%v want 125", out.Profit)
	}
	if out.Holding.Shares != 250 || out.Holding.TotalCost != 500 {
		t.Fatalf("remaining holding=%+v", out.Holding)
	}
	if out.Coins != 150+625 {
		t.Fatalf("coins=%d want 775", out.Coins)
	}
}

func TestSellAllClearsHolding(t *testing.T) {
	dir := t.TempDir()
	writeMarketFixture(t, dir, "S201", "Tabby Technologies", 2.0)
	svc := newTestServiceAt(t, dir, nil)

	acc, _ := svc.Store().Get("g", "carol")
	acc.Holdings["S201"] = &Holding{Shares: 300, TotalCost: 450}
	svc.Store().Save("g", "carol", acc)

	out, err := svc.SellInstrument("g", "carol", "S201", 0)
	if err != nil {
		t.Fatalf("sell all: %v", err)
	}
	if out.Proceeds != 600 {
		t.Fatalf("proceeds=%d want 600", out.Proceeds)
	}
	fresh, _ := svc.Store().Lookup("g", "carol")
	if _, ok := fresh.Holdings["S201"]; ok {
		t.Fatal("holding survived a full sale")
	}
	if _, err := svc.SellInstrument("g", "carol", "S201", 10); !errors.Is(err, ErrNoHolding) {
		t.Fatalf("expected no-holding error, got %v", err)
	}
}

func TestSellBeyondPositionRejected(t *testing.T) {
	dir := t.TempDir()
	writeMarketFixture(t, dir, "S201", "Tabby Technologies", 2.0)
	svc := newTestServiceAt(t, dir, nil)

	acc, _ := svc.Store().Get("g", "dave")
	acc.Holdings["S201"] = &Holding{Shares: 10, TotalCost: 20}
	svc.Store().Save("g", "dave", acc)

	if _, err := svc.SellInstrument("g", "dave", "S201", 21); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient position, got %v", err)
	}
}

func TestBuyCashesOutLegacyInvestments(t *testing.T) {
	dir := t.TempDir()
	writeMarketFixture(t, dir, "S201", "Tabby Technologies", 2.0)
	svc := newTestServiceAt(t, dir, nil)

	acc, _ := svc.Store().Get("g", "erin")
	acc.Coins = 700
	acc.Investments = []*Investment{{
		Amount:       500,
		CurrentValue: 400,
		Status:       "active",
		NextSettleAt: time.Now().Unix() + 3600,
	}}
	svc.Store().Save("g", "erin", acc)

	out, err := svc.BuyInstrument("g", "erin", "S201", 1000)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if out.LegacyRefund != 400 {
		t.Fatalf("refund=%d want 400", out.LegacyRefund)
	}
	// 700 cash + 400 refund funds the 1000 buy.
	if out.Coins != 100 {
		t.Fatalf("coins=%d want 100", out.Coins)
	}
	fresh, _ := svc.Store().Lookup("g", "erin")
	if len(fresh.Investments) != 0 {
		t.Fatal("legacy records survived migration")
	}
}

func TestBuyUnknownInstrument(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.BuyInstrument("g", "alice", "NOPE", 500); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected invalid target, got %v", err)
	}
}

func TestTrendTablesWellFormed(t *testing.T) {
	for _, table := range [][]trendBucket{primaryTrends, addonTrends} {
		prev := 0.0
		for _, b := range table {
			if b.upper <= prev {
				t.Fatalf("bucket %q upper %v not ascending past %v", b.name, b.upper, prev)
			}
			if b.lo > b.hi {
				t.Fatalf("bucket %q has inverted range [%v,%v]", b.name, b.lo, b.hi)
			}
			prev = b.upper
		}
		if prev != 100 {
			t.Fatalf("table tops out at %v, want 100", prev)
		}
	}
}

func TestDrawTrendStaysInBucketRange(t *testing.T) {
	svc := newTestService(t, nil)
	ranges := map[string][2]float64{}
	for _, b := range primaryTrends {
		ranges[b.name] = [2]float64{b.lo, b.hi}
	}
	for i := 0; i < 2000; i++ {
		name, change := svc.drawTrend(primaryTrends)
		r, ok := ranges[name]
		if !ok {
			t.Fatalf("unknown trend %q", name)
		}
		if change < r[0] || change > r[1] {
			t.Fatalf("trend %q change %v outside [%v,%v]", name, change, r[0], r[1])
		}
	}
}

func TestInvestmentTrigger(t *testing.T) {
	cases := []struct {
		value int64
		want  string
	}{
		{1100, "take-profit"},
		{1200, "take-profit"},
		{950, "stop-loss"},
		{949, "stop-loss"},
		{1000, ""},
		{1099, ""},
		{951, ""},
	}
	for _, tc := range cases {
		inv := &Investment{Amount: 600, AddonAmount: 400, CurrentValue: tc.value}
		if got := investmentTrigger(inv); got != tc.want {
			t.Fatalf("value %d: trigger=%q want %q", tc.value, got, tc.want)
		}
	}
}

func TestSettleInvestmentsOnlyWhenDue(t *testing.T) {
	svc := newTestService(t, nil)
	acc := NewAccount(150, time.Now())
	acc.Investments = []*Investment{{
		Amount:       1000,
		CurrentValue: 1000,
		Status:       "active",
		NextSettleAt: time.Now().Unix() - 10,
	}}

	updates := svc.SettleInvestments(acc)
	if len(updates) != 1 {
		t.Fatalf("updates=%d want 1", len(updates))
	}
	inv := acc.Investments[0]
	if len(inv.TrendHistory) != 1 {
		t.Fatalf("history=%d want 1", len(inv.TrendHistory))
	}
	if diff := inv.NextSettleAt - time.Now().Unix(); diff < 3590 || diff > 3610 {
		t.Fatalf("next settle %ds away, want about an hour", diff)
	}
	// Value must track the recorded change.
	change := inv.TrendHistory[0].Change
	want := int64(1000 * (1 + change))
	if math.Abs(float64(inv.CurrentValue-want)) > 1 {
		t.Fatalf("value=%d, change %v implies %d", inv.CurrentValue, change, want)
	}

	if again := svc.SettleInvestments(acc); len(again) != 0 {
		t.Fatalf("settled again within the hour: %v", again)
	}
}

func TestInvestmentLifecycle(t *testing.T) {
	svc := newTestService(t, nil)
	acc, _ := svc.Store().Get("g", "frank")
	acc.Coins = 1000
	svc.Store().Save("g", "frank", acc)

	if _, err := svc.OpenInvestment("g", "frank", 50); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected minimum rejection, got %v", err)
	}

	st, err := svc.OpenInvestment("g", "frank", 500)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if st.Amount != 500 || st.CurrentValue != 500 || st.Coins != 500 {
		t.Fatalf("open status: %+v", st)
	}

	if _, err := svc.OpenInvestment("g", "frank", 200); !errors.Is(err, ErrInvestmentActive) {
		t.Fatalf("expected single active investment, got %v", err)
	}

	st, err = svc.AddOnInvestment("g", "frank", 200)
	if err != nil {
		t.Fatalf("addon: %v", err)
	}
	if st.AddonAmount != 200 || st.CurrentValue != 700 || st.Coins != 300 {
		t.Fatalf("addon status: %+v", st)
	}

	st, err = svc.CloseInvestment("g", "frank")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	// The first settlement is still an hour out, so the close pays face value.
	if st.Payout != 700 || st.Profit != 0 {
		t.Fatalf("close status: %+v", st)
	}
	if st.Coins != 1000 {
		t.Fatalf("coins=%d want 1000", st.Coins)
	}

	if _, err := svc.CloseInvestment("g", "frank"); !errors.Is(err, ErrNoInvestment) {
		t.Fatalf("expected nothing to close, got %v", err)
	}
}
