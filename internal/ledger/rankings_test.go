package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRankingsByCoinsAndValue(t *testing.T) {
	svc := newTestService(t, nil)
	for id, coins := range map[string]int64{"a": 100, "b": 300, "c": 200} {
		acc, _ := svc.Store().Get("g", id)
		acc.Coins = coins
		acc.Value = 1000 - coins
		svc.Store().Save("g", id, acc)
	}

	rows := svc.Rankings("g", "coins", 10)
	if len(rows) != 3 {
		t.Fatalf("rows=%d want 3", len(rows))
	}
	if rows[0].Entity != "b" || rows[1].Entity != "c" || rows[2].Entity != "a" {
		t.Fatalf("coins order: %v", rows)
	}

	rows = svc.Rankings("g", "value", 10)
	if rows[0].Entity != "a" || rows[2].Entity != "b" {
		t.Fatalf("value order: %v", rows)
	}
}

func TestRankingsNetWorth(t *testing.T) {
	dir := t.TempDir()
	state := map[string]any{
		"last_update": time.Now().Unix(),
		"instruments": map[string]any{
			"S201": map[string]any{
				"code":          "S201",
				"name":          "Tabby Technologies",
				"type":          "stock",
				"current_price": 2.0,
				"price_history": []float64{2.0},
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
	svc := newTestServiceAt(t, dir, nil)

	// rich: 100 cash + 200 bank + 100 shares at 2.0 + 50 invested = 550.
	rich, _ := svc.Store().Get("g", "rich")
	rich.Coins = 100
	rich.Bank = 200
	rich.Holdings["S201"] = &Holding{Shares: 100, TotalCost: 150}
	rich.Investments = []*Investment{{
		Amount: 50, CurrentValue: 50, Status: "active",
		NextSettleAt: time.Now().Unix() + 3600,
	}}
	svc.Store().Save("g", "rich", rich)

	// broke: 400 cash - 300 debt = 100.
	broke, _ := svc.Store().Get("g", "broke")
	broke.Coins = 400
	broke.LoanAmount = 300
	broke.LoanPrincipal = 300
	svc.Store().Save("g", "broke", broke)

	rows := svc.Rankings("g", "networth", 10)
	if rows[0].Entity != "rich" || rows[0].Score != 550 {
		t.Fatalf("top row: %+v", rows[0])
	}
	if rows[1].Entity != "broke" || rows[1].Score != 100 {
		t.Fatalf("second row: %+v", rows[1])
	}
}

func TestRankingsTieAndLimit(t *testing.T) {
	svc := newTestService(t, nil)
	for _, id := range []string{"zed", "amy", "bob"} {
		acc, _ := svc.Store().Get("g", id)
		acc.Coins = 500
		svc.Store().Save("g", id, acc)
	}

	rows := svc.Rankings("g", "coins", 2)
	if len(rows) != 2 {
		t.Fatalf("limit ignored: %d rows", len(rows))
	}
	// Equal scores order by entity id.
	if rows[0].Entity != "amy" || rows[1].Entity != "bob" {
		t.Fatalf("tie order: %v", rows)
	}

	if rows := svc.Rankings("g", "coins", 0); len(rows) != 3 {
		t.Fatalf("default limit: %d rows", len(rows))
	}
	if rows := svc.Rankings("empty", "coins", 10); len(rows) != 0 {
		t.Fatalf("empty group: %v", rows)
	}
}
