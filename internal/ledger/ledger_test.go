package ledger

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"petmarket/internal/config"
	"petmarket/internal/market"
)

func testConfig(dataDir string) config.Config {
	return config.Config{
		DataDir:            dataDir,
		InitialCoins:       150,
		BankInitialLimit:   1000,
		BankInterestRate:   0.01,
		BankMaxInterestHrs: 24,
		LoanInterestRate:   0.05,
		LoanLimitPerLevel:  5000,
		LoanMaxMultiplier:  1.0,
		LiquidationFloor:   1000,
		WelfareFloor:       150,
		TransferFeeRate:    0.1,
		TransferMinAmount:  100,
		TransferCooldown:   30 * time.Minute,
		InvestMinAmount:    100,
		RansomPremium:      1.5,
		MarketTickEvery:    time.Minute,
		AutosaveEvery:      time.Second,
	}
}

func newTestService(t *testing.T, mutate func(*config.Config)) *Service {
	t.Helper()
	return newTestServiceAt(t, t.TempDir(), mutate)
}

func newTestServiceAt(t *testing.T, dir string, mutate func(*config.Config)) *Service {
	t.Helper()
	cfg := testConfig(dir)
	if mutate != nil {
		mutate(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persist, err := NewPersister(dir, logger)
	if err != nil {
		t.Fatalf("new persister: %v", err)
	}
	store := NewStore(cfg.InitialCoins)
	sim := market.NewSimulator(dir, logger)
	svc, err := NewService(cfg, store, persist, sim, nil, logger)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}
