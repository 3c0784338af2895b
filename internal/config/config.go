package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every tunable of the daemon. All values come from the
// environment; defaults are the standard game balance.
type Config struct {
	Addr    string `env:"PETMARKET_ADDR" envDefault:":8080"`
	DataDir string `env:"PETMARKET_DATA_DIR" envDefault:"./data"`

	InitialCoins int64 `env:"PETMARKET_INITIAL_COINS" envDefault:"150"`

	BankInitialLimit   int64   `env:"PETMARKET_BANK_INITIAL_LIMIT" envDefault:"1000"`
	BankInterestRate   float64 `env:"PETMARKET_BANK_INTEREST_RATE" envDefault:"0.01"`
	BankMaxInterestHrs int     `env:"PETMARKET_BANK_MAX_INTEREST_HOURS" envDefault:"24"`

	LoanInterestRate  float64 `env:"PETMARKET_LOAN_INTEREST_RATE" envDefault:"0.05"`
	LoanLimitPerLevel int64   `env:"PETMARKET_LOAN_LIMIT_PER_LEVEL" envDefault:"5000"`
	// LoanMaxMultiplier caps accrued debt at principal*(1+multiplier) and is
	// the liquidation threshold. <= 0 disables both the cap and liquidation.
	LoanMaxMultiplier float64 `env:"PETMARKET_LOAN_MAX_MULTIPLIER" envDefault:"1.0"`

	// LiquidationFloor is the cash amount liquidation never seizes;
	// WelfareFloor is the post-liquidation top-up minimum. They are distinct
	// knobs on purpose and neither has to equal InitialCoins.
	LiquidationFloor int64 `env:"PETMARKET_LIQUIDATION_SAFE_FLOOR" envDefault:"1000"`
	WelfareFloor     int64 `env:"PETMARKET_WELFARE_FLOOR" envDefault:"150"`

	TransferFeeRate   float64       `env:"PETMARKET_TRANSFER_FEE_RATE" envDefault:"0.1"`
	TransferMinAmount int64         `env:"PETMARKET_TRANSFER_MIN_AMOUNT" envDefault:"100"`
	TransferCooldown  time.Duration `env:"PETMARKET_TRANSFER_COOLDOWN" envDefault:"30m"`
	InvestMinAmount   int64         `env:"PETMARKET_INVEST_MIN_AMOUNT" envDefault:"100"`
	RansomPremium     float64       `env:"PETMARKET_RANSOM_PREMIUM" envDefault:"1.5"`

	MarketTickEvery time.Duration `env:"PETMARKET_MARKET_TICK_EVERY" envDefault:"30m"`
	AutosaveEvery   time.Duration `env:"PETMARKET_AUTOSAVE_EVERY" envDefault:"60s"`

	NATSURL      string `env:"PETMARKET_NATS_URL"`
	DiscordToken string `env:"PETMARKET_DISCORD_TOKEN"`
	DiscordGroup string `env:"PETMARKET_DISCORD_GROUP_PREFIX" envDefault:"discord"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		return cfg, fmt.Errorf("PETMARKET_DATA_DIR is required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr != "" && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	cfg.Addr = addr
	if cfg.InitialCoins < 0 {
		return cfg, fmt.Errorf("PETMARKET_INITIAL_COINS must be >= 0")
	}
	if cfg.MarketTickEvery <= 0 || cfg.AutosaveEvery <= 0 {
		return cfg, fmt.Errorf("tick and autosave intervals must be positive")
	}
	return cfg, nil
}
