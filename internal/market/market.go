// Package market simulates instrument prices with a bounded stochastic
// process. Each tick is a pure function of one instrument's state plus a
// single normal draw; instruments never depend on each other.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	mathrand "math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	historyCap = 30
	priceFloor = 0.01
)

// Params are the immutable reference parameters of an instrument.
type Params struct {
	BasePrice  float64
	Volatility float64
	Drift      float64
}

// Instrument is the mutable market state for one code.
type Instrument struct {
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Type         string    `json:"type"` // "fund" | "stock" | "crypto"
	CurrentPrice float64   `json:"current_price"`
	PriceHistory []float64 `json:"price_history"`
	Change24h    float64   `json:"change_24h"`
}

type spec struct {
	name  string
	typ   string
	param Params
}

// Funds are placid, stocks swing, crypto is a casino. Codes are stable so
// existing market files stay loadable.
var defaultSpecs = map[string]spec{
	"F101": {"Treasury Repo Fund", "fund", Params{1.0, 0.001, 0.00005}},
	"F102": {"Steady Bond Fund A", "fund", Params{1.1, 0.002, 0.00008}},
	"F103": {"Index 300 ETF", "fund", Params{3.5, 0.010, 0.00012}},
	"F104": {"Offshore Tech Fund", "fund", Params{2.8, 0.015, 0.00015}},

	"S201": {"Tabby Technologies", "stock", Params{25.0, 0.12, 0.0001}},
	"S202": {"Woof Semiconductor", "stock", Params{45.0, 0.18, 0}},
	"S203": {"Koi Spirits", "stock", Params{120.0, 0.08, 0.0001}},
	"S204": {"Remedy Biotech", "stock", Params{30.0, 0.10, 0}},
	"S205": {"Shiba Heavy Industries", "stock", Params{12.0, 0.06, 0}},
	"S206": {"Husky New Energy", "stock", Params{18.0, 0.15, 0}},
	"S207": {"Phantom Media", "stock", Params{9.0, 0.20, 0}},

	"C301": {"Bitcoin BTC", "crypto", Params{60000.0, 0.25, 0.0003}},
	"C302": {"Ethereum ETH", "crypto", Params{3000.0, 0.30, 0.0003}},
	"C303": {"Dogecoin DOGE", "crypto", Params{0.2, 0.45, 0}},
	"C304": {"Smiley SLILE", "crypto", Params{0.01, 0.80, 0}},
}

type persisted struct {
	LastUpdate  int64                  `json:"last_update"`
	Instruments map[string]*Instrument `json:"instruments"`
}

// Simulator evolves instrument prices and retains rolling history. All
// access goes through its mutex; ticks and reads contend only briefly.
type Simulator struct {
	mu          sync.Mutex
	path        string
	log         *slog.Logger
	rand        *mathrand.Rand
	instruments map[string]*Instrument
	lastUpdate  int64
}

func NewSimulator(dataDir string, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Simulator{
		path:        filepath.Join(dataDir, "market.json"),
		log:         logger,
		rand:        mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		instruments: make(map[string]*Instrument),
	}
	s.load()
	return s
}

func (s *Simulator) load() {
	raw, err := os.ReadFile(s.path)
	if err == nil {
		var p persisted
		if err := json.Unmarshal(raw, &p); err != nil {
			s.log.Warn("market file corrupt, reinitializing", "err", err)
		} else {
			s.lastUpdate = p.LastUpdate
			s.instruments = p.Instruments
			if s.instruments == nil {
				s.instruments = make(map[string]*Instrument)
			}
		}
	} else if !os.IsNotExist(err) {
		s.log.Warn("market file unreadable, reinitializing", "err", err)
	}
	// Merge instruments added since the file was written.
	for code, sp := range defaultSpecs {
		if _, ok := s.instruments[code]; ok {
			continue
		}
		hist := make([]float64, 10)
		for i := range hist {
			hist[i] = sp.param.BasePrice
		}
		s.instruments[code] = &Instrument{
			Code:         code,
			Name:         sp.name,
			Type:         sp.typ,
			CurrentPrice: sp.param.BasePrice,
			PriceHistory: hist,
		}
	}
	if s.lastUpdate == 0 {
		s.lastUpdate = time.Now().Unix()
	}
}

// Save writes market state to disk. Market data is reconstructible, so a
// failed write is only logged.
func (s *Simulator) Save() {
	s.mu.Lock()
	p := persisted{LastUpdate: s.lastUpdate, Instruments: s.instruments}
	raw, err := json.MarshalIndent(p, "", "  ")
	s.mu.Unlock()
	if err != nil {
		s.log.Error("market encode failed", "err", err)
		return
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		s.log.Error("market save failed", "err", err)
	}
}

// Tick advances every instrument by one step: normal shock scaled by
// volatility plus drift, clamped to ±2×volatility, applied multiplicatively,
// floored at 0.01.
func (s *Simulator) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, inst := range s.instruments {
		sp, ok := defaultSpecs[code]
		if !ok {
			sp.param = Params{Volatility: 0.05}
		}
		change := nextChange(sp.param, s.rand.NormFloat64())
		price := inst.CurrentPrice * (1 + change)
		if price < priceFloor {
			price = priceFloor
		}
		inst.CurrentPrice = round4(price)
		inst.PriceHistory = append(inst.PriceHistory, inst.CurrentPrice)
		if len(inst.PriceHistory) > historyCap {
			inst.PriceHistory = inst.PriceHistory[len(inst.PriceHistory)-historyCap:]
		}
		if start := inst.PriceHistory[0]; start > 0 {
			inst.Change24h = (inst.CurrentPrice - start) / start
		}
	}
	s.lastUpdate = time.Now().Unix()
}

// nextChange computes the clamped percentage move for one draw. Split out so
// the circuit-breaker property is testable without the RNG.
func nextChange(p Params, shock float64) float64 {
	change := p.Drift + shock*p.Volatility
	max := 2 * p.Volatility
	if change > max {
		change = max
	}
	if change < -max {
		change = -max
	}
	return change
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

// Get resolves an instrument by code (case-insensitive) or name substring
// and returns a snapshot copy.
func (s *Simulator) Get(codeOrName string) (string, *Instrument, bool) {
	q := strings.TrimSpace(codeOrName)
	if q == "" {
		return "", nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, inst := range s.instruments {
		if strings.EqualFold(code, q) {
			return code, snapshotOf(inst), true
		}
	}
	lower := strings.ToLower(q)
	for code, inst := range s.instruments {
		if strings.Contains(strings.ToLower(inst.Name), lower) {
			return code, snapshotOf(inst), true
		}
	}
	return "", nil, false
}

// Price returns the current price for a known code, or 0.
func (s *Simulator) Price(code string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instruments[code]; ok {
		return inst.CurrentPrice
	}
	return 0
}

// List returns snapshot copies of every instrument sorted by code.
func (s *Simulator) List() []*Instrument {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Instrument, 0, len(s.instruments))
	for _, inst := range s.instruments {
		out = append(out, snapshotOf(inst))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// LastUpdate reports when the last tick ran (unix seconds).
func (s *Simulator) LastUpdate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdate
}

func snapshotOf(inst *Instrument) *Instrument {
	c := *inst
	c.PriceHistory = append([]float64(nil), inst.PriceHistory...)
	return &c
}

// Run ticks the market on the given interval until the context ends, saving
// after every tick and once more on the way out.
func (s *Simulator) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	s.log.Info("market simulator started", "tick_every", every.String(), "instruments", len(s.instruments))
	for {
		select {
		case <-ctx.Done():
			s.Save()
			s.log.Info("market simulator stopped")
			return
		case <-ticker.C:
			s.Tick()
			s.Save()
			s.log.Info("market tick complete")
		}
	}
}

// Describe formats one instrument for human-readable surfaces.
func Describe(inst *Instrument) string {
	arrow := "▲"
	if inst.Change24h < 0 {
		arrow = "▼"
	}
	return fmt.Sprintf("[%s] %s  %.4f  %s%+.2f%%", inst.Code, inst.Name, inst.CurrentPrice, arrow, inst.Change24h*100)
}
