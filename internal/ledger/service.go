package ledger

import (
	"context"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"petmarket/internal/config"
	"petmarket/internal/lockmgr"
	"petmarket/internal/market"
	"petmarket/internal/notify"
)

// Service is the ledger and risk engine: balances, bank, loans, holdings,
// pets, and the liquidation/clawback machinery. All mutations run under the
// lock manager; background loops use the same discipline.
type Service struct {
	cfg      config.Config
	log      *slog.Logger
	store    *Store
	locks    *lockmgr.Manager
	market   *market.Simulator
	notifier notify.Notifier
	persist  *Persister
	claw     *ClawbackQueue
	node     *snowflake.Node

	mu   sync.Mutex
	rand *mathrand.Rand
}

func NewService(cfg config.Config, store *Store, persist *Persister, sim *market.Simulator, notifier notify.Notifier, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.LogNotifier{Log: logger}
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	return &Service{
		cfg:      cfg,
		log:      logger,
		store:    store,
		locks:    lockmgr.New("petmarket"),
		market:   sim,
		notifier: notifier,
		persist:  persist,
		claw:     NewClawbackQueue(),
		node:     node,
		rand:     mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Store exposes the account store for read-only surfaces (rankings, API).
func (s *Service) Store() *Store { return s.store }

// Market exposes the simulator for query surfaces.
func (s *Service) Market() *market.Simulator { return s.market }

func (s *Service) nextFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

// GetAccount returns a snapshot of the account, creating it on first
// reference. Pending legacy-investment settlements and interest accrual run
// before the snapshot is taken, so views are current.
func (s *Service) GetAccount(group, entity string) (*Account, []string) {
	release := s.locks.Acquire(group, entity)
	defer release()

	acc, created := s.store.Get(group, entity)
	if created {
		s.log.Info("account created", "group", group, "entity", entity, "coins", acc.Coins)
	}
	updates := s.SettleInvestments(acc)
	s.UpdateLoanInterest(acc)
	s.store.Save(group, entity, acc)
	return acc.Clone(), updates
}

// SaveAccount merges an externally mutated account and marks the store
// dirty. Caller must have acquired the entity lock for the whole
// read-modify-write.
func (s *Service) SaveAccount(group, entity string, acc *Account) {
	s.store.Save(group, entity, acc)
}

// RunAutosave drains the clawback queue and snapshots dirty state on a fixed
// interval until the context ends.
func (s *Service) RunAutosave(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.AutosaveEvery)
	defer ticker.Stop()
	s.log.Info("autosave loop started", "every", s.cfg.AutosaveEvery.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("autosave loop stopped")
			return
		case <-ticker.C:
			s.ProcessClawbacks()
			s.snapshotIfDirty()
		}
	}
}

// snapshotIfDirty records the version, deep-copies the store, writes the
// copy, and clears the dirty flag only if nothing mutated in between. A
// failed write keeps the flag set so the next cycle retries.
func (s *Service) snapshotIfDirty() {
	dirty, version := s.store.DirtyVersion()
	if !dirty {
		return
	}
	snap := s.store.Snapshot()
	if err := s.persist.WriteSnapshot(snap); err != nil {
		s.log.Error("autosave write failed", "err", err)
		return
	}
	if s.store.ClearDirty(version) {
		s.log.Debug("autosave complete", "version", version)
	} else {
		s.log.Debug("mutations during save, staying dirty", "version", version)
	}
}

// Close performs the final synchronous flush: backup the previous file, then
// write current state regardless of the dirty flag.
func (s *Service) Close() error {
	snap := s.store.Snapshot()
	if err := s.persist.SaveSync(snap, time.Now()); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	_, version := s.store.DirtyVersion()
	s.store.ClearDirty(version)
	s.notifier.Close()
	return nil
}

// Flush writes a synchronous snapshot with backup, for admin use.
func (s *Service) Flush() error {
	return s.persist.SaveSync(s.store.Snapshot(), time.Now())
}

// checkJailed rejects operations for jailed entities. Runs before lock
// acquisition; jail state is only ever extended by external flavor
// mechanics, so a stale read is harmless.
func (s *Service) checkJailed(group, entity string) error {
	acc, ok := s.store.Lookup(group, entity)
	if !ok {
		return nil
	}
	if jailed, remain := acc.Jailed(time.Now()); jailed {
		return fmt.Errorf("%w: %ds remaining", ErrJailed, remain)
	}
	return nil
}

// refresh runs the accruals every ledger-touching operation owes: legacy
// investment settlement, loan interest, and the liquidation check. Callers
// hold the locks planned by lockForUpdate. Returns true when liquidation ran.
func (s *Service) refresh(group, entity string, acc *Account) bool {
	s.SettleInvestments(acc)
	s.UpdateLoanInterest(acc)
	return s.CheckAndLiquidate(group, entity, acc)
}

// lockForUpdate acquires every lock a mutating operation may need: the
// entity, any extra participants, and, while the entity carries debt, its
// pets, since a liquidation fired by refresh sells those pets and must hold
// their locks. All locks are taken up front in sorted order; if the pet set
// moved between planning and locking, the plan is redone.
func (s *Service) lockForUpdate(group, entity string, extra ...string) func() {
	for {
		keys := append([]string{entity}, extra...)
		if acc, ok := s.store.Lookup(group, entity); ok && acc.LoanAmount > 0 {
			keys = append(keys, acc.Pets...)
		}
		release := s.locks.AcquireAll(group, keys...)
		acc, ok := s.store.Lookup(group, entity)
		if !ok || acc.LoanAmount <= 0 || holdsAll(keys, acc.Pets) {
			return release
		}
		release()
	}
}

func holdsAll(keys, ids []string) bool {
	for _, id := range ids {
		if !containsID(keys, id) {
			return false
		}
	}
	return true
}
