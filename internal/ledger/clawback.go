package ledger

import (
	"fmt"
	"sync"
	"time"

	"petmarket/internal/notify"
)

// ClawbackTask instructs the background drain to recover up to AmountCap
// from Target on behalf of the defaulted Debtor. Tasks run once and are
// discarded whatever the outcome.
type ClawbackTask struct {
	ID        int64  `json:"id"`
	Group     string `json:"group"`
	Debtor    string `json:"debtor"`
	Target    string `json:"target"`
	AmountCap int64  `json:"amount_cap"`
	CreatedAt int64  `json:"created_at"`
}

// ClawbackQueue holds pending recovery tasks between autosave cycles.
type ClawbackQueue struct {
	mu    sync.Mutex
	tasks []ClawbackTask
}

func NewClawbackQueue() *ClawbackQueue {
	return &ClawbackQueue{}
}

func (q *ClawbackQueue) Push(t ClawbackTask) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

// DrainAll removes and returns every pending task.
func (q *ClawbackQueue) DrainAll() []ClawbackTask {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	return tasks
}

func (q *ClawbackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// enqueueClawbacks converts the debtor's indebted-transfer list into tasks,
// each capped by the debt remaining at enqueue time, and clears the list so
// nothing is chased twice. Caller holds the debtor's lock.
func (s *Service) enqueueClawbacks(group, debtor string, acc *Account) int {
	if len(acc.LoanTransfers) == 0 {
		return 0
	}
	now := time.Now().Unix()
	n := 0
	for _, rec := range acc.LoanTransfers {
		limit := rec.Amount
		if limit > acc.LoanAmount {
			limit = acc.LoanAmount
		}
		if limit <= 0 {
			continue
		}
		s.claw.Push(ClawbackTask{
			ID:        s.node.Generate().Int64(),
			Group:     group,
			Debtor:    debtor,
			Target:    rec.Target,
			AmountCap: limit,
			CreatedAt: now,
		})
		n++
	}
	acc.LoanTransfers = nil
	return n
}

// ProcessClawbacks drains the queue. Each task re-locks (debtor, target) in
// canonical order, re-reads the live debt (it may have shrunk), and recovers
// min(cap, debt) from the target's cash first, then bank. A task that finds
// no remaining debt is a silent no-op; tasks are never re-queued.
func (s *Service) ProcessClawbacks() {
	tasks := s.claw.DrainAll()
	for _, task := range tasks {
		s.processClawback(task)
	}
}

func (s *Service) processClawback(task ClawbackTask) {
	release := s.locks.AcquirePair(task.Group, task.Debtor, task.Target)
	defer release()

	debtor, _ := s.store.Get(task.Group, task.Debtor)
	target, _ := s.store.Get(task.Group, task.Target)

	if debtor.LoanAmount <= 0 {
		return
	}

	need := task.AmountCap
	if need > debtor.LoanAmount {
		need = debtor.LoanAmount
	}

	fromCoins := target.Coins
	if fromCoins > need {
		fromCoins = need
	}
	target.Coins -= fromCoins
	debtor.LoanAmount -= fromCoins

	var fromBank int64
	if remaining := need - fromCoins; remaining > 0 && target.Bank > 0 {
		fromBank = target.Bank
		if fromBank > remaining {
			fromBank = remaining
		}
		target.Bank -= fromBank
		debtor.LoanAmount -= fromBank
	}

	recovered := fromCoins + fromBank
	if recovered <= 0 {
		return
	}

	if debtor.LoanAmount <= 0 {
		debtor.LoanAmount = 0
		debtor.LoanPrincipal = 0
		debtor.LoanInterestFrozen = false
	} else if debtor.LoanAmount < debtor.LoanPrincipal {
		debtor.LoanPrincipal = debtor.LoanAmount
	}

	debtor.LastNote = fmt.Sprintf("recovered %d coins from %s against your outstanding debt", recovered, task.Target)
	target.LastNote = fmt.Sprintf("the bank reclaimed %d coins transferred to you by defaulted debtor %s", recovered, task.Debtor)

	s.store.Save(task.Group, task.Debtor, debtor)
	s.store.Save(task.Group, task.Target, target)

	s.notifier.Publish(notify.Notice{
		Group:   task.Group,
		Entity:  task.Target,
		Kind:    "clawback",
		Message: target.LastNote,
	})
	s.log.Info("clawback processed", "group", task.Group, "debtor", task.Debtor, "target", task.Target, "recovered", recovered, "remaining_debt", debtor.LoanAmount)
}
