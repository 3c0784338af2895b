package ledger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPersister(t *testing.T) (*Persister, string) {
	t.Helper()
	dir := t.TempDir()
	p, err := NewPersister(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p, dir
}

func snapshotWith(coins int64) map[string]map[string]*Account {
	acc := NewAccount(coins, time.Now())
	return map[string]map[string]*Account{"g": {"alice": acc}}
}

func TestPersistRoundTrip(t *testing.T) {
	p, _ := newTestPersister(t)

	acc := NewAccount(150, time.Now())
	acc.Bank = 420
	acc.BankLevel = 3
	acc.LoanAmount = 900
	acc.LoanPrincipal = 600
	acc.Pets = []string{"bob"}
	acc.Holdings["S201"] = &Holding{Shares: 12.5, TotalCost: 30}
	acc.TransferHistory = []TransferRecord{{ID: "t1", Type: "send", Peer: "bob", Amount: 100, Fee: 10}}
	acc.LoanTransfers = []LoanTransfer{{Target: "bob", Amount: 100}}
	snap := map[string]map[string]*Account{"g": {"alice": acc}}

	require.NoError(t, p.WriteSnapshot(snap))

	loaded := p.Load()
	require.Contains(t, loaded, "g")
	got := loaded["g"]["alice"]
	require.NotNil(t, got)
	require.Equal(t, int64(150), got.Coins)
	require.Equal(t, int64(420), got.Bank)
	require.Equal(t, 3, got.BankLevel)
	require.Equal(t, int64(900), got.LoanAmount)
	require.Equal(t, int64(600), got.LoanPrincipal)
	require.Equal(t, []string{"bob"}, got.Pets)
	require.Equal(t, 12.5, got.Holdings["S201"].Shares)
	require.Len(t, got.TransferHistory, 1)
	require.Equal(t, "t1", got.TransferHistory[0].ID)
	require.Len(t, got.LoanTransfers, 1)
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	p, _ := newTestPersister(t)
	loaded := p.Load()
	require.NotNil(t, loaded)
	require.Empty(t, loaded)
}

func TestLoadCorruptFileRestoresNewestBackup(t *testing.T) {
	p, dir := newTestPersister(t)

	old := snapshotWith(111)
	require.NoError(t, p.WriteSnapshot(old))
	// SaveSync backs up the 111-coin file before writing the new state.
	require.NoError(t, p.SaveSync(snapshotWith(222), time.Now()))

	ledger := filepath.Join(dir, "ledger.yml")
	require.NoError(t, os.WriteFile(ledger, []byte("{::: not yaml"), 0o644))

	loaded := p.Load()
	require.Contains(t, loaded, "g")
	require.Equal(t, int64(111), loaded["g"]["alice"].Coins)
}

func TestLoadSkipsCorruptBackups(t *testing.T) {
	p, dir := newTestPersister(t)

	now := time.Now()
	require.NoError(t, p.WriteSnapshot(snapshotWith(111)))
	require.NoError(t, p.SaveSync(snapshotWith(222), now))

	// A newer but corrupt backup must be skipped in favor of the older one.
	junk := filepath.Join(dir, "backups", "ledger_9999999999.yml")
	require.NoError(t, os.WriteFile(junk, []byte("{::: not yaml"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.yml"), []byte("{::: not yaml"), 0o644))

	loaded := p.Load()
	require.Contains(t, loaded, "g")
	require.Equal(t, int64(111), loaded["g"]["alice"].Coins)
}

func TestLoadCorruptWithoutBackupsStartsEmpty(t *testing.T) {
	p, dir := newTestPersister(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.yml"), []byte("{::: not yaml"), 0o644))
	loaded := p.Load()
	require.NotNil(t, loaded)
	require.Empty(t, loaded)
}

func TestSaveSyncWithoutExistingFile(t *testing.T) {
	p, dir := newTestPersister(t)
	require.NoError(t, p.SaveSync(snapshotWith(333), time.Now()))

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	require.Empty(t, entries, "no previous file, nothing to back up")

	loaded := p.Load()
	require.Equal(t, int64(333), loaded["g"]["alice"].Coins)
}
