package ledger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ledgerFileName = "ledger.yml"
	backupPrefix   = "ledger_"
	backupSuffix   = ".yml"
)

// Persister owns the on-disk ledger file and its backup directory. Write
// failures are logged and swallowed: the store keeps its dirty flag and the
// next autosave cycle retries.
type Persister struct {
	dataDir   string
	backupDir string
	log       *slog.Logger
}

func NewPersister(dataDir string, logger *slog.Logger) (*Persister, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backupDir := filepath.Join(dataDir, "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dirs: %w", err)
	}
	return &Persister{dataDir: dataDir, backupDir: backupDir, log: logger}, nil
}

func (p *Persister) ledgerPath() string {
	return filepath.Join(p.dataDir, ledgerFileName)
}

// Load reads the ledger file. A corrupt or unreadable file falls back to the
// newest timestamped backup; if none exists an empty store is returned. Both
// fallbacks are logged, never surfaced: startup must not fail on bad data.
func (p *Persister) Load() map[string]map[string]*Account {
	data, err := p.readFile(p.ledgerPath())
	if err == nil {
		return data
	}
	if os.IsNotExist(err) {
		p.log.Info("ledger file absent, starting empty", "path", p.ledgerPath())
		return map[string]map[string]*Account{}
	}
	p.log.Warn("ledger load failed, trying backups", "err", err)
	if restored, ok := p.restoreBackup(); ok {
		return restored
	}
	p.log.Warn("no usable backup found, starting with an empty ledger")
	return map[string]map[string]*Account{}
}

func (p *Persister) readFile(path string) (map[string]map[string]*Account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := map[string]map[string]*Account{}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

func (p *Persister) restoreBackup() (map[string]map[string]*Account, bool) {
	entries, err := os.ReadDir(p.backupDir)
	if err != nil {
		p.log.Warn("backup dir unreadable", "err", err)
		return nil, false
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupSuffix) {
			names = append(names, name)
		}
	}
	// Backup names embed unix timestamps, so lexicographic order within the
	// same digit count matches age; sort newest first and take the first
	// one that decodes.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, name := range names {
		path := filepath.Join(p.backupDir, name)
		data, err := p.readFile(path)
		if err != nil {
			p.log.Warn("backup unreadable, skipping", "path", path, "err", err)
			continue
		}
		p.log.Warn("ledger restored from backup", "path", path, "groups", len(data))
		return data, true
	}
	return nil, false
}

// WriteSnapshot serializes a snapshot to the ledger file. This is the
// async-loop path: no backup is taken, the previous file is simply replaced.
func (p *Persister) WriteSnapshot(snap map[string]map[string]*Account) error {
	raw, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := os.WriteFile(p.ledgerPath(), raw, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// SaveSync copies the current file to a timestamped backup, then overwrites
// it with the snapshot. Used on shutdown and explicit flushes.
func (p *Persister) SaveSync(snap map[string]map[string]*Account, now time.Time) error {
	path := p.ledgerPath()
	if prev, err := os.ReadFile(path); err == nil {
		backup := filepath.Join(p.backupDir, fmt.Sprintf("%s%d%s", backupPrefix, now.Unix(), backupSuffix))
		if err := os.WriteFile(backup, prev, 0o644); err != nil {
			p.log.Warn("ledger backup failed", "path", backup, "err", err)
		}
	}
	return p.WriteSnapshot(snap)
}
