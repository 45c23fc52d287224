// Package store provides an operator-facing position snapshot sidecar.
//
// The engine's in-memory ledger is the only authoritative state while a
// process is running; nothing here is read back automatically. Each
// strategy's portfolio is written to its own file, snap_<strategyID>.json,
// using atomic file replacement (write to .tmp, then rename) so a crash or
// concurrent read never observes a partial write. Loading a snapshot is an
// explicit, operator-invoked action (e.g. a CLI subcommand for inspection),
// never an implicit part of startup.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nullma/ttquant/internal/ledger"
	"github.com/nullma/ttquant/pkg/types"
)

// Store persists portfolio snapshots to JSON files in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory, creating it if absent.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// Snapshot is the on-disk shape of one strategy's persisted portfolio: every
// symbol's position, keyed by symbol, as of the moment SaveSnapshot ran.
type Snapshot map[string]types.Position

// SaveSnapshot atomically persists every symbol currently held by pf under
// strategyID. It writes to a .tmp file first, then renames over the target.
func (s *Store) SaveSnapshot(strategyID string, pf *ledger.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := make(Snapshot)
	for _, symbol := range pf.Symbols() {
		snap[symbol] = pf.Position(symbol)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	path := s.path(strategyID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot reads a strategy's last persisted snapshot from disk.
// Returns nil, nil if no snapshot exists yet. The caller decides whether and
// how to apply the result to a live ledger; LoadSnapshot never mutates one.
func (s *Store) LoadSnapshot(strategyID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(strategyID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) path(strategyID string) string {
	return filepath.Join(s.dir, "snap_"+strategyID+".json")
}
