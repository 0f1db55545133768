// Package offset tracks and persists per-table resume positions. The
// tracker answers "everything up to and including this point has been fully
// emitted" for each table; the store makes that durable across restarts.
package offset

import (
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/relogdev/relog/common"
	"github.com/relogdev/relog/encoding"
	"github.com/rs/zerolog/log"
)

// Key layout in Pebble
const (
	prefixOffset = "/offset/" // /offset/{table} -> msgpack(common.Position)
	keyLegacy    = "/offset"  // pre-per-table format: one engine-wide position
)

// Pebble configuration constants
const (
	memTableSize                = 8 << 20 // offsets are tiny; keep the memtable small
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
)

// Store is a Pebble-backed durable offset store.
type Store struct {
	db     *pebble.DB
	path   string
	closed atomic.Bool
}

// OpenStore creates or opens the offset store under dataDir.
func OpenStore(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "offsets")

	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		DisableWAL:                  false,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open offset store at %s: %w", path, err)
	}

	return &Store{db: db, path: path}, nil
}

// Save persists one table's offset. Synced: a crash after Save must not
// replay transactions emitted before it.
func (s *Store) Save(table string, pos common.Position) error {
	if s.closed.Load() {
		return fmt.Errorf("offset store is closed")
	}

	val, err := encoding.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to marshal offset for %s: %w", table, err)
	}

	if err := s.db.Set([]byte(prefixOffset+table), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to persist offset for %s: %w", table, err)
	}
	return nil
}

// Load reads all persisted per-table offsets.
func (s *Store) Load() (map[string]common.Position, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("offset store is closed")
	}

	prefix := []byte(prefixOffset)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	offsets := make(map[string]common.Position)
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		table := string(iter.Key()[len(prefixOffset):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		var pos common.Position
		if err := encoding.Unmarshal(val, &pos); err != nil {
			return nil, fmt.Errorf("corrupted offset for table %s: %w", table, err)
		}
		offsets[table] = pos
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}

	if len(offsets) > 0 {
		log.Info().Int("tables", len(offsets)).Msg("Loaded persisted offsets")
	}

	return offsets, nil
}

// LoadLegacy reads the pre-per-table single-key offset, if present.
func (s *Store) LoadLegacy() (common.Position, bool, error) {
	if s.closed.Load() {
		return common.Position{}, false, fmt.Errorf("offset store is closed")
	}

	val, closer, err := s.db.Get([]byte(keyLegacy))
	if err == pebble.ErrNotFound {
		return common.Position{}, false, nil
	}
	if err != nil {
		return common.Position{}, false, err
	}
	defer closer.Close()

	var pos common.Position
	if err := encoding.Unmarshal(val, &pos); err != nil {
		return common.Position{}, false, fmt.Errorf("corrupted legacy offset: %w", err)
	}
	return pos, true, nil
}

// MigrateLegacy rewrites the legacy single-key offset as per-table offsets
// for the given tables and deletes the legacy key, all in one batch. Running
// it again is a no-op because the legacy key no longer exists.
func (s *Store) MigrateLegacy(tables []string, legacy common.Position) error {
	if s.closed.Load() {
		return fmt.Errorf("offset store is closed")
	}

	val, err := encoding.Marshal(legacy)
	if err != nil {
		return fmt.Errorf("failed to marshal legacy offset: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, table := range tables {
		if err := batch.Set([]byte(prefixOffset+table), val, pebble.Sync); err != nil {
			return fmt.Errorf("failed to stage offset for %s: %w", table, err)
		}
	}
	if err := batch.Delete([]byte(keyLegacy), pebble.Sync); err != nil {
		return fmt.Errorf("failed to stage legacy key delete: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit legacy offset migration: %w", err)
	}

	log.Info().
		Int("tables", len(tables)).
		Stringer("position", legacy).
		Msg("Migrated legacy offset to per-table format")
	return nil
}

// WriteLegacy persists an offset in the legacy single-key format. Exists for
// tests and for downgrade tooling.
func (s *Store) WriteLegacy(pos common.Position) error {
	if s.closed.Load() {
		return fmt.Errorf("offset store is closed")
	}

	val, err := encoding.Marshal(pos)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(keyLegacy), val, pebble.Sync)
}

// Close closes the Pebble database.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("offset store already closed")
	}
	return s.db.Close()
}

// prefixUpperBound returns the upper bound for a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil // Prefix is all 0xff
}
