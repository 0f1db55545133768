package offset

import (
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/relogdev/relog/common"
	"github.com/relogdev/relog/telemetry"
	"github.com/rs/zerolog/log"
)

// tableOffset is one table's slot. Each slot carries its own mutex so
// advances on unrelated tables never serialize against each other; the
// only shared structure is the lock-free map that finds the slot.
type tableOffset struct {
	mu  sync.Mutex
	pos common.Position
}

// Tracker holds the per-table resume positions shared by all table
// pipelines. Safe for concurrent use.
type Tracker struct {
	offsets *xsync.MapOf[string, *tableOffset]
	store   *Store // nil means in-memory only (tests)
}

// NewTracker creates a tracker backed by store. A nil store keeps offsets
// in memory only.
func NewTracker(store *Store) *Tracker {
	return &Tracker{
		offsets: xsync.NewMapOf[string, *tableOffset](),
		store:   store,
	}
}

// Resume initializes the tracker for the configured tables. Persisted
// offsets win over configured initial positions; tables with neither start
// from the zero position (earliest). A legacy single-key offset found in
// the store is migrated to per-table entries once and the legacy key
// dropped.
func (t *Tracker) Resume(initial map[string]common.Position) error {
	persisted := make(map[string]common.Position)

	if t.store != nil {
		var err error
		persisted, err = t.store.Load()
		if err != nil {
			return fmt.Errorf("loading persisted offsets: %w", err)
		}

		if len(persisted) == 0 {
			legacy, found, err := t.store.LoadLegacy()
			if err != nil {
				return fmt.Errorf("loading legacy offset: %w", err)
			}
			if found {
				tables := make([]string, 0, len(initial))
				for table := range initial {
					tables = append(tables, table)
				}
				if err := t.store.MigrateLegacy(tables, legacy); err != nil {
					return err
				}
				for _, table := range tables {
					persisted[table] = legacy
				}
			}
		}
	}

	for table, pos := range initial {
		if p, ok := persisted[table]; ok {
			pos = p
		}
		t.offsets.Store(table, &tableOffset{pos: pos})
	}

	// Persisted tables no longer configured stay in the store untouched;
	// they become active again if the table is re-added.
	return nil
}

// Advance moves a table's offset forward to pos if pos is greater under the
// source kind's ordering. Called once per fully emitted transaction.
func (t *Tracker) Advance(table string, pos common.Position) error {
	slot, _ := t.offsets.LoadOrStore(table, &tableOffset{})

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if !slot.pos.IsZero() && pos.Compare(slot.pos) <= 0 {
		return nil // stale or duplicate advance
	}
	slot.pos = pos

	if t.store != nil {
		if err := t.store.Save(table, pos); err != nil {
			return fmt.Errorf("persisting offset for %s: %w", table, err)
		}
	}

	telemetry.OffsetAdvancesTotal.With(table).Inc()
	telemetry.OffsetToken.With(table).Set(float64(pos.Token))

	log.Debug().Str("table", table).Stringer("position", pos).Msg("Advanced offset")
	return nil
}

// Get returns a table's current offset. The zero position means "start from
// earliest".
func (t *Tracker) Get(table string) common.Position {
	slot, ok := t.offsets.Load(table)
	if !ok {
		return common.Position{}
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.pos
}

// Snapshot returns a consistent copy of every table's offset. Each table's
// entry is read under that table's lock, so a concurrent Advance can never
// produce a torn position; tables advance independently, so the map as a
// whole is only point-in-time per table.
func (t *Tracker) Snapshot() map[string]common.Position {
	snap := make(map[string]common.Position)
	t.offsets.Range(func(table string, slot *tableOffset) bool {
		slot.mu.Lock()
		snap[table] = slot.pos
		slot.mu.Unlock()
		return true
	})
	return snap
}
