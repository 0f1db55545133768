package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/relogdev/relog/common"
)

// ScriptedFeed is an in-memory Feed used in tests and by hosts embedding the
// engine against fixture data. Entries are appended per table and served in
// order; streams block until new entries arrive, the stream is closed, or
// the context is done.
type ScriptedFeed struct {
	mu      sync.Mutex
	entries map[string][]common.ChangeEntry
	schemas map[string]common.TableSchema
	kind    common.PositionKind
	head    common.Position
	floor   common.Position // earliest position still retained
	wakeup  chan struct{}
}

// NewScriptedFeed creates an empty feed positioned by log sequence numbers.
func NewScriptedFeed() *ScriptedFeed {
	return &ScriptedFeed{
		entries: make(map[string][]common.ChangeEntry),
		schemas: make(map[string]common.TableSchema),
		kind:    common.PositionLSN,
		wakeup:  make(chan struct{}),
	}
}

// AddTable registers a table and its schema with the feed catalog.
func (f *ScriptedFeed) AddTable(schema common.TableSchema) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemas[schema.Table] = schema
	if _, ok := f.entries[schema.Table]; !ok {
		f.entries[schema.Table] = nil
	}
}

// Append adds change entries to a table's log and wakes blocked streams.
func (f *ScriptedFeed) Append(table string, entries ...common.ChangeEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries[table] = append(f.entries[table], entries...)
	for _, e := range entries {
		if f.head.IsZero() || e.Position.Compare(f.head) > 0 {
			f.head = e.Position
		}
	}

	close(f.wakeup)
	f.wakeup = make(chan struct{})
}

// ExpireThrough simulates log retention: positions at or below pos are no
// longer servable and opening below them fails with ErrSourceUnavailable.
func (f *ScriptedFeed) ExpireThrough(pos common.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.floor = pos
}

// Tables implements Feed.
func (f *ScriptedFeed) Tables(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tables := make([]string, 0, len(f.schemas))
	for t := range f.schemas {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables, nil
}

// CurrentPosition implements Feed. An empty log reports the zero token with
// the feed's position kind.
func (f *ScriptedFeed) CurrentPosition(ctx context.Context) (common.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.head.IsZero() {
		return common.Position{Kind: f.kind}, nil
	}
	return f.head, nil
}

// Schema implements Feed.
func (f *ScriptedFeed) Schema(ctx context.Context, table string) (common.TableSchema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	schema, ok := f.schemas[table]
	if !ok {
		return common.TableSchema{}, fmt.Errorf("unknown table %q", table)
	}
	return schema, nil
}

// Open implements Feed.
func (f *ScriptedFeed) Open(ctx context.Context, table string, start common.Position) (EntryStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.schemas[table]; !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if !f.floor.IsZero() && !start.IsZero() && start.Compare(f.floor) < 0 {
		return nil, fmt.Errorf("position %s expired from retained log: %w", start, common.ErrSourceUnavailable)
	}

	return &scriptedStream{
		feed:   f,
		table:  table,
		start:  start,
		closed: make(chan struct{}),
	}, nil
}

type scriptedStream struct {
	feed      *ScriptedFeed
	table     string
	start     common.Position
	idx       int
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *scriptedStream) Next(ctx context.Context) (common.ChangeEntry, error) {
	for {
		s.feed.mu.Lock()
		entries := s.feed.entries[s.table]
		for s.idx < len(entries) {
			entry := entries[s.idx]
			s.idx++
			if s.start.IsZero() || entry.Position.Compare(s.start) > 0 {
				s.feed.mu.Unlock()
				return entry, nil
			}
		}
		wake := s.feed.wakeup
		s.feed.mu.Unlock()

		select {
		case <-s.closed:
			return common.ChangeEntry{}, ErrStreamClosed
		case <-ctx.Done():
			return common.ChangeEntry{}, ctx.Err()
		case <-wake:
		}
	}
}

func (s *scriptedStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
