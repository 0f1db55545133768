// Package emitter converts assembled transactions into typed change records
// and lifecycle signals, advancing the offset tracker once a transaction has
// been handed off in full.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/relogdev/relog/assembler"
	"github.com/relogdev/relog/common"
	"github.com/relogdev/relog/offset"
	"github.com/relogdev/relog/telemetry"
	"github.com/rs/zerolog/log"
)

// RecordError is a per-record failure routed to the error channel instead of
// stopping the pipeline.
type RecordError struct {
	Table string
	Entry common.ChangeEntry
	Err   error
}

// Config configures an Emitter.
type Config struct {
	Schemas SchemaProvider
	Tracker *offset.Tracker

	Records chan<- common.ChangeRecord
	Signals chan<- common.LifecycleSignal
	Errors  chan<- RecordError

	// IgnoreMissingKey discards records whose row key evaluates to empty
	// instead of routing them to Errors.
	IgnoreMissingKey bool
}

// Emitter converts committed transactions into change records. One emitter
// is shared by all table pipelines; it holds no per-table state.
type Emitter struct {
	cfg Config
}

// New creates an emitter.
func New(cfg Config) (*Emitter, error) {
	if cfg.Schemas == nil {
		return nil, fmt.Errorf("schema provider is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("offset tracker is required")
	}
	if cfg.Records == nil {
		return nil, fmt.Errorf("records channel is required")
	}
	return &Emitter{cfg: cfg}, nil
}

// EmitTransaction emits one committed transaction's entries in order, then
// advances the offset tracker. If the context is cancelled mid-way the
// tracker is NOT advanced: the whole transaction replays from the last
// persisted offset on restart.
func (e *Emitter) EmitTransaction(ctx context.Context, txn *assembler.CommittedTransaction) error {
	start := time.Now()

	schema, err := e.cfg.Schemas.Schema(ctx, txn.Table)
	if err != nil {
		return fmt.Errorf("resolving schema for %s: %w", txn.Table, err)
	}

	for _, entry := range txn.Entries {
		rec, err := e.buildRecord(schema, entry)
		if err != nil {
			if e.cfg.IgnoreMissingKey && errors.Is(err, common.ErrMissingRowKey) {
				log.Debug().
					Str("table", txn.Table).
					Uint64("txn", txn.TxnID).
					Msg("Discarding record with missing row key")
				continue
			}
			if e.cfg.Errors != nil {
				select {
				case e.cfg.Errors <- RecordError{Table: txn.Table, Entry: entry, Err: err}:
					telemetry.ErrorRecordsTotal.Inc()
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}

		select {
		case e.cfg.Records <- rec:
			telemetry.RecordsEmittedTotal.With(txn.Table).Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := e.cfg.Tracker.Advance(txn.Table, txn.AdvancePosition); err != nil {
		return err
	}

	telemetry.EmitDurationSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// Signal emits one lifecycle signal, blocking until delivered or the
// context is done.
func (e *Emitter) Signal(ctx context.Context, sig common.LifecycleSignal) error {
	if e.cfg.Signals == nil {
		return nil
	}
	select {
	case e.cfg.Signals <- sig:
		telemetry.SignalsEmittedTotal.With(string(sig.Type)).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildRecord converts one row entry. UPDATE entries carry only the columns
// the source reported as changed; absent columns must not appear in the
// record at all, so fields are built strictly from entry.Values.
func (e *Emitter) buildRecord(schema common.TableSchema, entry common.ChangeEntry) (common.ChangeRecord, error) {
	fields := make(map[string]common.Field, len(entry.Values))
	for name, val := range entry.Values {
		if col, ok := schema.Column(name); ok {
			fields[name] = typedField(col, val)
		} else {
			fields[name] = inferField(val)
		}
	}

	key, err := rowKey(schema, entry)
	if err != nil {
		return common.ChangeRecord{}, err
	}

	return common.ChangeRecord{
		Table:    entry.Table,
		Op:       entry.Op,
		Position: entry.Position,
		Key:      key,
		Fields:   fields,
		Headers:  common.NewHeaders(entry.Op, entry.Table, entry.TxnID, entry.Position),
	}, nil
}

// rowKey joins the key columns' values. DELETE and UPDATE entries from
// change logs always carry their key columns, so an empty result means the
// source row has no usable key.
func rowKey(schema common.TableSchema, entry common.ChangeEntry) (string, error) {
	keyCols := schema.KeyColumns()
	if len(keyCols) == 0 {
		// No declared key: fall back to all values, sorted by column name
		// for stability.
		names := make([]string, 0, len(entry.Values))
		for name := range entry.Values {
			names = append(names, name)
		}
		sort.Strings(names)
		keyCols = names
	}

	parts := make([]string, 0, len(keyCols))
	for _, name := range keyCols {
		val, ok := entry.Values[name]
		if !ok || val == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%v", val))
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("table %s: %w", entry.Table, common.ErrMissingRowKey)
	}
	return strings.Join(parts, "|"), nil
}
