// Package source defines the contract to a transactional source's change
// log and the reader that consumes it. The engine never speaks any vendor
// protocol itself; a Feed implementation (backed by redo logs, CDC capture
// tables, change-tracking tables) is supplied by the host.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/relogdev/relog/common"
	"github.com/rs/zerolog/log"
)

// ErrStreamClosed is returned by EntryStream.Next after Close. Closing the
// stream is the unit of cancellation: it unblocks a blocked Next.
var ErrStreamClosed = errors.New("entry stream closed")

// Feed is the connection to a source change log. Implementations may hold a
// persistent connection; Open-returned streams are single pass and must be
// reopened with a fresh position to restart.
type Feed interface {
	// Tables lists the tables (or capture instances) the feed can serve.
	Tables(ctx context.Context) ([]string, error)

	// Open starts streaming change entries for one table strictly after
	// start. A zero start position means the earliest retained entry.
	// Returns common.ErrSourceUnavailable (possibly wrapped) when the log
	// required to satisfy start no longer exists.
	Open(ctx context.Context, table string, start common.Position) (EntryStream, error)

	// CurrentPosition reports the source's current head position, used for
	// "start from now" initial offsets and to anchor explicit start tokens
	// to the source's position kind. An empty log reports the zero token
	// stamped with the source's kind, never the kindless zero position.
	CurrentPosition(ctx context.Context) (common.Position, error)

	// Schema returns column metadata for a table.
	Schema(ctx context.Context, table string) (common.TableSchema, error)
}

// EntryStream yields change entries in log order. Next blocks until an
// entry is available, the context is done, or the stream is closed.
type EntryStream interface {
	Next(ctx context.Context) (common.ChangeEntry, error)
	Close() error
}

// LogReader wraps a Feed for a single resolved table. It owns the open
// stream and enforces the single-pass contract: a reader is opened once,
// and restarting from a new position requires closing and reopening.
type LogReader struct {
	feed   Feed
	table  string
	stream EntryStream
	opened bool
}

// NewLogReader creates a reader for one table.
func NewLogReader(feed Feed, table string) *LogReader {
	return &LogReader{feed: feed, table: table}
}

// Open validates the table against the feed catalog and opens the stream at
// start. A table absent from the catalog is a configuration error; a start
// position the source can no longer serve is ErrSourceUnavailable.
func (r *LogReader) Open(ctx context.Context, start common.Position) error {
	if r.opened {
		return fmt.Errorf("reader for table %s already opened", r.table)
	}

	tables, err := r.feed.Tables(ctx)
	if err != nil {
		return fmt.Errorf("listing source tables: %w", err)
	}
	found := false
	for _, t := range tables {
		if t == r.table {
			found = true
			break
		}
	}
	if !found {
		return &common.ConfigurationError{
			Field:  "table",
			Reason: fmt.Sprintf("no capture artifact exists for table %q", r.table),
		}
	}

	stream, err := r.feed.Open(ctx, r.table, start)
	if err != nil {
		if errors.Is(err, common.ErrSourceUnavailable) {
			return fmt.Errorf("opening %s at %s: %w", r.table, start, err)
		}
		return fmt.Errorf("opening change stream for %s: %w", r.table, err)
	}

	r.stream = stream
	r.opened = true

	log.Debug().Str("table", r.table).Stringer("start", start).Msg("Opened change log reader")
	return nil
}

// Read returns the next change entry, blocking until one is available.
func (r *LogReader) Read(ctx context.Context) (common.ChangeEntry, error) {
	if !r.opened {
		return common.ChangeEntry{}, fmt.Errorf("reader for table %s not opened", r.table)
	}
	return r.stream.Next(ctx)
}

// Close closes the underlying stream, unblocking any in-flight Read.
func (r *LogReader) Close() error {
	if !r.opened {
		return nil
	}
	r.opened = false
	return r.stream.Close()
}

// Table returns the table this reader serves.
func (r *LogReader) Table() string {
	return r.table
}
