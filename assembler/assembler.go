// Package assembler groups raw change entries by transaction and releases
// them only at commit, in commit order. Uncommitted work is buffered in
// memory; savepoints allow partial rollback of that buffer, and a timeout
// bound frees transactions abandoned by the source.
package assembler

import (
	"time"

	"github.com/relogdev/relog/common"
	"github.com/relogdev/relog/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultMaxOpen is the default bound on how long a transaction may stay
// open before its buffer is dropped.
const DefaultMaxOpen = time.Hour

// CommittedTransaction is the unit handed to the emitter: the surviving
// row entries of one transaction, in entry order, plus the position of the
// commit marker that released them.
//
// AdvancePosition is the resume watermark: the commit position, capped just
// below the first entry of the oldest transaction still open at commit time.
// Advancing past an open transaction's entries would skip them on restart,
// because reopening the log serves entries strictly after the offset.
type CommittedTransaction struct {
	TxnID           uint64
	Table           string
	CommitPosition  common.Position
	AdvancePosition common.Position
	Entries         []common.ChangeEntry
}

type openTxn struct {
	entries    []common.ChangeEntry
	savepoints map[string]int // savepoint name -> entry count when taken
	firstPos   common.Position
	firstSeen  time.Time
}

// Assembler buffers in-flight transactions for a single table pipeline.
// It is not safe for concurrent use; each table pipeline owns one.
type Assembler struct {
	table   string
	maxOpen time.Duration
	open    map[uint64]*openTxn
	now     func() time.Time
}

// New creates an assembler for one table. maxOpen <= 0 selects
// DefaultMaxOpen.
func New(table string, maxOpen time.Duration) *Assembler {
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpen
	}
	return &Assembler{
		table:   table,
		maxOpen: maxOpen,
		open:    make(map[uint64]*openTxn),
		now:     time.Now,
	}
}

// Apply feeds one raw entry through the assembler. It returns a non-nil
// CommittedTransaction exactly when the entry is a commit marker releasing
// buffered work. A rollback to an unrecorded savepoint returns
// *common.UnknownSavepointError and drops the transaction; the caller logs
// and continues.
func (a *Assembler) Apply(entry common.ChangeEntry) (*CommittedTransaction, error) {
	switch entry.Kind {
	case common.EntryRow:
		txn := a.get(entry.TxnID)
		if txn.firstPos.IsZero() {
			txn.firstPos = entry.Position
		}
		txn.entries = append(txn.entries, entry)
		return nil, nil

	case common.EntrySavepoint:
		txn := a.get(entry.TxnID)
		if txn.savepoints == nil {
			txn.savepoints = make(map[string]int)
		}
		txn.savepoints[entry.Savepoint] = len(txn.entries)
		return nil, nil

	case common.EntryRollbackTo:
		txn, ok := a.open[entry.TxnID]
		if !ok {
			// Nothing buffered; a rollback to a savepoint taken before any
			// row work is a no-op.
			return nil, nil
		}
		mark, ok := txn.savepoints[entry.Savepoint]
		if !ok {
			delete(a.open, entry.TxnID)
			telemetry.TransactionsDroppedTotal.With("unknown_savepoint").Inc()
			return nil, &common.UnknownSavepointError{TxnID: entry.TxnID, Savepoint: entry.Savepoint}
		}
		txn.entries = txn.entries[:mark]
		// Savepoints taken after the restored mark are gone too.
		for name, n := range txn.savepoints {
			if n > mark {
				delete(txn.savepoints, name)
			}
		}
		return nil, nil

	case common.EntryCommit:
		txn, ok := a.open[entry.TxnID]
		if !ok {
			// Empty transaction, or one whose buffer was already dropped.
			return nil, nil
		}
		delete(a.open, entry.TxnID)
		if len(txn.entries) == 0 {
			return nil, nil
		}
		telemetry.TransactionsCommittedTotal.Inc()
		return &CommittedTransaction{
			TxnID:           entry.TxnID,
			Table:           a.table,
			CommitPosition:  entry.Position,
			AdvancePosition: a.advancePosition(entry.Position),
			Entries:         txn.entries,
		}, nil

	case common.EntryRollback:
		delete(a.open, entry.TxnID)
		return nil, nil

	default:
		log.Warn().
			Str("table", a.table).
			Uint64("txn", entry.TxnID).
			Uint8("kind", uint8(entry.Kind)).
			Msg("Dropping change entry of unknown kind")
		return nil, nil
	}
}

// Expire drops transactions open longer than the configured bound and
// returns one error per dropped transaction. Callers invoke it periodically
// from the pipeline loop.
func (a *Assembler) Expire() []*common.TransactionTimeoutError {
	var dropped []*common.TransactionTimeoutError
	cutoff := a.now().Add(-a.maxOpen)

	for id, txn := range a.open {
		if txn.firstSeen.Before(cutoff) {
			delete(a.open, id)
			telemetry.TransactionsDroppedTotal.With("timeout").Inc()
			dropped = append(dropped, &common.TransactionTimeoutError{TxnID: id, Table: a.table})
		}
	}
	return dropped
}

// advancePosition caps a commit position below the first entry of the
// oldest transaction still buffering, so a restart from the offset
// redelivers that transaction's entries instead of skipping them.
func (a *Assembler) advancePosition(commitPos common.Position) common.Position {
	oldest, ok := a.oldestOpenPosition()
	if !ok || oldest.Compare(commitPos) > 0 {
		return commitPos
	}
	return common.Position{Kind: oldest.Kind, Token: oldest.Token - 1}
}

// oldestOpenPosition returns the smallest first-entry position among open
// transactions. Transactions with no row entries yet hold nothing that a
// restart could lose and are skipped.
func (a *Assembler) oldestOpenPosition() (common.Position, bool) {
	var oldest common.Position
	found := false
	for _, txn := range a.open {
		if txn.firstPos.IsZero() {
			continue
		}
		if !found || txn.firstPos.Compare(oldest) < 0 {
			oldest = txn.firstPos
			found = true
		}
	}
	return oldest, found
}

// OpenCount returns the number of buffered, uncommitted transactions.
func (a *Assembler) OpenCount() int {
	return len(a.open)
}

// BufferedEntries returns the total number of buffered row entries across
// all open transactions.
func (a *Assembler) BufferedEntries() int {
	n := 0
	for _, txn := range a.open {
		n += len(txn.entries)
	}
	return n
}

func (a *Assembler) get(txnID uint64) *openTxn {
	txn, ok := a.open[txnID]
	if !ok {
		txn = &openTxn{firstSeen: a.now()}
		a.open[txnID] = txn
	}
	return txn
}
