package common

import "time"

// Op identifies the row operation carried by a change entry. The numeric
// values are part of the output contract: downstream consumers read them
// from the operation.type record header.
type Op uint8

const (
	OpInsert Op = 1
	OpDelete Op = 2
	OpUpdate Op = 3
)

// String returns the SQL verb for the operation.
func (o Op) String() string {
	switch o {
	case OpInsert:
		return "INSERT"
	case OpDelete:
		return "DELETE"
	case OpUpdate:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// EntryKind distinguishes row mutations from transaction control markers in
// the raw change log stream.
type EntryKind uint8

const (
	EntryRow        EntryKind = iota // INSERT/UPDATE/DELETE against a row
	EntrySavepoint                   // named savepoint taken inside a transaction
	EntryRollbackTo                  // partial rollback to a named savepoint
	EntryCommit                      // transaction committed
	EntryRollback                    // transaction fully rolled back
)

// ChangeEntry is one raw entry read from a source change log. Entries are
// immutable once read; the assembler never mutates them, only buffers and
// releases them.
type ChangeEntry struct {
	TxnID    uint64         `msgpack:"txn"`
	Position Position       `msgpack:"pos"`
	Kind     EntryKind      `msgpack:"kind"`
	Op       Op             `msgpack:"op"`
	Table    string         `msgpack:"tbl"`
	Values   map[string]any `msgpack:"vals"`

	// Savepoint carries the savepoint name for EntrySavepoint and
	// EntryRollbackTo entries.
	Savepoint string `msgpack:"sp,omitempty"`

	// Timestamp is the source-side event time, when the source reports one.
	Timestamp time.Time `msgpack:"ts,omitempty"`
}
