package common

import (
	"errors"
	"fmt"
)

// Sentinel errors for per-table and per-record failure modes. Callers match
// them with errors.Is after wrapping.
var (
	// ErrSourceUnavailable means the log or catalog needed to satisfy the
	// requested start position no longer exists (retention expired, capture
	// dropped). Fatal for the affected table pipeline.
	ErrSourceUnavailable = errors.New("source log unavailable for requested position")

	// ErrMissingRowKey means a record's configured row-key expression
	// evaluated to empty. Handled per record according to configuration.
	ErrMissingRowKey = errors.New("row key missing")
)

// ConfigurationError is a startup-time validation failure. The engine never
// starts when one is returned.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %q: %s", e.Field, e.Reason)
}

// UnknownSavepointError reports a rollback to a savepoint that was never
// recorded in the transaction. Recoverable: the offending transaction is
// dropped and processing continues.
type UnknownSavepointError struct {
	TxnID     uint64
	Savepoint string
}

func (e *UnknownSavepointError) Error() string {
	return fmt.Sprintf("transaction %d rolled back to unknown savepoint %q", e.TxnID, e.Savepoint)
}

// TransactionTimeoutError reports a transaction held open past the
// configured maximum duration. Recoverable: the transaction's buffer is
// freed and processing continues.
type TransactionTimeoutError struct {
	TxnID uint64
	Table string
}

func (e *TransactionTimeoutError) Error() string {
	return fmt.Sprintf("transaction %d on table %s open past maximum duration", e.TxnID, e.Table)
}
