package common

import (
	"strconv"
	"time"
)

// Record header keys. Downstream consumers key off these names.
const (
	HeaderOperationType = "operation.type" // numeric Op code as decimal string
	HeaderTable         = "source.table"
	HeaderTxnID         = "source.txn.id"
	HeaderPosition      = "source.position"
)

// FieldType is the semantic type of an emitted field value. Source column
// types collapse onto this fixed set; per-type attributes (precision, scale,
// nanosecond remainder) ride on the Field itself.
type FieldType uint8

const (
	FieldString FieldType = iota
	FieldInteger
	FieldDouble
	FieldDecimal
	FieldDatetime
	FieldBool
	FieldBytes
)

func (t FieldType) String() string {
	switch t {
	case FieldString:
		return "STRING"
	case FieldInteger:
		return "INTEGER"
	case FieldDouble:
		return "DOUBLE"
	case FieldDecimal:
		return "DECIMAL"
	case FieldDatetime:
		return "DATETIME"
	case FieldBool:
		return "BOOLEAN"
	case FieldBytes:
		return "BYTES"
	default:
		return "STRING"
	}
}

// Field is a typed field value inside a ChangeRecord.
//
// Datetime fields normalize the source value to epoch milliseconds in Value;
// sub-millisecond precision is carried separately in NanosRemainder so
// consumers that only understand millisecond datetimes still get a usable
// value.
type Field struct {
	Type  FieldType `msgpack:"type"`
	Value any       `msgpack:"val"`

	// Precision and Scale are set for FieldDecimal only.
	Precision int `msgpack:"prec,omitempty"`
	Scale     int `msgpack:"scale,omitempty"`

	// NanosRemainder is set for FieldDatetime only: nanoseconds beyond the
	// millisecond carried in Value.
	NanosRemainder int32 `msgpack:"nanos,omitempty"`
}

// ChangeRecord is the emitted unit of output for one committed row mutation.
type ChangeRecord struct {
	Table    string            `msgpack:"tbl"`
	Op       Op                `msgpack:"op"`
	Position Position          `msgpack:"pos"`
	Key      string            `msgpack:"key"`
	Fields   map[string]Field  `msgpack:"fields"`
	Headers  map[string]string `msgpack:"hdrs"`
}

// NewHeaders builds the standard header set for a record.
func NewHeaders(op Op, table string, txnID uint64, pos Position) map[string]string {
	return map[string]string{
		HeaderOperationType: strconv.Itoa(int(op)),
		HeaderTable:         table,
		HeaderTxnID:         strconv.FormatUint(txnID, 10),
		HeaderPosition:      pos.String(),
	}
}

// SignalType tags a lifecycle signal.
type SignalType string

const (
	SignalNoMoreData    SignalType = "no-more-data"
	SignalEngineStarted SignalType = "engine-started"
	SignalTableStopped  SignalType = "table-stopped"
)

// LifecycleSignal is a non-data event emitted on a channel independent of
// the record stream.
type LifecycleSignal struct {
	Type    SignalType        `msgpack:"type"`
	At      time.Time         `msgpack:"at"`
	Payload map[string]string `msgpack:"payload,omitempty"`
}
