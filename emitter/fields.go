package emitter

import (
	"time"

	"github.com/relogdev/relog/common"
)

// typedField builds a Field for a known column, attaching the column's type
// metadata. Datetimes are normalized to epoch milliseconds with the
// sub-millisecond remainder carried separately so consumers limited to
// millisecond precision still read a usable value.
func typedField(col common.ColumnInfo, val any) common.Field {
	if val == nil {
		return common.Field{Type: col.Type}
	}

	switch col.Type {
	case common.FieldDatetime:
		switch v := val.(type) {
		case time.Time:
			millis := v.UnixMilli()
			nanos := int32(v.UnixNano() - millis*int64(time.Millisecond))
			return common.Field{Type: common.FieldDatetime, Value: millis, NanosRemainder: nanos}
		case int64:
			// Already epoch milliseconds.
			return common.Field{Type: common.FieldDatetime, Value: v}
		default:
			return common.Field{Type: common.FieldDatetime, Value: val}
		}

	case common.FieldDecimal:
		return common.Field{
			Type:      common.FieldDecimal,
			Value:     val,
			Precision: col.Precision,
			Scale:     col.Scale,
		}

	case common.FieldInteger:
		return common.Field{Type: common.FieldInteger, Value: coerceInt(val)}

	default:
		return common.Field{Type: col.Type, Value: val}
	}
}

// inferField builds a Field for a column absent from the schema, typing it
// from the Go value.
func inferField(val any) common.Field {
	switch v := val.(type) {
	case nil:
		return common.Field{Type: common.FieldString}
	case string:
		return common.Field{Type: common.FieldString, Value: v}
	case bool:
		return common.Field{Type: common.FieldBool, Value: v}
	case float32, float64:
		return common.Field{Type: common.FieldDouble, Value: v}
	case []byte:
		return common.Field{Type: common.FieldBytes, Value: v}
	case time.Time:
		return typedField(common.ColumnInfo{Type: common.FieldDatetime}, v)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return common.Field{Type: common.FieldInteger, Value: coerceInt(v)}
	default:
		return common.Field{Type: common.FieldString, Value: v}
	}
}

func coerceInt(val any) any {
	switch v := val.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	default:
		return val
	}
}
