package sink

import (
	"encoding/json"
	"fmt"

	"github.com/relogdev/relog/common"
)

// envelopeField carries a typed column value. Precision, scale and the
// nanosecond remainder ride along as attributes so consumers can restore
// exact decimals and sub-millisecond timestamps.
type envelopeField struct {
	Type           string `json:"type"`
	Value          any    `json:"value"`
	Precision      int    `json:"precision,omitempty"`
	Scale          int    `json:"scale,omitempty"`
	NanosRemainder int32  `json:"nanos,omitempty"`
}

// envelope is the wire format for a single change record.
type envelope struct {
	Table    string                   `json:"table"`
	Op       uint8                    `json:"op"`
	Position string                   `json:"position"`
	Key      string                   `json:"key"`
	Fields   map[string]envelopeField `json:"fields"`
	Headers  map[string]string        `json:"headers"`
}

// signalEnvelope is the wire format for a lifecycle signal.
type signalEnvelope struct {
	Type    string            `json:"type"`
	At      int64             `json:"at_ms"`
	Payload map[string]string `json:"payload,omitempty"`
}

// encodeRecord serializes a change record for publishing.
func encodeRecord(rec common.ChangeRecord) ([]byte, error) {
	fields := make(map[string]envelopeField, len(rec.Fields))
	for name, f := range rec.Fields {
		fields[name] = envelopeField{
			Type:           f.Type.String(),
			Value:          f.Value,
			Precision:      f.Precision,
			Scale:          f.Scale,
			NanosRemainder: f.NanosRemainder,
		}
	}

	env := envelope{
		Table:    rec.Table,
		Op:       uint8(rec.Op),
		Position: rec.Position.String(),
		Key:      rec.Key,
		Fields:   fields,
		Headers:  rec.Headers,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding record for %s: %w", rec.Table, err)
	}
	return data, nil
}

// encodeSignal serializes a lifecycle signal for publishing.
func encodeSignal(sig common.LifecycleSignal) ([]byte, error) {
	env := signalEnvelope{
		Type:    string(sig.Type),
		At:      sig.At.UnixMilli(),
		Payload: sig.Payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding signal %s: %w", sig.Type, err)
	}
	return data, nil
}

// tombstone is the delete marker published after a DELETE record so
// log-compacted topics drop the key.
func tombstone() []byte { return nil }
