// Package encoding provides centralized serialization for relog. All msgpack
// operations go through this package so persisted offsets and buffered
// entries decode identically everywhere.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data using loose interface decoding. When
// decoding into interface{}, strings come back as Go strings rather than
// []byte. Change-entry column values are map[string]any, so without this a
// persisted-and-reloaded entry would flip TEXT values to BLOB and row keys
// built from them would no longer match.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}
