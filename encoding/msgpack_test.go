package encoding

import (
	"testing"

	"github.com/relogdev/relog/common"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshal_Position(t *testing.T) {
	pos := common.Position{Kind: common.PositionLSN, Token: 42}

	data, err := Marshal(pos)
	require.NoError(t, err)

	var got common.Position
	require.NoError(t, Unmarshal(data, &got))
	require.Equal(t, pos, got)
}

func TestUnmarshal_LooseStringDecoding(t *testing.T) {
	entry := common.ChangeEntry{
		TxnID:  7,
		Kind:   common.EntryRow,
		Op:     common.OpInsert,
		Table:  "HOBBITS",
		Values: map[string]any{"ID": int64(1), "NAME": "FRODO"},
	}

	data, err := Marshal(&entry)
	require.NoError(t, err)

	var got common.ChangeEntry
	require.NoError(t, Unmarshal(data, &got))

	// String column values must come back as strings, not []byte, so row
	// keys built from them stay stable across a restart.
	name, ok := got.Values["NAME"].(string)
	require.True(t, ok, "NAME decoded as %T, want string", got.Values["NAME"])
	require.Equal(t, "FRODO", name)
}
