package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPosition_Compare(t *testing.T) {
	a := Position{Kind: PositionLSN, Token: 10}
	b := Position{Kind: PositionLSN, Token: 20}

	require.Equal(t, -1, a.Compare(b))
	require.Equal(t, 1, b.Compare(a))
	require.Equal(t, 0, a.Compare(a))
}

func TestPosition_ZeroSortsFirst(t *testing.T) {
	zero := Position{}
	set := Position{Kind: PositionVersion, Token: 1}

	require.Equal(t, -1, zero.Compare(set))
	require.Equal(t, 1, set.Compare(zero))
	require.Equal(t, 0, zero.Compare(Position{}))
	require.True(t, zero.IsZero())
	require.False(t, set.IsZero())
}

func TestPosition_CrossKindComparePanics(t *testing.T) {
	lsn := Position{Kind: PositionLSN, Token: 1}
	ver := Position{Kind: PositionVersion, Token: 1}

	require.Panics(t, func() { lsn.Compare(ver) })
}

func TestPosition_String(t *testing.T) {
	require.Equal(t, "lsn:42", Position{Kind: PositionLSN, Token: 42}.String())
	require.Equal(t, "timestamp:1700000000000", Position{Kind: PositionTimestamp, Token: 1700000000000}.String())
}

func TestOp_NumericContract(t *testing.T) {
	// The numeric codes are read by downstream consumers from record
	// headers and must never shift.
	require.Equal(t, uint8(1), uint8(OpInsert))
	require.Equal(t, uint8(2), uint8(OpDelete))
	require.Equal(t, uint8(3), uint8(OpUpdate))
}

func TestNewHeaders(t *testing.T) {
	h := NewHeaders(OpUpdate, "orders", 77, Position{Kind: PositionLSN, Token: 5})

	require.Equal(t, "3", h[HeaderOperationType])
	require.Equal(t, "orders", h[HeaderTable])
	require.Equal(t, "77", h[HeaderTxnID])
	require.Equal(t, "lsn:5", h[HeaderPosition])
}
