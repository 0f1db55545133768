package assembler

import (
	"testing"
	"time"

	"github.com/relogdev/relog/common"
	"github.com/stretchr/testify/require"
)

func pos(token uint64) common.Position {
	return common.Position{Kind: common.PositionLSN, Token: token}
}

func row(txnID, token uint64, id int) common.ChangeEntry {
	return common.ChangeEntry{
		TxnID:    txnID,
		Position: pos(token),
		Kind:     common.EntryRow,
		Op:       common.OpInsert,
		Table:    "orders",
		Values:   map[string]any{"id": id},
	}
}

func marker(txnID, token uint64, kind common.EntryKind, savepoint string) common.ChangeEntry {
	return common.ChangeEntry{
		TxnID:     txnID,
		Position:  pos(token),
		Kind:      kind,
		Table:     "orders",
		Savepoint: savepoint,
	}
}

func TestAssembler_BuffersUntilCommit(t *testing.T) {
	a := New("orders", 0)

	txn, err := a.Apply(row(1, 10, 1))
	require.NoError(t, err)
	require.Nil(t, txn)

	txn, err = a.Apply(row(1, 11, 2))
	require.NoError(t, err)
	require.Nil(t, txn)
	require.Equal(t, 1, a.OpenCount())
	require.Equal(t, 2, a.BufferedEntries())

	txn, err = a.Apply(marker(1, 12, common.EntryCommit, ""))
	require.NoError(t, err)
	require.NotNil(t, txn)
	require.Equal(t, uint64(1), txn.TxnID)
	require.Equal(t, pos(12), txn.CommitPosition)
	require.Equal(t, pos(12), txn.AdvancePosition)
	require.Len(t, txn.Entries, 2)
	require.Equal(t, 0, a.OpenCount())
}

func TestAssembler_SavepointPartialRollback(t *testing.T) {
	a := New("orders", 0)

	// Two rows, a savepoint, three more rows behind a second savepoint,
	// rollback to the first, then three fresh rows.
	for i, id := range []int{1, 2} {
		_, err := a.Apply(row(7, uint64(10+i), id))
		require.NoError(t, err)
	}
	_, err := a.Apply(marker(7, 12, common.EntrySavepoint, "alpha"))
	require.NoError(t, err)

	for i, id := range []int{3, 4} {
		_, err := a.Apply(row(7, uint64(13+i), id))
		require.NoError(t, err)
	}
	_, err = a.Apply(marker(7, 15, common.EntrySavepoint, "beta"))
	require.NoError(t, err)
	_, err = a.Apply(row(7, 16, 5))
	require.NoError(t, err)

	_, err = a.Apply(marker(7, 17, common.EntryRollbackTo, "alpha"))
	require.NoError(t, err)
	require.Equal(t, 2, a.BufferedEntries())

	for i, id := range []int{6, 7, 8} {
		_, err := a.Apply(row(7, uint64(18+i), id))
		require.NoError(t, err)
	}

	txn, err := a.Apply(marker(7, 21, common.EntryCommit, ""))
	require.NoError(t, err)
	require.NotNil(t, txn)
	require.Len(t, txn.Entries, 5)

	ids := make([]int, 0, len(txn.Entries))
	for _, e := range txn.Entries {
		ids = append(ids, e.Values["id"].(int))
	}
	require.Equal(t, []int{1, 2, 6, 7, 8}, ids)
}

func TestAssembler_RollbackToInvalidatesLaterSavepoints(t *testing.T) {
	a := New("orders", 0)

	_, err := a.Apply(row(3, 10, 1))
	require.NoError(t, err)
	_, err = a.Apply(marker(3, 11, common.EntrySavepoint, "alpha"))
	require.NoError(t, err)
	_, err = a.Apply(row(3, 12, 2))
	require.NoError(t, err)
	_, err = a.Apply(marker(3, 13, common.EntrySavepoint, "beta"))
	require.NoError(t, err)

	_, err = a.Apply(marker(3, 14, common.EntryRollbackTo, "alpha"))
	require.NoError(t, err)

	// "beta" was taken after "alpha" and must be gone.
	_, err = a.Apply(marker(3, 15, common.EntryRollbackTo, "beta"))
	var unknownSP *common.UnknownSavepointError
	require.ErrorAs(t, err, &unknownSP)
	require.Equal(t, uint64(3), unknownSP.TxnID)
	require.Equal(t, "beta", unknownSP.Savepoint)
	require.Equal(t, 0, a.OpenCount())
}

func TestAssembler_UnknownSavepointDropsTransaction(t *testing.T) {
	a := New("orders", 0)

	_, err := a.Apply(row(5, 10, 1))
	require.NoError(t, err)

	_, err = a.Apply(marker(5, 11, common.EntryRollbackTo, "ghost"))
	var unknownSP *common.UnknownSavepointError
	require.ErrorAs(t, err, &unknownSP)
	require.Equal(t, 0, a.OpenCount())

	// A later commit for the dropped transaction releases nothing.
	txn, err := a.Apply(marker(5, 12, common.EntryCommit, ""))
	require.NoError(t, err)
	require.Nil(t, txn)
}

func TestAssembler_RollbackToBeforeAnyWork(t *testing.T) {
	a := New("orders", 0)

	// No buffer exists for this transaction yet; nothing to do.
	txn, err := a.Apply(marker(9, 10, common.EntryRollbackTo, "alpha"))
	require.NoError(t, err)
	require.Nil(t, txn)
}

func TestAssembler_FullRollbackDiscards(t *testing.T) {
	a := New("orders", 0)

	_, err := a.Apply(row(2, 10, 1))
	require.NoError(t, err)
	_, err = a.Apply(row(2, 11, 2))
	require.NoError(t, err)

	txn, err := a.Apply(marker(2, 12, common.EntryRollback, ""))
	require.NoError(t, err)
	require.Nil(t, txn)
	require.Equal(t, 0, a.OpenCount())
}

func TestAssembler_EmptyCommitReleasesNothing(t *testing.T) {
	a := New("orders", 0)

	txn, err := a.Apply(marker(4, 10, common.EntryCommit, ""))
	require.NoError(t, err)
	require.Nil(t, txn)
}

func TestAssembler_InterleavedTransactionsReleaseInCommitOrder(t *testing.T) {
	a := New("orders", 0)

	// Long-running txn 1 starts first but commits last.
	_, err := a.Apply(row(1, 10, 1))
	require.NoError(t, err)
	_, err = a.Apply(row(2, 11, 100))
	require.NoError(t, err)
	_, err = a.Apply(row(1, 12, 2))
	require.NoError(t, err)

	first, err := a.Apply(marker(2, 13, common.EntryCommit, ""))
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, uint64(2), first.TxnID)
	require.Len(t, first.Entries, 1)

	// Txn 1 opened at position 10 and is still buffering, so resuming past
	// position 9 would lose its entries.
	require.Equal(t, pos(13), first.CommitPosition)
	require.Equal(t, pos(9), first.AdvancePosition)

	// Txn 1 keeps buffering after the other commit.
	_, err = a.Apply(row(1, 14, 3))
	require.NoError(t, err)

	second, err := a.Apply(marker(1, 15, common.EntryCommit, ""))
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, uint64(1), second.TxnID)
	require.Len(t, second.Entries, 3)
	require.True(t, first.CommitPosition.Compare(second.CommitPosition) < 0)

	// Nothing remains open: the watermark reaches the commit position.
	require.Equal(t, pos(15), second.AdvancePosition)
}

func TestAssembler_WatermarkTracksOldestOpenTransaction(t *testing.T) {
	a := New("orders", 0)

	// Three overlapping transactions opening at 10, 11 and 12.
	for i, txnID := range []uint64{1, 2, 3} {
		_, err := a.Apply(row(txnID, uint64(10+i), i))
		require.NoError(t, err)
	}

	// Txn 3 commits first: capped below txn 1's opening position.
	txn, err := a.Apply(marker(3, 13, common.EntryCommit, ""))
	require.NoError(t, err)
	require.Equal(t, pos(9), txn.AdvancePosition)

	// Txn 1 commits next: txn 2 is now the oldest open.
	txn, err = a.Apply(marker(1, 14, common.EntryCommit, ""))
	require.NoError(t, err)
	require.Equal(t, pos(10), txn.AdvancePosition)

	// Last one out carries the full commit position.
	txn, err = a.Apply(marker(2, 15, common.EntryCommit, ""))
	require.NoError(t, err)
	require.Equal(t, pos(15), txn.AdvancePosition)
}

func TestAssembler_ExpireDropsStaleTransactions(t *testing.T) {
	a := New("orders", time.Minute)

	now := time.Now()
	a.now = func() time.Time { return now }

	_, err := a.Apply(row(1, 10, 1))
	require.NoError(t, err)

	// Within the bound: nothing expires.
	require.Empty(t, a.Expire())

	a.now = func() time.Time { return now.Add(2 * time.Minute) }

	dropped := a.Expire()
	require.Len(t, dropped, 1)
	require.Equal(t, uint64(1), dropped[0].TxnID)
	require.Equal(t, "orders", dropped[0].Table)
	require.Equal(t, 0, a.OpenCount())

	// The engine keeps consuming after the drop; a commit for the expired
	// transaction is a no-op.
	txn, err := a.Apply(marker(1, 11, common.EntryCommit, ""))
	require.NoError(t, err)
	require.Nil(t, txn)
}
