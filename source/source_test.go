package source

import (
	"context"
	"testing"
	"time"

	"github.com/relogdev/relog/common"
	"github.com/stretchr/testify/require"
)

func lsn(token uint64) common.Position {
	return common.Position{Kind: common.PositionLSN, Token: token}
}

func entry(table string, token uint64) common.ChangeEntry {
	return common.ChangeEntry{
		TxnID:    1,
		Position: lsn(token),
		Kind:     common.EntryRow,
		Op:       common.OpInsert,
		Table:    table,
		Values:   map[string]any{"id": int(token)},
	}
}

func feedWith(tables ...string) *ScriptedFeed {
	feed := NewScriptedFeed()
	for _, t := range tables {
		feed.AddTable(common.TableSchema{Table: t})
	}
	return feed
}

func TestLogReader_ReadsInLogOrder(t *testing.T) {
	feed := feedWith("orders")
	feed.Append("orders", entry("orders", 1), entry("orders", 2), entry("orders", 3))

	r := NewLogReader(feed, "orders")
	require.NoError(t, r.Open(context.Background(), common.Position{}))
	defer r.Close()

	for want := uint64(1); want <= 3; want++ {
		e, err := r.Read(context.Background())
		require.NoError(t, err)
		require.Equal(t, lsn(want), e.Position)
	}
}

func TestLogReader_StartPositionIsExclusive(t *testing.T) {
	feed := feedWith("orders")
	feed.Append("orders", entry("orders", 1), entry("orders", 2), entry("orders", 3))

	r := NewLogReader(feed, "orders")
	require.NoError(t, r.Open(context.Background(), lsn(2)))
	defer r.Close()

	e, err := r.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, lsn(3), e.Position)
}

func TestLogReader_UnknownTableIsConfigurationError(t *testing.T) {
	feed := feedWith("orders")

	r := NewLogReader(feed, "missing")
	err := r.Open(context.Background(), common.Position{})

	var cfgErr *common.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLogReader_ExpiredPositionIsSourceUnavailable(t *testing.T) {
	feed := feedWith("orders")
	feed.Append("orders", entry("orders", 5))
	feed.ExpireThrough(lsn(4))

	r := NewLogReader(feed, "orders")
	err := r.Open(context.Background(), lsn(2))
	require.ErrorIs(t, err, common.ErrSourceUnavailable)
}

func TestLogReader_BlockedReadUnblocksOnAppend(t *testing.T) {
	feed := feedWith("orders")

	r := NewLogReader(feed, "orders")
	require.NoError(t, r.Open(context.Background(), common.Position{}))
	defer r.Close()

	got := make(chan common.ChangeEntry, 1)
	go func() {
		e, err := r.Read(context.Background())
		if err == nil {
			got <- e
		}
	}()

	time.Sleep(20 * time.Millisecond)
	feed.Append("orders", entry("orders", 9))

	select {
	case e := <-got:
		require.Equal(t, lsn(9), e.Position)
	case <-time.After(time.Second):
		t.Fatal("read did not unblock on append")
	}
}

func TestLogReader_CloseUnblocksRead(t *testing.T) {
	feed := feedWith("orders")

	r := NewLogReader(feed, "orders")
	require.NoError(t, r.Open(context.Background(), common.Position{}))

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Read(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(time.Second):
		t.Fatal("read did not unblock on close")
	}
}

func TestLogReader_ReadDeadlineLeavesStreamUsable(t *testing.T) {
	feed := feedWith("orders")

	r := NewLogReader(feed, "orders")
	require.NoError(t, r.Open(context.Background(), common.Position{}))
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, err := r.Read(ctx)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	feed.Append("orders", entry("orders", 1))
	e, err := r.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, lsn(1), e.Position)
}

func TestScriptedFeed_EmptyHeadCarriesPositionKind(t *testing.T) {
	feed := feedWith("orders")

	head, err := feed.CurrentPosition(context.Background())
	require.NoError(t, err)
	require.Equal(t, common.PositionLSN, head.Kind)
	require.Zero(t, head.Token)

	feed.Append("orders", entry("orders", 7))
	head, err = feed.CurrentPosition(context.Background())
	require.NoError(t, err)
	require.Equal(t, lsn(7), head)
}

func TestSelector_ExactAndPatternMatch(t *testing.T) {
	catalog := []string{"orders", "order_items", "users"}

	exact, err := NewSelector("orders")
	require.NoError(t, err)
	matched, err := exact.Resolve(catalog)
	require.NoError(t, err)
	require.Equal(t, []string{"orders"}, matched)

	pattern, err := NewSelector("order*")
	require.NoError(t, err)
	matched, err = pattern.Resolve(catalog)
	require.NoError(t, err)
	require.Equal(t, []string{"order_items", "orders"}, matched)
}

func TestSelector_ZeroMatchesIsConfigurationError(t *testing.T) {
	sel, err := NewSelector("payments*")
	require.NoError(t, err)

	_, err = sel.Resolve([]string{"orders", "users"})
	var cfgErr *common.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestSelector_EmptyPatternRejected(t *testing.T) {
	_, err := NewSelector("")
	var cfgErr *common.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
