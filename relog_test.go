package relog

import (
	"context"
	"testing"
	"time"

	"github.com/relogdev/relog/cfg"
	"github.com/relogdev/relog/common"
	"github.com/relogdev/relog/coordinator"
	"github.com/relogdev/relog/notify"
	"github.com/relogdev/relog/source"
	"github.com/stretchr/testify/require"
)

func configureEngine(t *testing.T) {
	t.Helper()

	saved := *cfg.Config
	savedTables := cfg.Config.Tables
	savedSinks := cfg.Config.Sinks
	t.Cleanup(func() {
		*cfg.Config = saved
		cfg.Config.Tables = savedTables
		cfg.Config.Sinks = savedSinks
	})

	cfg.Config.DataDir = t.TempDir()
	cfg.Config.Tables = []cfg.TableConfiguration{{Name: "orders"}}
	cfg.Config.Sinks = nil
	cfg.Config.Source = cfg.SourceConfiguration{
		InitialChange:            cfg.InitialEarliest,
		MaxTransactionDurationMS: 60_000,
		IdleSignalIntervalMS:     60_000,
		WorkerCount:              1,
	}
	cfg.Config.Admin.Enabled = false
	cfg.Config.Prometheus.Enabled = false
}

func TestEngine_EndToEnd(t *testing.T) {
	configureEngine(t)

	feed := source.NewScriptedFeed()
	feed.AddTable(common.TableSchema{
		Table: "orders",
		Columns: []common.ColumnInfo{
			{Name: "id", Type: common.FieldInteger, IsKey: true},
		},
	})

	engine, err := NewEngine(feed)
	require.NoError(t, err)

	started, cancelSub := engine.SubscribeSignals(notify.Filter{
		Types: []common.SignalType{common.SignalEngineStarted},
	})
	defer cancelSub()

	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	select {
	case sig := <-started:
		require.Equal(t, common.SignalEngineStarted, sig.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no engine-started signal")
	}

	feed.Append("orders",
		common.ChangeEntry{
			TxnID:    1,
			Position: common.Position{Kind: common.PositionLSN, Token: 1},
			Kind:     common.EntryRow,
			Op:       common.OpInsert,
			Table:    "orders",
			Values:   map[string]any{"id": 1},
		},
		common.ChangeEntry{
			TxnID:    1,
			Position: common.Position{Kind: common.PositionLSN, Token: 2},
			Kind:     common.EntryCommit,
			Table:    "orders",
		},
	)

	select {
	case rec := <-engine.Job().Records():
		require.Equal(t, "orders", rec.Table)
		require.Equal(t, "1", rec.Key)
	case <-time.After(2 * time.Second):
		t.Fatal("no record emitted")
	}

	require.Equal(t, coordinator.StateRunning, engine.Job().Status().State)
}
