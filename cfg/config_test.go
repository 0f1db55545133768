package cfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// withConfig swaps the global Config for the test's run and restores it.
func withConfig(t *testing.T, mutate func(*Configuration)) {
	t.Helper()

	saved := *Config
	savedTables := Config.Tables
	savedSinks := Config.Sinks
	t.Cleanup(func() {
		*Config = saved
		Config.Tables = savedTables
		Config.Sinks = savedSinks
	})

	Config.Tables = []TableConfiguration{{Name: "orders"}}
	mutate(Config)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*Configuration)
		errorContains string
	}{
		{
			name:   "valid defaults with one table",
			mutate: func(c *Configuration) {},
		},
		{
			name: "no tables",
			mutate: func(c *Configuration) {
				c.Tables = nil
			},
			errorContains: "at least one table",
		},
		{
			name: "table without name or pattern",
			mutate: func(c *Configuration) {
				c.Tables = []TableConfiguration{{}}
			},
			errorContains: "name or pattern is required",
		},
		{
			name: "table with both name and pattern",
			mutate: func(c *Configuration) {
				c.Tables = []TableConfiguration{{Name: "orders", Pattern: "ord*"}}
			},
			errorContains: "mutually exclusive",
		},
		{
			name: "explicit mode without token",
			mutate: func(c *Configuration) {
				c.Source.InitialChange = InitialExplicit
				c.Source.InitialToken = 0
			},
			errorContains: "requires initial_token",
		},
		{
			name: "explicit mode with token",
			mutate: func(c *Configuration) {
				c.Source.InitialChange = InitialExplicit
				c.Source.InitialToken = 42
			},
		},
		{
			name: "invalid initial change mode",
			mutate: func(c *Configuration) {
				c.Source.InitialChange = "yesterday"
			},
			errorContains: "invalid initial_change",
		},
		{
			name: "zero workers",
			mutate: func(c *Configuration) {
				c.Source.WorkerCount = 0
			},
			errorContains: "worker_count",
		},
		{
			name: "zero transaction duration",
			mutate: func(c *Configuration) {
				c.Source.MaxTransactionDurationMS = 0
			},
			errorContains: "max_transaction_duration_ms",
		},
		{
			name: "zero idle interval",
			mutate: func(c *Configuration) {
				c.Source.IdleSignalIntervalMS = 0
			},
			errorContains: "idle_signal_interval_ms",
		},
		{
			name: "nats sink without url",
			mutate: func(c *Configuration) {
				c.Sinks = []SinkConfiguration{{Name: "n1", Type: "nats"}}
			},
			errorContains: "requires nats_url",
		},
		{
			name: "kafka sink without brokers",
			mutate: func(c *Configuration) {
				c.Sinks = []SinkConfiguration{{Name: "k1", Type: "kafka"}}
			},
			errorContains: "requires brokers",
		},
		{
			name: "unknown sink type",
			mutate: func(c *Configuration) {
				c.Sinks = []SinkConfiguration{{Name: "x", Type: "smoke-signal"}}
			},
			errorContains: "unknown sink type",
		},
		{
			name: "sink without name",
			mutate: func(c *Configuration) {
				c.Sinks = []SinkConfiguration{{Type: "nats", NatsURL: "nats://localhost:4222"}}
			},
			errorContains: "requires a name",
		},
		{
			name: "invalid admin port",
			mutate: func(c *Configuration) {
				c.Admin.Enabled = true
				c.Admin.Port = 99999
			},
			errorContains: "invalid admin port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withConfig(t, tt.mutate)

			err := Validate()
			if tt.errorContains == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errorContains)
			}
			if !strings.Contains(err.Error(), tt.errorContains) {
				t.Fatalf("expected error containing %q, got %q", tt.errorContains, err.Error())
			}
		})
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	withConfig(t, func(c *Configuration) {})

	dir := t.TempDir()
	path := filepath.Join(dir, "relog.toml")
	content := `
data_dir = "` + filepath.Join(dir, "data") + `"

[[tables]]
name = "orders"

[[tables]]
pattern = "audit_*"
capture_instance = "audit_v2"

[source]
initial_change = "now"
worker_count = 8
ignore_missing_key = true

[[sinks]]
name = "events"
type = "nats"
nats_url = "nats://localhost:4222"
topic_prefix = "relog.cdc"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Load(path); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if Config.Source.InitialChange != InitialNow {
		t.Errorf("expected initial_change now, got %s", Config.Source.InitialChange)
	}
	if Config.Source.WorkerCount != 8 {
		t.Errorf("expected 8 workers, got %d", Config.Source.WorkerCount)
	}
	if !Config.Source.IgnoreMissingKey {
		t.Error("expected ignore_missing_key true")
	}
	if len(Config.Tables) != 2 || Config.Tables[1].CaptureInstance != "audit_v2" {
		t.Errorf("unexpected tables: %+v", Config.Tables)
	}
	if len(Config.Sinks) != 1 || Config.Sinks[0].Type != "nats" {
		t.Errorf("unexpected sinks: %+v", Config.Sinks)
	}
	if Config.InstanceID == 0 {
		t.Error("expected auto-generated instance ID")
	}
	if _, err := os.Stat(Config.DataDir); err != nil {
		t.Errorf("data dir not created: %v", err)
	}

	if err := Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	withConfig(t, func(c *Configuration) {
		c.DataDir = t.TempDir()
	})

	if err := Load(filepath.Join(t.TempDir(), "nope.toml")); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if Config.Source.InitialChange != InitialEarliest {
		t.Errorf("expected default initial_change, got %s", Config.Source.InitialChange)
	}
}
