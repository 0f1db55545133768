package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// InitialChangeMode selects where a table starts when no persisted offset
// exists for it.
type InitialChangeMode string

const (
	InitialEarliest InitialChangeMode = "earliest" // start of the retained log
	InitialNow      InitialChangeMode = "now"      // source head at startup
	InitialExplicit InitialChangeMode = "explicit" // configured position token
)

// TableConfiguration configures one monitored table or capture instance.
// Exactly one of Name or Pattern must be set; Pattern expands to every
// matching table in the source catalog. CaptureInstance overrides the
// artifact name when it differs from the table name.
type TableConfiguration struct {
	Name            string `toml:"name"`
	Pattern         string `toml:"pattern"`
	CaptureInstance string `toml:"capture_instance"`

	// InitialToken overrides the engine-wide initial change mode for this
	// table with an explicit position token (LSN, change-tracking version or
	// unix-millisecond timestamp, per the source's position kind).
	InitialToken uint64 `toml:"initial_token"`
}

// SourceConfiguration controls how change logs are consumed.
type SourceConfiguration struct {
	InitialChange InitialChangeMode `toml:"initial_change"`
	InitialToken  uint64            `toml:"initial_token"` // used when initial_change = "explicit"

	MaxTransactionDurationMS int  `toml:"max_transaction_duration_ms"`
	IdleSignalIntervalMS     int  `toml:"idle_signal_interval_ms"`
	IgnoreMissingKey         bool `toml:"ignore_missing_key"`
	WorkerCount              int  `toml:"worker_count"`

	// FailOnTableError stops the whole job when any table pipeline hits a
	// fatal error. Default is to degrade: stop only the affected table.
	FailOnTableError bool `toml:"fail_on_table_error"`
}

// SinkConfiguration configures one downstream sink worker.
type SinkConfiguration struct {
	Name        string `toml:"name"`
	Type        string `toml:"type"` // "nats" or "kafka"
	TopicPrefix string `toml:"topic_prefix"`

	NatsURL string   `toml:"nats_url"`
	Brokers []string `toml:"brokers"`

	BatchSize       int     `toml:"batch_size"`
	RetryInitialMS  int     `toml:"retry_initial_ms"`
	RetryMaxMS      int     `toml:"retry_max_ms"`
	RetryMultiplier float64 `toml:"retry_multiplier"`
	MaxRetries      int     `toml:"max_retries"`
}

// LoggingConfiguration controls logging behavior.
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics.
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// AdminConfiguration for the status HTTP API.
type AdminConfiguration struct {
	Enabled   bool   `toml:"enabled"`
	Address   string `toml:"address"`
	Port      int    `toml:"port"`
	AuthToken string `toml:"auth_token"`
}

// Configuration is the main configuration structure.
type Configuration struct {
	InstanceID uint64 `toml:"instance_id"`
	DataDir    string `toml:"data_dir"`

	Tables []TableConfiguration `toml:"tables"`
	Source SourceConfiguration  `toml:"source"`
	Sinks  []SinkConfiguration  `toml:"sinks"`

	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag  = flag.String("config", "relog.toml", "Path to configuration file")
	DataDirFlag     = flag.String("data-dir", "", "Data directory (overrides config)")
	WorkerCountFlag = flag.Int("workers", 0, "Table worker count (overrides config)")
)

// Default configuration
var Config = &Configuration{
	InstanceID: 0, // Auto-generate
	DataDir:    "./relog-data",

	Source: SourceConfiguration{
		InitialChange:            InitialEarliest,
		MaxTransactionDurationMS: 3_600_000, // 1 hour
		IdleSignalIntervalMS:     10_000,
		IgnoreMissingKey:         false,
		WorkerCount:              4,
		FailOnTableError:         false,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: false,
		Address: "0.0.0.0",
		Port:    9090,
	},

	Admin: AdminConfiguration{
		Enabled: false,
		Address: "127.0.0.1",
		Port:    8980,
	},
}

// Load loads configuration from file and applies CLI overrides.
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *WorkerCountFlag != 0 {
		Config.Source.WorkerCount = *WorkerCountFlag
	}

	// Auto-generate instance ID if not set
	if Config.InstanceID == 0 {
		var err error
		Config.InstanceID, err = generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		log.Info().Uint64("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateInstanceID creates a stable instance ID based on machine ID.
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("relog")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors.
func Validate() error {
	if len(Config.Tables) == 0 {
		return fmt.Errorf("at least one table must be configured")
	}
	for i, tc := range Config.Tables {
		if tc.Name == "" && tc.Pattern == "" {
			return fmt.Errorf("table config %d: either name or pattern is required", i)
		}
		if tc.Name != "" && tc.Pattern != "" {
			return fmt.Errorf("table config %d: name and pattern are mutually exclusive", i)
		}
	}

	switch Config.Source.InitialChange {
	case InitialEarliest, InitialNow:
	case InitialExplicit:
		if Config.Source.InitialToken == 0 {
			return fmt.Errorf("initial_change %q requires initial_token", InitialExplicit)
		}
	default:
		return fmt.Errorf("invalid initial_change mode: %q", Config.Source.InitialChange)
	}

	if Config.Source.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be >= 1")
	}
	if Config.Source.MaxTransactionDurationMS < 1 {
		return fmt.Errorf("max_transaction_duration_ms must be >= 1")
	}
	if Config.Source.IdleSignalIntervalMS < 1 {
		return fmt.Errorf("idle_signal_interval_ms must be >= 1")
	}

	for _, sc := range Config.Sinks {
		if sc.Name == "" {
			return fmt.Errorf("sink config requires a name")
		}
		switch sc.Type {
		case "nats":
			if sc.NatsURL == "" {
				return fmt.Errorf("sink %q: nats sink requires nats_url", sc.Name)
			}
		case "kafka":
			if len(sc.Brokers) == 0 {
				return fmt.Errorf("sink %q: kafka sink requires brokers", sc.Name)
			}
		default:
			return fmt.Errorf("sink %q: unknown sink type %q", sc.Name, sc.Type)
		}
	}

	if Config.Prometheus.Enabled && (Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid prometheus port: %d", Config.Prometheus.Port)
	}
	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}
