package telemetry

// Histogram bucket definitions
var (
	// EmitBuckets for per-transaction emission latency (in-process hand-off)
	EmitBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	// PublishBuckets for sink publish latencies (network)
	PublishBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Reader and assembler metrics
var (
	// EntriesReadTotal counts raw change entries read, by table
	EntriesReadTotal CounterVec = noopCounterVec{}

	// TransactionsCommittedTotal counts transactions released in commit order
	TransactionsCommittedTotal Counter = NoopStat{}

	// TransactionsDroppedTotal counts dropped transactions by reason
	// (timeout, unknown_savepoint, rollback)
	TransactionsDroppedTotal CounterVec = noopCounterVec{}

	// OpenTransactions tracks buffered, uncommitted transactions per table
	OpenTransactions GaugeVec = noopGaugeVec{}
)

// Emitter metrics
var (
	// RecordsEmittedTotal counts emitted change records by table
	RecordsEmittedTotal CounterVec = noopCounterVec{}

	// SignalsEmittedTotal counts lifecycle signals by type
	SignalsEmittedTotal CounterVec = noopCounterVec{}

	// ErrorRecordsTotal counts records routed to the error channel
	ErrorRecordsTotal Counter = NoopStat{}

	// EmitDurationSeconds measures per-transaction emission latency
	EmitDurationSeconds Histogram = NoopStat{}
)

// Offset metrics
var (
	// OffsetAdvancesTotal counts successful offset advances by table
	OffsetAdvancesTotal CounterVec = noopCounterVec{}

	// OffsetToken exposes the current position token per table
	OffsetToken GaugeVec = noopGaugeVec{}
)

// Coordinator metrics
var (
	// TablePipelinesActive tracks currently running table pipelines
	TablePipelinesActive Gauge = NoopStat{}

	// TablePipelinesFailed counts table pipelines stopped by fatal errors
	TablePipelinesFailed Counter = NoopStat{}
)

// Sink metrics
var (
	// SinkPublishTotal counts publishes by sink and result (success, failed)
	SinkPublishTotal CounterVec = noopCounterVec{}

	// SinkPublishDurationSeconds measures publish latency by sink
	SinkPublishDurationSeconds HistogramVec = noopHistogramVec{}

	// SinkWorkerFailuresTotal counts workers that gave up after exhausting
	// publish retries
	SinkWorkerFailuresTotal Counter = NoopStat{}
)

// InitMetrics swaps the noop defaults for Prometheus-backed metrics. Call
// after InitializeTelemetry; a noop registry leaves everything as-is.
func InitMetrics() {
	EntriesReadTotal = NewCounterVec(
		"entries_read_total",
		"Raw change entries read from the source log",
		[]string{"table"},
	)
	TransactionsCommittedTotal = NewCounter(
		"transactions_committed_total",
		"Transactions released by the assembler in commit order",
	)
	TransactionsDroppedTotal = NewCounterVec(
		"transactions_dropped_total",
		"Transactions dropped without emission, by reason",
		[]string{"reason"},
	)
	OpenTransactions = NewGaugeVec(
		"open_transactions",
		"Buffered uncommitted transactions",
		[]string{"table"},
	)
	RecordsEmittedTotal = NewCounterVec(
		"records_emitted_total",
		"Change records emitted downstream",
		[]string{"table"},
	)
	SignalsEmittedTotal = NewCounterVec(
		"signals_emitted_total",
		"Lifecycle signals emitted, by type",
		[]string{"type"},
	)
	ErrorRecordsTotal = NewCounter(
		"error_records_total",
		"Records routed to the error channel",
	)
	EmitDurationSeconds = NewHistogramWithBuckets(
		"emit_duration_seconds",
		"Per-transaction emission latency",
		EmitBuckets,
	)
	OffsetAdvancesTotal = NewCounterVec(
		"offset_advances_total",
		"Successful per-table offset advances",
		[]string{"table"},
	)
	OffsetToken = NewGaugeVec(
		"offset_token",
		"Current position token per table",
		[]string{"table"},
	)
	TablePipelinesActive = NewGauge(
		"table_pipelines_active",
		"Currently running table pipelines",
	)
	TablePipelinesFailed = NewCounter(
		"table_pipelines_failed_total",
		"Table pipelines stopped by fatal errors",
	)
	SinkPublishTotal = NewCounterVec(
		"sink_publish_total",
		"Sink publishes by sink name and result",
		[]string{"sink", "result"},
	)
	SinkPublishDurationSeconds = NewHistogramVec(
		"sink_publish_duration_seconds",
		"Sink publish latency",
		[]string{"sink"},
		PublishBuckets,
	)
	SinkWorkerFailuresTotal = NewCounter(
		"sink_worker_failures_total",
		"Sink workers stopped after exhausting publish retries",
	)
}
