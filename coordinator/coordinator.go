// Package coordinator runs the multi-table capture job: it resolves
// configured tables against the source catalog, schedules one pipeline per
// table across a bounded worker pool, and owns the shared offset tracker,
// emitter and output channels.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relogdev/relog/assembler"
	"github.com/relogdev/relog/cfg"
	"github.com/relogdev/relog/common"
	"github.com/relogdev/relog/emitter"
	"github.com/relogdev/relog/offset"
	"github.com/relogdev/relog/source"
	"github.com/relogdev/relog/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	recordBuffer = 256
	signalBuffer = 16
	errorBuffer  = 64

	// expireSweepCap bounds how long a blocked read can defer the
	// transaction timeout sweep.
	expireSweepCap = 30 * time.Second
)

// errYield asks the worker to requeue the table so another one gets a turn.
var errYield = errors.New("table pipeline yielded")

// Options configures a Coordinator. Feed is the host-supplied connection to
// the source change log; Tables and Source usually come straight from the
// loaded configuration.
type Options struct {
	Feed   source.Feed
	Tables []cfg.TableConfiguration
	Source cfg.SourceConfiguration

	// DataDir holds the offset store. Empty runs with in-memory offsets
	// only (no resume across restarts).
	DataDir string
}

// Coordinator drives all table pipelines for one capture job.
type Coordinator struct {
	opts    Options
	tracker *offset.Tracker
	store   *offset.Store
	emit    *emitter.Emitter
	idle    *emitter.IdleMonitor

	records chan common.ChangeRecord
	signals chan common.LifecycleSignal
	errs    chan emitter.RecordError

	// jobs feeds table pipelines to the worker pool. When there are more
	// tables than workers, pipelines yield at the sweep deadline and requeue
	// themselves, so every table gets served in turn.
	jobs   chan resolvedTable
	rotate bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
	tables  map[string]*tableState
}

type tableState struct {
	artifact string
	initial  common.Position
	running  bool
	err      error
}

// New validates options and creates a stopped coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Feed == nil {
		return nil, &common.ConfigurationError{Field: "feed", Reason: "source feed is required"}
	}
	if len(opts.Tables) == 0 {
		return nil, &common.ConfigurationError{Field: "tables", Reason: "at least one table must be configured"}
	}
	if opts.Source.WorkerCount < 1 {
		return nil, &common.ConfigurationError{Field: "worker_count", Reason: "must be >= 1"}
	}

	var store *offset.Store
	if opts.DataDir != "" {
		var err error
		store, err = offset.OpenStore(opts.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening offset store: %w", err)
		}
	}

	c := &Coordinator{
		opts:    opts,
		tracker: offset.NewTracker(store),
		store:   store,
		records: make(chan common.ChangeRecord, recordBuffer),
		signals: make(chan common.LifecycleSignal, signalBuffer),
		errs:    make(chan emitter.RecordError, errorBuffer),
		tables:  make(map[string]*tableState),
	}

	schemas, err := emitter.NewCachedSchemaProvider(feedSchemas{opts.Feed})
	if err != nil {
		c.closeStore()
		return nil, err
	}

	c.emit, err = emitter.New(emitter.Config{
		Schemas:          schemas,
		Tracker:          c.tracker,
		Records:          c.records,
		Signals:          c.signals,
		Errors:           c.errs,
		IgnoreMissingKey: opts.Source.IgnoreMissingKey,
	})
	if err != nil {
		c.closeStore()
		return nil, err
	}

	idleInterval := time.Duration(opts.Source.IdleSignalIntervalMS) * time.Millisecond
	c.idle = emitter.NewIdleMonitor(c.emit, idleInterval)

	return c, nil
}

// feedSchemas adapts a source.Feed to the emitter's schema lookup.
type feedSchemas struct {
	feed source.Feed
}

func (f feedSchemas) Schema(ctx context.Context, table string) (common.TableSchema, error) {
	return f.feed.Schema(ctx, table)
}

// Records returns the emitted change record stream. Closed on Stop.
func (c *Coordinator) Records() <-chan common.ChangeRecord { return c.records }

// Signals returns the lifecycle signal stream. Closed on Stop.
func (c *Coordinator) Signals() <-chan common.LifecycleSignal { return c.signals }

// Errors returns the per-record error stream. Closed on Stop.
func (c *Coordinator) Errors() <-chan emitter.RecordError { return c.errs }

// Offsets returns a snapshot of per-table positions.
func (c *Coordinator) Offsets() map[string]common.Position { return c.tracker.Snapshot() }

// Start resolves tables, restores offsets and launches the worker pool.
// Resolution failures are configuration errors: nothing starts.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already started")
	}
	c.started = true
	c.mu.Unlock()

	resolved, err := c.resolveTables(ctx)
	if err != nil {
		return err
	}

	initial := make(map[string]common.Position, len(resolved))
	c.mu.Lock()
	for _, rt := range resolved {
		c.tables[rt.table] = &tableState{artifact: rt.artifact, initial: rt.initial}
		initial[rt.table] = rt.initial
	}
	c.mu.Unlock()

	if err := c.tracker.Resume(initial); err != nil {
		return fmt.Errorf("restoring offsets: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	workers := c.opts.Source.WorkerCount
	if workers > len(resolved) {
		workers = len(resolved)
	}

	c.rotate = len(resolved) > workers
	c.jobs = make(chan resolvedTable, len(resolved))
	for _, rt := range resolved {
		c.jobs <- rt
	}

	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker(runCtx)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.idle.Run(runCtx)
	}()

	if err := c.emit.Signal(runCtx, common.LifecycleSignal{
		Type: common.SignalEngineStarted,
		At:   time.Now(),
	}); err != nil {
		return err
	}

	log.Info().
		Int("tables", len(resolved)).
		Int("workers", workers).
		Msg("Capture job started")

	return nil
}

// Stop cancels all pipelines, waits for them to drain and closes the output
// channels. Safe to call once.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	log.Info().Msg("Stopping capture job")

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	close(c.records)
	close(c.signals)
	close(c.errs)
	c.closeStore()

	log.Info().Msg("Capture job stopped")
}

func (c *Coordinator) closeStore() {
	if c.store == nil {
		return
	}
	if err := c.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close offset store")
	}
	c.store = nil
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case rt := <-c.jobs:
			c.runTable(ctx, rt)
		}
	}
}

// runTable runs one table pipeline to completion: read, assemble, emit.
// Returns when the context is done or the pipeline hits a fatal error.
func (c *Coordinator) runTable(ctx context.Context, rt resolvedTable) {
	c.setRunning(rt.table, true)
	telemetry.TablePipelinesActive.Inc()
	defer telemetry.TablePipelinesActive.Dec()
	defer c.setRunning(rt.table, false)

	err := c.pipeline(ctx, rt)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, source.ErrStreamClosed) {
		return
	}
	if errors.Is(err, errYield) {
		select {
		case c.jobs <- rt:
		case <-ctx.Done():
		}
		return
	}

	telemetry.TablePipelinesFailed.Inc()
	c.setError(rt.table, err)

	log.Error().
		Err(err).
		Str("table", rt.table).
		Msg("Table pipeline stopped on fatal error")

	_ = c.emit.Signal(ctx, common.LifecycleSignal{
		Type: common.SignalTableStopped,
		At:   time.Now(),
		Payload: map[string]string{
			"table": rt.table,
			"error": err.Error(),
		},
	})

	if c.opts.Source.FailOnTableError {
		c.cancel()
	}
}

func (c *Coordinator) pipeline(ctx context.Context, rt resolvedTable) error {
	start := c.tracker.Get(rt.table)
	if start.IsZero() {
		start = rt.initial
	}

	reader := source.NewLogReader(c.opts.Feed, rt.artifact)
	if err := reader.Open(ctx, start); err != nil {
		return err
	}
	defer reader.Close()

	maxOpen := time.Duration(c.opts.Source.MaxTransactionDurationMS) * time.Millisecond
	asm := assembler.New(rt.table, maxOpen)

	sweep := maxOpen / 4
	if sweep <= 0 || sweep > expireSweepCap {
		sweep = expireSweepCap
	}

	for {
		entry, err := c.readWithDeadline(ctx, reader, sweep)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				c.expireOpen(asm)
				if c.rotate {
					// Hand the worker to a queued table. Entries buffered in
					// open transactions redeliver on the next turn because
					// the offset never passes an open transaction's first
					// entry.
					return errYield
				}
				continue
			}
			return err
		}

		telemetry.EntriesReadTotal.With(rt.table).Inc()
		c.idle.Touch()

		txn, err := asm.Apply(entry)
		if err != nil {
			var unknownSP *common.UnknownSavepointError
			if errors.As(err, &unknownSP) {
				log.Warn().
					Str("table", rt.table).
					Uint64("txn", unknownSP.TxnID).
					Str("savepoint", unknownSP.Savepoint).
					Msg("Dropped transaction: rollback to unknown savepoint")
				continue
			}
			return err
		}
		telemetry.OpenTransactions.With(rt.table).Set(float64(asm.OpenCount()))

		if txn == nil {
			continue
		}

		if err := c.emit.EmitTransaction(ctx, txn); err != nil {
			return err
		}
	}
}

// readWithDeadline bounds a blocking read so the pipeline can sweep expired
// transactions while the source is quiet. The underlying stream survives
// the deadline; only this read is abandoned.
func (c *Coordinator) readWithDeadline(ctx context.Context, reader *source.LogReader, d time.Duration) (common.ChangeEntry, error) {
	readCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	entry, err := reader.Read(readCtx)
	if err != nil && ctx.Err() != nil {
		// Outer cancellation wins over the sweep deadline.
		return common.ChangeEntry{}, ctx.Err()
	}
	return entry, err
}

func (c *Coordinator) expireOpen(asm *assembler.Assembler) {
	for _, timeout := range asm.Expire() {
		log.Warn().
			Str("table", timeout.Table).
			Uint64("txn", timeout.TxnID).
			Msg("Dropped transaction: open past maximum duration")
	}
}

func (c *Coordinator) setRunning(table string, running bool) {
	c.mu.Lock()
	if st, ok := c.tables[table]; ok {
		st.running = running
	}
	c.mu.Unlock()
}

func (c *Coordinator) setError(table string, err error) {
	c.mu.Lock()
	if st, ok := c.tables[table]; ok {
		st.err = err
	}
	c.mu.Unlock()
}
