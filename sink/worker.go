package sink

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relogdev/relog/common"
	"github.com/relogdev/relog/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of retry attempts before giving up on a publish
	DefaultMaxRetries = 100
	// Per-worker input buffer between the dispatcher and the publish loop
	workerQueueDepth = 256
)

// signalTopicSuffix is appended to the topic prefix for lifecycle signals.
const signalTopicSuffix = "signals"

// errWorkerStopped interrupts a retry loop when the worker is shut down. A
// stop mid-retry is not a sink failure.
var errWorkerStopped = errors.New("worker stopped during retry")

// WorkerConfig configures one publish worker.
type WorkerConfig struct {
	Name            string        // Sink name (for logging and metrics)
	Sink            Sink          // Destination sink
	TopicPrefix     string        // Topic prefix (e.g., "relog.cdc")
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxRetries      int           // Maximum retry attempts (0 = unlimited)
}

// Worker drains its input queue and publishes to one sink. Records for a
// key publish in arrival order; a DELETE is followed by a tombstone so
// compacted topics drop the key.
type Worker struct {
	config  WorkerConfig
	records chan common.ChangeRecord
	signals chan common.LifecycleSignal

	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	failed      atomic.Bool
	lifecycleMu sync.Mutex
}

// NewWorker creates a publish worker for a sink.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	return &Worker{
		config:  config,
		records: make(chan common.ChangeRecord, workerQueueDepth),
		signals: make(chan common.LifecycleSignal, 16),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start starts the worker goroutine
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}

	w.running.Store(true)
	w.failed.Store(false)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().
		Str("worker", w.config.Name).
		Msg("Starting sink publish worker")

	go w.publishLoop()
}

// Stop stops the worker gracefully, draining nothing: records still queued
// replay from the persisted offsets on restart.
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}

	log.Info().Str("worker", w.config.Name).Msg("Stopping sink publish worker")

	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)

	log.Info().Str("worker", w.config.Name).Msg("Sink publish worker stopped")
}

// Failed reports whether the publish loop gave up after exhausting retries.
// A failed worker refuses further input until restarted.
func (w *Worker) Failed() bool { return w.failed.Load() }

// enqueueRecord hands a record to the worker, blocking until there is queue
// space or the worker stops. Returns false if the worker stopped or failed.
func (w *Worker) enqueueRecord(rec common.ChangeRecord) bool {
	if w.failed.Load() {
		return false
	}
	select {
	case w.records <- rec:
		return true
	case <-w.stopCh:
		return false
	case <-w.doneCh:
		return false
	}
}

// enqueueSignal hands a lifecycle signal to the worker.
func (w *Worker) enqueueSignal(sig common.LifecycleSignal) bool {
	if w.failed.Load() {
		return false
	}
	select {
	case w.signals <- sig:
		return true
	case <-w.stopCh:
		return false
	case <-w.doneCh:
		return false
	}
}

func (w *Worker) publishLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case rec := <-w.records:
			if err := w.publishRecord(rec); err != nil {
				if errors.Is(err, errWorkerStopped) {
					return
				}
				w.markFailed()
				log.Error().
					Err(err).
					Str("worker", w.config.Name).
					Str("table", rec.Table).
					Msg("Sink worker failed publishing record")
				return
			}
		case sig := <-w.signals:
			if err := w.publishSignal(sig); err != nil {
				if errors.Is(err, errWorkerStopped) {
					return
				}
				w.markFailed()
				log.Error().
					Err(err).
					Str("worker", w.config.Name).
					Str("signal", string(sig.Type)).
					Msg("Sink worker failed publishing signal")
				return
			}
		}
	}
}

func (w *Worker) publishRecord(rec common.ChangeRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	topic := w.buildTopic(rec.Table)
	if err := w.publishWithRetry(topic, rec.Key, data); err != nil {
		return err
	}

	if rec.Op == common.OpDelete {
		if err := w.publishWithRetry(topic, rec.Key, tombstone()); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) publishSignal(sig common.LifecycleSignal) error {
	data, err := encodeSignal(sig)
	if err != nil {
		return err
	}
	return w.publishWithRetry(w.buildTopic(signalTopicSuffix), string(sig.Type), data)
}

// buildTopic builds the topic name for a table
func (w *Worker) buildTopic(table string) string {
	if w.config.TopicPrefix == "" {
		return table
	}
	return fmt.Sprintf("%s.%s", w.config.TopicPrefix, table)
}

// publishWithRetry publishes data with exponential backoff retry
// Returns error if max retries exhausted or worker stopped
func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		start := time.Now()
		err := w.config.Sink.Publish(topic, key, data)
		telemetry.SinkPublishDurationSeconds.With(w.config.Name).Observe(time.Since(start).Seconds())
		if err == nil {
			telemetry.SinkPublishTotal.With(w.config.Name, "success").Inc()
			return nil
		}
		telemetry.SinkPublishTotal.With(w.config.Name, "failed").Inc()

		attempts++
		if w.config.MaxRetries > 0 && attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish, retrying")

		if !w.sleep(delay) {
			return errWorkerStopped
		}

		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

func (w *Worker) markFailed() {
	w.failed.Store(true)
	telemetry.SinkWorkerFailuresTotal.Inc()
}

// sleep sleeps for the given duration, checking stopCh
// Returns true if sleep completed, false if stopped
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
