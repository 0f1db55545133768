package sink

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relogdev/relog/cfg"
	"github.com/relogdev/relog/common"
	"github.com/rs/zerolog/log"
)

// Registry manages the lifecycle of all publish workers and fans records
// out to them. Every configured sink receives every record.
type Registry struct {
	workers []*Worker

	running    atomic.Bool
	mu         sync.Mutex
	dispatchWg sync.WaitGroup
}

// NewRegistry creates workers for each sink configuration.
func NewRegistry(sinkConfigs []cfg.SinkConfiguration) (*Registry, error) {
	registry := &Registry{
		workers: make([]*Worker, 0, len(sinkConfigs)),
	}

	for _, sinkCfg := range sinkConfigs {
		if err := registry.addSink(sinkCfg); err != nil {
			for _, worker := range registry.workers {
				worker.config.Sink.Close()
			}
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().
		Int("workers", len(registry.workers)).
		Msg("Sink registry initialized")

	return registry, nil
}

func (r *Registry) addSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snk, err := create(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Sink:            snk,
		TopicPrefix:     config.TopicPrefix,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
		MaxRetries:      config.MaxRetries,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Msg("Added sink")

	return nil
}

// Start starts all workers and the dispatch loops draining the given
// channels. Dispatch exits when the channels close.
func (r *Registry) Start(records <-chan common.ChangeRecord, signals <-chan common.LifecycleSignal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	log.Info().Int("workers", len(r.workers)).Msg("Starting sink registry")

	for _, worker := range r.workers {
		worker.Start()
	}

	r.dispatchWg.Add(2)
	go r.dispatchRecords(records)
	go r.dispatchSignals(signals)

	r.running.Store(true)
	return nil
}

func (r *Registry) dispatchRecords(records <-chan common.ChangeRecord) {
	defer r.dispatchWg.Done()
	for rec := range records {
		for _, worker := range r.workers {
			worker.enqueueRecord(rec)
		}
	}
}

func (r *Registry) dispatchSignals(signals <-chan common.LifecycleSignal) {
	defer r.dispatchWg.Done()
	for sig := range signals {
		for _, worker := range r.workers {
			worker.enqueueSignal(sig)
		}
	}
}

// FailedSinks lists sinks whose workers gave up after exhausting retries.
func (r *Registry) FailedSinks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failed []string
	for _, worker := range r.workers {
		if worker.Failed() {
			failed = append(failed, worker.config.Name)
		}
	}
	return failed
}

// Stop stops all workers and closes their sinks. The record and signal
// channels must be closed by the producer before calling Stop.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return
	}

	log.Info().Msg("Stopping sink registry")

	for _, worker := range r.workers {
		worker.Stop()
	}
	r.dispatchWg.Wait()

	for _, worker := range r.workers {
		if err := worker.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", worker.config.Name).Msg("Failed to close sink")
		}
	}

	log.Info().Msg("Sink registry stopped")
}
