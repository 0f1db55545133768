// Package relog assembles the change-log replication engine from its parts:
// configuration, telemetry, the multi-table coordinator, sink workers and
// the admin API. Hosts that want direct channel access can use the
// coordinator package alone; Engine is the batteries-included wiring.
package relog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/relogdev/relog/admin"
	"github.com/relogdev/relog/cfg"
	"github.com/relogdev/relog/common"
	"github.com/relogdev/relog/coordinator"
	"github.com/relogdev/relog/notify"
	"github.com/relogdev/relog/sink"
	"github.com/relogdev/relog/source"
	"github.com/relogdev/relog/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global logger from the loaded configuration.
func SetupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}

// Engine runs one capture job end to end.
type Engine struct {
	coord *coordinator.Coordinator
	sinks *sink.Registry
	admin *admin.Server
	hub   *notify.Hub

	metricsServer *http.Server
	drainWg       sync.WaitGroup
	stopOnce      sync.Once
}

// NewEngine builds an engine from the global configuration and a
// host-supplied source feed. Call cfg.Load and cfg.Validate first.
func NewEngine(feed source.Feed) (*Engine, error) {
	coord, err := coordinator.New(coordinator.Options{
		Feed:    feed,
		Tables:  cfg.Config.Tables,
		Source:  cfg.Config.Source,
		DataDir: cfg.Config.DataDir,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{coord: coord, hub: notify.NewHub()}

	if len(cfg.Config.Sinks) > 0 {
		e.sinks, err = sink.NewRegistry(cfg.Config.Sinks)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Config.Admin.Enabled {
		e.admin = admin.NewServer(cfg.Config.Admin, coord)
	}

	return e, nil
}

// Job exposes the coordinator for status queries and, when no sinks are
// configured, direct consumption of the record channel.
func (e *Engine) Job() *coordinator.Coordinator {
	return e.coord
}

// SubscribeSignals registers an in-process subscriber for lifecycle
// signals. Slow subscribers drop signals rather than stalling the job.
func (e *Engine) SubscribeSignals(filter notify.Filter) (<-chan common.LifecycleSignal, func()) {
	return e.hub.Subscribe(filter)
}

// Start initializes telemetry and launches the coordinator, sink workers
// and admin API.
func (e *Engine) Start(ctx context.Context) error {
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	if err := e.coord.Start(ctx); err != nil {
		return err
	}

	// The hub is the single consumer of the signal channel; sink workers
	// get their own forwarded copy so hub subscribers and sinks both see
	// every signal.
	sinkSignals := make(chan common.LifecycleSignal, 16)
	e.drainWg.Add(1)
	go func() {
		defer e.drainWg.Done()
		defer close(sinkSignals)
		for sig := range e.coord.Signals() {
			e.hub.Publish(sig)
			if e.sinks != nil {
				sinkSignals <- sig
			}
		}
	}()

	if e.sinks != nil {
		if err := e.sinks.Start(e.coord.Records(), sinkSignals); err != nil {
			e.coord.Stop()
			return err
		}
	}

	// Record-level failures never stop the job; surface them in the log.
	e.drainWg.Add(1)
	go func() {
		defer e.drainWg.Done()
		for recErr := range e.coord.Errors() {
			log.Warn().
				Err(recErr.Err).
				Str("table", recErr.Table).
				Msg("Record discarded")
		}
	}()

	if e.admin != nil {
		e.admin.Start()
	}

	if cfg.Config.Prometheus.Enabled {
		e.metricsServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Config.Prometheus.Address, cfg.Config.Prometheus.Port),
			Handler:           telemetry.GetMetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := e.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		log.Info().Str("addr", e.metricsServer.Addr).Msg("Metrics endpoint enabled")
	}

	return nil
}

// Stop shuts everything down: the coordinator first so the output channels
// close and sink workers drain out, then the servers.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.coord.Stop()
		e.drainWg.Wait()

		if e.sinks != nil {
			e.sinks.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if e.admin != nil {
			if err := e.admin.Stop(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Admin API shutdown failed")
			}
		}
		if e.metricsServer != nil {
			if err := e.metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}
	})
}
