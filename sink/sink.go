// Package sink publishes change records and lifecycle signals to external
// destinations. Sinks are registered by type through init functions and
// constructed from configuration.
package sink

import (
	"fmt"
	"sync"

	"github.com/relogdev/relog/cfg"
)

// Sink represents a destination for change records (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends a message to the sink. A nil value is a tombstone.
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Factory creates a Sink from a configuration
type Factory func(cfg.SinkConfiguration) (Sink, error)

var (
	factories = make(map[string]Factory)
	factoryMu sync.RWMutex
)

// Register registers a sink factory for a type
func Register(sinkType string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[sinkType] = factory
}

func create(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := factories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}
