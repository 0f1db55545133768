package emitter

import (
	"context"
	"sync"
	"time"

	"github.com/relogdev/relog/common"
	"github.com/rs/zerolog/log"
)

// IdleMonitor emits a single no-more-data signal each time the pipeline has
// produced no records for a full idle interval. Activity resets the clock;
// consecutive signals require consecutive idle intervals.
type IdleMonitor struct {
	emitter  *Emitter
	interval time.Duration

	mu       sync.Mutex
	lastSeen time.Time

	now func() time.Time
}

// NewIdleMonitor creates an idle monitor. A non-positive interval disables it.
func NewIdleMonitor(e *Emitter, interval time.Duration) *IdleMonitor {
	return &IdleMonitor{
		emitter:  e,
		interval: interval,
		lastSeen: time.Now(),
		now:      time.Now,
	}
}

// Touch marks activity, pushing the next idle signal out a full interval.
func (m *IdleMonitor) Touch() {
	m.mu.Lock()
	m.lastSeen = m.now()
	m.mu.Unlock()
}

// Run ticks until the context is done. It owns no goroutine itself; the
// coordinator runs it.
func (m *IdleMonitor) Run(ctx context.Context) {
	if m.interval <= 0 {
		return
	}
	tick := m.interval / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.fireIfIdle(ctx)
		}
	}
}

// fireIfIdle emits one signal per fully elapsed idle interval: three
// intervals of silence produce exactly three signals, not a continuous
// stream and not just one.
func (m *IdleMonitor) fireIfIdle(ctx context.Context) {
	m.mu.Lock()
	idle := m.now().Sub(m.lastSeen)
	due := idle >= m.interval
	if due {
		m.lastSeen = m.lastSeen.Add(m.interval)
	}
	m.mu.Unlock()

	if !due {
		return
	}

	sig := common.LifecycleSignal{
		Type: common.SignalNoMoreData,
		At:   m.now(),
	}
	if err := m.emitter.Signal(ctx, sig); err != nil {
		return
	}
	log.Debug().Dur("idle", idle).Msg("Emitted no-more-data signal")
}
