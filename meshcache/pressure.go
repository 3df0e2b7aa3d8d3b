package meshcache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/mikerobots/cube-builder/events"
	"github.com/mikerobots/cube-builder/logging"
)

// MemoryReader reports used and total system memory in bytes.
type MemoryReader func(ctx context.Context) (used, total uint64, err error)

// SystemMemory reads virtual memory usage from the operating system.
func SystemMemory(ctx context.Context) (uint64, uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to read virtual memory")
	}
	return vm.Used, vm.Total, nil
}

// Thresholds are the used memory fractions at which each pressure level starts.
type Thresholds struct {
	Moderate float64 `json:"moderate"`
	High     float64 `json:"high"`
	Critical float64 `json:"critical"`
}

// DefaultThresholds returns the usual 75%, 85% and 95% thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Moderate: 0.75, High: 0.85, Critical: 0.95}
}

// Level classifies a used memory fraction.
func (t Thresholds) Level(fraction float64) events.PressureLevel {
	switch {
	case fraction >= t.Critical:
		return events.PressureCritical
	case fraction >= t.High:
		return events.PressureHigh
	case fraction >= t.Moderate:
		return events.PressureModerate
	default:
		return events.PressureNone
	}
}

// Validate checks that the thresholds are fractions in increasing order.
func (t Thresholds) Validate() error {
	if !(0 < t.Moderate && t.Moderate <= t.High && t.High <= t.Critical && t.Critical <= 1) {
		return errors.Errorf("pressure thresholds must satisfy 0 < moderate <= high <= critical <= 1, got %v", t)
	}
	return nil
}

// MonitorOption configures a PressureMonitor.
type MonitorOption func(*PressureMonitor)

// WithMemoryReader replaces the operating system as the source of memory usage.
func WithMemoryReader(r MemoryReader) MonitorOption {
	return func(m *PressureMonitor) {
		m.read = r
	}
}

// WithMonitorClock replaces the wall clock driving the polling ticker.
func WithMonitorClock(clk clock.Clock) MonitorOption {
	return func(m *PressureMonitor) {
		m.clock = clk
	}
}

// WithInterval sets how often memory is polled.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *PressureMonitor) {
		m.interval = d
	}
}

// WithThresholds sets the pressure thresholds.
func WithThresholds(t Thresholds) MonitorOption {
	return func(m *PressureMonitor) {
		m.thresholds = t
	}
}

// WithIdleExpiry makes every poll drop cache entries idle for longer than d.
func WithIdleExpiry(cache *Cache, d time.Duration) MonitorOption {
	return func(m *PressureMonitor) {
		m.cache = cache
		m.maxIdle = d
	}
}

// PressureMonitor polls memory usage and publishes a MemoryPressure event whenever the
// pressure level changes.
type PressureMonitor struct {
	logger     logging.Logger
	bus        *events.Bus
	read       MemoryReader
	clock      clock.Clock
	interval   time.Duration
	thresholds Thresholds
	cache      *Cache
	maxIdle    time.Duration

	mu     sync.Mutex
	last   events.PressureLevel
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPressureMonitor returns a monitor publishing to bus. It does nothing until Start or Check.
func NewPressureMonitor(logger logging.Logger, bus *events.Bus, opts ...MonitorOption) *PressureMonitor {
	m := &PressureMonitor{
		logger:     logger.Sublogger("pressure"),
		bus:        bus,
		read:       SystemMemory,
		clock:      clock.New(),
		interval:   5 * time.Second,
		thresholds: DefaultThresholds(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check reads memory once, publishing an event if the level changed, and returns the level.
func (m *PressureMonitor) Check(ctx context.Context) (events.PressureLevel, error) {
	used, total, err := m.read(ctx)
	if err != nil {
		return events.PressureNone, err
	}
	if m.cache != nil && m.maxIdle > 0 {
		if n := m.cache.ExpireIdle(m.maxIdle); n > 0 {
			m.logger.Debugw("expired idle meshes", "count", n)
		}
	}
	level := events.PressureNone
	if total > 0 {
		level = m.thresholds.Level(float64(used) / float64(total))
	}

	m.mu.Lock()
	changed := level != m.last
	m.last = level
	m.mu.Unlock()

	if changed {
		if level > events.PressureNone {
			m.logger.Warnw("memory pressure", "level", level, "used", used, "total", total)
		}
		m.bus.Publish(events.MemoryPressure{Level: level, Used: used, Total: total})
	}
	return level, nil
}

// Start polls in the background until ctx ends or Close is called.
func (m *PressureMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	ticker := m.clock.Ticker(m.interval)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if _, err := m.Check(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warnw("failed to check memory pressure", "error", err)
			}
		}
	}()
}

// Close stops background polling and waits for it to exit.
func (m *PressureMonitor) Close() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}
