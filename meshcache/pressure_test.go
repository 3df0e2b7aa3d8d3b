package meshcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/mikerobots/cube-builder/events"
	"github.com/mikerobots/cube-builder/logging"
)

type fakeMemory struct {
	mu          sync.Mutex
	used, total uint64
}

func (f *fakeMemory) set(used uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used = used
}

func (f *fakeMemory) read(context.Context) (uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used, f.total, nil
}

func TestThresholds(t *testing.T) {
	th := DefaultThresholds()
	test.That(t, th.Validate(), test.ShouldBeNil)
	test.That(t, th.Level(0.5), test.ShouldEqual, events.PressureNone)
	test.That(t, th.Level(0.75), test.ShouldEqual, events.PressureModerate)
	test.That(t, th.Level(0.9), test.ShouldEqual, events.PressureHigh)
	test.That(t, th.Level(0.99), test.ShouldEqual, events.PressureCritical)
	test.That(t, Thresholds{Moderate: 0.9, High: 0.8, Critical: 0.95}.Validate(), test.ShouldNotBeNil)
	test.That(t, Thresholds{}.Validate(), test.ShouldNotBeNil)
}

func TestPressureMonitor(t *testing.T) {
	logger := logging.NewTestLogger(t)
	bus := events.NewBus(logger)
	mem := &fakeMemory{total: 100}

	var mu sync.Mutex
	var levels []events.PressureLevel
	unsubscribe := events.Subscribe(bus, func(e events.MemoryPressure) {
		mu.Lock()
		defer mu.Unlock()
		levels = append(levels, e.Level)
	})
	defer unsubscribe()
	seen := func() []events.PressureLevel {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.PressureLevel(nil), levels...)
	}

	t.Run("check publishes level changes only", func(t *testing.T) {
		m := NewPressureMonitor(logger, bus, WithMemoryReader(mem.read))
		ctx := context.Background()

		mem.set(10)
		level, err := m.Check(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, events.PressureNone)
		test.That(t, seen(), test.ShouldBeEmpty)

		mem.set(90)
		m.Check(ctx)
		m.Check(ctx)
		mem.set(20)
		m.Check(ctx)
		test.That(t, seen(), test.ShouldResemble, []events.PressureLevel{events.PressureHigh, events.PressureNone})
	})

	t.Run("polling drives cache eviction", func(t *testing.T) {
		mu.Lock()
		levels = nil
		mu.Unlock()
		clk := clock.NewMock()
		size := triangleMesh(t, 1).MemoryUsage()
		cache := New(logger, WithBudget(4*size), WithClock(clk))
		for k := Key(1); k <= 4; k++ {
			cache.Put(k, Meta{}, triangleMesh(t, 1))
		}
		unsubscribeEvict := events.Subscribe(bus, func(e events.MemoryPressure) {
			cache.Evict(e.Level)
		})
		defer unsubscribeEvict()

		m := NewPressureMonitor(logger, bus,
			WithMemoryReader(mem.read),
			WithMonitorClock(clk),
			WithInterval(time.Second),
		)
		m.Start(context.Background())
		defer m.Close()

		mem.set(96)
		for cache.Len() > 0 {
			clk.Add(time.Second)
			time.Sleep(time.Millisecond)
		}
		test.That(t, seen(), test.ShouldResemble, []events.PressureLevel{events.PressureCritical})
	})

	t.Run("idle expiry", func(t *testing.T) {
		clk := clock.NewMock()
		cache := New(logger, WithClock(clk))
		cache.Put(1, Meta{}, triangleMesh(t, 1))
		m := NewPressureMonitor(logger, bus, WithMemoryReader(mem.read), WithIdleExpiry(cache, time.Minute))
		mem.set(0)

		m.Check(context.Background())
		test.That(t, cache.Len(), test.ShouldEqual, 1)
		clk.Add(2 * time.Minute)
		m.Check(context.Background())
		test.That(t, cache.Len(), test.ShouldEqual, 0)
	})
}
