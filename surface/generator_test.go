package surface

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.viam.com/test"

	"github.com/mikerobots/cube-builder/events"
	"github.com/mikerobots/cube-builder/logging"
	"github.com/mikerobots/cube-builder/meshcache"
	"github.com/mikerobots/cube-builder/spatialmath"
	"github.com/mikerobots/cube-builder/voxel"
)

// recorder collects generation events.
type recorder struct {
	mu     sync.Mutex
	events []events.MeshGeneration
}

func record(bus *events.Bus) *recorder {
	r := &recorder{}
	events.Subscribe(bus, func(e events.MeshGeneration) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
	return r
}

func (r *recorder) count(phase events.Phase) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Phase == phase {
			n++
		}
	}
	return n
}

func (r *recorder) last(task uuid.UUID) events.MeshGeneration {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Task == task {
			return r.events[i]
		}
	}
	return events.MeshGeneration{}
}

func TestGeneratorCache(t *testing.T) {
	logger := logging.NewTestLogger(t)
	bus := events.NewBus(logger)
	rec := record(bus)
	gen := NewGenerator(logger, WithBus(bus))
	defer gen.Close()

	g := newGrid(t, voxel.Size1cm, 16)
	fillBox(t, g, [3]int{1, 1, 1}, [3]int{4, 4, 4})
	gen.Register(g)
	ctx := context.Background()

	first, err := gen.GetOrGenerate(ctx, g.ID(), DefaultSettings())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, first.TriangleCount(), test.ShouldEqual, 192)
	second, err := gen.GetOrGenerate(ctx, g.ID(), DefaultSettings())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second, test.ShouldEqual, first)
	test.That(t, rec.count(events.Started), test.ShouldEqual, 1)
	test.That(t, rec.count(events.Completed), test.ShouldEqual, 2)

	stats := gen.Stats()
	test.That(t, stats.Generations, test.ShouldEqual, int64(1))
	test.That(t, stats.CacheHits, test.ShouldEqual, int64(1))
	test.That(t, stats.AverageTime, test.ShouldBeGreaterThan, 0)

	t.Run("edits regenerate", func(t *testing.T) {
		test.That(t, gen.Cache().Len(), test.ShouldEqual, 1)
		test.That(t, g.Set(voxel.NewPosition(2, 2, 5, voxel.Size1cm), true), test.ShouldBeNil)
		// the watched grid invalidated the old mesh
		test.That(t, gen.Cache().Len(), test.ShouldEqual, 0)

		third, err := gen.GetOrGenerate(ctx, g.ID(), DefaultSettings())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, third, test.ShouldNotEqual, first)
		test.That(t, rec.count(events.Started), test.ShouldEqual, 2)
	})

	t.Run("other levels of detail are separate entries", func(t *testing.T) {
		s := DefaultSettings()
		s.LOD = 1
		_, err := gen.GetOrGenerate(ctx, g.ID(), s)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, rec.count(events.Started), test.ShouldEqual, 3)
	})

	t.Run("bus events invalidate unregistered grids", func(t *testing.T) {
		other := uuid.New()
		gen.Cache().Put(meshcache.Key(7), meshcache.Meta{GridIDs: []uuid.UUID{other}, Bounds: g.Bounds()}, first)
		bus.Publish(events.VoxelChanged{GridID: other, Region: voxel.NewPosition(0, 0, 0, voxel.Size1cm).WorldBounds()})
		test.That(t, gen.Cache().Contains(meshcache.Key(7)), test.ShouldBeFalse)
	})

	t.Run("memory pressure evicts", func(t *testing.T) {
		test.That(t, gen.Cache().Len(), test.ShouldBeGreaterThan, 0)
		bus.Publish(events.MemoryPressure{Level: events.PressureCritical})
		test.That(t, gen.Cache().Len(), test.ShouldEqual, 0)
	})
}

func TestGeneratorTasks(t *testing.T) {
	logger := logging.NewTestLogger(t)
	bus := events.NewBus(logger)
	rec := record(bus)
	gen := NewGenerator(logger, WithBus(bus), WithMaxConcurrent(1))
	defer gen.Close()
	ctx := context.Background()

	g := newGrid(t, voxel.Size2cm, 16)
	fillBox(t, g, [3]int{0, 0, 0}, [3]int{3, 3, 3})
	gen.Register(g)

	t.Run("request and wait", func(t *testing.T) {
		h, err := gen.RequestMesh(ctx, g.ID(), DefaultSettings())
		test.That(t, err, test.ShouldBeNil)
		m, err := gen.Wait(ctx, h)
		test.That(t, err, test.ShouldBeNil)
		requireWatertight(t, m)

		done := rec.last(h)
		test.That(t, done.Phase, test.ShouldEqual, events.Completed)
		test.That(t, done.Mesh, test.ShouldEqual, m)
		test.That(t, done.GridID, test.ShouldEqual, g.ID())
		test.That(t, done.Resolution, test.ShouldEqual, voxel.Size2cm)
		test.That(t, gen.Cache().Contains(meshcache.Key(done.Key)), test.ShouldBeTrue)

		// waiting releases the handle
		_, err = gen.Wait(ctx, h)
		test.That(t, errors.Is(err, ErrUnknownTask), test.ShouldBeTrue)
		test.That(t, gen.Cancel(h), test.ShouldBeFalse)
	})

	t.Run("composite", func(t *testing.T) {
		coarse := newGrid(t, voxel.Size4cm, 8)
		fillBox(t, coarse, [3]int{2, 0, 0}, [3]int{2, 1, 1})
		gen.Register(coarse)
		h, err := gen.RequestComposite(ctx, []uuid.UUID{g.ID(), coarse.ID()}, DefaultSettings())
		test.That(t, err, test.ShouldBeNil)
		m, err := gen.Wait(ctx, h)
		test.That(t, err, test.ShouldBeNil)
		requireWatertight(t, m)
		test.That(t, len(m.Materials), test.ShouldEqual, 2)

		// editing either grid drops the composite
		key := meshcache.Key(rec.last(h).Key)
		test.That(t, coarse.Set(voxel.NewPosition(2, 0, 0, voxel.Size4cm), false), test.ShouldBeNil)
		test.That(t, gen.Cache().Contains(key), test.ShouldBeFalse)
	})

	t.Run("request errors", func(t *testing.T) {
		_, err := gen.RequestMesh(ctx, uuid.New(), DefaultSettings())
		test.That(t, errors.Is(err, ErrUnknownGrid), test.ShouldBeTrue)

		s := DefaultSettings()
		s.ChunkSize = -1
		_, err = gen.RequestMesh(ctx, g.ID(), s)
		test.That(t, errors.Is(err, ErrInvalidSettings), test.ShouldBeTrue)

		_, err = gen.Wait(ctx, uuid.New())
		test.That(t, errors.Is(err, ErrUnknownTask), test.ShouldBeTrue)
	})

	t.Run("empty grid", func(t *testing.T) {
		empty := newGrid(t, voxel.Size1cm, 8)
		gen.Register(empty)
		m, err := gen.GetOrGenerate(ctx, empty.ID(), DefaultSettings())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, m.IsEmpty(), test.ShouldBeTrue)
	})

	t.Run("unregister", func(t *testing.T) {
		gen.Unregister(g.ID())
		_, err := gen.GetOrGenerate(ctx, g.ID(), DefaultSettings())
		test.That(t, errors.Is(err, ErrUnknownGrid), test.ShouldBeTrue)
	})
}

func TestGeneratorCancel(t *testing.T) {
	logger := logging.NewTestLogger(t)
	bus := events.NewBus(logger)
	rec := record(bus)
	gen := NewGenerator(logger, WithBus(bus))
	defer gen.Close()
	ctx := context.Background()

	g := newGrid(t, voxel.Size1cm, 256)
	fillBox(t, g, [3]int{0, 0, 0}, [3]int{255, 255, 255})
	gen.Register(g)

	// hold the task at Started until it has been cancelled
	started := make(chan events.MeshGeneration, 1)
	proceed := make(chan struct{})
	unsubscribe := events.Subscribe(bus, func(e events.MeshGeneration) {
		if e.Phase == events.Started {
			started <- e
			<-proceed
		}
	})
	defer unsubscribe()

	h, err := gen.RequestMesh(ctx, g.ID(), DefaultSettings())
	test.That(t, err, test.ShouldBeNil)
	e := <-started
	test.That(t, e.Task, test.ShouldEqual, h)
	test.That(t, gen.Stats().Pending, test.ShouldEqual, 1)
	test.That(t, gen.Cancel(h), test.ShouldBeTrue)
	close(proceed)

	_, err = gen.Wait(ctx, h)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	last := rec.last(h)
	test.That(t, last.Phase, test.ShouldEqual, events.Cancelled)
	test.That(t, errors.Is(last.Err, context.Canceled), test.ShouldBeTrue)
	test.That(t, rec.count(events.Failed), test.ShouldEqual, 0)
	test.That(t, gen.Cache().Contains(meshcache.Key(e.Key)), test.ShouldBeFalse)
}

func TestGeneratorMemoryBudget(t *testing.T) {
	logger := logging.NewTestLogger(t)
	bus := events.NewBus(logger)
	rec := record(bus)
	cache := meshcache.New(logger)
	gen := NewGenerator(logger, WithBus(bus), WithCache(cache), WithMemoryBudget(64<<10))
	defer gen.Close()
	ctx := context.Background()

	small := newGrid(t, voxel.Size1cm, 16)
	fillBox(t, small, [3]int{0, 0, 0}, [3]int{3, 3, 3})
	big := newGrid(t, voxel.Size1cm, 128)
	fillBox(t, big, [3]int{0, 0, 0}, [3]int{127, 127, 127})
	gen.Register(small)
	gen.Register(big)

	_, err := gen.GetOrGenerate(ctx, small.ID(), DefaultSettings())
	test.That(t, err, test.ShouldBeNil)

	t.Run("too large even after eviction", func(t *testing.T) {
		_, err := gen.GetOrGenerate(ctx, big.ID(), DefaultSettings())
		test.That(t, errors.Is(err, ErrOutOfMemory), test.ShouldBeTrue)
		test.That(t, errors.Is(err, ErrGenerationFailed), test.ShouldBeTrue)
		test.That(t, rec.count(events.Failed), test.ShouldEqual, 1)
		// the retry evicted the cache
		test.That(t, cache.Len(), test.ShouldEqual, 0)
	})

	t.Run("coarser levels fit", func(t *testing.T) {
		s := DefaultSettings()
		s.LOD = 4
		m, err := gen.GetOrGenerate(ctx, big.ID(), s)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, m.Bounds.AlmostEqual(spatialmath.NewAABB(big.Bounds().Min, big.Bounds().Max), 1e-3), test.ShouldBeTrue)
	})
}
