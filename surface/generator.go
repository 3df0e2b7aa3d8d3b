package surface

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"

	"github.com/mikerobots/cube-builder/events"
	"github.com/mikerobots/cube-builder/logging"
	"github.com/mikerobots/cube-builder/mesh"
	"github.com/mikerobots/cube-builder/meshcache"
	"github.com/mikerobots/cube-builder/spatialmath"
	"github.com/mikerobots/cube-builder/voxel"
)

// bytesPerSurfaceCell estimates the working set of extraction per cell on the surface of the
// occupied box: the vertex, its quads, the builder's copies and the index maps.
const bytesPerSurfaceCell = 128

// ErrUnknownTask is returned for a handle that does not name a pending task.
var ErrUnknownTask = errors.New("unknown generation task")

// Handle names a generation task.
type Handle = uuid.UUID

// GeneratorStats summarizes the generator's work.
type GeneratorStats struct {
	// Generations is the number of meshes actually extracted.
	Generations int64
	// CacheHits is the number of requests answered without extracting, from the cache or by
	// joining another request's extraction.
	CacheHits int64
	// AverageTime is the mean extraction time.
	AverageTime time.Duration
	Pending     int
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithCache shares a mesh cache; by default each generator has its own.
func WithCache(c *meshcache.Cache) GeneratorOption {
	return func(g *Generator) {
		g.cache = c
	}
}

// WithBus publishes generation events to bus and makes the generator react to edits and memory
// pressure announced there.
func WithBus(b *events.Bus) GeneratorOption {
	return func(g *Generator) {
		g.bus = b
	}
}

// WithMaxConcurrent bounds how many extractions run at once.
func WithMaxConcurrent(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.maxConcurrent = int64(n)
		}
	}
}

// WithMemoryBudget bounds the estimated working set of an extraction plus the cache's usage.
// Zero means unbounded.
func WithMemoryBudget(bytes int64) GeneratorOption {
	return func(g *Generator) {
		g.memoryBudget = bytes
	}
}

// WithDualContouring replaces the default extractor.
func WithDualContouring(dc *DualContouring) GeneratorOption {
	return func(g *Generator) {
		g.dc = dc
	}
}

type task struct {
	handle Handle
	cancel context.CancelFunc
	done   chan struct{}
	mesh   *mesh.Mesh
	err    error
}

// Generator schedules extractions for registered grids, caches their meshes and reports their
// progress as MeshGeneration events. It is safe for concurrent use.
type Generator struct {
	logger        logging.Logger
	dc            *DualContouring
	cache         *meshcache.Cache
	bus           *events.Bus
	maxConcurrent int64
	memoryBudget  int64
	sem           *semaphore.Weighted

	mu          sync.Mutex
	grids       map[uuid.UUID]*voxel.Grid
	unwatch     map[uuid.UUID]func()
	tasks       map[Handle]*task
	unsubscribe []func()
	closed      bool
	wg          sync.WaitGroup

	generations atomic.Int64
	cacheHits   atomic.Int64
	genTime     atomic.Duration
}

// NewGenerator returns a generator with no grids registered.
func NewGenerator(logger logging.Logger, opts ...GeneratorOption) *Generator {
	g := &Generator{
		logger:        logger.Sublogger("generator"),
		maxConcurrent: 2,
		grids:         map[uuid.UUID]*voxel.Grid{},
		unwatch:       map[uuid.UUID]func(){},
		tasks:         map[Handle]*task{},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.dc == nil {
		g.dc = NewDualContouring(logger)
	}
	if g.cache == nil {
		g.cache = meshcache.New(logger)
	}
	g.sem = semaphore.NewWeighted(g.maxConcurrent)
	if g.bus != nil {
		g.unsubscribe = append(g.unsubscribe,
			events.Subscribe(g.bus, g.onVoxelChanged),
			events.Subscribe(g.bus, g.onMemoryPressure),
		)
	}
	return g
}

// Cache returns the generator's mesh cache.
func (g *Generator) Cache() *meshcache.Cache {
	return g.cache
}

// DualContouring returns the generator's extractor.
func (g *Generator) DualContouring() *DualContouring {
	return g.dc
}

// Register makes grid available to requests and invalidates its cached meshes on every edit.
func (g *Generator) Register(grid *voxel.Grid) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.grids[grid.ID()]; ok {
		return
	}
	g.grids[grid.ID()] = grid
	g.unwatch[grid.ID()] = grid.Watch(func(c voxel.Change) {
		g.cache.InvalidateRegion(c.GridID, c.Region)
	})
}

// Unregister forgets the grid and drops its cached meshes.
func (g *Generator) Unregister(id uuid.UUID) {
	g.mu.Lock()
	unwatch, ok := g.unwatch[id]
	delete(g.grids, id)
	delete(g.unwatch, id)
	g.mu.Unlock()
	if ok {
		unwatch()
		g.cache.InvalidateGrid(id)
	}
}

func (g *Generator) grid(id uuid.UUID) (*voxel.Grid, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	grid, ok := g.grids[id]
	return grid, ok
}

// onVoxelChanged invalidates meshes of grids edited outside the generator's view. Registered
// grids are already watched directly.
func (g *Generator) onVoxelChanged(e events.VoxelChanged) {
	if _, ok := g.grid(e.GridID); ok {
		return
	}
	g.cache.InvalidateRegion(e.GridID, e.Region)
}

func (g *Generator) onMemoryPressure(e events.MemoryPressure) {
	g.cache.Evict(e.Level)
}

// request is one resolved mesh request.
type request struct {
	gridID   uuid.UUID
	grids    []*voxel.Grid
	settings Settings
}

func (g *Generator) resolve(ids []uuid.UUID, settings Settings) (request, error) {
	if err := settings.Validate(); err != nil {
		return request{}, err
	}
	if len(ids) == 0 {
		return request{}, errors.Wrap(ErrUnknownGrid, "no grids requested")
	}
	req := request{gridID: ids[0], settings: settings}
	for _, id := range ids {
		grid, ok := g.grid(id)
		if !ok {
			return request{}, errors.Wrapf(ErrUnknownGrid, "%v", id)
		}
		req.grids = append(req.grids, grid)
	}
	return req, nil
}

func (r request) snapshot() (*voxel.Snapshot, error) {
	if len(r.grids) == 1 {
		return r.grids[0].Snapshot(), nil
	}
	snaps := make([]*voxel.Snapshot, 0, len(r.grids))
	for _, grid := range r.grids {
		snaps = append(snaps, grid.Snapshot())
	}
	return voxel.Composite(snaps...)
}

// RequestMesh starts generating the grid's mesh in the background and returns the task's handle.
// The result arrives as a Completed event and through Wait. Cancelling ctx cancels the task.
func (g *Generator) RequestMesh(ctx context.Context, gridID uuid.UUID, settings Settings) (Handle, error) {
	return g.RequestComposite(ctx, []uuid.UUID{gridID}, settings)
}

// RequestComposite is RequestMesh for one surface over several grids of different resolutions.
func (g *Generator) RequestComposite(ctx context.Context, gridIDs []uuid.UUID, settings Settings) (Handle, error) {
	req, err := g.resolve(gridIDs, settings)
	if err != nil {
		return uuid.Nil, err
	}

	t := &task{handle: uuid.New(), done: make(chan struct{})}
	taskCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		cancel()
		return uuid.Nil, errors.New("generator is closed")
	}
	g.tasks[t.handle] = t
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		defer cancel()
		t.mesh, t.err = g.execute(taskCtx, t.handle, req)
		close(t.done)
	}()
	return t.handle, nil
}

// Cancel cancels a pending task. It reports false if the handle is unknown or the task already
// finished.
func (g *Generator) Cancel(h Handle) bool {
	g.mu.Lock()
	t, ok := g.tasks[h]
	g.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
	}
	t.cancel()
	return true
}

// Wait blocks until the task finishes and returns its result. Waiting releases the task, so a
// handle can be waited on once.
func (g *Generator) Wait(ctx context.Context, h Handle) (*mesh.Mesh, error) {
	g.mu.Lock()
	t, ok := g.tasks[h]
	g.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTask, "%v", h)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
	}
	g.mu.Lock()
	delete(g.tasks, h)
	g.mu.Unlock()
	return t.mesh, t.err
}

// GetOrGenerate returns the grid's mesh, generating it in the caller's goroutine if it is not
// cached. It publishes the same events as a task.
func (g *Generator) GetOrGenerate(ctx context.Context, gridID uuid.UUID, settings Settings) (*mesh.Mesh, error) {
	req, err := g.resolve([]uuid.UUID{gridID}, settings)
	if err != nil {
		return nil, err
	}
	return g.execute(ctx, uuid.New(), req)
}

// Stats returns the generator's counters.
func (g *Generator) Stats() GeneratorStats {
	s := GeneratorStats{
		Generations: g.generations.Load(),
		CacheHits:   g.cacheHits.Load(),
	}
	if s.Generations > 0 {
		s.AverageTime = g.genTime.Load() / time.Duration(s.Generations)
	}
	g.mu.Lock()
	for _, t := range g.tasks {
		select {
		case <-t.done:
		default:
			s.Pending++
		}
	}
	g.mu.Unlock()
	return s
}

// Close cancels pending tasks, waits for them and stops listening to the bus.
func (g *Generator) Close() {
	g.mu.Lock()
	g.closed = true
	for _, t := range g.tasks {
		t.cancel()
	}
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	unwatch := g.unwatch
	g.unwatch = map[uuid.UUID]func(){}
	g.mu.Unlock()

	g.wg.Wait()
	for _, fn := range unsubscribe {
		fn()
	}
	for _, fn := range unwatch {
		fn()
	}
}

// execute answers req from the cache or by extraction and reports the outcome. Started and
// Progress are only published by the request that actually extracts.
func (g *Generator) execute(ctx context.Context, handle Handle, req request) (*mesh.Mesh, error) {
	base := events.MeshGeneration{
		Task:   handle,
		GridID: req.gridID,
		LOD:    req.settings.LOD,
	}
	snap, err := req.snapshot()
	if err != nil {
		return nil, g.fail(base, err)
	}
	base.Resolution = snap.Resolution
	key := meshcache.NewKey(snap.Fingerprint, snap.Resolution, int(g.dc.LODManager().Explicit(req.settings.LOD)), req.settings.Hash())
	base.Key = uint64(key)

	// any edit changes a whole mesh, so the entry spans every source grid
	bounds := spatialmath.EmptyAABB()
	for _, grid := range req.grids {
		bounds = bounds.Union(grid.Bounds())
	}
	meta := meshcache.Meta{GridIDs: snap.GridIDs, Bounds: bounds, Margin: snap.Resolution.Size()}

	m, generated, err := g.cache.GetOrGenerate(ctx, key, meta, func(genCtx context.Context) (*mesh.Mesh, error) {
		return g.generate(genCtx, base, snap, req.settings)
	})
	switch {
	case err == nil:
		if !generated {
			g.cacheHits.Inc()
		}
		done := base
		done.Phase, done.Fraction, done.Mesh = events.Completed, 1, m
		g.publish(done)
		instrumentTask(events.Completed)
		return m, nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		cancelled := base
		cancelled.Phase, cancelled.Err = events.Cancelled, err
		g.publish(cancelled)
		instrumentTask(events.Cancelled)
		g.logger.CDebugw(ctx, "generation cancelled", "task", handle, "grid", req.gridID)
		return nil, err
	default:
		return nil, g.fail(base, err)
	}
}

func (g *Generator) fail(base events.MeshGeneration, err error) error {
	if !errors.Is(err, ErrGenerationFailed) {
		err = multierr.Combine(ErrGenerationFailed, err)
	}
	failed := base
	failed.Phase, failed.Err = events.Failed, err
	g.publish(failed)
	instrumentTask(events.Failed)
	g.logger.Warnw("generation failed", "task", base.Task, "grid", base.GridID, "error", err)
	return err
}

// generate extracts one mesh, holding a concurrency slot while it does.
func (g *Generator) generate(ctx context.Context, base events.MeshGeneration, snap *voxel.Snapshot, settings Settings) (*mesh.Mesh, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)

	started := base
	started.Phase = events.Started
	g.publish(started)

	if err := g.reserve(snap, settings); err != nil {
		return nil, err
	}

	start := time.Now()
	m, err := g.dc.Generate(ctx, snap, settings, func(fraction float64) {
		progress := base
		progress.Phase, progress.Fraction = events.Progress, fraction
		g.publish(progress)
	})
	if err != nil {
		return nil, err
	}
	g.generations.Inc()
	g.genTime.Add(time.Since(start))
	return m, nil
}

// reserve checks the extraction's estimated working set against the memory budget, evicting the
// cache once if that makes it fit.
func (g *Generator) reserve(snap *voxel.Snapshot, settings Settings) error {
	if g.memoryBudget <= 0 {
		return nil
	}
	need := estimateWorkingSet(snap, g.dc.LODManager().CellScale(g.dc.LODManager().Explicit(settings.LOD)))
	if need <= g.memoryBudget-g.cache.Used() {
		return nil
	}
	freed := g.cache.Evict(events.PressureCritical)
	g.logger.Infow("evicted cache to make room for generation", "freed", freed, "need", need)
	if need <= g.memoryBudget-g.cache.Used() {
		return nil
	}
	return errors.Wrapf(ErrOutOfMemory, "need about %d bytes of %d", need, g.memoryBudget)
}

// estimateWorkingSet approximates the bytes an extraction allocates: the coarsened lattice plus
// the vertices and quads of a surface as large as the lattice's bounding box.
func estimateWorkingSet(snap *voxel.Snapshot, scale int) int64 {
	var side [3]int64
	for axis := 0; axis < 3; axis++ {
		side[axis] = int64((snap.Max[axis]-snap.Min[axis])/scale + 1)
	}
	surface := 2 * (side[0]*side[1] + side[1]*side[2] + side[2]*side[0])
	lattice := snap.SizeBytes()
	if scale > 1 {
		lattice /= int64(scale * scale * scale)
	}
	return lattice + surface*bytesPerSurfaceCell
}

func (g *Generator) publish(e events.MeshGeneration) {
	if g.bus != nil {
		g.bus.Publish(e)
	}
}
