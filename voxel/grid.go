package voxel

import (
	"iter"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mikerobots/cube-builder/logging"
	"github.com/mikerobots/cube-builder/octree"
	"github.com/mikerobots/cube-builder/spatialmath"
)

// Change describes one successful occupancy edit. Region is the world-space box touched by the
// edit; Count is the number of voxels whose occupancy flipped.
type Change struct {
	GridID     uuid.UUID
	Resolution Resolution
	Position   Position
	Occupied   bool
	Region     spatialmath.AABB
	Count      int
}

// ChangeFunc receives edits after the grid's lock has been released. It must not block.
type ChangeFunc func(Change)

// GridOption configures a Grid.
type GridOption func(*Grid)

// WithMaxNodes bounds the grid's octree arena.
func WithMaxNodes(n int) GridOption {
	return func(g *Grid) {
		g.maxNodes = n
	}
}

// WithID fixes the grid's identifier instead of generating one.
func WithID(id uuid.UUID) GridOption {
	return func(g *Grid) {
		g.id = id
	}
}

// Grid is the voxel volume editors work on: a sparse octree at one resolution, bounded to dims
// voxels per axis starting at the world origin. It is safe for concurrent use; readers never
// observe a half-applied edit.
type Grid struct {
	id         uuid.UUID
	resolution Resolution
	dims       [3]int
	maxNodes   int
	logger     logging.Logger

	mu      sync.RWMutex
	tree    *octree.Octree
	version uint64

	snapMu sync.Mutex
	snap   *Snapshot

	watchMu  sync.Mutex
	watchers map[int]ChangeFunc
	nextID   int
}

// NewGrid creates an empty grid of dims voxels at the given resolution.
func NewGrid(res Resolution, dims [3]int, logger logging.Logger, opts ...GridOption) (*Grid, error) {
	if !res.Valid() {
		return nil, errors.Errorf("invalid resolution %d", res)
	}
	for _, d := range dims {
		if d <= 0 {
			return nil, errors.Errorf("invalid grid dimensions %v", dims)
		}
	}
	g := &Grid{
		id:         uuid.New(),
		resolution: res,
		dims:       dims,
		watchers:   map[int]ChangeFunc{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logger.Sublogger("grid." + res.String())

	tree, err := octree.New(max(dims[0], dims[1], dims[2]), g.logger, octree.WithMaxNodes(g.maxNodes))
	if err != nil {
		return nil, err
	}
	g.tree = tree
	return g, nil
}

// ID returns the grid's unique identifier.
func (g *Grid) ID() uuid.UUID {
	return g.id
}

// Resolution returns the grid's voxel resolution.
func (g *Grid) Resolution() Resolution {
	return g.resolution
}

// VoxelSize returns the voxel edge length in centimeters.
func (g *Grid) VoxelSize() float64 {
	return g.resolution.Size()
}

// Dimensions returns the number of voxels along each axis.
func (g *Grid) Dimensions() [3]int {
	return g.dims
}

// Bounds returns the grid's world-space extent.
func (g *Grid) Bounds() spatialmath.AABB {
	s := g.VoxelSize()
	return spatialmath.AABB{
		Max: r3.Vector{X: float64(g.dims[0]) * s, Y: float64(g.dims[1]) * s, Z: float64(g.dims[2]) * s},
	}
}

// Contains reports whether p is addressable in this grid.
func (g *Grid) Contains(p Position) bool {
	return p.Resolution == g.resolution &&
		p.X >= 0 && p.Y >= 0 && p.Z >= 0 &&
		int(p.X) < g.dims[0] && int(p.Y) < g.dims[1] && int(p.Z) < g.dims[2]
}

// Set changes one voxel's occupancy. Out of bounds positions fail with ErrOutOfBounds and change
// nothing.
func (g *Grid) Set(p Position, occupied bool) error {
	if !g.Contains(p) {
		return outOfBounds(p, g.dims)
	}

	g.mu.Lock()
	changed, err := g.tree.Set(int(p.X), int(p.Y), int(p.Z), occupied)
	if changed {
		g.version++
	}
	g.mu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "setting %v", p)
	}

	if changed {
		g.notify(Change{
			GridID:     g.id,
			Resolution: g.resolution,
			Position:   p,
			Occupied:   occupied,
			Region:     p.WorldBounds(),
			Count:      1,
		})
	}
	return nil
}

// IsOccupied reports whether p is occupied. Positions outside the grid are never occupied.
func (g *Grid) IsOccupied(p Position) bool {
	if !g.Contains(p) {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tree.At(int(p.X), int(p.Y), int(p.Z))
}

// Fill sets every voxel in the inclusive box [lo, hi] and returns how many changed. The box must
// lie inside the grid.
func (g *Grid) Fill(lo, hi Position, occupied bool) (int, error) {
	if !g.Contains(lo) {
		return 0, outOfBounds(lo, g.dims)
	}
	if !g.Contains(hi) {
		return 0, outOfBounds(hi, g.dims)
	}

	g.mu.Lock()
	n, err := g.tree.Fill(lo.Index(), hi.Index(), occupied)
	if n > 0 {
		g.version++
	}
	g.mu.Unlock()
	if err != nil {
		return 0, errors.Wrapf(err, "filling %v-%v", lo, hi)
	}

	if n > 0 {
		g.notify(Change{
			GridID:     g.id,
			Resolution: g.resolution,
			Position:   lo,
			Occupied:   occupied,
			Region:     lo.WorldBounds().Union(hi.WorldBounds()),
			Count:      n,
		})
	}
	return n, nil
}

// Clear removes every voxel.
func (g *Grid) Clear() {
	g.mu.Lock()
	n := g.tree.Count()
	var region spatialmath.AABB
	if lo, hi, ok := g.tree.OccupiedBounds(); ok {
		region = g.indexBounds(lo, hi)
	}
	g.tree.Clear()
	if n > 0 {
		g.version++
	}
	g.mu.Unlock()

	if n > 0 {
		g.notify(Change{GridID: g.id, Resolution: g.resolution, Region: region, Count: n})
	}
}

// Count returns the number of occupied voxels.
func (g *Grid) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tree.Count()
}

// NodeCount returns the number of live octree nodes.
func (g *Grid) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tree.NodeCount()
}

// Version increases with every edit that changed occupancy.
func (g *Grid) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// OccupiedPositions lazily yields every occupied voxel. The grid is read locked for the duration
// of the iteration, so the consumer must not edit the grid from inside the loop.
func (g *Grid) OccupiedPositions() iter.Seq[Position] {
	return func(yield func(Position) bool) {
		g.mu.RLock()
		defer g.mu.RUnlock()
		g.tree.Iterate(0, 0, func(x, y, z int) bool {
			return yield(NewPosition(x, y, z, g.resolution))
		})
	}
}

// OccupiedBounds returns the world-space box around all occupied voxels.
func (g *Grid) OccupiedBounds() (spatialmath.AABB, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	lo, hi, ok := g.tree.OccupiedBounds()
	if !ok {
		return spatialmath.EmptyAABB(), false
	}
	return g.indexBounds(lo, hi), true
}

// Watch registers fn for every subsequent change and returns a function that removes it.
func (g *Grid) Watch(fn ChangeFunc) func() {
	g.watchMu.Lock()
	id := g.nextID
	g.nextID++
	g.watchers[id] = fn
	g.watchMu.Unlock()

	return func() {
		g.watchMu.Lock()
		delete(g.watchers, id)
		g.watchMu.Unlock()
	}
}

func (g *Grid) notify(c Change) {
	g.watchMu.Lock()
	fns := make([]ChangeFunc, 0, len(g.watchers))
	for id := 0; id < g.nextID; id++ {
		if fn, ok := g.watchers[id]; ok {
			fns = append(fns, fn)
		}
	}
	g.watchMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (g *Grid) indexBounds(lo, hi [3]int) spatialmath.AABB {
	return NewPosition(lo[0], lo[1], lo[2], g.resolution).WorldBounds().
		Union(NewPosition(hi[0], hi[1], hi[2], g.resolution).WorldBounds())
}
