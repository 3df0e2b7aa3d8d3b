package workspace

import (
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/mikerobots/cube-builder/events"
	"github.com/mikerobots/cube-builder/logging"
	"github.com/mikerobots/cube-builder/spatialmath"
	"github.com/mikerobots/cube-builder/surface"
	"github.com/mikerobots/cube-builder/voxel"
)

// Option configures a DataManager.
type Option func(*options)

type options struct {
	constraints Constraints
	bus         *events.Bus
	generator   *surface.Generator
	maxNodes    int
	active      voxel.Resolution
}

// WithConstraints overrides the default workspace constraints.
func WithConstraints(c Constraints) Option {
	return func(o *options) {
		o.constraints = c
	}
}

// WithBus publishes edit, resolution and resize events to bus.
func WithBus(b *events.Bus) Option {
	return func(o *options) {
		o.bus = b
	}
}

// WithGenerator keeps every grid registered with gen, including grids recreated by a resize.
func WithGenerator(gen *surface.Generator) Option {
	return func(o *options) {
		o.generator = gen
	}
}

// WithGridNodeLimit bounds the octree of every grid.
func WithGridNodeLimit(n int) Option {
	return func(o *options) {
		o.maxNodes = n
	}
}

// WithActiveResolution sets the initial editing resolution.
func WithActiveResolution(res voxel.Resolution) Option {
	return func(o *options) {
		o.active = res
	}
}

// DataManager is the edit facade over a workspace. Edits never race a resize; they land either in
// the grids before it or in the copies after it.
type DataManager struct {
	logger    logging.Logger
	bus       *events.Bus
	generator *surface.Generator
	ws        *Manager

	active atomic.Uint32

	unwatchMu sync.Mutex
	unwatch   map[*voxel.Grid]func()
}

// NewDataManager creates a workspace of the default size with one empty grid per resolution.
func NewDataManager(logger logging.Logger, opts ...Option) (*DataManager, error) {
	o := options{constraints: DefaultConstraints(), active: voxel.Size1cm}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.active.Valid() {
		return nil, errors.Errorf("invalid active resolution %v", o.active)
	}

	dm := &DataManager{
		logger:    logger,
		bus:       o.bus,
		generator: o.generator,
		unwatch:   map[*voxel.Grid]func(){},
	}
	dm.active.Store(uint32(o.active))

	mopts := []ManagerOption{WithGridHook(dm.replaceGrid), WithMaxNodes(o.maxNodes)}
	if o.bus != nil {
		mopts = append(mopts, WithEventBus(o.bus))
	}
	ws, err := NewManager(logger, o.constraints, mopts...)
	if err != nil {
		return nil, err
	}
	dm.ws = ws
	return dm, nil
}

// replaceGrid moves the event watch and the generator registration from old to g.
func (dm *DataManager) replaceGrid(old, g *voxel.Grid) {
	dm.unwatchMu.Lock()
	if old != nil {
		if stop, ok := dm.unwatch[old]; ok {
			stop()
			delete(dm.unwatch, old)
		}
	}
	if dm.bus != nil {
		dm.unwatch[g] = g.Watch(dm.publishChange)
	}
	dm.unwatchMu.Unlock()

	if dm.generator != nil {
		if old != nil {
			dm.generator.Unregister(old.ID())
		}
		dm.generator.Register(g)
	}
}

func (dm *DataManager) publishChange(c voxel.Change) {
	dm.bus.Publish(events.VoxelChanged{
		GridID:     c.GridID,
		Position:   c.Position,
		Resolution: c.Resolution,
		Occupied:   c.Occupied,
		Count:      c.Count,
		Region:     c.Region,
	})
}

// Workspace returns the underlying workspace manager.
func (dm *DataManager) Workspace() *Manager {
	return dm.ws
}

// SetVoxel sets one voxel at res. Positions outside the workspace fail with voxel.ErrOutOfBounds
// and resolutions whose voxel is longer than the workspace with ErrResolutionTooCoarse.
func (dm *DataManager) SetVoxel(pos [3]int, res voxel.Resolution, occupied bool) error {
	return dm.ws.editGrid(res, func(g *voxel.Grid) error {
		return g.Set(voxel.NewPosition(pos[0], pos[1], pos[2], res), occupied)
	})
}

// GetVoxel reports whether the voxel at pos is occupied. Invalid positions are never occupied.
func (dm *DataManager) GetVoxel(pos [3]int, res voxel.Resolution) bool {
	var occupied bool
	//nolint:errcheck
	dm.ws.withGrid(res, func(g *voxel.Grid) error {
		occupied = g.IsOccupied(voxel.NewPosition(pos[0], pos[1], pos[2], res))
		return nil
	})
	return occupied
}

// SetVoxelAt sets the voxel of res containing the world point p, in centimeters.
func (dm *DataManager) SetVoxelAt(p r3.Vector, res voxel.Resolution, occupied bool) error {
	if !dm.ws.Contains(p) {
		return errors.Wrapf(voxel.ErrOutOfBounds, "%v outside workspace", p)
	}
	return dm.SetVoxel(voxelIndex(p, res), res, occupied)
}

// SetActiveVoxel sets a voxel at the active resolution.
func (dm *DataManager) SetActiveVoxel(pos [3]int, occupied bool) error {
	return dm.SetVoxel(pos, dm.ActiveResolution(), occupied)
}

// Fill sets every voxel of res in the inclusive box [lo, hi] and returns how many changed.
func (dm *DataManager) Fill(lo, hi [3]int, res voxel.Resolution, occupied bool) (int, error) {
	for i := range lo {
		if lo[i] > hi[i] {
			lo[i], hi[i] = hi[i], lo[i]
		}
	}
	var n int
	err := dm.ws.editGrid(res, func(g *voxel.Grid) error {
		var err error
		n, err = g.Fill(voxel.NewPosition(lo[0], lo[1], lo[2], res), voxel.NewPosition(hi[0], hi[1], hi[2], res), occupied)
		return err
	})
	return n, err
}

// Count returns the number of occupied voxels at res.
func (dm *DataManager) Count(res voxel.Resolution) int {
	var n int
	//nolint:errcheck
	dm.ws.withGrid(res, func(g *voxel.Grid) error {
		n = g.Count()
		return nil
	})
	return n
}

// TotalCount returns the number of occupied voxels over all resolutions.
func (dm *DataManager) TotalCount() int {
	n := 0
	for _, g := range dm.ws.Grids() {
		n += g.Count()
	}
	return n
}

// Clear empties every grid.
func (dm *DataManager) Clear() {
	for _, res := range voxel.AllResolutions() {
		//nolint:errcheck
		dm.ws.withGrid(res, func(g *voxel.Grid) error {
			g.Clear()
			return nil
		})
	}
}

// Grid returns the current grid of res. A resize replaces it, so callers should not hold on to it.
func (dm *DataManager) Grid(res voxel.Resolution) (*voxel.Grid, error) {
	return dm.ws.Grid(res)
}

// WorkspaceBounds returns the workspace box in centimeters.
func (dm *DataManager) WorkspaceBounds() spatialmath.AABB {
	return dm.ws.Bounds()
}

// ResizeWorkspace changes the workspace size, keeping every voxel.
func (dm *DataManager) ResizeWorkspace(size r3.Vector) error {
	return dm.ws.Resize(size)
}

// ActiveResolution returns the resolution edits default to.
func (dm *DataManager) ActiveResolution() voxel.Resolution {
	return voxel.Resolution(dm.active.Load())
}

// SetActiveResolution changes the editing resolution and publishes ResolutionChanged when it
// differs from the current one.
func (dm *DataManager) SetActiveResolution(res voxel.Resolution) error {
	if !res.Valid() {
		return errors.Errorf("invalid resolution %v", res)
	}
	old := voxel.Resolution(dm.active.Swap(uint32(res)))
	if old == res {
		return nil
	}
	dm.logger.Debugw("active resolution changed", "old", old, "new", res)
	if dm.bus != nil {
		dm.bus.Publish(events.ResolutionChanged{Old: old, New: res})
	}
	return nil
}

// Close stops publishing edits and unregisters every grid from the generator.
func (dm *DataManager) Close() {
	dm.unwatchMu.Lock()
	for g, stop := range dm.unwatch {
		stop()
		delete(dm.unwatch, g)
	}
	dm.unwatchMu.Unlock()
	if dm.generator != nil {
		for _, g := range dm.ws.Grids() {
			dm.generator.Unregister(g.ID())
		}
	}
}

func voxelIndex(p r3.Vector, res voxel.Resolution) [3]int {
	vs := res.Size()
	return [3]int{int(p.X / vs), int(p.Y / vs), int(p.Z / vs)}
}
