package workspace

import (
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/mikerobots/cube-builder/events"
	"github.com/mikerobots/cube-builder/logging"
	"github.com/mikerobots/cube-builder/spatialmath"
	"github.com/mikerobots/cube-builder/voxel"
)

// GridHook is called whenever the manager creates a grid. old is nil for the first grid of a
// resolution and the replaced grid after a resize.
type GridHook func(old, new *voxel.Grid)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithEventBus publishes WorkspaceResized events to bus.
func WithEventBus(b *events.Bus) ManagerOption {
	return func(m *Manager) {
		m.bus = b
	}
}

// WithGridHook registers a hook for grid creation.
func WithGridHook(h GridHook) ManagerOption {
	return func(m *Manager) {
		m.hooks = append(m.hooks, h)
	}
}

// WithMaxNodes bounds the octree of every grid.
func WithMaxNodes(n int) ManagerOption {
	return func(m *Manager) {
		m.maxNodes = n
	}
}

// Manager owns one grid per resolution, all covering the workspace box from the origin to its
// size. Resizing recreates the grids with the same IDs and contents.
type Manager struct {
	logger      logging.Logger
	constraints Constraints
	bus         *events.Bus
	hooks       []GridHook
	maxNodes    int

	mu    sync.RWMutex
	size  r3.Vector
	grids [voxel.NumResolutions]*voxel.Grid
}

// NewManager creates a workspace of the constraints' default size.
func NewManager(logger logging.Logger, constraints Constraints, opts ...ManagerOption) (*Manager, error) {
	if err := constraints.Validate("workspace"); err != nil {
		return nil, err
	}
	m := &Manager{
		logger:      logger.Sublogger("workspace"),
		constraints: constraints,
		size:        constraints.DefaultSize(),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, res := range voxel.AllResolutions() {
		g, err := m.newGrid(res, m.size, nil)
		if err != nil {
			return nil, err
		}
		m.grids[res] = g
	}
	for _, g := range m.grids {
		m.runHooks(nil, g)
	}
	return m, nil
}

func (m *Manager) newGrid(res voxel.Resolution, size r3.Vector, old *voxel.Grid) (*voxel.Grid, error) {
	opts := []voxel.GridOption{voxel.WithMaxNodes(m.maxNodes)}
	if old != nil {
		opts = append(opts, voxel.WithID(old.ID()))
	}
	return voxel.NewGrid(res, Dimensions(size, res), m.logger, opts...)
}

func (m *Manager) runHooks(old, g *voxel.Grid) {
	for _, h := range m.hooks {
		h(old, g)
	}
}

// Constraints returns the size constraints.
func (m *Manager) Constraints() Constraints {
	return m.constraints
}

// Size returns the workspace edge lengths in centimeters.
func (m *Manager) Size() r3.Vector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Bounds returns the workspace box.
func (m *Manager) Bounds() spatialmath.AABB {
	return spatialmath.AABB{Max: m.Size()}
}

// Contains reports whether a world point lies in the workspace.
func (m *Manager) Contains(p r3.Vector) bool {
	return m.Bounds().Contains(p)
}

// Grid returns the grid of res.
func (m *Manager) Grid(res voxel.Resolution) (*voxel.Grid, error) {
	if !res.Valid() {
		return nil, errors.Errorf("invalid resolution %v", res)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grids[res], nil
}

// Grids returns every grid, finest first.
func (m *Manager) Grids() []*voxel.Grid {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*voxel.Grid(nil), m.grids[:]...)
}

// withGrid runs fn on the grid of res while holding off resizes.
func (m *Manager) withGrid(res voxel.Resolution, fn func(*voxel.Grid) error) error {
	if !res.Valid() {
		return errors.Wrapf(voxel.ErrOutOfBounds, "invalid resolution %v", res)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.grids[res])
}

// editGrid is withGrid for edits, refusing resolutions that do not fit in the workspace.
func (m *Manager) editGrid(res voxel.Resolution, fn func(*voxel.Grid) error) error {
	return m.withGrid(res, func(g *voxel.Grid) error {
		if !Fits(m.size, res) {
			return errors.Wrapf(ErrResolutionTooCoarse, "%v voxels in a %v workspace", res, m.size)
		}
		return fn(g)
	})
}

// Resize changes the workspace size. It fails without changing anything if the size is outside
// the constraints or a grid has occupied voxels beyond the new bounds.
func (m *Manager) Resize(size r3.Vector) error {
	if !m.constraints.Allows(size) {
		return errors.Wrapf(ErrInvalidSize, "%v not within [%v, %v]", size, m.constraints.Min, m.constraints.Max)
	}

	m.mu.Lock()
	old := m.size
	if old == size {
		m.mu.Unlock()
		return nil
	}
	for _, g := range m.grids {
		if !Fits(size, g.Resolution()) && g.Count() > 0 {
			m.mu.Unlock()
			return errors.Wrapf(ErrWouldLoseVoxels, "%v voxels do not fit in %v", g.Resolution(), size)
		}
		dims := Dimensions(size, g.Resolution())
		for p := range g.OccupiedPositions() {
			if int(p.X) >= dims[0] || int(p.Y) >= dims[1] || int(p.Z) >= dims[2] {
				m.mu.Unlock()
				return errors.Wrapf(ErrWouldLoseVoxels, "%v at %v", p, g.Resolution())
			}
		}
	}

	var replaced [voxel.NumResolutions]*voxel.Grid
	for i, g := range m.grids {
		ng, err := m.newGrid(g.Resolution(), size, g)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		for p := range g.OccupiedPositions() {
			if err := ng.Set(p, true); err != nil {
				m.mu.Unlock()
				return errors.Wrapf(err, "copying %v", p)
			}
		}
		replaced[i] = ng
	}
	previous := m.grids
	m.grids = replaced
	m.size = size
	for i := range replaced {
		m.runHooks(previous[i], replaced[i])
	}
	m.mu.Unlock()

	m.logger.Infow("workspace resized", "old", old, "new", size)
	if m.bus != nil {
		m.bus.Publish(events.WorkspaceResized{Old: old, New: size})
	}
	return nil
}

// Reset returns the workspace to its default size.
func (m *Manager) Reset() error {
	return m.Resize(m.constraints.DefaultSize())
}
