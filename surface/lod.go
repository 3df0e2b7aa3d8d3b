package surface

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/mikerobots/cube-builder/spatialmath"
)

// LODLevel is a level of detail. Level L extracts on a lattice 2^L voxels wide and keeps a
// shrinking fraction of the triangles.
type LODLevel int

// The levels of detail.
const (
	LOD0 LODLevel = iota
	LOD1
	LOD2
	LOD3
	LOD4
)

// NumLODLevels is the number of levels of detail.
const NumLODLevels = 5

func (l LODLevel) String() string {
	return fmt.Sprintf("LOD%d", int(l))
}

// CellScale returns how many voxels one lattice cell spans per axis at this level.
func (l LODLevel) CellScale() int {
	return 1 << uint(l)
}

// LODConfig holds the per-level camera distances and simplification ratios.
type LODConfig struct {
	// Distances[L] is the smallest normalized distance at which level L is used.
	Distances []float64 `json:"distances"`
	// Ratios[L] is the fraction of triangles kept at level L.
	Ratios []float64 `json:"ratios"`
}

// DefaultLODConfig returns the standard distances and halving ratios.
func DefaultLODConfig() LODConfig {
	return LODConfig{
		Distances: []float64{0, 10, 25, 50, 100},
		Ratios:    []float64{1, 0.5, 0.25, 0.125, 0.0625},
	}
}

// Validate checks that there is one non-decreasing distance and one non-increasing ratio in
// (0, 1] per level.
func (c LODConfig) Validate(path string) error {
	var errs error
	if len(c.Distances) != NumLODLevels {
		errs = multierr.Append(errs, errors.Errorf("%s: want %d distances, got %d", path, NumLODLevels, len(c.Distances)))
	}
	if len(c.Ratios) != NumLODLevels {
		errs = multierr.Append(errs, errors.Errorf("%s: want %d ratios, got %d", path, NumLODLevels, len(c.Ratios)))
	}
	if errs != nil {
		return errs
	}
	for i := 0; i < NumLODLevels; i++ {
		if c.Distances[i] < 0 || (i > 0 && c.Distances[i] < c.Distances[i-1]) {
			errs = multierr.Append(errs, errors.Errorf("%s: distance %d (%v) must be non-negative and non-decreasing", path, i, c.Distances[i]))
		}
		if !(c.Ratios[i] > 0 && c.Ratios[i] <= 1) || (i > 0 && c.Ratios[i] > c.Ratios[i-1]) {
			errs = multierr.Append(errs, errors.Errorf("%s: ratio %d (%v) must be in (0, 1] and non-increasing", path, i, c.Ratios[i]))
		}
	}
	return errs
}

// LODManager maps viewing distances to levels of detail. It is immutable and safe for
// concurrent use.
type LODManager struct {
	distances []float64
	ratios    []float64
}

// NewLODManager validates cfg and returns a manager for it.
func NewLODManager(cfg LODConfig) (*LODManager, error) {
	if err := cfg.Validate("lod"); err != nil {
		return nil, errors.Wrap(ErrInvalidSettings, err.Error())
	}
	return &LODManager{
		distances: append([]float64(nil), cfg.Distances...),
		ratios:    append([]float64(nil), cfg.Ratios...),
	}, nil
}

// DefaultLODManager returns a manager for DefaultLODConfig.
func DefaultLODManager() *LODManager {
	m, err := NewLODManager(DefaultLODConfig())
	if err != nil {
		panic(err)
	}
	return m
}

// SelectLevel returns the coarsest level whose distance threshold is at most distance.
func (m *LODManager) SelectLevel(distance float64) LODLevel {
	if math.IsNaN(distance) {
		return LOD0
	}
	for l := NumLODLevels - 1; l > 0; l-- {
		if distance >= m.distances[l] {
			return LODLevel(l)
		}
	}
	return LOD0
}

// SelectLevelForBounds selects by distance relative to the diagonal of bounds, so large objects
// keep detail further away. Diagonals under a centimeter count as one.
func (m *LODManager) SelectLevelForBounds(distance float64, bounds spatialmath.AABB) LODLevel {
	return m.SelectLevel(distance / math.Max(1, bounds.Size().Norm()))
}

// Explicit clamps level into the valid range.
func (m *LODManager) Explicit(level int) LODLevel {
	return LODLevel(lo.Clamp(level, int(LOD0), NumLODLevels-1))
}

// SimplificationRatio returns the fraction of triangles kept at level.
func (m *LODManager) SimplificationRatio(level LODLevel) float64 {
	return m.ratios[m.Explicit(int(level))]
}

// CellScale returns the lattice coarsening factor of level.
func (m *LODManager) CellScale(level LODLevel) int {
	return m.Explicit(int(level)).CellScale()
}
