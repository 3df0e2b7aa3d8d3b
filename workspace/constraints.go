// Package workspace owns the bounded editing volume: one voxel grid per resolution, all sized to
// the same workspace, and the edit API the rest of the application goes through.
package workspace

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mikerobots/cube-builder/voxel"
)

var (
	// ErrInvalidSize is returned for a workspace size outside the constraints.
	ErrInvalidSize = errors.New("workspace size outside constraints")
	// ErrWouldLoseVoxels is returned for a resize that would cut off occupied voxels.
	ErrWouldLoseVoxels = errors.New("resize would discard occupied voxels")
	// ErrResolutionTooCoarse is returned for edits at a resolution whose voxel is longer than an
	// edge of the workspace.
	ErrResolutionTooCoarse = errors.New("voxel larger than the workspace")
)

// Constraints bound the workspace edge length in centimeters. The bounds do not depend on the
// resolution: a workspace may be smaller than the coarsest voxels, and edits at a resolution that
// does not fit fail with ErrResolutionTooCoarse.
type Constraints struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
}

// DefaultConstraints allows workspaces from 2m to 8m, starting at 5m.
func DefaultConstraints() Constraints {
	return Constraints{Min: 200, Max: 800, Default: 500}
}

// Validate checks that Min <= Default <= Max.
func (c Constraints) Validate(path string) error {
	var errs error
	if !(c.Min > 0) {
		errs = multierr.Append(errs, errors.Errorf("%s: min %v must be positive", path, c.Min))
	}
	if c.Max < c.Min {
		errs = multierr.Append(errs, errors.Errorf("%s: max %v is below min %v", path, c.Max, c.Min))
	}
	if c.Default < c.Min || c.Default > c.Max {
		errs = multierr.Append(errs, errors.Errorf("%s: default %v outside [%v, %v]", path, c.Default, c.Min, c.Max))
	}
	return errs
}

// DefaultSize returns the default workspace as a cube.
func (c Constraints) DefaultSize() r3.Vector {
	return r3.Vector{X: c.Default, Y: c.Default, Z: c.Default}
}

// Allows reports whether every edge of size is within [Min, Max].
func (c Constraints) Allows(size r3.Vector) bool {
	for _, v := range []float64{size.X, size.Y, size.Z} {
		if math.IsNaN(v) || v < c.Min || v > c.Max {
			return false
		}
	}
	return true
}

// Clamp moves every edge of size into [Min, Max].
func (c Constraints) Clamp(size r3.Vector) r3.Vector {
	clamp := func(v float64) float64 { return math.Min(math.Max(v, c.Min), c.Max) }
	return r3.Vector{X: clamp(size.X), Y: clamp(size.Y), Z: clamp(size.Z)}
}

// Fits reports whether a voxel of res fits inside a workspace of size.
func Fits(size r3.Vector, res voxel.Resolution) bool {
	vs := res.Size()
	return size.X >= vs && size.Y >= vs && size.Z >= vs
}

// Dimensions returns how many whole voxels of res fit along each edge of size. A resolution that
// does not fit still gets a one voxel grid so every resolution has a grid, but the workspace
// refuses edits at it.
func Dimensions(size r3.Vector, res voxel.Resolution) [3]int {
	vs := res.Size()
	return [3]int{
		max(1, int(math.Floor(size.X/vs))),
		max(1, int(math.Floor(size.Y/vs))),
		max(1, int(math.Floor(size.Z/vs))),
	}
}
