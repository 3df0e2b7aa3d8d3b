package voxel

import (
	"github.com/pkg/errors"

	"github.com/mikerobots/cube-builder/octree"
)

var (
	// ErrOutOfBounds is returned for positions outside the grid's extent or of the wrong resolution.
	ErrOutOfBounds = octree.ErrOutOfBounds
	// ErrOutOfMemory is returned when an edit would exceed the grid's node budget.
	ErrOutOfMemory = octree.ErrOutOfMemory
	// ErrResolutionMismatch is returned when composing snapshots that cannot be aligned.
	ErrResolutionMismatch = errors.New("resolution mismatch")
)

func outOfBounds(p Position, dims [3]int) error {
	return errors.Wrapf(ErrOutOfBounds, "%v outside grid of %dx%dx%d", p, dims[0], dims[1], dims[2])
}
