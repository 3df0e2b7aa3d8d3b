package voxel

import (
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/mikerobots/cube-builder/spatialmath"
)

// Position is an integer voxel coordinate at a given resolution. Two positions are equal only if
// their resolutions match.
type Position struct {
	X, Y, Z    int32
	Resolution Resolution
}

// NewPosition builds a Position from ints.
func NewPosition(x, y, z int, res Resolution) Position {
	return Position{X: int32(x), Y: int32(y), Z: int32(z), Resolution: res}
}

// Index returns the coordinate as an array.
func (p Position) Index() [3]int {
	return [3]int{int(p.X), int(p.Y), int(p.Z)}
}

// WorldMin returns the minimum corner of the voxel in centimeters.
func (p Position) WorldMin() r3.Vector {
	s := p.Resolution.Size()
	return r3.Vector{X: float64(p.X) * s, Y: float64(p.Y) * s, Z: float64(p.Z) * s}
}

// WorldBounds returns the cube the voxel occupies in centimeters.
func (p Position) WorldBounds() spatialmath.AABB {
	s := p.Resolution.Size()
	lo := p.WorldMin()
	return spatialmath.AABB{Min: lo, Max: lo.Add(r3.Vector{X: s, Y: s, Z: s})}
}

func (p Position) String() string {
	return fmt.Sprintf("(%d, %d, %d)@%v", p.X, p.Y, p.Z, p.Resolution)
}
