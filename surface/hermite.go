package surface

import (
	"github.com/golang/geo/r3"
)

// HermiteData is a surface crossing on a cell edge: where the surface cuts the edge and which
// way it faces there. Normal is unit length.
type HermiteData struct {
	Point  r3.Vector
	Normal r3.Vector
}

// EdgeData describes one of a cell's 12 edges. Hermite is set exactly when the edge changes sign.
type EdgeData struct {
	Corners    [2]uint8
	SignChange bool
	Hermite    *HermiteData
}

// cornerOffsets[i] is the lattice offset of cell corner i; bit 0 is x, bit 1 y, bit 2 z.
var cornerOffsets = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {0, 1, 1}, {1, 1, 1},
}

// cellEdges lists corner pairs, four edges per axis in x, y, z order.
var cellEdges = [12][2]uint8{
	{0, 1}, {2, 3}, {4, 5}, {6, 7},
	{0, 2}, {1, 3}, {4, 6}, {5, 7},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// edgeAxis returns the axis cell edge i runs along.
func edgeAxis(i int) int {
	return i / 4
}

// crossing builds the Hermite sample of a sign-changing edge between two lattice samples. The
// surface of a voxel volume is the shared face, halfway between the sample centers, and it faces
// from the occupied sample towards the empty one.
func crossing(a, b r3.Vector, axis int, aOccupied bool) HermiteData {
	n := unitAxis(axis)
	if !aOccupied {
		n = n.Mul(-1)
	}
	return HermiteData{Point: a.Add(b).Mul(0.5), Normal: n}
}

func unitAxis(axis int) r3.Vector {
	switch axis {
	case 0:
		return r3.Vector{X: 1}
	case 1:
		return r3.Vector{Y: 1}
	default:
		return r3.Vector{Z: 1}
	}
}

func component(v r3.Vector, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}
