package surface

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/mikerobots/cube-builder/spatialmath"
)

// qefTruncation drops eigenvalues below this fraction of the largest when inverting, so
// directions the crossings do not constrain fall back to the mass point.
const qefTruncation = 0.1

// solveQEF finds the point minimizing the summed squared distance to the tangent planes of the
// crossings, solved about their mass point with a truncated pseudo-inverse and clamped to box.
// ok is false when the system could not be decomposed, in which case the mass point is returned.
func solveQEF(samples []HermiteData, box spatialmath.AABB) (r3.Vector, bool) {
	if len(samples) == 0 {
		return box.Center(), false
	}
	var mass r3.Vector
	for _, s := range samples {
		mass = mass.Add(s.Point)
	}
	mass = mass.Mul(1 / float64(len(samples)))

	// A = sum n n^T, rhs = sum n (n . (p - mass))
	ata := mat.NewSymDense(3, nil)
	rhs := mat.NewVecDense(3, nil)
	for _, s := range samples {
		n := [3]float64{s.Normal.X, s.Normal.Y, s.Normal.Z}
		d := s.Normal.Dot(s.Point.Sub(mass))
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				ata.SetSym(i, j, ata.At(i, j)+n[i]*n[j])
			}
			rhs.SetVec(i, rhs.AtVec(i)+n[i]*d)
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(ata, true) {
		return clamp(mass, box), false
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	largest := 0.
	for _, v := range values {
		largest = math.Max(largest, math.Abs(v))
	}
	if largest == 0 || math.IsNaN(largest) {
		return clamp(mass, box), false
	}

	// x = V diag(1/lambda) V^T rhs over the kept eigenvalues
	var offset [3]float64
	for k, v := range values {
		if math.Abs(v) < qefTruncation*largest {
			continue
		}
		proj := 0.
		for i := 0; i < 3; i++ {
			proj += vectors.At(i, k) * rhs.AtVec(i)
		}
		for i := 0; i < 3; i++ {
			offset[i] += vectors.At(i, k) * proj / v
		}
	}
	x := mass.Add(r3.Vector{X: offset[0], Y: offset[1], Z: offset[2]})
	if math.IsNaN(x.X) || math.IsNaN(x.Y) || math.IsNaN(x.Z) {
		return clamp(mass, box), false
	}
	return clamp(x, box), true
}

func clamp(p r3.Vector, box spatialmath.AABB) r3.Vector {
	return r3.Vector{
		X: math.Min(math.Max(p.X, box.Min.X), box.Max.X),
		Y: math.Min(math.Max(p.Y, box.Min.Y), box.Max.Y),
		Z: math.Min(math.Max(p.Z, box.Min.Z), box.Max.Z),
	}
}
