package spatialmath

import (
	"github.com/golang/geo/r3"
)

// Triangle is a value triangle with its unit normal precomputed. The normal follows the right
// hand rule for the corner order and is zero when the corners are collinear.
type Triangle struct {
	corners [3]r3.Vector
	normal  r3.Vector
}

// NewTriangle returns the triangle a -> b -> c.
func NewTriangle(a, b, c r3.Vector) Triangle {
	return Triangle{corners: [3]r3.Vector{a, b, c}, normal: PlaneNormal(a, b, c)}
}

// Corners returns the corners in winding order.
func (t Triangle) Corners() [3]r3.Vector {
	return t.corners
}

func (t Triangle) Normal() r3.Vector {
	return t.normal
}

func (t Triangle) Degenerate() bool {
	return t.normal == (r3.Vector{})
}

func (t Triangle) Area() float64 {
	a, b, c := t.corners[0], t.corners[1], t.corners[2]
	return b.Sub(a).Cross(c.Sub(a)).Norm() / 2
}

func (t Triangle) Centroid() r3.Vector {
	a, b, c := t.corners[0], t.corners[1], t.corners[2]
	return r3.Vector{X: (a.X + b.X + c.X) / 3, Y: (a.Y + b.Y + c.Y) / 3, Z: (a.Z + b.Z + c.Z) / 3}
}

// ClosestPoint returns the point of the triangle nearest p. The query is classified against the
// Voronoi regions of the corners and edges before falling back to the face.
func (t Triangle) ClosestPoint(p r3.Vector) r3.Vector {
	a, b, c := t.corners[0], t.corners[1], t.corners[2]
	if t.Degenerate() {
		return closestOnEdges(a, b, c, p)
	}
	ab, ac := b.Sub(a), c.Sub(a)

	ap := p.Sub(a)
	d1, d2 := ab.Dot(ap), ac.Dot(ap)
	if d1 <= 0 && d2 <= 0 {
		return a
	}

	bp := p.Sub(b)
	d3, d4 := ab.Dot(bp), ac.Dot(bp)
	if d3 >= 0 && d4 <= d3 {
		return b
	}

	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		return a.Add(ab.Mul(d1 / (d1 - d3)))
	}

	cp := p.Sub(c)
	d5, d6 := ab.Dot(cp), ac.Dot(cp)
	if d6 >= 0 && d5 <= d6 {
		return c
	}

	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		return a.Add(ac.Mul(d2 / (d2 - d6)))
	}

	va := d3*d6 - d5*d4
	if va <= 0 && d4-d3 >= 0 && d5-d6 >= 0 {
		return b.Add(c.Sub(b).Mul((d4 - d3) / ((d4 - d3) + (d5 - d6))))
	}

	sum := va + vb + vc
	return a.Add(ab.Mul(vb / sum)).Add(ac.Mul(vc / sum))
}

// DistanceToPoint returns the distance from p to the nearest point of the triangle.
func (t Triangle) DistanceToPoint(p r3.Vector) float64 {
	return p.Sub(t.ClosestPoint(p)).Norm()
}

func closestOnEdges(a, b, c, p r3.Vector) r3.Vector {
	best := ClosestPointSegmentPoint(a, b, p)
	for _, q := range []r3.Vector{ClosestPointSegmentPoint(b, c, p), ClosestPointSegmentPoint(c, a, p)} {
		if p.Sub(q).Norm2() < p.Sub(best).Norm2() {
			best = q
		}
	}
	return best
}
