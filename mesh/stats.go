package mesh

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Stats summarizes a mesh's topology. Edges are matched by vertex position, so faceted meshes
// whose triangles do not share vertices are measured the same way as smooth ones.
type Stats struct {
	Vertices            int
	Triangles           int
	Edges               int
	BoundaryEdges       int
	NonManifoldEdges    int
	MisorientedEdges    int
	DegenerateTriangles int
	Area                float64
	// Volume is the signed volume enclosed by the triangles, positive when they face outwards.
	// It is only meaningful for a watertight mesh.
	Volume float64
}

// Watertight reports whether every edge is shared by exactly two consistently oriented
// triangles.
func (s Stats) Watertight() bool {
	return s.Triangles > 0 && s.BoundaryEdges == 0 && s.NonManifoldEdges == 0 && s.MisorientedEdges == 0
}

type edgeKey [2]uint32

// ComputeStats measures m.
func ComputeStats(m *Mesh) Stats {
	s := Stats{Vertices: m.VertexCount(), Triangles: m.TriangleCount()}
	ids := positionIDs(m)

	// directed edge counts; an oriented manifold sees every directed edge once and its
	// reverse once
	directed := map[edgeKey]int{}
	for t := 0; t < m.TriangleCount(); t++ {
		a, b, c := m.Triangle(t)
		v := [3]uint32{ids[a], ids[b], ids[c]}
		if v[0] == v[1] || v[1] == v[2] || v[0] == v[2] {
			s.DegenerateTriangles++
			continue
		}
		pa, pb, pc := m.Position(a), m.Position(b), m.Position(c)
		area := 0.5 * pb.Sub(pa).Cross(pc.Sub(pa)).Norm()
		if area == 0 {
			s.DegenerateTriangles++
		}
		s.Area += area
		s.Volume += pa.Dot(pb.Cross(pc)) / 6
		for i := 0; i < 3; i++ {
			directed[edgeKey{v[i], v[(i+1)%3]}]++
		}
	}

	for e, n := range directed {
		rev := directed[edgeKey{e[1], e[0]}]
		if e[0] > e[1] && rev > 0 {
			// counted from the other direction
			continue
		}
		s.Edges++
		switch total := n + rev; {
		case total == 1:
			s.BoundaryEdges++
		case total > 2:
			s.NonManifoldEdges++
		case n != 1 || rev != 1:
			s.MisorientedEdges++
		}
	}
	return s
}

// Validate checks a mesh's structural invariants: indices in range, unit normals, material
// ranges that partition the index buffer, and bounds that contain every vertex.
func Validate(m *Mesh) error {
	var errs error
	if len(m.Indices)%3 != 0 {
		errs = multierr.Append(errs, errors.Errorf("index count %d is not a multiple of 3", len(m.Indices)))
	}
	for i, idx := range m.Indices {
		if int(idx) >= len(m.Vertices) {
			errs = multierr.Append(errs, errors.Errorf("index %d references vertex %d of %d", i, idx, len(m.Vertices)))
			break
		}
	}
	for i, v := range m.Vertices {
		n := toVector(v.Normal).Norm()
		if math.Abs(n-1) > 1e-3 {
			errs = multierr.Append(errs, errors.Errorf("vertex %d normal has length %v", i, n))
			break
		}
		if !m.Bounds.Expand(1e-3).Contains(toVector(v.Position)) {
			errs = multierr.Append(errs, errors.Errorf("vertex %d lies outside the bounds %v", i, m.Bounds))
			break
		}
	}
	next := 0
	for _, r := range m.Materials {
		if r.Start != next || r.Count%3 != 0 || r.Count <= 0 {
			errs = multierr.Append(errs, errors.Errorf("material range %+v does not follow %d", r, next))
			break
		}
		next += r.Count
	}
	if len(m.Indices) > 0 && next != len(m.Indices) {
		errs = multierr.Append(errs, errors.Errorf("material ranges cover %d of %d indices", next, len(m.Indices)))
	}
	return errs
}

// positionIDs assigns each vertex the ID of the first vertex at the same position.
func positionIDs(m *Mesh) []uint32 {
	ids := make([]uint32, len(m.Vertices))
	seen := make(map[[3]float32]uint32, len(m.Vertices))
	for i, v := range m.Vertices {
		id, ok := seen[v.Position]
		if !ok {
			id = uint32(i)
			seen[v.Position] = id
		}
		ids[i] = id
	}
	return ids
}
