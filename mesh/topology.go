package mesh

import (
	"github.com/golang/geo/r3"
)

// topology is a mesh reduced to unique positions, which is the form smoothing and
// simplification work on.
type topology struct {
	positions []r3.Vector
	tris      []triangle
	// neighbors[v] lists the vertices sharing an edge with v
	neighbors [][]uint32
	boundary  []bool
}

func newTopology(m *Mesh) *topology {
	ids := positionIDs(m)
	compact := make(map[uint32]uint32, len(ids))
	topo := &topology{}
	for i, id := range ids {
		if _, ok := compact[id]; !ok {
			compact[id] = uint32(len(topo.positions))
			topo.positions = append(topo.positions, m.Position(uint32(i)))
		}
	}
	m.forEachTriangle(func(_ int, a, b, c uint32, mat MaterialID) {
		t := triangle{v: [3]uint32{compact[ids[a]], compact[ids[b]], compact[ids[c]]}, mat: mat}
		if t.v[0] == t.v[1] || t.v[1] == t.v[2] || t.v[0] == t.v[2] {
			return
		}
		topo.tris = append(topo.tris, t)
	})

	n := len(topo.positions)
	topo.neighbors = make([][]uint32, n)
	topo.boundary = make([]bool, n)
	edges := map[edgeKey]int{}
	for _, t := range topo.tris {
		for i := 0; i < 3; i++ {
			a, b := t.v[i], t.v[(i+1)%3]
			if a > b {
				a, b = b, a
			}
			if edges[edgeKey{a, b}]++; edges[edgeKey{a, b}] == 1 {
				topo.neighbors[a] = append(topo.neighbors[a], b)
				topo.neighbors[b] = append(topo.neighbors[b], a)
			}
		}
	}
	for e, count := range edges {
		if count != 2 {
			topo.boundary[e[0]] = true
			topo.boundary[e[1]] = true
		}
	}
	return topo
}

// build turns the topology back into a smooth-normal mesh.
func (topo *topology) build(alive func(t int) bool) (*Mesh, error) {
	b := NewBuilder(BuildOptions{SmoothNormals: true})
	for _, p := range topo.positions {
		b.AddVertex(p)
	}
	for i, t := range topo.tris {
		if alive == nil || alive(i) {
			b.AddTriangle(t.v[0], t.v[1], t.v[2], t.mat)
		}
	}
	return b.Build()
}
