package mesh

import (
	"math"
	"slices"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/mikerobots/cube-builder/spatialmath"
)

// BuildOptions controls how a Builder turns its input into a Mesh.
type BuildOptions struct {
	// SmoothNormals shares vertices between triangles and averages their normals. When false every
	// triangle gets its own three vertices carrying the face normal.
	SmoothNormals bool
	// GenerateUVs computes triplanar texture coordinates.
	GenerateUVs bool
	// UVScale is the world distance covered by one texture repeat. Zero means 1.
	UVScale float64
	// WeldTolerance merges vertices closer than this on every axis. Zero merges only vertices
	// with identical float32 positions.
	WeldTolerance float64
	// MaxVertices bounds the output vertex count; zero means unlimited.
	MaxVertices int
}

// Validate checks the options.
func (o BuildOptions) Validate() error {
	if o.UVScale < 0 || math.IsNaN(o.UVScale) {
		return errors.Wrapf(ErrInvalidSettings, "uv scale %v", o.UVScale)
	}
	if o.WeldTolerance < 0 || math.IsNaN(o.WeldTolerance) {
		return errors.Wrapf(ErrInvalidSettings, "weld tolerance %v", o.WeldTolerance)
	}
	if o.MaxVertices < 0 {
		return errors.Wrapf(ErrInvalidSettings, "max vertices %d", o.MaxVertices)
	}
	return nil
}

type triangle struct {
	v   [3]uint32
	mat MaterialID
}

type weldKey [3]int64

// Builder accumulates vertices, quads and triangles and assembles them into a Mesh. It is not
// safe for concurrent use.
type Builder struct {
	opts      BuildOptions
	positions []r3.Vector
	quads     []QuadFace
	tris      []triangle
}

// NewBuilder returns an empty Builder.
func NewBuilder(opts BuildOptions) *Builder {
	return &Builder{opts: opts}
}

// AddVertex appends a position and returns its index in the builder's vertex stream.
func (b *Builder) AddVertex(p r3.Vector) uint32 {
	b.positions = append(b.positions, p)
	return uint32(len(b.positions) - 1)
}

// AddQuad appends a quad; it is split into two triangles by Build.
func (b *Builder) AddQuad(q QuadFace) {
	b.quads = append(b.quads, q)
}

// AddTriangle appends a counter-clockwise triangle.
func (b *Builder) AddTriangle(v0, v1, v2 uint32, mat MaterialID) {
	b.tris = append(b.tris, triangle{v: [3]uint32{v0, v1, v2}, mat: mat})
}

// VertexCount returns the number of vertices added so far.
func (b *Builder) VertexCount() int {
	return len(b.positions)
}

// Build welds, triangulates, computes normals, UVs and bounds, and groups triangles by
// material. The builder can keep being used afterwards.
func (b *Builder) Build() (*Mesh, error) {
	if err := b.opts.Validate(); err != nil {
		return nil, err
	}

	welded, remap := b.weld()
	n := uint32(len(b.positions))

	tris := make([]triangle, 0, len(b.tris)+2*len(b.quads))
	for _, q := range b.quads {
		var v [4]uint32
		for i, idx := range q.Vertices {
			if idx >= n {
				return nil, errors.Errorf("quad references vertex %d of %d", idx, n)
			}
			v[i] = remap[idx]
		}
		// split along the shorter diagonal
		d02 := welded[v[0]].Sub(welded[v[2]]).Norm2()
		d13 := welded[v[1]].Sub(welded[v[3]]).Norm2()
		if d13 < d02 {
			tris = append(tris,
				triangle{v: [3]uint32{v[0], v[1], v[3]}, mat: q.Material},
				triangle{v: [3]uint32{v[1], v[2], v[3]}, mat: q.Material})
		} else {
			tris = append(tris,
				triangle{v: [3]uint32{v[0], v[1], v[2]}, mat: q.Material},
				triangle{v: [3]uint32{v[0], v[2], v[3]}, mat: q.Material})
		}
	}
	for _, t := range b.tris {
		for _, idx := range t.v {
			if idx >= n {
				return nil, errors.Errorf("triangle references vertex %d of %d", idx, n)
			}
		}
		tris = append(tris, triangle{v: [3]uint32{remap[t.v[0]], remap[t.v[1]], remap[t.v[2]]}, mat: t.mat})
	}

	tris = slices.DeleteFunc(tris, func(t triangle) bool {
		return t.v[0] == t.v[1] || t.v[1] == t.v[2] || t.v[0] == t.v[2]
	})
	slices.SortStableFunc(tris, func(a, c triangle) int {
		switch {
		case a.mat < c.mat:
			return -1
		case a.mat > c.mat:
			return 1
		}
		return 0
	})

	var m *Mesh
	var err error
	if b.opts.SmoothNormals {
		m, err = b.buildSmooth(welded, tris)
	} else {
		m, err = b.buildFaceted(welded, tris)
	}
	if err != nil {
		return nil, err
	}

	m.Materials = materialRanges(tris)
	m.Bounds = spatialmath.EmptyAABB()
	for i := range m.Vertices {
		m.Bounds = m.Bounds.Extend(m.Position(uint32(i)))
	}
	if b.opts.GenerateUVs {
		scale := b.opts.UVScale
		if scale == 0 {
			scale = 1
		}
		for i := range m.Vertices {
			m.Vertices[i].UV = triplanarUV(m.Vertices[i].Position, m.Vertices[i].Normal, scale)
		}
	}
	return m, nil
}

// weld maps every added vertex onto a representative; the representatives are returned in order
// of first appearance.
func (b *Builder) weld() ([]r3.Vector, []uint32) {
	remap := make([]uint32, len(b.positions))
	seen := make(map[weldKey]uint32, len(b.positions))
	var welded []r3.Vector
	for i, p := range b.positions {
		k := b.key(p)
		if idx, ok := seen[k]; ok {
			remap[i] = idx
			continue
		}
		idx := uint32(len(welded))
		seen[k] = idx
		remap[i] = idx
		welded = append(welded, toVector(toFloat32(p)))
	}
	return welded, remap
}

func (b *Builder) key(p r3.Vector) weldKey {
	if tol := b.opts.WeldTolerance; tol > 0 {
		return weldKey{int64(math.Round(p.X / tol)), int64(math.Round(p.Y / tol)), int64(math.Round(p.Z / tol))}
	}
	f := toFloat32(p)
	for i := range f {
		if f[i] == 0 {
			f[i] = 0 // -0
		}
	}
	return weldKey{int64(math.Float32bits(f[0])), int64(math.Float32bits(f[1])), int64(math.Float32bits(f[2]))}
}

func (b *Builder) buildSmooth(welded []r3.Vector, tris []triangle) (*Mesh, error) {
	// keep only referenced vertices, in their original order
	used := make([]bool, len(welded))
	for _, t := range tris {
		for _, v := range t.v {
			used[v] = true
		}
	}
	compact := make([]uint32, len(welded))
	var count uint32
	for i, u := range used {
		if u {
			compact[i] = count
			count++
		}
	}
	if b.opts.MaxVertices > 0 && int(count) > b.opts.MaxVertices {
		return nil, errors.Wrapf(ErrOutOfMemory, "%d vertices over a budget of %d", count, b.opts.MaxVertices)
	}

	m := &Mesh{
		Vertices: make([]Vertex, count),
		Indices:  make([]uint32, 0, 3*len(tris)),
	}
	normals := make([]r3.Vector, count)
	for i, u := range used {
		if u {
			m.Vertices[compact[i]].Position = toFloat32(welded[i])
		}
	}
	for _, t := range tris {
		// the unnormalized cross product weights each face by its area
		n := welded[t.v[1]].Sub(welded[t.v[0]]).Cross(welded[t.v[2]].Sub(welded[t.v[0]]))
		for _, v := range t.v {
			c := compact[v]
			normals[c] = normals[c].Add(n)
			m.Indices = append(m.Indices, c)
		}
	}
	for i, n := range normals {
		m.Vertices[i].Normal = toFloat32(unitOr(n, r3.Vector{Z: 1}))
	}
	return m, nil
}

func (b *Builder) buildFaceted(welded []r3.Vector, tris []triangle) (*Mesh, error) {
	if b.opts.MaxVertices > 0 && 3*len(tris) > b.opts.MaxVertices {
		return nil, errors.Wrapf(ErrOutOfMemory, "%d vertices over a budget of %d", 3*len(tris), b.opts.MaxVertices)
	}
	m := &Mesh{
		Vertices: make([]Vertex, 0, 3*len(tris)),
		Indices:  make([]uint32, 0, 3*len(tris)),
	}
	for _, t := range tris {
		n := toFloat32(unitOr(spatialmath.PlaneNormal(welded[t.v[0]], welded[t.v[1]], welded[t.v[2]]), r3.Vector{Z: 1}))
		for _, v := range t.v {
			m.Indices = append(m.Indices, uint32(len(m.Vertices)))
			m.Vertices = append(m.Vertices, Vertex{Position: toFloat32(welded[v]), Normal: n})
		}
	}
	return m, nil
}

func materialRanges(sorted []triangle) []MaterialRange {
	var ranges []MaterialRange
	for i, t := range sorted {
		if len(ranges) == 0 || ranges[len(ranges)-1].Material != t.mat {
			ranges = append(ranges, MaterialRange{Material: t.mat, Start: 3 * i})
		}
		ranges[len(ranges)-1].Count += 3
	}
	return ranges
}

// triplanarUV projects the position onto the plane most facing the normal.
func triplanarUV(p, n [3]float32, scale float64) [2]float32 {
	ax, ay, az := math.Abs(float64(n[0])), math.Abs(float64(n[1])), math.Abs(float64(n[2]))
	s := float32(1 / scale)
	switch {
	case ax >= ay && ax >= az:
		return [2]float32{p[1] * s, p[2] * s}
	case ay >= az:
		return [2]float32{p[0] * s, p[2] * s}
	default:
		return [2]float32{p[0] * s, p[1] * s}
	}
}

func unitOr(v, fallback r3.Vector) r3.Vector {
	if n := v.Norm(); n > 0 {
		return v.Mul(1 / n)
	}
	return fallback
}
