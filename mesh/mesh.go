// Package mesh holds the triangle meshes produced from voxel surfaces, and the tools that build,
// simplify, smooth, check and export them.
package mesh

import (
	"unsafe"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/mikerobots/cube-builder/spatialmath"
)

var (
	// ErrInvalidSettings is returned for out of range build or simplification settings.
	ErrInvalidSettings = errors.New("invalid mesh settings")
	// ErrOutOfMemory is returned when a mesh would exceed its vertex budget.
	ErrOutOfMemory = errors.New("mesh vertex budget exceeded")
)

// MaterialID names the material a triangle is drawn with.
type MaterialID uint32

// DefaultMaterial is used when nothing else is asked for.
const DefaultMaterial MaterialID = 0

// Vertex is one entry of a mesh's vertex buffer.
type Vertex struct {
	Position [3]float32
	Normal   [3]float32
	UV       [2]float32
}

// MaterialRange is a run of the index buffer drawn with one material. Start and Count are in
// indices, so both are multiples of three.
type MaterialRange struct {
	Material MaterialID
	Start    int
	Count    int
}

// QuadFace is four vertices in counter-clockwise order as seen from outside the surface.
type QuadFace struct {
	Vertices [4]uint32
	Material MaterialID
}

// Mesh is an indexed triangle list with counter-clockwise winding and outward normals. A built
// Mesh is never modified, so it can be shared freely between the cache and its readers.
type Mesh struct {
	Vertices  []Vertex
	Indices   []uint32
	Bounds    spatialmath.AABB
	Materials []MaterialRange
}

// Empty returns a mesh with no geometry.
func Empty() *Mesh {
	return &Mesh{Bounds: spatialmath.EmptyAABB()}
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices)
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// IsEmpty reports whether the mesh has no triangles.
func (m *Mesh) IsEmpty() bool {
	return len(m.Indices) == 0
}

// MemoryUsage estimates the bytes held by the mesh's buffers.
func (m *Mesh) MemoryUsage() int64 {
	return int64(len(m.Vertices))*int64(unsafe.Sizeof(Vertex{})) +
		int64(len(m.Indices))*4 +
		int64(len(m.Materials))*int64(unsafe.Sizeof(MaterialRange{})) +
		int64(unsafe.Sizeof(Mesh{}))
}

// Position returns vertex i's position.
func (m *Mesh) Position(i uint32) r3.Vector {
	return toVector(m.Vertices[i].Position)
}

// Triangle returns the vertex indices of triangle t.
func (m *Mesh) Triangle(t int) (uint32, uint32, uint32) {
	return m.Indices[3*t], m.Indices[3*t+1], m.Indices[3*t+2]
}

// MaterialAt returns the material of triangle t.
func (m *Mesh) MaterialAt(t int) MaterialID {
	start := 3 * t
	for _, r := range m.Materials {
		if start >= r.Start && start < r.Start+r.Count {
			return r.Material
		}
	}
	return DefaultMaterial
}

// Rebuild feeds the mesh's triangles through a new Builder, which is how normal, UV and welding
// options are applied to an existing mesh.
func (m *Mesh) Rebuild(opts BuildOptions) (*Mesh, error) {
	b := NewBuilder(opts)
	for i := range m.Vertices {
		b.AddVertex(m.Position(uint32(i)))
	}
	m.forEachTriangle(func(_ int, a, c, d uint32, mat MaterialID) {
		b.AddTriangle(a, c, d, mat)
	})
	return b.Build()
}

// forEachTriangle walks the triangles range by range, so materials come for free.
func (m *Mesh) forEachTriangle(fn func(t int, a, b, c uint32, mat MaterialID)) {
	if len(m.Materials) == 0 {
		for t := 0; t < m.TriangleCount(); t++ {
			a, b, c := m.Triangle(t)
			fn(t, a, b, c, DefaultMaterial)
		}
		return
	}
	for _, r := range m.Materials {
		for i := r.Start; i < r.Start+r.Count; i += 3 {
			fn(i/3, m.Indices[i], m.Indices[i+1], m.Indices[i+2], r.Material)
		}
	}
}

func toVector(p [3]float32) r3.Vector {
	return r3.Vector{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}
}

func toFloat32(v r3.Vector) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}
