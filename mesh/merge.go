package mesh

// Merge concatenates meshes and welds vertices at identical positions, so pieces extracted
// separately along shared borders join into one surface.
func Merge(opts BuildOptions, meshes ...*Mesh) (*Mesh, error) {
	b := NewBuilder(opts)
	for _, m := range meshes {
		if m == nil || m.IsEmpty() {
			continue
		}
		base := uint32(b.VertexCount())
		for i := range m.Vertices {
			b.AddVertex(m.Position(uint32(i)))
		}
		m.forEachTriangle(func(_ int, v0, v1, v2 uint32, mat MaterialID) {
			b.AddTriangle(base+v0, base+v1, base+v2, mat)
		})
	}
	if b.VertexCount() == 0 {
		return Empty(), nil
	}
	return b.Build()
}
