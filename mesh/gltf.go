package mesh

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// WriteGLB writes m as a binary glTF file with one primitive per material range.
func WriteGLB(w io.Writer, m *Mesh, name string) error {
	if m.IsEmpty() {
		return errors.New("cannot export an empty mesh")
	}
	positions := make([][3]float32, len(m.Vertices))
	normals := make([][3]float32, len(m.Vertices))
	uvs := make([][2]float32, len(m.Vertices))
	hasUVs := false
	for i, v := range m.Vertices {
		positions[i] = v.Position
		normals[i] = v.Normal
		uvs[i] = v.UV
		hasUVs = hasUVs || v.UV != [2]float32{}
	}

	doc := gltf.NewDocument()
	doc.Asset.Generator = "cube-builder"
	attributes := gltf.PrimitiveAttributes{
		gltf.POSITION: modeler.WritePosition(doc, positions),
		gltf.NORMAL:   modeler.WriteNormal(doc, normals),
	}
	if hasUVs {
		attributes[gltf.TEXCOORD_0] = modeler.WriteTextureCoord(doc, uvs)
	}

	ranges := m.Materials
	if len(ranges) == 0 {
		ranges = []MaterialRange{{Material: DefaultMaterial, Count: len(m.Indices)}}
	}
	out := &gltf.Mesh{Name: name}
	for i, r := range ranges {
		indices := modeler.WriteIndices(doc, m.Indices[r.Start:r.Start+r.Count])
		doc.Materials = append(doc.Materials, &gltf.Material{
			Name:      fmt.Sprintf("material-%d", r.Material),
			AlphaMode: gltf.AlphaOpaque,
			PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
				BaseColorFactor: &[4]float64{0.8, 0.8, 0.8, 1},
				MetallicFactor:  gltf.Float(0),
				RoughnessFactor: gltf.Float(1),
			},
		})
		out.Primitives = append(out.Primitives, &gltf.Primitive{
			Attributes: attributes,
			Indices:    gltf.Index(indices),
			Material:   gltf.Index(i),
		})
	}
	doc.Meshes = []*gltf.Mesh{out}
	doc.Nodes = []*gltf.Node{{Name: name, Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0)

	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	return errors.Wrap(enc.Encode(doc), "encoding glb")
}
