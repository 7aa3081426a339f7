package mesh

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/spartis/scanviewer/internal/models"
)

// Packed is the flat form of a geometry sent to browser renderers: three
// floats per vertex and three indices per triangle.
type Packed struct {
	Name      string     `msgpack:"name" json:"name"`
	Positions []float32  `msgpack:"positions" json:"positions"`
	Normals   []float32  `msgpack:"normals" json:"normals"`
	Indices   []uint32   `msgpack:"indices" json:"indices"`
	Min       [3]float64 `msgpack:"min" json:"min"`
	Max       [3]float64 `msgpack:"max" json:"max"`
}

// Pack flattens g.
func (g *Geometry) Pack() *Packed {
	box := g.BoundingBox()
	p := &Packed{
		Name:      g.Name,
		Positions: flatten(g.Positions),
		Normals:   flatten(g.Normals),
		Indices:   make([]uint32, 0, 3*len(g.Tris)),
		Min:       vec3(box.Min),
		Max:       vec3(box.Max),
	}
	for _, t := range g.Tris {
		p.Indices = append(p.Indices, uint32(t[0]), uint32(t[1]), uint32(t[2]))
	}
	return p
}

// Stats summarizes g.
func (g *Geometry) Stats() models.MeshStats {
	box := g.BoundingBox()
	return models.MeshStats{
		Name:      g.Name,
		Vertices:  len(g.Positions),
		Triangles: len(g.Tris),
		Min:       vec3(box.Min),
		Max:       vec3(box.Max),
	}
}

func flatten(vs []r3.Vec) []float32 {
	out := make([]float32, 0, 3*len(vs))
	for _, v := range vs {
		out = append(out, float32(v.X), float32(v.Y), float32(v.Z))
	}
	return out
}

func vec3(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}
