// Package mesh loads STL surface meshes into indexed geometry ready for
// rendering: shared vertices, per-vertex normals, recentred on the origin.
package mesh

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Geometry is an indexed triangle mesh.
type Geometry struct {
	Name      string
	Positions []r3.Vec
	Normals   []r3.Vec // one per position; empty until ComputeVertexNormals
	Tris      [][3]int
}

// Box is an axis-aligned bounding box.
type Box struct {
	Min, Max r3.Vec
}

// Center returns the midpoint of the box.
func (b Box) Center() r3.Vec {
	return r3.Scale(0.5, r3.Add(b.Min, b.Max))
}

// Size returns the extent of the box along each axis.
func (b Box) Size() r3.Vec {
	return r3.Sub(b.Max, b.Min)
}

// Radius returns half the diagonal length.
func (b Box) Radius() float64 {
	return 0.5 * r3.Norm(b.Size())
}

// BoundingBox returns the bounds of all positions. An empty geometry has a
// zero box.
func (g *Geometry) BoundingBox() Box {
	if len(g.Positions) == 0 {
		return Box{}
	}
	b := Box{
		Min: r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)},
		Max: r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)},
	}
	for _, p := range g.Positions {
		b.Min.X = math.Min(b.Min.X, p.X)
		b.Min.Y = math.Min(b.Min.Y, p.Y)
		b.Min.Z = math.Min(b.Min.Z, p.Z)
		b.Max.X = math.Max(b.Max.X, p.X)
		b.Max.Y = math.Max(b.Max.Y, p.Y)
		b.Max.Z = math.Max(b.Max.Z, p.Z)
	}
	return b
}

// ComputeVertexNormals replaces Normals with area-weighted averages of the
// adjacent face normals. STL facet normals are not trusted.
func (g *Geometry) ComputeVertexNormals() {
	normals := make([]r3.Vec, len(g.Positions))
	for _, tri := range g.Tris {
		a, b, c := g.Positions[tri[0]], g.Positions[tri[1]], g.Positions[tri[2]]
		// The cross product length is twice the triangle area, which gives
		// the area weighting for free.
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		for _, idx := range tri {
			normals[idx] = r3.Add(normals[idx], n)
		}
	}
	for i, n := range normals {
		if l := r3.Norm(n); l > 0 {
			normals[i] = r3.Scale(1/l, n)
		} else {
			normals[i] = r3.Vec{Z: 1}
		}
	}
	g.Normals = normals
}

// Center translates the geometry so its bounding box is centred on the origin
// and returns the applied offset.
func (g *Geometry) Center() r3.Vec {
	offset := r3.Scale(-1, g.BoundingBox().Center())
	for i, p := range g.Positions {
		g.Positions[i] = r3.Add(p, offset)
	}
	return offset
}

// Normalize prepares freshly parsed geometry for display.
func (g *Geometry) Normalize() {
	g.ComputeVertexNormals()
	g.Center()
}

// Clone returns a deep copy so each viewer session owns its geometry.
func (g *Geometry) Clone() *Geometry {
	c := &Geometry{
		Name:      g.Name,
		Positions: append([]r3.Vec(nil), g.Positions...),
		Normals:   append([]r3.Vec(nil), g.Normals...),
		Tris:      append([][3]int(nil), g.Tris...),
	}
	return c
}
