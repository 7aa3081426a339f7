package mesh

import "gonum.org/v1/gonum/spatial/r3"

// Cuboid returns a closed axis-aligned box centred on c with the given edge
// lengths, wound counter-clockwise when viewed from outside.
func Cuboid(name string, c r3.Vec, size r3.Vec) *Geometry {
	h := r3.Scale(0.5, size)
	corner := func(sx, sy, sz float64) r3.Vec {
		return r3.Vec{X: c.X + sx*h.X, Y: c.Y + sy*h.Y, Z: c.Z + sz*h.Z}
	}
	g := &Geometry{
		Name: name,
		Positions: []r3.Vec{
			corner(-1, -1, -1), corner(1, -1, -1), corner(1, 1, -1), corner(-1, 1, -1),
			corner(-1, -1, 1), corner(1, -1, 1), corner(1, 1, 1), corner(-1, 1, 1),
		},
		Tris: [][3]int{
			{0, 2, 1}, {0, 3, 2}, // -Z
			{4, 5, 6}, {4, 6, 7}, // +Z
			{0, 1, 5}, {0, 5, 4}, // -Y
			{3, 6, 2}, {3, 7, 6}, // +Y
			{0, 4, 7}, {0, 7, 3}, // -X
			{1, 2, 6}, {1, 6, 5}, // +X
		},
	}
	return g
}
