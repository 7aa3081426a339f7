package testutil

import (
	"bytes"
	"testing"

	"github.com/spartis/scanviewer/internal/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// CubeSTL returns a binary STL of an off-centre 20-unit cube.
func CubeSTL(t testing.TB) []byte {
	t.Helper()
	g := mesh.Cuboid("cube", r3.Vec{X: 40, Y: -5, Z: 12}, r3.Vec{X: 20, Y: 20, Z: 20})
	var buf bytes.Buffer
	if err := mesh.WriteBinarySTL(&buf, g); err != nil {
		t.Fatalf("write cube stl: %v", err)
	}
	return buf.Bytes()
}
