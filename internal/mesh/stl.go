package mesh

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	stlHeaderSize   = 80
	stlTriangleSize = 4*3*4 + 2
)

// ErrEmptyMesh is returned for STL data without any triangles.
var ErrEmptyMesh = errors.New("mesh contains no triangles")

// ReadSTL parses binary or ASCII STL data.
func ReadSTL(r io.Reader) (*Geometry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading stl: %w", err)
	}
	return ParseSTL(data)
}

// ParseSTL parses binary or ASCII STL data. Identical vertex positions are
// merged so that normals can be smoothed across shared edges.
func ParseSTL(data []byte) (*Geometry, error) {
	var (
		g   *Geometry
		err error
	)
	if isBinarySTL(data) {
		g, err = parseBinarySTL(data)
	} else {
		g, err = parseASCIISTL(data)
	}
	if err != nil {
		return nil, err
	}
	if len(g.Tris) == 0 {
		return nil, ErrEmptyMesh
	}
	return g, nil
}

// isBinarySTL reports whether data is a binary STL. Some exporters write
// "solid" at the start of binary headers, so the triangle count wins when
// it matches the data length exactly.
func isBinarySTL(data []byte) bool {
	if len(data) >= stlHeaderSize+4 {
		n := binary.LittleEndian.Uint32(data[stlHeaderSize:])
		if int64(stlHeaderSize+4)+int64(n)*stlTriangleSize == int64(len(data)) {
			return true
		}
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return !bytes.HasPrefix(trimmed, []byte("solid"))
}

type builder struct {
	g       *Geometry
	vertMap map[r3.Vec]int
}

func newBuilder(name string) *builder {
	return &builder{
		g:       &Geometry{Name: name},
		vertMap: make(map[r3.Vec]int),
	}
}

func (b *builder) vertex(v r3.Vec) int {
	idx, ok := b.vertMap[v]
	if !ok {
		idx = len(b.g.Positions)
		b.g.Positions = append(b.g.Positions, v)
		b.vertMap[v] = idx
	}
	return idx
}

func (b *builder) triangle(v [3]r3.Vec) {
	var tri [3]int
	for i := range v {
		tri[i] = b.vertex(v[i])
	}
	// Degenerate triangles collapse after merging and contribute nothing.
	if tri[0] == tri[1] || tri[1] == tri[2] || tri[0] == tri[2] {
		return
	}
	b.g.Tris = append(b.g.Tris, tri)
}

func parseBinarySTL(data []byte) (*Geometry, error) {
	if len(data) < stlHeaderSize+4 {
		return nil, fmt.Errorf("binary stl: short header (%d bytes)", len(data))
	}
	name := strings.TrimRight(string(bytes.TrimRight(data[:stlHeaderSize], "\x00")), " ")
	n := int(binary.LittleEndian.Uint32(data[stlHeaderSize:]))
	body := data[stlHeaderSize+4:]
	if len(body) < n*stlTriangleSize {
		return nil, fmt.Errorf("binary stl: header declares %d triangles, data holds %d", n, len(body)/stlTriangleSize)
	}

	b := newBuilder(name)
	b.g.Tris = make([][3]int, 0, n)
	var tri [3]r3.Vec
	for i := 0; i < n; i++ {
		buf := body[i*stlTriangleSize:]
		for v := range tri {
			// Skip the facet normal.
			const start = 3 * 4
			off := start + 12*v
			tri[v] = r3.Vec{
				X: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))),
				Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4:]))),
				Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off+8:]))),
			}
		}
		b.triangle(tri)
	}
	return b.g, nil
}

func parseASCIISTL(data []byte) (*Geometry, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		b     *builder
		verts []r3.Vec
		line  int
	)
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "solid":
			if b == nil {
				b = newBuilder(strings.Join(fields[1:], " "))
			}
		case "vertex":
			if b == nil {
				return nil, fmt.Errorf("ascii stl line %d: vertex outside solid", line)
			}
			if len(fields) != 4 {
				return nil, fmt.Errorf("ascii stl line %d: expected 3 coordinates, got %d", line, len(fields)-1)
			}
			var c [3]float64
			for i := range c {
				f, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("ascii stl line %d: %w", line, err)
				}
				c[i] = f
			}
			verts = append(verts, r3.Vec{X: c[0], Y: c[1], Z: c[2]})
		case "endloop":
			if len(verts) != 3 {
				return nil, fmt.Errorf("ascii stl line %d: facet has %d vertices", line, len(verts))
			}
			b.triangle([3]r3.Vec{verts[0], verts[1], verts[2]})
			verts = verts[:0]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ascii stl: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("ascii stl: missing solid header")
	}
	return b.g, nil
}

// WriteBinarySTL writes g as binary STL with facet normals computed from the
// triangle winding.
func WriteBinarySTL(w io.Writer, g *Geometry) error {
	bw := bufio.NewWriter(w)
	var header [stlHeaderSize]byte
	copy(header[:], g.Name)
	if _, err := bw.Write(header[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(g.Tris))); err != nil {
		return err
	}
	buf := make([]byte, stlTriangleSize)
	put := func(off int, v r3.Vec) {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v.X)))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(float32(v.Y)))
		binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(float32(v.Z)))
	}
	for _, tri := range g.Tris {
		a, b, c := g.Positions[tri[0]], g.Positions[tri[1]], g.Positions[tri[2]]
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		if l := r3.Norm(n); l > 0 {
			n = r3.Scale(1/l, n)
		}
		put(0, n)
		put(12, a)
		put(24, b)
		put(36, c)
		buf[48], buf[49] = 0, 0
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}
