package scene

import (
	"image"
	"image/color"
	"math"

	"github.com/spartis/scanviewer/internal/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultBackground is the viewer's canvas colour.
var DefaultBackground = color.RGBA{R: 0x1a, G: 0x1a, B: 0x1a, A: 0xff}

// Software rasterizes geometry on the CPU with a depth buffer and per-pixel
// lighting.
type Software struct {
	Lighting   Lighting
	Material   Material
	Background color.RGBA
}

// NewSoftware returns a rasterizer with the default light rig and material.
func NewSoftware() *Software {
	return &Software{
		Lighting:   DefaultLighting(),
		Material:   DefaultMaterial(),
		Background: DefaultBackground,
	}
}

type screenVertex struct {
	x, y, z float64 // screen position and NDC depth
	invW    float64
	world   r3.Vec
	normal  r3.Vec
}

// Draw renders g as seen by cam into a new image of the given size.
func (s *Software) Draw(g *mesh.Geometry, cam Camera, size image.Point) *image.RGBA {
	img := image.NewRGBA(image.Rectangle{Max: size})
	fill(img, s.Background)
	if g == nil || size.X <= 0 || size.Y <= 0 {
		return img
	}

	w, h := size.X, size.Y
	depth := make([]float64, w*h)
	for i := range depth {
		depth[i] = math.MaxFloat64
	}
	viewProj := cam.ViewProjection(float64(w) / float64(h))

	normals := g.Normals
	if len(normals) != len(g.Positions) {
		gc := g.Clone()
		gc.ComputeVertexNormals()
		normals = gc.Normals
	}

	verts := make([]screenVertex, len(g.Positions))
	visible := make([]bool, len(g.Positions))
	for i, p := range g.Positions {
		clip := viewProj.MulPoint(p)
		if clip.W <= cam.Near*0.5 {
			continue
		}
		visible[i] = true
		inv := 1 / clip.W
		verts[i] = screenVertex{
			x:      (clip.X*inv + 1) * 0.5 * float64(w),
			y:      (1 - clip.Y*inv) * 0.5 * float64(h),
			z:      clip.Z * inv,
			invW:   inv,
			world:  p,
			normal: normals[i],
		}
	}

	for _, tri := range g.Tris {
		if !visible[tri[0]] || !visible[tri[1]] || !visible[tri[2]] {
			continue
		}
		s.drawTriangle(img, depth, cam.Position, verts[tri[0]], verts[tri[1]], verts[tri[2]])
	}
	return img
}

func (s *Software) drawTriangle(img *image.RGBA, depth []float64, eye r3.Vec, a, b, c screenVertex) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if !finite(a.x, a.y, a.z, b.x, b.y, b.z, c.x, c.y, c.z) {
		return
	}
	area := edge(a.x, a.y, b.x, b.y, c.x, c.y)
	if area == 0 || !finite(area) {
		return
	}

	minX := int(math.Max(0, math.Floor(min3(a.x, b.x, c.x))))
	maxX := int(math.Min(float64(w-1), math.Ceil(max3(a.x, b.x, c.x))))
	minY := int(math.Max(0, math.Floor(min3(a.y, b.y, c.y))))
	maxY := int(math.Min(float64(h-1), math.Ceil(max3(a.y, b.y, c.y))))

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			px, py := float64(x)+0.5, float64(y)+0.5
			w0 := edge(b.x, b.y, c.x, c.y, px, py) / area
			w1 := edge(c.x, c.y, a.x, a.y, px, py) / area
			w2 := 1 - w0 - w1
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			z := w0*a.z + w1*b.z + w2*c.z
			idx := y*w + x
			if z < -1 || z >= depth[idx] {
				continue
			}

			// Perspective-correct attribute interpolation.
			p0, p1, p2 := w0*a.invW, w1*b.invW, w2*c.invW
			sum := p0 + p1 + p2
			if sum == 0 {
				continue
			}
			p0, p1, p2 = p0/sum, p1/sum, p2/sum
			n := r3.Add(r3.Add(r3.Scale(p0, a.normal), r3.Scale(p1, b.normal)), r3.Scale(p2, c.normal))
			world := r3.Add(r3.Add(r3.Scale(p0, a.world), r3.Scale(p1, b.world)), r3.Scale(p2, c.world))
			if r3.Norm(n) == 0 {
				continue
			}
			n = r3.Unit(n)
			v := r3.Unit(r3.Sub(eye, world))
			// Two-sided: STL exports do not guarantee consistent winding.
			if r3.Dot(n, v) < 0 {
				n = r3.Scale(-1, n)
			}

			col := s.Lighting.shade(s.Material, n, v)
			depth[idx] = z
			off := img.PixOffset(x, y)
			img.Pix[off+0] = toSRGB8(acesFilmic(col.X))
			img.Pix[off+1] = toSRGB8(acesFilmic(col.Y))
			img.Pix[off+2] = toSRGB8(acesFilmic(col.Z))
			img.Pix[off+3] = 0xff
		}
	}
}

func edge(ax, ay, bx, by, px, py float64) float64 {
	return (px-ax)*(by-ay) - (py-ay)*(bx-ax)
}

func min3(a, b, c float64) float64 { return math.Min(a, math.Min(b, c)) }
func max3(a, b, c float64) float64 { return math.Max(a, math.Max(b, c)) }

func fill(img *image.RGBA, c color.RGBA) {
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
}
