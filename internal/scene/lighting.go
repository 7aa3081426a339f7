package scene

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DirectionalLight shines from Position towards the origin.
type DirectionalLight struct {
	Position  r3.Vec
	Color     r3.Vec // linear RGB, 0-1
	Intensity float64
}

// Lighting is the fixed light rig of the viewer.
type Lighting struct {
	Ambient     float64
	Directional []DirectionalLight
}

var white = r3.Vec{X: 1, Y: 1, Z: 1}

// DefaultLighting is a key light, a back light opposite it and a grey fill
// from above and behind, plus ambient.
func DefaultLighting() Lighting {
	grey := float64(0xaa) / 255
	return Lighting{
		Ambient: 0.5,
		Directional: []DirectionalLight{
			{Position: r3.Vec{X: 50, Y: 50, Z: 50}, Color: white, Intensity: 1},
			{Position: r3.Vec{X: -50, Y: -50, Z: -50}, Color: white, Intensity: 0.6},
			{Position: r3.Vec{Y: 50, Z: -100}, Color: r3.Vec{X: grey, Y: grey, Z: grey}, Intensity: 0.4},
		},
	}
}

// Material is a simplified metal/rough surface.
type Material struct {
	Color     r3.Vec
	Metalness float64
	Roughness float64
}

// DefaultMaterial is the white bone-like surface used for scans.
func DefaultMaterial() Material {
	return Material{Color: white, Metalness: 0.4, Roughness: 0.2}
}

// shade returns the linear colour at a surface point with normal n seen from
// direction v (both unit, pointing away from the surface).
func (l Lighting) shade(m Material, n, v r3.Vec) r3.Vec {
	diffuseColor := r3.Scale(1-m.Metalness, m.Color)
	f0 := lerpVec(r3.Vec{X: 0.04, Y: 0.04, Z: 0.04}, m.Color, m.Metalness)
	shininess := math.Max(1, (1-m.Roughness)*128)

	out := r3.Scale(l.Ambient, r3.Add(diffuseColor, r3.Scale(0.5, f0)))
	for _, d := range l.Directional {
		ld := r3.Unit(d.Position)
		ndl := r3.Dot(n, ld)
		if ndl <= 0 {
			continue
		}
		radiance := r3.Scale(d.Intensity, d.Color)
		out = r3.Add(out, mulVec(radiance, r3.Scale(ndl, diffuseColor)))

		h := r3.Unit(r3.Add(ld, v))
		spec := math.Pow(math.Max(0, r3.Dot(n, h)), shininess) * (shininess + 8) / (8 * math.Pi)
		out = r3.Add(out, mulVec(radiance, r3.Scale(spec*ndl, f0)))
	}
	return out
}

// acesFilmic is the Narkowicz fit of the ACES filmic tone curve.
func acesFilmic(x float64) float64 {
	const a, b, c, d, e = 2.51, 0.03, 2.43, 0.59, 0.14
	return clamp01((x * (a*x + b)) / (x*(c*x+d) + e))
}

func toSRGB8(linear float64) uint8 {
	v := clamp01(linear)
	if v <= 0.0031308 {
		v *= 12.92
	} else {
		v = 1.055*math.Pow(v, 1/2.4) - 0.055
	}
	return uint8(math.Round(v * 255))
}

func lerpVec(a, b r3.Vec, t float64) r3.Vec {
	return r3.Add(r3.Scale(1-t, a), r3.Scale(t, b))
}

func mulVec(a, b r3.Vec) r3.Vec {
	return r3.Vec{X: a.X * b.X, Y: a.Y * b.Y, Z: a.Z * b.Z}
}
