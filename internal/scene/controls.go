package scene

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// OrbitControls maps pointer drags and wheel steps onto rotate, pan and zoom
// of a camera around its target.
type OrbitControls struct {
	RotateSpeed float64
	PanSpeed    float64
	ZoomSpeed   float64
	MinDistance float64
	MaxDistance float64
	// MinPolar and MaxPolar bound the angle from +Y, in radians.
	MinPolar float64
	MaxPolar float64
}

// DefaultControls returns the viewer's orbit settings.
func DefaultControls() OrbitControls {
	return OrbitControls{
		RotateSpeed: 0.9,
		PanSpeed:    0.5,
		ZoomSpeed:   1,
		MinDistance: 1,
		MaxDistance: 1000,
		MinPolar:    0.01,
		MaxPolar:    math.Pi - 0.01,
	}
}

// Rotate orbits the camera. dx and dy are pointer deltas in pixels and
// viewportHeight converts them into angles: a drag across the full height
// turns the camera by a full revolution at speed 1.
func (o OrbitControls) Rotate(c *Camera, dx, dy float64, viewportHeight int) {
	if viewportHeight <= 0 || !finite(dx, dy) {
		return
	}
	o.Turn(c,
		2*math.Pi*dx/float64(viewportHeight)*o.RotateSpeed,
		2*math.Pi*dy/float64(viewportHeight)*o.RotateSpeed)
}

// Turn orbits the camera by yaw and pitch radians. Positive yaw swings the
// camera to the left of the target, positive pitch raises it.
func (o OrbitControls) Turn(c *Camera, yaw, pitch float64) {
	if !finite(yaw, pitch) {
		return
	}
	offset := r3.Sub(c.Position, c.Target)
	radius := r3.Norm(offset)
	if radius == 0 {
		return
	}
	theta := math.Atan2(offset.X, offset.Z)
	phi := math.Acos(clampRange(offset.Y/radius, -1, 1))

	theta = math.Mod(theta-yaw, 2*math.Pi)
	phi = clampRange(phi-pitch, o.MinPolar, o.MaxPolar)

	offset = r3.Vec{
		X: radius * math.Sin(phi) * math.Sin(theta),
		Y: radius * math.Cos(phi),
		Z: radius * math.Sin(phi) * math.Cos(theta),
	}
	c.Position = r3.Add(c.Target, offset)
}

// Pan translates camera and target in the view plane. The pan distance is
// scaled so the point under the pointer roughly follows it. A pan that would
// carry the target further than MaxDistance from the origin is ignored.
func (o OrbitControls) Pan(c *Camera, dx, dy float64, viewportHeight int) {
	if viewportHeight <= 0 || !finite(dx, dy) {
		return
	}
	offset := r3.Sub(c.Position, c.Target)
	dist := r3.Norm(offset) * math.Tan(c.FOV*math.Pi/360)
	forward := r3.Unit(r3.Scale(-1, offset))
	right := r3.Unit(r3.Cross(forward, c.Up))
	up := r3.Cross(right, forward)

	scale := 2 * dist / float64(viewportHeight) * o.PanSpeed
	move := r3.Add(r3.Scale(-dx*scale, right), r3.Scale(dy*scale, up))
	if !finite(move.X, move.Y, move.Z) || r3.Norm(r3.Add(c.Target, move)) > o.MaxDistance {
		return
	}
	c.Position = r3.Add(c.Position, move)
	c.Target = r3.Add(c.Target, move)
}

// Zoom dollies towards the target by steps wheel notches; positive steps
// zoom in.
func (o OrbitControls) Zoom(c *Camera, steps float64) {
	if !finite(steps) {
		return
	}
	offset := r3.Sub(c.Position, c.Target)
	radius := r3.Norm(offset)
	if radius == 0 {
		return
	}
	scale := math.Pow(0.95, o.ZoomSpeed*steps)
	next := clampRange(radius*scale, o.MinDistance, o.MaxDistance)
	c.Position = r3.Add(c.Target, r3.Scale(next/radius, offset))
}

func clampRange(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// finite reports whether none of vs is NaN or infinite.
func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
