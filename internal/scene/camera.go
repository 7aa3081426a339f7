package scene

import "gonum.org/v1/gonum/spatial/r3"

// Camera is a perspective camera aimed at a target point.
type Camera struct {
	Position r3.Vec
	Target   r3.Vec
	Up       r3.Vec
	FOV      float64 // vertical, degrees
	Near     float64
	Far      float64
}

// DefaultCamera frames a recentred mesh of a few to a few tens of units.
func DefaultCamera() Camera {
	return Camera{
		Position: r3.Vec{Z: 100},
		Up:       r3.Vec{Y: 1},
		FOV:      35,
		Near:     0.1,
		Far:      2000,
	}
}

// View returns the world-to-camera matrix.
func (c Camera) View() Mat4 {
	return LookAt(c.Position, c.Target, c.Up)
}

// ViewProjection returns the combined world-to-clip matrix.
func (c Camera) ViewProjection(aspect float64) Mat4 {
	return Perspective(c.FOV, aspect, c.Near, c.Far).Mul(c.View())
}
