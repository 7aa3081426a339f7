package viewer

import (
	"errors"
	"fmt"
	"math"
)

// Bounds on a single gesture. Real pointer and wheel input stays far below
// them.
const (
	MaxGestureDelta = 10000 // pixels
	MaxGestureSteps = 100
)

var ErrInvalidGesture = errors.New("invalid gesture")

// GestureKind selects the orbit action.
type GestureKind string

const (
	GestureRotate GestureKind = "rotate"
	GesturePan    GestureKind = "pan"
	GestureZoom   GestureKind = "zoom"
	GestureReset  GestureKind = "reset"
)

// Gesture is one pointer or wheel input.
type Gesture struct {
	Kind  GestureKind `json:"kind" msgpack:"kind"`
	DX    float64     `json:"dx,omitempty" msgpack:"dx"`
	DY    float64     `json:"dy,omitempty" msgpack:"dy"`
	Steps float64     `json:"steps,omitempty" msgpack:"steps"`
}

// Validate rejects unknown kinds and deltas that are not finite or exceed
// the gesture bounds.
func (g Gesture) Validate() error {
	switch g.Kind {
	case GestureRotate, GesturePan, GestureZoom, GestureReset:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidGesture, g.Kind)
	}
	if !within(g.DX, MaxGestureDelta) || !within(g.DY, MaxGestureDelta) {
		return fmt.Errorf("%w: delta out of range", ErrInvalidGesture)
	}
	if !within(g.Steps, MaxGestureSteps) {
		return fmt.Errorf("%w: steps out of range", ErrInvalidGesture)
	}
	return nil
}

// within reports whether v is finite and |v| <= limit.
func within(v, limit float64) bool {
	return !math.IsNaN(v) && math.Abs(v) <= limit
}
