// Package scene owns the 3D viewing state of one viewer session (camera,
// orbit controls, the installed mesh and its loading progress) and turns it
// into filtered frames.
package scene

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"

	"github.com/spartis/scanviewer/internal/mesh"
)

// Renderer is the swappable engine behind a scene: it loads geometry and
// draws it from a camera.
type Renderer interface {
	Load(ctx context.Context, url string, onProgress mesh.ProgressFunc) (*mesh.Geometry, error)
	Draw(g *mesh.Geometry, cam Camera, size image.Point) *image.RGBA
}

// Engine pairs the mesh loader with the software rasterizer.
type Engine struct {
	*mesh.Loader
	*Software
}

// NewEngine returns the default renderer.
func NewEngine(loader *mesh.Loader) *Engine {
	return &Engine{Loader: loader, Software: NewSoftware()}
}

// Scene is the mutable view state. All methods are safe for concurrent use;
// the render loop reads while input handlers write.
type Scene struct {
	renderer Renderer

	mu       sync.Mutex
	camera   Camera
	controls OrbitControls
	filter   Filter

	geometry atomic.Pointer[mesh.Geometry]
	progress atomic.Uint64 // float64 bits
	version  atomic.Uint64
}

// New creates a scene with the default camera and controls.
func New(r Renderer) *Scene {
	return &Scene{
		renderer: r,
		camera:   DefaultCamera(),
		controls: DefaultControls(),
		filter:   NeutralFilter(),
	}
}

// Load fetches url through the renderer and installs the result. Progress is
// published for the loading overlay. The geometry becomes visible in one
// step, never partially.
func (s *Scene) Load(ctx context.Context, url string) error {
	s.SetLoadProgress(0)
	g, err := s.renderer.Load(ctx, url, s.SetLoadProgress)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.SetGeometry(g)
	return nil
}

// SetGeometry installs g, replacing any previous mesh. nil returns the scene
// to its loading state.
func (s *Scene) SetGeometry(g *mesh.Geometry) {
	s.geometry.Store(g)
	s.version.Add(1)
}

// Geometry returns the installed mesh, or nil while loading.
func (s *Scene) Geometry() *mesh.Geometry {
	return s.geometry.Load()
}

// SetLoadProgress records the loading fraction in [0, 1].
func (s *Scene) SetLoadProgress(f float64) {
	s.progress.Store(math.Float64bits(clamp01(f)))
	s.version.Add(1)
}

// LoadProgress returns the loading fraction in [0, 1].
func (s *Scene) LoadProgress() float64 {
	return math.Float64frombits(s.progress.Load())
}

// Version changes whenever anything affecting the next frame changes.
func (s *Scene) Version() uint64 {
	return s.version.Load()
}

// SetFilter sets the post-process filter, clamped to the slider range.
func (s *Scene) SetFilter(f Filter) {
	s.mu.Lock()
	s.filter = f.Clamped()
	s.mu.Unlock()
	s.version.Add(1)
}

// Filter returns the current post-process filter.
func (s *Scene) Filter() Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// Camera returns a copy of the camera.
func (s *Scene) Camera() Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

// Rotate orbits the camera by a pointer drag.
func (s *Scene) Rotate(dx, dy float64, viewportHeight int) {
	s.mu.Lock()
	s.controls.Rotate(&s.camera, dx, dy, viewportHeight)
	s.mu.Unlock()
	s.version.Add(1)
}

// Turn orbits the camera by yaw and pitch in radians.
func (s *Scene) Turn(yaw, pitch float64) {
	s.mu.Lock()
	s.controls.Turn(&s.camera, yaw, pitch)
	s.mu.Unlock()
	s.version.Add(1)
}

// Pan moves the camera and target in the view plane.
func (s *Scene) Pan(dx, dy float64, viewportHeight int) {
	s.mu.Lock()
	s.controls.Pan(&s.camera, dx, dy, viewportHeight)
	s.mu.Unlock()
	s.version.Add(1)
}

// Zoom dollies the camera; positive steps move closer.
func (s *Scene) Zoom(steps float64) {
	s.mu.Lock()
	s.controls.Zoom(&s.camera, steps)
	s.mu.Unlock()
	s.version.Add(1)
}

// ResetCamera restores the default view.
func (s *Scene) ResetCamera() {
	s.mu.Lock()
	s.camera = DefaultCamera()
	s.mu.Unlock()
	s.version.Add(1)
}

// LoadingText is the overlay shown until the mesh is installed.
func LoadingText(progress float64) string {
	return fmt.Sprintf("Loading model... %d%%", int(math.Round(progress*100)))
}

// Frame renders the current state at the given size with the filter applied.
func (s *Scene) Frame(size image.Point) *image.RGBA {
	s.mu.Lock()
	cam, filter := s.camera, s.filter
	s.mu.Unlock()

	var img *image.RGBA
	if g := s.geometry.Load(); g != nil {
		img = s.renderer.Draw(g, cam, size)
	} else {
		img = TextFrame(size, DefaultBackground, LoadingText(s.LoadProgress()))
	}
	return filter.Apply(img)
}
