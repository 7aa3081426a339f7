// Package viewer mounts a mesh viewer session from a location URL: it loads
// the referenced mesh into a scene, renders it continuously, and owns the
// brightness/contrast sliders and the share action.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spartis/scanviewer/internal/logging"
	"github.com/spartis/scanviewer/internal/mesh"
	"github.com/spartis/scanviewer/internal/models"
	"github.com/spartis/scanviewer/internal/navigator"
	"github.com/spartis/scanviewer/internal/scene"
)

const (
	PlaceholderText = "No model URL specified."
	LoadFailedText  = "Failed to load model."

	ShareTitle = "Spartis 3D Medical Scan"
	ShareText  = "Check out this 3D model!"

	DefaultCopiedFor = 2 * time.Second
)

// DefaultFrameSize is the render resolution when none is configured.
var DefaultFrameSize = image.Pt(640, 480)

var logger = logging.New("viewer")

// ErrShareUnsupported is returned by a Sharer that cannot share on this
// platform; the controller then falls back to the clipboard.
var ErrShareUnsupported = errors.New("share not supported")

// Sharer hands a link to the platform share facility.
type Sharer interface {
	Share(ctx context.Context, title, text, url string) error
}

// Clipboard receives copied text.
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// Status is the viewer's load state.
type Status string

const (
	StatusPlaceholder Status = "placeholder"
	StatusLoading     Status = "loading"
	StatusReady       Status = "ready"
	StatusError       Status = "error"
)

// Options configure a mounted controller.
type Options struct {
	Renderer       scene.Renderer
	Resolver       navigator.Resolver
	Sharer         Sharer
	Clipboard      Clipboard
	CopiedFor      time.Duration
	FrameSize      image.Point
	FPS            int
	RenderOnDemand bool
	// OnFrame receives every frame of the render loop.
	OnFrame scene.FrameSink
}

func (o *Options) defaults() {
	if o.Renderer == nil {
		o.Renderer = scene.NewEngine(mesh.NewLoader(http.DefaultClient))
	}
	if o.CopiedFor <= 0 {
		o.CopiedFor = DefaultCopiedFor
	}
	if o.FrameSize.X <= 0 || o.FrameSize.Y <= 0 {
		o.FrameSize = DefaultFrameSize
	}
}

// Controller is one mounted viewer. It must be released with Unmount.
type Controller struct {
	opts     Options
	location string
	scene    *scene.Scene

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	session   models.ViewerSession
	status    Status
	loadErr   error
	copied    bool
	copyTimer *time.Timer
	unmounted bool

	stateVersion atomic.Uint64
	latest       atomic.Pointer[image.RGBA]
}

// Mount creates a viewer for location, which carries the mesh reference in
// its "file" query parameter. Without one the viewer shows a placeholder
// and fetches nothing.
func Mount(ctx context.Context, location string, opts Options) (*Controller, error) {
	opts.defaults()

	file, ok := navigator.FileFromQuery(location)
	var meshURL string
	if ok {
		var err error
		if meshURL, err = opts.Resolver.Resolve(file); err != nil {
			return nil, fmt.Errorf("resolve mesh %q: %w", file, err)
		}
	}

	c := &Controller{
		opts:     opts,
		location: location,
		scene:    scene.New(opts.Renderer),
		session:  *models.NewViewerSession(file, meshURL),
		status:   StatusPlaceholder,
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	if c.session.HasMesh() {
		c.status = StatusLoading
		c.wg.Add(1)
		go c.load(meshURL)
	} else {
		logger.Infof("no model reference in %q", location)
	}
	c.wg.Add(1)
	go c.render()
	return c, nil
}

func (c *Controller) load(url string) {
	defer c.wg.Done()
	err := c.scene.Load(c.ctx, url)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unmounted {
		return
	}
	defer c.stateVersion.Add(1)
	if err != nil {
		c.status = StatusError
		c.loadErr = err
		logger.Errorf("load %s: %v", url, err)
		return
	}
	c.status = StatusReady
	logger.Infof("loaded %s", url)
}

func (c *Controller) render() {
	defer c.wg.Done()
	loop := &scene.Loop{
		Source:       source{c},
		Size:         c.opts.FrameSize,
		FPS:          c.opts.FPS,
		OnlyOnChange: c.opts.RenderOnDemand,
	}
	loop.Run(c.ctx, func(img *image.RGBA) error {
		c.latest.Store(img)
		if c.opts.OnFrame != nil {
			return c.opts.OnFrame(img)
		}
		return nil
	})
}

type source struct{ c *Controller }

func (s source) Frame(size image.Point) *image.RGBA { return s.c.frameAt(size) }
func (s source) Version() uint64                    { return s.c.Version() }

// Version changes whenever the next frame would differ.
func (c *Controller) Version() uint64 {
	return c.scene.Version() + c.stateVersion.Load()
}

// Session returns a snapshot of the session state.
func (c *Controller) Session() models.ViewerSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Status returns the load state and, for StatusError, the cause.
func (c *Controller) Status() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.loadErr
}

// LoadProgress returns the mesh download fraction.
func (c *Controller) LoadProgress() float64 {
	return c.scene.LoadProgress()
}

// Scene exposes the underlying scene, e.g. for mesh statistics.
func (c *Controller) Scene() *scene.Scene {
	return c.scene
}

// SetBrightness sets the brightness slider, clamped to [50, 150].
func (c *Controller) SetBrightness(v int) int {
	c.mu.Lock()
	c.session.Brightness = models.ClampFilter(v)
	f := c.filterLocked()
	c.mu.Unlock()
	c.scene.SetFilter(f)
	return f.Brightness
}

// SetContrast sets the contrast slider, clamped to [50, 150].
func (c *Controller) SetContrast(v int) int {
	c.mu.Lock()
	c.session.Contrast = models.ClampFilter(v)
	f := c.filterLocked()
	c.mu.Unlock()
	c.scene.SetFilter(f)
	return f.Contrast
}

func (c *Controller) filterLocked() scene.Filter {
	return scene.Filter{Brightness: c.session.Brightness, Contrast: c.session.Contrast}
}

// Orbit applies a pointer gesture to the camera. Drag deltas are in pixels
// of the frame. Invalid gestures leave the camera untouched.
func (c *Controller) Orbit(g Gesture) error {
	if err := g.Validate(); err != nil {
		return err
	}
	h := c.opts.FrameSize.Y
	switch g.Kind {
	case GestureRotate:
		c.scene.Rotate(g.DX, g.DY, h)
	case GesturePan:
		c.scene.Pan(g.DX, g.DY, h)
	case GestureZoom:
		c.scene.Zoom(g.Steps)
	case GestureReset:
		c.scene.ResetCamera()
	}
	return nil
}

// Frame composes a frame of the current state at the configured size.
func (c *Controller) Frame() *image.RGBA {
	return c.frameAt(c.opts.FrameSize)
}

// Latest returns the last frame produced by the render loop, or nil before
// the first one.
func (c *Controller) Latest() *image.RGBA {
	return c.latest.Load()
}

func (c *Controller) frameAt(size image.Point) *image.RGBA {
	c.mu.Lock()
	status, filter := c.status, c.filterLocked()
	c.mu.Unlock()

	switch status {
	case StatusPlaceholder:
		return filter.Apply(scene.TextFrame(size, scene.DefaultBackground, PlaceholderText))
	case StatusError:
		return filter.Apply(scene.TextFrame(size, scene.DefaultBackground, LoadFailedText))
	}
	return c.scene.Frame(size)
}

// Share offers the current location through the platform sharer and falls
// back to copying it to the clipboard. It does nothing without a model.
func (c *Controller) Share(ctx context.Context) error {
	c.mu.Lock()
	hasMesh := c.session.HasMesh()
	c.mu.Unlock()
	if !hasMesh {
		return nil
	}

	if c.opts.Sharer != nil {
		err := c.opts.Sharer.Share(ctx, ShareTitle, ShareText, c.location)
		if err == nil {
			logger.Info("model shared")
			return nil
		}
		if !errors.Is(err, ErrShareUnsupported) {
			logger.Errorf("share failed: %v", err)
			return nil
		}
	}

	if c.opts.Clipboard == nil {
		return ErrShareUnsupported
	}
	if err := c.opts.Clipboard.WriteText(ctx, c.location); err != nil {
		return fmt.Errorf("copy link: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unmounted {
		return nil
	}
	c.copied = true
	if c.copyTimer != nil {
		c.copyTimer.Stop()
	}
	c.copyTimer = time.AfterFunc(c.opts.CopiedFor, func() {
		c.mu.Lock()
		c.copied = false
		c.mu.Unlock()
	})
	return nil
}

// Copied reports whether the "copied" confirmation is showing.
func (c *Controller) Copied() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copied
}

// Unmount cancels the mesh load and the render loop and waits for both.
// It is safe to call more than once.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return
	}
	c.unmounted = true
	if c.copyTimer != nil {
		c.copyTimer.Stop()
	}
	c.copied = false
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.scene.SetGeometry(nil)
}
