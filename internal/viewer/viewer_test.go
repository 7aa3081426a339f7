package viewer

import (
	"context"
	"errors"
	"image"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spartis/scanviewer/internal/mesh"
	"github.com/spartis/scanviewer/internal/navigator"
	"github.com/spartis/scanviewer/internal/scene"
	"github.com/spartis/scanviewer/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

type stubRenderer struct {
	*scene.Software
	release chan struct{}
	err     error

	loads     atomic.Int32
	lastURL   atomic.Value
	cancelled atomic.Bool
}

func newStub() *stubRenderer {
	return &stubRenderer{Software: scene.NewSoftware()}
}

func (r *stubRenderer) Load(ctx context.Context, url string, onProgress mesh.ProgressFunc) (*mesh.Geometry, error) {
	r.loads.Add(1)
	r.lastURL.Store(url)
	onProgress(0.25)
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			r.cancelled.Store(true)
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	onProgress(1)
	return mesh.Cuboid("box", r3.Vec{}, r3.Vec{X: 20, Y: 20, Z: 20}), nil
}

type fakeSharer struct{ err error }

func (s fakeSharer) Share(ctx context.Context, title, text, url string) error { return s.err }

type fakeClipboard struct {
	mu    sync.Mutex
	texts []string
}

func (c *fakeClipboard) WriteText(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeClipboard) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func mount(t *testing.T, location string, opts Options) *Controller {
	t.Helper()
	if opts.FrameSize == (image.Point{}) {
		opts.FrameSize = image.Pt(64, 64)
	}
	c, err := Mount(context.Background(), location, opts)
	require.NoError(t, err)
	t.Cleanup(c.Unmount)
	return c
}

func waitStatus(t *testing.T, c *Controller, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, _ := c.Status()
		return s == want
	}, 2*time.Second, 2*time.Millisecond)
}

func nonBackground(img *image.RGBA) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) != scene.DefaultBackground {
				n++
			}
		}
	}
	return n
}

func TestMountWithoutFileShowsPlaceholder(t *testing.T) {
	r := newStub()
	c := mount(t, "/viewer", Options{Renderer: r, FrameSize: image.Pt(240, 40)})

	status, err := c.Status()
	assert.Equal(t, StatusPlaceholder, status)
	assert.NoError(t, err)
	assert.False(t, c.Session().HasMesh())
	assert.Greater(t, nonBackground(c.Frame()), 0, "placeholder text should be drawn")

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, r.loads.Load(), "no fetch without a model reference")
}

func TestMountLoadsMesh(t *testing.T) {
	r := newStub()
	c := mount(t, "/viewer?file=abc123.stl", Options{Renderer: r})
	waitStatus(t, c, StatusReady)

	assert.Equal(t, "/api/outputs/abc123.stl", r.lastURL.Load())
	sess := c.Session()
	assert.Equal(t, "abc123.stl", sess.File)
	assert.Equal(t, 100, sess.Brightness)
	assert.Equal(t, 100, sess.Contrast)

	img := c.Frame()
	assert.NotEqual(t, scene.DefaultBackground, img.RGBAAt(32, 32))
}

func TestMountLegacyURLParam(t *testing.T) {
	r := newStub()
	c := mount(t, "/viewer?url=http%3A%2F%2Fhost%2Fapi%2Foutputs%2Fa.stl", Options{Renderer: r})
	waitStatus(t, c, StatusReady)
	assert.Equal(t, "http://host/api/outputs/a.stl", r.lastURL.Load())
}

func TestLoadFailure(t *testing.T) {
	r := newStub()
	r.err = errors.New("404 Not Found")
	c := mount(t, "/viewer?file=missing.stl", Options{Renderer: r})
	waitStatus(t, c, StatusError)

	_, err := c.Status()
	assert.EqualError(t, err, "404 Not Found")
	assert.Greater(t, nonBackground(c.Frame()), 0)
}

func TestSlidersClamp(t *testing.T) {
	c := mount(t, "/viewer?file=a.stl", Options{Renderer: newStub()})

	assert.Equal(t, 150, c.SetBrightness(200))
	assert.Equal(t, 50, c.SetContrast(10))
	assert.Equal(t, 120, c.SetContrast(120))

	sess := c.Session()
	assert.Equal(t, 150, sess.Brightness)
	assert.Equal(t, 120, sess.Contrast)
	assert.Equal(t, scene.Filter{Brightness: 150, Contrast: 120}, c.Scene().Filter())
}

func TestSlidersDoNotTouchGeometry(t *testing.T) {
	c := mount(t, "/viewer?file=a.stl", Options{Renderer: newStub()})
	waitStatus(t, c, StatusReady)
	g := c.Scene().Geometry()
	before := append([]r3.Vec(nil), g.Positions...)

	c.SetBrightness(60)
	c.SetContrast(140)
	c.Frame()

	assert.Same(t, g, c.Scene().Geometry())
	assert.Equal(t, before, g.Positions)
}

func TestShareFallsBackToClipboard(t *testing.T) {
	clip := &fakeClipboard{}
	loc := "http://localhost:5173/viewer?file=abc123.stl"
	c := mount(t, loc, Options{
		Renderer:  newStub(),
		Sharer:    fakeSharer{err: ErrShareUnsupported},
		Clipboard: clip,
		CopiedFor: 30 * time.Millisecond,
	})

	require.NoError(t, c.Share(context.Background()))
	assert.Equal(t, []string{loc}, clip.Texts())
	assert.True(t, c.Copied())
	assert.Eventually(t, func() bool { return !c.Copied() }, time.Second, 5*time.Millisecond)
}

func TestShareWithoutSharerUsesClipboard(t *testing.T) {
	clip := &fakeClipboard{}
	c := mount(t, "/viewer?file=a.stl", Options{Renderer: newStub(), Clipboard: clip})
	require.NoError(t, c.Share(context.Background()))
	assert.Len(t, clip.Texts(), 1)
	assert.True(t, c.Copied())
}

func TestShareSucceedsOrFailsQuietly(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"shared", nil},
		{"cancelled by user", errors.New("AbortError")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clip := &fakeClipboard{}
			c := mount(t, "/viewer?file=a.stl", Options{Renderer: newStub(), Sharer: fakeSharer{err: tt.err}, Clipboard: clip})
			assert.NoError(t, c.Share(context.Background()))
			assert.Empty(t, clip.Texts())
			assert.False(t, c.Copied())
		})
	}
}

func TestShareWithoutModelDoesNothing(t *testing.T) {
	clip := &fakeClipboard{}
	c := mount(t, "/viewer", Options{Renderer: newStub(), Clipboard: clip})
	assert.NoError(t, c.Share(context.Background()))
	assert.Empty(t, clip.Texts())
}

func TestUnmountCancelsLoad(t *testing.T) {
	r := newStub()
	r.release = make(chan struct{})
	c, err := Mount(context.Background(), "/viewer?file=slow.stl", Options{Renderer: r, FrameSize: image.Pt(32, 32)})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.loads.Load() == 1 }, time.Second, time.Millisecond)

	status, _ := c.Status()
	assert.Equal(t, StatusLoading, status)
	assert.InDelta(t, 0.25, c.LoadProgress(), 1e-9)

	done := make(chan struct{})
	go func() {
		c.Unmount()
		c.Unmount()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unmount did not return")
	}
	assert.True(t, r.cancelled.Load())
	assert.Nil(t, c.Scene().Geometry())
}

func TestOrbitGestures(t *testing.T) {
	c := mount(t, "/viewer?file=a.stl", Options{Renderer: newStub()})
	start := c.Scene().Camera()

	require.NoError(t, c.Orbit(Gesture{Kind: GestureZoom, Steps: 2}))
	assert.Less(t, r3.Norm(c.Scene().Camera().Position), r3.Norm(start.Position))

	require.NoError(t, c.Orbit(Gesture{Kind: GestureRotate, DX: 10}))
	assert.NotEqual(t, start.Position.X, c.Scene().Camera().Position.X)

	require.NoError(t, c.Orbit(Gesture{Kind: GestureReset}))
	assert.Equal(t, start, c.Scene().Camera())
}

func TestOrbitRejectsInvalidGestures(t *testing.T) {
	c := mount(t, "/viewer?file=a.stl", Options{Renderer: newStub()})
	start := c.Scene().Camera()

	tests := []struct {
		name string
		g    Gesture
	}{
		{"huge rotate", Gesture{Kind: GestureRotate, DX: 1e308}},
		{"nan pan", Gesture{Kind: GesturePan, DY: math.NaN()}},
		{"infinite zoom", Gesture{Kind: GestureZoom, Steps: math.Inf(-1)}},
		{"too many steps", Gesture{Kind: GestureZoom, Steps: MaxGestureSteps + 1}},
		{"unknown kind", Gesture{Kind: "spin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, c.Orbit(tt.g), ErrInvalidGesture)
		})
	}
	assert.Equal(t, start, c.Scene().Camera())

	var img *image.RGBA
	require.NotPanics(t, func() { img = c.Frame() })
	assert.Equal(t, image.Pt(64, 64), img.Bounds().Size())
}

func TestMountWithEngineOverHTTP(t *testing.T) {
	stl := testutil.CubeSTL(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/outputs/abc123.stl" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "model/stl")
		w.Write(stl)
	}))
	defer srv.Close()

	c := mount(t, "/viewer?file=abc123.stl", Options{
		Renderer: scene.NewEngine(mesh.NewLoader(srv.Client())),
		Resolver: navigator.Resolver{Base: srv.URL + "/api/outputs/"},
	})
	waitStatus(t, c, StatusReady)

	box := c.Scene().Geometry().BoundingBox()
	assert.InDelta(t, 0, r3.Norm(box.Center()), 1e-9, "mesh is recentred")
	assert.NotEqual(t, scene.DefaultBackground, c.Frame().RGBAAt(32, 32))
}

func TestRenderLoopPublishesFrames(t *testing.T) {
	var frames atomic.Int32
	c, err := Mount(context.Background(), "/viewer?file=a.stl", Options{
		Renderer:  newStub(),
		FrameSize: image.Pt(32, 32),
		FPS:       100,
		OnFrame: func(*image.RGBA) error {
			frames.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return frames.Load() >= 3 }, 2*time.Second, time.Millisecond)
	assert.NotNil(t, c.Latest())

	c.Unmount()
	stopped := frames.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, frames.Load(), "no frames after unmount")
}
