// handlers_viewer.go - Server-side rendering handlers
package api

import (
	"errors"
	"image"
	"image/png"
	"math"
	"net/http"
	"os"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/spartis/scanviewer/internal/navigator"
	"github.com/spartis/scanviewer/internal/scene"
	"github.com/spartis/scanviewer/internal/storage"
	"github.com/spartis/scanviewer/internal/viewer"
)

// Frame request bounds.
const (
	// MaxFrameSide bounds the width and height of a rendered frame.
	MaxFrameSide = 4096
	// MaxFrameAngle bounds yaw and pitch, in degrees.
	MaxFrameAngle = 3600
	// MaxFrameZoom bounds zoom steps in either direction.
	MaxFrameZoom = 100
)

// ViewerHandlerImpl implements the ViewerHandler interface
type ViewerHandlerImpl struct {
	renderer  scene.Renderer
	resolver  navigator.Resolver
	frameSize image.Point
	fps       int
	readLimit int64
	upgrader  websocket.Upgrader
}

// ViewerConfig holds the rendering settings of the viewer handlers.
type ViewerConfig struct {
	Renderer scene.Renderer
	// OutputDir is where mesh names are resolved.
	OutputDir string
	FrameSize image.Point
	FPS       int
	// ReadLimit bounds incoming websocket messages, in bytes.
	ReadLimit int64
}

// NewViewerHandler creates a new viewer handler instance
func NewViewerHandler(cfg ViewerConfig) ViewerHandler {
	if cfg.FrameSize.X <= 0 || cfg.FrameSize.Y <= 0 {
		cfg.FrameSize = viewer.DefaultFrameSize
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 64 * 1024
	}
	return &ViewerHandlerImpl{
		renderer:  cfg.Renderer,
		resolver:  navigator.Resolver{Dir: cfg.OutputDir},
		frameSize: cfg.FrameSize,
		fps:       cfg.FPS,
		readLimit: cfg.ReadLimit,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

type frameQuery struct {
	File       string  `query:"file"`
	URL        string  `query:"url"`
	Brightness int     `query:"brightness"`
	Contrast   int     `query:"contrast"`
	Yaw        float64 `query:"yaw"`
	Pitch      float64 `query:"pitch"`
	Zoom       float64 `query:"zoom"`
	Width      int     `query:"width"`
	Height     int     `query:"height"`
}

func (q *frameQuery) validate() error {
	if q.Width < 1 || q.Width > MaxFrameSide {
		return NewValidationError("width")
	}
	if q.Height < 1 || q.Height > MaxFrameSide {
		return NewValidationError("height")
	}
	if !inRange(q.Yaw, MaxFrameAngle) {
		return NewValidationError("yaw")
	}
	if !inRange(q.Pitch, MaxFrameAngle) {
		return NewValidationError("pitch")
	}
	if !inRange(q.Zoom, MaxFrameZoom) {
		return NewValidationError("zoom")
	}
	return nil
}

// inRange reports whether v is finite and |v| <= limit.
func inRange(v, limit float64) bool {
	return !math.IsNaN(v) && math.Abs(v) <= limit
}

// mesh returns the requested mesh name; an empty name means none was
// requested. Only plain output names are accepted so the server never
// fetches arbitrary locations.
func (q *frameQuery) mesh() (string, error) {
	name := q.File
	if name == "" {
		name = q.URL
	}
	if name == "" {
		return "", nil
	}
	if err := storage.ValidateOutputName(name); err != nil {
		return "", err
	}
	return name, nil
}

// HandleViewerFrame renders a single PNG snapshot of a mesh
func (h *ViewerHandlerImpl) HandleViewerFrame(c echo.Context) error {
	q := frameQuery{
		Brightness: scene.NeutralFilter().Brightness,
		Contrast:   scene.NeutralFilter().Contrast,
		Width:      h.frameSize.X,
		Height:     h.frameSize.Y,
	}
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return NewBadRequestError("invalid frame parameters", err)
	}
	if err := q.validate(); err != nil {
		return err
	}
	name, err := q.mesh()
	if err != nil {
		return NewBadRequestError("invalid mesh name", err)
	}

	sc := scene.New(h.renderer)
	sc.SetFilter(scene.Filter{Brightness: q.Brightness, Contrast: q.Contrast})
	size := image.Pt(q.Width, q.Height)

	var img *image.RGBA
	if name == "" {
		img = sc.Filter().Apply(scene.TextFrame(size, scene.DefaultBackground, viewer.PlaceholderText))
	} else {
		url, err := h.resolver.Resolve(name)
		if err != nil {
			return NewBadRequestError("invalid mesh name", err)
		}
		if err := sc.Load(c.Request().Context(), url); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return NewNotFoundError("mesh", name)
			}
			return NewInternalError("failed to load mesh", err)
		}
		sc.Turn(q.Yaw*math.Pi/180, q.Pitch*math.Pi/180)
		sc.Zoom(q.Zoom)
		img = sc.Frame(size)
	}

	c.Response().Header().Set(echo.HeaderContentType, "image/png")
	c.Response().WriteHeader(http.StatusOK)
	return png.Encode(c.Response(), img)
}
