// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"image"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spartis/scanviewer/internal/mesh"
	"github.com/spartis/scanviewer/internal/processing"
	"github.com/spartis/scanviewer/internal/scene"
	"github.com/spartis/scanviewer/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store     storage.Store
	Manager   *processing.Manager
	Loader    *mesh.Loader
	OutputDir string
	FrameSize image.Point
	FPS       int
	// WSReadLimit bounds incoming websocket messages, in bytes.
	WSReadLimit  int64
	HealthChecks []HealthCheck
	Version      string
}

// Handlers holds all handler instances
type Handlers struct {
	Health     HealthHandler
	Processing ProcessingHandler
	Output     OutputHandler
	Viewer     ViewerHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	loader := deps.Loader
	if loader == nil {
		loader = mesh.NewLoader(nil)
	}
	return &Handlers{
		Health:     NewHealthHandler(deps.Version, deps.HealthChecks...),
		Processing: NewProcessingHandler(deps.Store, deps.Manager),
		Output:     NewOutputHandler(deps.Store, loader),
		Viewer: NewViewerHandler(ViewerConfig{
			Renderer:  scene.NewEngine(loader),
			OutputDir: deps.OutputDir,
			FrameSize: deps.FrameSize,
			FPS:       deps.FPS,
			ReadLimit: deps.WSReadLimit,
		}),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	// Health check
	e.GET("/health", handlers.Health.HandleHealth)

	api := e.Group("/api")
	api.GET("/health", handlers.Health.HandleHealth)

	// Scan processing routes
	api.POST("/process-nifti", handlers.Processing.HandleProcessScan)
	api.GET("/progress/:id", handlers.Processing.HandleGetProgress)
	api.GET("/jobs/:id", handlers.Processing.HandleGetJob)
	api.GET("/scans", handlers.Processing.HandleListScans)

	// Produced mesh routes
	api.GET("/outputs", handlers.Output.HandleListOutputs)
	api.GET("/outputs/:filename", handlers.Output.HandleGetOutput)
	api.HEAD("/outputs/:filename", handlers.Output.HandleGetOutput)
	api.DELETE("/outputs/:filename", handlers.Output.HandleDeleteOutput)
	api.GET("/mesh/:filename", handlers.Output.HandleGetMesh)

	// Server-side viewer routes
	api.GET("/viewer/frame", handlers.Viewer.HandleViewerFrame)
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/ws/viewer", handlers.Viewer.HandleViewerStream)
}

// MiddlewareConfig tunes SetupMiddleware.
type MiddlewareConfig struct {
	// LogRequests enables the request logger. Polling endpoints are
	// never logged.
	LogRequests bool
	// BodyLimit caps request bodies, e.g. "2G". Empty disables the limit.
	BodyLimit string
	// CORSOrigins enables CORS for the listed origins.
	CORSOrigins []string
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	if cfg.LogRequests {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.Contains(path, "/progress") || strings.HasSuffix(path, "/health")
			},
		}))
	}
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 * 1024,
	}))
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
}
