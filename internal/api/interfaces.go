// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"
)

// ProcessingHandler accepts scans and reports conversion progress
type ProcessingHandler interface {
	HandleProcessScan(c echo.Context) error
	HandleGetProgress(c echo.Context) error
	HandleGetJob(c echo.Context) error
	HandleListScans(c echo.Context) error
}

// OutputHandler serves the meshes produced by processing
type OutputHandler interface {
	HandleListOutputs(c echo.Context) error
	HandleGetOutput(c echo.Context) error
	HandleDeleteOutput(c echo.Context) error
	HandleGetMesh(c echo.Context) error
}

// ViewerHandler renders meshes server-side
type ViewerHandler interface {
	HandleViewerFrame(c echo.Context) error
	HandleViewerStream(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}
