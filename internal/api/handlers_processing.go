// handlers_processing.go - Scan upload and progress handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/spartis/scanviewer/internal/logging"
	"github.com/spartis/scanviewer/internal/models"
	"github.com/spartis/scanviewer/internal/processing"
	"github.com/spartis/scanviewer/internal/storage"
)

// MsgNoFileUploaded is the plain-text answer to an upload without a file.
const MsgNoFileUploaded = "No file uploaded."

var logger = logging.New("api")

// ProcessingHandlerImpl implements the ProcessingHandler interface
type ProcessingHandlerImpl struct {
	store   storage.Store
	manager *processing.Manager
}

// NewProcessingHandler creates a new processing handler instance
func NewProcessingHandler(store storage.Store, manager *processing.Manager) ProcessingHandler {
	return &ProcessingHandlerImpl{
		store:   store,
		manager: manager,
	}
}

// HandleProcessScan stores an uploaded scan and starts converting it
func (h *ProcessingHandlerImpl) HandleProcessScan(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.String(http.StatusBadRequest, MsgNoFileUploaded)
	}
	if !models.IsScanName(file.Filename) {
		return respondDetail(c, http.StatusBadRequest, models.MsgInvalidExtension)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.SaveScan(file.Filename, src)
	if err != nil {
		return NewInternalError("failed to save scan", err)
	}

	job := h.manager.StartJob(info)
	logger.Infof("scan %s (%d bytes) queued as job %s", info.Name, info.Size, job.ID)

	return c.JSON(http.StatusOK, models.ProcessResponse{
		Message: "File uploaded successfully. Processing started.",
		FileID:  job.ID,
	})
}

// HandleGetProgress returns the latest progress report for a job
func (h *ProcessingHandlerImpl) HandleGetProgress(c echo.Context) error {
	id := c.Param("id")
	report, err := h.manager.Progress(c.Request().Context(), id)
	if err != nil {
		logger.Errorf("progress lookup for %s: %v", id, err)
		return NewServiceUnavailableError("progress store unavailable")
	}
	return c.JSON(http.StatusOK, report)
}

// HandleGetJob returns the full record of a job started by this server
func (h *ProcessingHandlerImpl) HandleGetJob(c echo.Context) error {
	id := c.Param("id")
	job, ok := h.manager.GetJob(id)
	if !ok {
		return NewNotFoundError("job", id)
	}
	return c.JSON(http.StatusOK, job)
}

// HandleListScans returns recently received scans
func (h *ProcessingHandlerImpl) HandleListScans(c echo.Context) error {
	files, err := h.store.List(models.FileKindScan, 50)
	if err != nil {
		return NewInternalError("failed to list scans", err)
	}
	if files == nil {
		files = []*models.FileInfo{}
	}
	return c.JSON(http.StatusOK, files)
}
