// handlers_outputs.go - Produced mesh handlers
package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/spartis/scanviewer/internal/mesh"
	"github.com/spartis/scanviewer/internal/models"
	"github.com/spartis/scanviewer/internal/storage"
	"github.com/vmihailenco/msgpack/v5"
)

// MIMEModelSTL is the content type of served meshes.
const MIMEModelSTL = "model/stl"

const msgFileNotFound = "File not found."

// OutputHandlerImpl implements the OutputHandler interface
type OutputHandlerImpl struct {
	store  storage.Store
	loader *mesh.Loader
}

// NewOutputHandler creates a new output handler instance
func NewOutputHandler(store storage.Store, loader *mesh.Loader) OutputHandler {
	return &OutputHandlerImpl{
		store:  store,
		loader: loader,
	}
}

// HandleListOutputs returns recently produced meshes
func (h *OutputHandlerImpl) HandleListOutputs(c echo.Context) error {
	files, err := h.store.List(models.FileKindMesh, 50)
	if err != nil {
		return NewInternalError("failed to list outputs", err)
	}
	if files == nil {
		files = []*models.FileInfo{}
	}
	return c.JSON(http.StatusOK, files)
}

// HandleGetOutput streams a produced STL file
func (h *OutputHandlerImpl) HandleGetOutput(c echo.Context) error {
	name := c.Param("filename")
	f, info, err := h.store.OpenOutput(name)
	if err != nil {
		return outputError(c, err)
	}
	defer f.Close()

	c.Response().Header().Set(echo.HeaderContentType, MIMEModelSTL)
	http.ServeContent(c.Response(), c.Request(), info.Name, info.UploadedAt, f)
	return nil
}

// HandleDeleteOutput removes a produced mesh
func (h *OutputHandlerImpl) HandleDeleteOutput(c echo.Context) error {
	name := c.Param("filename")
	path, err := h.store.OutputPath(name)
	if err != nil {
		return outputError(c, err)
	}
	if err := h.store.Delete(name); err != nil {
		return outputError(c, err)
	}
	h.loader.Evict(path)
	return c.NoContent(http.StatusNoContent)
}

// HandleGetMesh returns the parsed, recentred geometry as msgpack
func (h *OutputHandlerImpl) HandleGetMesh(c echo.Context) error {
	name := c.Param("filename")
	path, err := h.store.OutputPath(name)
	if err != nil {
		return outputError(c, err)
	}

	g, err := h.loader.Load(c.Request().Context(), path, nil)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return outputError(c, storage.ErrNotFound)
		}
		return NewInternalError("failed to load mesh", err)
	}

	data, err := msgpack.Marshal(g.Pack())
	if err != nil {
		return NewInternalError("failed to encode mesh", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

func outputError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, storage.ErrInvalidName):
		return respondDetail(c, http.StatusBadRequest, "Invalid file name.")
	case errors.Is(err, storage.ErrNotFound):
		return respondDetail(c, http.StatusNotFound, msgFileNotFound)
	}
	return NewInternalError("failed to access output", err)
}
