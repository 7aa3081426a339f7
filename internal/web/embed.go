// Package web provides the embedded upload and viewer pages.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/spartis/scanviewer/internal/navigator"
)

//go:embed dist/*
var staticFiles embed.FS

const (
	indexPage  = "index.html"
	viewerPage = "viewer.html"
)

// GetFileSystem returns the embedded filesystem with the dist folder as root.
func GetFileSystem() (fs.FS, error) {
	return fs.Sub(staticFiles, "dist")
}

// RegisterStaticRoutes registers the page routes with Echo. The API routes
// should be registered before calling this function.
func RegisterStaticRoutes(e *echo.Echo) error {
	staticFS, err := GetFileSystem()
	if err != nil {
		return err
	}

	fileServer := http.FileServer(http.FS(staticFS))

	e.GET(navigator.ViewerPath, func(c echo.Context) error {
		return servePage(c, staticFS, viewerPage)
	})

	// Serve static files for all non-API routes
	e.GET("/*", func(c echo.Context) error {
		requestPath := path.Clean(c.Request().URL.Path)
		if requestPath == "/api" || strings.HasPrefix(requestPath, "/api/") {
			return echo.ErrNotFound
		}
		name := strings.TrimPrefix(requestPath, "/")
		if name == "" || name == "." {
			return servePage(c, staticFS, indexPage)
		}

		stat, err := fs.Stat(staticFS, name)
		if err != nil || stat.IsDir() {
			// Unknown routes fall back to the upload page.
			return servePage(c, staticFS, indexPage)
		}

		fileServer.ServeHTTP(c.Response(), c.Request())
		return nil
	})

	return nil
}

// servePage writes one of the HTML pages.
func servePage(c echo.Context, staticFS fs.FS, name string) error {
	content, err := fs.ReadFile(staticFS, name)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, name+" not found")
	}
	return c.HTMLBlob(http.StatusOK, content)
}

// HasEmbeddedFiles returns true if the pages have been embedded.
func HasEmbeddedFiles() bool {
	_, err := fs.Stat(staticFiles, path.Join("dist", indexPage))
	return err == nil
}
