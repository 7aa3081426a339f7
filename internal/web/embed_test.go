package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRoutes(t *testing.T) {
	require.True(t, HasEmbeddedFiles())

	e := echo.New()
	require.NoError(t, RegisterStaticRoutes(e))

	tests := []struct {
		name     string
		path     string
		code     int
		contains string
	}{
		{"root serves upload page", "/", http.StatusOK, "Upload a scan"},
		{"viewer page", "/viewer?file=abc.stl", http.StatusOK, "/api/ws/viewer"},
		{"stylesheet", "/style.css", http.StatusOK, ".progress"},
		{"unknown route falls back", "/some/route", http.StatusOK, "Upload a scan"},
		{"api is never a page", "/api/unknown", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
			if tt.contains != "" {
				assert.Contains(t, rec.Body.String(), tt.contains)
			}
		})
	}
}
