// handlers_health.go - Health check handlers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthCheck checks one dependency of the server.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	started time.Time
	checks  []HealthCheck
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, checks ...HealthCheck) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		started: time.Now(),
		checks:  checks,
	}
}

// HandleHealth returns server health status. A failing check turns the
// answer into 503.
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			results[check.Name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[check.Name] = "ok"
	}

	return c.JSON(code, map[string]interface{}{
		"status":  status,
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"checks":  results,
	})
}
