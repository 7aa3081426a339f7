// errors.go - Structured error bodies for the scan and viewer endpoints
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error codes carried in APIError.Code.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeHTTP               = "HTTP_ERROR"
	CodeUnknown            = "UNKNOWN_ERROR"
)

// ShowErrorDetails includes the cause of unexpected errors in responses.
// The server turns it off outside debug logging.
var ShowErrorDetails = true

// APIError is the JSON error body for everything except the processing
// endpoints, which answer with DetailResponse.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newAPIError(status int, code, message string, cause error) *APIError {
	e := &APIError{Status: status, Code: code, Message: message}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// NewBadRequestError reports a malformed request.
func NewBadRequestError(message string, cause error) *APIError {
	return newAPIError(http.StatusBadRequest, CodeBadRequest, message, cause)
}

// NewValidationError reports a request field outside its allowed range.
func NewValidationError(field string) *APIError {
	return newAPIError(http.StatusBadRequest, CodeValidation, "invalid value for "+field, nil)
}

// NewNotFoundError reports an unknown job, scan or mesh.
func NewNotFoundError(resource, id string) *APIError {
	return newAPIError(http.StatusNotFound, CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id), nil)
}

// NewInternalError reports a server-side failure. The cause is only shown
// when ShowErrorDetails is set.
func NewInternalError(message string, cause error) *APIError {
	e := newAPIError(http.StatusInternalServerError, CodeInternal, message, nil)
	if cause != nil {
		logger.Errorf("%s: %v", message, cause)
		if ShowErrorDetails {
			e.Details = cause.Error()
		}
	}
	return e
}

// NewServiceUnavailableError reports a backing service that is down, such
// as the progress store.
func NewServiceUnavailableError(message string) *APIError {
	return newAPIError(http.StatusServiceUnavailable, CodeServiceUnavailable, message, nil)
}

// DetailResponse is the error body the processing endpoints answer with.
// Upload clients show Detail to the operator verbatim.
type DetailResponse struct {
	Detail string `json:"detail"`
}

func respondDetail(c echo.Context, status int, detail string) error {
	return c.JSON(status, DetailResponse{Detail: detail})
}

// ErrorHandler renders every error as an APIError.
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = newAPIError(httpErr.Code, CodeHTTP, fmt.Sprint(httpErr.Message), nil)
	default:
		logger.Errorf("%s %s: %v", c.Request().Method, c.Request().URL.Path, err)
		apiErr = newAPIError(http.StatusInternalServerError, CodeUnknown, "An unexpected error occurred", nil)
		if ShowErrorDetails {
			apiErr.Details = err.Error()
		}
	}

	if c.Request().Method == http.MethodHead {
		c.NoContent(apiErr.Status)
		return
	}
	c.JSON(apiErr.Status, apiErr)
}
