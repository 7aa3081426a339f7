// Package client talks to the processing backend: it uploads scans and
// queries job progress.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/spartis/scanviewer/internal/logging"
	"github.com/spartis/scanviewer/internal/models"
)

const (
	// DefaultBaseURL is the backend address used by the original deployment.
	DefaultBaseURL = "http://localhost:8000"

	processPath  = "/api/process-nifti"
	progressPath = "/api/progress/"
	fileField    = "file"
)

var logger = logging.New("client")

// ErrUnreachable reports that no HTTP response was received at all.
var ErrUnreachable = errors.New("backend unreachable")

// ServerError is a non-2xx response from the backend. Message carries the
// server-provided text verbatim.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Client is the backend API client. The zero value is not usable; use New.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New returns a client for the backend at baseURL. No request timeout is
// set; callers bound requests with their context.
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{baseURL: baseURL, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Upload sends the scan as multipart form field "file" and returns the job
// identifier assigned by the server.
func (c *Client) Upload(ctx context.Context, f *models.ScanFile) (string, error) {
	if f == nil || f.Open == nil {
		return "", errors.New("upload: no file")
	}
	src, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer src.Close()
		part, err := mw.CreateFormFile(fileField, f.Name)
		if err == nil {
			_, err = io.Copy(part, src)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+processPath, pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out models.ProcessResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.FileID == "" {
		return "", &ServerError{Status: http.StatusOK, Message: "server response missing file_id"}
	}
	logger.Infof("uploaded %s as job %s", f.Name, out.FileID)
	return out.FileID, nil
}

// Progress fetches the current report for a job.
func (c *Client) Progress(ctx context.Context, jobID string) (models.ProgressReport, error) {
	var out models.ProgressReport
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+progressPath+url.PathEscape(jobID), nil)
	if err != nil {
		return out, fmt.Errorf("build progress request: %w", err)
	}
	err = c.do(req, &out)
	return out, err
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", ErrUnreachable, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ServerError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// errorMessage extracts the server's explanation: a JSON "detail" (FastAPI),
// then "message" or "error", then the raw body text.
func errorMessage(status int, body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   any             `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if len(payload.Detail) > 0 {
			var s string
			if json.Unmarshal(payload.Detail, &s) == nil {
				return s
			}
			return string(payload.Detail)
		}
		if payload.Message != "" {
			return payload.Message
		}
		switch v := payload.Error.(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if m, ok := v["message"].(string); ok && m != "" {
				return m
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}
