// backend.go - Scripted processing backend for client-side tests
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/spartis/scanviewer/internal/models"
)

// FakeBackend serves the two endpoints the upload flow consumes and replays
// a scripted sequence of progress reports.
type FakeBackend struct {
	mu sync.Mutex

	// JobID is returned from a successful upload.
	JobID string
	// UploadStatus and UploadBody, when set, replace the success response.
	UploadStatus int
	UploadBody   string
	// Script is replayed one report per query; the last entry repeats.
	Script []models.ProgressReport
	// ProgressStatus, when set, fails every progress query with that code.
	ProgressStatus int

	uploads       []string
	uploadBodies  [][]byte
	progressCalls int
	server        *httptest.Server
}

// NewFakeBackend starts a backend that is shut down with the test.
func NewFakeBackend(t testing.TB) *FakeBackend {
	t.Helper()
	b := &FakeBackend{JobID: "abc123"}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/process-nifti", b.handleUpload)
	mux.HandleFunc("/api/progress/", b.handleProgress)
	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

// URL is the backend base address.
func (b *FakeBackend) URL() string {
	return b.server.URL
}

// SetScript replaces the progress script.
func (b *FakeBackend) SetScript(reports ...models.ProgressReport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Script = reports
}

// FailUploads makes every upload answer with status and body.
func (b *FakeBackend) FailUploads(status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.UploadStatus, b.UploadBody = status, body
}

// FailProgress makes every progress query answer with status.
func (b *FakeBackend) FailProgress(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ProgressStatus = status
}

// Uploads returns the names of files received so far.
func (b *FakeBackend) Uploads() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.uploads...)
}

// UploadBodies returns the content of files received so far.
func (b *FakeBackend) UploadBodies() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.uploadBodies...)
}

// ProgressCalls returns the number of progress queries served.
func (b *FakeBackend) ProgressCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progressCalls
}

func (b *FakeBackend) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file uploaded.", http.StatusBadRequest)
		return
	}
	data, _ := io.ReadAll(f)
	f.Close()

	b.mu.Lock()
	b.uploads = append(b.uploads, hdr.Filename)
	b.uploadBodies = append(b.uploadBodies, data)
	status, body, id := b.UploadStatus, b.UploadBody, b.JobID
	b.mu.Unlock()

	if status != 0 {
		if strings.HasPrefix(strings.TrimSpace(body), "{") {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
		return
	}
	writeJSON(w, models.ProcessResponse{Message: "Processing started", FileID: id})
}

func (b *FakeBackend) handleProgress(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	i := b.progressCalls
	b.progressCalls++
	status := b.ProgressStatus
	var report models.ProgressReport
	if len(b.Script) == 0 {
		report = models.PendingReport()
	} else {
		report = b.Script[min(i, len(b.Script)-1)]
	}
	b.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	writeJSON(w, report)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
