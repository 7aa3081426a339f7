package upload

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spartis/scanviewer/internal/client"
	"github.com/spartis/scanviewer/internal/models"
	"github.com/spartis/scanviewer/internal/navigator"
	"github.com/spartis/scanviewer/internal/poller"
	"github.com/spartis/scanviewer/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alerts struct {
	mu   sync.Mutex
	msgs []string
}

func (a *alerts) Alert(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
}

func (a *alerts) Messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.msgs...)
}

type harness struct {
	backend *testutil.FakeBackend
	nav     *navigator.Recorder
	alerts  *alerts
	ctrl    *Controller

	mu   sync.Mutex
	seen []models.UploadJob
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend: testutil.NewFakeBackend(t),
		nav:     &navigator.Recorder{},
		alerts:  &alerts{},
	}
	h.ctrl = newController(h, client.New(h.backend.URL()))
	t.Cleanup(h.ctrl.Close)
	return h
}

func newController(h *harness, up Uploader) *Controller {
	return NewController(up, h.nav,
		WithAlerter(h.alerts),
		WithPollInterval(5*time.Millisecond),
		WithObserver(func(j models.UploadJob) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.seen = append(h.seen, j)
		}),
	)
}

func (h *harness) snapshots() []models.UploadJob {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.UploadJob(nil), h.seen...)
}

func scan(name string) models.ScanFile {
	return models.ScanFile{
		Name: name,
		Size: 6,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader([]byte("voxels"))), nil
		},
	}
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not finish")
	}
}

func TestSubmitNavigatesOnSuccess(t *testing.T) {
	h := newHarness(t)
	h.backend.SetScript(
		models.ProgressReport{Progress: 40, Step: "Segmenting"},
		models.ProgressReport{Progress: 100, Step: "Done", Filename: "abc123.stl"},
	)

	require.NoError(t, h.ctrl.SelectFile(scan("scan.nii.gz")))
	require.NoError(t, h.ctrl.Submit(context.Background()))
	waitDone(t, h.ctrl.Done())

	assert.Equal(t, []string{"/viewer?file=abc123.stl"}, h.nav.Targets())
	assert.Equal(t, []string{"scan.nii.gz"}, h.backend.Uploads())
	assert.Empty(t, h.alerts.Messages())

	job := h.ctrl.Job()
	assert.Equal(t, models.JobStatusSucceeded, job.Status)
	assert.Equal(t, "abc123", job.JobID)
	assert.Equal(t, "abc123.stl", job.Result)
	assert.Equal(t, 100, job.Progress)

	var sawSegmenting bool
	for _, s := range h.snapshots() {
		if s.Status == models.JobStatusPolling && s.Progress == 40 && s.Message == "Segmenting" {
			sawSegmenting = true
		}
		assert.Equal(t, s.Result != "", s.Status == models.JobStatusSucceeded)
	}
	assert.True(t, sawSegmenting)
}

func TestSelectFileRejectsWrongExtension(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.SelectFile(scan("good.nii.gz")))

	err := h.ctrl.SelectFile(scan("scan.nii"))
	assert.ErrorIs(t, err, ErrInvalidExtension)
	assert.Equal(t, []string{MsgInvalidExtension}, h.alerts.Messages())
	assert.Equal(t, "good.nii.gz", h.ctrl.Job().FileName)
	assert.Empty(t, h.backend.Uploads())
}

func TestSubmitWithoutFile(t *testing.T) {
	h := newHarness(t)
	err := h.ctrl.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNoFile)
	assert.Equal(t, []string{MsgNoFile}, h.alerts.Messages())
	assert.Empty(t, h.backend.Uploads())
}

func TestProcessingFailureAlertsWithoutNavigation(t *testing.T) {
	h := newHarness(t)
	h.backend.SetScript(models.ProgressReport{Progress: 10, Step: "Processing failed: out of memory"})

	require.NoError(t, h.ctrl.SelectFile(scan("scan.nii.gz")))
	require.NoError(t, h.ctrl.Submit(context.Background()))
	waitDone(t, h.ctrl.Done())

	msgs := h.alerts.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Processing failed: out of memory")
	assert.Empty(t, h.nav.Targets())
	assert.Equal(t, models.JobStatusFailed, h.ctrl.Job().Status)
	assert.Empty(t, h.ctrl.Job().Result)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, h.backend.ProgressCalls(), "polling must stop")
}

func TestUploadUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	h := newHarness(t)
	ctrl := newController(h, client.New(addr))
	defer ctrl.Close()

	require.NoError(t, ctrl.SelectFile(scan("scan.nii.gz")))
	err := ctrl.Submit(context.Background())
	assert.ErrorIs(t, err, client.ErrUnreachable)
	assert.Equal(t, []string{MsgUnreachable}, h.alerts.Messages())
	assert.Equal(t, models.JobStatusFailed, ctrl.Job().Status)
	waitDone(t, ctrl.Done())
}

func TestUploadServerErrorVerbatim(t *testing.T) {
	h := newHarness(t)
	h.backend.FailUploads(http.StatusBadRequest, `{"detail":"Only .nii.gz files are supported."}`)

	require.NoError(t, h.ctrl.SelectFile(scan("scan.nii.gz")))
	err := h.ctrl.Submit(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"Only .nii.gz files are supported."}, h.alerts.Messages())
	assert.Zero(t, h.backend.ProgressCalls())
}

func TestPollTransportFailure(t *testing.T) {
	h := newHarness(t)
	h.backend.FailProgress(http.StatusInternalServerError)

	require.NoError(t, h.ctrl.SelectFile(scan("scan.nii.gz")))
	require.NoError(t, h.ctrl.Submit(context.Background()))
	waitDone(t, h.ctrl.Done())

	assert.Equal(t, []string{MsgPollTransport}, h.alerts.Messages())
	assert.Equal(t, models.JobStatusFailed, h.ctrl.Job().Status)
	assert.Equal(t, 1, h.backend.ProgressCalls())
}

func TestSecondSubmitWhilePollingIsNoop(t *testing.T) {
	h := newHarness(t)
	h.backend.SetScript(models.ProgressReport{Progress: 5, Step: "Queued"})

	require.NoError(t, h.ctrl.SelectFile(scan("scan.nii.gz")))
	require.NoError(t, h.ctrl.Submit(context.Background()))
	require.NoError(t, h.ctrl.Submit(context.Background()))

	assert.Len(t, h.backend.Uploads(), 1)
	assert.Equal(t, models.JobStatusPolling, h.ctrl.Job().Status)
}

func TestDuplicateTerminalNavigatesOnce(t *testing.T) {
	h := newHarness(t)
	h.backend.SetScript(models.ProgressReport{Progress: 5, Step: "Queued"})
	require.NoError(t, h.ctrl.SelectFile(scan("scan.nii.gz")))
	require.NoError(t, h.ctrl.Submit(context.Background()))

	h.ctrl.mu.Lock()
	cyc := &cycle{c: h.ctrl, gen: h.ctrl.gen}
	h.ctrl.mu.Unlock()

	res := poller.Result{JobID: "abc123", Filename: "abc123.stl"}
	cyc.OnTerminal(res)
	cyc.OnTerminal(res)
	cyc.OnProgress(models.ProgressReport{Progress: 100, Filename: "abc123.stl"})

	assert.Equal(t, []string{"/viewer?file=abc123.stl"}, h.nav.Targets())
	assert.Equal(t, models.JobStatusSucceeded, h.ctrl.Job().Status)
}

func TestCompleteWithoutFilenameKeepsPolling(t *testing.T) {
	h := newHarness(t)
	h.backend.SetScript(
		models.ProgressReport{Progress: 100, Step: "Done"},
		models.ProgressReport{Progress: 100, Step: "Done"},
		models.ProgressReport{Progress: 100, Step: "Done", Filename: "abc123.stl"},
	)

	require.NoError(t, h.ctrl.SelectFile(scan("scan.nii.gz")))
	require.NoError(t, h.ctrl.Submit(context.Background()))
	waitDone(t, h.ctrl.Done())

	assert.Equal(t, 3, h.backend.ProgressCalls())
	assert.Equal(t, []string{"/viewer?file=abc123.stl"}, h.nav.Targets())
}

func TestProgressIsMonotonic(t *testing.T) {
	h := newHarness(t)
	h.backend.SetScript(
		models.ProgressReport{Progress: 40, Step: "Segmenting"},
		models.ProgressReport{Progress: 30, Step: "Smoothing"},
		models.ProgressReport{Progress: 100, Step: "Done", Filename: "abc123.stl"},
	)

	require.NoError(t, h.ctrl.SelectFile(scan("scan.nii.gz")))
	require.NoError(t, h.ctrl.Submit(context.Background()))
	waitDone(t, h.ctrl.Done())

	last := 0
	var sawSmoothing bool
	for _, s := range h.snapshots() {
		if s.Status != models.JobStatusPolling {
			continue
		}
		assert.GreaterOrEqual(t, s.Progress, last)
		last = s.Progress
		if s.Message == "Smoothing" {
			sawSmoothing = true
			assert.Equal(t, 40, s.Progress)
		}
	}
	assert.True(t, sawSmoothing)
}

func TestSelectingNewFileCancelsPolling(t *testing.T) {
	h := newHarness(t)
	h.backend.SetScript(models.ProgressReport{Progress: 5, Step: "Queued"})

	require.NoError(t, h.ctrl.SelectFile(scan("first.nii.gz")))
	require.NoError(t, h.ctrl.Submit(context.Background()))
	done := h.ctrl.Done()
	require.Eventually(t, func() bool { return h.backend.ProgressCalls() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, h.ctrl.SelectFile(scan("second.nii.gz")))
	waitDone(t, done)

	job := h.ctrl.Job()
	assert.Equal(t, models.JobStatusIdle, job.Status)
	assert.Equal(t, "second.nii.gz", job.FileName)

	calls := h.backend.ProgressCalls()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, h.backend.ProgressCalls(), calls+1, "at most one in-flight query may finish")
	assert.Empty(t, h.nav.Targets())
}

func TestCloseStopsEverything(t *testing.T) {
	h := newHarness(t)
	h.backend.SetScript(models.ProgressReport{Progress: 5, Step: "Queued"})

	require.NoError(t, h.ctrl.SelectFile(scan("scan.nii.gz")))
	require.NoError(t, h.ctrl.Submit(context.Background()))
	done := h.ctrl.Done()

	h.ctrl.Close()
	h.ctrl.Close()
	waitDone(t, done)

	assert.ErrorIs(t, h.ctrl.Submit(context.Background()), ErrClosed)
	assert.Equal(t, models.JobStatusIdle, h.ctrl.Job().Status)
}

func TestClearFile(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.SelectFile(scan("scan.nii.gz")))
	h.ctrl.ClearFile()
	assert.ErrorIs(t, h.ctrl.Submit(context.Background()), ErrNoFile)
}

func TestSelectPath(t *testing.T) {
	h := newHarness(t)
	h.backend.SetScript(models.ProgressReport{Progress: 100, Step: "Done", Filename: "abc123.stl"})

	dir := t.TempDir()
	path := filepath.Join(dir, "brain.nii.gz")
	require.NoError(t, os.WriteFile(path, []byte("gzipped voxels"), 0o644))

	require.NoError(t, h.ctrl.SelectPath(path))
	assert.Error(t, h.ctrl.SelectPath(dir))
	assert.Error(t, h.ctrl.SelectPath(filepath.Join(dir, "missing.nii.gz")))

	require.NoError(t, h.ctrl.Submit(context.Background()))
	waitDone(t, h.ctrl.Done())
	assert.Equal(t, [][]byte{[]byte("gzipped voxels")}, h.backend.UploadBodies())
}
