package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spartis/scanviewer/internal/client"
	"github.com/spartis/scanviewer/internal/logging"
	"github.com/spartis/scanviewer/internal/models"
	"github.com/spartis/scanviewer/internal/navigator"
	"github.com/spartis/scanviewer/internal/poller"
)

// User-facing alert texts.
const (
	MsgInvalidExtension = models.MsgInvalidExtension
	MsgNoFile           = "No file selected."
	MsgUnreachable      = "Network Error: Could not connect to the server. Please ensure the backend service is running and accessible."
	MsgPollTransport    = "Failed to fetch progress."
	MsgUnknownUpload    = "An unknown error occurred during upload."
	msgProcessingFailed = "Processing failed on the server: "
)

var logger = logging.New("upload")

var (
	ErrInvalidExtension = errors.New("invalid scan extension")
	ErrNoFile           = errors.New("no file selected")
	ErrClosed           = errors.New("upload controller closed")
)

// Uploader is the backend the controller talks to. *client.Client
// satisfies it.
type Uploader interface {
	Upload(ctx context.Context, f *models.ScanFile) (string, error)
	poller.Source
}

// Alerter shows a message to the operator.
type Alerter interface {
	Alert(message string)
}

// AlertFunc adapts a function to Alerter.
type AlertFunc func(message string)

// Alert calls f.
func (f AlertFunc) Alert(message string) { f(message) }

type logAlerter struct{}

func (logAlerter) Alert(message string) { logger.Warn(message) }

// Controller drives one scan from file selection through upload and
// progress polling to a single navigation to the viewer. Only one job is
// active at a time.
type Controller struct {
	uploader Uploader
	nav      navigator.Navigator
	alerter  Alerter
	interval time.Duration
	observer func(models.UploadJob)

	base       context.Context
	baseCancel context.CancelFunc

	mu        sync.Mutex
	file      *models.ScanFile
	job       *models.UploadJob
	gen       uint64 // bumped whenever the current job is abandoned
	navigated bool
	poll      *poller.Poller
	cancel    context.CancelFunc
	done      *signal
	closed    bool
}

// Option customizes a Controller.
type Option func(*Controller)

// WithAlerter routes user-visible alerts. The default logs them.
func WithAlerter(a Alerter) Option {
	return func(c *Controller) {
		if a != nil {
			c.alerter = a
		}
	}
}

// WithPollInterval overrides the progress poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.interval = d
	}
}

// WithObserver registers a callback receiving a snapshot after every job
// change. It runs on the goroutine that made the change.
func WithObserver(fn func(models.UploadJob)) Option {
	return func(c *Controller) {
		c.observer = fn
	}
}

// NewController creates an idle controller.
func NewController(uploader Uploader, nav navigator.Navigator, opts ...Option) *Controller {
	c := &Controller{
		uploader: uploader,
		nav:      nav,
		alerter:  logAlerter{},
		interval: poller.DefaultInterval,
		job:      models.NewUploadJob(nil),
		done:     newSignal(),
	}
	c.base, c.baseCancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SelectFile stages f for upload. A name without the scan extension is
// rejected and the previous selection kept. Accepting a file abandons any
// running job.
func (c *Controller) SelectFile(f models.ScanFile) error {
	if !models.IsScanName(f.Name) {
		c.alerter.Alert(MsgInvalidExtension)
		return fmt.Errorf("%w: %q", ErrInvalidExtension, f.Name)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	old := c.resetLocked()
	c.file = &f
	c.job = models.NewUploadJob(c.file)
	snap := *c.job
	c.mu.Unlock()

	old.fire()
	c.notify(snap)
	return nil
}

// SelectPath stages a file from disk.
func (c *Controller) SelectPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat scan: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return c.SelectFile(models.ScanFile{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	})
}

// ClearFile drops the selection and abandons any running job.
func (c *Controller) ClearFile() {
	c.mu.Lock()
	old := c.resetLocked()
	c.file = nil
	c.job = models.NewUploadJob(nil)
	snap := *c.job
	c.mu.Unlock()

	old.fire()
	c.notify(snap)
}

// Submit uploads the selected file and starts tracking the job. It returns
// once polling has started or the upload failed. Calling it while a job is
// uploading or polling does nothing.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.file == nil {
		c.mu.Unlock()
		c.alerter.Alert(MsgNoFile)
		return ErrNoFile
	}
	if c.job.Status.Active() {
		status := c.job.Status
		c.mu.Unlock()
		logger.Debugf("submit ignored: job already %s", status)
		return nil
	}

	old := c.done
	c.gen++
	gen := c.gen
	c.navigated = false
	c.done = newSignal()
	c.job = models.NewUploadJob(c.file)
	c.job.Status = models.JobStatusUploading
	c.job.Message = "Uploading..."
	cycleCtx, cancel := context.WithCancel(c.base)
	c.cancel = cancel
	file := c.file
	snap := *c.job
	c.mu.Unlock()

	old.fire()
	c.notify(snap)

	upCtx, upCancel := context.WithCancel(ctx)
	stop := context.AfterFunc(cycleCtx, upCancel)
	jobID, err := c.uploader.Upload(upCtx, file)
	stop()
	upCancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if err == nil {
			err = context.Canceled
		}
		return err
	}
	if err != nil {
		msg := uploadAlert(err)
		c.job.Status = models.JobStatusFailed
		c.job.Message = msg
		c.cancel = nil
		snap = *c.job
		done := c.done
		c.mu.Unlock()
		cancel()

		logger.Errorf("upload of %s failed: %v", file.Name, err)
		c.notify(snap)
		c.alerter.Alert(msg)
		done.fire()
		return err
	}

	c.job.JobID = jobID
	c.job.Status = models.JobStatusPolling
	c.job.Message = "Processing started"
	p := poller.New(jobID, c.uploader, &cycle{c: c, gen: gen}, poller.WithInterval(c.interval))
	c.poll = p
	snap = *c.job
	c.mu.Unlock()

	logger.Infof("job %s started for %s", jobID, file.Name)
	c.notify(snap)
	go p.Run(cycleCtx)
	return nil
}

// Job returns a snapshot of the current job.
func (c *Controller) Job() models.UploadJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.job
}

// Done is closed when the current job reaches a terminal state, is
// abandoned, or the controller is closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done.ch
}

// Close cancels any upload or poll cycle. Later calls to Submit fail.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	old := c.resetLocked()
	c.job = models.NewUploadJob(nil)
	c.file = nil
	c.mu.Unlock()

	c.baseCancel()
	old.fire()
}

// resetLocked abandons the current cycle and returns its done signal for
// the caller to fire after unlocking.
func (c *Controller) resetLocked() *signal {
	c.gen++
	if c.poll != nil {
		c.poll.Stop()
		c.poll = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.navigated = false
	old := c.done
	c.done = newSignal()
	return old
}

func (c *Controller) notify(job models.UploadJob) {
	if c.observer != nil {
		c.observer(job)
	}
}

func uploadAlert(err error) string {
	if errors.Is(err, client.ErrUnreachable) {
		return MsgUnreachable
	}
	var se *client.ServerError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return MsgUnknownUpload
}

// cycle receives poll events for one job generation. Events from an
// abandoned generation are dropped.
type cycle struct {
	c   *Controller
	gen uint64
}

func (h *cycle) OnProgress(report models.ProgressReport) {
	c := h.c
	c.mu.Lock()
	if h.gen != c.gen || c.job.Status != models.JobStatusPolling {
		c.mu.Unlock()
		return
	}
	if p := min(report.Progress, 100); p > c.job.Progress {
		c.job.Progress = p
	}
	c.job.Message = report.Step
	snap := *c.job
	c.mu.Unlock()

	c.notify(snap)
}

func (h *cycle) OnTerminal(res poller.Result) {
	c := h.c
	c.mu.Lock()
	if h.gen != c.gen || c.job.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	done := c.done
	c.poll = nil

	if res.Err != nil {
		msg := MsgPollTransport
		var pe *poller.ProcessingError
		if errors.As(res.Err, &pe) {
			msg = msgProcessingFailed + pe.Message
		}
		c.job.Status = models.JobStatusFailed
		c.job.Message = msg
		snap := *c.job
		c.mu.Unlock()

		logger.Errorf("job %s failed: %v", res.JobID, res.Err)
		c.notify(snap)
		c.alerter.Alert(msg)
		done.fire()
		return
	}

	if c.navigated {
		c.mu.Unlock()
		return
	}
	c.navigated = true
	c.job.Status = models.JobStatusSucceeded
	c.job.Progress = 100
	c.job.Result = res.Filename
	c.job.Message = res.Report.Step
	snap := *c.job
	c.mu.Unlock()

	logger.Infof("job %s produced %s", res.JobID, res.Filename)
	c.notify(snap)
	if err := c.nav.Navigate(navigator.ViewerURL(res.Filename)); err != nil {
		logger.Errorf("navigate to viewer: %v", err)
	}
	done.fire()
}

type signal struct {
	ch   chan struct{}
	once sync.Once
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (s *signal) fire() {
	s.once.Do(func() { close(s.ch) })
}
