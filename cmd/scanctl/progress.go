package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/spartis/scanviewer/internal/models"
)

// jobReporter renders upload job snapshots for the operator.
type jobReporter interface {
	Update(job models.UploadJob)
	Finish()
}

func newJobReporter(w io.Writer) jobReporter {
	if isTerminal(w) {
		return newBarReporter(w)
	}
	return &lineReporter{w: w}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// barReporter drives a progress bar sized in percent.
type barReporter struct {
	mu  sync.Mutex
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newBarReporter(w io.Writer) *barReporter {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("Waiting"),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
	return &barReporter{w: w, bar: bar}
}

func (r *barReporter) Update(job models.UploadJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.Message != "" {
		r.bar.Describe(job.Message)
	}
	_ = r.bar.Set(job.Progress)
}

func (r *barReporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar.IsFinished() {
		return
	}
	_ = r.bar.Exit()
	fmt.Fprintln(r.w)
}

// lineReporter prints one line per change, for logs and pipes.
type lineReporter struct {
	mu   sync.Mutex
	w    io.Writer
	last string
}

func (r *lineReporter) Update(job models.UploadJob) {
	line := fmt.Sprintf("%3d%% %s", job.Progress, job.Message)
	if job.Status == models.JobStatusFailed {
		line = "failed: " + job.Message
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if line == r.last {
		return
	}
	r.last = line
	fmt.Fprintln(r.w, line)
}

func (r *lineReporter) Finish() {}
