// Package poller tracks one processing job by querying its progress on a
// fixed interval until it reaches a terminal state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spartis/scanviewer/internal/logging"
	"github.com/spartis/scanviewer/internal/models"
)

// DefaultInterval is the delay before each progress query, including the
// first.
const DefaultInterval = 500 * time.Millisecond

var logger = logging.New("poller")

// ErrPollTransport means a progress query got no usable response. Polling
// stops; it is not retried.
var ErrPollTransport = errors.New("failed to fetch progress")

// ProcessingError is a failure reported by the backend for the job.
type ProcessingError struct {
	Message string
}

func (e *ProcessingError) Error() string {
	return e.Message
}

// Source answers progress queries. *client.Client satisfies it.
type Source interface {
	Progress(ctx context.Context, jobID string) (models.ProgressReport, error)
}

// Outcome is the classification of a single report.
type Outcome int

const (
	Continue Outcome = iota
	Succeeded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "continue"
	}
}

// Classify decides whether a report ends the job. An explicit status wins;
// without one, a step mentioning "error" or "failed" is a failure, and
// progress of 100 with a filename is a success. Completion without a
// filename keeps polling.
func Classify(r models.ProgressReport) Outcome {
	switch r.Status {
	case models.ProcessStateFailed:
		return Failed
	case models.ProcessStateComplete:
		if r.Filename != "" {
			return Succeeded
		}
		return Continue
	case models.ProcessStatePending, models.ProcessStateRunning:
		return Continue
	}

	step := strings.ToLower(r.Step)
	if strings.Contains(step, "error") || strings.Contains(step, "failed") {
		return Failed
	}
	if r.Progress >= 100 && r.Filename != "" {
		return Succeeded
	}
	return Continue
}

// Result is the single terminal event of a poll cycle. Err is nil on
// success.
type Result struct {
	JobID    string
	Filename string
	Report   models.ProgressReport
	Err      error
}

// Handler receives poll events. OnTerminal is called at most once, and no
// OnProgress follows it.
type Handler interface {
	OnProgress(report models.ProgressReport)
	OnTerminal(result Result)
}

// Poller is one poll cycle for one job.
type Poller struct {
	jobID    string
	source   Source
	handler  Handler
	interval time.Duration

	mu          sync.Mutex
	cancel      context.CancelFunc
	cancelled   bool
	terminal    bool
	lastMessage string
}

// Option customizes a Poller.
type Option func(*Poller)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// New creates a poller for jobID. Nothing happens until Run.
func New(jobID string, source Source, handler Handler, opts ...Option) *Poller {
	p := &Poller{
		jobID:    jobID,
		source:   source,
		handler:  handler,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// JobID returns the job being tracked.
func (p *Poller) JobID() string {
	return p.jobID
}

// LastMessage returns the step text of the most recent report.
func (p *Poller) LastMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastMessage
}

// Terminal reports whether the terminal event has been delivered.
func (p *Poller) Terminal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}

// Stop cancels the cycle. A query already in flight is abandoned and its
// result discarded. Safe to call more than once, before or after Run.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.cancelled = true
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run polls until a terminal outcome, ctx cancellation or Stop. Each wait
// starts only after the previous query has returned.
func (p *Poller) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.cancelled || p.terminal {
		p.mu.Unlock()
		return
	}
	p.cancel = cancel
	p.mu.Unlock()

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debugf("poll for job %s cancelled", p.jobID)
			return
		case <-timer.C:
		}

		report, err := p.source.Progress(ctx, p.jobID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Errorf("progress query for job %s: %v", p.jobID, err)
			p.finish(Result{JobID: p.jobID, Err: fmt.Errorf("%w: %v", ErrPollTransport, err)})
			return
		}

		if !p.progress(report) {
			return
		}
		switch Classify(report) {
		case Failed:
			p.finish(Result{JobID: p.jobID, Report: report, Err: &ProcessingError{Message: report.Step}})
			return
		case Succeeded:
			p.finish(Result{JobID: p.jobID, Filename: report.Filename, Report: report})
			return
		}
		if report.Progress >= 100 {
			logger.Warnf("processing complete but mesh filename missing, retrying (job %s)", p.jobID)
		}
		timer.Reset(p.interval)
	}
}

// progress records and forwards a report unless the cycle was stopped.
func (p *Poller) progress(report models.ProgressReport) bool {
	p.mu.Lock()
	if p.cancelled || p.terminal {
		p.mu.Unlock()
		return false
	}
	p.lastMessage = report.Step
	p.mu.Unlock()

	p.handler.OnProgress(report)
	return true
}

func (p *Poller) finish(res Result) {
	p.mu.Lock()
	if p.cancelled || p.terminal {
		p.mu.Unlock()
		return
	}
	p.terminal = true
	p.mu.Unlock()

	p.handler.OnTerminal(res)
}
