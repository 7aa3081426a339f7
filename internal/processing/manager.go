// Package processing runs uploaded scans through the conversion pipeline
// and publishes per-job progress.
package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spartis/scanviewer/internal/logging"
	"github.com/spartis/scanviewer/internal/models"
	"github.com/spartis/scanviewer/internal/storage"
)

var logger = logging.New("processing")

// Step labels published for every job.
const (
	StepQueued   = "Queued"
	StepDone     = "Done"
	failedPrefix = "Processing failed: "
)

// Job represents an async processing job.
type Job struct {
	ID          string              `json:"id"`
	ScanID      string              `json:"scanId"`
	FileName    string              `json:"fileName"`
	Status      models.ProcessState `json:"status"`
	Progress    int                 `json:"progress"`
	Step        string              `json:"step"`
	Output      string              `json:"output,omitempty"`
	Error       string              `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
}

func (j *Job) report() models.ProgressReport {
	return models.ProgressReport{
		Progress: j.Progress,
		Step:     j.Step,
		Filename: j.Output,
		Status:   j.Status,
	}
}

// Store defines the interface needed from the storage layer.
type Store interface {
	GetFilePath(id string) (string, error)
	SetStatus(id string, status string) error
	OutputPath(name string) (string, error)
	RegisterOutput(name string) (*models.FileInfo, error)
	Delete(id string) error
}

// Manager handles async scan processing.
type Manager struct {
	jobs     map[string]*Job
	mu       sync.RWMutex
	store    Store
	progress ProgressStore
	pipeline Pipeline
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithJobTimeout bounds each pipeline run.
func WithJobTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = d
	}
}

// NewManager creates a new processing manager.
func NewManager(store Store, progress ProgressStore, pipeline Pipeline, opts ...ManagerOption) *Manager {
	if progress == nil {
		progress = NewMemoryStore(DefaultProgressTTL)
	}
	if pipeline == nil {
		pipeline = BoundsPipeline{}
	}
	m := &Manager{
		jobs:     make(map[string]*Job),
		store:    store,
		progress: progress,
		pipeline: pipeline,
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartJob begins async processing of a stored scan.
func (m *Manager) StartJob(scan *models.FileInfo) *Job {
	job := &Job{
		ID:        uuid.New().String(),
		ScanID:    scan.ID,
		FileName:  scan.Name,
		Status:    models.ProcessStatePending,
		Step:      StepQueued,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	cp := *job
	m.mu.Unlock()
	m.publish(&cp)

	m.wg.Add(1)
	go m.processJob(job)

	return &cp
}

// GetJob retrieves a snapshot of a job by ID.
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *job
	return &cp, true
}

// Progress returns the latest report for a job; unknown jobs report
// pending.
func (m *Manager) Progress(ctx context.Context, id string) (models.ProgressReport, error) {
	report, ok, err := m.progress.Get(ctx, id)
	if err != nil {
		return models.ProgressReport{}, err
	}
	if !ok {
		return models.PendingReport(), nil
	}
	return report, nil
}

// Shutdown cancels running jobs and waits for them to stop.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processJob handles the actual async processing.
func (m *Manager) processJob(job *Job) {
	defer m.wg.Done()
	short := job.ID[:8]
	logger.Infof("[Job %s] Starting processing: %s", short, job.FileName)

	scanPath, err := m.store.GetFilePath(job.ScanID)
	if err != nil {
		m.markJobError(job, fmt.Sprintf("scan not found: %v", err))
		return
	}
	outputName := job.ID + ".stl"
	outputPath, err := m.store.OutputPath(outputName)
	if err != nil {
		m.markJobError(job, err.Error())
		return
	}
	m.store.SetStatus(job.ScanID, "processing")

	ctx := m.ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	m.updateJobStatus(job, 0, "Starting "+m.pipeline.Name())
	err = m.pipeline.Run(ctx, scanPath, outputPath, func(progress int, step string) {
		m.updateJobStatus(job, progress, step)
	})
	if err != nil {
		m.store.SetStatus(job.ScanID, "error")
		m.markJobError(job, err.Error())
		return
	}

	info, err := m.store.RegisterOutput(outputName)
	if err != nil {
		m.store.SetStatus(job.ScanID, "error")
		m.markJobError(job, fmt.Sprintf("register output: %v", err))
		return
	}
	m.store.SetStatus(job.ScanID, "processed")
	m.markJobComplete(job, outputName)
	logger.Infof("[Job %s] Processing complete: %s (%d bytes)", short, outputName, info.Size)
}

// updateJobStatus records pipeline progress (thread-safe). The filename is
// only published on completion, so progress stays below 100 until then.
func (m *Manager) updateJobStatus(job *Job, progress int, step string) {
	m.mu.Lock()
	if job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	job.Status = models.ProcessStateRunning
	job.Progress = max(0, min(progress, 99))
	if step != "" {
		job.Step = step
	}
	m.mu.Unlock()
	m.publish(job)
}

// markJobComplete marks job as complete (thread-safe).
func (m *Manager) markJobComplete(job *Job, output string) {
	m.mu.Lock()
	job.Status = models.ProcessStateComplete
	job.Progress = 100
	job.Step = StepDone
	job.Output = output
	now := time.Now()
	job.CompletedAt = &now
	m.mu.Unlock()
	m.publish(job)
}

// markJobError marks job as failed (thread-safe).
func (m *Manager) markJobError(job *Job, errMsg string) {
	m.mu.Lock()
	job.Status = models.ProcessStateFailed
	job.Error = errMsg
	job.Step = failedPrefix + errMsg
	now := time.Now()
	job.CompletedAt = &now
	m.mu.Unlock()
	m.publish(job)
	logger.Errorf("[Job %s] Error: %s", job.ID[:8], errMsg)
}

func (m *Manager) publish(job *Job) {
	m.mu.RLock()
	report := job.report()
	id := job.ID
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.progress.Set(ctx, id, report); err != nil {
		logger.Errorf("[Job %s] publish progress: %v", id[:8], err)
	}
}

// CleanupOldJobs removes finished jobs older than maxAge along with their
// stored scans. A scan still referenced by a remaining job is kept.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	cutoff := time.Now().Add(-maxAge)
	scans := make(map[string]struct{})
	n := 0
	for id, job := range m.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			scans[job.ScanID] = struct{}{}
			delete(m.jobs, id)
			n++
		}
	}
	for _, job := range m.jobs {
		delete(scans, job.ScanID)
	}
	m.mu.Unlock()

	for id := range scans {
		if err := m.store.Delete(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warnf("cleanup scan %s: %v", id, err)
		}
	}
	return n
}
