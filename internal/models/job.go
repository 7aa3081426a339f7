package models

import "io"

// JobStatus represents the client-side state of an upload job.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusUploading JobStatus = "uploading"
	JobStatusPolling   JobStatus = "polling"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Active reports whether an upload or poll cycle is in progress.
func (s JobStatus) Active() bool {
	return s == JobStatusUploading || s == JobStatusPolling
}

// Terminal reports whether the job has finished, successfully or not.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// ScanFile is a local volumetric scan staged for upload.
type ScanFile struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// UploadJob tracks one scan from selection to a produced mesh.
type UploadJob struct {
	File     *ScanFile `json:"-"`
	FileName string    `json:"fileName,omitempty"`
	JobID    string    `json:"jobId,omitempty"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"` // 0-100
	Message  string    `json:"message,omitempty"`
	Result   string    `json:"result,omitempty"` // mesh filename, set only when succeeded
}

// NewUploadJob creates an idle job for the given file.
func NewUploadJob(file *ScanFile) *UploadJob {
	job := &UploadJob{
		File:   file,
		Status: JobStatusIdle,
	}
	if file != nil {
		job.FileName = file.Name
	}
	return job
}
