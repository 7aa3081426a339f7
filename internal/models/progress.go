package models

// ProcessState is the explicit processing state a backend may report
// alongside the free-text step.
type ProcessState string

const (
	ProcessStatePending  ProcessState = "pending"
	ProcessStateRunning  ProcessState = "running"
	ProcessStateComplete ProcessState = "complete"
	ProcessStateFailed   ProcessState = "failed"
)

// ProgressReport is the body of GET /api/progress/{file_id}.
type ProgressReport struct {
	Progress int          `json:"progress"`
	Step     string       `json:"step"`
	Filename string       `json:"filename,omitempty"`
	Status   ProcessState `json:"status,omitempty"`
}

// PendingReport is returned for jobs the backend has no record of yet.
func PendingReport() ProgressReport {
	return ProgressReport{Step: "Pending", Progress: 0, Status: ProcessStatePending}
}

// ProcessResponse is the body of a successful POST /api/process-nifti.
type ProcessResponse struct {
	Message string `json:"message"`
	FileID  string `json:"file_id"`
}

// Terminal reports whether no further updates will follow.
func (s ProcessState) Terminal() bool {
	return s == ProcessStateComplete || s == ProcessStateFailed
}
