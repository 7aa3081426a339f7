package models

import (
	"strings"
	"time"
)

// FileKind distinguishes uploaded scans from produced meshes.
type FileKind string

const (
	FileKindScan FileKind = "scan"
	FileKindMesh FileKind = "mesh"
)

// ScanExtension is the only accepted scan format.
const ScanExtension = ".nii.gz"

// MsgInvalidExtension is shown to the operator when a file is rejected by
// IsScanName.
const MsgInvalidExtension = "Only .nii.gz files are supported."

// IsScanName reports whether name carries the scan extension.
func IsScanName(name string) bool {
	return strings.HasSuffix(name, ScanExtension)
}

// FileInfo represents metadata about a stored file.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       FileKind  `json:"kind"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Status     string    `json:"status"` // "uploaded", "processing", "processed", "error"
}
