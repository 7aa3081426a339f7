package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spartis/scanviewer/internal/models"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidName = errors.New("invalid file name")
)

// Store keeps received scans and the meshes produced from them.
type Store interface {
	SaveScan(name string, r io.Reader) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	List(kind models.FileKind, limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	GetFilePath(id string) (string, error)
	SetStatus(id string, status string) error
	OutputPath(name string) (string, error)
	RegisterOutput(name string) (*models.FileInfo, error)
	OpenOutput(name string) (*os.File, *models.FileInfo, error)
}

// LocalStore implements Store using the local filesystem. Scans are stored
// under a generated id; outputs keep their name so they can be served by it.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	outputDir string
	files     map[string]*models.FileInfo
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(uploadDir, outputDir string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	return &LocalStore{
		uploadDir: uploadDir,
		outputDir: outputDir,
		files:     make(map[string]*models.FileInfo),
	}, nil
}

// SaveScan writes an uploaded scan to disk.
func (s *LocalStore) SaveScan(name string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		Kind:       models.FileKindScan,
		Size:       size,
		UploadedAt: time.Now(),
		Status:     "uploaded",
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = info

	return info, nil
}

// Get retrieves file metadata by ID. Outputs are keyed by their name.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *info
	return &cp, nil
}

// List returns the most recent files of a kind; an empty kind lists all.
func (s *LocalStore) List(kind models.FileKind, limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*models.FileInfo
	for _, info := range s.files {
		if kind != "" && info.Kind != kind {
			continue
		}
		cp := *info
		list = append(list, &cp)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	return list, nil
}

// Delete removes a file from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := os.Remove(s.pathLocked(info)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}

	delete(s.files, id)
	return nil
}

// GetFilePath returns the path of a stored file.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.pathLocked(info), nil
}

// SetStatus updates the processing status recorded for a file.
func (s *LocalStore) SetStatus(id string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	info.Status = status
	return nil
}

// OutputPath returns where an output called name is written. name must be
// a plain file name.
func (s *LocalStore) OutputPath(name string) (string, error) {
	if err := ValidateOutputName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.outputDir, name), nil
}

// RegisterOutput records a file already written at OutputPath(name).
func (s *LocalStore) RegisterOutput(name string) (*models.FileInfo, error) {
	path, err := s.OutputPath(name)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat output: %w", err)
	}

	info := &models.FileInfo{
		ID:         name,
		Name:       name,
		Kind:       models.FileKindMesh,
		Size:       st.Size(),
		UploadedAt: time.Now(),
		Status:     "processed",
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = info
	cp := *info
	return &cp, nil
}

// OpenOutput opens an output for reading. Files present in the output
// directory but not registered (e.g. from a previous run) are served too.
func (s *LocalStore) OpenOutput(name string) (*os.File, *models.FileInfo, error) {
	path, err := s.OutputPath(name)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, nil, fmt.Errorf("opening output: %w", err)
	}
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	s.mu.RLock()
	info, ok := s.files[name]
	s.mu.RUnlock()
	if ok {
		cp := *info
		return f, &cp, nil
	}
	return f, &models.FileInfo{
		ID:         name,
		Name:       name,
		Kind:       models.FileKindMesh,
		Size:       st.Size(),
		UploadedAt: st.ModTime(),
		Status:     "processed",
	}, nil
}

func (s *LocalStore) pathLocked(info *models.FileInfo) string {
	if info.Kind == models.FileKindMesh {
		return filepath.Join(s.outputDir, info.ID)
	}
	return filepath.Join(s.uploadDir, info.ID)
}

// ValidateOutputName rejects anything that is not a plain file name.
func ValidateOutputName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
