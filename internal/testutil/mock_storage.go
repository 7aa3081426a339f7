// mock_storage.go - Mock storage implementation for testing
package testutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/spartis/scanviewer/internal/models"
	"github.com/spartis/scanviewer/internal/storage"
)

// MockStorage implements storage.Store for testing. Scans live in memory
// and are written to disk only when a path is asked for; outputs live in a
// temporary directory so pipelines can write them.
type MockStorage struct {
	mu        sync.RWMutex
	dir       string
	files     map[string]*models.FileInfo
	fileData  map[string][]byte
	saveErr   error
	statusLog []string
}

// NewMockStorage creates a mock storage rooted in a test temp directory.
func NewMockStorage(t testing.TB) *MockStorage {
	t.Helper()
	return &MockStorage{
		dir:      t.TempDir(),
		files:    make(map[string]*models.FileInfo),
		fileData: make(map[string][]byte),
	}
}

// FailSaves makes every SaveScan return err.
func (m *MockStorage) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func (m *MockStorage) SaveScan(name string, r io.Reader) (*models.FileInfo, error) {
	m.mu.RLock()
	saveErr := m.saveErr
	m.mu.RUnlock()
	if saveErr != nil {
		return nil, saveErr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return m.AddFile(generateTestID(), name, data), nil
}

func (m *MockStorage) Get(id string) (*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	cp := *file
	return &cp, nil
}

func (m *MockStorage) List(kind models.FileKind, limit int) ([]*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var files []*models.FileInfo
	for _, file := range m.files {
		if kind != "" && file.Kind != kind {
			continue
		}
		cp := *file
		files = append(files, &cp)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, exists := m.files[id]
	if !exists {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if file.Kind == models.FileKindMesh {
		os.Remove(filepath.Join(m.dir, id))
	}
	delete(m.files, id)
	delete(m.fileData, id)
	return nil
}

// GetFilePath writes the scan to disk on first use and returns its path.
func (m *MockStorage) GetFilePath(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.fileData[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	path := filepath.Join(m.dir, "scan-"+id)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

func (m *MockStorage) SetStatus(id string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, ok := m.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	file.Status = status
	m.statusLog = append(m.statusLog, id+"="+status)
	return nil
}

func (m *MockStorage) OutputPath(name string) (string, error) {
	if err := storage.ValidateOutputName(name); err != nil {
		return "", err
	}
	return filepath.Join(m.dir, name), nil
}

func (m *MockStorage) RegisterOutput(name string) (*models.FileInfo, error) {
	path, err := m.OutputPath(name)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	file := &models.FileInfo{
		ID:         name,
		Name:       name,
		Kind:       models.FileKindMesh,
		Size:       st.Size(),
		UploadedAt: time.Now(),
		Status:     "processed",
	}
	m.files[name] = file
	cp := *file
	return &cp, nil
}

func (m *MockStorage) OpenOutput(name string) (*os.File, *models.FileInfo, error) {
	info, err := m.Get(name)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(filepath.Join(m.dir, name))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", storage.ErrNotFound, name)
	}
	return f, info, nil
}

// Ensure MockStorage implements storage.Store
var _ storage.Store = (*MockStorage)(nil)

// Test Helper Methods

// AddFile adds a scan directly to the mock
func (m *MockStorage) AddFile(id string, name string, data []byte) *models.FileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	file := &models.FileInfo{
		ID:         id,
		Name:       name,
		Kind:       models.FileKindScan,
		Size:       int64(len(data)),
		UploadedAt: time.Now(),
		Status:     "uploaded",
	}
	m.files[id] = file
	m.fileData[id] = data
	cp := *file
	return &cp
}

// StatusLog returns every status change as "id=status", in order.
func (m *MockStorage) StatusLog() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.statusLog...)
}

// GetFileCount returns the number of stored files
func (m *MockStorage) GetFileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

// generateTestID generates a simple test ID
var testIDCounter int
var testIDMutex sync.Mutex

func generateTestID() string {
	testIDMutex.Lock()
	defer testIDMutex.Unlock()
	testIDCounter++
	return fmt.Sprintf("test-id-%d", testIDCounter)
}
