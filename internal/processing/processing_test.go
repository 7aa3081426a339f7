package processing

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spartis/scanviewer/internal/mesh"
	"github.com/spartis/scanviewer/internal/models"
	"github.com/spartis/scanviewer/internal/storage"
	"github.com/spartis/scanviewer/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// niftiHeader builds a little-endian NIfTI-1 header for a volume of the
// given shape and voxel spacing.
func niftiHeader(dims [3]int16, spacing [3]float32) []byte {
	h := make([]byte, 352)
	binary.LittleEndian.PutUint32(h[0:], 348)
	binary.LittleEndian.PutUint16(h[40:], 3)
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint16(h[40+2*(i+1):], uint16(dims[i]))
		binary.LittleEndian.PutUint32(h[76+4*(i+1):], math.Float32bits(spacing[i]))
	}
	copy(h[344:], "n+1\x00")
	return h
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeScan(t *testing.T, dir string) string {
	t.Helper()
	payload := append(niftiHeader([3]int16{64, 32, 10}, [3]float32{0.5, 1, -2}), make([]byte, 4096)...)
	path := filepath.Join(dir, "scan.nii.gz")
	require.NoError(t, os.WriteFile(path, gzipBytes(t, payload), 0o644))
	return path
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	_, ok, err := s.Get(ctx, "job")
	require.NoError(t, err)
	assert.False(t, ok)

	want := models.ProgressReport{Progress: 40, Step: "Segmenting", Status: models.ProcessStateRunning}
	require.NoError(t, s.Set(ctx, "job", want))
	got, ok, err := s.Get(ctx, "job")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	now = now.Add(2 * time.Minute)
	_, ok, _ = s.Get(ctx, "job")
	assert.False(t, ok, "expired entries are invisible")
	assert.Equal(t, 1, s.Cleanup())

	require.NoError(t, s.Set(ctx, "other", want))
	require.NoError(t, s.Delete(ctx, "other"))
	_, ok, _ = s.Get(ctx, "other")
	assert.False(t, ok)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, RedisOptions{Addr: addr, Password: os.Getenv("REDIS_PASSWORD"), KeyPrefix: "scanviewer-test:"})
	require.NoError(t, err)
	defer s.Close()

	want := models.ProgressReport{Progress: 100, Step: "Done", Filename: "abc123.stl", Status: models.ProcessStateComplete}
	require.NoError(t, s.Set(ctx, "abc123", want))
	got, ok, err := s.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, s.Delete(ctx, "abc123"))
	_, ok, err = s.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		line string
		pct  int
		step string
		ok   bool
	}{
		{"PROGRESS 40 Segmenting", 40, "Segmenting", true},
		{"PROGRESS 12.7 Smoothing surface", 12, "Smoothing surface", true},
		{"PROGRESS 140 Done", 100, "Done", true},
		{"PROGRESS -3", 0, "", true},
		{"PROGRESS abc Step", 0, "", false},
		{"progress 10 lower case", 0, "", false},
		{"loading model", 0, "", false},
		{"", 0, "", false},
	}
	for _, tt := range tests {
		pct, step, ok := ParseProgressLine(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.pct, pct, tt.line)
		assert.Equal(t, tt.step, step, tt.line)
	}
}

func TestParseNIfTIExtent(t *testing.T) {
	ext, err := parseNIfTIExtent(niftiHeader([3]int16{64, 32, 10}, [3]float32{0.5, 1, -2}))
	require.NoError(t, err)
	assert.InDelta(t, 32, ext.X, 1e-9)
	assert.InDelta(t, 32, ext.Y, 1e-9)
	assert.InDelta(t, 20, ext.Z, 1e-9, "negative spacing is a flip, not a size")

	ext, err = parseNIfTIExtent(niftiHeader([3]int16{8, 0, 4}, [3]float32{0, 1, 1}))
	require.NoError(t, err)
	assert.Equal(t, 8.0, ext.X, "zero spacing defaults to 1")
	assert.Equal(t, 1.0, ext.Y, "zero dimension defaults to 1")

	_, err = parseNIfTIExtent([]byte("not a header"))
	assert.ErrorIs(t, err, errNotNIfTI)
	_, err = parseNIfTIExtent(make([]byte, 400))
	assert.ErrorIs(t, err, errNotNIfTI)
}

func TestBoundsPipeline(t *testing.T) {
	dir := t.TempDir()
	scan := writeScan(t, dir)
	out := filepath.Join(dir, "out.stl")

	var steps []string
	var last int
	err := BoundsPipeline{}.Run(context.Background(), scan, out, func(p int, step string) {
		assert.GreaterOrEqual(t, p, last)
		last = p
		steps = append(steps, step)
	})
	require.NoError(t, err)
	assert.Contains(t, steps, "Writing mesh")

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	g, err := mesh.ReadSTL(f)
	require.NoError(t, err)
	size := g.BoundingBox().Size()
	assert.InDelta(t, 32, size.X, 1e-4)
	assert.InDelta(t, 32, size.Y, 1e-4)
	assert.InDelta(t, 20, size.Z, 1e-4)
}

func TestBoundsPipelineRejectsNonGzip(t *testing.T) {
	dir := t.TempDir()
	scan := filepath.Join(dir, "scan.nii.gz")
	require.NoError(t, os.WriteFile(scan, niftiHeader([3]int16{1, 1, 1}, [3]float32{1, 1, 1}), 0o644))

	err := BoundsPipeline{}.Run(context.Background(), scan, filepath.Join(dir, "out.stl"), func(int, string) {})
	assert.Error(t, err)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandPipeline(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out.stl")
	require.NoError(t, os.WriteFile(in, []byte("mesh"), 0o644))

	p := &CommandPipeline{Command: "sh", Args: []string{"-c", `echo "PROGRESS 40 Segmenting"; echo chatter; cp "$0" "$1"`, "{input}", "{output}"}}
	var got []string
	err := p.Run(context.Background(), in, out, func(pct int, step string) {
		got = append(got, step)
		assert.Equal(t, 40, pct)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Segmenting"}, got)
	data, _ := os.ReadFile(out)
	assert.Equal(t, "mesh", string(data))
}

func TestCommandPipelineFailure(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()

	p := &CommandPipeline{Command: "sh", Args: []string{"-c", "echo starting >&2; echo out of memory >&2; exit 3"}}
	err := p.Run(context.Background(), filepath.Join(dir, "in"), filepath.Join(dir, "out.stl"), func(int, string) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")

	p = &CommandPipeline{Command: "sh", Args: []string{"-c", "true"}}
	err = p.Run(context.Background(), "in", filepath.Join(dir, "none.stl"), func(int, string) {})
	assert.ErrorContains(t, err, "produced no mesh")
}

func TestParseCommand(t *testing.T) {
	p, err := ParseCommand("python3 convert.py {input} {output}")
	require.NoError(t, err)
	assert.Equal(t, "python3", p.Command)
	assert.Equal(t, []string{"convert.py", "{input}", "{output}"}, p.Args)

	_, err = ParseCommand("   ")
	assert.Error(t, err)
}

func newTestManager(t *testing.T, pipeline Pipeline) (*Manager, *storage.LocalStore) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStore(filepath.Join(dir, "uploads"), filepath.Join(dir, "outputs"))
	require.NoError(t, err)
	m := NewManager(store, NewMemoryStore(0), pipeline)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, store
}

func waitTerminal(t *testing.T, m *Manager, id string) models.ProgressReport {
	t.Helper()
	var report models.ProgressReport
	require.Eventually(t, func() bool {
		r, err := m.Progress(context.Background(), id)
		if err != nil {
			return false
		}
		report = r
		return r.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return report
}

func TestManagerProcessesScan(t *testing.T) {
	m, store := newTestManager(t, nil)
	dir := t.TempDir()
	data, err := os.ReadFile(writeScan(t, dir))
	require.NoError(t, err)
	scan, err := store.SaveScan("scan.nii.gz", bytes.NewReader(data))
	require.NoError(t, err)

	job := m.StartJob(scan)
	report := waitTerminal(t, m, job.ID)

	assert.Equal(t, models.ProcessStateComplete, report.Status)
	assert.Equal(t, 100, report.Progress)
	assert.Equal(t, StepDone, report.Step)
	assert.Equal(t, job.ID+".stl", report.Filename)

	f, info, err := store.OpenOutput(report.Filename)
	require.NoError(t, err)
	f.Close()
	assert.Equal(t, models.FileKindMesh, info.Kind)

	saved, _ := store.Get(scan.ID)
	assert.Equal(t, "processed", saved.Status)

	got, ok := m.GetJob(job.ID)
	require.True(t, ok)
	assert.NotNil(t, got.CompletedAt)
}

type failingPipeline struct{ err error }

func (failingPipeline) Name() string { return "failing" }

func (p failingPipeline) Run(ctx context.Context, in, out string, report ReportFunc) error {
	report(10, "Segmenting")
	return p.err
}

func TestManagerReportsFailure(t *testing.T) {
	m, store := newTestManager(t, failingPipeline{err: errors.New("out of memory")})
	scan, err := store.SaveScan("scan.nii.gz", strings.NewReader("x"))
	require.NoError(t, err)

	job := m.StartJob(scan)
	report := waitTerminal(t, m, job.ID)

	assert.Equal(t, models.ProcessStateFailed, report.Status)
	assert.Equal(t, "Processing failed: out of memory", report.Step)
	assert.Empty(t, report.Filename)
	assert.Equal(t, 10, report.Progress)
}

func TestManagerRecordsScanStatus(t *testing.T) {
	store := testutil.NewMockStorage(t)
	m := NewManager(store, NewMemoryStore(0), failingPipeline{err: errors.New("bad volume")})
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	scan := store.AddFile("scan-1", "scan.nii.gz", []byte("x"))
	job := m.StartJob(scan)
	waitTerminal(t, m, job.ID)

	assert.Equal(t, []string{"scan-1=processing", "scan-1=error"}, store.StatusLog())
}

func TestManagerUnknownJobIsPending(t *testing.T) {
	m, _ := newTestManager(t, nil)
	report, err := m.Progress(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, "Pending", report.Step)
	assert.Equal(t, 0, report.Progress)
}

type blockingPipeline struct {
	started chan struct{}
	once    sync.Once
}

func (*blockingPipeline) Name() string { return "blocking" }

func (p *blockingPipeline) Run(ctx context.Context, in, out string, report ReportFunc) error {
	p.once.Do(func() { close(p.started) })
	<-ctx.Done()
	return ctx.Err()
}

func TestManagerShutdownCancelsJobs(t *testing.T) {
	p := &blockingPipeline{started: make(chan struct{})}
	m, store := newTestManager(t, p)
	scan, _ := store.SaveScan("scan.nii.gz", strings.NewReader("x"))
	job := m.StartJob(scan)
	<-p.started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	report, _ := m.Progress(context.Background(), job.ID)
	assert.Equal(t, models.ProcessStateFailed, report.Status)
}

func TestCleanupOldJobs(t *testing.T) {
	m, store := newTestManager(t, failingPipeline{err: errors.New("x")})
	scan, _ := store.SaveScan("scan.nii.gz", strings.NewReader("x"))
	job := m.StartJob(scan)
	waitTerminal(t, m, job.ID)

	scanPath, err := store.GetFilePath(scan.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, m.CleanupOldJobs(time.Hour))
	assert.Equal(t, 1, m.CleanupOldJobs(-time.Second))
	_, ok := m.GetJob(job.ID)
	assert.False(t, ok)

	_, err = store.Get(scan.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoFileExists(t, scanPath)
}

// stepPipeline reports many small steps, then writes an empty output.
type stepPipeline struct{ steps int }

func (stepPipeline) Name() string { return "steps" }

func (p stepPipeline) Run(ctx context.Context, in, out string, report ReportFunc) error {
	for i := 0; i < p.steps; i++ {
		report(i*100/p.steps, fmt.Sprintf("Step %d", i))
	}
	return os.WriteFile(out, nil, 0o644)
}

func TestStartJobConcurrentWithProgress(t *testing.T) {
	m, store := newTestManager(t, stepPipeline{steps: 50})
	scan, err := store.SaveScan("scan.nii.gz", strings.NewReader("x"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	jobs := make(chan *Job, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := m.StartJob(scan)
			jobs <- job
			for j := 0; j < 20; j++ {
				m.GetJob(job.ID)
			}
		}()
	}
	wg.Wait()
	close(jobs)

	for job := range jobs {
		assert.Equal(t, scan.ID, job.ScanID)
		assert.NotEmpty(t, job.Step)
		report := waitTerminal(t, m, job.ID)
		assert.Equal(t, models.ProcessStateComplete, report.Status)
	}
}
