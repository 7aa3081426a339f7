package mesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/spartis/scanviewer/internal/logging"
	"golang.org/x/sync/singleflight"
)

var logger = logging.New("mesh")

// DefaultCacheSize is the number of parsed meshes kept per loader.
const DefaultCacheSize = 8

// ProgressFunc receives the fraction of the resource read so far, in [0, 1].
type ProgressFunc func(fraction float64)

// Loader fetches and parses meshes by URL. Parsed geometry is cached by URL
// and concurrent loads of the same URL share a single fetch. Every caller
// receives its own copy of the geometry.
type Loader struct {
	client  *http.Client
	baseURL string
	maxSize int64

	group singleflight.Group

	mu    sync.Mutex
	cache map[string]*Geometry
	order []string
	size  int
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithBaseURL resolves root-relative URLs such as /api/outputs/x.stl against
// base. Without it they are treated as filesystem paths.
func WithBaseURL(base string) LoaderOption {
	return func(l *Loader) { l.baseURL = strings.TrimSuffix(base, "/") }
}

// WithCacheSize bounds the number of cached meshes. Zero disables caching.
func WithCacheSize(n int) LoaderOption {
	return func(l *Loader) { l.size = n }
}

// WithMaxSize rejects resources larger than n bytes. Zero means unlimited.
func WithMaxSize(n int64) LoaderOption {
	return func(l *Loader) { l.maxSize = n }
}

// NewLoader creates a loader. A nil client uses http.DefaultClient.
func NewLoader(client *http.Client, opts ...LoaderOption) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	l := &Loader{
		client: client,
		cache:  make(map[string]*Geometry),
		size:   DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the normalized geometry at ref. onProgress may be nil; it is
// always called with 1 once the geometry is ready.
func (l *Loader) Load(ctx context.Context, ref string, onProgress ProgressFunc) (*Geometry, error) {
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	if g, ok := l.cached(ref); ok {
		onProgress(1)
		return g.Clone(), nil
	}

	for {
		v, err, shared := l.group.Do(ref, func() (any, error) {
			return l.fetch(ctx, ref, onProgress)
		})
		if err != nil {
			// A shared fetch cancelled by another caller is retried under
			// our own context.
			if shared && ctx.Err() == nil && isContextErr(err) {
				continue
			}
			return nil, err
		}
		g := v.(*Geometry)
		l.store(ref, g)
		onProgress(1)
		return g.Clone(), nil
	}
}

// Evict drops ref from the cache.
func (l *Loader) Evict(ref string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, ref)
	for i, k := range l.order {
		if k == ref {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

func (l *Loader) cached(ref string) (*Geometry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.cache[ref]
	return g, ok
}

func (l *Loader) store(ref string, g *Geometry) {
	if l.size <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cache[ref]; ok {
		return
	}
	l.cache[ref] = g
	l.order = append(l.order, ref)
	for len(l.order) > l.size {
		delete(l.cache, l.order[0])
		l.order = l.order[1:]
	}
}

func (l *Loader) fetch(ctx context.Context, ref string, onProgress ProgressFunc) (*Geometry, error) {
	body, total, err := l.open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	if l.maxSize > 0 && total > l.maxSize {
		return nil, fmt.Errorf("mesh %s is %d bytes, limit is %d", ref, total, l.maxSize)
	}
	var r io.Reader = &progressReader{r: body, total: total, report: onProgress}
	if l.maxSize > 0 {
		r = io.LimitReader(r, l.maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading mesh %s: %w", ref, err)
	}
	if l.maxSize > 0 && int64(len(data)) > l.maxSize {
		return nil, fmt.Errorf("mesh %s exceeds limit of %d bytes", ref, l.maxSize)
	}
	// A load whose owner went away must not produce geometry.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g, err := ParseSTL(data)
	if err != nil {
		return nil, fmt.Errorf("parsing mesh %s: %w", ref, err)
	}
	g.Normalize()
	logger.Infof("loaded %s: %d vertices, %d triangles", ref, len(g.Positions), len(g.Tris))
	return g, nil
}

// open returns the resource body and its length, or -1 if unknown.
func (l *Loader) open(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	target := ref
	if strings.HasPrefix(ref, "/") && l.baseURL != "" {
		target = l.baseURL + ref
	}

	u, err := url.Parse(target)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("building mesh request: %w", err)
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, 0, fmt.Errorf("fetching mesh %s: %w", ref, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, 0, fmt.Errorf("fetching mesh %s: unexpected status %s", ref, resp.Status)
		}
		return resp.Body, resp.ContentLength, nil
	}

	path := target
	if err == nil && u.Scheme == "file" {
		path = u.Path
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening mesh: %w", err)
	}
	total := int64(-1)
	if st, err := f.Stat(); err == nil {
		total = st.Size()
	}
	return f, total, nil
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   float64
	report ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		frac := float64(p.read) / float64(p.total)
		if frac > 1 {
			frac = 1
		}
		// Parsing still follows the last byte, so hold just below done.
		if frac >= 1 {
			frac = 0.99
		}
		if frac-p.last >= 0.01 {
			p.last = frac
			p.report(frac)
		}
	}
	return n, err
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
