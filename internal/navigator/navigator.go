// Package navigator defines the URL contract between the upload flow and the
// viewer: the upload side produces /viewer?file=<name>, the viewer side parses it
// back and resolves the name into a fetchable mesh URL.
package navigator

import (
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// ViewerPath is the route the viewer is mounted on.
	ViewerPath = "/viewer"
	// FileParam carries the produced mesh filename.
	FileParam = "file"
	// LegacyURLParam carries a full mesh URL (older share links).
	LegacyURLParam = "url"
	// DefaultOutputsBase is where the backend serves produced meshes.
	DefaultOutputsBase = "/api/outputs/"
)

// Navigator performs the hand-off to the viewer.
type Navigator interface {
	Navigate(target string) error
}

// Func adapts a function to the Navigator interface.
type Func func(target string) error

// Navigate calls f(target).
func (f Func) Navigate(target string) error { return f(target) }

// ViewerURL builds the viewer location for a produced mesh.
func ViewerURL(filename string) string {
	return ViewerPath + "?" + FileParam + "=" + url.QueryEscape(filename)
}

// FileFromQuery extracts the mesh reference from a viewer location. It accepts a
// full URL, a path with query, or a bare query string. The second result is false
// when no reference is present, which is not an error.
func FileFromQuery(location string) (string, bool) {
	raw := location
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		// Hash-routed locations carry the route after the fragment marker.
		frag := raw[i+1:]
		if strings.Contains(frag, "?") {
			raw = frag
		} else {
			raw = raw[:i]
		}
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[i+1:]
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "", false
	}
	if file := strings.TrimSpace(values.Get(FileParam)); file != "" {
		return file, true
	}
	if legacy := strings.TrimSpace(values.Get(LegacyURLParam)); legacy != "" {
		return legacy, true
	}
	return "", false
}

// Resolver turns a mesh filename into a URL the mesh loader can fetch.
type Resolver struct {
	// Base is prepended to bare filenames. It may be an absolute URL or a path.
	Base string
	// Dir, when set, resolves bare filenames to files in that directory
	// instead of URLs under Base.
	Dir string
}

// Resolve returns the fetchable URL for ref. Absolute URLs and file paths pass
// through unchanged.
func (r Resolver) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty mesh reference")
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Host != "" {
		return ref, nil
	}
	if strings.HasPrefix(ref, "file://") || strings.HasPrefix(ref, "/") {
		return ref, nil
	}
	if r.Dir != "" {
		return filepath.Join(r.Dir, ref), nil
	}
	base := r.Base
	if base == "" {
		base = DefaultOutputsBase
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + url.PathEscape(ref), nil
}

// Printer writes the target location, optionally joined to a public base URL.
type Printer struct {
	W    io.Writer
	Base string
}

// Navigate prints the absolute viewer location.
func (p Printer) Navigate(target string) error {
	_, err := fmt.Fprintln(p.W, strings.TrimSuffix(p.Base, "/")+target)
	return err
}

// Recorder remembers every navigation it receives.
type Recorder struct {
	mu      sync.Mutex
	targets []string
}

// Navigate records target.
func (r *Recorder) Navigate(target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
	return nil
}

// Targets returns a copy of the recorded navigations.
func (r *Recorder) Targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.targets...)
}
