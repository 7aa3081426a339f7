package models

const (
	FilterMin     = 50
	FilterMax     = 150
	FilterDefault = 100
)

// ViewerSession is the state of one mounted viewer.
type ViewerSession struct {
	File       string `json:"file,omitempty"`
	MeshURL    string `json:"meshUrl,omitempty"`
	Brightness int    `json:"brightness"`
	Contrast   int    `json:"contrast"`
}

// NewViewerSession creates a session with neutral filter values.
func NewViewerSession(file, meshURL string) *ViewerSession {
	return &ViewerSession{
		File:       file,
		MeshURL:    meshURL,
		Brightness: FilterDefault,
		Contrast:   FilterDefault,
	}
}

// HasMesh reports whether the session has something to fetch.
func (s ViewerSession) HasMesh() bool {
	return s.MeshURL != ""
}

// ClampFilter bounds a slider value to the supported range.
func ClampFilter(v int) int {
	if v < FilterMin {
		return FilterMin
	}
	if v > FilterMax {
		return FilterMax
	}
	return v
}

// MeshStats summarizes a loaded geometry.
type MeshStats struct {
	Name      string     `json:"name"`
	Vertices  int        `json:"vertices"`
	Triangles int        `json:"triangles"`
	Min       [3]float64 `json:"min"`
	Max       [3]float64 `json:"max"`
}
