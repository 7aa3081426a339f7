package navigator

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewerURL(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"plain", "abc123.stl", "/viewer?file=abc123.stl"},
		{"spaces", "my scan.stl", "/viewer?file=my+scan.stl"},
		{"reserved", "a&b=c.stl", "/viewer?file=a%26b%3Dc.stl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ViewerURL(tt.filename))
		})
	}
}

func TestFileFromQueryRoundTrip(t *testing.T) {
	for _, name := range []string{"abc123.stl", "my scan.stl", "a&b=c.stl", "ünï.stl"} {
		got, ok := FileFromQuery(ViewerURL(name))
		require.True(t, ok, name)
		assert.Equal(t, name, got)
	}
}

func TestFileFromQuery(t *testing.T) {
	tests := []struct {
		name     string
		location string
		want     string
		wantOK   bool
	}{
		{"absolute", "http://localhost:8089/viewer?file=x.stl", "x.stl", true},
		{"hash routed", "http://localhost:8089/#/viewer?file=x.stl", "x.stl", true},
		{"bare query", "file=x.stl", "x.stl", true},
		{"legacy url param", "/viewer?url=http%3A%2F%2Fcdn%2Fm.stl", "http://cdn/m.stl", true},
		{"missing", "/viewer", "", false},
		{"empty value", "/viewer?file=", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FileFromQuery(tt.location)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver(t *testing.T) {
	r := Resolver{}
	got, err := r.Resolve("abc123.stl")
	require.NoError(t, err)
	assert.Equal(t, "/api/outputs/abc123.stl", got)

	r = Resolver{Base: "http://backend:8000/api/outputs"}
	got, err = r.Resolve("my scan.stl")
	require.NoError(t, err)
	assert.Equal(t, "http://backend:8000/api/outputs/my%20scan.stl", got)

	got, err = r.Resolve("https://cdn.example.com/m.stl")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/m.stl", got)

	_, err = r.Resolve("")
	assert.Error(t, err)

	dir := t.TempDir()
	r = Resolver{Base: "http://backend:8000/api/outputs", Dir: dir}
	got, err = r.Resolve("my scan.stl")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "my scan.stl"), got)

	got, err = r.Resolve("http://other/m.stl")
	require.NoError(t, err)
	assert.Equal(t, "http://other/m.stl", got)
}

func TestPrinterAndRecorder(t *testing.T) {
	var buf bytes.Buffer
	p := Printer{W: &buf, Base: "http://localhost:8089/"}
	require.NoError(t, p.Navigate("/viewer?file=a.stl"))
	assert.Equal(t, "http://localhost:8089/viewer?file=a.stl\n", buf.String())

	var rec Recorder
	_ = rec.Navigate("one")
	_ = rec.Navigate("two")
	assert.Equal(t, []string{"one", "two"}, rec.Targets())
}
