package main

import (
	"os"

	"github.com/spartis/scanviewer/internal/mesh"
	"github.com/spartis/scanviewer/internal/navigator"
)

// meshRef returns what the loader should fetch for a command argument: an
// existing local file as is, anything else resolved against the backend's
// outputs.
func meshRef(arg string) (string, error) {
	if st, err := os.Stat(arg); err == nil && !st.IsDir() {
		return arg, nil
	}
	return navigator.Resolver{}.Resolve(arg)
}

func newMeshLoader(backend string) *mesh.Loader {
	return mesh.NewLoader(nil, mesh.WithBaseURL(backend))
}
