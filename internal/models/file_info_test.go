package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsScanName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"brain.nii.gz", true},
		{"my scan.nii.gz", true},
		{"brain.nii", false},
		{"brain.nii.gz.txt", false},
		{"brain.NII.GZ", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsScanName(tt.name))
		})
	}
}
