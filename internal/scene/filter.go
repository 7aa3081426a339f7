package scene

import (
	"image"
	"math"

	"github.com/spartis/scanviewer/internal/models"
)

// Filter is a brightness/contrast post-process in percent, with CSS filter
// semantics: brightness scales, contrast stretches around mid grey.
type Filter struct {
	Brightness int
	Contrast   int
}

// NeutralFilter leaves frames untouched.
func NeutralFilter() Filter {
	return Filter{Brightness: models.FilterDefault, Contrast: models.FilterDefault}
}

// Clamped bounds both values to the slider range.
func (f Filter) Clamped() Filter {
	return Filter{Brightness: models.ClampFilter(f.Brightness), Contrast: models.ClampFilter(f.Contrast)}
}

// IsNeutral reports whether applying f is a no-op.
func (f Filter) IsNeutral() bool {
	return f.Brightness == 100 && f.Contrast == 100
}

// Apply returns a filtered copy of src. src is never modified.
func (f Filter) Apply(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	if f.IsNeutral() {
		return dst
	}

	var lut [256]uint8
	b := float64(f.Brightness) / 100
	c := float64(f.Contrast) / 100
	for i := range lut {
		v := float64(i) / 255 * b
		v = (v-0.5)*c + 0.5
		lut[i] = uint8(math.Round(clamp01(v) * 255))
	}
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i+0] = lut[dst.Pix[i+0]]
		dst.Pix[i+1] = lut[dst.Pix[i+1]]
		dst.Pix[i+2] = lut[dst.Pix[i+2]]
	}
	return dst
}
