package scene

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// OverlayColor is the slate grey used for status text.
var OverlayColor = color.RGBA{R: 0x94, G: 0xa3, B: 0xb8, A: 0xff}

// DrawCenteredText writes text centred in img.
func DrawCenteredText(img *image.RGBA, text string, c color.Color) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
	}
	width := d.MeasureString(text).Round()
	b := img.Bounds()
	x := b.Min.X + (b.Dx()-width)/2
	y := b.Min.Y + (b.Dy()+face.Ascent-face.Descent)/2
	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}

// TextFrame returns a background-filled frame showing a single message.
func TextFrame(size image.Point, bg color.RGBA, text string) *image.RGBA {
	img := image.NewRGBA(image.Rectangle{Max: size})
	fill(img, bg)
	DrawCenteredText(img, text, OverlayColor)
	return img
}
