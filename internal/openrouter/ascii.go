package openrouter

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/karwadev/bannerbot/internal/models"
)

// renderASCII draws the text in a bitmap terminal font on a black canvas at
// the target's canonical size. It is rendered small and upscaled with
// nearest-neighbor so the glyphs keep hard, blocky edges.
func renderASCII(text string, target models.AspectTarget) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("ascii text cannot be empty")
	}

	face := basicfont.Face7x13
	lines := strings.Split(strings.ToUpper(text), "\n")
	lineHeight := face.Height + 2

	textW := 0
	for _, line := range lines {
		if w := len(line) * face.Advance; w > textW {
			textW = w
		}
	}
	textH := lineHeight * len(lines)

	// Small raster with a glyph-sized margin.
	margin := face.Advance * 2
	small := image.NewRGBA(image.Rect(0, 0, textW+2*margin, textH+2*margin))
	d := font.Drawer{
		Dst:  small,
		Src:  image.NewUniform(color.White),
		Face: face,
	}
	for i, line := range lines {
		w := len(line) * face.Advance
		d.Dot = fixed.P(margin+(textW-w)/2, margin+face.Ascent+i*lineHeight)
		d.DrawString(line)
	}

	cw, ch := target.CanonicalSize()
	dc := gg.NewContext(cw, ch)
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	// Fit the text block inside the canvas, preserving its own aspect.
	sb := small.Bounds()
	scale := float64(cw) / float64(sb.Dx())
	if s := float64(ch) / float64(sb.Dy()); s < scale {
		scale = s
	}
	dw := int(float64(sb.Dx()) * scale)
	dh := int(float64(sb.Dy()) * scale)
	x0 := (cw - dw) / 2
	y0 := (ch - dh) / 2

	scaled := image.NewRGBA(image.Rect(0, 0, dw, dh))
	xdraw.NearestNeighbor.Scale(scaled, scaled.Bounds(), small, sb, xdraw.Over, nil)
	dc.DrawImage(scaled, x0, y0)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode ascii png: %w", err)
	}
	return buf.Bytes(), nil
}
