// Package geometry enforces exact output aspect ratios on generated images.
// The model frequently returns near-miss geometry (21:9 instead of 3:1, odd
// pixel counts); everything here is a pure transform that fixes that without
// stretching the content.
package geometry

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"

	"github.com/karwadev/bannerbot/internal/models"
)

// Tolerance for "already correct": 0.5% relative error on the ratio.
const ratioTolerance = 0.005

// Policy selects how a wrong-ratio image is brought to target. The two are
// mutually exclusive per call-site: enhancement flows extend the canvas so
// nothing the model painted is lost, ascii/generate flows center-crop.
type Policy int

const (
	PolicyCrop Policy = iota
	PolicyExtend
)

var (
	ErrInvalidImage  = errors.New("invalid image")
	ErrInputTooSmall = errors.New("input too small for target ratio")
)

type Corrector struct {
	maxMagnification float64
}

// New builds a corrector. maxMagnification caps how far a small input may be
// upscaled toward the canonical output size before we refuse rather than
// deliver mush.
func New(maxMagnification float64) *Corrector {
	return &Corrector{maxMagnification: maxMagnification}
}

// CorrectBytes decodes, corrects and re-encodes as PNG.
func (c *Corrector) CorrectBytes(data []byte, target models.AspectTarget, policy Policy) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidImage, err)
	}
	out, err := c.Correct(img, target, policy)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	dc := gg.NewContextForImage(out)
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Correct returns an image whose width/height is within ratioTolerance of the
// target. Inputs already within tolerance come back unchanged, which makes
// the transform idempotent. Otherwise the image is cropped or extended to the
// exact ratio, then normalized to the target's canonical resolution.
func (c *Corrector) Correct(img image.Image, target models.AspectTarget, policy Policy) (image.Image, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unsupported target %q", ErrInvalidImage, target)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: zero dimension %dx%d", ErrInvalidImage, w, h)
	}

	want := target.Ratio()
	if ratioError(w, h, want) <= ratioTolerance {
		return img, nil
	}

	var shaped image.Image
	current := float64(w) / float64(h)
	switch {
	case current < want && policy == PolicyCrop:
		// Too tall: trim rows top and bottom equally.
		cw, ch := snapDims(w, int(math.Round(float64(w)/want)), want)
		shaped = cropCenter(img, cw, ch)
	case current < want:
		// Too tall: widen the canvas around the centered content.
		cw, ch := snapDims(int(math.Round(float64(h)*want)), h, want)
		shaped = extendCanvas(img, cw, ch)
	case policy == PolicyCrop:
		// Too wide: trim columns left and right equally.
		cw, ch := snapDims(int(math.Round(float64(h)*want)), h, want)
		shaped = cropCenter(img, cw, ch)
	default:
		// Too wide: add rows above and below.
		cw, ch := snapDims(w, int(math.Round(float64(w)/want)), want)
		shaped = extendCanvas(img, cw, ch)
	}

	return c.normalize(shaped, target)
}

// normalize scales the exact-ratio image to the canonical output resolution,
// refusing when that would magnify beyond the configured limit.
func (c *Corrector) normalize(img image.Image, target models.AspectTarget) (image.Image, error) {
	cw, ch := target.CanonicalSize()
	b := img.Bounds()
	if b.Dx() == cw && b.Dy() == ch {
		return img, nil
	}
	if float64(cw) > float64(b.Dx())*c.maxMagnification {
		return nil, fmt.Errorf("%w: %dx%d toward %dx%d exceeds %.1fx magnification",
			ErrInputTooSmall, b.Dx(), b.Dy(), cw, ch, c.maxMagnification)
	}
	dst := image.NewRGBA(image.Rect(0, 0, cw, ch))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst, nil
}

// snapDims resolves integer rounding: if (w,h) misses the target ratio, the
// larger dimension is trimmed by at most 1px. Trimming the larger side keeps
// the relative error small.
func snapDims(w, h int, want float64) (int, int) {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	bestW, bestH := w, h
	bestErr := ratioError(w, h, want)
	if w >= h && w > 1 {
		if e := ratioError(w-1, h, want); e < bestErr {
			bestW, bestH, bestErr = w-1, h, e
		}
	} else if h > 1 {
		if e := ratioError(w, h-1, want); e < bestErr {
			bestW, bestH = w, h-1
		}
	}
	return bestW, bestH
}

func ratioError(w, h int, want float64) float64 {
	return math.Abs(float64(w)/float64(h)/want - 1)
}

// cropCenter keeps a cw x ch window centered on the source.
func cropCenter(img image.Image, cw, ch int) image.Image {
	b := img.Bounds()
	x0 := b.Min.X + (b.Dx()-cw)/2
	y0 := b.Min.Y + (b.Dy()-ch)/2

	rect := image.Rect(0, 0, cw, ch)
	out := image.NewRGBA(rect)
	draw.Draw(out, rect, img, image.Point{X: x0, Y: y0}, draw.Src)
	return out
}

// extendCanvas places the source centered on a larger canvas filled with the
// image's dominant edge color, so letterbox margins blend with the content.
func extendCanvas(img image.Image, cw, ch int) image.Image {
	b := img.Bounds()
	fill := dominantEdgeColor(img)

	dc := gg.NewContext(cw, ch)
	dc.SetColor(fill)
	dc.Clear()
	dc.DrawImage(img, (cw-b.Dx())/2, (ch-b.Dy())/2)
	return dc.Image()
}

// dominantEdgeColor averages the 1px border of the image.
func dominantEdgeColor(img image.Image) color.Color {
	b := img.Bounds()
	var r, g, bl, n uint64
	sample := func(x, y int) {
		cr, cg, cb, _ := img.At(x, y).RGBA()
		r += uint64(cr >> 8)
		g += uint64(cg >> 8)
		bl += uint64(cb >> 8)
		n++
	}
	for x := b.Min.X; x < b.Max.X; x++ {
		sample(x, b.Min.Y)
		sample(x, b.Max.Y-1)
	}
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		sample(b.Min.X, y)
		sample(b.Max.X-1, y)
	}
	if n == 0 {
		return color.Black
	}
	return color.RGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(bl / n), A: 255}
}
