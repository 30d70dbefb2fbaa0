package geometry

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karwadev/bannerbot/internal/models"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func ratioOf(img image.Image) float64 {
	b := img.Bounds()
	return float64(b.Dx()) / float64(b.Dy())
}

func TestCorrectReturnsExactRatioInputUnchanged(t *testing.T) {
	c := New(4)
	img := solid(300, 100, color.White)

	out, err := c.Correct(img, models.TargetBanner, PolicyCrop)
	require.NoError(t, err)
	assert.Same(t, image.Image(img), out)
}

func TestCorrectWithinToleranceUnchanged(t *testing.T) {
	c := New(4)
	// 301/100 = 3.01, 0.33% off target, inside the 0.5% tolerance.
	img := solid(301, 100, color.White)

	out, err := c.Correct(img, models.TargetBanner, PolicyCrop)
	require.NoError(t, err)
	b := out.Bounds()
	assert.Equal(t, 301, b.Dx())
	assert.Equal(t, 100, b.Dy())
}

func TestCorrectIsIdempotent(t *testing.T) {
	c := New(4)
	img := solid(1200, 300, color.White)

	once, err := c.Correct(img, models.TargetBanner, PolicyCrop)
	require.NoError(t, err)
	twice, err := c.Correct(once, models.TargetBanner, PolicyCrop)
	require.NoError(t, err)
	assert.Equal(t, once.Bounds(), twice.Bounds())
	assert.Same(t, once, twice)
}

func TestCorrectCropTooWideBanner(t *testing.T) {
	c := New(4)
	// 4:1 input, both policies must land within 0.5% of 3:1.
	img := solid(1200, 300, color.White)

	for _, policy := range []Policy{PolicyCrop, PolicyExtend} {
		out, err := c.Correct(img, models.TargetBanner, policy)
		require.NoError(t, err)
		assert.InDelta(t, 3.0, ratioOf(out), 0.015)
		b := out.Bounds()
		assert.Equal(t, 1500, b.Dx())
		assert.Equal(t, 500, b.Dy())
	}
}

func TestCorrectCropKeepsCenterContent(t *testing.T) {
	c := New(4)
	// 1800x500 crops to exactly 1500x500, so no rescale follows and the kept
	// window is directly observable: 150 red columns off each side, green center.
	img := image.NewRGBA(image.Rect(0, 0, 1800, 500))
	red := color.RGBA{R: 255, A: 255}
	green := color.RGBA{G: 255, A: 255}
	draw.Draw(img, img.Bounds(), image.NewUniform(red), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(150, 0, 1650, 500), image.NewUniform(green), image.Point{}, draw.Src)

	out, err := c.Correct(img, models.TargetBanner, PolicyCrop)
	require.NoError(t, err)
	b := out.Bounds()
	require.Equal(t, 1500, b.Dx())
	require.Equal(t, 500, b.Dy())

	for _, pt := range []image.Point{{0, 0}, {749, 249}, {1499, 499}} {
		r, g, _, _ := out.At(pt.X, pt.Y).RGBA()
		assert.Zero(t, r>>8, "pixel %v should not be red", pt)
		assert.EqualValues(t, 255, g>>8, "pixel %v should be green", pt)
	}
}

func TestCorrectExtendFillsWithEdgeColor(t *testing.T) {
	c := New(4)
	// Wide red image extended vertically to square: new rows take the
	// dominant edge color, which is red.
	img := solid(1000, 500, color.RGBA{R: 200, A: 255})

	out, err := c.Correct(img, models.TargetProfile, PolicyExtend)
	require.NoError(t, err)
	b := out.Bounds()
	require.Equal(t, 1000, b.Dx())
	require.Equal(t, 1000, b.Dy())

	r, g, bl, _ := out.At(5, 5).RGBA()
	assert.InDelta(t, 200, float64(r>>8), 2)
	assert.Zero(t, g>>8)
	assert.Zero(t, bl>>8)
}

func TestCorrectTooNarrowForBanner(t *testing.T) {
	c := New(4)
	// 500x1000 portrait to 3:1: crop keeps the 500px width and trims rows.
	img := solid(500, 1000, color.White)

	out, err := c.Correct(img, models.TargetBanner, PolicyCrop)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, ratioOf(out), 0.015)
	b := out.Bounds()
	assert.Equal(t, 1500, b.Dx())
	assert.Equal(t, 500, b.Dy())
}

func TestCorrectTinyInputFailsMagnificationLimit(t *testing.T) {
	c := New(4)
	img := solid(10, 10, color.White)

	for _, policy := range []Policy{PolicyCrop, PolicyExtend} {
		_, err := c.Correct(img, models.TargetBanner, policy)
		assert.ErrorIs(t, err, ErrInputTooSmall)
	}
}

func TestCorrectZeroDimension(t *testing.T) {
	c := New(4)
	img := image.NewRGBA(image.Rect(0, 0, 0, 0))

	_, err := c.Correct(img, models.TargetProfile, PolicyCrop)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestCorrectBytesRoundTrip(t *testing.T) {
	c := New(4)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(1200, 400, color.White)))

	out, err := c.CorrectBytes(buf.Bytes(), models.TargetBanner, PolicyCrop)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1500, decoded.Bounds().Dx())
	assert.Equal(t, 500, decoded.Bounds().Dy())
}

func TestCorrectBytesCorruptInput(t *testing.T) {
	c := New(4)
	_, err := c.CorrectBytes([]byte("not an image"), models.TargetBanner, PolicyCrop)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestSnapDimsTrimsLargerDimension(t *testing.T) {
	// 10x3 is 11% off 3:1; trimming the width by one lands exactly.
	w, h := snapDims(10, 3, 3.0)
	assert.Equal(t, 9, w)
	assert.Equal(t, 3, h)

	// Already exact pairs stay put.
	w, h = snapDims(900, 300, 3.0)
	assert.Equal(t, 900, w)
	assert.Equal(t, 300, h)
}
