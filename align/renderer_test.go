package align

import (
	"bytes"
	"image"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaption(t *testing.T) {
	out := &AlignOutcome{
		Applied: SeedTransform{Scale: 0.83333, RotYDeg: -15.02, OffsetX: 0.004, OffsetZ: -0.1},
		Result:  RegistrationResult{Residuals: []float64{0.2, 1.5e-4}, CoarseIterations: 1, FineIterations: 1},
		Before:  NewFootprint(Dims{Width: 10, Depth: 7}),
		After:   NewFootprint(Dims{Width: 8.333, Depth: 5.833}),
	}

	lines := Caption(out)
	require.Len(t, lines, 3)
	assert.Equal(t, "scale 0.833  rot -15.0 deg  offset (0.00, -0.10)", lines[0])
	assert.Equal(t, "residual 1.50e-04  iterations 1+1", lines[1])
	assert.Contains(t, lines[2], "before 753 ft2 / 112 ft")

	out.Placeholder = true
	assert.Len(t, Caption(out), 4)
}

func TestSnapshotRendererRender(t *testing.T) {
	out := alignedOutcome(t)
	r := NewSnapshotRenderer()

	img, err := r.Render(out)
	require.NoError(t, err)

	b := img.Bounds()
	// 10 m at 40 px/m plus padding
	assert.GreaterOrEqual(t, b.Dx(), 400+2*r.Padding)
	assert.Greater(t, b.Dy(), 280+2*r.Padding)

	// background corner untouched, some aligned points drawn
	assert.Equal(t, r.Background, img.RGBAAt(0, 0))
	assert.True(t, containsColor(img, alignedColor))
	assert.True(t, containsColor(img, targetStroke))
}

func TestSnapshotRendererEncodePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewSnapshotRenderer().EncodePNG(&buf, alignedOutcome(t)))

	_, err := png.Decode(&buf)
	require.NoError(t, err)
}

func TestSnapshotRendererNilOutcome(t *testing.T) {
	_, err := NewSnapshotRenderer().Render(nil)
	assert.Error(t, err)
}

func TestDrawLineEndpoints(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	drawLine(img, 2, 3, 17, 11, alignedColor)
	assert.Equal(t, alignedColor, img.RGBAAt(2, 3))
	assert.Equal(t, alignedColor, img.RGBAAt(17, 11))

	// off-image segments are clipped, not panicking
	drawLine(img, -5, -5, 30, 30, targetStroke)
	assert.Equal(t, targetStroke, img.RGBAAt(10, 10))
}

func containsColor(img *image.RGBA, c interface{ RGBA() (r, g, b, a uint32) }) bool {
	r0, g0, b0, a0 := c.RGBA()
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bb, a := img.At(x, y).RGBA()
			if r == r0 && g == g0 && bb == b0 && a == a0 {
				return true
			}
		}
	}
	return false
}

func TestSnapshotRendererCapsImageSize(t *testing.T) {
	out := alignedOutcome(t)
	out.Source = append(append([]Point(nil), out.Source...), Point{X: 1e6, Z: -1e6})
	r := NewSnapshotRenderer()

	img, err := r.Render(out)
	require.NoError(t, err)

	b := img.Bounds()
	limit := r.MaxPixels + 2*r.Padding + 1
	assert.LessOrEqual(t, b.Dx(), limit)
	assert.LessOrEqual(t, b.Dy(), limit+len(Caption(out))*captionLineHeight+r.Padding)
	assert.True(t, containsColor(img, alignedColor))
}

func TestSnapshotRendererRejectsNonFinite(t *testing.T) {
	out := alignedOutcome(t)
	out.Source = append(append([]Point(nil), out.Source...), Point{X: math.Inf(1), Z: 0})

	_, err := NewSnapshotRenderer().Render(out)
	assert.Error(t, err)
}
