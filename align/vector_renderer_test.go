package align

import (
	"bytes"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alignedOutcome runs the 10 x 7 example through a session.
func alignedOutcome(t *testing.T) *AlignOutcome {
	t.Helper()
	session := NewSession(DirectRunner(DefaultEngineConfig()), quietLogger())
	src := NewTransform(1.2, deg(15), 0.5, -0.3).ApplyAll(RectanglePoints(10, 7, 200))
	out, err := session.Align(t.Context(), src, AlignRequest{
		TargetDims: &Dims{Width: 10, Depth: 7},
		Coarse:     3,
		Fine:       10,
	})
	require.NoError(t, err)
	return out
}

func TestOverlayRendererSVG(t *testing.T) {
	r := NewOverlayRenderer(alignedOutcome(t))

	var buf bytes.Buffer
	require.NoError(t, r.RenderToSVG(&buf))

	svg := buf.String()
	assert.Contains(t, svg, "<svg")
	assert.Contains(t, svg, "</svg>")
	assert.Contains(t, svg, "<path")
}

func TestOverlayRendererPNG(t *testing.T) {
	r := NewOverlayRenderer(alignedOutcome(t))
	r.GridSpacing = 0
	r.ShowSeeded = false

	var buf bytes.Buffer
	require.NoError(t, r.RenderToPNG(&buf))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	b := img.Bounds()
	assert.Greater(t, b.Dx(), b.Dy(), "a 10 x 7 footprint renders wider than tall")
}

func TestOverlayRendererWithoutOutcome(t *testing.T) {
	r := NewOverlayRenderer(nil)
	var buf bytes.Buffer
	assert.Error(t, r.RenderToSVG(&buf))
	assert.Error(t, r.RenderToPNG(&buf))
}

func TestOverlayRendererEmptySource(t *testing.T) {
	out := &AlignOutcome{
		Target:  Dims{Width: 4, Depth: 3},
		Profile: ProfileHouse,
		Seed:    IdentitySeed(),
		Result:  RegistrationResult{Transform: Identity().Wire()},
	}
	var buf bytes.Buffer
	require.NoError(t, NewOverlayRenderer(out).RenderToSVG(&buf))
	assert.Contains(t, buf.String(), "<svg")
}

func TestOverlayRendererCapsCanvasSize(t *testing.T) {
	out := alignedOutcome(t)
	out.Source = append(append([]Point(nil), out.Source...), Point{X: 5e5, Z: 2e5})
	r := NewOverlayRenderer(out)

	l, err := r.layers()
	require.NoError(t, err)
	w, h := r.size(l)
	assert.LessOrEqual(t, w, r.MaxSize+1e-9)
	assert.LessOrEqual(t, h, r.MaxSize+1e-9)

	var buf bytes.Buffer
	require.NoError(t, r.RenderToSVG(&buf))
	assert.Contains(t, buf.String(), "</svg>")
}

func TestOverlayRendererRejectsNonFinite(t *testing.T) {
	out := alignedOutcome(t)
	out.Source = append(append([]Point(nil), out.Source...), Point{X: math.NaN(), Z: 0})

	var buf bytes.Buffer
	assert.Error(t, NewOverlayRenderer(out).RenderToSVG(&buf))
}
