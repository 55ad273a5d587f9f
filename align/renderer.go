package align

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// captionLineHeight is the vertical advance of one caption line in pixels.
const captionLineHeight = 16

// DefaultSnapshotMaxPixels bounds the larger side of the snapshot plot.
const DefaultSnapshotMaxPixels = 2048

// SnapshotRenderer draws a quick raster preview of an alignment with a text
// caption listing the applied transform and the footprint comparison.
type SnapshotRenderer struct {
	PixelsPerMeter float64
	MaxPixels      int // PixelsPerMeter is lowered so the plot fits; 0 disables the cap
	Padding        int
	Background     color.RGBA
}

// NewSnapshotRenderer returns a renderer at 40 px/m with the plot capped at
// DefaultSnapshotMaxPixels.
func NewSnapshotRenderer() *SnapshotRenderer {
	return &SnapshotRenderer{
		PixelsPerMeter: 40,
		MaxPixels:      DefaultSnapshotMaxPixels,
		Padding:        30,
		Background:     color.RGBA{240, 240, 240, 255},
	}
}

// Caption returns the caption lines for out.
func Caption(out *AlignOutcome) []string {
	a := out.Applied.Rounded()
	lines := []string{
		fmt.Sprintf("scale %.3f  rot %.1f deg  offset (%.2f, %.2f)", a.Scale, a.RotYDeg, a.OffsetX, a.OffsetZ),
		fmt.Sprintf("residual %.2e  iterations %d+%d", out.Result.FinalResidual(), out.Result.CoarseIterations, out.Result.FineIterations),
		fmt.Sprintf("before %.0f ft2 / %.0f ft  after %.0f ft2 / %.0f ft",
			out.Before.AreaSqFt, out.Before.PerimeterFt, out.After.AreaSqFt, out.After.PerimeterFt),
	}
	if out.Placeholder {
		lines = append(lines, "placeholder scan (mesh unavailable)")
	}
	return lines
}

// Render draws out onto a new image.
func (r *SnapshotRenderer) Render(out *AlignOutcome) (*image.RGBA, error) {
	if out == nil {
		return nil, errors.New("no outcome to render")
	}

	outline := outlinePoints(NewTargetProfile(out.Profile, out.Target, 0).Outline)
	aligned := out.Result.Transform.Transform().ApplyAll(out.Source)
	caption := Caption(out)

	all := append(append([]Point(nil), outline...), aligned...)
	minX, minZ := math.Inf(1), math.Inf(1)
	maxX, maxZ := math.Inf(-1), math.Inf(-1)
	for _, p := range all {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minZ, maxZ = math.Min(minZ, p.Z), math.Max(maxZ, p.Z)
	}
	if len(all) == 0 {
		minX, minZ, maxX, maxZ = 0, 0, 0, 0
	}
	span := math.Max(maxX-minX, maxZ-minZ)
	if math.IsNaN(span) || math.IsInf(span, 0) {
		return nil, errors.New("snapshot: non-finite coordinates")
	}
	ppm := r.PixelsPerMeter
	if r.MaxPixels > 0 && span*ppm > float64(r.MaxPixels) {
		ppm = float64(r.MaxPixels) / span
	}

	captionHeight := len(caption)*captionLineHeight + r.Padding/2
	width := int(math.Ceil((maxX-minX)*ppm)) + 2*r.Padding
	plotHeight := int(math.Ceil((maxZ-minZ)*ppm)) + 2*r.Padding
	width = max(width, 7*maxLineLength(caption)+2*r.Padding)
	height := plotHeight + captionHeight

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(r.Background), image.Point{}, draw.Src)

	// Image Y grows downward; flip Z so north is up.
	toImage := func(p Point) (int, int) {
		x := int(math.Round((p.X-minX)*ppm)) + r.Padding
		y := plotHeight - (int(math.Round((p.Z-minZ)*ppm)) + r.Padding)
		return x, y
	}

	for i := range outline {
		x0, y0 := toImage(outline[i])
		x1, y1 := toImage(outline[(i+1)%len(outline)])
		drawLine(img, x0, y0, x1, y1, targetStroke)
	}
	for _, p := range aligned {
		x, y := toImage(p)
		fillBlock(img, x, y, 1, alignedColor)
	}

	y := plotHeight + captionLineHeight
	for _, line := range caption {
		drawText(img, r.Padding, y, line, color.RGBA{0, 0, 0, 255})
		y += captionLineHeight
	}
	return img, nil
}

// EncodePNG renders out and writes it as PNG.
func (r *SnapshotRenderer) EncodePNG(w io.Writer, out *AlignOutcome) error {
	img, err := r.Render(out)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

func maxLineLength(lines []string) int {
	n := 0
	for _, l := range lines {
		n = max(n, len(l))
	}
	return n
}

// fillBlock paints a (2r+1) square centered on x,y, clipped to the image.
func fillBlock(img *image.RGBA, x, y, r int, c color.RGBA) {
	b := img.Bounds()
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if image.Pt(x+dx, y+dy).In(b) {
				img.SetRGBA(x+dx, y+dy, c)
			}
		}
	}
}

// drawLine is Bresenham's line, clipped per pixel.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	b := img.Bounds()
	for {
		if image.Pt(x0, y0).In(b) {
			img.SetRGBA(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawText renders text with the 7x13 bitmap face; y is the baseline.
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
