package align

import (
	"errors"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// Overlay colors.
var (
	targetFill    = color.RGBA{0xE8, 0xF0, 0xFA, 0xFF}
	targetStroke  = color.RGBA{0x1F, 0x4E, 0x79, 0xFF}
	seededColor   = color.RGBA{0xA0, 0xA0, 0xA0, 0xFF}
	alignedColor  = color.RGBA{0xD9, 0x48, 0x1C, 0xFF}
	hullColor     = color.RGBA{0x2E, 0x8B, 0x57, 0xFF}
	gridLineColor = color.RGBA{0xDD, 0xDD, 0xDD, 0xFF}
)

// DefaultOverlayMaxSize bounds the larger side of the overlay canvas in mm.
const DefaultOverlayMaxSize = 600

// maxGridLines skips the grid when it would need more lines per axis.
const maxGridLines = 200

// OverlayRenderer draws an alignment outcome as vector graphics: the target
// outline, the scan after the seed only, the scan after the final transform,
// and the hull of the aligned scan. World units are meters; Scale converts
// them to canvas millimeters.
type OverlayRenderer struct {
	Outcome     *AlignOutcome
	Scale       float64 // canvas mm per meter
	MaxSize     float64 // canvas mm; Scale is lowered so the overlay fits, 0 disables the cap
	Padding     float64 // meters
	GridSpacing float64 // meters; 0 disables the grid
	PointRadius float64 // meters
	ShowSeeded  bool
	Resolution  canvas.Resolution
}

// NewOverlayRenderer returns a renderer with default settings.
func NewOverlayRenderer(out *AlignOutcome) *OverlayRenderer {
	return &OverlayRenderer{
		Outcome:     out,
		Scale:       10,
		MaxSize:     DefaultOverlayMaxSize,
		Padding:     1,
		GridSpacing: 1,
		PointRadius: 0.04,
		ShowSeeded:  true,
		Resolution:  canvas.DPI(150),
	}
}

type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// overlayLayers holds the world-space geometry of one overlay.
type overlayLayers struct {
	outline []Point
	seeded  []Point
	aligned []Point
	hull    []Point

	minX, minZ, maxX, maxZ float64
	scale                  float64 // effective canvas mm per meter
}

func (r *OverlayRenderer) layers() (*overlayLayers, error) {
	out := r.Outcome
	if out == nil {
		return nil, errors.New("no outcome to render")
	}

	l := &overlayLayers{
		outline: outlinePoints(NewTargetProfile(out.Profile, out.Target, 0).Outline),
		aligned: out.Result.Transform.Transform().ApplyAll(out.Source),
	}
	if r.ShowSeeded {
		l.seeded = out.Seed.Transform().ApplyAll(out.Source)
	}
	if hull := ScanHull(l.aligned, DefaultHullTolerance); hull != nil {
		l.hull = outlinePoints(hull)
	}

	l.minX, l.minZ = math.Inf(1), math.Inf(1)
	l.maxX, l.maxZ = math.Inf(-1), math.Inf(-1)
	for _, set := range [][]Point{l.outline, l.seeded, l.aligned} {
		for _, p := range set {
			l.minX = math.Min(l.minX, p.X)
			l.minZ = math.Min(l.minZ, p.Z)
			l.maxX = math.Max(l.maxX, p.X)
			l.maxZ = math.Max(l.maxZ, p.Z)
		}
	}
	if math.IsInf(l.minX, 1) {
		l.minX, l.minZ, l.maxX, l.maxZ = 0, 0, 0, 0
	}

	span := math.Max(l.maxX-l.minX, l.maxZ-l.minZ) + 2*r.Padding
	if math.IsNaN(span) || math.IsInf(span, 0) {
		return nil, errors.New("overlay: non-finite coordinates")
	}
	l.scale = r.Scale
	if r.MaxSize > 0 && span*l.scale > r.MaxSize {
		l.scale = r.MaxSize / span
	}
	return l, nil
}

// size returns the canvas width and height in millimeters.
func (r *OverlayRenderer) size(l *overlayLayers) (float64, float64) {
	w := (l.maxX - l.minX + 2*r.Padding) * l.scale
	h := (l.maxZ - l.minZ + 2*r.Padding) * l.scale
	return math.Max(w, 1), math.Max(h, 1)
}

// RenderToSVG writes the overlay as SVG.
func (r *OverlayRenderer) RenderToSVG(w io.Writer) error {
	l, err := r.layers()
	if err != nil {
		return err
	}
	width, height := r.size(l)

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, l, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the overlay as PNG at r.Resolution.
func (r *OverlayRenderer) RenderToPNG(w io.Writer) error {
	l, err := r.layers()
	if err != nil {
		return err
	}
	width, height := r.size(l)

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, l, width, height)
	return png.Encode(w, rast)
}

func (r *OverlayRenderer) renderToCanvas(renderer canvasRenderer, l *overlayLayers, width, height float64) {
	// Canvas Y grows upward, matching world Z.
	toCanvas := func(p Point) (float64, float64) {
		return (p.X - l.minX + r.Padding) * l.scale, (p.Z - l.minZ + r.Padding) * l.scale
	}

	bg := canvas.DefaultStyle
	bg.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bg, canvas.Identity)

	span := math.Max(l.maxX-l.minX, l.maxZ-l.minZ) + 2*r.Padding
	if r.GridSpacing > 0 && span/r.GridSpacing <= maxGridLines {
		grid := canvas.DefaultStyle
		grid.Fill = canvas.Paint{Color: canvas.Transparent}
		grid.Stroke = canvas.Paint{Color: gridLineColor}
		grid.StrokeWidth = 0.2

		startX := math.Floor((l.minX-r.Padding)/r.GridSpacing) * r.GridSpacing
		for x := startX; x <= l.maxX+r.Padding; x += r.GridSpacing {
			cx, _ := toCanvas(Point{X: x})
			gp := &canvas.Path{}
			gp.MoveTo(cx, 0)
			gp.LineTo(cx, height)
			renderer.RenderPath(gp, grid, canvas.Identity)
		}
		startZ := math.Floor((l.minZ-r.Padding)/r.GridSpacing) * r.GridSpacing
		for z := startZ; z <= l.maxZ+r.Padding; z += r.GridSpacing {
			_, cy := toCanvas(Point{Z: z})
			gp := &canvas.Path{}
			gp.MoveTo(0, cy)
			gp.LineTo(width, cy)
			renderer.RenderPath(gp, grid, canvas.Identity)
		}
	}

	polygon := func(points []Point, closed bool) *canvas.Path {
		cp := &canvas.Path{}
		for i, p := range points {
			cx, cy := toCanvas(p)
			if i == 0 {
				cp.MoveTo(cx, cy)
			} else {
				cp.LineTo(cx, cy)
			}
		}
		if closed {
			cp.Close()
		}
		return cp
	}

	target := canvas.DefaultStyle
	target.Fill = canvas.Paint{Color: targetFill}
	target.Stroke = canvas.Paint{Color: targetStroke}
	target.StrokeWidth = 0.6
	if len(l.outline) > 2 {
		renderer.RenderPath(polygon(l.outline, true), target, canvas.Identity)
	}

	radius := math.Max(r.PointRadius*l.scale, 0.2)
	dots := func(points []Point, c color.RGBA) {
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: c}
		style.Stroke = canvas.Paint{Color: canvas.Transparent}
		for _, p := range points {
			cx, cy := toCanvas(p)
			renderer.RenderPath(canvas.Circle(radius).Translate(cx, cy), style, canvas.Identity)
		}
	}
	dots(l.seeded, seededColor)

	if len(l.hull) > 2 {
		hull := canvas.DefaultStyle
		hull.Fill = canvas.Paint{Color: canvas.Transparent}
		hull.Stroke = canvas.Paint{Color: hullColor}
		hull.StrokeWidth = 0.3
		renderer.RenderPath(polygon(l.hull, true), hull, canvas.Identity)
	}

	dots(l.aligned, alignedColor)
}
