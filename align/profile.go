package align

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ProfileKind selects the target outline shape.
type ProfileKind string

const (
	ProfileRectangle ProfileKind = "rectangle"
	ProfileHouse     ProfileKind = "house"
)

// ParseProfileKind accepts "rect", "rectangle" or "house" (case-insensitive).
func ParseProfileKind(s string) (ProfileKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rect", "rectangle":
		return ProfileRectangle, nil
	case "house":
		return ProfileHouse, nil
	default:
		return "", fmt.Errorf("unknown profile kind %q", s)
	}
}

// House notch proportions: the porch inset spans 18% of the width and is
// 12% of the depth deep, centred left of the +Z edge midpoint.
const (
	notchWidthRatio  = 0.18
	notchDepthRatio  = 0.12
	notchCenterRatio = -0.05
)

// Default profile densities for the two registration passes.
const (
	CoarseRectPoints  = 400
	CoarseHousePoints = 700
	FineRectPoints    = 1600
	FineHousePoints   = 2000
)

// TargetProfile is a closed target outline plus its dense boundary samples.
type TargetProfile struct {
	Kind    ProfileKind
	Dims    Dims
	Outline orb.Ring
	Points  []Point
}

// NewTargetProfile builds the outline and samples count boundary points.
func NewTargetProfile(kind ProfileKind, d Dims, count int) TargetProfile {
	p := TargetProfile{Kind: kind, Dims: d}
	switch kind {
	case ProfileHouse:
		p.Outline = HouseOutline(d.Width, d.Depth)
		p.Points = HouseProfilePoints(d.Width, d.Depth, count)
	default:
		p.Kind = ProfileRectangle
		p.Outline = RectangleOutline(d.Width, d.Depth)
		p.Points = RectanglePoints(d.Width, d.Depth, count)
	}
	return p
}

// Perimeter returns the outline length in meters.
func (p TargetProfile) Perimeter() float64 {
	return planar.Length(p.Outline)
}

// Area returns the enclosed outline area in square meters.
func (p TargetProfile) Area() float64 {
	return math.Abs(planar.Area(p.Outline))
}

// sanitizeDims maps negative or non-finite extents to zero so degenerate
// requests collapse to the origin instead of producing NaN.
func sanitizeDims(w, d float64) (float64, float64) {
	clean := func(v float64) float64 {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return 0
		}
		return v
	}
	return clean(w), clean(d)
}

// RectangleOutline returns the closed counter-clockwise rectangle starting at
// the bottom-left corner.
func RectangleOutline(width, depth float64) orb.Ring {
	w, d := sanitizeDims(width, depth)
	return orb.Ring{
		{-w / 2, -d / 2},
		{w / 2, -d / 2},
		{w / 2, d / 2},
		{-w / 2, d / 2},
		{-w / 2, -d / 2},
	}
}

// RectanglePoints distributes count points by arc length along the rectangle
// boundary, walking counter-clockwise from the bottom-left corner.
func RectanglePoints(width, depth float64, count int) []Point {
	if count <= 0 {
		return []Point{}
	}
	w, d := sanitizeDims(width, depth)
	perim := 2 * (w + d)

	points := make([]Point, count)
	for i := range points {
		s := float64(i) / float64(count) * perim
		var x, z float64
		switch {
		case s < w:
			x, z = -w/2+s, -d/2
		case s < w+d:
			x, z = w/2, -d/2+(s-w)
		case s < 2*w+d:
			x, z = w/2-(s-(w+d)), d/2
		default:
			x, z = -w/2, d/2-(s-(2*w+d))
		}
		points[i] = Point{X: x, Z: z}
	}
	return points
}

// HouseOutline returns the closed 8-vertex notched footprint.
func HouseOutline(width, depth float64) orb.Ring {
	w, d := sanitizeDims(width, depth)
	right := (notchCenterRatio + notchWidthRatio/2) * w
	left := (notchCenterRatio - notchWidthRatio/2) * w
	inset := d/2 - notchDepthRatio*d
	return orb.Ring{
		{-w / 2, -d / 2},
		{w / 2, -d / 2},
		{w / 2, d / 2},
		{right, d / 2},
		{right, inset},
		{left, inset},
		{left, d / 2},
		{-w / 2, d / 2},
		{-w / 2, -d / 2},
	}
}

// HouseProfilePoints samples the notched outline. Each edge receives a share
// of count proportional to its length, with at least 2 samples per edge.
func HouseProfilePoints(width, depth float64, count int) []Point {
	if count <= 0 {
		return []Point{}
	}
	return sampleRing(HouseOutline(width, depth), count)
}

// sampleRing walks a closed ring, emitting each edge's start vertex and its
// interior samples (t = i/n, i < n).
func sampleRing(ring orb.Ring, count int) []Point {
	perim := planar.Length(ring)

	points := make([]Point, 0, count+2*len(ring))
	for e := 0; e+1 < len(ring); e++ {
		a, b := ring[e], ring[e+1]
		segLen := math.Hypot(b[0]-a[0], b[1]-a[1])

		n := 2
		if perim > 0 {
			n = max(2, int(math.Round(segLen/perim*float64(count))))
		}
		for i := 0; i < n; i++ {
			t := float64(i) / float64(n)
			points = append(points, Point{
				X: a[0] + (b[0]-a[0])*t,
				Z: a[1] + (b[1]-a[1])*t,
			})
		}
	}
	return points
}

// outlinePoints returns the ring vertices without the closing duplicate.
func outlinePoints(ring orb.Ring) []Point {
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	out := make([]Point, n)
	for i := 0; i < n; i++ {
		out[i] = Point{X: ring[i][0], Z: ring[i][1]}
	}
	return out
}
