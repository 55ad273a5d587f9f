package align

import (
	"fmt"
	"math"
)

// Transform is a 2-D similarity transform: p' = Scale*R*p + T.
// R is stored row-major as (r00, r01, r10, r11).
type Transform struct {
	R     [4]float64
	T     [2]float64
	Scale float64
}

// Identity returns the transform that leaves points unchanged.
func Identity() Transform {
	return Transform{R: [4]float64{1, 0, 0, 1}, Scale: 1}
}

// NewTransform builds a transform from scale, rotation (radians) and translation.
func NewTransform(scale, angle, tx, tz float64) Transform {
	return Transform{R: rotationMatrix(angle), T: [2]float64{tx, tz}, Scale: scale}
}

// rotationMatrix returns the counter-clockwise rotation (cos, -sin, sin, cos).
func rotationMatrix(angle float64) [4]float64 {
	c, s := math.Cos(angle), math.Sin(angle)
	return [4]float64{c, -s, s, c}
}

// mulRot returns a*b for row-major 2x2 matrices.
func mulRot(a, b [4]float64) [4]float64 {
	return [4]float64{
		a[0]*b[0] + a[1]*b[2],
		a[0]*b[1] + a[1]*b[3],
		a[2]*b[0] + a[3]*b[2],
		a[2]*b[1] + a[3]*b[3],
	}
}

// Angle returns the rotation in radians.
func (t Transform) Angle() float64 {
	return math.Atan2(t.R[2], t.R[0])
}

// AngleDeg returns the rotation in degrees.
func (t Transform) AngleDeg() float64 {
	return t.Angle() * 180 / math.Pi
}

// Apply transforms a single point.
func (t Transform) Apply(p Point) Point {
	return Point{
		X: t.Scale*(t.R[0]*p.X+t.R[1]*p.Z) + t.T[0],
		Z: t.Scale*(t.R[2]*p.X+t.R[3]*p.Z) + t.T[1],
	}
}

// ApplyAll returns a transformed copy of points.
func (t Transform) ApplyAll(points []Point) []Point {
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = t.Apply(p)
	}
	return out
}

// applyInPlace overwrites points with their transformed positions.
func (t Transform) applyInPlace(points []Point) {
	for i, p := range points {
		points[i] = t.Apply(p)
	}
}

// Then returns the transform equivalent to applying t first and next second.
// The rotation is re-derived from its angle so repeated composition cannot
// accumulate shear.
func (t Transform) Then(next Transform) Transform {
	r := mulRot(next.R, t.R)
	return Transform{
		R: rotationMatrix(math.Atan2(r[2], r[0])),
		T: [2]float64{
			next.Scale*(next.R[0]*t.T[0]+next.R[1]*t.T[1]) + next.T[0],
			next.Scale*(next.R[2]*t.T[0]+next.R[3]*t.T[1]) + next.T[1],
		},
		Scale: t.Scale * next.Scale,
	}
}

// Compose chains transforms in application order: Compose(a, b, c) applies a,
// then b, then c.
func Compose(steps ...Transform) Transform {
	out := Identity()
	for _, s := range steps {
		out = out.Then(s)
	}
	return out
}

// Wire returns the response encoding.
func (t Transform) Wire() WireTransform {
	return WireTransform{R: t.R, T: t.T, Scale: t.Scale}
}

// Seed converts t to the external representation.
func (t Transform) Seed() SeedTransform {
	return SeedTransform{
		Scale:   t.Scale,
		RotYDeg: t.AngleDeg(),
		OffsetX: t.T[0],
		OffsetZ: t.T[1],
	}
}

// Transform converts a wire transform back, re-deriving R from its angle.
func (w WireTransform) Transform() Transform {
	return Transform{
		R:     rotationMatrix(math.Atan2(w.R[2], w.R[0])),
		T:     w.T,
		Scale: w.Scale,
	}
}

// Transform converts the external representation into a Transform.
func (s SeedTransform) Transform() Transform {
	return NewTransform(s.Scale, s.RotYDeg*math.Pi/180, s.OffsetX, s.OffsetZ)
}

// Rounded applies display rounding: scale to 3 decimals, rotation to 1,
// offsets to 2.
func (s SeedTransform) Rounded() SeedTransform {
	return SeedTransform{
		Scale:   roundTo(s.Scale, 3),
		RotYDeg: roundTo(s.RotYDeg, 1),
		OffsetX: roundTo(s.OffsetX, 2),
		OffsetZ: roundTo(s.OffsetZ, 2),
	}
}

func (s SeedTransform) String() string {
	return fmt.Sprintf("scale=%.3f rot=%.1f° offset=(%.2f, %.2f)", s.Scale, s.RotYDeg, s.OffsetX, s.OffsetZ)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Centroid returns the arithmetic mean of points, or the origin if empty.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sx, sz float64
	for _, p := range points {
		sx += p.X
		sz += p.Z
	}
	n := float64(len(points))
	return Point{X: sx / n, Z: sz / n}
}

// Extents returns the axis-aligned bounding box size of points.
func Extents(points []Point) Dims {
	if len(points) == 0 {
		return Dims{}
	}
	minX, maxX := points[0].X, points[0].X
	minZ, maxZ := points[0].Z, points[0].Z
	for _, p := range points[1:] {
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
		minZ = math.Min(minZ, p.Z)
		maxZ = math.Max(maxZ, p.Z)
	}
	return Dims{Width: maxX - minX, Depth: maxZ - minZ}
}

// UnflattenPoints converts a flat [x,z,x,z,...] sequence into points.
// A trailing odd value is an error.
func UnflattenPoints(flat []float64) ([]Point, error) {
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("flat point sequence has odd length %d", len(flat))
	}
	points := make([]Point, len(flat)/2)
	for i := range points {
		points[i] = Point{X: flat[2*i], Z: flat[2*i+1]}
	}
	return points, nil
}

// FlattenPoints converts points into a flat [x,z,x,z,...] sequence.
func FlattenPoints(points []Point) []float64 {
	flat := make([]float64, 0, 2*len(points))
	for _, p := range points {
		flat = append(flat, p.X, p.Z)
	}
	return flat
}
