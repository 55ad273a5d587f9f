package align

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// DefaultHullTolerance is the Douglas-Peucker tolerance, in meters, applied
// to the scan hull before export.
const DefaultHullTolerance = 0.05

// Feature roles, stored in the "role" property.
const (
	RoleTarget  = "target"
	RoleSamples = "samples"
	RoleAligned = "aligned"
	RoleHull    = "hull"
)

func toOrb(p Point) orb.Point {
	return orb.Point{p.X, p.Z}
}

func toMultiPoint(points []Point) orb.MultiPoint {
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = toOrb(p)
	}
	return mp
}

// ProfileFeatureCollection exports a target profile: the outline polygon and,
// when withSamples is set, the sampled boundary points.
func ProfileFeatureCollection(p TargetProfile, withSamples bool) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Append(profileFeature(p))

	if withSamples {
		f := geojson.NewFeature(toMultiPoint(p.Points))
		f.Properties["role"] = RoleSamples
		f.Properties["count"] = len(p.Points)
		fc.Append(f)
	}
	return fc
}

func profileFeature(p TargetProfile) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{p.Outline})
	f.Properties["role"] = RoleTarget
	f.Properties["kind"] = string(p.Kind)
	f.Properties["width"] = p.Dims.Width
	f.Properties["depth"] = p.Dims.Depth
	f.Properties["areaM2"] = p.Area()
	f.Properties["perimeterM"] = p.Perimeter()
	return f
}

// OutcomeFeatureCollection exports an alignment: the target outline, the scan
// points moved by the final transform, and the simplified hull of those
// points with its coverage of the target.
func OutcomeFeatureCollection(out *AlignOutcome, tolerance float64) *geojson.FeatureCollection {
	target := NewTargetProfile(out.Profile, out.Target, 0)
	aligned := out.Result.Transform.Transform().ApplyAll(out.Source)

	fc := geojson.NewFeatureCollection()
	tf := profileFeature(target)
	tf.Properties["areaFt2"] = out.Before.AreaSqFt
	tf.Properties["perimeterFt"] = out.Before.PerimeterFt
	fc.Append(tf)

	pf := geojson.NewFeature(toMultiPoint(aligned))
	pf.Properties["role"] = RoleAligned
	pf.Properties["sessionId"] = out.SessionID
	pf.Properties["placeholder"] = out.Placeholder
	pf.Properties["transform"] = out.Applied.Rounded()
	pf.Properties["residual"] = out.Result.FinalResidual()
	fc.Append(pf)

	if hull := ScanHull(aligned, tolerance); hull != nil {
		area := math.Abs(planar.Area(hull))
		hf := geojson.NewFeature(orb.Polygon{hull})
		hf.Properties["role"] = RoleHull
		hf.Properties["areaM2"] = area
		hf.Properties["perimeterM"] = planar.Length(hull)
		if ta := target.Area(); ta > 0 {
			hf.Properties["coverage"] = area / ta
		}
		fc.Append(hf)
	}
	return fc
}

// ScanHull returns the closed convex hull of points simplified with
// Douglas-Peucker, or nil for fewer than three points.
func ScanHull(points []Point, tolerance float64) orb.Ring {
	if len(points) < 3 {
		return nil
	}
	pts := make([]orb.Point, len(points))
	for i, p := range points {
		pts[i] = toOrb(p)
	}

	hull := convexHull(pts)
	if len(hull) < 3 {
		return nil
	}
	ring := orb.Ring(append(hull, hull[0]))

	if tolerance > 0 {
		if s, ok := simplify.DouglasPeucker(tolerance).Simplify(ring.Clone()).(orb.Ring); ok && len(s) >= 4 {
			ring = s
		}
	}
	return ring
}

// convexHull is Andrew's monotone chain. The result is counter-clockwise and
// open; collinear points are dropped.
func convexHull(points []orb.Point) []orb.Point {
	sorted := append([]orb.Point(nil), points...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	n := len(sorted)
	hull := make([]orb.Point, 0, 2*n)
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := n - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}
