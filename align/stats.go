package align

import "math"

// axisEpsilon is the off-diagonal covariance below which the principal axis is
// taken to be world X.
const axisEpsilon = 1e-6

// DegenerateStats is returned for point sets too small to define an axis.
func DegenerateStats() MeshStats {
	return MeshStats{Width: 1, Depth: 1}
}

// ComputeMeshStats returns the centroid, principal-axis angle and
// axis-aligned extents of points. Fewer than 3 points yield DegenerateStats.
func ComputeMeshStats(points []Point) MeshStats {
	n := len(points)
	if n < 3 {
		return DegenerateStats()
	}

	mean := Centroid(points)

	var sxx, sxz, szz float64
	for _, p := range points {
		dx := p.X - mean.X
		dz := p.Z - mean.Z
		sxx += dx * dx
		sxz += dx * dz
		szz += dz * dz
	}
	fn := float64(n)
	sxx /= fn
	sxz /= fn
	szz /= fn

	// Largest eigenvalue of [[sxx sxz] [sxz szz]].
	tr := sxx + szz
	det := sxx*szz - sxz*sxz
	lambda1 := tr/2 + math.Sqrt(math.Max(0, tr*tr/4-det))

	vx, vz := 1.0, 0.0
	if math.Abs(sxz) >= axisEpsilon {
		vx, vz = lambda1-szz, sxz
		if norm := math.Hypot(vx, vz); norm > 0 {
			vx /= norm
			vz /= norm
		} else {
			vx, vz = 1, 0
		}
	}

	ext := Extents(points)
	return MeshStats{
		Mean:     mean,
		Width:    ext.Width,
		Depth:    ext.Depth,
		AngleRad: math.Atan2(vz, vx),
	}
}
