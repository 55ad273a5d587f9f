package align

import "math"

// DefaultDepthRatio is the depth/width ratio assumed when only a footprint
// area is known.
const DefaultDepthRatio = 0.7

// AutoAlign computes a one-shot seed that scales the scan to the target
// area, rotates its principal axis onto world X and recenters it at the
// origin. The previous scale is carried multiplicatively so an externally
// applied prior scale is preserved.
func AutoAlign(stats MeshStats, targetAreaFt2 float64, current SeedTransform) SeedTransform {
	meshArea := math.Max(1, stats.Width*stats.Depth)
	targetArea := math.Max(1, targetAreaFt2/SqFtPerSqM)
	factor := math.Sqrt(targetArea / meshArea)

	prev := current.Scale
	if prev <= 0 || math.IsNaN(prev) {
		prev = 1
	}

	return SeedTransform{
		Scale:   prev * factor,
		RotYDeg: -stats.AngleRad * 180 / math.Pi,
		OffsetX: -stats.Mean.X * factor,
		OffsetZ: -stats.Mean.Z * factor,
	}
}

// AutoAlignPoints is AutoAlign over a raw point set.
func AutoAlignPoints(points []Point, targetAreaFt2 float64, current SeedTransform) SeedTransform {
	return AutoAlign(ComputeMeshStats(points), targetAreaFt2, current)
}

// TargetDimsFromArea guesses footprint dimensions from an area in square
// feet: width is the square side, depth is DefaultDepthRatio of it.
func TargetDimsFromArea(areaFt2 float64) Dims {
	w := math.Sqrt(math.Max(0, areaFt2) / SqFtPerSqM)
	return Dims{Width: w, Depth: DefaultDepthRatio * w}
}
