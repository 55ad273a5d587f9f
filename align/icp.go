package align

import (
	"context"
	"math"
)

// DefaultEps is the residual-delta stop threshold in square meters.
const DefaultEps = 1e-4

// minScaleDenominator guards the scale estimate against collapsed sources.
const minScaleDenominator = 1e-9

// PassConfig holds configuration for one ICP pass.
type PassConfig struct {
	MaxIterations int       // Iteration budget
	Eps           float64   // Stop when |residual[i-1] - residual[i]| < Eps (m²)
	Index         IndexKind // Correspondence backend
}

// PassResult contains the outcome of one ICP pass.
type PassResult struct {
	Transform  Transform // Accumulated transform, source -> destination
	Residuals  []float64 // Mean squared matched-pair distance after each step
	Iterations int       // Iterations performed
	Converged  bool      // Stopped because the residual settled below Eps
}

// RunICP refines src onto dst with similarity ICP. src is not modified.
//
// Each iteration matches every working point to its nearest destination
// point, solves the closed-form rotation, uniform scale and translation for
// the matched pairs, applies that step to the working set and folds it into
// the running total. The context is checked between iterations; on
// cancellation the partial result is returned together with ctx.Err().
func RunICP(ctx context.Context, src, dst []Point, cfg PassConfig) (PassResult, error) {
	result := PassResult{Transform: Identity(), Residuals: []float64{}}
	if len(src) == 0 || len(dst) == 0 || cfg.MaxIterations <= 0 {
		return result, nil
	}

	working := make([]Point, len(src))
	copy(working, src)

	index := NewNeighborIndex(cfg.Index, dst)
	matched := make([]Point, len(working))
	prev := math.Inf(1)

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Iterations = iter + 1

		// Correspondence
		for i, p := range working {
			j, _ := index.Nearest(p)
			matched[i] = dst[j]
		}

		// Estimate and apply the incremental transform
		step := estimateSimilarity(working, matched)
		step.applyInPlace(working)
		result.Transform = result.Transform.Then(step)

		// Residual over the matched pairs
		var sum float64
		for i, p := range working {
			dx := p.X - matched[i].X
			dz := p.Z - matched[i].Z
			sum += dx*dx + dz*dz
		}
		current := sum / float64(len(working))
		result.Residuals = append(result.Residuals, current)

		if math.Abs(prev-current) < cfg.Eps {
			result.Converged = true
			break
		}
		prev = current
	}

	return result, nil
}

// estimateSimilarity solves the 2-D Procrustes problem with uniform scale for
// matched pairs src[i] -> dst[i]. The rotation has the closed form
// atan2(Sxz - Szx, Sxx + Szz); the scale falls back to 1 when the centered
// source has no spread.
func estimateSimilarity(src, dst []Point) Transform {
	n := float64(len(src))
	if n == 0 {
		return Identity()
	}

	srcC := Centroid(src)
	dstC := Centroid(dst)

	var sxx, sxz, szx, szz, ss float64
	for i := range src {
		sx := src[i].X - srcC.X
		sz := src[i].Z - srcC.Z
		tx := dst[i].X - dstC.X
		tz := dst[i].Z - dstC.Z
		sxx += sx * tx
		sxz += sx * tz
		szx += sz * tx
		szz += sz * tz
		ss += sx*sx + sz*sz
	}

	theta := math.Atan2(sxz-szx, sxx+szz)
	c, s := math.Cos(theta), math.Sin(theta)

	scale := 1.0
	if ss > minScaleDenominator {
		scale = (c*(sxx+szz) + s*(sxz-szx)) / ss
	}
	if scale <= 0 {
		scale = 1
	}

	step := Transform{R: [4]float64{c, -s, s, c}, Scale: scale}
	rc := step.Apply(srcC)
	step.T = [2]float64{dstC.X - rc.X, dstC.Z - rc.Z}
	return step
}
