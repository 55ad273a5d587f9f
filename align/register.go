package align

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// EngineConfig holds the profile densities and correspondence backend used by
// Register. Iteration budgets and eps travel with each request.
type EngineConfig struct {
	CoarseRectPoints  int       `yaml:"coarseRectPoints" json:"coarseRectPoints"`
	CoarseHousePoints int       `yaml:"coarseHousePoints" json:"coarseHousePoints"`
	FineRectPoints    int       `yaml:"fineRectPoints" json:"fineRectPoints"`
	FineHousePoints   int       `yaml:"fineHousePoints" json:"fineHousePoints"`
	Index             IndexKind `yaml:"neighbors" json:"neighbors"`
}

// DefaultEngineConfig returns the densities of the reference pipeline.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CoarseRectPoints:  CoarseRectPoints,
		CoarseHousePoints: CoarseHousePoints,
		FineRectPoints:    FineRectPoints,
		FineHousePoints:   FineHousePoints,
		Index:             IndexBruteForce,
	}
}

// profiles builds the coarse and fine target profiles for a request.
func (c EngineConfig) profiles(kind ProfileKind, d Dims) (coarse, fine TargetProfile) {
	if kind == ProfileHouse {
		return NewTargetProfile(kind, d, c.CoarseHousePoints), NewTargetProfile(kind, d, c.FineHousePoints)
	}
	return NewTargetProfile(kind, d, c.CoarseRectPoints), NewTargetProfile(kind, d, c.FineRectPoints)
}

// Validate checks the request shape and reports the first problem found.
// Every error wraps ErrInvalidRequest.
func (req *RegistrationRequest) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
	}

	if len(req.Src) == 0 {
		return invalid("src is required")
	}
	if len(req.Src)%2 != 0 {
		return invalid("src must hold x,z pairs (got %d values)", len(req.Src))
	}
	for i, v := range req.Src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid("src[%d] is not finite", i)
		}
	}
	if req.TargetRect == nil {
		return invalid("targetRect is required")
	}
	if !(req.TargetRect.Width > 0) || !(req.TargetRect.Depth > 0) ||
		math.IsInf(req.TargetRect.Width, 0) || math.IsInf(req.TargetRect.Depth, 0) {
		return invalid("targetRect must have positive width and depth")
	}
	if req.Coarse < 0 || req.Fine < 0 {
		return invalid("iteration counts must be non-negative (coarse=%d fine=%d)", req.Coarse, req.Fine)
	}
	if req.Eps != nil && (*req.Eps < 0 || math.IsNaN(*req.Eps)) {
		return invalid("eps must be non-negative")
	}
	if s := req.SeedTransform; s != nil {
		if !(s.Scale > 0) || math.IsInf(s.Scale, 0) {
			return invalid("seedTransform.scale must be positive")
		}
		if math.IsNaN(s.RotYDeg) || math.IsNaN(s.OffsetX) || math.IsNaN(s.OffsetZ) {
			return invalid("seedTransform has NaN fields")
		}
	}
	return nil
}

// EpsOrDefault returns the requested eps or DefaultEps.
func (req *RegistrationRequest) EpsOrDefault() float64 {
	if req.Eps == nil {
		return DefaultEps
	}
	return *req.Eps
}

// ProfileKind returns the requested target shape.
func (req *RegistrationRequest) ProfileKind() ProfileKind {
	if req.UseHouseProfile {
		return ProfileHouse
	}
	return ProfileRectangle
}

// Register runs the full registration: seed, coarse pass, fine pass, and
// composition of the three transforms in that order.
//
// The returned transform maps source (scan) coordinates onto the target
// footprint. If ctx is cancelled between iterations the best-effort result so
// far is returned with Cancelled set, together with the context error.
func Register(ctx context.Context, req RegistrationRequest, cfg EngineConfig) (RegistrationResult, error) {
	if err := req.Validate(); err != nil {
		return RegistrationResult{}, err
	}

	src, err := UnflattenPoints(req.Src)
	if err != nil {
		return RegistrationResult{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	dims := *req.TargetRect
	coarseProfile, fineProfile := cfg.profiles(req.ProfileKind(), dims)
	eps := req.EpsOrDefault()

	// --- Step 1: Seed ---
	seed := Identity()
	if req.SeedTransform != nil {
		seed = req.SeedTransform.Transform()
	}
	seeded := seed.ApplyAll(src)

	result := RegistrationResult{ID: req.ID}
	finish := func(final Transform, residuals []float64) RegistrationResult {
		result.Transform = final.Wire()
		result.Residuals = residuals
		result.AppliedDims = dims.Scaled(final.Scale)
		result.SolvedDims = Extents(final.ApplyAll(src))
		return result
	}

	// --- Step 2: Coarse pass ---
	coarse, err := RunICP(ctx, seeded, coarseProfile.Points, PassConfig{
		MaxIterations: req.Coarse,
		Eps:           eps,
		Index:         cfg.Index,
	})
	result.CoarseIterations = coarse.Iterations
	if err != nil {
		result.Cancelled = errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		return finish(seed.Then(coarse.Transform), coarse.Residuals), fmt.Errorf("coarse pass: %w", err)
	}

	// --- Step 3: Fine pass on the coarse-aligned points ---
	refined := coarse.Transform.ApplyAll(seeded)
	fine, err := RunICP(ctx, refined, fineProfile.Points, PassConfig{
		MaxIterations: req.Fine,
		Eps:           eps,
		Index:         cfg.Index,
	})
	result.FineIterations = fine.Iterations
	result.Converged = fine.Converged

	residuals := make([]float64, 0, len(coarse.Residuals)+len(fine.Residuals))
	residuals = append(residuals, coarse.Residuals...)
	residuals = append(residuals, fine.Residuals...)

	// --- Step 4: Compose seed, then coarse, then fine ---
	final := Compose(seed, coarse.Transform, fine.Transform)
	if err != nil {
		result.Cancelled = errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		return finish(final, residuals), fmt.Errorf("fine pass: %w", err)
	}

	return finish(final, residuals), nil
}
