package align

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// ErrSessionBusy is returned when a session already has a registration in
// flight.
var ErrSessionBusy = errors.New("alignment session busy")

// Runner executes one registration request. *Pool satisfies it.
type Runner interface {
	Do(ctx context.Context, req RegistrationRequest) (RegistrationResult, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req RegistrationRequest) (RegistrationResult, error)

// Do implements Runner.
func (f RunnerFunc) Do(ctx context.Context, req RegistrationRequest) (RegistrationResult, error) {
	return f(ctx, req)
}

// DirectRunner runs registrations on the calling goroutine.
func DirectRunner(cfg EngineConfig) Runner {
	return RunnerFunc(func(ctx context.Context, req RegistrationRequest) (RegistrationResult, error) {
		return Register(ctx, req, cfg)
	})
}

// AlignRequest describes one alignment attempt driven by a Session.
type AlignRequest struct {
	TargetAreaFt2   float64        `json:"targetAreaFt2"`
	TargetDims      *Dims          `json:"targetDims,omitempty"`
	Current         *SeedTransform `json:"currentTransform,omitempty"`
	Coarse          int            `json:"coarse"`
	Fine            int            `json:"fine"`
	Eps             *float64       `json:"eps,omitempty"`
	UseHouseProfile bool           `json:"useHouseProfile,omitempty"`
}

// targetDims resolves the footprint from explicit dims or the area.
func (r AlignRequest) targetDims() (Dims, error) {
	if r.TargetDims != nil {
		return *r.TargetDims, nil
	}
	if r.TargetAreaFt2 > 0 {
		return TargetDimsFromArea(r.TargetAreaFt2), nil
	}
	return Dims{}, fmt.Errorf("%w: targetAreaFt2 or targetDims is required", ErrInvalidRequest)
}

// targetArea resolves the area from the request or the explicit dims.
func (r AlignRequest) targetArea(d Dims) float64 {
	if r.TargetAreaFt2 > 0 {
		return r.TargetAreaFt2
	}
	return d.AreaSqFt()
}

// Footprint is one side of the before/after footprint comparison.
type Footprint struct {
	Dims        Dims    `json:"dims"`
	AreaSqFt    float64 `json:"areaFt2"`
	PerimeterFt float64 `json:"perimeterFt"`
}

// NewFootprint summarizes a rectangle footprint in feet.
func NewFootprint(d Dims) Footprint {
	return Footprint{Dims: d, AreaSqFt: d.AreaSqFt(), PerimeterFt: d.PerimeterFt()}
}

// AlignOutcome is everything a session hands back after one attempt.
type AlignOutcome struct {
	SessionID   string             `json:"sessionId"`
	RequestID   string             `json:"requestId"`
	Seed        SeedTransform      `json:"seed"`
	Suggested   SeedTransform      `json:"suggested"`
	Applied     SeedTransform      `json:"applied"`
	Result      RegistrationResult `json:"result"`
	Placeholder bool               `json:"placeholder"`
	Before      Footprint          `json:"before"`
	After       Footprint          `json:"after"`
	Profile     ProfileKind        `json:"profile"`
	Target      Dims               `json:"target"`
	Elapsed     time.Duration      `json:"elapsedNs"`
	CompletedAt time.Time          `json:"completedAt"`

	// Source holds the sampled scan points; not serialized.
	Source []Point `json:"-"`
}

// Session drives one alignment at a time: sample, seed with AutoAlign,
// register through a Runner, and summarize.
type Session struct {
	ID     string
	Stride int

	runner Runner
	logger *log.Logger
	busy   atomic.Bool
}

// NewSession creates a session with a fresh id.
func NewSession(runner Runner, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	id := uuid.NewString()
	return &Session{
		ID:     id,
		Stride: DefaultRegisterStride,
		runner: runner,
		logger: logger.With("session", id[:8]),
	}
}

// Busy reports whether a registration is in flight.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

// LoadPoints samples src. When the mesh is unavailable the placeholder
// rectangle for fallback is returned instead and placeholder is true.
func (s *Session) LoadPoints(ctx context.Context, src MeshSource, fallback Dims) (points []Point, placeholder bool, err error) {
	geoms, err := src.Geometries(ctx)
	if err != nil {
		if errors.Is(err, ErrMeshUnavailable) {
			s.logger.Warn("mesh unavailable, using placeholder", "err", err)
			return PlaceholderPoints(fallback), true, nil
		}
		return nil, false, err
	}
	points = SampleGeometries(geoms, s.Stride)
	if len(points) == 0 {
		s.logger.Warn("mesh produced no points, using placeholder")
		return PlaceholderPoints(fallback), true, nil
	}
	return points, false, nil
}

// AutoAlignSource computes the one-shot seed for a mesh source, sampling
// at the stats stride.
func (s *Session) AutoAlignSource(ctx context.Context, src MeshSource, targetAreaFt2 float64, current SeedTransform) (SeedTransform, error) {
	geoms, err := src.Geometries(ctx)
	if err != nil {
		return SeedTransform{}, err
	}
	return AutoAlignPoints(SampleGeometries(geoms, DefaultStatsStride), targetAreaFt2, current), nil
}

// AlignSource loads points from src, falling back to a placeholder, then
// runs Align.
func (s *Session) AlignSource(ctx context.Context, src MeshSource, req AlignRequest) (*AlignOutcome, error) {
	dims, err := req.targetDims()
	if err != nil {
		return nil, err
	}
	points, placeholder, err := s.LoadPoints(ctx, src, dims)
	if err != nil {
		return nil, err
	}
	out, err := s.Align(ctx, points, req)
	if out != nil {
		out.Placeholder = placeholder
	}
	return out, err
}

// Align registers points against the requested footprint. Only one call may
// be in flight per session; a concurrent call gets ErrSessionBusy.
func (s *Session) Align(ctx context.Context, points []Point, req AlignRequest) (*AlignOutcome, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrSessionBusy
	}
	defer s.busy.Store(false)

	dims, err := req.targetDims()
	if err != nil {
		return nil, err
	}
	area := req.targetArea(dims)
	current := IdentitySeed()
	if req.Current != nil {
		current = *req.Current
	}

	// --- Step 1: Seed ---
	// The seed is absolute for the raw points; current only shapes Suggested.
	stats := ComputeMeshStats(points)
	seed := AutoAlign(stats, area, IdentitySeed())
	suggested := AutoAlign(stats, area, current)

	// --- Step 2: Register ---
	regReq := RegistrationRequest{
		ID:              uuid.NewString(),
		Src:             FlattenPoints(points),
		TargetRect:      &dims,
		Coarse:          req.Coarse,
		Fine:            req.Fine,
		Eps:             req.Eps,
		SeedTransform:   &seed,
		UseHouseProfile: req.UseHouseProfile,
	}

	s.logger.Info("registering", "request", regReq.ID, "points", len(points),
		"target", fmt.Sprintf("%.2fx%.2f", dims.Width, dims.Depth), "seed", seed.Rounded().String())

	start := time.Now()
	res, err := s.runner.Do(ctx, regReq)
	if err != nil && !res.Cancelled {
		return nil, fmt.Errorf("registering: %w", err)
	}

	// --- Step 3: Summarize ---
	out := &AlignOutcome{
		SessionID:   s.ID,
		RequestID:   regReq.ID,
		Seed:        seed,
		Suggested:   suggested,
		Applied:     res.Transform.Transform().Seed(),
		Result:      res,
		Before:      NewFootprint(dims),
		After:       NewFootprint(res.AppliedDims),
		Profile:     regReq.ProfileKind(),
		Target:      dims,
		Elapsed:     time.Since(start),
		CompletedAt: time.Now(),
		Source:      points,
	}

	if err != nil {
		s.logger.Warn("registration cancelled, returning partial result", "request", regReq.ID, "err", err)
		return out, err
	}

	s.logger.Info("registration complete", "request", regReq.ID,
		"applied", out.Applied.Rounded().String(),
		"residual", res.FinalResidual(),
		"elapsed", out.Elapsed.Round(time.Millisecond))
	return out, nil
}
