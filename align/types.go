package align

import "errors"

// Unit conversions used at the external boundary.
const (
	SqFtPerSqM = 10.7639
	FtPerM     = 3.28084
)

var (
	// ErrInvalidRequest wraps every validation failure of a RegistrationRequest.
	ErrInvalidRequest = errors.New("invalid registration request")

	// ErrMeshUnavailable is returned when a mesh source cannot produce points.
	ErrMeshUnavailable = errors.New("mesh unavailable")
)

// Point is a plan-view coordinate in meters (X east, Z north).
type Point struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// Dims is a footprint size in meters.
type Dims struct {
	Width float64 `json:"width" yaml:"width"`
	Depth float64 `json:"depth" yaml:"depth"`
}

// Scaled returns d with both extents multiplied by s.
func (d Dims) Scaled(s float64) Dims {
	return Dims{Width: d.Width * s, Depth: d.Depth * s}
}

// AreaSqFt returns the footprint area in square feet.
func (d Dims) AreaSqFt() float64 {
	return d.Width * d.Depth * SqFtPerSqM
}

// PerimeterFt returns the rectangle perimeter in feet.
func (d Dims) PerimeterFt() float64 {
	return 2 * (d.Width + d.Depth) * FtPerM
}

// MeshStats summarizes a plan-view point set.
type MeshStats struct {
	Mean     Point   `json:"mean"`
	Width    float64 `json:"width"`
	Depth    float64 `json:"depth"`
	AngleRad float64 `json:"angleRad"` // principal axis relative to world X
}

// SeedTransform is the external transform representation: uniform scale,
// yaw in degrees, and plan-view offset in meters.
type SeedTransform struct {
	Scale   float64 `json:"scale" yaml:"scale"`
	RotYDeg float64 `json:"rotYdeg" yaml:"rotYdeg"`
	OffsetX float64 `json:"offsetX" yaml:"offsetX"`
	OffsetZ float64 `json:"offsetZ" yaml:"offsetZ"`
}

// IdentitySeed returns a seed that leaves points unchanged.
func IdentitySeed() SeedTransform {
	return SeedTransform{Scale: 1}
}

// RegistrationRequest is the request message of the registration engine.
// Src is a flat [x,z,x,z,...] sequence.
type RegistrationRequest struct {
	ID              string         `json:"id,omitempty"`
	Src             []float64      `json:"src"`
	TargetRect      *Dims          `json:"targetRect"`
	Coarse          int            `json:"coarse"`
	Fine            int            `json:"fine"`
	Eps             *float64       `json:"eps,omitempty"`
	SeedTransform   *SeedTransform `json:"seedTransform,omitempty"`
	UseHouseProfile bool           `json:"useHouseProfile,omitempty"`
}

// WireTransform is the response encoding of a Transform.
type WireTransform struct {
	R     [4]float64 `json:"R"`
	T     [2]float64 `json:"t"`
	Scale float64    `json:"scale"`
}

// RegistrationResult is the response message of the registration engine.
type RegistrationResult struct {
	ID               string        `json:"id,omitempty"`
	Transform        WireTransform `json:"transform"`
	Residuals        []float64     `json:"residuals"`
	AppliedDims      Dims          `json:"appliedDims"`
	SolvedDims       Dims          `json:"solvedDims"`
	CoarseIterations int           `json:"coarseIterations"`
	FineIterations   int           `json:"fineIterations"`
	Converged        bool          `json:"converged"`
	Cancelled        bool          `json:"cancelled,omitempty"`
}

// FinalResidual returns the last residual, or -1 when no iteration ran.
func (r *RegistrationResult) FinalResidual() float64 {
	if len(r.Residuals) == 0 {
		return -1
	}
	return r.Residuals[len(r.Residuals)-1]
}
