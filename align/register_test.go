package align

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

// rectRequest builds a request whose source is the 10 x 7 target boundary
// moved by tf.
func rectRequest(tf Transform, coarse, fine int) RegistrationRequest {
	src := tf.ApplyAll(RectanglePoints(10, 7, 400))
	return RegistrationRequest{
		Src:        FlattenPoints(src),
		TargetRect: &Dims{Width: 10, Depth: 7},
		Coarse:     coarse,
		Fine:       fine,
		Eps:        floatPtr(1e-4),
	}
}

func TestRegistrationRequestValidate(t *testing.T) {
	valid := func() RegistrationRequest {
		return RegistrationRequest{
			Src:        []float64{0, 0, 1, 0, 1, 1},
			TargetRect: &Dims{Width: 10, Depth: 7},
			Coarse:     3,
			Fine:       10,
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *RegistrationRequest)
		wantErr string
	}{
		{"valid", func(r *RegistrationRequest) {}, ""},
		{"missing src", func(r *RegistrationRequest) { r.Src = nil }, "src is required"},
		{"odd src", func(r *RegistrationRequest) { r.Src = []float64{1, 2, 3} }, "x,z pairs"},
		{"nan src", func(r *RegistrationRequest) { r.Src[2] = math.NaN() }, "src[2] is not finite"},
		{"missing target", func(r *RegistrationRequest) { r.TargetRect = nil }, "targetRect is required"},
		{"zero width", func(r *RegistrationRequest) { r.TargetRect.Width = 0 }, "positive width and depth"},
		{"nan depth", func(r *RegistrationRequest) { r.TargetRect.Depth = math.NaN() }, "positive width and depth"},
		{"negative coarse", func(r *RegistrationRequest) { r.Coarse = -1 }, "non-negative"},
		{"negative eps", func(r *RegistrationRequest) { r.Eps = floatPtr(-1) }, "eps must be non-negative"},
		{"zero seed scale", func(r *RegistrationRequest) { r.SeedTransform = &SeedTransform{} }, "seedTransform.scale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRequest))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegisterRejectsMalformedRequest(t *testing.T) {
	_, err := Register(context.Background(), RegistrationRequest{}, DefaultEngineConfig())
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestRegisterIdentityRecovery(t *testing.T) {
	req := rectRequest(Identity(), 3, 10)

	res, err := Register(context.Background(), req, DefaultEngineConfig())
	require.NoError(t, err)

	tf := res.Transform.Transform()
	assert.InDelta(t, 1, tf.Scale, 1e-9)
	assert.InDelta(t, 0, tf.AngleDeg(), 1e-9)
	assert.InDelta(t, 0, tf.T[0], 1e-9)
	assert.InDelta(t, 0, tf.T[1], 1e-9)
	assert.Less(t, res.FinalResidual(), 1e-12)
	assert.True(t, res.Converged)
	assert.InDelta(t, 10, res.AppliedDims.Width, 1e-9)
	assert.InDelta(t, 7, res.AppliedDims.Depth, 1e-9)
}

func TestRegisterScaleRecovery(t *testing.T) {
	for _, k := range []float64{1.2, 1.5, 0.8} {
		req := rectRequest(NewTransform(k, 0, 0, 0), 5, 20)
		req.Eps = floatPtr(1e-10)

		res, err := Register(context.Background(), req, DefaultEngineConfig())
		require.NoError(t, err)
		assert.InDelta(t, 1/k, res.Transform.Scale, 1e-2, "k=%v", k)
		assert.Less(t, res.FinalResidual(), 1e-6, "k=%v", k)
	}
}

func TestRegisterRotationRecovery(t *testing.T) {
	for _, phi := range []float64{20, -30} {
		moved := NewTransform(1, deg(phi), 1.5, -0.7)
		req := rectRequest(moved, 3, 10)

		src, err := UnflattenPoints(req.Src)
		require.NoError(t, err)
		seed := AutoAlignPoints(src, 70*SqFtPerSqM, IdentitySeed())
		assert.InDelta(t, -phi, seed.RotYDeg, 1.0, "phi=%v", phi)
		req.SeedTransform = &seed

		res, err := Register(context.Background(), req, DefaultEngineConfig())
		require.NoError(t, err)
		tf := res.Transform.Transform()
		assert.InDelta(t, -phi, tf.AngleDeg(), 0.5, "phi=%v", phi)
		assert.InDelta(t, 1, tf.Scale, 1e-3, "phi=%v", phi)
		assert.Less(t, res.FinalResidual(), 1e-3, "phi=%v", phi)

		// the final transform undoes the motion
		p := tf.Apply(moved.Apply(Point{X: 5, Z: 3.5}))
		assert.InDelta(t, 5, p.X, 0.05)
		assert.InDelta(t, 3.5, p.Z, 0.05)
	}
}

func TestRegisterResidualsAreMonotonic(t *testing.T) {
	req := rectRequest(NewTransform(1.2, deg(15), 0, 0), 3, 10)

	res, err := Register(context.Background(), req, DefaultEngineConfig())
	require.NoError(t, err)

	assert.LessOrEqual(t, res.CoarseIterations, req.Coarse)
	assert.LessOrEqual(t, res.FineIterations, req.Fine)
	require.Len(t, res.Residuals, res.CoarseIterations+res.FineIterations)

	for i := 2; i < len(res.Residuals); i++ {
		assert.LessOrEqual(t, res.Residuals[i], res.Residuals[i-1]+1e-9, "residual %d increased", i)
	}
}

// Rectangle 10 x 7, source scaled by 1.2 and rotated by 15 degrees, no seed.
func TestRegisterEndToEndExample(t *testing.T) {
	for _, index := range []IndexKind{IndexBruteForce, IndexKDTree} {
		t.Run(string(index), func(t *testing.T) {
			req := rectRequest(NewTransform(1.2, deg(15), 0, 0), 3, 10)
			cfg := DefaultEngineConfig()
			cfg.Index = index

			res, err := Register(context.Background(), req, cfg)
			require.NoError(t, err)

			tf := res.Transform.Transform()
			assert.InDelta(t, 1/1.2, tf.Scale, 1e-2)
			assert.InDelta(t, -15, tf.AngleDeg(), 2)
			assert.Less(t, res.FinalResidual(), 1e-2)

			// appliedDims is the target scaled by the final scale
			assert.InDelta(t, 10*tf.Scale, res.AppliedDims.Width, 1e-9)
			assert.InDelta(t, 7*tf.Scale, res.AppliedDims.Depth, 1e-9)

			// the aligned scan footprint is close to the target
			assert.InDelta(t, 10, res.SolvedDims.Width, 0.2)
			assert.InDelta(t, 7, res.SolvedDims.Depth, 0.2)
		})
	}
}

func TestRegisterHouseProfile(t *testing.T) {
	moved := NewTransform(1.1, deg(10), 0.5, 0.3)
	src := moved.ApplyAll(HouseProfilePoints(10, 7, 700))
	req := RegistrationRequest{
		Src:             FlattenPoints(src),
		TargetRect:      &Dims{Width: 10, Depth: 7},
		Coarse:          5,
		Fine:            15,
		Eps:             floatPtr(1e-6),
		UseHouseProfile: true,
	}

	res, err := Register(context.Background(), req, DefaultEngineConfig())
	require.NoError(t, err)
	tf := res.Transform.Transform()
	assert.InDelta(t, 1/1.1, tf.Scale, 1e-3)
	assert.InDelta(t, -10, tf.AngleDeg(), 0.5)
	assert.Less(t, res.FinalResidual(), 1e-3)
}

func TestRegisterSeedOnly(t *testing.T) {
	seed := SeedTransform{Scale: 0.9, RotYDeg: 30, OffsetX: 1, OffsetZ: -2}
	req := rectRequest(Identity(), 0, 0)
	req.SeedTransform = &seed

	res, err := Register(context.Background(), req, DefaultEngineConfig())
	require.NoError(t, err)

	assert.Empty(t, res.Residuals)
	got := res.Transform.Transform().Seed()
	assert.InDelta(t, seed.Scale, got.Scale, 1e-12)
	assert.InDelta(t, seed.RotYDeg, got.RotYDeg, 1e-9)
	assert.InDelta(t, seed.OffsetX, got.OffsetX, 1e-12)
	assert.InDelta(t, seed.OffsetZ, got.OffsetZ, 1e-12)
	assert.InDelta(t, 9, res.AppliedDims.Width, 1e-9)
}

// The reported transform must equal seed, then coarse, then fine applied in
// sequence to the raw source.
func TestRegisterComposesSeedCoarseFine(t *testing.T) {
	moved := NewTransform(1.25, deg(-8), 2, 1)
	req := rectRequest(moved, 3, 10)
	seed := SeedTransform{Scale: 0.85, RotYDeg: 6, OffsetX: -1.5, OffsetZ: -0.9}
	req.SeedTransform = &seed

	res, err := Register(context.Background(), req, DefaultEngineConfig())
	require.NoError(t, err)

	src, _ := UnflattenPoints(req.Src)
	seeded := seed.Transform().ApplyAll(src)
	cfg := DefaultEngineConfig()
	coarseProfile, fineProfile := cfg.profiles(ProfileRectangle, *req.TargetRect)

	coarse, err := RunICP(context.Background(), seeded, coarseProfile.Points, PassConfig{MaxIterations: 3, Eps: 1e-4})
	require.NoError(t, err)
	refined := coarse.Transform.ApplyAll(seeded)
	fine, err := RunICP(context.Background(), refined, fineProfile.Points, PassConfig{MaxIterations: 10, Eps: 1e-4})
	require.NoError(t, err)
	sequential := fine.Transform.ApplyAll(refined)

	final := res.Transform.Transform()
	for i, p := range src {
		got := final.Apply(p)
		assert.InDelta(t, sequential[i].X, got.X, 1e-9)
		assert.InDelta(t, sequential[i].Z, got.Z, 1e-9)
	}
}

func TestRegisterCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Register(ctx, rectRequest(NewTransform(1.2, 0, 0, 0), 3, 10), DefaultEngineConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, res.Cancelled)
	assert.Equal(t, 0, res.CoarseIterations)
	assert.Equal(t, 1.0, res.Transform.Scale)
}
