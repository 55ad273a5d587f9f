package align

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileFeatureCollection(t *testing.T) {
	p := NewTargetProfile(ProfileRectangle, Dims{Width: 10, Depth: 7}, 40)

	fc := ProfileFeatureCollection(p, true)
	require.Len(t, fc.Features, 2)

	outline := fc.Features[0]
	assert.Equal(t, RoleTarget, outline.Properties["role"])
	assert.InDelta(t, 70, outline.Properties["areaM2"].(float64), 1e-9)
	assert.InDelta(t, 34, outline.Properties["perimeterM"].(float64), 1e-9)
	_, ok := outline.Geometry.(orb.Polygon)
	assert.True(t, ok)

	samples := fc.Features[1]
	assert.Equal(t, 40, samples.Properties["count"])
	assert.Len(t, samples.Geometry.(orb.MultiPoint), 40)

	assert.Len(t, ProfileFeatureCollection(p, false).Features, 1)
}

func TestProfileFeatureCollectionMarshals(t *testing.T) {
	fc := ProfileFeatureCollection(NewTargetProfile(ProfileHouse, Dims{Width: 10, Depth: 7}, 100), false)
	data, err := json.Marshal(fc)
	require.NoError(t, err)

	decoded, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, decoded.Features, 1)
	assert.Equal(t, "house", decoded.Features[0].Properties["kind"])
	poly := decoded.Features[0].Geometry.(orb.Polygon)
	assert.Len(t, poly[0], 9)
}

func TestScanHull(t *testing.T) {
	tests := []struct {
		name     string
		points   []Point
		wantNil  bool
		wantArea float64
	}{
		{"too few", []Point{{0, 0}, {1, 1}}, true, 0},
		{"collinear", []Point{{0, 0}, {1, 1}, {2, 2}, {3, 3}}, true, 0},
		{"identical", []Point{{1, 1}, {1, 1}, {1, 1}}, true, 0},
		{"rectangle boundary", RectanglePoints(10, 7, 400), false, 70},
		{"with interior", []Point{{-2, -1}, {1, -1}, {2, -1}, {2, 1}, {-2, 1}, {0, 0}, {0.5, 0.2}}, false, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hull := ScanHull(tt.points, DefaultHullTolerance)
			if tt.wantNil {
				assert.Nil(t, hull)
				return
			}
			require.NotNil(t, hull)
			assert.Equal(t, hull[0], hull[len(hull)-1], "ring must be closed")
			// sampled boundaries may cut the corners slightly
			assert.InDelta(t, tt.wantArea, math.Abs(planar.Area(hull)), 0.1)
		})
	}
}

func TestScanHullSimplifies(t *testing.T) {
	// a nearly straight bottom edge collapses under the tolerance
	points := []Point{{0, 0}, {5, -0.01}, {10, 0}, {10, 7}, {0, 7}}
	assert.Len(t, ScanHull(points, 0), 6)
	assert.Len(t, ScanHull(points, 0.05), 5)
}

func TestOutcomeFeatureCollection(t *testing.T) {
	session := NewSession(DirectRunner(DefaultEngineConfig()), quietLogger())
	src := NewTransform(1.2, deg(15), 0, 0).ApplyAll(RectanglePoints(10, 7, 400))
	out, err := session.Align(t.Context(), src, AlignRequest{
		TargetDims: &Dims{Width: 10, Depth: 7},
		Coarse:     3,
		Fine:       10,
	})
	require.NoError(t, err)

	fc := OutcomeFeatureCollection(out, DefaultHullTolerance)
	require.Len(t, fc.Features, 3)

	roles := make([]string, len(fc.Features))
	for i, f := range fc.Features {
		roles[i] = f.Properties["role"].(string)
	}
	assert.Equal(t, []string{RoleTarget, RoleAligned, RoleHull}, roles)

	assert.Len(t, fc.Features[1].Geometry.(orb.MultiPoint), len(src))
	assert.InDelta(t, 1, fc.Features[2].Properties["coverage"].(float64), 0.01)
	assert.InDelta(t, 70*SqFtPerSqM, fc.Features[0].Properties["areaFt2"].(float64), 1e-9)
}
