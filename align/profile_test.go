package align

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProfileKind(t *testing.T) {
	tests := []struct {
		in      string
		want    ProfileKind
		wantErr bool
	}{
		{"", ProfileRectangle, false},
		{"rect", ProfileRectangle, false},
		{"Rectangle", ProfileRectangle, false},
		{" house ", ProfileHouse, false},
		{"castle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProfileKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRectanglePointsWalk(t *testing.T) {
	pts := RectanglePoints(4, 2, 12)
	require.Len(t, pts, 12)

	// perimeter 12, one point per meter, counter-clockwise from bottom-left
	want := []Point{
		{-2, -1}, {-1, -1}, {0, -1}, {1, -1},
		{2, -1}, {2, 0},
		{2, 1}, {1, 1}, {0, 1}, {-1, 1},
		{-2, 1}, {-2, 0},
	}
	for i := range want {
		assert.True(t, pointsEqual(want[i], pts[i]), "point %d: got %v want %v", i, pts[i], want[i])
	}
}

func TestRectanglePointsOnBoundary(t *testing.T) {
	const w, d = 10.0, 7.0
	for _, p := range RectanglePoints(w, d, 400) {
		onX := math.Abs(math.Abs(p.X)-w/2) < 1e-9
		onZ := math.Abs(math.Abs(p.Z)-d/2) < 1e-9
		assert.True(t, onX || onZ, "point %v is not on the boundary", p)
		assert.LessOrEqual(t, math.Abs(p.X), w/2+1e-9)
		assert.LessOrEqual(t, math.Abs(p.Z), d/2+1e-9)
	}
}

func TestProfilesScaleLinearly(t *testing.T) {
	tests := []struct {
		name string
		gen  func(w, d float64, n int) []Point
	}{
		{"rectangle", RectanglePoints},
		{"house", HouseProfilePoints},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.gen(10, 7, 500)
			b := tt.gen(20, 14, 500)
			require.Len(t, b, len(a))
			for i := range a {
				assert.InDelta(t, 2*a[i].X, b[i].X, 1e-9)
				assert.InDelta(t, 2*a[i].Z, b[i].Z, 1e-9)
			}
		})
	}
}

func TestHouseProfilePoints(t *testing.T) {
	const count = 2000
	pts := HouseProfilePoints(10, 7, count)

	assert.InDelta(t, count, len(pts), 8, "total should be close to the requested count")
	// the sequence starts at the first outline vertex
	assert.True(t, pointsEqual(Point{X: -5, Z: -3.5}, pts[0]))

	// closed: the last sample lies on the final edge, which returns to the start
	last := pts[len(pts)-1]
	assert.InDelta(t, -5, last.X, 1e-9)
	assert.Less(t, last.Z, -3.5+0.1)
}

func TestHouseProfileMinimumSamplesPerEdge(t *testing.T) {
	// Very low density still gives every edge two samples.
	pts := HouseProfilePoints(10, 7, 3)
	assert.Len(t, pts, 16)
}

func TestHouseOutline(t *testing.T) {
	ring := HouseOutline(10, 7)
	require.Len(t, ring, 9)
	assert.Equal(t, ring[0], ring[len(ring)-1], "ring must be closed")

	p := NewTargetProfile(ProfileHouse, Dims{Width: 10, Depth: 7}, 700)
	notchW := 0.18 * 10
	notchD := 0.12 * 7
	assert.InDelta(t, 70-notchW*notchD, p.Area(), 1e-9)
	assert.InDelta(t, 2*(10+7)+2*notchD, p.Perimeter(), 1e-9)
}

func TestNewTargetProfileRectangle(t *testing.T) {
	p := NewTargetProfile(ProfileRectangle, Dims{Width: 10, Depth: 7}, 400)
	assert.Equal(t, ProfileRectangle, p.Kind)
	assert.Len(t, p.Points, 400)
	assert.InDelta(t, 70, p.Area(), 1e-9)
	assert.InDelta(t, 34, p.Perimeter(), 1e-9)
	assert.Len(t, outlinePoints(p.Outline), 4)
}

func TestProfilesDegenerateInput(t *testing.T) {
	tests := []struct {
		name  string
		w, d  float64
		count int
		want  int
	}{
		{"zero count", 10, 7, 0, 0},
		{"negative count", 10, 7, -4, 0},
		{"zero dims", 0, 0, 10, 10},
		{"negative dims", -3, 2, 10, 10},
		{"nan dims", math.NaN(), 2, 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pts := RectanglePoints(tt.w, tt.d, tt.count)
			assert.Len(t, pts, tt.want)
			for _, p := range pts {
				assert.False(t, math.IsNaN(p.X) || math.IsNaN(p.Z))
			}
			house := HouseProfilePoints(tt.w, tt.d, tt.count)
			for _, p := range house {
				assert.False(t, math.IsNaN(p.X) || math.IsNaN(p.Z))
			}
		})
	}
}
