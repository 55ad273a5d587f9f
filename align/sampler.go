package align

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
)

// Default vertex strides used when projecting a mesh to the plan view.
const (
	DefaultRegisterStride = 60
	DefaultStatsStride    = 50
)

// MeshGeometry holds world-space vertex positions of one mesh (Y is up).
type MeshGeometry struct {
	Name      string
	Positions []r3.Vector
}

// SamplePoints returns the (x,z) projection of every stride-th vertex.
// No filtering or deduplication is applied. A stride below 1 is treated as 1.
func SamplePoints(vertices []r3.Vector, stride int) []Point {
	if stride < 1 {
		stride = 1
	}
	points := make([]Point, 0, len(vertices)/stride+1)
	for i := 0; i < len(vertices); i += stride {
		points = append(points, Point{X: vertices[i].X, Z: vertices[i].Z})
	}
	return points
}

// SampleGeometries samples every stride-th vertex across all geometries,
// restarting the stride at the beginning of each mesh.
func SampleGeometries(geoms []MeshGeometry, stride int) []Point {
	var points []Point
	for _, g := range geoms {
		points = append(points, SamplePoints(g.Positions, stride)...)
	}
	if points == nil {
		points = []Point{}
	}
	return points
}

// ParseOBJ reads the vertex positions ("v x y z") of a Wavefront OBJ stream.
// Faces, normals and texture coordinates are ignored.
func ParseOBJ(r io.Reader) (MeshGeometry, error) {
	var g MeshGeometry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "o", "g":
			if g.Name == "" && len(fields) > 1 {
				g.Name = fields[1]
			}
		case "v":
			if len(fields) < 4 {
				return MeshGeometry{}, fmt.Errorf("obj line %d: vertex needs 3 coordinates", line)
			}
			var v [3]float64
			for i := range v {
				f, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return MeshGeometry{}, fmt.Errorf("obj line %d: %w", line, err)
				}
				v[i] = f
			}
			g.Positions = append(g.Positions, r3.Vector{X: v[0], Y: v[1], Z: v[2]})
		}
	}
	if err := scanner.Err(); err != nil {
		return MeshGeometry{}, fmt.Errorf("reading obj: %w", err)
	}
	return g, nil
}

// MeshSource supplies world-space geometry for sampling.
type MeshSource interface {
	Geometries(ctx context.Context) ([]MeshGeometry, error)
}

// FileSource reads an OBJ mesh from disk.
type FileSource struct {
	Path string
}

// Geometries implements MeshSource.
func (s FileSource) Geometries(ctx context.Context) ([]MeshGeometry, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMeshUnavailable, err)
	}
	defer func() { _ = f.Close() }()

	g, err := ParseOBJ(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMeshUnavailable, s.Path, err)
	}
	return []MeshGeometry{g}, nil
}

// URLSource downloads an OBJ mesh over HTTP.
type URLSource struct {
	URL     string
	Options []FetchOption
}

// Geometries implements MeshSource.
func (s URLSource) Geometries(ctx context.Context) ([]MeshGeometry, error) {
	g, err := FetchMesh(ctx, s.URL, s.Options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMeshUnavailable, err)
	}
	return []MeshGeometry{g}, nil
}

// PointsSource wraps already projected plan-view points. Each point becomes a
// vertex at Y=0, so a stride of 1 reproduces the input.
type PointsSource struct {
	Points []Point
}

// Geometries implements MeshSource.
func (s PointsSource) Geometries(ctx context.Context) ([]MeshGeometry, error) {
	verts := make([]r3.Vector, len(s.Points))
	for i, p := range s.Points {
		verts[i] = r3.Vector{X: p.X, Z: p.Z}
	}
	return []MeshGeometry{{Name: "points", Positions: verts}}, nil
}

// PlaceholderPoints returns the rectangle used when no mesh can be loaded.
func PlaceholderPoints(d Dims) []Point {
	return RectanglePoints(d.Width, d.Depth, 200)
}
