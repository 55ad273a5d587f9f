package align

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// NeighborIndex answers nearest-neighbor queries against a fixed point set.
// Nearest returns the index of the closest point and its squared distance,
// or (-1, +Inf) when the set is empty.
type NeighborIndex interface {
	Nearest(q Point) (int, float64)
}

// IndexKind names a NeighborIndex implementation.
type IndexKind string

const (
	IndexBruteForce IndexKind = "brute"
	IndexKDTree     IndexKind = "kdtree"
)

// ParseIndexKind accepts "brute", "bruteforce" or "kdtree".
func ParseIndexKind(s string) (IndexKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "brute", "bruteforce", "brute-force":
		return IndexBruteForce, nil
	case "kdtree", "kd-tree":
		return IndexKDTree, nil
	default:
		return "", fmt.Errorf("unknown neighbor index %q", s)
	}
}

// NewNeighborIndex builds the requested index over dst.
func NewNeighborIndex(kind IndexKind, dst []Point) NeighborIndex {
	if kind == IndexKDTree {
		return NewKDTreeIndex(dst)
	}
	return NewBruteForceIndex(dst)
}

// BruteForceIndex scans every destination point. The first minimum wins.
type BruteForceIndex struct {
	points []Point
}

// NewBruteForceIndex wraps dst without copying.
func NewBruteForceIndex(dst []Point) *BruteForceIndex {
	return &BruteForceIndex{points: dst}
}

// Nearest implements NeighborIndex.
func (b *BruteForceIndex) Nearest(q Point) (int, float64) {
	best, bestD := -1, math.Inf(1)
	for j, p := range b.points {
		dx := p.X - q.X
		dz := p.Z - q.Z
		if d := dx*dx + dz*dz; d < bestD {
			best, bestD = j, d
		}
	}
	return best, bestD
}

// KDTreeIndex is a 2-d tree over the destination points.
type KDTreeIndex struct {
	tree *kdtree.Tree
}

// NewKDTreeIndex builds a balanced tree over a copy of dst.
func NewKDTreeIndex(dst []Point) *KDTreeIndex {
	if len(dst) == 0 {
		return &KDTreeIndex{}
	}
	pts := make(indexedPoints, len(dst))
	for i, p := range dst {
		pts[i] = indexedPoint{Point: p, idx: i}
	}
	return &KDTreeIndex{tree: kdtree.New(pts, false)}
}

// Nearest implements NeighborIndex.
func (k *KDTreeIndex) Nearest(q Point) (int, float64) {
	if k.tree == nil {
		return -1, math.Inf(1)
	}
	c, d := k.tree.Nearest(indexedPoint{Point: q, idx: -1})
	if c == nil {
		return -1, math.Inf(1)
	}
	return c.(indexedPoint).idx, d
}

// indexedPoint is a kdtree.Comparable that remembers its position in the
// original destination slice.
type indexedPoint struct {
	Point
	idx int
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	if d == 0 {
		return p.X - q.X
	}
	return p.Z - q.Z
}

func (p indexedPoint) Dims() int { return 2 }

// Distance returns the squared Euclidean distance.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	dx := p.X - q.X
	dz := p.Z - q.Z
	return dx*dx + dz*dz
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }
func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return plane{indexedPoints: p, Dim: d}.Pivot()
}

// plane sorts indexedPoints along one dimension for median partitioning.
type plane struct {
	kdtree.Dim
	indexedPoints
}

func (p plane) Less(i, j int) bool {
	if p.Dim == 0 {
		return p.indexedPoints[i].X < p.indexedPoints[j].X
	}
	return p.indexedPoints[i].Z < p.indexedPoints[j].Z
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.indexedPoints = p.indexedPoints[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}
