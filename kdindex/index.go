// Package kdindex is an exact point index on top of gonum's k-d tree.
package kdindex

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"sort"

	"github.com/patrikhermansson/mdbench/core"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Name identifies this index in benchmark output.
const Name = "kdtree"

// entry is a stored point tagged with its dataset position.
type entry struct {
	coords kdtree.Point
	pos    int
}

// Compare satisfies kdtree.Comparable. c must be an entry.
func (e entry) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return e.coords[d] - c.(entry).coords[d]
}

// Dims returns the number of dimensions of the point.
func (e entry) Dims() int { return len(e.coords) }

// Distance returns the squared Euclidean distance to c. c must be an entry.
func (e entry) Distance(c kdtree.Comparable) float64 {
	return e.coords.Distance(c.(entry).coords)
}

// entries is a collection of entries that satisfies kdtree.Interface and kdtree.Bounder.
type entries []entry

func (p entries) Index(i int) kdtree.Comparable         { return p[i] }
func (p entries) Len() int                              { return len(p) }
func (p entries) Pivot(d kdtree.Dim) int                { return plane{entries: p, Dim: d}.Pivot() }
func (p entries) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Bounds returns the bounding box of the entries as a pair of kdtree.Points.
func (p entries) Bounds() *kdtree.Bounding {
	if len(p) == 0 {
		return nil
	}
	lo := append(kdtree.Point(nil), p[0].coords...)
	hi := append(kdtree.Point(nil), p[0].coords...)
	for _, e := range p[1:] {
		for d, v := range e.coords {
			lo[d] = math.Min(lo[d], v)
			hi[d] = math.Max(hi[d], v)
		}
	}
	return &kdtree.Bounding{Min: lo, Max: hi}
}

// plane pivots entries on one dimension.
type plane struct {
	kdtree.Dim
	entries
}

func (p plane) Less(i, j int) bool {
	return p.entries[i].coords[p.Dim] < p.entries[j].coords[p.Dim]
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfRandoms(p, 100)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.entries = p.entries[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.entries[i], p.entries[j] = p.entries[j], p.entries[i]
}

// KDIndex stores points in a bounding k-d tree.
type KDIndex struct {
	tree      *kdtree.Tree
	dimension int
	count     int
}

// New builds the tree from points. All points must share one dimensionality.
func New(points []core.Point) (*KDIndex, error) {
	if len(points) == 0 {
		return nil, errors.New("cannot build a k-d tree from an empty point set")
	}
	dim := len(points[0])
	es := make(entries, len(points))
	for i, p := range points {
		if len(p) != dim {
			return nil, fmt.Errorf("point %d has dimension %d, expected %d", i, len(p), dim)
		}
		es[i] = entry{coords: toKD(p), pos: i}
	}
	log.Debug().Msgf("Building k-d tree over %d points (%d dimensions)", len(points), dim)
	return &KDIndex{
		tree:      kdtree.New(es, true),
		dimension: dim,
		count:     len(points),
	}, nil
}

// Factory adapts New to core.Factory.
func Factory(points []core.Point) (core.Index, error) {
	return New(points)
}

func toKD(p core.Point) kdtree.Point {
	kp := make(kdtree.Point, len(p))
	for i, c := range p {
		kp[i] = float64(c)
	}
	return kp
}

func fromKD(kp kdtree.Point) core.Point {
	p := make(core.Point, len(kp))
	for i, c := range kp {
		p[i] = uint64(c)
	}
	return p
}

func (x *KDIndex) checkDim(p core.Point) error {
	if len(p) != x.dimension {
		return fmt.Errorf("query dimension %d does not match index dimension %d", len(p), x.dimension)
	}
	return nil
}

// intersects reports whether the node's bounding box overlaps [lower, upper].
// Nodes without a bounding box are always visited.
func intersects(b *kdtree.Bounding, lower, upper kdtree.Point) bool {
	if b == nil {
		return true
	}
	lo, hi := b.Min.(kdtree.Point), b.Max.(kdtree.Point)
	for d := range lower {
		if hi[d] < lower[d] || lo[d] > upper[d] {
			return false
		}
	}
	return true
}

func inside(p, lower, upper kdtree.Point) bool {
	for d := range p {
		if p[d] < lower[d] || p[d] > upper[d] {
			return false
		}
	}
	return true
}

// visit walks the subtree rooted at n, pruning by bounding box, and calls fn for
// every point inside [lower, upper]. It stops as soon as fn returns false.
func visit(n *kdtree.Node, lower, upper kdtree.Point, fn func(kdtree.Point) bool) bool {
	if n == nil || !intersects(n.Bounding, lower, upper) {
		return true
	}
	if !visit(n.Left, lower, upper, fn) {
		return false
	}
	if p := n.Point.(entry).coords; inside(p, lower, upper) && !fn(p) {
		return false
	}
	return visit(n.Right, lower, upper, fn)
}

// Contains reports whether p is stored in the tree.
func (x *KDIndex) Contains(p core.Point) (bool, error) {
	if err := x.checkDim(p); err != nil {
		return false, err
	}
	kp := toKD(p)
	found := false
	visit(x.tree.Root, kp, kp, func(kdtree.Point) bool {
		found = true
		return false
	})
	return found, nil
}

// Range returns the stored points inside the closed box [lower, upper].
func (x *KDIndex) Range(lower, upper core.Point) (iter.Seq[core.Point], error) {
	if err := x.checkDim(lower); err != nil {
		return nil, err
	}
	if err := x.checkDim(upper); err != nil {
		return nil, err
	}
	lo, hi := toKD(lower), toKD(upper)
	return func(yield func(core.Point) bool) {
		visit(x.tree.Root, lo, hi, func(p kdtree.Point) bool {
			return yield(fromKD(p))
		})
	}, nil
}

// nearest returns the stored entries accepted by keeper, dropping the sentinel.
func (x *KDIndex) nearest(keeper kdtree.Keeper, q entry) []kdtree.ComparableDist {
	x.tree.NearestSet(keeper, q)
	var kept kdtree.Heap
	switch k := keeper.(type) {
	case *kdtree.NKeeper:
		kept = k.Heap
	case *kdtree.DistKeeper:
		kept = k.Heap
	}
	found := make([]kdtree.ComparableDist, 0, len(kept))
	for _, cd := range kept {
		if cd.Comparable != nil {
			found = append(found, cd)
		}
	}
	return found
}

// Knn returns the k stored points nearest to q, ascending by distance.
// Points at equal distance are ordered by their position in the dataset.
func (x *KDIndex) Knn(q core.Point, k int) ([]core.Point, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", core.ErrInvalidK, k)
	}
	if err := x.checkDim(q); err != nil {
		return nil, err
	}
	k = min(k, x.count)
	query := entry{coords: toKD(q), pos: -1}

	// One extra neighbor shows whether the k-th distance is shared with points
	// the keeper may have dropped. If so, collect every point within that distance.
	found := x.nearest(kdtree.NewNKeeper(min(k+1, x.count)), query)
	sortByDistance(found)
	if len(found) > k && found[k].Dist == found[k-1].Dist {
		found = x.nearest(kdtree.NewDistKeeper(found[k-1].Dist), query)
		sortByDistance(found)
	}
	found = found[:min(k, len(found))]

	result := make([]core.Point, len(found))
	for i, cd := range found {
		result[i] = fromKD(cd.Comparable.(entry).coords)
	}
	return result, nil
}

func sortByDistance(found []kdtree.ComparableDist) {
	sort.Slice(found, func(i, j int) bool {
		if found[i].Dist != found[j].Dist {
			return found[i].Dist < found[j].Dist
		}
		return found[i].Comparable.(entry).pos < found[j].Comparable.(entry).pos
	})
}

// Stats returns some basic statistics about the index.
func (x *KDIndex) Stats() core.IndexStats {
	return core.IndexStats{
		Count:     x.count,
		Dimension: x.dimension,
		Name:      Name,
	}
}

// Check that KDIndex implements the core.Index interface.
var _ core.Index = (*KDIndex)(nil)
