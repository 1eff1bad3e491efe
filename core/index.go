package core

import "iter"

// Index is the multidimensional point index under test.
// Implementations are built once from an immutable point set and are
// treated as read-only for the rest of the benchmark.
type Index interface {

	// Contains reports whether the exact point is stored in the index.
	Contains(p Point) (bool, error)

	// Range returns the points inside the closed box [lower, upper].
	// The sequence is lazy, finite and can be iterated more than once.
	Range(lower, upper Point) (iter.Seq[Point], error)

	// Knn returns up to k stored points closest to q, ascending by distance.
	Knn(q Point, k int) ([]Point, error)

	// Stats returns metadata about the index, such as count and dimensionality.
	Stats() IndexStats
}

// ProposedKnn is implemented by indexes that carry a competing k-NN algorithm.
// It has the same contract as Index.Knn.
type ProposedKnn interface {
	KnnProposed(q Point, k int) ([]Point, error)
}

// Factory constructs an index from the full dataset.
type Factory func(points []Point) (Index, error)

// IndexStats contains metadata about the index.
type IndexStats struct {
	Count     int    // total number of indexed points
	Dimension int    // dimensionality of points
	Name      string // name of the index implementation
}
