package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Point is an ordered tuple of non-negative integer coordinates.
// All points of one dataset share the same dimensionality (2 or 3).
type Point []uint64

// Window is an axis-aligned closed box given by its two corners.
type Window struct {
	Min Point // lower corner, inclusive
	Max Point // upper corner, inclusive
}

// KnnQuery is a query point together with the number of neighbors wanted.
// K is zero when the benchmark configuration supplies it.
type KnnQuery struct {
	Point Point
	K     int
}

// Equal reports whether p and q have the same coordinates.
func (p Point) Equal(q Point) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// String renders the point as "(x,y[,z])".
func (p Point) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, c := range p {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(c, 10))
	}
	b.WriteByte(')')
	return b.String()
}

// Contains reports whether p lies inside the window, bounds included on every axis.
func (w Window) Contains(p Point) bool {
	for i := range p {
		if p[i] < w.Min[i] || p[i] > w.Max[i] {
			return false
		}
	}
	return true
}

// Validate checks that the corners agree on dimensionality and that Min <= Max on every axis.
func (w Window) Validate() error {
	if len(w.Min) != len(w.Max) {
		return fmt.Errorf("%w: corners have %d and %d dimensions", ErrInvalidWindow, len(w.Min), len(w.Max))
	}
	for i := range w.Min {
		if w.Min[i] > w.Max[i] {
			return fmt.Errorf("%w: min %d exceeds max %d on axis %d", ErrInvalidWindow, w.Min[i], w.Max[i], i)
		}
	}
	return nil
}

// Scale converts a normalized field into an integer coordinate.
// The field is clamped to [0,1] and the product is truncated toward zero.
func Scale(field float64, cardinality uint64) uint64 {
	if math.IsNaN(field) || field < 0 {
		field = 0
	} else if field > 1 {
		field = 1
	}
	return uint64(field * float64(cardinality))
}

// SquaredDistance returns the squared Euclidean distance between a and b.
// Differences are taken as int64 so that a smaller minuend does not wrap around.
func SquaredDistance(a, b Point) int64 {
	var sum int64
	for i := range a {
		d := int64(a[i]) - int64(b[i])
		sum += d * d
	}
	return sum
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return math.Sqrt(float64(SquaredDistance(a, b)))
}
