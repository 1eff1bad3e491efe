// Package oracle computes exact window and k-NN answers by scanning the whole dataset.
// It is the ground truth that index results are scored against.
package oracle

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/patrikhermansson/mdbench/core"
)

// Window returns every point of data inside w, bounds included, in dataset order.
func Window(data []core.Point, w core.Window) []core.Point {
	var result []core.Point
	for _, p := range data {
		if w.Contains(p) {
			result = append(result, p)
		}
	}
	return result
}

// candidate is a dataset point with its distance to the query.
type candidate struct {
	pos  int     // position in the dataset
	dist float64 // Euclidean distance to the query
}

// farther orders candidates by distance, then by dataset position.
func farther(a, b candidate) bool {
	if a.dist == b.dist {
		return a.pos > b.pos
	}
	return a.dist > b.dist
}

// candidateMaxHeap keeps the worst of the current k best on top.
type candidateMaxHeap []candidate

func (h candidateMaxHeap) Len() int            { return len(h) }
func (h candidateMaxHeap) Less(i, j int) bool  { return farther(h[i], h[j]) }
func (h candidateMaxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateMaxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candidateMaxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Knn returns the min(k, len(data)) points closest to q in ascending distance.
// Points at equal distance keep their relative dataset order, matching a
// stable sort of the whole dataset followed by taking the first k.
func Knn(data []core.Point, q core.Point, k int) ([]core.Point, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", core.ErrInvalidK, k)
	}
	if k > len(data) {
		k = len(data)
	}
	h := make(candidateMaxHeap, 0, k)
	for pos, p := range data {
		c := candidate{pos: pos, dist: core.Distance(q, p)}
		if len(h) < k {
			heap.Push(&h, c)
			continue
		}
		// Later positions lose ties, so only a strictly closer point replaces the top.
		if c.dist < h[0].dist {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	sort.Slice(h, func(i, j int) bool { return farther(h[j], h[i]) })

	result := make([]core.Point, len(h))
	for i, c := range h {
		result[i] = data[c.pos]
	}
	return result, nil
}
