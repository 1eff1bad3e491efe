package rpt

import (
	"container/heap"
	"errors"
	"fmt"
	"iter"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/patrikhermansson/mdbench/core"
	"github.com/rs/zerolog/log"
)

// Name identifies this index in benchmark output.
const Name = "rpt"

// Default construction parameters.
const (
	DefaultLeafCapacity         = 64
	DefaultCandidateProjections = 3
	DefaultParallelThreshold    = 50000
	DefaultProbeMargin          = 0.002
)

// jitterScale bounds the random offset added to each median split.
const jitterScale = 0.05

// Options holds the tree construction and search parameters.
type Options struct {
	LeafCapacity         int     // maximum number of points in a leaf
	CandidateProjections int     // number of random projections to try when splitting
	ParallelThreshold    int     // subtree size above which children are built concurrently
	ProbeMargin          float64 // multi-probe margin as a fraction of the data extent
}

// DefaultOptions returns the parameters used by Factory.
func DefaultOptions() Options {
	return Options{
		LeafCapacity:         DefaultLeafCapacity,
		CandidateProjections: DefaultCandidateProjections,
		ParallelThreshold:    DefaultParallelThreshold,
		ProbeMargin:          DefaultProbeMargin,
	}
}

// treeNode represents a node in the random projection tree.
// Every node keeps the bounding box of the points below it.
type treeNode struct {
	isLeaf     bool       // true if this node is a leaf
	points     []int      // dataset positions of points in the leaf
	projection []float64  // projection vector used for splitting at this node
	threshold  float64    // split threshold (median value plus jitter)
	lower      core.Point // bounding box lower corner
	upper      core.Point // bounding box upper corner
	left       *treeNode  // left child node
	right      *treeNode  // right child node
}

// RPTIndex is the main structure for the random projection tree index.
// It is built once and is safe for concurrent reads.
type RPTIndex struct {
	dimension int          // dimension of each point
	points    []core.Point // indexed points in dataset order
	tree      *treeNode    // root of the random projection tree
	margin    float64      // absolute probe margin in coordinate units
	opts      Options
}

// NewRPTIndex builds a random projection tree over points.
func NewRPTIndex(points []core.Point, opts Options) (*RPTIndex, error) {
	if len(points) == 0 {
		return nil, errors.New("cannot build a random projection tree from an empty point set")
	}
	if opts.LeafCapacity < 1 || opts.CandidateProjections < 1 {
		return nil, fmt.Errorf("invalid options %+v", opts)
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return nil, fmt.Errorf("point %d has dimension %d, expected %d", i, len(p), dim)
		}
	}
	r := &RPTIndex{
		dimension: dim,
		points:    points,
		opts:      opts,
	}
	r.buildTree()

	var extent uint64
	for d := 0; d < dim; d++ {
		extent = max(extent, r.tree.upper[d]-r.tree.lower[d])
	}
	r.margin = opts.ProbeMargin * float64(extent)
	log.Debug().Msgf("Built RPT index over %d points (dimension=%d, leafCapacity=%d, margin=%.1f)",
		len(points), dim, opts.LeafCapacity, r.margin)
	return r, nil
}

// Factory builds an RPTIndex with DefaultOptions.
func Factory(points []core.Point) (core.Index, error) {
	return NewRPTIndex(points, DefaultOptions())
}

// boundingBox returns the componentwise min and max of the given points.
func boundingBox(ids []int, points []core.Point, dimension int) (core.Point, core.Point) {
	lower := make(core.Point, dimension)
	upper := make(core.Point, dimension)
	copy(lower, points[ids[0]])
	copy(upper, points[ids[0]])
	for _, id := range ids[1:] {
		for d, c := range points[id] {
			lower[d] = min(lower[d], c)
			upper[d] = max(upper[d], c)
		}
	}
	return lower, upper
}

func dot(p core.Point, proj []float64) float64 {
	var s float64
	for i, c := range p {
		s += float64(c) * proj[i]
	}
	return s
}

// buildTreeRecursive builds the tree recursively using random projections.
// It splits the given set of point ids based on a randomly chosen projection.
func buildTreeRecursive(ids []int, points []core.Point, dimension int, rnd *rand.Rand,
	leafCapacity int, candidateProjections int, parallelThreshold int) *treeNode {

	lower, upper := boundingBox(ids, points, dimension)

	// If the number of points is small enough, create a leaf node.
	if len(ids) <= leafCapacity {
		return &treeNode{
			isLeaf: true,
			points: ids,
			lower:  lower,
			upper:  upper,
		}
	}

	// Define a candidate structure to store the projection and split details.
	type candidate struct {
		proj      []float64 // random projection vector
		threshold float64   // median threshold along projection
		leftIDs   []int     // point ids going to left child
		rightIDs  []int     // point ids going to right child
		imbalance int       // difference in count between left and right sets
	}
	var bestCandidate *candidate

	// The box diagonal bounds every pairwise distance in this subtree.
	var diag float64
	for d := 0; d < dimension; d++ {
		e := float64(upper[d] - lower[d])
		diag += e * e
	}
	diag = math.Sqrt(diag)

	// Try multiple random projections to find a good split.
	for c := 0; c < candidateProjections; c++ {
		proj := make([]float64, dimension)
		var norm float64
		// Generate a random vector.
		for i := 0; i < dimension; i++ {
			v := rnd.Float64()*2 - 1
			proj[i] = v
			norm += v * v
		}
		norm = math.Sqrt(norm)
		if norm < 1e-8 {
			norm = 1
		}
		// Normalize the projection.
		for i := 0; i < dimension; i++ {
			proj[i] /= norm
		}

		// Compute dot products of all points with the projection.
		type pair struct {
			id  int
			dot float64
		}
		pairs := make([]pair, len(ids))
		for i, id := range ids {
			pairs[i] = pair{id, dot(points[id], proj)}
		}
		// Sort points by their projection value.
		sort.Slice(pairs, func(i, j int) bool {
			return pairs[i].dot < pairs[j].dot
		})
		// Choose the median as threshold.
		mid := len(pairs) / 2

		// Median threshold with jitter
		jitter := (rnd.Float64()*2 - 1) * jitterScale * diag / math.Sqrt(float64(dimension))
		threshold := pairs[mid].dot + jitter

		// Split ids into left and right groups.
		var leftIDs, rightIDs []int
		for _, p := range pairs {
			if p.dot < threshold {
				leftIDs = append(leftIDs, p.id)
			} else {
				rightIDs = append(rightIDs, p.id)
			}
		}
		// Fallback: if one side is empty, split the sorted order in half.
		if len(leftIDs) == 0 || len(rightIDs) == 0 {
			threshold = pairs[mid].dot
			leftIDs = make([]int, 0, mid)
			rightIDs = make([]int, 0, len(pairs)-mid)
			for i, p := range pairs {
				if i < mid {
					leftIDs = append(leftIDs, p.id)
				} else {
					rightIDs = append(rightIDs, p.id)
				}
			}
		}
		imbalance := int(math.Abs(float64(len(leftIDs) - len(rightIDs))))
		cand := candidate{
			proj:      proj,
			threshold: threshold,
			leftIDs:   leftIDs,
			rightIDs:  rightIDs,
			imbalance: imbalance,
		}
		// Choose the candidate with the smallest imbalance.
		if bestCandidate == nil || cand.imbalance < bestCandidate.imbalance {
			bestCandidate = &cand
		}
	}

	var leftChild, rightChild *treeNode
	// If many points, build subtrees in parallel.
	if len(ids) > parallelThreshold {
		var wg sync.WaitGroup
		wg.Add(2)
		leftRnd := rand.New(rand.NewSource(rnd.Int63()))
		rightRnd := rand.New(rand.NewSource(rnd.Int63()))
		go func() {
			defer wg.Done()
			leftChild = buildTreeRecursive(bestCandidate.leftIDs, points, dimension,
				leftRnd, leafCapacity, candidateProjections, parallelThreshold)
		}()
		go func() {
			defer wg.Done()
			rightChild = buildTreeRecursive(bestCandidate.rightIDs, points, dimension,
				rightRnd, leafCapacity, candidateProjections, parallelThreshold)
		}()
		wg.Wait()
	} else {
		// Otherwise, build recursively in a single thread.
		leftChild = buildTreeRecursive(bestCandidate.leftIDs, points, dimension, rnd,
			leafCapacity, candidateProjections, parallelThreshold)
		rightChild = buildTreeRecursive(bestCandidate.rightIDs, points, dimension, rnd,
			leafCapacity, candidateProjections, parallelThreshold)
	}

	// Return an internal node with the best projection and split.
	return &treeNode{
		isLeaf:     false,
		projection: bestCandidate.proj,
		threshold:  bestCandidate.threshold,
		lower:      lower,
		upper:      upper,
		left:       leftChild,
		right:      rightChild,
	}
}

// buildTree constructs the random projection tree from all stored points.
func (r *RPTIndex) buildTree() {
	ids := make([]int, len(r.points))
	for i := range ids {
		ids[i] = i
	}
	localRand := rand.New(rand.NewSource(core.GetSeed()))
	// Shuffle the ids to avoid bias.
	localRand.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
	r.tree = buildTreeRecursive(ids, r.points, r.dimension, localRand, r.opts.LeafCapacity,
		r.opts.CandidateProjections, r.opts.ParallelThreshold)
}

func (r *RPTIndex) checkDim(p core.Point) error {
	if len(p) != r.dimension {
		return fmt.Errorf("query dimension %d does not match index dimension %d", len(p), r.dimension)
	}
	return nil
}

// overlaps reports whether the node's bounding box intersects [lower, upper].
func (n *treeNode) overlaps(lower, upper core.Point) bool {
	for d := range lower {
		if n.upper[d] < lower[d] || n.lower[d] > upper[d] {
			return false
		}
	}
	return true
}

// minDistance returns the Euclidean distance from q to the node's bounding box.
func (n *treeNode) minDistance(q core.Point) float64 {
	var sum float64
	for d, c := range q {
		var gap float64
		if c < n.lower[d] {
			gap = float64(n.lower[d] - c)
		} else if c > n.upper[d] {
			gap = float64(c - n.upper[d])
		}
		sum += gap * gap
	}
	return math.Sqrt(sum)
}

// visit calls fn for each point inside [lower, upper] until fn returns false.
func (r *RPTIndex) visit(node *treeNode, w core.Window, fn func(core.Point) bool) bool {
	if node == nil || !node.overlaps(w.Min, w.Max) {
		return true
	}
	if node.isLeaf {
		for _, id := range node.points {
			if p := r.points[id]; w.Contains(p) && !fn(p) {
				return false
			}
		}
		return true
	}
	return r.visit(node.left, w, fn) && r.visit(node.right, w, fn)
}

// Contains reports whether p is stored in the index.
func (r *RPTIndex) Contains(p core.Point) (bool, error) {
	if err := r.checkDim(p); err != nil {
		return false, err
	}
	found := false
	r.visit(r.tree, core.Window{Min: p, Max: p}, func(core.Point) bool {
		found = true
		return false
	})
	return found, nil
}

// Range returns the stored points inside the closed box [lower, upper].
// Subtrees whose bounding box misses the window are skipped.
func (r *RPTIndex) Range(lower, upper core.Point) (iter.Seq[core.Point], error) {
	if err := r.checkDim(lower); err != nil {
		return nil, err
	}
	if err := r.checkDim(upper); err != nil {
		return nil, err
	}
	w := core.Window{Min: lower, Max: upper}
	return func(yield func(core.Point) bool) {
		r.visit(r.tree, w, yield)
	}, nil
}

// searchTreeMultiProbeWithMargin searches the tree for candidate point ids using multi-probing.
// It follows both branches if the projection value is close to the threshold (within margin).
func searchTreeMultiProbeWithMargin(node *treeNode, query core.Point, margin float64) []int {
	if node == nil {
		return nil
	}
	// If it's a leaf, return all point ids.
	if node.isLeaf {
		return node.points
	}
	// Compute the dot product with the node's projection.
	d := dot(query, node.projection)
	// If close to threshold, probe both children.
	if math.Abs(d-node.threshold) < margin {
		leftIDs := searchTreeMultiProbeWithMargin(node.left, query, margin)
		rightIDs := searchTreeMultiProbeWithMargin(node.right, query, margin)
		return append(append([]int(nil), leftIDs...), rightIDs...)
	} else if d < node.threshold {
		return searchTreeMultiProbeWithMargin(node.left, query, margin)
	}
	return searchTreeMultiProbeWithMargin(node.right, query, margin)
}

// unionInts returns the union of two integer slices (removing duplicates).
func unionInts(a, b []int) []int {
	m := make(map[int]struct{}, len(a)+len(b))
	result := make([]int, 0, len(a)+len(b))
	for _, s := range [][]int{a, b} {
		for _, x := range s {
			if _, ok := m[x]; !ok {
				m[x] = struct{}{}
				result = append(result, x)
			}
		}
	}
	return result
}

// neighbor is a dataset position with its distance to the query.
type neighbor struct {
	id   int
	dist float64
}

// computeDistances calculates the distance from the query to each point id in the list.
// Large candidate lists are split across available CPUs.
func (r *RPTIndex) computeDistances(query core.Point, ids []int) []neighbor {
	neighbors := make([]neighbor, len(ids))
	if len(ids) <= r.opts.ParallelThreshold {
		for j, id := range ids {
			neighbors[j] = neighbor{id, core.Distance(query, r.points[id])}
		}
		return neighbors
	}

	numWorkers := runtime.NumCPU()
	chunkSize := (len(ids) + numWorkers - 1) / numWorkers
	var wg sync.WaitGroup
	for start := 0; start < len(ids); start += chunkSize {
		end := min(start+chunkSize, len(ids))
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for j := start; j < end; j++ {
				id := ids[j]
				neighbors[j] = neighbor{id, core.Distance(query, r.points[id])}
			}
		}(start, end)
	}
	wg.Wait()
	return neighbors
}

// topK sorts neighbors by distance, then dataset position, and keeps the first k.
func (r *RPTIndex) topK(neighbors []neighbor, k int) []core.Point {
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].dist == neighbors[j].dist {
			return neighbors[i].id < neighbors[j].id
		}
		return neighbors[i].dist < neighbors[j].dist
	})
	if k > len(neighbors) {
		k = len(neighbors)
	}
	result := make([]core.Point, k)
	for i := range result {
		result[i] = r.points[neighbors[i].id]
	}
	return result
}

// Knn returns approximately the k nearest points to q.
// It collects candidates with multi-probe search and only ranks those.
func (r *RPTIndex) Knn(q core.Point, k int) ([]core.Point, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", core.ErrInvalidK, k)
	}
	if err := r.checkDim(q); err != nil {
		return nil, err
	}
	k = min(k, len(r.points))
	// Get candidate ids using multi-probe search.
	candidateIDs := searchTreeMultiProbeWithMargin(r.tree, q, r.margin)
	// If not enough candidates, try with a larger margin.
	if len(candidateIDs) < k*2 {
		candidateIDsAlt := searchTreeMultiProbeWithMargin(r.tree, q, r.margin*2)
		candidateIDs = unionInts(candidateIDs, candidateIDsAlt)
	}
	neighbors := r.computeDistances(q, candidateIDs)
	// If still not enough, add extra points.
	if len(neighbors) < k {
		candidateSet := make(map[int]struct{}, len(candidateIDs))
		for _, id := range candidateIDs {
			candidateSet[id] = struct{}{}
		}
		var missingIDs []int
		for id := range r.points {
			if _, exists := candidateSet[id]; !exists {
				missingIDs = append(missingIDs, id)
			}
		}
		neighbors = append(neighbors, r.computeDistances(q, missingIDs)...)
	}
	return r.topK(neighbors, k), nil
}

// nodeQueue is a min-heap of tree nodes keyed by their distance lower bound.
type nodeQueue []nodeEntry

type nodeEntry struct {
	node  *treeNode
	bound float64
}

func (h nodeQueue) Len() int            { return len(h) }
func (h nodeQueue) Less(i, j int) bool  { return h[i].bound < h[j].bound }
func (h nodeQueue) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeQueue) Push(x interface{}) { *h = append(*h, x.(nodeEntry)) }
func (h *nodeQueue) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// resultHeap is a max-heap holding the best k neighbors found so far.
type resultHeap []neighbor

func (h resultHeap) Len() int { return len(h) }
func (h resultHeap) Less(i, j int) bool {
	if h[i].dist == h[j].dist {
		return h[i].id > h[j].id
	}
	return h[i].dist > h[j].dist
}
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(neighbor)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// KnnProposed returns the exact k nearest points to q.
// Nodes are expanded best-first by the distance to their bounding box and the
// search stops once no unexpanded box can beat the current k-th neighbor.
func (r *RPTIndex) KnnProposed(q core.Point, k int) ([]core.Point, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", core.ErrInvalidK, k)
	}
	if err := r.checkDim(q); err != nil {
		return nil, err
	}
	k = min(k, len(r.points))
	queue := nodeQueue{{node: r.tree, bound: r.tree.minDistance(q)}}
	best := make(resultHeap, 0, k)
	for queue.Len() > 0 {
		e := heap.Pop(&queue).(nodeEntry)
		if len(best) == k && e.bound > best[0].dist {
			break
		}
		if !e.node.isLeaf {
			for _, child := range []*treeNode{e.node.left, e.node.right} {
				if child != nil {
					heap.Push(&queue, nodeEntry{node: child, bound: child.minDistance(q)})
				}
			}
			continue
		}
		for _, id := range e.node.points {
			c := neighbor{id, core.Distance(q, r.points[id])}
			if len(best) < k {
				heap.Push(&best, c)
			} else if c.dist < best[0].dist || (c.dist == best[0].dist && c.id < best[0].id) {
				best[0] = c
				heap.Fix(&best, 0)
			}
		}
	}
	return r.topK(best, k), nil
}

// Stats returns some basic statistics about the index.
func (r *RPTIndex) Stats() core.IndexStats {
	return core.IndexStats{
		Count:     len(r.points),
		Dimension: r.dimension,
		Name:      Name,
	}
}

// Check that RPTIndex implements the core.Index and core.ProposedKnn interfaces.
var (
	_ core.Index       = (*RPTIndex)(nil)
	_ core.ProposedKnn = (*RPTIndex)(nil)
)
