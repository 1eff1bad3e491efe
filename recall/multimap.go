package recall

// MultiMap maps each key to the collection of values stored under it.
// Values under one key keep insertion order and may repeat.
type MultiMap[K comparable, V any] struct {
	m map[K][]V
}

// NewMultiMap returns an empty MultiMap sized for about n keys.
func NewMultiMap[K comparable, V any](n int) *MultiMap[K, V] {
	return &MultiMap[K, V]{m: make(map[K][]V, n)}
}

// Put appends v to the values stored under k.
func (mm *MultiMap[K, V]) Put(k K, v V) {
	mm.m[k] = append(mm.m[k], v)
}

// Get returns the values stored under k, or nil.
func (mm *MultiMap[K, V]) Get(k K) []V {
	return mm.m[k]
}

// ContainsFunc reports whether some value under k satisfies match.
func (mm *MultiMap[K, V]) ContainsFunc(k K, match func(V) bool) bool {
	for _, v := range mm.m[k] {
		if match(v) {
			return true
		}
	}
	return false
}

// Len returns the number of distinct keys.
func (mm *MultiMap[K, V]) Len() int {
	return len(mm.m)
}
