// Package recall scores candidate query results against exact oracle results.
package recall

import (
	"errors"
	"fmt"
	"math"

	"github.com/patrikhermansson/mdbench/core"
)

// ErrLengthMismatch is returned when oracle and candidate sequences are not index-aligned.
var ErrLengthMismatch = errors.New("oracle and candidate result sequences differ in length")

// Accuracy returns hits / len(oracle) for one query, where a candidate point is
// a hit when its full coordinate tuple equals some oracle point. Every candidate
// is checked on its own, so a repeated candidate is counted each time.
// The second result is false when the oracle set is empty and accuracy is undefined.
func Accuracy(oracle, candidate []core.Point) (float64, bool) {
	if len(oracle) == 0 {
		return 0, false
	}
	// Group the oracle set by leading coordinate; the suffixes under a key are
	// compared in full, so the grouping only narrows the search.
	byLead := NewMultiMap[uint64, core.Point](len(oracle))
	for _, p := range oracle {
		byLead.Put(p[0], p[1:])
	}
	hits := 0
	for _, p := range candidate {
		if len(p) == 0 {
			continue
		}
		suffix := p[1:]
		if byLead.ContainsFunc(p[0], suffix.Equal) {
			hits++
		}
	}
	return float64(hits) / float64(len(oracle)), true
}

// PerQuery returns the accuracy of every query, with NaN for queries whose
// oracle set is empty.
func PerQuery(oracleSets, candidateSets [][]core.Point) ([]float64, error) {
	if len(oracleSets) != len(candidateSets) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(oracleSets), len(candidateSets))
	}
	scores := make([]float64, len(oracleSets))
	for i := range oracleSets {
		acc, ok := Accuracy(oracleSets[i], candidateSets[i])
		if !ok {
			acc = math.NaN()
		}
		scores[i] = acc
	}
	return scores, nil
}

// Compute returns the mean accuracy over the queries whose oracle set is non-empty.
// Queries with an empty oracle set count in neither the sum nor the divisor.
// When no query has a non-empty oracle set the result is NaN.
func Compute(oracleSets, candidateSets [][]core.Point) (float64, error) {
	scores, err := PerQuery(oracleSets, candidateSets)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	counted := 0
	for _, s := range scores {
		if math.IsNaN(s) {
			continue
		}
		sum += s
		counted++
	}
	if counted == 0 {
		return math.NaN(), nil
	}
	return sum / float64(counted), nil
}
