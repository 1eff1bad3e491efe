package recall_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrikhermansson/mdbench/core"
	"github.com/patrikhermansson/mdbench/recall"
)

func TestComputeSelfIsOne(t *testing.T) {
	sets := [][]core.Point{
		{{1, 2}, {3, 4}, {3, 5}},
		{},
		{{9, 9}},
	}
	got, err := recall.Compute(sets, sets)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	sets3D := [][]core.Point{{{1, 2, 3}, {1, 2, 4}, {7, 0, 0}}}
	got, err = recall.Compute(sets3D, sets3D)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestComputeExcludesEmptyOracle(t *testing.T) {
	oracleSets := [][]core.Point{
		{{1, 1}, {2, 2}},         // half found
		{},                       // excluded
		{{5, 5}, {6, 6}, {7, 7}}, // all found
	}
	candidateSets := [][]core.Point{
		{{1, 1}, {8, 8}},
		{{4, 4}},
		{{5, 5}, {6, 6}, {7, 7}},
	}
	got, err := recall.Compute(oracleSets, candidateSets)
	require.NoError(t, err)
	// (0.5 + 1.0) / 2, not / 3.
	assert.InDelta(t, 0.75, got, 1e-12)
}

func TestComputeAllEmptyIsNaN(t *testing.T) {
	got, err := recall.Compute([][]core.Point{{}, nil}, [][]core.Point{{{1, 1}}, nil})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got))

	got, err = recall.Compute(nil, nil)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got))
}

func TestComputeLengthMismatch(t *testing.T) {
	_, err := recall.Compute([][]core.Point{{{1, 1}}}, nil)
	assert.ErrorIs(t, err, recall.ErrLengthMismatch)
}

func TestAccuracyRequiresFullTupleMatch(t *testing.T) {
	oracle := []core.Point{{3, 4, 5}}
	// Same leading coordinate, different suffix.
	acc, ok := recall.Accuracy(oracle, []core.Point{{3, 4, 6}, {3, 5, 5}})
	require.True(t, ok)
	assert.Equal(t, 0.0, acc)

	// Same suffix under a different leading coordinate.
	acc, _ = recall.Accuracy(oracle, []core.Point{{4, 4, 5}})
	assert.Equal(t, 0.0, acc)

	acc, _ = recall.Accuracy(oracle, []core.Point{{3, 4, 5}})
	assert.Equal(t, 1.0, acc)
}

func TestAccuracyCountsEachCandidate(t *testing.T) {
	oracle := []core.Point{{1, 1}, {2, 2}, {3, 3}, {4, 4}}
	acc, ok := recall.Accuracy(oracle, []core.Point{{1, 1}, {1, 1}})
	require.True(t, ok)
	assert.Equal(t, 0.5, acc)

	acc, _ = recall.Accuracy(oracle, nil)
	assert.Equal(t, 0.0, acc)

	_, ok = recall.Accuracy(nil, oracle)
	assert.False(t, ok)
}

func TestPerQuery(t *testing.T) {
	scores, err := recall.PerQuery(
		[][]core.Point{{{1, 1}}, {}},
		[][]core.Point{{{1, 1}}, {{2, 2}}},
	)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, 1.0, scores[0])
	assert.True(t, math.IsNaN(scores[1]))
}

func TestMultiMap(t *testing.T) {
	mm := recall.NewMultiMap[uint64, core.Point](4)
	mm.Put(1, core.Point{2})
	mm.Put(1, core.Point{3})
	mm.Put(1, core.Point{3})
	mm.Put(7, core.Point{0})

	assert.Equal(t, 2, mm.Len())
	assert.Equal(t, []core.Point{{2}, {3}, {3}}, mm.Get(1))
	assert.Nil(t, mm.Get(5))
	assert.True(t, mm.ContainsFunc(1, core.Point{3}.Equal))
	assert.False(t, mm.ContainsFunc(7, core.Point{3}.Equal))
	assert.False(t, mm.ContainsFunc(5, core.Point{0}.Equal))
}
