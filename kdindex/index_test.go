package kdindex_test

import (
	"errors"
	"math/rand"
	"slices"
	"sort"
	"testing"

	"github.com/patrikhermansson/mdbench/core"
	"github.com/patrikhermansson/mdbench/kdindex"
	"github.com/patrikhermansson/mdbench/oracle"
)

func randomPoints(rnd *rand.Rand, n, dims, max int) []core.Point {
	points := make([]core.Point, n)
	for i := range points {
		p := make(core.Point, dims)
		for j := range p {
			p[j] = uint64(rnd.Intn(max))
		}
		points[i] = p
	}
	return points
}

func sortPoints(points []core.Point) {
	sort.Slice(points, func(i, j int) bool {
		return slices.Compare(points[i], points[j]) < 0
	})
}

func TestKDIndex_Contains(t *testing.T) {
	points := []core.Point{{1, 2}, {3, 4}, {3, 4}, {10, 0}}
	idx, err := kdindex.New(points)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for _, p := range points {
		ok, err := idx.Contains(p)
		if err != nil || !ok {
			t.Errorf("expected %v to be found, got %v, %v", p, ok, err)
		}
	}
	if ok, _ := idx.Contains(core.Point{4, 3}); ok {
		t.Errorf("did not expect (4,3) to be found")
	}
	if _, err := idx.Contains(core.Point{1, 2, 3}); err == nil {
		t.Errorf("expected error for dimension mismatch, but got none")
	}
}

func TestKDIndex_RangeMatchesOracle(t *testing.T) {
	rnd := rand.New(rand.NewSource(5))
	for _, dims := range []int{2, 3} {
		// A narrow coordinate range puts many points on split planes and window borders.
		points := randomPoints(rnd, 4000, dims, 50)
		idx, err := kdindex.New(points)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		for trial := 0; trial < 50; trial++ {
			a := randomPoints(rnd, 1, dims, 50)[0]
			b := make(core.Point, dims)
			for d := range b {
				b[d] = a[d] + uint64(rnd.Intn(10))
			}
			seq, err := idx.Range(a, b)
			if err != nil {
				t.Fatalf("Range failed: %v", err)
			}
			var got []core.Point
			for p := range seq {
				got = append(got, p)
			}
			want := oracle.Window(points, core.Window{Min: a, Max: b})
			sortPoints(got)
			sortPoints(want)
			if !slices.EqualFunc(got, want, core.Point.Equal) {
				t.Fatalf("dims=%d window %v-%v: got %d points, want %d", dims, a, b, len(got), len(want))
			}
		}
	}
}

func TestKDIndex_RangeIsRestartable(t *testing.T) {
	idx, err := kdindex.New([]core.Point{{4, 1}, {15, 20}, {16, 20}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	seq, err := idx.Range(core.Point{4, 1}, core.Point{15, 20})
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		n := 0
		for range seq {
			n++
		}
		if n != 2 {
			t.Errorf("pass %d: expected 2 points, got %d", i, n)
		}
	}
	for range seq {
		break
	}
}

func TestKDIndex_Knn(t *testing.T) {
	idx, err := kdindex.New([]core.Point{{0, 0}, {10, 0}, {3, 4}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got, err := idx.Knn(core.Point{0, 0}, 2)
	if err != nil {
		t.Fatalf("Knn failed: %v", err)
	}
	want := []core.Point{{0, 0}, {3, 4}}
	if !slices.EqualFunc(got, want, core.Point.Equal) {
		t.Errorf("Knn = %v; want %v", got, want)
	}

	got, err = idx.Knn(core.Point{0, 0}, 10)
	if err != nil {
		t.Fatalf("Knn failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected all 3 points when k exceeds size, got %d", len(got))
	}

	if _, err := idx.Knn(core.Point{0, 0}, 0); !errors.Is(err, core.ErrInvalidK) {
		t.Errorf("expected ErrInvalidK, got %v", err)
	}
}

func TestKDIndex_KnnHugeK(t *testing.T) {
	idx, err := kdindex.New([]core.Point{{0, 0}, {10, 0}, {3, 4}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got, err := idx.Knn(core.Point{0, 0}, 1<<40)
	if err != nil {
		t.Fatalf("Knn failed: %v", err)
	}
	want := []core.Point{{0, 0}, {3, 4}, {10, 0}}
	if !slices.EqualFunc(got, want, core.Point.Equal) {
		t.Errorf("Knn = %v; want %v", got, want)
	}
}

func TestKDIndex_KnnTiesFollowDatasetOrder(t *testing.T) {
	points := []core.Point{{1, 0}, {0, 1}}
	idx, err := kdindex.New(points)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for k := 1; k <= 2; k++ {
		got, err := idx.Knn(core.Point{0, 0}, k)
		if err != nil {
			t.Fatalf("Knn failed: %v", err)
		}
		want, _ := oracle.Knn(points, core.Point{0, 0}, k)
		if !slices.EqualFunc(got, want, core.Point.Equal) {
			t.Errorf("k=%d: Knn = %v; want %v", k, got, want)
		}
		if !got[0].Equal(core.Point{1, 0}) {
			t.Errorf("k=%d: expected (1,0) first, got %v", k, got[0])
		}
	}
}

func TestKDIndex_KnnMatchesOracleWithTies(t *testing.T) {
	rnd := rand.New(rand.NewSource(13))
	for _, dims := range []int{2, 3} {
		// A small grid makes equal distances and duplicate points common.
		points := randomPoints(rnd, 2000, dims, 12)
		idx, err := kdindex.New(points)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		for trial := 0; trial < 40; trial++ {
			q := randomPoints(rnd, 1, dims, 12)[0]
			for _, k := range []int{1, 2, 5, 17, 64} {
				got, err := idx.Knn(q, k)
				if err != nil {
					t.Fatalf("Knn failed: %v", err)
				}
				want, _ := oracle.Knn(points, q, k)
				if !slices.EqualFunc(got, want, core.Point.Equal) {
					t.Fatalf("dims=%d q=%v k=%d: Knn = %v; want %v", dims, q, k, got, want)
				}
			}
		}
	}
}

func TestKDIndex_KnnDistancesMatchOracle(t *testing.T) {
	rnd := rand.New(rand.NewSource(9))
	points := randomPoints(rnd, 3000, 2, 100000)
	idx, err := kdindex.New(points)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for trial := 0; trial < 20; trial++ {
		q := randomPoints(rnd, 1, 2, 100000)[0]
		got, err := idx.Knn(q, 25)
		if err != nil {
			t.Fatalf("Knn failed: %v", err)
		}
		want, _ := oracle.Knn(points, q, 25)
		if len(got) != len(want) {
			t.Fatalf("expected %d neighbors, got %d", len(want), len(got))
		}
		for i := range want {
			if core.Distance(q, got[i]) != core.Distance(q, want[i]) {
				t.Errorf("neighbor %d: distance %v, want %v", i, core.Distance(q, got[i]), core.Distance(q, want[i]))
			}
		}
	}
}

func TestKDIndex_Errors(t *testing.T) {
	if _, err := kdindex.New(nil); err == nil {
		t.Errorf("expected error for empty point set, but got none")
	}
	if _, err := kdindex.New([]core.Point{{1, 2}, {1, 2, 3}}); err == nil {
		t.Errorf("expected error for mixed dimensions, but got none")
	}
	idx, _ := kdindex.New([]core.Point{{1, 2}})
	if _, err := idx.Range(core.Point{0}, core.Point{5, 5}); err == nil {
		t.Errorf("expected error for dimension mismatch, but got none")
	}
	stats := idx.Stats()
	if stats.Count != 1 || stats.Dimension != 2 || stats.Name != kdindex.Name {
		t.Errorf("unexpected stats %+v", stats)
	}
}
