package oracle

import (
	"context"

	"github.com/patrikhermansson/mdbench/core"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Progress is notified once per finished query. A nil Progress is ignored.
type Progress interface {
	Add(n int) error
}

// WindowBatch answers every window in order. The query set is split into
// contiguous partitions processed by up to workers goroutines; each answer is
// a pure function of data, so the output matches a sequential pass.
func WindowBatch(ctx context.Context, data []core.Point, windows []core.Window, workers int, progress Progress) ([][]core.Point, error) {
	results := make([][]core.Point, len(windows))
	err := partition(ctx, len(windows), workers, func(i int) error {
		results[i] = Window(data, windows[i])
		return tick(progress)
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// KnnBatch answers every k-NN query in order. A query with K == 0 uses k.
func KnnBatch(ctx context.Context, data []core.Point, queries []core.KnnQuery, k, workers int, progress Progress) ([][]core.Point, error) {
	results := make([][]core.Point, len(queries))
	err := partition(ctx, len(queries), workers, func(i int) error {
		qk := queries[i].K
		if qk == 0 {
			qk = k
		}
		res, err := Knn(data, queries[i].Point, qk)
		if err != nil {
			return err
		}
		results[i] = res
		return tick(progress)
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// partition runs fn for every index in [0, n) across at most workers goroutines.
func partition(ctx context.Context, n, workers int, fn func(i int) error) error {
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	if n == 0 {
		return nil
	}
	chunkSize := (n + workers - 1) / workers
	log.Debug().Msgf("Oracle batch: %d queries over %d workers", n, workers)

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fn(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func tick(progress Progress) error {
	if progress == nil {
		return nil
	}
	return progress.Add(1)
}
