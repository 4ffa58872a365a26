package advisory

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"ratedesk/pkg/platform/sentinel"
)

// defaultParallelism bounds concurrent upstream fetches so a bulk prefetch
// for a large negotiation does not stampede the advisory service.
const defaultParallelism = 4

// Batch fetches recommendations for several rates concurrently and returns
// one entry per rate id, preserving input order. Rates the advisory service
// has no opinion on yield a nil entry; any other failure cancels the
// remaining fetches and fails the batch.
func Batch(ctx context.Context, rec Recommender, rateIDs []string, parallelism int) ([]*Recommendation, error) {
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	results := make([]*Recommendation, len(rateIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, rateID := range rateIDs {
		g.Go(func() error {
			r, err := rec.Recommendation(ctx, rateID)
			if err != nil {
				// Missing recommendations are expected; leave the slot nil.
				if errors.Is(err, sentinel.ErrNotFound) {
					return nil
				}
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
