package policy

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/polisai/polis-safety/pkg/domain"
)

// DefaultBatchLimit bounds ExecuteAll when limit is not positive.
const DefaultBatchLimit = 8

// BatchItem is the outcome for one input of a batch.
type BatchItem struct {
	Result Result
	Err    error
}

// ChainItem is the outcome for one input of a chain batch.
type ChainItem struct {
	Result ChainResult
	Err    error
}

// ExecuteAll executes inputs concurrently on exec with at most limit
// executions in flight. Policy failures are reported per item; only
// cancellation of ctx aborts the batch, in which case items that never ran
// carry the context error.
func ExecuteAll(ctx context.Context, exec Executor, inputs []domain.PolicyInput, limit int) ([]BatchItem, error) {
	items := make([]BatchItem, len(inputs))
	err := runBounded(ctx, len(inputs), limit, func(ctx context.Context, i int) {
		res, err := exec.Execute(ctx, inputs[i])
		items[i] = BatchItem{Result: res, Err: err}
	}, func(i int, err error) {
		items[i].Err = err
	})
	return items, err
}

// ExecuteChainAll is ExecuteAll for a chain: every input runs through all
// stages of c, inputs run concurrently.
func ExecuteChainAll(ctx context.Context, c Chain, inputs []domain.PolicyInput, limit int) ([]ChainItem, error) {
	items := make([]ChainItem, len(inputs))
	err := runBounded(ctx, len(inputs), limit, func(ctx context.Context, i int) {
		res, err := c.Execute(ctx, inputs[i])
		items[i] = ChainItem{Result: res, Err: err}
	}, func(i int, err error) {
		items[i].Err = err
	})
	return items, err
}

func runBounded(ctx context.Context, n, limit int, run func(context.Context, int), skipped func(int, error)) error {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range n {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				skipped(i, err)
				return err
			}
			run(gctx, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
