// Package retrieval fans the three retrieval strategies — lexical
// BM25, semantic kNN over text, and visual kNN over nested image
// vectors — out concurrently, each under its own timeout, so one slow
// strategy degrades a query instead of stalling it.
package retrieval

import (
	"context"
	"sync"
	"time"

	"github.com/hybridrealty/propsearch/pkg/domain"
	"github.com/hybridrealty/propsearch/pkg/logging"
)

// Searcher is the subset of listingstore.Store retrieval needs.
type Searcher interface {
	SearchBM25(ctx context.Context, queryText string, constraints domain.Constraints, limit int) ([]domain.RankedResult, error)
	SearchKNNText(ctx context.Context, queryVector []float32, filters domain.HardFilters, limit int) ([]domain.RankedResult, error)
	SearchKNNImage(ctx context.Context, queryVector []float32, filters domain.HardFilters, limit int) ([]domain.RankedResult, error)
}

// Timeouts bounds each strategy's independent call.
type Timeouts struct {
	Search time.Duration
}

type Runner struct {
	store Searcher
	log   logging.Logger
	to    Timeouts
}

func New(store Searcher, to Timeouts, log logging.Logger) *Runner {
	if log == nil {
		log = logging.Nop()
	}
	if to.Search <= 0 {
		to.Search = 30 * time.Second
	}
	return &Runner{store: store, to: to, log: log}
}

// Input is everything a query needs to run across all three strategies.
// Size is the caller's requested result count; each strategy derives
// its own candidate-pool size from it per §4.8's distinct formulas.
type Input struct {
	QueryText   string
	TextVector  []float32
	ImageVector []float32
	Constraints domain.Constraints
	Size        int
}

// bm25Pool and knnPool implement §4.8.1/§4.8.2's distinct per-strategy
// candidate-pool formulas: BM25 overfetches 3x the requested size, kNN
// overfetches 3x but never below 100 candidates, since a small requested
// size would otherwise starve the ANN graph of enough candidates to
// survive hard-filtering.
func bm25Pool(size int) int { return 3 * size }
func knnPool(size int) int {
	if p := 3 * size; p > 100 {
		return p
	}
	return 100
}

// RunAll executes all three strategies concurrently and returns one
// StrategyResults per strategy, in a fixed order (bm25, knn_text,
// knn_image) regardless of completion order, so downstream fusion
// logic never has to sniff which slot is which.
func (r *Runner) RunAll(ctx context.Context, in Input) []domain.StrategyResults {
	out := make([]domain.StrategyResults, 3)
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		out[0] = r.run(ctx, "bm25", func(c context.Context) ([]domain.RankedResult, error) {
			if in.QueryText == "" {
				return nil, nil
			}
			return r.store.SearchBM25(c, in.QueryText, in.Constraints, bm25Pool(in.Size))
		})
	}()
	go func() {
		defer wg.Done()
		out[1] = r.run(ctx, "knn_text", func(c context.Context) ([]domain.RankedResult, error) {
			if len(in.TextVector) == 0 {
				return nil, nil
			}
			return r.store.SearchKNNText(c, in.TextVector, in.Constraints.HardFilters, knnPool(in.Size))
		})
	}()
	go func() {
		defer wg.Done()
		out[2] = r.run(ctx, "knn_image", func(c context.Context) ([]domain.RankedResult, error) {
			if len(in.ImageVector) == 0 {
				return nil, nil
			}
			return r.store.SearchKNNImage(c, in.ImageVector, in.Constraints.HardFilters, knnPool(in.Size))
		})
	}()

	wg.Wait()
	return out
}

func (r *Runner) run(ctx context.Context, name string, fn func(context.Context) ([]domain.RankedResult, error)) domain.StrategyResults {
	callCtx, cancel := context.WithTimeout(ctx, r.to.Search)
	defer cancel()

	started := time.Now()
	results, err := fn(callCtx)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		if callCtx.Err() != nil {
			r.log.Warn("retrieval: strategy timed out", "strategy", name)
			return domain.StrategyResults{Strategy: name, TimedOut: true, DurationMS: elapsed}
		}
		r.log.Warn("retrieval: strategy failed, treating as empty", "strategy", name, "error", err)
		return domain.StrategyResults{Strategy: name, Err: err, DurationMS: elapsed}
	}
	return domain.StrategyResults{Strategy: name, Results: results, DurationMS: elapsed}
}
