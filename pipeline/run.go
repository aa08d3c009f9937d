package pipeline

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/wbrown/bert_prep/featurestore"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunResult collects every shard's outcome, in shard order, and the
// summaries of the shards that succeeded merged per split.
type RunResult struct {
	Shards    []ShardResult
	Summaries map[string]*featurestore.Table
}

// Failed returns the results of the shards that did not complete.
func (result *RunResult) Failed() []ShardResult {
	failed := make([]ShardResult, 0)
	for _, shard := range result.Shards {
		if shard.Err != nil {
			failed = append(failed, shard)
		}
	}
	return failed
}

// Written is the number of records written per split.
func (result *RunResult) Written() map[string]int {
	written := make(map[string]int, len(Splits))
	for _, shard := range result.Shards {
		for split, n := range shard.Counts {
			written[split] += n
		}
	}
	return written
}

// Run processes shards on at most `workers` goroutines. A failing shard
// does not stop the others; every failure is returned together as a
// multierr of *ShardError. Shards that would write the same output file
// fail the run with OutputCollisionErrors before any shard is processed.
func Run(ctx context.Context, processor *Processor, shards []string,
	workers int) (*RunResult, error) {
	if workers <= 0 {
		workers = 1
	}
	if err := processor.checkOutputs(shards); err != nil {
		return nil, err
	}
	processor.logger.Info("Processing shards",
		zap.Int("shards", len(shards)), zap.Int("workers", workers))
	start := time.Now()

	results := make([]ShardResult, len(shards))
	var pool errgroup.Group
	pool.SetLimit(workers)
	for idx, shard := range shards {
		idx, shard := idx, shard
		pool.Go(func() error {
			results[idx] = processor.ProcessShard(ctx, shard)
			return nil
		})
	}
	// Workers never return an error; failures travel in results.
	_ = pool.Wait()

	result := &RunResult{
		Shards:    results,
		Summaries: make(map[string]*featurestore.Table, len(Splits)),
	}
	for _, split := range Splits {
		result.Summaries[split] = NewSummaryTable()
	}
	var errs error
	for _, shard := range results {
		if shard.Err != nil {
			errs = multierr.Append(errs, shard.Err)
			continue
		}
		for _, split := range Splits {
			if summary, ok := shard.Summaries[split]; ok {
				if err := result.Summaries[split].Extend(summary); err != nil {
					errs = multierr.Append(errs, err)
				}
			}
		}
	}

	written := result.Written()
	processor.logger.Info("Processed shards",
		zap.Int("failed", len(multierr.Errors(errs))),
		zap.String(SplitTrain, humanize.Comma(int64(written[SplitTrain]))),
		zap.String(SplitValidation,
			humanize.Comma(int64(written[SplitValidation]))),
		zap.String(SplitTest, humanize.Comma(int64(written[SplitTest]))),
		zap.Duration("elapsed", time.Since(start)))
	return result, errs
}
