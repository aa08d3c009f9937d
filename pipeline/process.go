package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/wbrown/bert_prep"
	"github.com/wbrown/bert_prep/dataset"
	"github.com/wbrown/bert_prep/features"
	"github.com/wbrown/bert_prep/featurestore"
	"github.com/wbrown/bert_prep/tfrecord"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EventTimeLayout is how the processing time is stamped on every record.
const EventTimeLayout = "2006-01-02T15:04:05Z"

// progressInterval is how many records pass between progress logs.
const progressInterval = 10000

// Stage names the step of a shard's pipeline an error came from.
type Stage string

const (
	StageLoad     Stage = "load"
	StageValidate Stage = "validate"
	StageBalance  Stage = "balance"
	StageSplit    Stage = "split"
	StageEncode   Stage = "encode"
	StageWrite    Stage = "write"
)

// ShardError names the shard and stage that failed.
type ShardError struct {
	Shard string
	Stage Stage
	Err   error
}

func (err *ShardError) Error() string {
	return fmt.Sprintf("shard %s failed at %s: %v", err.Shard, err.Stage,
		err.Err)
}

func (err *ShardError) Unwrap() error {
	return err.Err
}

// ShardResult is the outcome of one shard. On failure Err is a
// *ShardError and Outputs is empty.
type ShardResult struct {
	Shard string
	Stats dataset.LoadStats
	// Balanced is the row count that entered the splitter.
	Balanced int
	Counts   map[string]int
	Outputs  map[string]string
	// Summaries hold one table per split, keyed like Counts.
	Summaries map[string]*featurestore.Table
	Err       error
}

// Processor runs the per-shard pipeline. It keeps no state between shards
// and is safe to share between workers.
type Processor struct {
	config    Config
	encoder   *features.Encoder
	sanitizer *dataset.Sanitizer
	clock     featurestore.Clock
	logger    *zap.Logger
	metrics   *Metrics

	// progressEvery is the record interval of the progress log.
	progressEvery int
}

func NewProcessor(config Config, tokenizer features.Tokenizer,
	clock featurestore.Clock, logger *zap.Logger,
	metrics *Metrics) (*Processor, error) {
	padding, err := bert_prep.ParsePadding(config.Padding)
	if err != nil {
		return nil, err
	}
	encoder, err := features.NewEncoder(tokenizer, nil, config.MaxSeqLength,
		padding)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = featurestore.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	processor := &Processor{
		config:        config,
		encoder:       encoder,
		clock:         clock,
		logger:        logger,
		metrics:       metrics,
		progressEvery: progressInterval,
	}
	if config.Sanitize {
		processor.sanitizer = dataset.NewSanitizer()
	}
	return processor, nil
}

// outputPath is where split of shard goes, with `.gz` appended when the
// output is compressed.
func (processor *Processor) outputPath(split string, shard string) string {
	path := OutputPath(processor.config.OutputDir, split,
		processor.config.CurrentHost,
		ShardName(processor.config.InputDir, shard))
	if processor.config.Gzip {
		path += ".gz"
	}
	return path
}

// checkOutputs fails with an OutputCollisionError for every output path
// more than one of shards would write.
func (processor *Processor) checkOutputs(shards []string) error {
	owners := make(map[string][]string, len(shards))
	paths := make([]string, 0, len(shards))
	for _, shard := range shards {
		path := processor.outputPath(SplitTrain, shard)
		if _, ok := owners[path]; !ok {
			paths = append(paths, path)
		}
		owners[path] = append(owners[path], shard)
	}
	var errs error
	for _, path := range paths {
		if len(owners[path]) > 1 {
			errs = multierr.Append(errs, &OutputCollisionError{
				Path:   path,
				Shards: owners[path],
			})
		}
	}
	return errs
}

// ProcessShard loads, balances, splits, encodes and writes one shard. Every
// review of the shard is stamped with the same event time. If any stage
// fails the shard's already written outputs are removed again.
func (processor *Processor) ProcessShard(ctx context.Context,
	shard string) (result ShardResult) {
	logger := processor.logger.With(zap.String("shard", shard))
	result = ShardResult{
		Shard:     shard,
		Counts:    make(map[string]int, len(Splits)),
		Outputs:   make(map[string]string, len(Splits)),
		Summaries: make(map[string]*featurestore.Table, len(Splits)),
	}
	fail := func(stage Stage, err error) ShardResult {
		for _, path := range result.Outputs {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				logger.Warn("Could not remove output of failed shard",
					zap.String("path", path), zap.Error(rmErr))
			}
		}
		result.Outputs = map[string]string{}
		result.Err = &ShardError{Shard: shard, Stage: stage, Err: err}
		logger.Error("Shard failed", zap.String("stage", string(stage)),
			zap.Error(err))
		return result
	}
	defer func() { processor.metrics.shardDone(result.Err) }()

	logger.Info("Processing shard",
		zap.Int("max_seq_length", processor.config.MaxSeqLength),
		zap.Bool("balance", processor.config.Balance))
	date := processor.clock.Now().UTC().Format(EventTimeLayout)

	if err := ctx.Err(); err != nil {
		return fail(StageLoad, err)
	}
	reviews, stats, err := dataset.LoadShard(shard,
		dataset.ReadOptions{Sanitizer: processor.sanitizer})
	result.Stats = stats
	if err != nil {
		return fail(StageLoad, err)
	}
	processor.metrics.rowDropped(stats.Dropped)
	logger.Info("Loaded shard", zap.Int("rows", stats.Rows),
		zap.Int("kept", stats.Kept), zap.Int("dropped", stats.Dropped))
	for _, sample := range stats.Samples {
		logger.Debug("Dropped row", zap.Error(sample))
	}

	if err := ctx.Err(); err != nil {
		return fail(StageValidate, err)
	}
	if err := dataset.ValidateLabels(reviews,
		processor.encoder.Labels()); err != nil {
		return fail(StageValidate, err)
	}

	if err := ctx.Err(); err != nil {
		return fail(StageBalance, err)
	}
	if processor.config.Balance {
		reviews = dataset.Balance(reviews, processor.config.Seed)
		logger.Info("Balanced shard", zap.Int("rows", len(reviews)),
			zap.Any("label_counts", dataset.LabelCounts(reviews)))
	}
	result.Balanced = len(reviews)

	if err := ctx.Err(); err != nil {
		return fail(StageSplit, err)
	}
	partitions, err := dataset.Split(reviews, processor.config.Fractions,
		processor.config.Seed)
	if err != nil {
		return fail(StageSplit, err)
	}
	logger.Info("Split shard", zap.Int(SplitTrain, len(partitions.Train)),
		zap.Int(SplitValidation, len(partitions.Validation)),
		zap.Int(SplitTest, len(partitions.Test)))

	bySplit := map[string][]dataset.Review{
		SplitTrain:      partitions.Train,
		SplitValidation: partitions.Validation,
		SplitTest:       partitions.Test,
	}
	for _, split := range Splits {
		if err := ctx.Err(); err != nil {
			return fail(StageEncode, err)
		}
		path := processor.outputPath(split, shard)
		summary, stage, err := processor.writeSplit(logger, split, path,
			bySplit[split], date)
		if err != nil {
			return fail(stage, err)
		}
		result.Outputs[split] = path
		result.Counts[split] = summary.Len()
		result.Summaries[split] = summary
		processor.metrics.recordWritten(split, summary.Len())
	}
	logger.Info("Finished shard",
		zap.Int(SplitTrain, result.Counts[SplitTrain]),
		zap.Int(SplitValidation, result.Counts[SplitValidation]),
		zap.Int(SplitTest, result.Counts[SplitTest]))
	return result
}

// writeSplit encodes reviews one at a time and streams them to path,
// collecting the summary rows as it goes. On failure nothing is left at
// path and the returned stage says whether encoding or writing failed.
func (processor *Processor) writeSplit(logger *zap.Logger, split string,
	path string, reviews []dataset.Review,
	date string) (*featurestore.Table, Stage, error) {
	writer, err := features.Create(path,
		tfrecord.Options{Gzip: processor.config.Gzip})
	if err != nil {
		return nil, StageWrite, err
	}
	summary := NewSummaryTable()
	total := humanize.Comma(int64(len(reviews)))
	for idx, review := range reviews {
		if idx%processor.progressEvery == 0 {
			logger.Info(fmt.Sprintf("Writing input %s of %s",
				humanize.Comma(int64(idx)), total),
				zap.String("split", split))
		}
		record, encodeErr := processor.encoder.Encode(
			review.ToRawExample(date))
		if encodeErr != nil {
			writer.Abort()
			return nil, StageEncode, fmt.Errorf("%s: %w", split, encodeErr)
		}
		if writeErr := writer.Write(record); writeErr != nil {
			writer.Abort()
			return nil, StageWrite, writeErr
		}
		if summaryErr := appendSummary(summary, record,
			split); summaryErr != nil {
			writer.Abort()
			return nil, StageWrite, summaryErr
		}
	}
	if closeErr := writer.Close(); closeErr != nil {
		return nil, StageWrite, closeErr
	}
	return summary, "", nil
}
