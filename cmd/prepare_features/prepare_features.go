package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wbrown/bert_prep"
	"github.com/wbrown/bert_prep/featurestore"
	"github.com/wbrown/bert_prep/pipeline"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func newLogger(debug bool) *zap.Logger {
	config := zap.NewProductionConfig()
	config.DisableStacktrace = true
	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func main() {
	defaults := pipeline.DefaultConfig()
	configPath := flag.String("config", "",
		"YAML job config; flags given explicitly override it")
	resourceConfigPath := flag.String("resource_config",
		pipeline.DefaultResourceConfigPath,
		"processing job resourceconfig.json naming hosts and current host")
	hosts := flag.String("hosts", "",
		"comma-separated list of host names running the job")
	currentHost := flag.String("current_host", "",
		"name of this host running the job")
	inputDir := flag.String("input_data", defaults.InputDir,
		"directory holding the input shards")
	outputDir := flag.String("output_data", defaults.OutputDir,
		"directory to write bert/{train,validation,test} to")
	pattern := flag.String("pattern", defaults.Pattern,
		"glob of input shards under -input_data, `**` allowed")
	trainSplit := flag.Float64("train_split_percentage",
		defaults.Fractions.Train, "fraction of rows for training")
	validationSplit := flag.Float64("validation_split_percentage",
		defaults.Fractions.Validation, "fraction of rows for validation")
	testSplit := flag.Float64("test_split_percentage",
		defaults.Fractions.Test, "fraction of rows for test")
	balance := flag.Bool("balance_dataset", defaults.Balance,
		"downsample every rating to the size of the rarest one")
	maxSeqLength := flag.Int("max_seq_length", defaults.MaxSeqLength,
		"length of every encoded sequence")
	seed := flag.Int64("seed", defaults.Seed,
		"seed for balancing and splitting")
	workers := flag.Int("workers", defaults.Workers,
		"shards processed in parallel")
	tokenizerId := flag.String("tokenizer", defaults.Tokenizer,
		"vocabulary: local directory, URL, or huggingface id")
	cacheDir := flag.String("cache_dir", defaults.CacheDir,
		"where downloaded vocabularies are kept")
	padding := flag.String("padding", defaults.Padding,
		"side to pad sequences on [right, left]")
	sanitize := flag.Bool("sanitize", defaults.Sanitize,
		"clean markup and whitespace from review bodies")
	gzipOutput := flag.Bool("gzip", defaults.Gzip,
		"gzip the tfrecord outputs")
	metricsAddr := flag.String("metrics_addr", defaults.MetricsAddr,
		"serve prometheus metrics on this address")
	featureStore := flag.Bool("feature_store", false,
		"publish the summaries to a SageMaker feature group")
	bucket := flag.String("bucket", "",
		"S3 bucket for the feature group's offline store")
	region := flag.String("region", "", "AWS region")
	roleArn := flag.String("role_arn", "",
		"IAM role the feature store assumes")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	logger := newLogger(*debug)
	defer logger.Sync()

	config := defaults
	if *configPath != "" {
		var configErr error
		if config, configErr = pipeline.LoadConfig(*configPath); configErr != nil {
			logger.Fatal("Could not load config", zap.Error(configErr))
		}
	}
	resourceConfig, resourceErr := pipeline.LoadResourceConfig(
		*resourceConfigPath)
	if resourceErr != nil {
		logger.Fatal("Could not read resource config", zap.Error(resourceErr))
	}
	if config.CurrentHost == pipeline.UnknownHost {
		config.Hosts = resourceConfig.Hosts
		config.CurrentHost = resourceConfig.CurrentHost
	}

	overrides := map[string]func(){
		"hosts":        func() { config.Hosts = strings.Split(*hosts, ",") },
		"current_host": func() { config.CurrentHost = *currentHost },
		"input_data":   func() { config.InputDir = *inputDir },
		"output_data":  func() { config.OutputDir = *outputDir },
		"pattern":      func() { config.Pattern = *pattern },
		"train_split_percentage": func() {
			config.Fractions.Train = *trainSplit
		},
		"validation_split_percentage": func() {
			config.Fractions.Validation = *validationSplit
		},
		"test_split_percentage": func() { config.Fractions.Test = *testSplit },
		"balance_dataset":       func() { config.Balance = *balance },
		"max_seq_length":        func() { config.MaxSeqLength = *maxSeqLength },
		"seed":                  func() { config.Seed = *seed },
		"workers":               func() { config.Workers = *workers },
		"tokenizer":             func() { config.Tokenizer = *tokenizerId },
		"cache_dir":             func() { config.CacheDir = *cacheDir },
		"padding":               func() { config.Padding = *padding },
		"sanitize":              func() { config.Sanitize = *sanitize },
		"gzip":                  func() { config.Gzip = *gzipOutput },
		"metrics_addr":          func() { config.MetricsAddr = *metricsAddr },
		"feature_store": func() {
			config.FeatureStore.Enabled = *featureStore
		},
		"bucket":   func() { config.FeatureStore.Bucket = *bucket },
		"region":   func() { config.FeatureStore.Region = *region },
		"role_arn": func() { config.FeatureStore.RoleArn = *roleArn },
	}
	flag.Visit(func(f *flag.Flag) {
		if override, ok := overrides[f.Name]; ok {
			override()
		}
	})
	if err := config.Validate(); err != nil {
		flag.Usage()
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	logger.Info("Loaded configuration", zap.Any("config", config))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, logger); err != nil {
		for _, failure := range multierr.Errors(err) {
			logger.Error("Failure", zap.Error(failure))
		}
		logger.Fatal("Feature preparation failed",
			zap.Int("errors", len(multierr.Errors(err))))
	}
	logger.Info("Complete")
}

func run(ctx context.Context, config pipeline.Config,
	logger *zap.Logger) error {
	var metrics *pipeline.Metrics
	if config.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		var metricsErr error
		if metrics, metricsErr = pipeline.RegisterMetrics(registry); metricsErr != nil {
			return metricsErr
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry,
			promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(config.MetricsAddr, mux); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				logger.Warn("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	tokenizer, err := bert_prep.NewEncoder(config.Tokenizer, config.CacheDir,
		logger)
	if err != nil {
		return err
	}
	clock := featurestore.SystemClock{}
	processor, err := pipeline.NewProcessor(config, tokenizer, clock, logger,
		metrics)
	if err != nil {
		return err
	}

	shards, err := pipeline.DiscoverShards(config.InputDir, config.Pattern)
	if err != nil {
		return err
	}
	shards = pipeline.AssignShards(shards, config.Hosts, config.CurrentHost)
	if len(shards) == 0 {
		return errors.New("no input shards found in " + config.InputDir)
	}
	logger.Info("Discovered shards", zap.String("host", config.CurrentHost),
		zap.Strings("shards", shards))

	result, err := pipeline.Run(ctx, processor, shards, config.Workers)
	if err != nil {
		return err
	}
	for _, shard := range result.Shards {
		for split, path := range shard.Outputs {
			logger.Info("Wrote output", zap.String("split", split),
				zap.String("path", path), zap.Int("records",
					shard.Counts[split]))
		}
	}
	if !config.FeatureStore.Enabled {
		return nil
	}
	publisher, err := newPublisher(ctx, config, clock, logger)
	if err != nil {
		return err
	}
	return publisher.Publish(ctx, result.Summaries)
}

func newPublisher(ctx context.Context, config pipeline.Config,
	clock featurestore.Clock, logger *zap.Logger) (*pipeline.Publisher,
	error) {
	store := config.FeatureStore
	sess, err := featurestore.NewSession(store.Region)
	if err != nil {
		return nil, err
	}
	region := aws.StringValue(sess.Config.Region)
	account, err := featurestore.AccountId(ctx, sts.New(sess))
	if err != nil {
		return nil, err
	}
	now := clock.Now()
	if store.Prefix == "" {
		store.Prefix = "reviews-feature-store-" +
			now.Format(pipeline.EventTimeLayout)
	}
	if store.GroupName == "" {
		store.GroupName = "reviews-feature-group-" + now.Format("02-15-04-05")
	}

	group := featurestore.NewFeatureGroup(store.GroupName,
		pipeline.RecordIdentifier, pipeline.EventTime,
		featurestore.NewSageMakerClient(sess), clock, logger)
	group.MaxPolls = store.CreationPolls

	watcher := featurestore.NewVisibilityWatcher(s3.New(sess), store.Bucket,
		featurestore.OfflineStorePrefix(store.Prefix, account, region,
			store.GroupName), clock, logger)
	watcher.MaxAttempts = store.VisibilityPolls
	if store.VisibilityPeriod > 0 {
		watcher.Interval = store.VisibilityPeriod
	}

	return &pipeline.Publisher{
		Group:   group,
		Watcher: watcher,
		Options: featurestore.CreateOptions{
			OfflineStoreUri:   featurestore.S3Uri(store.Bucket, store.Prefix),
			RoleArn:           store.RoleArn,
			EnableOnlineStore: store.OnlineStore,
		},
		IngestWorkers: store.IngestWorkers,
		HiveDatabase:  store.HiveDatabase,
		Logger:        logger,
	}, nil
}
