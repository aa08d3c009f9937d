package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/bert_prep"
	"github.com/wbrown/bert_prep/dataset"
	"github.com/wbrown/bert_prep/features"
	"github.com/wbrown/bert_prep/featurestore"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var tinyEncoder *bert_prep.BertEncoder

func TestMain(m *testing.M) {
	var err error
	tinyEncoder, err = bert_prep.NewEncoder("../testdata/tiny-bert", "",
		zap.NewNop())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

var processingTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

func (clock *fakeClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.sleeps++
	clock.now = clock.now.Add(d)
	return nil
}

const shardHeader = "marketplace\tcustomer_id\treview_id\tproduct_id\t" +
	"star_rating\treview_headline\treview_body\treview_date"

var reviewBodies = []string{
	"the movie was great !",
	"bad product , not worth money .",
	"i love it",
	"a very good book",
	"five stars",
}

func shardRow(id string, rating string, body string) string {
	return strings.Join([]string{"US", "123", id, "B00X", rating,
		"headline", body, "2015-08-31"}, "\t")
}

// shardRows is a header plus perLabel rows for every rating 1 to 5.
func shardRows(prefix string, perLabel int) []string {
	rows := []string{shardHeader}
	for label := 1; label <= 5; label++ {
		for idx := 0; idx < perLabel; idx++ {
			rows = append(rows, shardRow(
				fmt.Sprintf("%s-%d-%d", prefix, label, idx),
				fmt.Sprint(label), reviewBodies[(idx+label)%len(reviewBodies)]))
		}
	}
	return rows
}

func writeShard(t *testing.T, dir string, name string, rows []string) string {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(strings.Join(rows, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func testConfig(t *testing.T) Config {
	config := DefaultConfig()
	config.InputDir = t.TempDir()
	config.OutputDir = t.TempDir()
	config.Balance = false
	config.MaxSeqLength = 8
	config.Workers = 2
	config.Hosts = []string{"algo-1"}
	config.CurrentHost = "algo-1"
	return config
}

func newTestProcessor(t *testing.T, config Config,
	metrics *Metrics) *Processor {
	processor, err := NewProcessor(config, tinyEncoder,
		&fakeClock{now: processingTime}, zap.NewNop(), metrics)
	require.NoError(t, err)
	return processor
}

func summaryIds(t *testing.T, tables ...*featurestore.Table) []string {
	idCol := -1
	for idx, column := range SummaryColumns {
		if column == ReviewIdColumn {
			idCol = idx
		}
	}
	require.GreaterOrEqual(t, idCol, 0)
	ids := make([]string, 0)
	for _, table := range tables {
		for _, row := range table.Rows {
			ids = append(ids, row[idCol].(string))
		}
	}
	return ids
}

func TestProcessShard_HundredRows(t *testing.T) {
	config := testConfig(t)
	shard := writeShard(t, config.InputDir, "reviews_1.tsv.gz",
		shardRows("R", 20))
	result := newTestProcessor(t, config, nil).ProcessShard(
		context.Background(), shard)
	require.NoError(t, result.Err)

	assert.Equal(t, 100, result.Stats.Kept)
	assert.Equal(t, 100, result.Balanced)
	assert.Equal(t, map[string]int{
		SplitTrain: 90, SplitValidation: 5, SplitTest: 5,
	}, result.Counts)
	for _, split := range Splits {
		expected := filepath.Join(config.OutputDir, "bert", split,
			"part-algo-1-reviews_1.tfrecord")
		assert.Equal(t, expected, result.Outputs[split])
		records, err := features.ReadAll(expected)
		require.NoError(t, err)
		assert.Len(t, records, result.Counts[split])
		for _, record := range records {
			assert.Len(t, record.InputIds, 8)
			assert.Len(t, record.InputMask, 8)
			assert.Equal(t, make([]int64, 8), record.SegmentIds)
			assert.True(t, record.LabelId >= 0 && record.LabelId <= 4)
		}
		assert.Equal(t, result.Counts[split], result.Summaries[split].Len())
	}

	ids := summaryIds(t, result.Summaries[SplitTrain],
		result.Summaries[SplitValidation], result.Summaries[SplitTest])
	assert.Len(t, ids, 100)
	unique := make(map[string]bool)
	for _, id := range ids {
		unique[id] = true
	}
	assert.Len(t, unique, 100)

	row := result.Summaries[SplitTest].Record(0)
	byName := make(map[string]string)
	for _, value := range row {
		byName[value.Name] = value.Value
	}
	assert.Equal(t, "2024-05-01T12:00:00Z", byName[DateColumn])
	assert.Equal(t, SplitTest, byName[SplitColumn])
	assert.True(t, strings.HasPrefix(byName[InputIdsColumn], "[2, "))
	assert.Equal(t, "[0, 0, 0, 0, 0, 0, 0, 0]", byName[SegmentIdsColumn])
}

func TestProcessShard_Balance(t *testing.T) {
	config := testConfig(t)
	config.Balance = true
	rows := []string{shardHeader}
	for idx := 0; idx < 5; idx++ {
		rows = append(rows, shardRow(fmt.Sprintf("F%d", idx), "5", "five stars"))
	}
	rows = append(rows, shardRow("O1", "1", "one star"))
	shard := writeShard(t, config.InputDir, "tiny.tsv.gz", rows)

	result := newTestProcessor(t, config, nil).ProcessShard(
		context.Background(), shard)
	require.NoError(t, result.Err)
	assert.Equal(t, 6, result.Stats.Kept)
	assert.Equal(t, 2, result.Balanced)
	total := 0
	for _, n := range result.Counts {
		total += n
	}
	assert.Equal(t, 2, total)
}

func TestProcessShard_Deterministic(t *testing.T) {
	first := testConfig(t)
	first.Balance = true
	shard := writeShard(t, first.InputDir, "reviews_1.tsv.gz",
		shardRows("R", 13))
	second := first
	second.OutputDir = t.TempDir()

	resultA := newTestProcessor(t, first, nil).ProcessShard(
		context.Background(), shard)
	resultB := newTestProcessor(t, second, nil).ProcessShard(
		context.Background(), shard)
	require.NoError(t, resultA.Err)
	require.NoError(t, resultB.Err)
	for _, split := range Splits {
		bytesA, err := os.ReadFile(resultA.Outputs[split])
		require.NoError(t, err)
		bytesB, err := os.ReadFile(resultB.Outputs[split])
		require.NoError(t, err)
		assert.Equal(t, bytesA, bytesB, split)
	}
}

func TestProcessShard_Gzip(t *testing.T) {
	config := testConfig(t)
	config.Gzip = true
	shard := writeShard(t, config.InputDir, "reviews_2.tsv.gz",
		shardRows("G", 4))
	result := newTestProcessor(t, config, nil).ProcessShard(
		context.Background(), shard)
	require.NoError(t, result.Err)
	path := result.Outputs[SplitTrain]
	assert.True(t, strings.HasSuffix(path, ".tfrecord.gz"))
	records, err := features.ReadAll(path)
	require.NoError(t, err)
	assert.Len(t, records, result.Counts[SplitTrain])
}

func TestProcessShard_UnknownLabel(t *testing.T) {
	config := testConfig(t)
	rows := shardRows("R", 2)
	rows = append(rows, shardRow("BAD", "6", "i love it"))
	shard := writeShard(t, config.InputDir, "bad.tsv.gz", rows)

	result := newTestProcessor(t, config, nil).ProcessShard(
		context.Background(), shard)
	var shardErr *ShardError
	require.True(t, errors.As(result.Err, &shardErr))
	assert.Equal(t, StageValidate, shardErr.Stage)
	assert.Equal(t, shard, shardErr.Shard)
	var labelErr *features.UnknownLabelError
	require.True(t, errors.As(result.Err, &labelErr))
	assert.Equal(t, 6, labelErr.Label)
	assert.Equal(t, "BAD", labelErr.ReviewId)
	assert.Empty(t, result.Outputs)
	_, statErr := os.Stat(filepath.Join(config.OutputDir, "bert"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessShard_LoadError(t *testing.T) {
	config := testConfig(t)
	shard := writeShard(t, config.InputDir, "noheader.tsv.gz",
		[]string{"a\tb\tc"})
	result := newTestProcessor(t, config, nil).ProcessShard(
		context.Background(), shard)
	var shardErr *ShardError
	require.True(t, errors.As(result.Err, &shardErr))
	assert.Equal(t, StageLoad, shardErr.Stage)
	assert.Contains(t, result.Err.Error(), "noheader.tsv.gz")
	assert.Contains(t, result.Err.Error(), "load")
}

func TestProcessShard_DropsMalformedRows(t *testing.T) {
	config := testConfig(t)
	rows := shardRows("R", 2)
	rows = append(rows,
		shardRow("", "3", "no id"),
		shardRow("R-x", "three", "not a number"),
		"US\ttoo\tfew")
	shard := writeShard(t, config.InputDir, "messy.tsv.gz", rows)
	registry := prometheus.NewRegistry()
	metrics, err := RegisterMetrics(registry)
	require.NoError(t, err)

	result := newTestProcessor(t, config, metrics).ProcessShard(
		context.Background(), shard)
	require.NoError(t, result.Err)
	assert.Equal(t, 3, result.Stats.Dropped)
	assert.Equal(t, 10, result.Stats.Kept)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.rowsDropped))
}

func TestRun(t *testing.T) {
	config := testConfig(t)
	writeShard(t, config.InputDir, "a.tsv.gz", shardRows("A", 20))
	writeShard(t, config.InputDir, "b.tsv.gz", shardRows("B", 20))
	badRows := append(shardRows("C", 1), shardRow("C-bad", "7", "i love it"))
	bad := writeShard(t, config.InputDir, "c.tsv.gz", badRows)

	shards, err := DiscoverShards(config.InputDir, config.Pattern)
	require.NoError(t, err)
	require.Len(t, shards, 3)

	registry := prometheus.NewRegistry()
	metrics, err := RegisterMetrics(registry)
	require.NoError(t, err)
	result, err := Run(context.Background(),
		newTestProcessor(t, config, metrics), shards, config.Workers)
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	var shardErr *ShardError
	require.True(t, errors.As(errs[0], &shardErr))
	assert.Equal(t, bad, shardErr.Shard)

	require.Len(t, result.Shards, 3)
	failed := result.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, bad, failed[0].Shard)
	assert.Equal(t, map[string]int{
		SplitTrain: 180, SplitValidation: 10, SplitTest: 10,
	}, result.Written())
	assert.Equal(t, 180, result.Summaries[SplitTrain].Len())
	assert.Equal(t, 10, result.Summaries[SplitTest].Len())

	assert.Equal(t, float64(180), testutil.ToFloat64(
		metrics.recordsWritten.WithLabelValues(SplitTrain)))
	assert.Equal(t, float64(2), testutil.ToFloat64(
		metrics.shards.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.shards.WithLabelValues("failed")))
	_, dupErr := RegisterMetrics(registry)
	assert.Error(t, dupErr)
}

func TestRun_Cancelled(t *testing.T) {
	config := testConfig(t)
	shard := writeShard(t, config.InputDir, "a.tsv.gz", shardRows("A", 2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := Run(ctx, newTestProcessor(t, config, nil),
		[]string{shard}, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, result.Failed(), 1)
}

func TestDiscoverShards(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "b.tsv.gz", shardRows("B", 1))
	writeShard(t, dir, "a.tsv.gz", shardRows("A", 1))
	writeShard(t, dir, "nested/c.tsv.gz", shardRows("C", 1))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"),
		[]byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.tsv.gz"), 0755))

	shards, err := DiscoverShards(dir, "*.tsv.gz")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.tsv.gz"),
		filepath.Join(dir, "b.tsv.gz"),
	}, shards)

	shards, err = DiscoverShards(dir, "**/*.tsv.gz")
	require.NoError(t, err)
	assert.Contains(t, shards, filepath.Join(dir, "nested", "c.tsv.gz"))
	assert.Contains(t, shards, filepath.Join(dir, "a.tsv.gz"))

	shards, err = DiscoverShards(t.TempDir(), "*.tsv.gz")
	require.NoError(t, err)
	assert.Empty(t, shards)
}

func TestAssignShards(t *testing.T) {
	shards := []string{"s0", "s1", "s2", "s3", "s4"}
	assert.Equal(t, shards, AssignShards(shards, []string{"unknown"},
		"unknown"))
	hosts := []string{"algo-1", "algo-2"}
	assert.Equal(t, []string{"s0", "s2", "s4"},
		AssignShards(shards, hosts, "algo-1"))
	assert.Equal(t, []string{"s1", "s3"},
		AssignShards(shards, hosts, "algo-2"))
	assert.Equal(t, shards, AssignShards(shards, hosts, "elsewhere"))
}

func TestShardStemAndOutputPath(t *testing.T) {
	assert.Equal(t, "reviews_1", ShardStem("/in/reviews_1.tsv.gz"))
	assert.Equal(t, "reviews_1", ShardStem("reviews_1.tsv"))
	assert.Equal(t, "reviews", ShardStem("reviews"))
	assert.Equal(t,
		filepath.Join("/out", "bert", "validation",
			"part-algo-2-reviews_1.tfrecord"),
		OutputPath("/out", SplitValidation, "algo-2",
			ShardName("/in", "/in/reviews_1.tsv.gz")))
}

func TestShardName(t *testing.T) {
	in := filepath.Join("/data", "in")
	assert.Equal(t, "reviews",
		ShardName(in, filepath.Join(in, "reviews.tsv.gz")))
	assert.Equal(t, "us-reviews",
		ShardName(in, filepath.Join(in, "us", "reviews.tsv.gz")))
	assert.Equal(t, "2015-us-reviews",
		ShardName(in, filepath.Join(in, "2015", "us", "reviews.tsv.gz")))
	assert.Equal(t, "reviews",
		ShardName(in, filepath.Join("/elsewhere", "reviews.tsv.gz")))
	assert.Equal(t, "reviews", ShardName(in, "reviews.tsv.gz"))
}

func TestRun_NestedShardsWithSameStem(t *testing.T) {
	config := testConfig(t)
	config.Pattern = "**/*.tsv.gz"
	writeShard(t, config.InputDir, "us/reviews.tsv.gz", shardRows("US", 20))
	writeShard(t, config.InputDir, "uk/reviews.tsv.gz", shardRows("UK", 20))
	shards, err := DiscoverShards(config.InputDir, config.Pattern)
	require.NoError(t, err)
	require.Len(t, shards, 2)

	result, err := Run(context.Background(),
		newTestProcessor(t, config, nil), shards, config.Workers)
	require.NoError(t, err)

	trainDir := filepath.Join(config.OutputDir, "bert", SplitTrain)
	entries, err := os.ReadDir(trainDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	onDisk := 0
	for _, entry := range entries {
		names = append(names, entry.Name())
		records, readErr := features.ReadAll(filepath.Join(trainDir,
			entry.Name()))
		require.NoError(t, readErr)
		onDisk += len(records)
	}
	assert.Equal(t, []string{
		"part-algo-1-uk-reviews.tfrecord",
		"part-algo-1-us-reviews.tfrecord",
	}, names)
	assert.Equal(t, 180, onDisk)
	assert.Equal(t, onDisk, result.Written()[SplitTrain])
	assert.Equal(t, onDisk, result.Summaries[SplitTrain].Len())
}

func TestRun_OutputCollision(t *testing.T) {
	config := testConfig(t)
	flat := writeShard(t, config.InputDir, "us-reviews.tsv.gz",
		shardRows("A", 2))
	nested := writeShard(t, config.InputDir, "us/reviews.tsv.gz",
		shardRows("B", 2))
	other := writeShard(t, config.InputDir, "uk.tsv.gz", shardRows("C", 2))

	result, err := Run(context.Background(),
		newTestProcessor(t, config, nil),
		[]string{flat, nested, other}, config.Workers)
	require.Error(t, err)
	assert.Nil(t, result)
	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	var collision *OutputCollisionError
	require.True(t, errors.As(errs[0], &collision))
	assert.Equal(t, []string{flat, nested}, collision.Shards)
	assert.Equal(t, filepath.Join(config.OutputDir, "bert", SplitTrain,
		"part-algo-1-us-reviews.tfrecord"), collision.Path)
	assert.NoDirExists(t, filepath.Join(config.OutputDir, "bert"))
}

func TestProcessShard_ProgressLog(t *testing.T) {
	config := testConfig(t)
	shard := writeShard(t, config.InputDir, "reviews_1.tsv.gz",
		shardRows("R", 20))
	core, logs := observer.New(zap.InfoLevel)
	processor, err := NewProcessor(config, tinyEncoder,
		&fakeClock{now: processingTime}, zap.New(core), nil)
	require.NoError(t, err)
	processor.progressEvery = 20

	result := processor.ProcessShard(context.Background(), shard)
	require.NoError(t, result.Err)

	progress := logs.FilterMessageSnippet("Writing input")
	assert.Equal(t, 7, progress.Len())
	messages := make([]string, 0)
	for _, entry := range progress.FilterField(
		zap.String("split", SplitTrain)).All() {
		messages = append(messages, entry.Message)
	}
	assert.Equal(t, []string{
		"Writing input 0 of 90",
		"Writing input 20 of 90",
		"Writing input 40 of 90",
		"Writing input 60 of 90",
		"Writing input 80 of 90",
	}, messages)
}

func TestConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, 64, config.MaxSeqLength)
	assert.Equal(t, dataset.DefaultFractions, config.Fractions)
	assert.Equal(t, "*.tsv.gz", config.Pattern)

	invalid := []func(*Config){
		func(c *Config) { c.MaxSeqLength = 0 },
		func(c *Config) { c.Fractions.Train = 1 },
		func(c *Config) { c.Fractions.Test = 0 },
		func(c *Config) { c.Fractions.Test = 0.5 },
		func(c *Config) { c.Workers = 0 },
		func(c *Config) { c.Padding = "middle" },
		func(c *Config) { c.Hosts = nil },
		func(c *Config) { c.FeatureStore.Enabled = true },
	}
	for idx, mutate := range invalid {
		c := DefaultConfig()
		mutate(&c)
		assert.Error(t, c.Validate(), "case %d", idx)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"max_seq_length: 128",
		"balance: false",
		"split:",
		"  train: 0.8",
		"  validation: 0.1",
		"  test: 0.1",
		"feature_store:",
		"  enabled: true",
		"  bucket: my-bucket",
		"  visibility_period: 30s",
	}, "\n")), 0644))
	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 128, config.MaxSeqLength)
	assert.False(t, config.Balance)
	assert.Equal(t, 0.8, config.Fractions.Train)
	assert.Equal(t, "my-bucket", config.FeatureStore.Bucket)
	assert.Equal(t, 30*time.Second, config.FeatureStore.VisibilityPeriod)
	assert.Equal(t, featurestore.DefaultIngestWorkers,
		config.FeatureStore.IngestWorkers)
	assert.Equal(t, "/opt/ml/processing/output", config.OutputDir)
	require.NoError(t, config.Validate())

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadResourceConfig(t *testing.T) {
	missing, err := LoadResourceConfig(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{UnknownHost}, missing.Hosts)
	assert.Equal(t, UnknownHost, missing.CurrentHost)

	path := filepath.Join(t.TempDir(), "resourceconfig.json")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"current_host": "algo-2", "hosts": ["algo-1", "algo-2"]}`), 0644))
	resourceConfig, err := LoadResourceConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"algo-1", "algo-2"}, resourceConfig.Hosts)
	assert.Equal(t, "algo-2", resourceConfig.CurrentHost)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	_, err = LoadResourceConfig(path)
	assert.Error(t, err)
}

// mockFeatureStore records what Publish sends to the service.
type mockFeatureStore struct {
	mu      sync.Mutex
	status  featurestore.Status
	created []featurestore.GroupSpec
	puts    int
}

func (m *mockFeatureStore) CreateFeatureGroup(ctx context.Context,
	spec featurestore.GroupSpec) error {
	m.created = append(m.created, spec)
	return nil
}

func (m *mockFeatureStore) DescribeFeatureGroup(ctx context.Context,
	name string) (*featurestore.Description, error) {
	return &featurestore.Description{
		Name:               name,
		Status:             m.status,
		ResolvedOfflineUri: "s3://bucket/prefix/data",
	}, nil
}

func (m *mockFeatureStore) PutRecord(ctx context.Context, group string,
	record []featurestore.FeatureValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	return nil
}

// S3MockClient is a mock implementation of featurestore.S3Client.
type S3MockClient struct {
	ListObjectsV2Output *s3.ListObjectsV2Output
	ListObjectsV2Error  error
	Calls               int
}

func (m *S3MockClient) ListObjectsV2WithContext(ctx aws.Context,
	input *s3.ListObjectsV2Input,
	opts ...request.Option) (*s3.ListObjectsV2Output, error) {
	m.Calls++
	return m.ListObjectsV2Output, m.ListObjectsV2Error
}

func runForPublish(t *testing.T) *RunResult {
	config := testConfig(t)
	shard := writeShard(t, config.InputDir, "a.tsv.gz", shardRows("A", 20))
	result, err := Run(context.Background(),
		newTestProcessor(t, config, nil), []string{shard}, 1)
	require.NoError(t, err)
	return result
}

func TestPublish(t *testing.T) {
	result := runForPublish(t)
	store := &mockFeatureStore{status: featurestore.StatusCreated}
	clock := &fakeClock{now: processingTime}
	mockSvc := &S3MockClient{
		ListObjectsV2Output: &s3.ListObjectsV2Output{
			KeyCount: aws.Int64(2),
			Contents: []*s3.Object{
				{Key: aws.String("prefix/data/a.parquet")},
				{Key: aws.String("prefix/data/b.parquet")},
			},
		},
	}
	publisher := &Publisher{
		Group: featurestore.NewFeatureGroup("reviews-feature-group",
			RecordIdentifier, EventTime, store, clock, nil),
		Watcher: featurestore.NewVisibilityWatcher(mockSvc, "bucket",
			"prefix", clock, nil),
		Options: featurestore.CreateOptions{
			OfflineStoreUri:   "s3://bucket/prefix",
			EnableOnlineStore: true,
		},
	}
	require.NoError(t, publisher.Publish(context.Background(),
		result.Summaries))

	require.Len(t, store.created, 1)
	spec := store.created[0]
	assert.Equal(t, "review_id", spec.RecordIdentifier)
	assert.Equal(t, "date", spec.EventTime)
	assert.Equal(t, "s3://bucket/prefix", spec.OfflineStoreUri)
	types := make(map[string]featurestore.FeatureType)
	for _, definition := range spec.Definitions {
		types[definition.Name] = definition.Type
	}
	assert.Equal(t, featurestore.Integral, types[LabelIdColumn])
	assert.Equal(t, featurestore.Integral, types[LabelColumn])
	assert.Equal(t, featurestore.String, types[TFRecordColumn])
	assert.Equal(t, featurestore.String, types[InputIdsColumn])
	assert.Equal(t, 100, store.puts)
	assert.Equal(t, 1, mockSvc.Calls)
}

func TestPublish_CreationFailed(t *testing.T) {
	result := runForPublish(t)
	store := &mockFeatureStore{status: featurestore.StatusFailed}
	mockSvc := &S3MockClient{}
	publisher := &Publisher{
		Group: featurestore.NewFeatureGroup("reviews-feature-group",
			RecordIdentifier, EventTime, store,
			&fakeClock{now: processingTime}, nil),
		Watcher: featurestore.NewVisibilityWatcher(mockSvc, "bucket",
			"prefix", &fakeClock{now: processingTime}, nil),
	}
	err := publisher.Publish(context.Background(), result.Summaries)
	var creationErr *featurestore.CreationError
	require.True(t, errors.As(err, &creationErr))
	assert.Equal(t, featurestore.StatusFailed, creationErr.Status)
	assert.Zero(t, store.puts)
	assert.Zero(t, mockSvc.Calls)
}

func TestPublish_NothingToPublish(t *testing.T) {
	store := &mockFeatureStore{status: featurestore.StatusCreated}
	publisher := &Publisher{
		Group: featurestore.NewFeatureGroup("empty", RecordIdentifier,
			EventTime, store, &fakeClock{now: processingTime}, nil),
	}
	err := publisher.Publish(context.Background(),
		map[string]*featurestore.Table{SplitTrain: NewSummaryTable()})
	assert.Error(t, err)
	assert.Empty(t, store.created)
}
