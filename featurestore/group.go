package featurestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultCreationPollInterval = 5 * time.Second
const DefaultIngestWorkers = 3
const DefaultHiveDatabase = "sagemaker_featurestore"

// GroupSpec is everything needed to create a feature group.
type GroupSpec struct {
	Name              string
	RecordIdentifier  string
	EventTime         string
	Definitions       []FeatureDefinition
	OfflineStoreUri   string
	RoleArn           string
	EnableOnlineStore bool
	Description       string
}

// Description is the service's view of a feature group.
type Description struct {
	Name                string
	Status              Status
	FailureReason       string
	ResolvedOfflineUri  string
	RecordIdentifier    string
	EventTime           string
	FeatureDefinitions  []FeatureDefinition
	OnlineStoreEnabled  bool
	OfflineStoreEnabled bool
}

// Client is the feature store service.
type Client interface {
	CreateFeatureGroup(ctx context.Context, spec GroupSpec) error
	DescribeFeatureGroup(ctx context.Context, name string) (*Description,
		error)
	PutRecord(ctx context.Context, group string, record []FeatureValue) error
}

// CreationError reports a feature group that did not reach StatusCreated.
type CreationError struct {
	Group  string
	Status Status
	Reason string
}

func (err *CreationError) Error() string {
	msg := fmt.Sprintf("failed to create feature group %s: status %s",
		err.Group, err.Status)
	if err.Reason != "" {
		msg += ": " + err.Reason
	}
	return msg
}

// IngestionError lists the rows PutRecord rejected.
type IngestionError struct {
	Group      string
	FailedRows []int
	Err        error
}

func (err *IngestionError) Error() string {
	return fmt.Sprintf("failed to ingest %d rows into %s: %v",
		len(err.FailedRows), err.Group, err.Err)
}

func (err *IngestionError) Unwrap() error {
	return err.Err
}

// FeatureGroup drives one feature group through
// Creating -> Created | Failed and ingests tables into it.
type FeatureGroup struct {
	Name             string
	RecordIdentifier string
	EventTime        string
	Definitions      []FeatureDefinition
	// PollInterval is the wait between status checks while Creating.
	PollInterval time.Duration
	// MaxPolls bounds the status checks; 0 polls until a terminal status or
	// until the context ends.
	MaxPolls int

	client Client
	clock  Clock
	logger *zap.Logger
}

func NewFeatureGroup(name string, recordIdentifier string, eventTime string,
	client Client, clock Clock, logger *zap.Logger) *FeatureGroup {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeatureGroup{
		Name:             name,
		RecordIdentifier: recordIdentifier,
		EventTime:        eventTime,
		PollInterval:     DefaultCreationPollInterval,
		client:           client,
		clock:            clock,
		logger:           logger.With(zap.String("feature_group", name)),
	}
}

// LoadFeatureDefinitions infers the group's schema from a table. The
// record identifier and event time columns must be present.
func (group *FeatureGroup) LoadFeatureDefinitions(table *Table) error {
	definitions := InferFeatureDefinitions(table)
	var hasId, hasTime bool
	for _, definition := range definitions {
		hasId = hasId || definition.Name == group.RecordIdentifier
		hasTime = hasTime || definition.Name == group.EventTime
	}
	if !hasId || !hasTime {
		return fmt.Errorf("table must have record identifier `%s` and "+
			"event time `%s` columns", group.RecordIdentifier,
			group.EventTime)
	}
	group.Definitions = definitions
	return nil
}

// CreateOptions are the storage settings of a new group.
type CreateOptions struct {
	OfflineStoreUri   string
	RoleArn           string
	EnableOnlineStore bool
	Description       string
}

func (group *FeatureGroup) Create(ctx context.Context,
	options CreateOptions) error {
	if len(group.Definitions) == 0 {
		return errors.New("feature definitions must be loaded before create")
	}
	group.logger.Info("Creating feature group",
		zap.String("offline_store", options.OfflineStoreUri),
		zap.Int("features", len(group.Definitions)))
	err := group.client.CreateFeatureGroup(ctx, GroupSpec{
		Name:              group.Name,
		RecordIdentifier:  group.RecordIdentifier,
		EventTime:         group.EventTime,
		Definitions:       group.Definitions,
		OfflineStoreUri:   options.OfflineStoreUri,
		RoleArn:           options.RoleArn,
		EnableOnlineStore: options.EnableOnlineStore,
		Description:       options.Description,
	})
	if err != nil {
		return fmt.Errorf("creating feature group %s: %w", group.Name, err)
	}
	return nil
}

func (group *FeatureGroup) Describe(ctx context.Context) (*Description,
	error) {
	return group.client.DescribeFeatureGroup(ctx, group.Name)
}

// WaitForCreation polls the group until it leaves StatusCreating, and
// fails with a CreationError unless it ends up StatusCreated.
func (group *FeatureGroup) WaitForCreation(ctx context.Context) error {
	for polls := 1; ; polls++ {
		description, err := group.Describe(ctx)
		if err != nil {
			return fmt.Errorf("describing feature group %s: %w", group.Name,
				err)
		}
		if description.Status.Terminal() {
			if description.Status != StatusCreated {
				return &CreationError{
					Group:  group.Name,
					Status: description.Status,
					Reason: description.FailureReason,
				}
			}
			group.logger.Info("Feature group successfully created")
			return nil
		}
		if group.MaxPolls > 0 && polls >= group.MaxPolls {
			return &CreationError{
				Group:  group.Name,
				Status: description.Status,
				Reason: fmt.Sprintf("still %s after %d polls",
					description.Status, polls),
			}
		}
		group.logger.Info("Waiting for feature group creation",
			zap.Int("poll", polls))
		if sleepErr := group.clock.Sleep(ctx, group.PollInterval); sleepErr != nil {
			return sleepErr
		}
	}
}

// Ingest puts every row of table into the group, spreading contiguous
// batches over at most maxWorkers goroutines. It returns once all rows
// have been attempted, with an IngestionError naming any rejected rows.
func (group *FeatureGroup) Ingest(ctx context.Context, table *Table,
	maxWorkers int) (int, error) {
	if maxWorkers <= 0 {
		maxWorkers = DefaultIngestWorkers
	}
	rows := table.Len()
	if rows == 0 {
		return 0, nil
	}
	batchSize := (rows + maxWorkers - 1) / maxWorkers

	var mu sync.Mutex
	var failed []int
	var errs error
	ingested := 0

	var workers errgroup.Group
	workers.SetLimit(maxWorkers)
	for begin := 0; begin < rows; begin += batchSize {
		begin, end := begin, begin+batchSize
		if end > rows {
			end = rows
		}
		workers.Go(func() error {
			for idx := begin; idx < end; idx++ {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				putErr := group.client.PutRecord(ctx, group.Name,
					table.Record(idx))
				mu.Lock()
				if putErr != nil {
					failed = append(failed, idx)
					errs = multierr.Append(errs, fmt.Errorf("row %d: %w",
						idx, putErr))
				} else {
					ingested++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if waitErr := workers.Wait(); waitErr != nil {
		return ingested, waitErr
	}
	if len(failed) > 0 {
		return ingested, &IngestionError{
			Group:      group.Name,
			FailedRows: failed,
			Err:        errs,
		}
	}
	group.logger.Info("Ingested rows", zap.Int("rows", ingested))
	return ingested, nil
}

// AsHiveDDL is the Athena/Hive statement for the group's offline store.
// An empty database or table name falls back to the defaults.
func (group *FeatureGroup) AsHiveDDL(ctx context.Context, database string,
	tableName string) (string, error) {
	if database == "" {
		database = DefaultHiveDatabase
	}
	if tableName == "" {
		tableName = group.Name
	}
	description, err := group.Describe(ctx)
	if err != nil {
		return "", err
	}
	definitions := description.FeatureDefinitions
	if len(definitions) == 0 {
		definitions = group.Definitions
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE EXTERNAL TABLE IF NOT EXISTS %s.%s (\n",
		database, tableName)
	for _, definition := range definitions {
		fmt.Fprintf(&sb, "  %s %s\n", definition.Name,
			hiveTypes[definition.Type])
	}
	sb.WriteString("  write_time TIMESTAMP\n")
	sb.WriteString("  event_time TIMESTAMP\n")
	sb.WriteString("  is_deleted BOOLEAN\n")
	sb.WriteString(")\n")
	sb.WriteString("ROW FORMAT SERDE " +
		"'org.apache.hadoop.hive.ql.io.parquet.serde.ParquetHiveSerDe'\n")
	sb.WriteString("  STORED AS\n")
	sb.WriteString("  INPUTFORMAT 'parquet.hive.DeprecatedParquetInputFormat'\n")
	sb.WriteString("  OUTPUTFORMAT 'parquet.hive.DeprecatedParquetOutputFormat'\n")
	fmt.Fprintf(&sb, "LOCATION '%s'", description.ResolvedOfflineUri)
	return sb.String(), nil
}
