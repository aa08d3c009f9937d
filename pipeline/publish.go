package pipeline

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/wbrown/bert_prep/featurestore"
	"go.uber.org/zap"
)

// Feature names the summary table is keyed by in the feature store.
const (
	RecordIdentifier = ReviewIdColumn
	EventTime        = DateColumn
)

// Publisher registers the run's summaries as a feature group, ingests
// them, and waits for the offline store to show them.
type Publisher struct {
	Group         *featurestore.FeatureGroup
	Watcher       *featurestore.VisibilityWatcher
	Options       featurestore.CreateOptions
	IngestWorkers int
	HiveDatabase  string
	Logger        *zap.Logger
}

// Publish runs create, wait for Created, ingest train, validation and
// test, log the Hive DDL, and wait for the data to be visible. The group's
// schema is taken from the train summary, or from all rows if train is
// empty.
func (publisher *Publisher) Publish(ctx context.Context,
	summaries map[string]*featurestore.Table) error {
	logger := publisher.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	schema := summaries[SplitTrain]
	if schema == nil || schema.Len() == 0 {
		schema = NewSummaryTable()
		for _, split := range Splits {
			if table, ok := summaries[split]; ok {
				if err := schema.Extend(table); err != nil {
					return err
				}
			}
		}
	}
	if schema.Len() == 0 {
		return fmt.Errorf("no records to publish to feature group %s",
			publisher.Group.Name)
	}
	if err := publisher.Group.LoadFeatureDefinitions(schema); err != nil {
		return err
	}
	if err := publisher.Group.Create(ctx, publisher.Options); err != nil {
		return err
	}
	if err := publisher.Group.WaitForCreation(ctx); err != nil {
		return err
	}
	for _, split := range Splits {
		table, ok := summaries[split]
		if !ok || table.Len() == 0 {
			continue
		}
		logger.Info("Ingesting split", zap.String("split", split),
			zap.String("rows", humanize.Comma(int64(table.Len()))))
		if _, err := publisher.Group.Ingest(ctx, table,
			publisher.IngestWorkers); err != nil {
			return fmt.Errorf("ingesting %s: %w", split, err)
		}
	}
	ddl, err := publisher.Group.AsHiveDDL(ctx, publisher.HiveDatabase, "")
	if err != nil {
		return err
	}
	logger.Info("Feature group Hive DDL", zap.String("ddl", ddl))
	if publisher.Watcher == nil {
		return nil
	}
	return publisher.Watcher.Wait(ctx)
}
