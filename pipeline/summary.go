package pipeline

import (
	"encoding/base64"

	"github.com/wbrown/bert_prep/features"
	"github.com/wbrown/bert_prep/featurestore"
)

// Columns of the summary table handed to the feature store, one row per
// record.
const (
	TFRecordColumn   = "tf_record"
	InputIdsColumn   = "input_ids"
	InputMaskColumn  = "input_mask"
	SegmentIdsColumn = "segment_ids"
	LabelIdColumn    = "label_id"
	ReviewIdColumn   = "review_id"
	DateColumn       = "date"
	LabelColumn      = "label"
	ReviewBodyColumn = "review_body"
	SplitColumn      = "split"
)

var SummaryColumns = []string{
	TFRecordColumn,
	InputIdsColumn,
	InputMaskColumn,
	SegmentIdsColumn,
	LabelIdColumn,
	ReviewIdColumn,
	DateColumn,
	LabelColumn,
	ReviewBodyColumn,
	SplitColumn,
}

func NewSummaryTable() *featurestore.Table {
	return featurestore.NewTable(SummaryColumns...)
}

// appendSummary adds record to table. The serialized Example travels as
// base64 since the feature store only takes strings.
func appendSummary(table *featurestore.Table, record *features.FeatureRecord,
	split string) error {
	return table.Append(
		base64.StdEncoding.EncodeToString(record.Serialize()),
		featurestore.FormatInt64List(record.InputIds),
		featurestore.FormatInt64List(record.InputMask),
		featurestore.FormatInt64List(record.SegmentIds),
		record.LabelId,
		record.ReviewId,
		record.Date,
		record.Label,
		record.ReviewBody,
		split,
	)
}
