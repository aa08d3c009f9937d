package features

import (
	"fmt"

	"github.com/wbrown/bert_prep/tfrecord"
)

// Names of the int64 features every record carries.
const (
	InputIdsKey   = "input_ids"
	InputMaskKey  = "input_mask"
	SegmentIdsKey = "segment_ids"
	LabelIdsKey   = "label_ids"
)

// RawExample is one review as read from a shard.
type RawExample struct {
	Text     string
	ReviewId string
	Date     string
	Label    int
}

// FeatureRecord is the fixed-length encoding of a RawExample, plus the raw
// fields it was built from.
type FeatureRecord struct {
	InputIds   []int64
	InputMask  []int64
	SegmentIds []int64
	LabelId    int64
	ReviewId   string
	Date       string
	Label      int
	ReviewBody string
}

// ToExample carries the four integer features into a `tf.train.Example`.
func (record *FeatureRecord) ToExample() *tfrecord.Example {
	example := tfrecord.NewExample()
	example.SetInt64s(InputIdsKey, record.InputIds)
	example.SetInt64s(InputMaskKey, record.InputMask)
	example.SetInt64s(SegmentIdsKey, record.SegmentIds)
	example.SetInt64s(LabelIdsKey, []int64{record.LabelId})
	return example
}

// Serialize is the record's Example in protobuf wire format.
func (record *FeatureRecord) Serialize() []byte {
	return record.ToExample().Marshal()
}

// FromExample rebuilds the integer features of a record. The raw review
// fields are not stored in the container and stay empty.
func FromExample(example *tfrecord.Example) (*FeatureRecord, error) {
	record := &FeatureRecord{}
	var err error
	if record.InputIds, err = example.Int64s(InputIdsKey); err != nil {
		return nil, err
	}
	if record.InputMask, err = example.Int64s(InputMaskKey); err != nil {
		return nil, err
	}
	if record.SegmentIds, err = example.Int64s(SegmentIdsKey); err != nil {
		return nil, err
	}
	labelIds, labelErr := example.Int64s(LabelIdsKey)
	if labelErr != nil {
		return nil, labelErr
	}
	if len(labelIds) != 1 {
		return nil, fmt.Errorf("expected one %s value, got %d", LabelIdsKey,
			len(labelIds))
	}
	record.LabelId = labelIds[0]
	if len(record.InputIds) != len(record.InputMask) ||
		len(record.InputIds) != len(record.SegmentIds) {
		return nil, fmt.Errorf("feature lengths differ: %d/%d/%d",
			len(record.InputIds), len(record.InputMask),
			len(record.SegmentIds))
	}
	return record, nil
}
