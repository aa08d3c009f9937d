package features

import (
	"fmt"

	"github.com/wbrown/bert_prep"
	"github.com/wbrown/bert_prep/types"
)

// Tokenizer is the part of bert_prep.BertEncoder the Encoder needs.
type Tokenizer interface {
	EncodePlus(text string, maxLength int,
		padding bert_prep.Padding) (types.Tokens, types.Mask, error)
}

// Encoder turns RawExamples into FeatureRecords of a fixed length. It holds
// no mutable state and is safe for concurrent use when its Tokenizer is.
type Encoder struct {
	tokenizer    Tokenizer
	labels       *LabelMap
	maxSeqLength int
	padding      bert_prep.Padding
}

func NewEncoder(tokenizer Tokenizer, labels *LabelMap, maxSeqLength int,
	padding bert_prep.Padding) (*Encoder, error) {
	if tokenizer == nil {
		return nil, fmt.Errorf("encoder needs a tokenizer")
	}
	if labels == nil {
		labels = DefaultLabelMap()
	}
	if maxSeqLength <= 0 {
		return nil, fmt.Errorf("max_seq_length must be positive, got %d",
			maxSeqLength)
	}
	return &Encoder{
		tokenizer:    tokenizer,
		labels:       labels,
		maxSeqLength: maxSeqLength,
		padding:      padding,
	}, nil
}

func (encoder *Encoder) MaxSeqLength() int {
	return encoder.maxSeqLength
}

func (encoder *Encoder) Labels() *LabelMap {
	return encoder.labels
}

// Encode builds the FeatureRecord for one review. The label is checked
// before any tokenization happens.
func (encoder *Encoder) Encode(raw RawExample) (*FeatureRecord, error) {
	labelId, labelErr := encoder.labels.Index(raw.Label)
	if labelErr != nil {
		return nil, &UnknownLabelError{Label: raw.Label, ReviewId: raw.ReviewId}
	}
	tokens, mask, tokErr := encoder.tokenizer.EncodePlus(raw.Text,
		encoder.maxSeqLength, encoder.padding)
	if tokErr != nil {
		return nil, fmt.Errorf("tokenizing review %s: %w", raw.ReviewId,
			tokErr)
	}
	if len(tokens) != encoder.maxSeqLength || len(mask) != encoder.maxSeqLength {
		return nil, fmt.Errorf("tokenizer returned %d ids and %d mask "+
			"values for review %s, expected %d", len(tokens), len(mask),
			raw.ReviewId, encoder.maxSeqLength)
	}
	return &FeatureRecord{
		InputIds:   tokens.ToInt64s(),
		InputMask:  mask.ToInt64s(),
		SegmentIds: types.Zeros(encoder.maxSeqLength),
		LabelId:    labelId,
		ReviewId:   raw.ReviewId,
		Date:       raw.Date,
		Label:      raw.Label,
		ReviewBody: raw.Text,
	}, nil
}
