package features

import (
	"github.com/wbrown/bert_prep/tfrecord"
)

// RecordsIterator yields records in output order until it returns nil.
type RecordsIterator func() *FeatureRecord

// RecordsFromSlice iterates over `records` in order.
func RecordsFromSlice(records []*FeatureRecord) RecordsIterator {
	idx := 0
	return func() *FeatureRecord {
		if idx >= len(records) {
			return nil
		}
		idx++
		return records[idx-1]
	}
}

// Writer streams records into a TFRecord container, one Example per
// record. Nothing appears at the output path until Close succeeds.
type Writer struct {
	out *tfrecord.Writer
}

func Create(outputPath string, options tfrecord.Options) (*Writer, error) {
	out, err := tfrecord.Create(outputPath, options)
	if err != nil {
		return nil, err
	}
	return &Writer{out: out}, nil
}

func (writer *Writer) Write(record *FeatureRecord) error {
	return writer.out.WriteExample(record.ToExample())
}

// Count is the number of records written so far.
func (writer *Writer) Count() int {
	return writer.out.Count()
}

func (writer *Writer) Close() error {
	return writer.out.Close()
}

// Abort drops everything written and leaves the output path untouched.
func (writer *Writer) Abort() error {
	return writer.out.Abort()
}

// WriteAll drains `next` into a new container at `outputPath` and returns
// the number of records written.
func WriteAll(next RecordsIterator, outputPath string,
	options tfrecord.Options) (int, error) {
	return tfrecord.WriteExamples(outputPath, func() *tfrecord.Example {
		record := next()
		if record == nil {
			return nil
		}
		return record.ToExample()
	}, options)
}

// ReadAll decodes the integer features of every record in a container.
func ReadAll(path string) ([]*FeatureRecord, error) {
	examples, err := tfrecord.ReadExamples(path)
	if err != nil {
		return nil, err
	}
	records := make([]*FeatureRecord, 0, len(examples))
	for _, example := range examples {
		record, recordErr := FromExample(example)
		if recordErr != nil {
			return records, recordErr
		}
		records = append(records, record)
	}
	return records, nil
}
