package tfrecord

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrCorrupt reports a record whose length or payload checksum does not
// match.
var ErrCorrupt = errors.New("corrupt tfrecord")

// maxRecordSize bounds the allocation a corrupt length could trigger.
const maxRecordSize = 1 << 30

type Reader struct {
	r      *bufio.Reader
	header [headerSize]byte
	footer [footerSize]byte
	index  int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, writeBufferSize)}
}

// Next returns the payload of the next record, or io.EOF after the last
// one. A file that ends inside a record yields io.ErrUnexpectedEOF.
func (reader *Reader) Next() ([]byte, error) {
	if _, err := io.ReadFull(reader.r, reader.header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("record %d header: %w", reader.index, err)
	}
	length := binary.LittleEndian.Uint64(reader.header[0:8])
	if binary.LittleEndian.Uint32(reader.header[8:12]) !=
		maskedCRC(reader.header[0:8]) {
		return nil, fmt.Errorf("record %d length checksum: %w",
			reader.index, ErrCorrupt)
	}
	if length > maxRecordSize {
		return nil, fmt.Errorf("record %d length %d: %w", reader.index,
			length, ErrCorrupt)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(reader.r, payload); err != nil {
		return nil, fmt.Errorf("record %d payload: %w", reader.index,
			io.ErrUnexpectedEOF)
	}
	if _, err := io.ReadFull(reader.r, reader.footer[:]); err != nil {
		return nil, fmt.Errorf("record %d footer: %w", reader.index,
			io.ErrUnexpectedEOF)
	}
	if binary.LittleEndian.Uint32(reader.footer[:]) != maskedCRC(payload) {
		return nil, fmt.Errorf("record %d payload checksum: %w",
			reader.index, ErrCorrupt)
	}
	reader.index++
	return payload, nil
}

// NextExample reads and decodes the next record as an Example.
func (reader *Reader) NextExample() (*Example, error) {
	payload, err := reader.Next()
	if err != nil {
		return nil, err
	}
	return UnmarshalExample(payload)
}

// ReadExamples decodes every record of the file at `path`. Files ending in
// `.gz` are decompressed.
func ReadExamples(path string) ([]*Example, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var source io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, gzErr := gzip.NewReader(file)
		if gzErr != nil {
			return nil, fmt.Errorf("%s: %w", path, gzErr)
		}
		defer gz.Close()
		source = gz
	}
	reader := NewReader(source)
	examples := make([]*Example, 0, 1024)
	for {
		example, nextErr := reader.NextExample()
		if errors.Is(nextErr, io.EOF) {
			return examples, nil
		} else if nextErr != nil {
			return examples, fmt.Errorf("%s: %w", path, nextErr)
		}
		examples = append(examples, example)
	}
}
