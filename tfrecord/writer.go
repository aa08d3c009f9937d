package tfrecord

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

const headerSize = 12
const footerSize = 4
const writeBufferSize = 1024 * 1024

// Options control how a Writer lays out its file.
type Options struct {
	// Gzip compresses the whole record stream, as TensorFlow's
	// `TFRecordOptions(compression_type="GZIP")` does.
	Gzip bool
	// Perm is the mode of the final file, 0644 when zero.
	Perm os.FileMode
}

// Writer streams records into a temporary file beside `path` and only
// renames it into place on Close, so the target never holds a partial
// record.
type Writer struct {
	path   string
	perm   os.FileMode
	tmp    *os.File
	buf    *bufio.Writer
	gz     *gzip.Writer
	out    io.Writer
	frame  []byte
	count  int
	bytes  int64
	closed bool
}

var ErrClosed = errors.New("tfrecord writer is closed")

// Create opens a Writer for `path`, creating its directory if needed.
func Create(path string, options Options) (*Writer, error) {
	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, mkErr)
	}
	tmp, tmpErr := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if tmpErr != nil {
		return nil, fmt.Errorf("creating temp file for %s: %w", path, tmpErr)
	}
	perm := options.Perm
	if perm == 0 {
		perm = 0644
	}
	writer := &Writer{
		path: path,
		perm: perm,
		tmp:  tmp,
		buf:  bufio.NewWriterSize(tmp, writeBufferSize),
	}
	writer.out = writer.buf
	if options.Gzip {
		writer.gz = gzip.NewWriter(writer.buf)
		writer.out = writer.gz
	}
	return writer, nil
}

// Path is the final location of the file.
func (writer *Writer) Path() string {
	return writer.path
}

// Count is the number of records written so far.
func (writer *Writer) Count() int {
	return writer.count
}

// Size is the number of uncompressed bytes framed so far.
func (writer *Writer) Size() int64 {
	return writer.bytes
}

// Write frames `payload` as one record. The frame is assembled in full
// before any of it is handed to the underlying file.
func (writer *Writer) Write(payload []byte) error {
	if writer.closed {
		return ErrClosed
	}
	frameSize := headerSize + len(payload) + footerSize
	if cap(writer.frame) < frameSize {
		writer.frame = make([]byte, frameSize)
	}
	frame := writer.frame[:frameSize]
	binary.LittleEndian.PutUint64(frame[0:8], uint64(len(payload)))
	binary.LittleEndian.PutUint32(frame[8:12], maskedCRC(frame[0:8]))
	copy(frame[headerSize:], payload)
	binary.LittleEndian.PutUint32(frame[headerSize+len(payload):],
		maskedCRC(payload))
	if _, err := writer.out.Write(frame); err != nil {
		return fmt.Errorf("writing record %d to %s: %w", writer.count,
			writer.path, err)
	}
	writer.count++
	writer.bytes += int64(frameSize)
	return nil
}

// WriteExample serializes and writes one Example.
func (writer *Writer) WriteExample(example *Example) error {
	return writer.Write(example.Marshal())
}

// Close flushes and fsyncs the records, then atomically moves the file to
// its final path. On any failure the temp file is removed.
func (writer *Writer) Close() (err error) {
	if writer.closed {
		return ErrClosed
	}
	writer.closed = true
	tmpName := writer.tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()
	if writer.gz != nil {
		if err = writer.gz.Close(); err != nil {
			writer.tmp.Close()
			return fmt.Errorf("compressing %s: %w", writer.path, err)
		}
	}
	if err = writer.buf.Flush(); err != nil {
		writer.tmp.Close()
		return fmt.Errorf("flushing %s: %w", writer.path, err)
	}
	if err = writer.tmp.Sync(); err != nil {
		writer.tmp.Close()
		return fmt.Errorf("syncing %s: %w", writer.path, err)
	}
	if err = writer.tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", writer.path, err)
	}
	if err = os.Chmod(tmpName, writer.perm); err != nil {
		return err
	}
	if err = os.Rename(tmpName, writer.path); err != nil {
		return fmt.Errorf("renaming into %s: %w", writer.path, err)
	}
	return nil
}

// Abort discards everything written and leaves `path` untouched.
func (writer *Writer) Abort() error {
	if writer.closed {
		return nil
	}
	writer.closed = true
	writer.tmp.Close()
	if err := os.Remove(writer.tmp.Name()); err != nil &&
		!errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ExamplesIterator yields examples until it returns nil.
type ExamplesIterator func() *Example

// WriteExamples drains `next` into a new file at `path`, returning how many
// records were written. Nothing is left at `path` if writing fails.
func WriteExamples(path string, next ExamplesIterator,
	options Options) (int, error) {
	writer, err := Create(path, options)
	if err != nil {
		return 0, err
	}
	for example := next(); example != nil; example = next() {
		if writeErr := writer.WriteExample(example); writeErr != nil {
			writer.Abort()
			return writer.Count(), writeErr
		}
	}
	count := writer.Count()
	if closeErr := writer.Close(); closeErr != nil {
		return 0, closeErr
	}
	return count, nil
}
