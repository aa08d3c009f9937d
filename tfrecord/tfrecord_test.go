package tfrecord

import (
	"bytes"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExample(id int64) *Example {
	example := NewExample()
	example.SetInt64s("input_ids", []int64{101, id, 102, 0})
	example.SetInt64s("input_mask", []int64{1, 1, 1, 0})
	example.SetInt64s("segment_ids", []int64{0, 0, 0, 0})
	example.SetInt64s("label_ids", []int64{id % 5})
	return example
}

func TestMaskedCRC(t *testing.T) {
	check := []byte("123456789")
	assert.Equal(t, uint32(0xe3069283), crc32.Checksum(check, castagnoli))

	masked := maskedCRC(check) - crcMaskDelta
	unmasked := (masked >> 17) | (masked << 15)
	assert.Equal(t, uint32(0xe3069283), unmasked)
}

func TestExample_MarshalGolden(t *testing.T) {
	example := NewExample()
	example.SetInt64s("a", []int64{1, 300})
	expected := []byte{
		0x0a, 0x0e, // Example.features
		0x0a, 0x0c, // Features.feature entry
		0x0a, 0x01, 'a', // key
		0x12, 0x07, // value
		0x1a, 0x05, // Feature.int64_list
		0x0a, 0x03, 0x01, 0xac, 0x02, // packed values
	}
	assert.Equal(t, expected, example.Marshal())
}

func TestExample_RoundTrip(t *testing.T) {
	example := NewExample()
	example.SetInt64s("ids", []int64{0, -1, 1 << 40})
	example.Features["scores"] = FloatFeature([]float32{0.5, -2})
	example.Features["text"] = BytesFeature([][]byte{[]byte("hi"), {}})
	example.SetInt64s("empty", nil)

	decoded, err := UnmarshalExample(example.Marshal())
	require.NoError(t, err)
	assert.Equal(t, []string{"empty", "ids", "scores", "text"},
		decoded.Names())

	ids, err := decoded.Int64s("ids")
	require.NoError(t, err)
	assert.Equal(t, []int64{0, -1, 1 << 40}, ids)
	assert.Equal(t, []float32{0.5, -2}, decoded.Features["scores"].Float)
	assert.Equal(t, [][]byte{[]byte("hi"), {}},
		decoded.Features["text"].Bytes)
	empty, err := decoded.Int64s("empty")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = decoded.Int64s("text")
	assert.ErrorContains(t, err, "bytes_list")
	_, err = decoded.Int64s("missing")
	assert.Error(t, err)
}

func TestExample_UnpackedInt64(t *testing.T) {
	// Int64List{value: 7, value: 8} written without packing.
	list := []byte{0x08, 0x07, 0x08, 0x08}
	values, err := unmarshalInt64List(list)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8}, values)
}

func TestUnmarshalExample_Malformed(t *testing.T) {
	_, err := UnmarshalExample([]byte{0x0a, 0x10, 0x01})
	assert.Error(t, err)
}

func writeTestFile(t *testing.T, path string, options Options,
	n int) []*Example {
	examples := make([]*Example, n)
	for idx := range examples {
		examples[idx] = testExample(int64(idx))
	}
	idx := 0
	count, err := WriteExamples(path, func() *Example {
		if idx >= len(examples) {
			return nil
		}
		idx++
		return examples[idx-1]
	}, options)
	require.NoError(t, err)
	require.Equal(t, n, count)
	return examples
}

func TestWriteExamples_RoundTrip(t *testing.T) {
	for _, options := range []Options{{}, {Gzip: true}} {
		name := "part-0.tfrecord"
		if options.Gzip {
			name += ".gz"
		}
		path := filepath.Join(t.TempDir(), "nested", name)
		written := writeTestFile(t, path, options, 250)

		read, err := ReadExamples(path)
		require.NoError(t, err)
		require.Len(t, read, len(written))
		for idx := range written {
			assert.Equal(t, written[idx].Marshal(), read[idx].Marshal())
		}

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		require.Len(t, entries, 1, "temp file left behind")
		assert.Equal(t, name, entries[0].Name())
	}
}

func TestWriter_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.tfrecord")
	writeTestFile(t, path, Options{}, 0)
	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stat.Size())
	read, err := ReadExamples(path)
	require.NoError(t, err)
	assert.Empty(t, read)
}

func TestWriter_AbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aborted.tfrecord")
	writer, err := Create(path, Options{})
	require.NoError(t, err)
	require.NoError(t, writer.WriteExample(testExample(1)))
	require.NoError(t, writer.Abort())

	assert.NoFileExists(t, path)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.ErrorIs(t, writer.Write([]byte("late")), ErrClosed)
}

func TestWriter_ReplacesOnlyOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "existing.tfrecord")
	writeTestFile(t, path, Options{}, 3)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	writer, err := Create(path, Options{})
	require.NoError(t, err)
	for idx := 0; idx < 10; idx++ {
		require.NoError(t, writer.WriteExample(testExample(int64(idx))))
	}
	during, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, during)

	require.NoError(t, writer.Close())
	read, err := ReadExamples(path)
	require.NoError(t, err)
	assert.Len(t, read, 10)
	assert.ErrorIs(t, writer.Close(), ErrClosed)
}

func frameBytes(t *testing.T, payloads ...[]byte) []byte {
	path := filepath.Join(t.TempDir(), "frames.tfrecord")
	writer, err := Create(path, Options{})
	require.NoError(t, err)
	for _, payload := range payloads {
		require.NoError(t, writer.Write(payload))
	}
	framing := int64(len(payloads) * (headerSize + footerSize))
	assert.Equal(t, framing+totalLen(payloads), writer.Size())
	require.NoError(t, writer.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func totalLen(payloads [][]byte) int64 {
	var n int64
	for _, payload := range payloads {
		n += int64(len(payload))
	}
	return n
}

func TestReader_Truncated(t *testing.T) {
	data := frameBytes(t, []byte("first"), []byte("second"))
	reader := NewReader(bytes.NewReader(data[:len(data)-3]))
	first, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), first)
	_, err = reader.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReader_Corrupt(t *testing.T) {
	data := frameBytes(t, []byte("payload"))

	flipped := append([]byte(nil), data...)
	flipped[headerSize+2] ^= 0xff
	_, err := NewReader(bytes.NewReader(flipped)).Next()
	assert.ErrorIs(t, err, ErrCorrupt)

	badLength := append([]byte(nil), data...)
	badLength[0] ^= 0x01
	_, err = NewReader(bytes.NewReader(badLength)).Next()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestReader_EOF(t *testing.T) {
	data := frameBytes(t, []byte("only"))
	reader := NewReader(bytes.NewReader(data))
	_, err := reader.Next()
	require.NoError(t, err)
	_, err = reader.Next()
	assert.True(t, errors.Is(err, io.EOF))
}
