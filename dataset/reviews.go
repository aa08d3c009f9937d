package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/wbrown/bert_prep/features"
)

// Column names a shard header must carry.
const (
	ReviewBodyColumn = "review_body"
	ReviewIdColumn   = "review_id"
	LabelColumn      = "star_rating"
)

// maxLineSize bounds a single TSV row.
const maxLineSize = 16 * 1024 * 1024

// maxSampledErrors caps how many dropped rows LoadStats keeps for reporting.
const maxSampledErrors = 10

// Review is one usable row of a shard.
type Review struct {
	ReviewId   string
	ReviewBody string
	StarRating int
}

// ToRawExample stamps the review with the event time of its shard.
func (review Review) ToRawExample(date string) features.RawExample {
	return features.RawExample{
		Text:     review.ReviewBody,
		ReviewId: review.ReviewId,
		Date:     date,
		Label:    review.StarRating,
	}
}

// InputError describes a shard row that was dropped. It is collected for
// reporting and never aborts a load.
type InputError struct {
	Shard  string
	Line   int
	Reason string
}

func (err *InputError) Error() string {
	return fmt.Sprintf("%s:%d: %s", err.Shard, err.Line, err.Reason)
}

// LoadStats counts what happened to the rows of a shard.
type LoadStats struct {
	Rows    int
	Kept    int
	Dropped int
	Samples []*InputError
}

func (stats *LoadStats) drop(err *InputError) {
	stats.Dropped++
	if len(stats.Samples) < maxSampledErrors {
		stats.Samples = append(stats.Samples, err)
	}
}

// ReadOptions control how shard rows become Reviews.
type ReadOptions struct {
	// Sanitizer, when set, cleans every review body before it is kept.
	Sanitizer *Sanitizer
}

// ReadReviews parses a tab-separated stream with a header row. Fields are
// never quoted. Rows with a missing or empty required field, a wrong number
// of fields, or a non-integer rating are dropped and counted.
func ReadReviews(r io.Reader, shard string, options ReadOptions) ([]Review,
	LoadStats, error) {
	var stats LoadStats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, stats, fmt.Errorf("%s: reading header: %w", shard, err)
		}
		return nil, stats, fmt.Errorf("%s: empty shard, no header", shard)
	}
	header := strings.Split(strings.TrimRight(
		strings.TrimPrefix(scanner.Text(), "\ufeff"), "\r"), "\t")
	columns := make(map[string]int, len(header))
	for idx, name := range header {
		columns[strings.TrimSpace(name)] = idx
	}
	bodyIdx, hasBody := columns[ReviewBodyColumn]
	idIdx, hasId := columns[ReviewIdColumn]
	labelIdx, hasLabel := columns[LabelColumn]
	if !hasBody || !hasId || !hasLabel {
		return nil, stats, fmt.Errorf("%s: header must contain %s, %s and %s",
			shard, ReviewBodyColumn, ReviewIdColumn, LabelColumn)
	}

	reviews := make([]Review, 0, 1024)
	line := 1
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if text == "" {
			continue
		}
		stats.Rows++
		fields := strings.Split(text, "\t")
		if len(fields) != len(header) {
			stats.drop(&InputError{shard, line, fmt.Sprintf(
				"expected %d fields, got %d", len(header), len(fields))})
			continue
		}
		body := fields[bodyIdx]
		id := strings.TrimSpace(fields[idIdx])
		rating := strings.TrimSpace(fields[labelIdx])
		if strings.TrimSpace(body) == "" || id == "" || rating == "" {
			stats.drop(&InputError{shard, line, "missing required field"})
			continue
		}
		label, convErr := strconv.Atoi(rating)
		if convErr != nil {
			stats.drop(&InputError{shard, line, fmt.Sprintf(
				"%s `%s` is not an integer", LabelColumn, rating)})
			continue
		}
		if options.Sanitizer != nil {
			body = options.Sanitizer.Sanitize(body)
			if body == "" {
				stats.drop(&InputError{shard, line,
					"review body is empty after sanitizing"})
				continue
			}
		}
		reviews = append(reviews, Review{
			ReviewId:   id,
			ReviewBody: body,
			StarRating: label,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, fmt.Errorf("%s:%d: %w", shard, line, err)
	}
	stats.Kept = len(reviews)
	return reviews, stats, nil
}

// LoadShard reads a shard from disk, decompressing it when its name ends
// in `.gz`.
func LoadShard(path string, options ReadOptions) ([]Review, LoadStats,
	error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, err
	}
	defer file.Close()

	var source io.Reader = bufio.NewReaderSize(file, 8*1024*1024)
	if strings.HasSuffix(path, ".gz") {
		gz, gzErr := gzip.NewReader(source)
		if gzErr != nil {
			return nil, LoadStats{}, fmt.Errorf("%s: %w", path, gzErr)
		}
		defer gz.Close()
		source = gz
	}
	return ReadReviews(source, path, options)
}

// ValidateLabels fails on the first review whose rating is outside
// `labels`.
func ValidateLabels(reviews []Review, labels *features.LabelMap) error {
	for _, review := range reviews {
		if !labels.Contains(review.StarRating) {
			return &features.UnknownLabelError{
				Label:    review.StarRating,
				ReviewId: review.ReviewId,
			}
		}
	}
	return nil
}
