package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yargevad/filepathx"
)

// Names of the three partitions, in the order they are written.
const (
	SplitTrain      = "train"
	SplitValidation = "validation"
	SplitTest       = "test"
)

var Splits = []string{SplitTrain, SplitValidation, SplitTest}

// DiscoverShards globs `pattern` under dir and returns the matching
// regular files in sorted order. The pattern may use `**`.
func DiscoverShards(dir string, pattern string) ([]string, error) {
	matches, err := filepathx.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("globbing %s: %w", pattern, err)
	}
	shards := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, match := range matches {
		match = filepath.Clean(match)
		if !seen[match] && isFile(match) {
			seen[match] = true
			shards = append(shards, match)
		}
	}
	sort.Strings(shards)
	return shards, nil
}

func isFile(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && stat.Mode().IsRegular()
}

// AssignShards picks the shards this host processes: with several hosts,
// host i takes every shard whose index modulo len(hosts) is i. A host that
// is not in the list takes everything.
func AssignShards(shards []string, hosts []string,
	currentHost string) []string {
	if len(hosts) <= 1 {
		return shards
	}
	hostIdx := -1
	for idx, host := range hosts {
		if host == currentHost {
			hostIdx = idx
			break
		}
	}
	if hostIdx < 0 {
		return shards
	}
	assigned := make([]string, 0, len(shards)/len(hosts)+1)
	for idx, shard := range shards {
		if idx%len(hosts) == hostIdx {
			assigned = append(assigned, shard)
		}
	}
	return assigned
}

// ShardStem is the shard's file name with up to two extensions removed,
// so `reviews_1.tsv.gz` becomes `reviews_1`.
func ShardStem(shard string) string {
	stem := filepath.Base(shard)
	for i := 0; i < 2; i++ {
		stem = strings.TrimSuffix(stem, filepath.Ext(stem))
	}
	return stem
}

// ShardName names a shard's outputs: its stem, prefixed by the directories
// between inputDir and the shard joined with `-`, so `us/reviews.tsv.gz`
// and `uk/reviews.tsv.gz` stay apart. Shards outside inputDir use the bare
// stem.
func ShardName(inputDir string, shard string) string {
	rel, err := filepath.Rel(inputDir, shard)
	if err != nil || rel == ".." ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ShardStem(shard)
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return ShardStem(shard)
	}
	return strings.ReplaceAll(filepath.ToSlash(dir), "/", "-") + "-" +
		ShardStem(shard)
}

// OutputPath is where a shard's partition is written:
// `{outputDir}/bert/{split}/part-{host}-{name}.tfrecord`, with name from
// ShardName.
func OutputPath(outputDir string, split string, host string,
	name string) string {
	return filepath.Join(outputDir, "bert", split,
		fmt.Sprintf("part-%s-%s.tfrecord", host, name))
}

// OutputCollisionError reports shards that would write the same file.
type OutputCollisionError struct {
	Path   string
	Shards []string
}

func (err *OutputCollisionError) Error() string {
	return fmt.Sprintf("shards %s would all write %s",
		strings.Join(err.Shards, ", "), err.Path)
}
