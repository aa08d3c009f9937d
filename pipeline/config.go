package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"time"

	"github.com/wbrown/bert_prep"
	"github.com/wbrown/bert_prep/dataset"
	"github.com/wbrown/bert_prep/featurestore"
	"gopkg.in/yaml.v3"
)

const DefaultResourceConfigPath = "/opt/ml/config/resourceconfig.json"
const UnknownHost = "unknown"

// FeatureStoreConfig names where the summaries are published. Publishing
// is skipped when Enabled is false.
type FeatureStoreConfig struct {
	Enabled          bool          `yaml:"enabled"`
	GroupName        string        `yaml:"group_name"`
	Region           string        `yaml:"region"`
	Bucket           string        `yaml:"bucket"`
	Prefix           string        `yaml:"prefix"`
	RoleArn          string        `yaml:"role_arn"`
	OnlineStore      bool          `yaml:"online_store"`
	HiveDatabase     string        `yaml:"hive_database"`
	IngestWorkers    int           `yaml:"ingest_workers"`
	CreationPolls    int           `yaml:"creation_polls"`
	VisibilityPolls  int           `yaml:"visibility_polls"`
	VisibilityPeriod time.Duration `yaml:"visibility_period"`
}

// Config is everything one processing job needs.
type Config struct {
	InputDir     string            `yaml:"input_dir"`
	OutputDir    string            `yaml:"output_dir"`
	Pattern      string            `yaml:"pattern"`
	Fractions    dataset.Fractions `yaml:"split"`
	Balance      bool              `yaml:"balance"`
	MaxSeqLength int               `yaml:"max_seq_length"`
	Seed         int64             `yaml:"seed"`
	Workers      int               `yaml:"workers"`
	Tokenizer    string            `yaml:"tokenizer"`
	CacheDir     string            `yaml:"cache_dir"`
	Padding      string            `yaml:"padding"`
	Sanitize     bool              `yaml:"sanitize"`
	Gzip         bool              `yaml:"gzip"`
	Hosts        []string          `yaml:"hosts"`
	CurrentHost  string            `yaml:"current_host"`
	MetricsAddr  string            `yaml:"metrics_addr"`

	FeatureStore FeatureStoreConfig `yaml:"feature_store"`
}

// DefaultConfig mirrors the defaults of a SageMaker processing container.
func DefaultConfig() Config {
	return Config{
		InputDir:     "/opt/ml/processing/input/data",
		OutputDir:    "/opt/ml/processing/output",
		Pattern:      "*.tsv.gz",
		Fractions:    dataset.DefaultFractions,
		Balance:      true,
		MaxSeqLength: 64,
		Seed:         dataset.DefaultSeed,
		Workers:      runtime.NumCPU(),
		Tokenizer:    bert_prep.DefaultVocabId,
		Padding:      bert_prep.PadRight.String(),
		Hosts:        []string{UnknownHost},
		CurrentHost:  UnknownHost,
		FeatureStore: FeatureStoreConfig{
			OnlineStore:      true,
			HiveDatabase:     featurestore.DefaultHiveDatabase,
			IngestWorkers:    featurestore.DefaultIngestWorkers,
			VisibilityPolls:  featurestore.DefaultVisibilityAttempts,
			VisibilityPeriod: featurestore.DefaultVisibilityInterval,
		},
	}
}

// LoadConfig decodes a YAML file over the defaults, so keys the file
// leaves out keep their default values.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parsing %s: %w", path, err)
	}
	return config, nil
}

func (config *Config) Validate() error {
	if err := config.Fractions.Validate(); err != nil {
		return err
	}
	if config.MaxSeqLength <= 0 {
		return fmt.Errorf("max_seq_length must be positive, got %d",
			config.MaxSeqLength)
	}
	if config.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", config.Workers)
	}
	if config.InputDir == "" || config.OutputDir == "" {
		return errors.New("input and output directories are required")
	}
	if config.Pattern == "" {
		return errors.New("shard pattern is required")
	}
	if _, err := bert_prep.ParsePadding(config.Padding); err != nil {
		return err
	}
	if len(config.Hosts) == 0 || config.CurrentHost == "" {
		return errors.New("hosts and current_host must not be empty")
	}
	if config.FeatureStore.Enabled && config.FeatureStore.Bucket == "" {
		return errors.New("feature store publishing needs a bucket")
	}
	return nil
}

// ResourceConfig is the part of the processing container's
// resourceconfig.json that names the job's hosts.
type ResourceConfig struct {
	Hosts       []string `json:"hosts"`
	CurrentHost string   `json:"current_host"`
}

// LoadResourceConfig reads the host list of a processing job. A missing
// file is not an error: the job then runs as the single host "unknown".
func LoadResourceConfig(path string) (ResourceConfig, error) {
	fallback := ResourceConfig{
		Hosts:       []string{UnknownHost},
		CurrentHost: UnknownHost,
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fallback, nil
	} else if err != nil {
		return fallback, err
	}
	var resourceConfig ResourceConfig
	if err := json.Unmarshal(data, &resourceConfig); err != nil {
		return fallback, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(resourceConfig.Hosts) == 0 {
		resourceConfig.Hosts = fallback.Hosts
	}
	if resourceConfig.CurrentHost == "" {
		resourceConfig.CurrentHost = fallback.CurrentHost
	}
	return resourceConfig, nil
}
