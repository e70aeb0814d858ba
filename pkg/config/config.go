// Package config loads a chronicled node's configuration from a YAML
// file (gopkg.in/yaml.v3, plain tagged structs).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/chronicle/pkg/catalog"
)

// Config is a chronicled node's full startup configuration.
type Config struct {
	NodeName  string   `yaml:"node_name"`
	Modes     []string `yaml:"modes"`
	CoreCount int      `yaml:"core_count"`

	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Compactor   CompactorConfig   `yaml:"compactor"`
	WriteFlush  WriteFlushConfig  `yaml:"write_flush"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ObjectStoreConfig selects and configures one object store backend.
type ObjectStoreConfig struct {
	// Backend is one of "memory", "fs", "s3".
	Backend string `yaml:"backend"`
	Prefix  string `yaml:"prefix"`

	FS FSConfig `yaml:"fs"`
	S3 S3Config `yaml:"s3"`
}

// FSConfig configures the local-filesystem backend.
type FSConfig struct {
	Dir string `yaml:"dir"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
}

// CatalogConfig configures catalog limits and checkpointing.
type CatalogConfig struct {
	CheckpointInterval      uint64         `yaml:"checkpoint_interval"`
	MaxTagColumnsPerTable   int            `yaml:"max_tag_columns_per_table"`
	MaxFieldColumnsPerTable int            `yaml:"max_field_columns_per_table"`
	MaxTablesPerDatabase    int            `yaml:"max_tables_per_database"`
	MaxDatabases            int            `yaml:"max_databases"`
	GenerationDurations     map[int]string `yaml:"generation_durations"`
}

// Limits converts the YAML-configured limits into catalog.Limits,
// falling back to catalog.DefaultLimits for any zero field.
func (c CatalogConfig) Limits() catalog.Limits {
	limits := catalog.DefaultLimits
	if c.MaxTagColumnsPerTable > 0 {
		limits.MaxTagColumnsPerTable = c.MaxTagColumnsPerTable
	}
	if c.MaxFieldColumnsPerTable > 0 {
		limits.MaxFieldColumnsPerTable = c.MaxFieldColumnsPerTable
	}
	if c.MaxTablesPerDatabase > 0 {
		limits.MaxTablesPerDatabase = c.MaxTablesPerDatabase
	}
	if c.MaxDatabases > 0 {
		limits.MaxDatabases = c.MaxDatabases
	}
	return limits
}

// ParsedGenerationDurations parses GenerationDurations' string values
// (e.g. "60s", "1h") into time.Duration, keyed by catalog.Generation.
func (c CatalogConfig) ParsedGenerationDurations() (map[catalog.Generation]time.Duration, error) {
	out := make(map[catalog.Generation]time.Duration, len(c.GenerationDurations))
	for level, s := range c.GenerationDurations {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("config: generation %d duration %q: %w", level, s, err)
		}
		out[catalog.Generation(level)] = d
	}
	return out, nil
}

// CompactorConfig configures the background compactor.
type CompactorConfig struct {
	Interval              string `yaml:"interval"`
	MinFilesForCompaction int    `yaml:"min_files_for_compaction"`
	MaxConcurrentJobs     int    `yaml:"max_concurrent_jobs"`
	LedgerDir             string `yaml:"ledger_dir"`
}

// ParsedInterval parses Interval, defaulting to 1h if unset.
func (c CompactorConfig) ParsedInterval() (time.Duration, error) {
	if c.Interval == "" {
		return time.Hour, nil
	}
	return time.ParseDuration(c.Interval)
}

// WriteFlushConfig configures how often staged rows are drained to
// generation-1 Parquet files.
type WriteFlushConfig struct {
	Interval string `yaml:"interval"`
}

// ParsedInterval parses Interval, defaulting to 10s if unset.
func (c WriteFlushConfig) ParsedInterval() (time.Duration, error) {
	if c.Interval == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(c.Interval)
}

// ServerConfig configures the /healthz and /metrics HTTP surface.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a Config suitable for local development: an
// in-memory object store, a 1h compaction interval, and logging at
// info level.
func Default() Config {
	return Config{
		NodeName: "chronicled-0",
		Modes:    []string{"ingest", "compact"},
		ObjectStore: ObjectStoreConfig{
			Backend: "memory",
		},
		Catalog: CatalogConfig{
			CheckpointInterval: catalog.DefaultCheckpointInterval,
		},
		Compactor: CompactorConfig{
			Interval:              "1h",
			MinFilesForCompaction: 4,
			MaxConcurrentJobs:     4,
		},
		WriteFlush: WriteFlushConfig{
			Interval: "10s",
		},
		Server: ServerConfig{
			ListenAddr: ":8090",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads and parses a Config from path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
