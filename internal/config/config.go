// Package config provides unified configuration for all Chronolake services.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can say "15m" or "1h".
type Duration time.Duration

// UnmarshalYAML parses either a Go duration string or a nanosecond count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// MarshalYAML renders the duration in Go syntax.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Config holds the unified configuration for the Chronolake lakehouse.
type Config struct {
	// DataDir is the base directory for all local data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Metastore configuration
	Metastore MetastoreConfig `json:"metastore" yaml:"metastore"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Materialize configuration
	Materialize MaterializeConfig `json:"materialize" yaml:"materialize"`

	// Reader configuration
	Reader ReaderConfig `json:"reader" yaml:"reader"`

	// Retire configuration
	Retire RetireConfig `json:"retire" yaml:"retire"`
}

// MetastoreConfig holds partition metadata store configuration.
type MetastoreConfig struct {
	// Path is the SQLite database path for the partition catalog
	Path string `json:"path" yaml:"path"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Backend selects the storage implementation: "local" or "s3"
	Backend string `json:"backend" yaml:"backend"`

	// LocalPath is the base directory for the local backend
	LocalPath string `json:"local_path" yaml:"local_path"`

	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is prepended to all object paths
	Prefix string `json:"prefix" yaml:"prefix"`

	// Region is the S3 region
	Region string `json:"region" yaml:"region"`

	// Endpoint overrides the S3 endpoint (for MinIO and test setups)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// MaterializeConfig holds JIT materializer configuration.
// BucketSize and LeaseTimeout are policy parameters, not fixed constants:
// tests exercise at least one small and one large bucket size.
type MaterializeConfig struct {
	// BucketSize is the time quantum partitions are aligned to (default 1h)
	BucketSize Duration `json:"bucket_size" yaml:"bucket_size"`

	// LeaseTimeout bounds how long a caller waits for another builder's
	// lease before giving up (default 60s)
	LeaseTimeout Duration `json:"lease_timeout" yaml:"lease_timeout"`

	// WorkDir is the directory partition files are staged in before upload
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// BatchRows caps the number of rows per row batch during transform
	BatchRows int `json:"batch_rows" yaml:"batch_rows"`
}

// ReaderConfig holds partition reader configuration.
type ReaderConfig struct {
	// DownloadDir is the directory downloaded partition files are cached in
	DownloadDir string `json:"download_dir" yaml:"download_dir"`

	// CacheBytes is the maximum total size of the download cache
	CacheBytes int64 `json:"cache_bytes" yaml:"cache_bytes"`

	// Concurrency is the number of parallel partition downloads
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// RetireConfig holds retirement and garbage collection configuration.
type RetireConfig struct {
	// GracePeriod is how long retired files stay in the deferred-deletion
	// queue before the sweeper removes them, giving in-flight readers time
	// to finish (default 1h)
	GracePeriod Duration `json:"grace_period" yaml:"grace_period"`

	// SweepInterval is the period between GC sweeps when running the
	// sweeper as a daemon
	SweepInterval Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

// Default returns a configuration with sensible defaults rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir: dataDir,
		Metastore: MetastoreConfig{
			Path: filepath.Join(dataDir, "metastore.db"),
		},
		Storage: StorageConfig{
			Backend:   "local",
			LocalPath: filepath.Join(dataDir, "objects"),
		},
		Materialize: MaterializeConfig{
			BucketSize:   Duration(time.Hour),
			LeaseTimeout: Duration(60 * time.Second),
			WorkDir:      filepath.Join(dataDir, "work"),
			BatchRows:    8192,
		},
		Reader: ReaderConfig{
			DownloadDir: filepath.Join(dataDir, "downloads"),
			CacheBytes:  10 * 1024 * 1024 * 1024, // 10 GB
			Concurrency: 4,
		},
		Retire: RetireConfig{
			GracePeriod:   Duration(time.Hour),
			SweepInterval: Duration(15 * time.Minute),
		},
	}
}

// Load reads a YAML configuration file and applies defaults for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	cfg.Resolve()
	return cfg, nil
}

// Resolve fills in defaults for unset fields and makes paths absolute
// relative to DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}

	if c.Metastore.Path == "" {
		c.Metastore.Path = filepath.Join(c.DataDir, "metastore.db")
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.LocalPath == "" {
		c.Storage.LocalPath = filepath.Join(c.DataDir, "objects")
	}
	if c.Materialize.BucketSize <= 0 {
		c.Materialize.BucketSize = Duration(time.Hour)
	}
	if c.Materialize.LeaseTimeout <= 0 {
		c.Materialize.LeaseTimeout = Duration(60 * time.Second)
	}
	if c.Materialize.WorkDir == "" {
		c.Materialize.WorkDir = filepath.Join(c.DataDir, "work")
	}
	if c.Materialize.BatchRows <= 0 {
		c.Materialize.BatchRows = 8192
	}
	if c.Reader.DownloadDir == "" {
		c.Reader.DownloadDir = filepath.Join(c.DataDir, "downloads")
	}
	if c.Reader.CacheBytes <= 0 {
		c.Reader.CacheBytes = 10 * 1024 * 1024 * 1024
	}
	if c.Reader.Concurrency <= 0 {
		c.Reader.Concurrency = 4
	}
	if c.Retire.GracePeriod <= 0 {
		c.Retire.GracePeriod = Duration(time.Hour)
	}
	if c.Retire.SweepInterval <= 0 {
		c.Retire.SweepInterval = Duration(15 * time.Minute)
	}

	// S3 credentials come from the environment, not the config file
	if c.Storage.Backend == "s3" {
		if v := os.Getenv("CHRONOLAKE_S3_BUCKET"); v != "" {
			c.Storage.Bucket = v
		}
		if v := os.Getenv("CHRONOLAKE_S3_REGION"); v != "" {
			c.Storage.Region = v
		}
		if v := os.Getenv("CHRONOLAKE_S3_ENDPOINT"); v != "" {
			c.Storage.Endpoint = v
		}
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("config: storage.local_path is required for local backend")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("config: storage.bucket is required for s3 backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	if c.Materialize.BucketSize.Std() < time.Second {
		return fmt.Errorf("config: materialize.bucket_size must be at least 1s, got %v", c.Materialize.BucketSize)
	}
	if c.Materialize.LeaseTimeout.Std() < time.Second {
		return fmt.Errorf("config: materialize.lease_timeout must be at least 1s, got %v", c.Materialize.LeaseTimeout)
	}

	return nil
}
