package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default("/var/lib/chronolake")

	if cfg.Metastore.Path != "/var/lib/chronolake/metastore.db" {
		t.Errorf("metastore path = %q", cfg.Metastore.Path)
	}
	if cfg.Storage.Backend != "local" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if cfg.Materialize.BucketSize.Std() != time.Hour {
		t.Errorf("bucket size = %v", cfg.Materialize.BucketSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data_dir: /tmp/lake
storage:
  backend: local
materialize:
  bucket_size: 15m
  lease_timeout: 30s
retire:
  grace_period: 2h
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Materialize.BucketSize.Std() != 15*time.Minute {
		t.Errorf("bucket size = %v, want 15m", cfg.Materialize.BucketSize)
	}
	if cfg.Retire.GracePeriod.Std() != 2*time.Hour {
		t.Errorf("grace period = %v, want 2h", cfg.Retire.GracePeriod)
	}

	// Unset fields pick up defaults relative to data_dir.
	if cfg.Metastore.Path != "/tmp/lake/metastore.db" {
		t.Errorf("metastore path = %q", cfg.Metastore.Path)
	}
	if cfg.Reader.Concurrency != 4 {
		t.Errorf("reader concurrency = %d", cfg.Reader.Concurrency)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := Default("/tmp/lake")
	cfg.Storage.Backend = "ftp"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown backend")
	}

	cfg = Default("/tmp/lake")
	cfg.Storage.Backend = "s3"
	cfg.Storage.Bucket = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for s3 backend without bucket")
	}

	cfg = Default("/tmp/lake")
	cfg.Materialize.BucketSize = Duration(time.Millisecond)
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for sub-second bucket size")
	}
}

func TestS3EnvironmentOverrides(t *testing.T) {
	t.Setenv("CHRONOLAKE_S3_BUCKET", "telemetry-lake")
	t.Setenv("CHRONOLAKE_S3_REGION", "eu-west-1")

	cfg := &Config{Storage: StorageConfig{Backend: "s3", Bucket: "from-file"}}
	cfg.Resolve()

	if cfg.Storage.Bucket != "telemetry-lake" {
		t.Errorf("bucket = %q, want env override", cfg.Storage.Bucket)
	}
	if cfg.Storage.Region != "eu-west-1" {
		t.Errorf("region = %q", cfg.Storage.Region)
	}
}
