// Package main implements the chronolake-retire tool. It retires the
// partitions of a view instance contained in a time range; their files are
// reclaimed later by chronolake-gc.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/chronolake/chronolake/internal/config"
	"github.com/chronolake/chronolake/internal/metastore"
	"github.com/chronolake/chronolake/internal/retire"
	"github.com/chronolake/chronolake/internal/storage"
	"github.com/chronolake/chronolake/pkg/types"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		dataDir    = flag.String("data", "./data", "data directory (ignored when -config is set)")
		viewSet    = flag.String("view", "", "view set name")
		instanceID = flag.String("instance", "", "view instance (stream ID)")
		beginStr   = flag.String("begin", "", "range begin (RFC 3339)")
		endStr     = flag.String("end", "", "range end (RFC 3339)")
		list       = flag.Bool("list", false, "list partitions instead of retiring")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath, *dataDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *viewSet == "" {
		log.Fatalf("-view is required")
	}

	ctx := context.Background()

	catalog, err := metastore.NewCatalog(cfg.Metastore.Path, cfg.Retire.GracePeriod.Std())
	if err != nil {
		log.Fatalf("Failed to open metastore: %v", err)
	}
	defer catalog.Close()

	if *list {
		listPartitions(ctx, catalog, *viewSet, *instanceID)
		return
	}

	if *instanceID == "" {
		log.Fatalf("-instance is required")
	}
	r, err := parseRange(*beginStr, *endStr)
	if err != nil {
		log.Fatalf("Invalid range: %v", err)
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}

	admin := retire.NewAdmin(catalog, store)
	result, err := admin.Retire(ctx, *viewSet, *instanceID, r)
	if err != nil {
		log.Fatalf("Retirement failed: %v", err)
	}
	fmt.Printf("Retired %d partitions (%d bytes queued for deletion after %v)\n",
		result.RetiredCount, result.QueuedBytes, cfg.Retire.GracePeriod)
}

func listPartitions(ctx context.Context, catalog metastore.Catalog, viewSet, instanceID string) {
	records, err := catalog.ListView(ctx, viewSet, instanceID)
	if err != nil {
		log.Fatalf("Failed to list partitions: %v", err)
	}
	for _, rec := range records {
		fmt.Printf("%s/%s %s rows=%d size=%d fingerprint=%s file=%s\n",
			rec.ViewSetName, rec.ViewInstanceID, rec.InsertRange(),
			rec.RowCount, rec.FileSize, rec.SchemaFingerprint, rec.FilePath)
	}
	fmt.Printf("%d partitions\n", len(records))
}

func loadConfig(configPath, dataDir string) (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default(dataDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return storage.NewS3Storage(ctx, cfg.Storage.Bucket, storage.S3Config{
			Region:       cfg.Storage.Region,
			Endpoint:     cfg.Storage.Endpoint,
			UsePathStyle: cfg.Storage.Endpoint != "",
			Prefix:       cfg.Storage.Prefix,
		})
	default:
		return storage.NewLocalStorage(cfg.Storage.LocalPath)
	}
}

func parseRange(beginStr, endStr string) (types.TimeRange, error) {
	if beginStr == "" || endStr == "" {
		return types.TimeRange{}, fmt.Errorf("-begin and -end are required")
	}
	begin, err := time.Parse(time.RFC3339, beginStr)
	if err != nil {
		return types.TimeRange{}, fmt.Errorf("bad -begin: %w", err)
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return types.TimeRange{}, fmt.Errorf("bad -end: %w", err)
	}
	r := types.NewTimeRange(begin, end)
	if !r.IsValid() {
		return types.TimeRange{}, fmt.Errorf("begin must be before end")
	}
	return r, nil
}
