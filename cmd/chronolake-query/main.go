// Package main implements the chronolake-query tool. It answers a query
// over a view, materializing any missing partitions first, and prints the
// rows as tab-separated values.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/chronolake/chronolake/internal/config"
	"github.com/chronolake/chronolake/internal/materialize"
	"github.com/chronolake/chronolake/internal/metastore"
	"github.com/chronolake/chronolake/internal/reader"
	"github.com/chronolake/chronolake/internal/source"
	"github.com/chronolake/chronolake/internal/storage"
	"github.com/chronolake/chronolake/internal/view"
	"github.com/chronolake/chronolake/pkg/types"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		dataDir    = flag.String("data", "./data", "data directory (ignored when -config is set)")
		eventsPath = flag.String("events", "", "newline-delimited JSON event file backing the source")
		viewSet    = flag.String("view", "log_entries", "view set to query")
		instanceID = flag.String("instance", "", "view instance (stream ID)")
		beginStr   = flag.String("begin", "", "range begin (RFC 3339)")
		endStr     = flag.String("end", "", "range end (RFC 3339)")
		limit      = flag.Int("limit", 0, "maximum rows to print (0 = all)")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath, *dataDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *instanceID == "" {
		log.Fatalf("-instance is required")
	}
	r, err := parseRange(*beginStr, *endStr)
	if err != nil {
		log.Fatalf("Invalid range: %v", err)
	}

	ctx := context.Background()

	var src source.Accessor
	if *eventsPath != "" {
		src, err = source.LoadFile(*eventsPath)
		if err != nil {
			log.Fatalf("Failed to load events: %v", err)
		}
	} else {
		// No source: queries succeed only over already materialized data.
		src = source.NewMemoryAccessor()
	}

	catalog, err := metastore.NewCatalog(cfg.Metastore.Path, cfg.Retire.GracePeriod.Std())
	if err != nil {
		log.Fatalf("Failed to open metastore: %v", err)
	}
	defer catalog.Close()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}

	v, err := view.NewRegistry().MakeView(*viewSet, *instanceID)
	if err != nil {
		log.Fatalf("Failed to create view: %v", err)
	}

	mat := materialize.NewMaterializer(catalog, store, src, materialize.Options{
		BucketSize:   cfg.Materialize.BucketSize.Std(),
		LeaseTimeout: cfg.Materialize.LeaseTimeout.Std(),
		WorkDir:      cfg.Materialize.WorkDir,
		BatchRows:    cfg.Materialize.BatchRows,
	})
	cache, err := reader.NewPartitionCache(cfg.Reader.DownloadDir, cfg.Reader.CacheBytes)
	if err != nil {
		log.Fatalf("Failed to create download cache: %v", err)
	}

	rd := reader.NewReader(store, mat, cache, cfg.Reader.Concurrency)

	start := time.Now()
	result, err := rd.Read(ctx, v, r)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Println(strings.Join(result.Schema.ColumnNames(), "\t"))
	for i, row := range result.Rows {
		if *limit > 0 && i >= *limit {
			break
		}
		parts := make([]string, len(row))
		for j, val := range row {
			parts[j] = formatValue(val)
		}
		fmt.Println(strings.Join(parts, "\t"))
	}
	log.Printf("%d rows from %d partitions in %v",
		len(result.Rows), len(result.Partitions), time.Since(start).Round(time.Millisecond))
}

func formatValue(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(v))
	default:
		return fmt.Sprintf("%v", v)
	}
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
