// Package main implements the chronolake-materialize tool. It replays an
// event dump and materializes a view over a time range, ahead of queries.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/chronolake/chronolake/internal/config"
	"github.com/chronolake/chronolake/internal/materialize"
	"github.com/chronolake/chronolake/internal/metastore"
	"github.com/chronolake/chronolake/internal/source"
	"github.com/chronolake/chronolake/internal/storage"
	"github.com/chronolake/chronolake/internal/view"
	"github.com/chronolake/chronolake/pkg/types"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config file")
		dataDir     = flag.String("data", "./data", "data directory (ignored when -config is set)")
		eventsPath  = flag.String("events", "", "newline-delimited JSON event file to replay")
		viewSet     = flag.String("view", "log_entries", "view set to materialize")
		instanceID  = flag.String("instance", "", "view instance (stream ID); empty means every stream in the event file")
		beginStr    = flag.String("begin", "", "range begin (RFC 3339)")
		endStr      = flag.String("end", "", "range end (RFC 3339)")
		concurrency = flag.Int("concurrency", 4, "parallel bucket builds")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath, *dataDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	r, err := parseRange(*beginStr, *endStr)
	if err != nil {
		log.Fatalf("Invalid range: %v", err)
	}
	if *eventsPath == "" {
		log.Fatalf("-events is required")
	}

	ctx := context.Background()

	src, err := source.LoadFile(*eventsPath)
	if err != nil {
		log.Fatalf("Failed to load events: %v", err)
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

	registry := view.NewRegistry()
	mat := materialize.NewMaterializer(catalog, store, src, materialize.Options{
		BucketSize:   cfg.Materialize.BucketSize.Std(),
		LeaseTimeout: cfg.Materialize.LeaseTimeout.Std(),
		WorkDir:      cfg.Materialize.WorkDir,
		BatchRows:    cfg.Materialize.BatchRows,
	})

	instances := []string{*instanceID}
	if *instanceID == "" {
		instances, err = src.ListStreams(ctx)
		if err != nil {
			log.Fatalf("Failed to list streams: %v", err)
		}
	}

	start := time.Now()
	for _, inst := range instances {
		v, err := registry.MakeView(*viewSet, inst)
		if err != nil {
			log.Fatalf("Failed to create view: %v", err)
		}
		if err := catalog.RegisterViewSchema(ctx, v.ViewSetName(), v.Fingerprint(), view.SchemaJSON(v.Schema())); err != nil {
			log.Printf("[WARN] failed to register view schema: %v", err)
		}
		if err := mat.Warm(ctx, v, r, *concurrency); err != nil {
			log.Fatalf("Materialization failed for %s/%s: %v", *viewSet, inst, err)
		}
		log.Printf("Materialized %s/%s over %s", *viewSet, inst, r)
	}

	stats := mat.Stats()
	fmt.Printf("Done in %v: built=%d skipped=%d races_lost=%d rows=%d bytes=%d\n",
		time.Since(start).Round(time.Millisecond),
		stats.BuildsSucceeded, stats.BuildsSkipped, stats.RacesLost,
		stats.RowsWritten, stats.BytesWritten)
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
