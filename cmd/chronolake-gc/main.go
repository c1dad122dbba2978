// Package main implements the chronolake-gc service. It drains the
// deferred-deletion queue, removing retired partition files from object
// storage once their grace period has elapsed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chronolake/chronolake/internal/config"
	"github.com/chronolake/chronolake/internal/metastore"
	"github.com/chronolake/chronolake/internal/retire"
	"github.com/chronolake/chronolake/internal/storage"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		dataDir    = flag.String("data", "./data", "data directory (ignored when -config is set)")
		once       = flag.Bool("once", false, "run a single sweep and exit")
		interval   = flag.Duration("interval", 0, "sweep interval (overrides config)")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath, *dataDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *interval > 0 {
		cfg.Retire.SweepInterval = config.Duration(*interval)
	}

	ctx := context.Background()

	catalog, err := metastore.NewCatalog(cfg.Metastore.Path, cfg.Retire.GracePeriod.Std())
	if err != nil {
		log.Fatalf("Failed to open metastore: %v", err)
	}
	defer catalog.Close()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}

	sweeper := retire.NewSweeper(catalog, store)

	if *once {
		result, err := sweeper.Sweep(ctx, time.Now())
		if err != nil {
			log.Fatalf("Sweep failed: %v", err)
		}
		fmt.Printf("Deleted %d files (%d bytes), requeued %d\n",
			result.DeletedFiles, result.DeletedBytes, result.RequeuedFiles)
		return
	}

	log.Printf("Starting chronolake-gc, sweeping every %v", cfg.Retire.SweepInterval)

	runCtx, cancel := context.WithCancel(ctx)
	go sweeper.Run(runCtx, cfg.Retire.SweepInterval.Std())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down", sig)
	cancel()
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
