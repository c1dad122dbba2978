// Package materialize builds partitions on demand: it finds the stale or
// missing buckets of a query range, transforms the source events, writes
// immutable partition files, and records them in the metastore.
package materialize

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/chronolake/chronolake/internal/errors"
	"github.com/chronolake/chronolake/internal/metastore"
	"github.com/chronolake/chronolake/internal/source"
	"github.com/chronolake/chronolake/internal/staleness"
	"github.com/chronolake/chronolake/internal/storage"
	"github.com/chronolake/chronolake/internal/view"
	"github.com/chronolake/chronolake/pkg/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Options configures a Materializer.
type Options struct {
	// BucketSize quantizes partition bounds. Default one hour.
	BucketSize time.Duration

	// LeaseTimeout bounds how long a build waits for another in-process
	// build of the same partition. Default one minute.
	LeaseTimeout time.Duration

	// WorkDir holds partition files while they are being written.
	WorkDir string

	// BatchRows is the insert chunk size when writing files.
	BatchRows int
}

// Materializer drives just-in-time partition builds.
type Materializer struct {
	catalog      metastore.Catalog
	store        storage.ObjectStorage
	src          source.Accessor
	checker      *staleness.Checker
	leases       *LeaseMap
	builder      *FileBuilder
	bucketSize   time.Duration
	leaseTimeout time.Duration
	stats        *BuildStats
}

// NewMaterializer creates a materializer.
func NewMaterializer(catalog metastore.Catalog, store storage.ObjectStorage, src source.Accessor, opts Options) *Materializer {
	if opts.BucketSize <= 0 {
		opts.BucketSize = time.Hour
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = time.Minute
	}
	return &Materializer{
		catalog:      catalog,
		store:        store,
		src:          src,
		checker:      staleness.NewChecker(catalog, src),
		leases:       NewLeaseMap(),
		builder:      NewFileBuilder(opts.WorkDir, opts.BatchRows),
		bucketSize:   opts.BucketSize,
		leaseTimeout: opts.LeaseTimeout,
		stats:        &BuildStats{},
	}
}

// Stats returns a snapshot of build activity counters.
func (m *Materializer) Stats() StatsSnapshot {
	return m.stats.Snapshot()
}

// EnsureMaterialized brings v's partitions up to date over r and returns
// the final coverage. When it returns a full-coverage result, every part
// of r is backed by a current partition file.
func (m *Materializer) EnsureMaterialized(ctx context.Context, v view.View, r types.TimeRange) (*staleness.Result, error) {
	result, err := m.checker.Check(ctx, v, r)
	if err != nil {
		return nil, err
	}
	if result.Coverage == staleness.CoverageFull {
		return result, nil
	}

	for _, gap := range result.Gaps {
		for _, bucket := range staleness.SplitBuckets(gap, m.bucketSize) {
			if err := m.buildBucket(ctx, v, bucket); err != nil {
				return nil, err
			}
		}
	}

	// Re-check: the builds above, ours or a concurrent winner's, must
	// have closed every gap.
	result, err = m.checker.Check(ctx, v, r)
	if err != nil {
		return nil, err
	}
	if result.Coverage != staleness.CoverageFull {
		return result, errors.New(errors.ErrCategoryRead, errors.CodeIncompleteQuery,
			fmt.Sprintf("range %s still has %d gaps after materialization", r, len(result.Gaps)))
	}
	return result, nil
}

// Warm materializes v over r ahead of queries, building up to concurrency
// buckets in parallel.
func (m *Materializer) Warm(ctx context.Context, v view.View, r types.TimeRange, concurrency int) error {
	if !r.IsValid() {
		return errors.NewValidationError(errors.CodeInvalidRange,
			"warm range must be non-empty with begin before end")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, bucket := range staleness.SplitBuckets(r, m.bucketSize) {
		bucket := bucket
		g.Go(func() error {
			return m.buildBucket(gctx, v, bucket)
		})
	}
	return g.Wait()
}

// buildBucket materializes one bucket-aligned partition, serialized per
// partition key.
func (m *Materializer) buildBucket(ctx context.Context, v view.View, bucket types.TimeRange) error {
	key := metastore.PartitionKey(v.ViewSetName(), v.ViewInstanceID(), bucket.Begin, bucket.End)

	release, err := m.leases.Acquire(ctx, key, m.leaseTimeout)
	if err != nil {
		return err
	}
	defer release()

	// Re-check under the lease: a waiter whose predecessor already built
	// this bucket adopts that work instead of rebuilding.
	res, err := m.checker.Check(ctx, v, bucket)
	if err != nil {
		return err
	}
	if res.Coverage == staleness.CoverageFull {
		m.stats.buildSkipped()
		return nil
	}

	m.stats.buildStarted()
	if err := m.build(ctx, v, bucket); err != nil {
		m.stats.buildFailed()
		return err
	}
	return nil
}

// build performs one materialization: read, transform, write, upload,
// record. The metadata insert commits last, so a crash at any earlier
// point leaves only an orphan file, never a dangling record.
func (m *Materializer) build(ctx context.Context, v view.View, bucket types.TimeRange) error {
	events, err := m.src.ReadEvents(ctx, v.ViewInstanceID(), bucket)
	if err != nil {
		return errors.NewSourceError(
			fmt.Sprintf("failed to read source events for %s", bucket), err)
	}

	batch, err := v.Transform(events)
	if err != nil {
		return err
	}

	built, err := m.builder.Build(ctx, v.Schema(), batch)
	if err != nil {
		return errors.NewStorageError(errors.CodeWriteFailure,
			fmt.Sprintf("failed to write partition file for %s", bucket), err)
	}
	defer os.Remove(built.LocalPath)

	objectKey := ObjectKey(v.ViewSetName(), v.ViewInstanceID(), bucket.Begin, uuid.New().String())
	if err := m.store.Upload(ctx, built.LocalPath, objectKey); err != nil {
		return errors.NewStorageError(errors.CodeWriteFailure,
			fmt.Sprintf("failed to upload partition file %s", objectKey), err)
	}

	rec := &metastore.PartitionRecord{
		ViewSetName:       v.ViewSetName(),
		ViewInstanceID:    v.ViewInstanceID(),
		BeginInsertTime:   bucket.Begin,
		EndInsertTime:     bucket.End,
		MinEventTime:      batch.MinEventTime,
		MaxEventTime:      batch.MaxEventTime,
		FilePath:          objectKey,
		FileSize:          built.FileSize,
		RowCount:          built.RowCount,
		SourceEventCount:  int64(len(events)),
		SchemaFingerprint: v.Fingerprint(),
		CreatedAt:         built.CreatedAt,
	}
	if rec.MinEventTime.IsZero() {
		rec.MinEventTime = bucket.Begin
		rec.MaxEventTime = bucket.Begin
	}

	winner, inserted, err := m.catalog.InsertPartition(ctx, rec)
	if err != nil {
		// The uploaded file is unreferenced; queue it so the sweeper
		// reclaims it.
		if qerr := m.catalog.QueueTemporaryFile(ctx, objectKey, built.FileSize, time.Now()); qerr != nil {
			log.Printf("[WARN] materialize: failed to queue orphan file %s: %v", objectKey, qerr)
		}
		return errors.NewMetadataError(errors.CodeMetadataConflict,
			fmt.Sprintf("failed to record partition %s", rec.Key()), err)
	}
	if !inserted {
		// Lost the race to another builder. The winner's record stands;
		// our file is surplus.
		m.stats.raceLost()
		if qerr := m.catalog.QueueTemporaryFile(ctx, objectKey, built.FileSize, time.Now()); qerr != nil {
			log.Printf("[WARN] materialize: failed to queue losing file %s: %v", objectKey, qerr)
		}
		log.Printf("materialize: lost insert race for %s, adopting %s", rec.Key(), winner.FilePath)
		return nil
	}

	m.stats.buildSucceeded(built.RowCount, built.FileSize)
	return nil
}
