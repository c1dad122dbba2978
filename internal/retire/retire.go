// Package retire removes partitions from service and reclaims their
// files. Retirement is two-phase: metadata rows are deleted first in one
// transaction, then the files sit in a deferred-deletion queue for a
// grace period before the sweeper removes them from object storage.
package retire

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chronolake/chronolake/internal/metastore"
	"github.com/chronolake/chronolake/internal/storage"
	"github.com/chronolake/chronolake/pkg/types"
)

// Admin retires partitions on operator request.
type Admin struct {
	catalog metastore.Catalog
	store   storage.ObjectStorage
}

// NewAdmin creates a retirement admin.
func NewAdmin(catalog metastore.Catalog, store storage.ObjectStorage) *Admin {
	return &Admin{catalog: catalog, store: store}
}

// RetireResult holds the outcome of a retirement.
type RetireResult struct {
	RetiredCount int
	QueuedBytes  int64
}

// Retire removes every partition of the view instance fully contained in
// r. The rows disappear immediately; the files follow after the grace
// period. A partition straddling the range boundary is left alone.
func (a *Admin) Retire(ctx context.Context, viewSetName, viewInstanceID string, r types.TimeRange) (*RetireResult, error) {
	files, err := a.catalog.RetireContained(ctx, viewSetName, viewInstanceID, r)
	if err != nil {
		return nil, fmt.Errorf("retire: failed to retire partitions in %s: %w", r, err)
	}

	result := &RetireResult{RetiredCount: len(files)}
	for _, f := range files {
		result.QueuedBytes += f.FileSize
	}
	if result.RetiredCount > 0 {
		log.Printf("retire: retired %d partitions of %s/%s in %s (%d bytes queued)",
			result.RetiredCount, viewSetName, viewInstanceID, r, result.QueuedBytes)
	}
	return result, nil
}

// Sweeper drains the deferred-deletion queue.
type Sweeper struct {
	catalog metastore.Catalog
	store   storage.ObjectStorage
}

// NewSweeper creates a sweeper.
func NewSweeper(catalog metastore.Catalog, store storage.ObjectStorage) *Sweeper {
	return &Sweeper{catalog: catalog, store: store}
}

// SweepResult holds the outcome of one sweep pass.
type SweepResult struct {
	DeletedFiles  int
	DeletedBytes  int64
	RequeuedFiles int
}

// Sweep deletes every queued file whose grace period has elapsed. The
// pass is idempotent: deleting an already-deleted object succeeds, and a
// file whose delete fails is requeued for the next pass.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	expired, err := s.catalog.TakeExpiredTemporaryFiles(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("retire: failed to take expired files: %w", err)
	}

	result := &SweepResult{}
	for _, f := range expired {
		if err := s.store.Delete(ctx, f.FilePath); err != nil {
			log.Printf("[WARN] retire: failed to delete %s, requeueing: %v", f.FilePath, err)
			if qerr := s.catalog.QueueTemporaryFile(ctx, f.FilePath, f.FileSize, now); qerr != nil {
				log.Printf("[WARN] retire: failed to requeue %s: %v", f.FilePath, qerr)
			}
			result.RequeuedFiles++
			continue
		}
		result.DeletedFiles++
		result.DeletedBytes += f.FileSize
	}

	if result.DeletedFiles > 0 || result.RequeuedFiles > 0 {
		log.Printf("retire: swept %d files (%d bytes), requeued %d",
			result.DeletedFiles, result.DeletedBytes, result.RequeuedFiles)
	}
	return result, nil
}

// Run sweeps on the given interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, time.Now()); err != nil {
				log.Printf("[WARN] retire: sweep failed: %v", err)
			}
		}
	}
}
