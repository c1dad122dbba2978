package reader

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/chronolake/chronolake/internal/materialize"
	"github.com/chronolake/chronolake/internal/metastore"
	"github.com/chronolake/chronolake/internal/storage"
	"github.com/chronolake/chronolake/internal/view"
	"github.com/chronolake/chronolake/pkg/types"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"
)

// ResultSet holds the rows of one query, ordered by partition begin time
// and insert time within each partition.
type ResultSet struct {
	Schema     *types.Schema
	Rows       []types.Row
	Partitions []*metastore.PartitionRecord
}

// Reader answers queries over a view: it materializes any missing
// partitions, downloads the covering files, and scans them in order.
type Reader struct {
	store       storage.ObjectStorage
	mat         *materialize.Materializer
	cache       *PartitionCache
	concurrency int
}

// NewReader creates a reader.
func NewReader(store storage.ObjectStorage, mat *materialize.Materializer, cache *PartitionCache, concurrency int) *Reader {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Reader{store: store, mat: mat, cache: cache, concurrency: concurrency}
}

// Read returns all rows of v whose insert time falls in q. Missing or
// stale partitions are materialized first; the scan only ever sees files
// carrying the view's current fingerprint.
func (r *Reader) Read(ctx context.Context, v view.View, q types.TimeRange) (*ResultSet, error) {
	coverage, err := r.mat.EnsureMaterialized(ctx, v, q)
	if err != nil {
		return nil, err
	}

	partitions := coverage.Current
	localPaths := make([]string, len(partitions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, rec := range partitions {
		i, rec := i, rec
		g.Go(func() error {
			local, err := r.cache.Fetch(gctx, r.store, rec.FilePath, rec.FileSize)
			if err != nil {
				return err
			}
			localPaths[i] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &ResultSet{Schema: v.Schema(), Partitions: partitions}
	for i, rec := range partitions {
		// Bucket alignment can make a partition wider than the query;
		// clamp the scan to the requested insert-time window.
		window, ok := rec.InsertRange().Intersect(q)
		if !ok {
			continue
		}
		rows, err := scanPartitionFile(ctx, localPaths[i], v.Schema(), window)
		if err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, rows...)
	}
	return result, nil
}

// scanPartitionFile reads the rows of one partition file within the
// insert-time window, ordered by insert time.
func scanPartitionFile(ctx context.Context, localPath string, schema *types.Schema, window types.TimeRange) ([]types.Row, error) {
	db, err := sql.Open("sqlite3", localPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("reader: failed to open partition file: %w", err)
	}
	defer db.Close()

	cols := schema.ColumnNames()
	query := fmt.Sprintf(
		"SELECT %s FROM rows WHERE insert_time >= ? AND insert_time < ? ORDER BY insert_time, rowid",
		strings.Join(cols, ", "))

	rows, err := db.QueryContext(ctx, query, window.Begin.UnixNano(), window.End.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("reader: failed to scan partition file: %w", err)
	}
	defer rows.Close()

	var out []types.Row
	for rows.Next() {
		row := make(types.Row, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("reader: failed to scan row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reader: error iterating rows: %w", err)
	}
	return out, nil
}
