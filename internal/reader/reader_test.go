package reader

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	lakeerrors "github.com/chronolake/chronolake/internal/errors"
	"github.com/chronolake/chronolake/internal/materialize"
	"github.com/chronolake/chronolake/internal/metastore"
	"github.com/chronolake/chronolake/internal/source"
	"github.com/chronolake/chronolake/internal/storage"
	"github.com/chronolake/chronolake/internal/view"
	"github.com/chronolake/chronolake/pkg/types"
)

type testEnv struct {
	catalog *metastore.SQLiteCatalog
	store   *storage.LocalStorage
	src     *source.MemoryAccessor
	reader  *Reader
	cache   *PartitionCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	catalog, err := metastore.NewCatalog(filepath.Join(dir, "meta.db"), time.Hour)
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })

	store, err := storage.NewLocalStorage(filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	src := source.NewMemoryAccessor()
	mat := materialize.NewMaterializer(catalog, store, src, materialize.Options{
		BucketSize:   time.Hour,
		LeaseTimeout: 5 * time.Second,
		WorkDir:      filepath.Join(dir, "work"),
	})

	cache, err := NewPartitionCache(filepath.Join(dir, "cache"), 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	return &testEnv{
		catalog: catalog,
		store:   store,
		src:     src,
		reader:  NewReader(store, mat, cache, 2),
		cache:   cache,
	}
}

func TestReadMaterializesOnDemand(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := view.NewLogEntriesView("s")

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 120; i++ {
		tm := base.Add(time.Duration(i) * time.Minute)
		env.src.Add(types.Event{
			StreamID: "s", Kind: types.KindLog, Name: "app",
			EventTime: tm, InsertTime: tm, Level: 3, Msg: "m",
		})
	}

	// Query a window narrower than the bucket-aligned partitions.
	q := types.TimeRange{Begin: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)}
	result, err := env.reader.Read(ctx, v, q)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	// One event per minute over a 60 minute window.
	if len(result.Rows) != 60 {
		t.Fatalf("rows = %d, want 60", len(result.Rows))
	}
	if len(result.Partitions) != 2 {
		t.Errorf("partitions = %d, want 2", len(result.Partitions))
	}

	// Rows come back ordered by insert time and clamped to the window.
	var prev int64
	for i, row := range result.Rows {
		it := row[1].(int64)
		if it < q.Begin.UnixNano() || it >= q.End.UnixNano() {
			t.Fatalf("row %d insert_time outside query window", i)
		}
		if it < prev {
			t.Fatalf("row %d out of order", i)
		}
		prev = it
	}
}

func TestReadSeesEventsAppendedAfterEarlyBuild(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := view.NewLogEntriesView("s")

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	addEvents := func(from time.Time, n int) {
		for i := 0; i < n; i++ {
			tm := from.Add(time.Duration(i) * time.Minute)
			env.src.Add(types.Event{
				StreamID: "s", Kind: types.KindLog, Name: "app",
				EventTime: tm, InsertTime: tm, Msg: "m",
			})
		}
	}

	// A half-hour query materializes the whole hour bucket early.
	addEvents(base, 30)
	first, err := env.reader.Read(ctx, v, types.TimeRange{Begin: base, End: base.Add(30 * time.Minute)})
	if err != nil {
		t.Fatalf("first Read failed: %v", err)
	}
	if len(first.Rows) != 30 {
		t.Fatalf("first read rows = %d, want 30", len(first.Rows))
	}

	// Thirty more events arrive inside the already built bucket. A query
	// over the full hour must see them, not the early snapshot.
	addEvents(base.Add(30*time.Minute), 30)
	second, err := env.reader.Read(ctx, v, types.TimeRange{Begin: base, End: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("second Read failed: %v", err)
	}
	if len(second.Rows) != 60 {
		t.Fatalf("second read rows = %d, want 60", len(second.Rows))
	}
}

func TestReadPreservesOrderOfEqualTimestamps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := view.NewLogEntriesView("s")

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	msgs := []string{"first", "second", "third", "fourth"}
	for _, msg := range msgs {
		env.src.Add(types.Event{
			StreamID: "s", Kind: types.KindLog, Name: "app",
			EventTime: base, InsertTime: base, Msg: msg,
		})
	}

	result, err := env.reader.Read(ctx, v, types.TimeRange{Begin: base, End: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(result.Rows) != len(msgs) {
		t.Fatalf("rows = %d, want %d", len(result.Rows), len(msgs))
	}
	for i, row := range result.Rows {
		if got := row[5].(string); got != msgs[i] {
			t.Errorf("row %d msg = %q, want %q", i, got, msgs[i])
		}
	}
}

func TestReadSecondQueryHitsCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := view.NewLogEntriesView("s")

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	env.src.Add(types.Event{
		StreamID: "s", Kind: types.KindLog, Name: "app",
		EventTime: base, InsertTime: base, Msg: "m",
	})

	q := types.TimeRange{Begin: base, End: base.Add(time.Hour)}
	first, err := env.reader.Read(ctx, v, q)
	if err != nil {
		t.Fatalf("first Read failed: %v", err)
	}
	if env.cache.Len() == 0 {
		t.Fatal("expected partition file cached after first read")
	}

	second, err := env.reader.Read(ctx, v, q)
	if err != nil {
		t.Fatalf("second Read failed: %v", err)
	}
	if len(second.Rows) != len(first.Rows) {
		t.Errorf("second read rows = %d, want %d", len(second.Rows), len(first.Rows))
	}
}

func TestReadVanishedPartitionIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := view.NewLogEntriesView("s")

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// A current-fingerprint record pointing at a file that is gone, as
	// happens when a retirement's file delete races the read.
	_, _, err := env.catalog.InsertPartition(ctx, &metastore.PartitionRecord{
		ViewSetName:       "log_entries",
		ViewInstanceID:    "s",
		BeginInsertTime:   base,
		EndInsertTime:     base.Add(time.Hour),
		MinEventTime:      base,
		MaxEventTime:      base,
		FilePath:          "views/log_entries/s/2026-03-01/gone.slp",
		FileSize:          1,
		RowCount:          1,
		SchemaFingerprint: v.Fingerprint(),
		CreatedAt:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}

	_, err = env.reader.Read(ctx, v, types.TimeRange{Begin: base, End: base.Add(time.Hour)})
	if err == nil {
		t.Fatal("expected error reading vanished partition")
	}
	if lakeerrors.GetCode(err) != lakeerrors.CodePartitionVanished {
		t.Errorf("code = %q, want %q", lakeerrors.GetCode(err), lakeerrors.CodePartitionVanished)
	}
	if !lakeerrors.IsRetryable(err) {
		t.Error("vanished partition should be retryable")
	}
}

func TestReadEmptyRange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := view.NewLogEntriesView("quiet")

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	result, err := env.reader.Read(ctx, v, types.TimeRange{Begin: base, End: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(result.Rows) != 0 {
		t.Errorf("rows = %d, want 0", len(result.Rows))
	}
	if len(result.Partitions) != 1 {
		t.Errorf("expected the empty bucket recorded, got %d partitions", len(result.Partitions))
	}
}
