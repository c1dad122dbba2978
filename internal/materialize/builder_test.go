package materialize

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/chronolake/chronolake/pkg/types"
)

var testSchema = &types.Schema{
	Columns: []types.ColumnDef{
		{Name: "stream_id", Type: "TEXT"},
		{Name: "insert_time", Type: "INTEGER"},
		{Name: "msg", Type: "TEXT"},
	},
}

func TestBuildPartitionFile(t *testing.T) {
	builder := NewFileBuilder(t.TempDir(), 2)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	batch := &types.RowBatch{}
	for i := 0; i < 5; i++ {
		batch.Append(types.Row{"s", now.Add(time.Duration(i) * time.Second).UnixNano(), "m"},
			now.Add(time.Duration(i)*time.Second))
	}

	result, err := builder.Build(context.Background(), testSchema, batch)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if result.RowCount != 5 {
		t.Errorf("row count = %d, want 5", result.RowCount)
	}
	if result.FileSize <= 0 {
		t.Errorf("file size = %d", result.FileSize)
	}

	// The file is a plain SQLite database with the rows intact.
	db, err := sql.Open("sqlite3", result.LocalPath)
	if err != nil {
		t.Fatalf("failed to open built file: %v", err)
	}
	defer db.Close()

	var count int64
	if err := db.QueryRow("SELECT COUNT(*) FROM rows").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 5 {
		t.Errorf("stored rows = %d, want 5", count)
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode failed: %v", err)
	}
	if mode != "delete" {
		t.Errorf("journal_mode = %q, want delete", mode)
	}
}

func TestBuildEmptyBatch(t *testing.T) {
	builder := NewFileBuilder(t.TempDir(), 0)

	result, err := builder.Build(context.Background(), testSchema, &types.RowBatch{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if result.RowCount != 0 {
		t.Errorf("row count = %d, want 0", result.RowCount)
	}

	db, err := sql.Open("sqlite3", result.LocalPath)
	if err != nil {
		t.Fatalf("failed to open built file: %v", err)
	}
	defer db.Close()

	var count int64
	if err := db.QueryRow("SELECT COUNT(*) FROM rows").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("stored rows = %d, want 0", count)
	}
}

func TestBuildRejectsWidthMismatch(t *testing.T) {
	builder := NewFileBuilder(t.TempDir(), 0)

	batch := &types.RowBatch{}
	batch.Append(types.Row{"only-one-value"}, time.Now())

	if _, err := builder.Build(context.Background(), testSchema, batch); err == nil {
		t.Fatal("expected error for row narrower than schema")
	}
}

func TestObjectKeyLayout(t *testing.T) {
	begin := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	key := ObjectKey("log_entries", "stream-1", begin, "abc")
	want := "views/log_entries/stream-1/2026-03-01/10-00-00_abc.slp"
	if key != want {
		t.Errorf("key = %q, want %q", key, want)
	}
}
