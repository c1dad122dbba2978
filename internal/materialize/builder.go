package materialize

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chronolake/chronolake/pkg/types"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// FileBuilder writes partition files: single-table SQLite databases
// holding the transformed rows of one view over one insert-time bucket.
// Files are written once and never modified.
type FileBuilder struct {
	workDir   string
	batchRows int
}

// BuildResult describes a freshly written partition file.
type BuildResult struct {
	LocalPath string
	FileSize  int64
	RowCount  int64
	CreatedAt time.Time
}

// NewFileBuilder creates a builder writing files under workDir.
func NewFileBuilder(workDir string, batchRows int) *FileBuilder {
	if batchRows <= 0 {
		batchRows = 8192
	}
	return &FileBuilder{workDir: workDir, batchRows: batchRows}
}

// ObjectKey returns the storage path of a partition file. The layout
// groups files by view set, instance, and day so that operators can
// inspect the store, but the system itself addresses files only through
// metadata.
func ObjectKey(viewSetName, viewInstanceID string, begin time.Time, fileID string) string {
	return fmt.Sprintf("views/%s/%s/%s/%s_%s.slp",
		viewSetName, viewInstanceID,
		begin.UTC().Format("2006-01-02"),
		begin.UTC().Format("15-04-05"),
		fileID)
}

// Build writes batch into a new partition file and returns its metadata.
// An empty batch still produces a file: recording the empty bucket is what
// keeps it from being re-scanned on every query.
func (b *FileBuilder) Build(ctx context.Context, schema *types.Schema, batch *types.RowBatch) (*BuildResult, error) {
	if err := os.MkdirAll(b.workDir, 0755); err != nil {
		return nil, fmt.Errorf("materialize: failed to create work directory: %w", err)
	}

	localPath := filepath.Join(b.workDir, uuid.New().String()+".slp")
	createdAt := time.Now().UTC()

	db, err := sql.Open("sqlite3", localPath)
	if err != nil {
		return nil, fmt.Errorf("materialize: failed to create partition file: %w", err)
	}
	defer db.Close()

	// WAL during the build, folded back into the main file at the end so
	// the partition ships as a single immutable file.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("materialize: failed to set journal mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, createTableSQL(schema)); err != nil {
		return nil, fmt.Errorf("materialize: failed to create rows table: %w", err)
	}
	for _, col := range schema.Columns {
		if col.Name == "insert_time" || col.Name == "event_time" || col.Name == "begin_time" {
			idx := fmt.Sprintf("CREATE INDEX idx_rows_%s ON rows(%s)", col.Name, col.Name)
			if _, err := db.ExecContext(ctx, idx); err != nil {
				return nil, fmt.Errorf("materialize: failed to create index: %w", err)
			}
		}
	}

	if err := b.insertRows(ctx, db, schema, batch); err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("materialize: failed to checkpoint WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return nil, fmt.Errorf("materialize: failed to finalize journal mode: %w", err)
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("materialize: failed to close partition file: %w", err)
	}

	fileInfo, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("materialize: failed to stat partition file: %w", err)
	}

	return &BuildResult{
		LocalPath: localPath,
		FileSize:  fileInfo.Size(),
		RowCount:  int64(batch.Len()),
		CreatedAt: createdAt,
	}, nil
}

// insertRows writes the batch in chunks, one transaction per chunk.
func (b *FileBuilder) insertRows(ctx context.Context, db *sql.DB, schema *types.Schema, batch *types.RowBatch) error {
	if batch.Len() == 0 {
		return nil
	}

	cols := schema.ColumnNames()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	insertSQL := fmt.Sprintf("INSERT INTO rows (%s) VALUES (%s)",
		strings.Join(cols, ", "), placeholders)

	for start := 0; start < batch.Len(); start += b.batchRows {
		end := start + b.batchRows
		if end > batch.Len() {
			end = batch.Len()
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("materialize: failed to begin insert transaction: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("materialize: failed to prepare insert: %w", err)
		}
		for _, row := range batch.Rows[start:end] {
			if len(row) != len(cols) {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("materialize: row has %d values, schema has %d columns", len(row), len(cols))
			}
			if _, err := stmt.ExecContext(ctx, []interface{}(row)...); err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("materialize: failed to insert row: %w", err)
			}
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("materialize: failed to commit insert transaction: %w", err)
		}
	}
	return nil
}

func createTableSQL(schema *types.Schema) string {
	var defs []string
	for _, col := range schema.Columns {
		def := col.Name + " " + col.Type
		if !col.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE rows (%s)", strings.Join(defs, ", "))
}
