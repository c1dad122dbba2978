package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/chronolake/chronolake/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// Catalog manages partition metadata in the metastore database.
type Catalog interface {
	// InsertPartition atomically records a new partition. The insert is a
	// compare-and-set keyed by the partition identity: if a record with
	// the same key, the same schema fingerprint, and at least as much
	// source data already exists, the existing record wins and is
	// returned with inserted=false. Contained records with a different
	// fingerprint, less source data, or smaller contained ranges are
	// superseded: their rows are removed and their files queued for
	// deferred deletion in the same transaction.
	InsertPartition(ctx context.Context, rec *PartitionRecord) (winner *PartitionRecord, inserted bool, err error)

	// ListOverlapping returns all partition records for a view/instance
	// whose insert-time interval overlaps r, using inclusive bounds on
	// both sides.
	ListOverlapping(ctx context.Context, viewSetName, viewInstanceID string, r types.TimeRange) ([]*PartitionRecord, error)

	// GetPartition retrieves a single record by its identity.
	// Returns nil (no error) when the record does not exist.
	GetPartition(ctx context.Context, viewSetName, viewInstanceID string, begin, end time.Time) (*PartitionRecord, error)

	// RetireContained deletes all records for a view/instance whose
	// interval is fully contained in r, queueing their files for deferred
	// deletion in the same transaction. Returns the retired files.
	RetireContained(ctx context.Context, viewSetName, viewInstanceID string, r types.TimeRange) ([]TemporaryFile, error)

	// QueueTemporaryFile adds a file to the deferred-deletion queue.
	QueueTemporaryFile(ctx context.Context, filePath string, fileSize int64, expiration time.Time) error

	// TakeExpiredTemporaryFiles removes and returns every queued file
	// whose expiration is at or before now.
	TakeExpiredTemporaryFiles(ctx context.Context, now time.Time) ([]TemporaryFile, error)

	// RegisterViewSchema records a view's schema fingerprint and JSON for
	// auditing. Registering the same fingerprint twice is a no-op.
	RegisterViewSchema(ctx context.Context, viewSetName, fingerprint, schemaJSON string) error

	// ListView returns all records for a view (all instances when
	// viewInstanceID is empty), ordered by instance and begin time.
	ListView(ctx context.Context, viewSetName, viewInstanceID string) ([]*PartitionRecord, error)

	// Close closes the catalog database connections.
	Close() error
}

// PartitionRecord describes one materialized partition file.
type PartitionRecord struct {
	ViewSetName       string
	ViewInstanceID    string
	BeginInsertTime   time.Time
	EndInsertTime     time.Time
	MinEventTime      time.Time
	MaxEventTime      time.Time
	FilePath          string
	FileSize          int64
	RowCount          int64
	SourceEventCount  int64
	SchemaFingerprint string
	CreatedAt         time.Time
}

// InsertRange returns the half-open insert-time interval the record covers.
func (r *PartitionRecord) InsertRange() types.TimeRange {
	return types.TimeRange{Begin: r.BeginInsertTime, End: r.EndInsertTime}
}

// Key returns the partition identity as a string, used for lease keys.
func (r *PartitionRecord) Key() string {
	return PartitionKey(r.ViewSetName, r.ViewInstanceID, r.BeginInsertTime, r.EndInsertTime)
}

// PartitionKey formats a partition identity as a string.
func PartitionKey(viewSetName, viewInstanceID string, begin, end time.Time) string {
	return fmt.Sprintf("%s/%s/%d/%d", viewSetName, viewInstanceID, begin.UnixNano(), end.UnixNano())
}

// TemporaryFile is an entry in the deferred-deletion queue.
type TemporaryFile struct {
	FilePath   string
	FileSize   int64
	Expiration time.Time
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db          *sql.DB // Write connection (single writer)
	readDB      *sql.DB // Read connection pool (concurrent readers)
	dbPath      string
	retireGrace time.Duration
	mu          sync.Mutex // Write-only lock (reads don't need this)

	insertPartitionStmt *sql.Stmt
}

const partitionColumns = `view_set_name, view_instance_id, begin_insert_time, end_insert_time,
	min_event_time, max_event_time, file_path, file_size, row_count, source_event_count,
	schema_fingerprint, created_at`

// NewCatalog creates a new SQLite-based catalog. retireGrace is how long
// superseded or retired files stay in the deferred-deletion queue.
func NewCatalog(dbPath string, retireGrace time.Duration) (*SQLiteCatalog, error) {
	if retireGrace <= 0 {
		retireGrace = time.Hour
	}

	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("metastore: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	// Read connection pool: concurrent readers
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("metastore: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	catalog := &SQLiteCatalog{
		db:          db,
		readDB:      readDB,
		dbPath:      dbPath,
		retireGrace: retireGrace,
	}

	if err := catalog.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("metastore: failed to initialize schema: %w", err)
	}

	insertStmt, err := db.Prepare(`
		INSERT INTO lakehouse_partitions (` + partitionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("metastore: failed to prepare insert statement: %w", err)
	}
	catalog.insertPartitionStmt = insertStmt

	return catalog, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// InsertPartition atomically records a new partition (see Catalog).
func (c *SQLiteCatalog) InsertPartition(ctx context.Context, rec *PartitionRecord) (*PartitionRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("metastore: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Check for an exact-key record first: a winner with the same
	// fingerprint, built from at least as much source data, keeps its
	// row and the caller discards its file.
	existing, err := c.getPartitionTx(ctx, tx, rec.ViewSetName, rec.ViewInstanceID, rec.BeginInsertTime, rec.EndInsertTime)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && existing.SchemaFingerprint == rec.SchemaFingerprint &&
		existing.SourceEventCount >= rec.SourceEventCount {
		return existing, false, nil
	}

	// Supersede contained records: the exact-key record with a stale
	// fingerprint or less source data, and any smaller partitions the
	// new one covers.
	if err := c.retireContainedTx(ctx, tx, rec.ViewSetName, rec.ViewInstanceID, rec.InsertRange(), time.Now().Add(c.retireGrace)); err != nil {
		return nil, false, err
	}

	_, err = tx.Stmt(c.insertPartitionStmt).ExecContext(ctx,
		rec.ViewSetName, rec.ViewInstanceID,
		rec.BeginInsertTime.UnixNano(), rec.EndInsertTime.UnixNano(),
		rec.MinEventTime.UnixNano(), rec.MaxEventTime.UnixNano(),
		rec.FilePath, rec.FileSize, rec.RowCount, rec.SourceEventCount,
		rec.SchemaFingerprint, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("metastore: failed to insert partition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("metastore: failed to commit partition insert: %w", err)
	}

	return rec, true, nil
}

// ListOverlapping returns records overlapping r with inclusive bounds.
// Inclusive comparison is a hard requirement: with strict inequalities an
// exact-match re-query judges its own partition stale and rebuilds it.
func (c *SQLiteCatalog) ListOverlapping(ctx context.Context, viewSetName, viewInstanceID string, r types.TimeRange) ([]*PartitionRecord, error) {
	query := `
		SELECT ` + partitionColumns + `
		FROM lakehouse_partitions
		WHERE view_set_name = ?
			AND view_instance_id = ?
			AND begin_insert_time <= ?
			AND end_insert_time >= ?
		ORDER BY begin_insert_time ASC`

	rows, err := c.readDB.QueryContext(ctx, query,
		viewSetName, viewInstanceID, r.End.UnixNano(), r.Begin.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("metastore: failed to query overlapping partitions: %w", err)
	}
	defer rows.Close()

	return scanPartitionRecords(rows)
}

// GetPartition retrieves a single record by its identity.
func (c *SQLiteCatalog) GetPartition(ctx context.Context, viewSetName, viewInstanceID string, begin, end time.Time) (*PartitionRecord, error) {
	query := `
		SELECT ` + partitionColumns + `
		FROM lakehouse_partitions
		WHERE view_set_name = ? AND view_instance_id = ?
			AND begin_insert_time = ? AND end_insert_time = ?`

	row := c.readDB.QueryRowContext(ctx, query,
		viewSetName, viewInstanceID, begin.UnixNano(), end.UnixNano())

	rec, err := scanPartitionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: failed to get partition: %w", err)
	}
	return rec, nil
}

// getPartitionTx reads an exact-key record inside a transaction.
func (c *SQLiteCatalog) getPartitionTx(ctx context.Context, tx *sql.Tx, viewSetName, viewInstanceID string, begin, end time.Time) (*PartitionRecord, error) {
	query := `
		SELECT ` + partitionColumns + `
		FROM lakehouse_partitions
		WHERE view_set_name = ? AND view_instance_id = ?
			AND begin_insert_time = ? AND end_insert_time = ?`

	row := tx.QueryRowContext(ctx, query,
		viewSetName, viewInstanceID, begin.UnixNano(), end.UnixNano())

	rec, err := scanPartitionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: failed to read existing partition: %w", err)
	}
	return rec, nil
}

// RetireContained deletes records fully contained in r and queues their
// files for deferred deletion, all in one transaction. The metadata delete
// commits before any file is touched, so a reader listing metadata after
// the transaction never sees a row pointing at a missing file.
func (c *SQLiteCatalog) RetireContained(ctx context.Context, viewSetName, viewInstanceID string, r types.TimeRange) ([]TemporaryFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("metastore: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	retired, err := c.listContainedTx(ctx, tx, viewSetName, viewInstanceID, r)
	if err != nil {
		return nil, err
	}

	expiration := time.Now().Add(c.retireGrace)
	var files []TemporaryFile
	for _, rec := range retired {
		if err := queueTemporaryFileTx(ctx, tx, rec.FilePath, rec.FileSize, expiration); err != nil {
			return nil, err
		}
		files = append(files, TemporaryFile{FilePath: rec.FilePath, FileSize: rec.FileSize, Expiration: expiration})
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM lakehouse_partitions
		WHERE view_set_name = ? AND view_instance_id = ?
			AND begin_insert_time >= ? AND end_insert_time <= ?`,
		viewSetName, viewInstanceID, r.Begin.UnixNano(), r.End.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("metastore: failed to delete retired partitions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("metastore: failed to commit retirement: %w", err)
	}

	return files, nil
}

// retireContainedTx supersedes contained records inside an existing
// transaction, as part of a partition insert.
func (c *SQLiteCatalog) retireContainedTx(ctx context.Context, tx *sql.Tx, viewSetName, viewInstanceID string, r types.TimeRange, expiration time.Time) error {
	retired, err := c.listContainedTx(ctx, tx, viewSetName, viewInstanceID, r)
	if err != nil {
		return err
	}

	for _, rec := range retired {
		if err := queueTemporaryFileTx(ctx, tx, rec.FilePath, rec.FileSize, expiration); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM lakehouse_partitions
		WHERE view_set_name = ? AND view_instance_id = ?
			AND begin_insert_time >= ? AND end_insert_time <= ?`,
		viewSetName, viewInstanceID, r.Begin.UnixNano(), r.End.UnixNano())
	if err != nil {
		return fmt.Errorf("metastore: failed to delete superseded partitions: %w", err)
	}
	return nil
}

// listContainedTx lists records fully contained in r.
func (c *SQLiteCatalog) listContainedTx(ctx context.Context, tx *sql.Tx, viewSetName, viewInstanceID string, r types.TimeRange) ([]*PartitionRecord, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+partitionColumns+`
		FROM lakehouse_partitions
		WHERE view_set_name = ? AND view_instance_id = ?
			AND begin_insert_time >= ? AND end_insert_time <= ?`,
		viewSetName, viewInstanceID, r.Begin.UnixNano(), r.End.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("metastore: failed to list contained partitions: %w", err)
	}
	defer rows.Close()

	return scanPartitionRecords(rows)
}

// QueueTemporaryFile adds a file to the deferred-deletion queue.
func (c *SQLiteCatalog) QueueTemporaryFile(ctx context.Context, filePath string, fileSize int64, expiration time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metastore: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := queueTemporaryFileTx(ctx, tx, filePath, fileSize, expiration); err != nil {
		return err
	}
	return tx.Commit()
}

func queueTemporaryFileTx(ctx context.Context, tx *sql.Tx, filePath string, fileSize int64, expiration time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO temporary_files (file_path, file_size, expiration) VALUES (?, ?, ?)`,
		filePath, fileSize, expiration.UnixNano())
	if err != nil {
		return fmt.Errorf("metastore: failed to queue temporary file: %w", err)
	}
	return nil
}

// TakeExpiredTemporaryFiles removes and returns expired queue entries.
// The sweeper re-queues any file whose object delete subsequently fails.
func (c *SQLiteCatalog) TakeExpiredTemporaryFiles(ctx context.Context, now time.Time) ([]TemporaryFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("metastore: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT file_path, file_size, expiration FROM temporary_files WHERE expiration <= ?`,
		now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("metastore: failed to query temporary files: %w", err)
	}

	var files []TemporaryFile
	for rows.Next() {
		var f TemporaryFile
		var expNanos int64
		if err := rows.Scan(&f.FilePath, &f.FileSize, &expNanos); err != nil {
			rows.Close()
			return nil, fmt.Errorf("metastore: failed to scan temporary file: %w", err)
		}
		f.Expiration = time.Unix(0, expNanos).UTC()
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("metastore: error iterating temporary files: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM temporary_files WHERE expiration <= ?`, now.UnixNano()); err != nil {
		return nil, fmt.Errorf("metastore: failed to delete temporary files: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("metastore: failed to commit temporary file take: %w", err)
	}

	return files, nil
}

// RegisterViewSchema records a view's fingerprint and schema for auditing.
func (c *SQLiteCatalog) RegisterViewSchema(ctx context.Context, viewSetName, fingerprint, schemaJSON string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO view_schemas (view_set_name, schema_fingerprint, schema_json, created_at)
		 VALUES (?, ?, ?, ?)`,
		viewSetName, fingerprint, schemaJSON, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("metastore: failed to register view schema: %w", err)
	}
	return nil
}

// ListView returns all records for a view, optionally filtered by instance.
func (c *SQLiteCatalog) ListView(ctx context.Context, viewSetName, viewInstanceID string) ([]*PartitionRecord, error) {
	query := `
		SELECT ` + partitionColumns + `
		FROM lakehouse_partitions
		WHERE view_set_name = ?`
	args := []interface{}{viewSetName}

	if viewInstanceID != "" {
		query += ` AND view_instance_id = ?`
		args = append(args, viewInstanceID)
	}
	query += ` ORDER BY view_instance_id, begin_insert_time ASC`

	rows, err := c.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("metastore: failed to list view partitions: %w", err)
	}
	defer rows.Close()

	return scanPartitionRecords(rows)
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	if c.insertPartitionStmt != nil {
		c.insertPartitionStmt.Close()
	}
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPartition(s rowScanner) (*PartitionRecord, error) {
	var rec PartitionRecord
	var beginNanos, endNanos, minEventNanos, maxEventNanos, createdNanos int64

	err := s.Scan(
		&rec.ViewSetName, &rec.ViewInstanceID,
		&beginNanos, &endNanos,
		&minEventNanos, &maxEventNanos,
		&rec.FilePath, &rec.FileSize, &rec.RowCount, &rec.SourceEventCount,
		&rec.SchemaFingerprint, &createdNanos,
	)
	if err != nil {
		return nil, err
	}

	rec.BeginInsertTime = time.Unix(0, beginNanos).UTC()
	rec.EndInsertTime = time.Unix(0, endNanos).UTC()
	rec.MinEventTime = time.Unix(0, minEventNanos).UTC()
	rec.MaxEventTime = time.Unix(0, maxEventNanos).UTC()
	rec.CreatedAt = time.Unix(0, createdNanos).UTC()
	return &rec, nil
}

func scanPartitionRow(row *sql.Row) (*PartitionRecord, error) {
	return scanPartition(row)
}

func scanPartitionRecords(rows *sql.Rows) ([]*PartitionRecord, error) {
	var records []*PartitionRecord
	for rows.Next() {
		rec, err := scanPartition(rows)
		if err != nil {
			return nil, fmt.Errorf("metastore: failed to scan partition: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metastore: error iterating partitions: %w", err)
	}
	return records, nil
}
