// Package metastore provides the partition metadata catalog.
package metastore

// Schema contains the SQL schema definitions for the metastore catalog.
// The catalog is a SQLite database that serves as the single source of
// truth for which partitions exist: backing files are addressed only via
// catalog rows, never discovered by listing object storage.

// CreatePartitionsTableSQL creates the core partitions table.
// One row per materialized partition file, keyed by the partition
// identity (view_set_name, view_instance_id, begin_insert_time,
// end_insert_time). The primary key is what makes the insert-if-absent
// a compare-and-set: at most one row can win for a given identity.
const CreatePartitionsTableSQL = `
CREATE TABLE IF NOT EXISTS lakehouse_partitions (
    view_set_name TEXT NOT NULL,
    view_instance_id TEXT NOT NULL,
    begin_insert_time INTEGER NOT NULL,
    end_insert_time INTEGER NOT NULL,
    min_event_time INTEGER,
    max_event_time INTEGER,
    file_path TEXT NOT NULL UNIQUE,
    file_size INTEGER NOT NULL,
    row_count INTEGER NOT NULL,
    source_event_count INTEGER NOT NULL DEFAULT 0,
    schema_fingerprint TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (view_set_name, view_instance_id, begin_insert_time, end_insert_time)
)`

// CreatePartitionsIndexesSQL creates indexes for overlap queries.
var CreatePartitionsIndexesSQL = []string{
	// Index for insert-time overlap scans within a view/instance
	`CREATE INDEX IF NOT EXISTS idx_partitions_view_range
		ON lakehouse_partitions(view_set_name, view_instance_id, begin_insert_time, end_insert_time)`,

	// Index for age-based administration
	`CREATE INDEX IF NOT EXISTS idx_partitions_created
		ON lakehouse_partitions(created_at)`,
}

// CreateTemporaryFilesTableSQL creates the deferred-deletion queue.
// Retired partition files land here with an expiration timestamp instead
// of being deleted inline, so readers already holding a file finish
// undisturbed. The GC sweeper drains expired rows and deletes the objects.
const CreateTemporaryFilesTableSQL = `
CREATE TABLE IF NOT EXISTS temporary_files (
    file_path TEXT PRIMARY KEY,
    file_size INTEGER NOT NULL,
    expiration INTEGER NOT NULL
)`

// CreateTemporaryFilesIndexSQL creates an index for expiration scans.
const CreateTemporaryFilesIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_temporary_expiration ON temporary_files(expiration)`

// CreateViewSchemasTableSQL creates the view schema audit table.
// Every fingerprint a view has ever been registered with is recorded here
// together with its schema JSON, so operators can tell which schema
// produced an old partition.
const CreateViewSchemasTableSQL = `
CREATE TABLE IF NOT EXISTS view_schemas (
    view_set_name TEXT NOT NULL,
    schema_fingerprint TEXT NOT NULL,
    schema_json TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (view_set_name, schema_fingerprint)
)`

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreatePartitionsTableSQL,
		CreateTemporaryFilesTableSQL,
		CreateTemporaryFilesIndexSQL,
		CreateViewSchemasTableSQL,
	}
	statements = append(statements, CreatePartitionsIndexesSQL...)
	return statements
}
