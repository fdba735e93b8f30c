// Package store defines the read and write contracts the diff and apply
// phases consume. Adapters for concrete databases live in subpackages; the
// core never issues SQL itself.
package store

import (
	"context"

	"github.com/dbpull/dbpull/dbtable"
	"github.com/dbpull/dbpull/row"
)

// ChunkIterator is a pull-based, finite, non-restartable sequence of row
// batches ordered by primary key. Each call suspends the caller until the
// chunk completes; a fresh diff pass must restart the whole table rather
// than resume mid-sequence.
type ChunkIterator interface {
	// HasNext blocks until the next chunk is available or the sequence is
	// exhausted.
	HasNext(ctx context.Context) bool
	// Next returns the next chunk. Only valid after HasNext returned true.
	Next(ctx context.Context) []row.Row
	// Err returns the error that terminated the sequence, if any.
	Err() error
	// Close releases the sequence's resources. It must be called when the
	// caller stops before exhaustion and is safe to call at any point.
	Close()
}

// SourceReader is the read-only surface of a database. The remote
// production handle only ever appears behind this interface, so a remote
// write cannot be expressed.
type SourceReader interface {
	// TableNames lists base tables in name order.
	TableNames(ctx context.Context) ([]string, error)
	// GetTableSchema snapshots one table's structure. Returns nil (no
	// error) if the table does not exist.
	GetTableSchema(ctx context.Context, table string) (*dbtable.TableSchema, error)
	// CheckTimestampColumns returns candidate modification-timestamp
	// columns for the table, in preference order.
	CheckTimestampColumns(ctx context.Context, table string) ([]string, error)
	GetRowCount(ctx context.Context, table string) (int64, error)
	// GetTableDataChunked streams the table in chunks of chunkSize rows
	// ordered by orderBy. An empty orderBy streams in storage order.
	GetTableDataChunked(ctx context.Context, table string, chunkSize int, orderBy []string) (ChunkIterator, error)
	// GetModifiedRows streams rows whose column value is strictly greater
	// than since.
	GetModifiedRows(ctx context.Context, table string, column string, since row.Value) (ChunkIterator, error)
}

// Tx is one local transaction. Any error inside the transaction must be
// followed by Rollback; a failed Rollback leaves local state of unknown
// consistency and is fatal.
type Tx interface {
	InsertRows(ctx context.Context, table string, rows []row.Row) error
	// UpdateRow updates changedCols of the row identified by its primary
	// key columns.
	UpdateRow(ctx context.Context, table string, r row.Row, changedCols []string, pkCols []string) error
	DeleteRow(ctx context.Context, table string, pkCols []string, keyVals []row.Value) error
	DeleteAllRows(ctx context.Context, table string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// LocalStore is the local development database: everything a SourceReader
// offers plus lookups and the write surface used during apply.
type LocalStore interface {
	SourceReader

	TableExists(ctx context.Context, table string) (bool, error)
	// GetMaxTimestamp returns the maximum value of the column, reporting
	// ok=false for an empty table.
	GetMaxTimestamp(ctx context.Context, table string, column string) (row.Value, bool, error)
	// GetRowsByPrimaryKey batch-fetches the rows matching the given key
	// value tuples in one query. Missing keys are simply absent from the
	// result.
	GetRowsByPrimaryKey(ctx context.Context, table string, pkCols []string, keys [][]row.Value) ([]row.Row, error)
	// GetRowByPrimaryKey point-looks-up one row; ok=false when absent.
	GetRowByPrimaryKey(ctx context.Context, table string, pkCols []string, key []row.Value) (row.Row, bool, error)

	ExecuteSchema(ctx context.Context, sql string) error
	Begin(ctx context.Context) (Tx, error)
}
