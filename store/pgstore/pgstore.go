// Package pgstore adapts a PostgreSQL database to the store contracts using
// pgx v5 with a connection pool. Like mysqlstore, one type serves both the
// source and local roles.
package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/dbtable"
	"github.com/dbpull/dbpull/retry"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

var timestampColumnNames = []string{
	"updated_at",
	"modified_at",
	"last_modified",
	"last_updated",
}

type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

var (
	_ store.SourceReader = (*Store)(nil)
	_ store.LocalStore   = (*Store)(nil)
)

func New(ctx context.Context, connStr string, logger zerolog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "error opening postgres pool"), retry.ErrConnection)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Mark(errors.Wrap(err, "error connecting to postgres"), retry.ErrConnection)
	}
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) TableNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
ORDER BY table_name`)
	if err != nil {
		return nil, errors.Wrap(err, "error listing tables")
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) GetTableSchema(ctx context.Context, table string) (*dbtable.TableSchema, error) {
	cols, err := s.columns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, nil
	}

	pk, err := s.primaryKey(ctx, table)
	if err != nil {
		return nil, err
	}
	pkSet := make(map[string]struct{}, len(pk))
	for _, col := range pk {
		pkSet[col] = struct{}{}
	}
	for i := range cols {
		if _, ok := pkSet[cols[i].Name]; ok {
			cols[i].Key = "PRI"
		}
	}

	indexes, err := s.indexes(ctx, table)
	if err != nil {
		return nil, err
	}

	schema := &dbtable.TableSchema{
		Name:    table,
		Columns: cols,
		Indexes: indexes,
	}
	schema.CreateStatement = synthesizeCreate(schema, pk)
	return schema, nil
}

func (s *Store) columns(ctx context.Context, table string) ([]dbtable.Column, error) {
	rows, err := s.pool.Query(ctx, `
SELECT column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = $1
ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, errors.Wrapf(err, "error introspecting columns of %s", table)
	}
	defer rows.Close()
	var cols []dbtable.Column
	for rows.Next() {
		var col dbtable.Column
		var nullable string
		var def *string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &def); err != nil {
			return nil, err
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		col.Default = def
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (s *Store) primaryKey(ctx context.Context, table string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT a.attname
FROM pg_index i
JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum
WHERE i.indrelid = $1::regclass AND i.indisprimary
ORDER BY k.ord`, table)
	if err != nil {
		return nil, errors.Wrapf(err, "error introspecting primary key of %s", table)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) indexes(ctx context.Context, table string) ([]dbtable.Index, error) {
	rows, err := s.pool.Query(ctx, `
SELECT c.relname, i.indisunique, array_agg(a.attname ORDER BY k.ord)
FROM pg_index i
JOIN pg_class c ON c.oid = i.indexrelid
JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum
WHERE i.indrelid = $1::regclass AND NOT i.indisprimary
GROUP BY c.relname, i.indisunique
ORDER BY c.relname`, table)
	if err != nil {
		return nil, errors.Wrapf(err, "error introspecting indexes of %s", table)
	}
	defer rows.Close()
	var indexes []dbtable.Index
	for rows.Next() {
		var idx dbtable.Index
		if err := rows.Scan(&idx.Name, &idx.Unique, &idx.Columns); err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

// synthesizeCreate builds creation DDL from the snapshot; Postgres has no
// SHOW CREATE TABLE equivalent.
func synthesizeCreate(schema *dbtable.TableSchema, pk []string) string {
	defs := make([]string, 0, len(schema.Columns)+1)
	for _, col := range schema.Columns {
		defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(col.Name), col.Definition()))
	}
	if len(pk) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteIdentList(pk)))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(schema.Name), strings.Join(defs, ", "))
}

func (s *Store) CheckTimestampColumns(ctx context.Context, table string) ([]string, error) {
	cols, err := s.columns(ctx, table)
	if err != nil {
		return nil, err
	}
	isTimeType := func(c dbtable.Column) bool {
		return strings.HasPrefix(strings.ToLower(c.Type), "timestamp")
	}
	var candidates []string
	for _, want := range timestampColumnNames {
		for _, c := range cols {
			if strings.EqualFold(c.Name, want) && isTimeType(c) {
				candidates = append(candidates, c.Name)
			}
		}
	}
	return candidates, nil
}

func (s *Store) GetRowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(
		ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table)),
	).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "error counting rows of %s", table)
	}
	return count, nil
}

func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM information_schema.tables
  WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists); err != nil {
		return false, errors.Wrapf(err, "error checking table %s", table)
	}
	return exists, nil
}

func (s *Store) GetMaxTimestamp(
	ctx context.Context, table string, column string,
) (row.Value, bool, error) {
	var max *time.Time
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT MAX(%s) FROM %s", quoteIdent(column), quoteIdent(table),
	)).Scan(&max); err != nil {
		return row.Null(), false, errors.Wrapf(err, "error reading max %s of %s", column, table)
	}
	if max == nil {
		return row.Null(), false, nil
	}
	return row.Timestamp(*max), true, nil
}

func (s *Store) GetRowsByPrimaryKey(
	ctx context.Context, table string, pkCols []string, keys [][]row.Value,
) ([]row.Row, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cols, err := s.columnNames(ctx, table)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	var args []any
	fmt.Fprintf(&sb, "SELECT %s FROM %s WHERE ", quoteIdentList(cols), quoteIdent(table))
	for i, key := range keys {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteString("(")
		for j, col := range pkCols {
			if j > 0 {
				sb.WriteString(" AND ")
			}
			args = append(args, key[j].Arg())
			fmt.Fprintf(&sb, "%s = $%d", quoteIdent(col), len(args))
		}
		sb.WriteString(")")
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "error batch fetching rows of %s", table)
	}
	defer rows.Close()
	conv := newRowConverter(rows)
	var ret []row.Row
	for rows.Next() {
		r, err := conv.scanRow(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, r)
	}
	return ret, rows.Err()
}

func (s *Store) GetRowByPrimaryKey(
	ctx context.Context, table string, pkCols []string, key []row.Value,
) (row.Row, bool, error) {
	matches, err := s.GetRowsByPrimaryKey(ctx, table, pkCols, [][]row.Value{key})
	if err != nil {
		return row.Row{}, false, err
	}
	if len(matches) == 0 {
		return row.Row{}, false, nil
	}
	return matches[0], true, nil
}

func (s *Store) columnNames(ctx context.Context, table string) ([]string, error) {
	cols, err := s.columns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, errors.Newf("table %s does not exist", table)
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return names, nil
}

func (s *Store) ExecuteSchema(ctx context.Context, stmt string) error {
	s.logger.Debug().Str("sql", stmt).Msgf("executing schema statement")
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return errors.Wrapf(err, "error executing %q", stmt)
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error starting transaction")
	}
	return &storeTx{tx: tx}, nil
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteIdentList(idents []string) string {
	quoted := make([]string, len(idents))
	for i, ident := range idents {
		quoted[i] = quoteIdent(ident)
	}
	return strings.Join(quoted, ", ")
}
