// Package mysqlstore adapts a MySQL database to the store contracts using
// database/sql with the go-sql-driver driver. The same type serves as
// remote source and local store; the caller chooses which contract to hold
// it behind.
package mysqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/dbtable"
	"github.com/dbpull/dbpull/mysqlurl"
	"github.com/dbpull/dbpull/retry"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/store"
	_ "github.com/go-sql-driver/mysql" // register the driver
	"github.com/rs/zerolog"
)

// timestampColumnNames are the modification-timestamp column names
// recognized for incremental diffing, in preference order.
var timestampColumnNames = []string{
	"updated_at",
	"modified_at",
	"last_modified",
	"last_updated",
}

type Store struct {
	db     *sql.DB
	dbName string
	logger zerolog.Logger

	mu struct {
		sync.Mutex
		// columns caches introspected column names per table for query
		// building. Invalidated never; schema changes within a run go
		// through ExecuteSchema before any row reads of the new shape.
		columns map[string][]string
	}
}

var (
	_ store.SourceReader = (*Store)(nil)
	_ store.LocalStore   = (*Store)(nil)
)

// New connects and verifies the connection. The connection string may be a
// driver DSN or a mysql:// URL; either way it is normalized so time values
// always scan as time.Time.
func New(ctx context.Context, connStr string, logger zerolog.Logger) (*Store, error) {
	cfg, err := mysqlurl.Parse(connStr)
	if err != nil {
		return nil, errors.Mark(err, retry.ErrConnection)
	}
	cfg.ParseTime = true
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "error opening mysql connection"), retry.ErrConnection)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Mark(errors.Wrapf(err, "error connecting to %s", cfg.Addr), retry.ErrConnection)
	}
	s := &Store{db: db, dbName: cfg.DBName, logger: logger}
	s.mu.columns = make(map[string][]string)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) TableNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = ? AND table_type = 'BASE TABLE'
ORDER BY table_name`, s.dbName)
	if err != nil {
		return nil, errors.Wrap(err, "error listing tables")
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) GetTableSchema(ctx context.Context, table string) (*dbtable.TableSchema, error) {
	cols, err := s.columns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, nil
	}
	indexes, err := s.indexes(ctx, table)
	if err != nil {
		return nil, err
	}
	createStmt, err := s.showCreateTable(ctx, table)
	if err != nil {
		return nil, err
	}

	schema := &dbtable.TableSchema{
		Name:            table,
		Columns:         cols,
		Indexes:         indexes,
		CreateStatement: createStmt,
	}
	s.mu.Lock()
	s.mu.columns[table] = schema.ColumnNames()
	s.mu.Unlock()
	return schema, nil
}

func (s *Store) columns(ctx context.Context, table string) ([]dbtable.Column, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT column_name, column_type, is_nullable, column_default, extra, column_key
FROM information_schema.columns
WHERE table_schema = ? AND table_name = ?
ORDER BY ordinal_position`, s.dbName, table)
	if err != nil {
		return nil, errors.Wrapf(err, "error introspecting columns of %s", table)
	}
	defer rows.Close()
	var cols []dbtable.Column
	for rows.Next() {
		var col dbtable.Column
		var nullable string
		var def sql.NullString
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &def, &col.Extra, &col.Key); err != nil {
			return nil, err
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		if def.Valid {
			v := def.String
			col.Default = &v
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (s *Store) indexes(ctx context.Context, table string) ([]dbtable.Index, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT index_name, column_name, non_unique
FROM information_schema.statistics
WHERE table_schema = ? AND table_name = ?
ORDER BY index_name, seq_in_index`, s.dbName, table)
	if err != nil {
		return nil, errors.Wrapf(err, "error introspecting indexes of %s", table)
	}
	defer rows.Close()
	var indexes []dbtable.Index
	for rows.Next() {
		var name, col string
		var nonUnique int
		if err := rows.Scan(&name, &col, &nonUnique); err != nil {
			return nil, err
		}
		if n := len(indexes); n > 0 && indexes[n-1].Name == name {
			indexes[n-1].Columns = append(indexes[n-1].Columns, col)
			continue
		}
		indexes = append(indexes, dbtable.Index{
			Name:    name,
			Columns: []string{col},
			Unique:  nonUnique == 0,
		})
	}
	return indexes, rows.Err()
}

func (s *Store) showCreateTable(ctx context.Context, table string) (string, error) {
	var name, stmt string
	if err := s.db.QueryRowContext(
		ctx, fmt.Sprintf("SHOW CREATE TABLE %s", quoteIdent(table)),
	).Scan(&name, &stmt); err != nil {
		return "", errors.Wrapf(err, "error reading create statement of %s", table)
	}
	return stmt, nil
}

func (s *Store) CheckTimestampColumns(ctx context.Context, table string) ([]string, error) {
	cols, err := s.columns(ctx, table)
	if err != nil {
		return nil, err
	}
	isTimeType := func(c dbtable.Column) bool {
		t := strings.ToLower(c.Type)
		return strings.HasPrefix(t, "timestamp") || strings.HasPrefix(t, "datetime")
	}
	var candidates []string
	seen := make(map[string]struct{})
	for _, want := range timestampColumnNames {
		for _, c := range cols {
			if strings.EqualFold(c.Name, want) && isTimeType(c) {
				candidates = append(candidates, c.Name)
				seen[c.Name] = struct{}{}
			}
		}
	}
	// Columns the server maintains itself qualify regardless of name.
	for _, c := range cols {
		if _, ok := seen[c.Name]; ok {
			continue
		}
		if isTimeType(c) && strings.Contains(strings.ToLower(c.Extra), "on update current_timestamp") {
			candidates = append(candidates, c.Name)
		}
	}
	return candidates, nil
}

func (s *Store) GetRowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(
		ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table)),
	).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "error counting rows of %s", table)
	}
	return count, nil
}

func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM information_schema.tables
WHERE table_schema = ? AND table_name = ?`, s.dbName, table).Scan(&count); err != nil {
		return false, errors.Wrapf(err, "error checking table %s", table)
	}
	return count > 0, nil
}

func (s *Store) GetMaxTimestamp(
	ctx context.Context, table string, column string,
) (row.Value, bool, error) {
	var max sql.NullTime
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT MAX(%s) FROM %s", quoteIdent(column), quoteIdent(table),
	)).Scan(&max); err != nil {
		return row.Null(), false, errors.Wrapf(err, "error reading max %s of %s", column, table)
	}
	if !max.Valid {
		return row.Null(), false, nil
	}
	return row.Timestamp(max.Time), true, nil
}

// columnNames returns the cached column list, introspecting on first use.
func (s *Store) columnNames(ctx context.Context, table string) ([]string, error) {
	s.mu.Lock()
	cached, ok := s.mu.columns[table]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}
	schema, err := s.GetTableSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, errors.Newf("table %s does not exist", table)
	}
	return schema.ColumnNames(), nil
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
	if len(pkCols) == 1 {
		fmt.Fprintf(&sb, "%s IN (%s)", quoteIdent(pkCols[0]), placeholders(len(keys)))
		for _, key := range keys {
			args = append(args, key[0].Arg())
		}
	} else {
		for i, key := range keys {
			if i > 0 {
				sb.WriteString(" OR ")
			}
			sb.WriteString("(")
			for j, col := range pkCols {
				if j > 0 {
					sb.WriteString(" AND ")
				}
				fmt.Fprintf(&sb, "%s = ?", quoteIdent(col))
				args = append(args, key[j].Arg())
			}
			sb.WriteString(")")
		}
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "error batch fetching rows of %s", table)
	}
	defer rows.Close()
	conv, err := newRowConverter(rows)
	if err != nil {
		return nil, err
	}
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

func (s *Store) ExecuteSchema(ctx context.Context, stmt string) error {
	s.logger.Debug().Str("sql", stmt).Msgf("executing schema statement")
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "error executing %q", stmt)
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "error starting transaction")
	}
	return &storeTx{tx: tx}, nil
}

func quoteIdent(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func quoteIdentList(idents []string) string {
	quoted := make([]string, len(idents))
	for i, ident := range idents {
		quoted[i] = quoteIdent(ident)
	}
	return strings.Join(quoted, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
