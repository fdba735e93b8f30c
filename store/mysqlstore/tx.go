package mysqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/store"
)

type storeTx struct {
	tx *sql.Tx
}

var _ store.Tx = (*storeTx)(nil)

func (t *storeTx) InsertRows(ctx context.Context, table string, rows []row.Row) error {
	if len(rows) == 0 {
		return nil
	}
	cols := rows[0].Columns()
	tuple := "(" + placeholders(len(cols)) + ")"
	values := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(cols))
	for i, r := range rows {
		values[i] = tuple
		for _, col := range cols {
			v, _ := r.Get(col)
			args = append(args, v.Arg())
		}
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s",
		quoteIdent(table), quoteIdentList(cols), strings.Join(values, ", "),
	)
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "error inserting %d rows into %s", len(rows), table)
	}
	return nil
}

func (t *storeTx) UpdateRow(
	ctx context.Context, table string, r row.Row, changedCols []string, pkCols []string,
) error {
	if len(changedCols) == 0 {
		return nil
	}
	sets := make([]string, len(changedCols))
	args := make([]any, 0, len(changedCols)+len(pkCols))
	for i, col := range changedCols {
		sets[i] = fmt.Sprintf("%s = ?", quoteIdent(col))
		v, _ := r.Get(col)
		args = append(args, v.Arg())
	}
	wheres := make([]string, len(pkCols))
	for i, col := range pkCols {
		wheres[i] = fmt.Sprintf("%s = ?", quoteIdent(col))
		v, _ := r.Get(col)
		args = append(args, v.Arg())
	}
	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s",
		quoteIdent(table), strings.Join(sets, ", "), strings.Join(wheres, " AND "),
	)
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "error updating row %s in %s", r.PKString(pkCols), table)
	}
	return nil
}

func (t *storeTx) DeleteRow(
	ctx context.Context, table string, pkCols []string, keyVals []row.Value,
) error {
	wheres := make([]string, len(pkCols))
	args := make([]any, len(pkCols))
	for i, col := range pkCols {
		wheres[i] = fmt.Sprintf("%s = ?", quoteIdent(col))
		args[i] = keyVals[i].Arg()
	}
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE %s",
		quoteIdent(table), strings.Join(wheres, " AND "),
	)
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "error deleting row from %s", table)
	}
	return nil
}

func (t *storeTx) DeleteAllRows(ctx context.Context, table string) error {
	// DELETE rather than TRUNCATE: TRUNCATE implicitly commits in MySQL and
	// would break the surrounding transaction.
	if _, err := t.tx.ExecContext(
		ctx, fmt.Sprintf("DELETE FROM %s", quoteIdent(table)),
	); err != nil {
		return errors.Wrapf(err, "error clearing %s", table)
	}
	return nil
}

func (t *storeTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *storeTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
