package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/store"
	"github.com/jackc/pgx/v5"
)

type storeTx struct {
	tx pgx.Tx
}

var _ store.Tx = (*storeTx)(nil)

func (t *storeTx) InsertRows(ctx context.Context, table string, rows []row.Row) error {
	if len(rows) == 0 {
		return nil
	}
	cols := rows[0].Columns()
	values := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(cols))
	for i, r := range rows {
		nums := make([]string, len(cols))
		for j, col := range cols {
			v, _ := r.Get(col)
			args = append(args, v.Arg())
			nums[j] = fmt.Sprintf("$%d", len(args))
		}
		values[i] = "(" + strings.Join(nums, ", ") + ")"
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s",
		quoteIdent(table), quoteIdentList(cols), strings.Join(values, ", "),
	)
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
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
	var args []any
	sets := make([]string, len(changedCols))
	for i, col := range changedCols {
		v, _ := r.Get(col)
		args = append(args, v.Arg())
		sets[i] = fmt.Sprintf("%s = $%d", quoteIdent(col), len(args))
	}
	wheres := make([]string, len(pkCols))
	for i, col := range pkCols {
		v, _ := r.Get(col)
		args = append(args, v.Arg())
		wheres[i] = fmt.Sprintf("%s = $%d", quoteIdent(col), len(args))
	}
	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s",
		quoteIdent(table), strings.Join(sets, ", "), strings.Join(wheres, " AND "),
	)
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "error updating row %s in %s", r.PKString(pkCols), table)
	}
	return nil
}

func (t *storeTx) DeleteRow(
	ctx context.Context, table string, pkCols []string, keyVals []row.Value,
) error {
	var args []any
	wheres := make([]string, len(pkCols))
	for i, col := range pkCols {
		args = append(args, keyVals[i].Arg())
		wheres[i] = fmt.Sprintf("%s = $%d", quoteIdent(col), len(args))
	}
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE %s",
		quoteIdent(table), strings.Join(wheres, " AND "),
	)
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "error deleting row from %s", table)
	}
	return nil
}

func (t *storeTx) DeleteAllRows(ctx context.Context, table string) error {
	if _, err := t.tx.Exec(
		ctx, fmt.Sprintf("DELETE FROM %s", quoteIdent(table)),
	); err != nil {
		return errors.Wrapf(err, "error clearing %s", table)
	}
	return nil
}

func (t *storeTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *storeTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
