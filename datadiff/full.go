package datadiff

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/retry"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/store"
)

// fullReplaceDiff handles tables without a primary key: there is no row
// identity to match on, so the whole local table is treated as stale and
// the remote snapshot is carried for wholesale replacement.
func fullReplaceDiff(
	ctx context.Context,
	source store.SourceReader,
	local store.LocalStore,
	table string,
	remoteCount int64,
	localExists bool,
	opts Options,
) (Diff, error) {
	diff := Diff{
		Table:       table,
		Strategy:    StrategyFullReplace,
		FullReplace: true,
	}
	diff.Stats.RemoteRows = remoteCount

	if localExists {
		if err := retry.Do(ctx, opts.RetrySettings, opts.Logger, func(ctx context.Context) error {
			var err error
			diff.Stats.LocalRows, err = local.GetRowCount(ctx, table)
			return err
		}); err != nil {
			return Diff{}, errors.Wrapf(err, "error counting local rows for %s", table)
		}
	}

	rows, err := fetchAll(ctx, source, table, nil, opts)
	if err != nil {
		return Diff{}, err
	}
	diff.ReplacementRows = rows
	diff.Stats.RowsScanned = int64(len(rows))
	diff.Stats.Inserts = len(rows)
	return diff, nil
}

// firstSyncDiff streams every remote row as an insert. It serves tables
// missing locally and the incremental fallback for an empty local table.
func firstSyncDiff(
	ctx context.Context,
	source store.SourceReader,
	table string,
	pk []string,
	remoteCount int64,
	opts Options,
) (Diff, error) {
	diff := Diff{
		Table:      table,
		PrimaryKey: pk,
		Strategy:   StrategyFirstSync,
	}
	diff.Stats.RemoteRows = remoteCount

	rows, err := fetchAll(ctx, source, table, pk, opts)
	if err != nil {
		return Diff{}, err
	}
	diff.ToInsert = rows
	diff.Stats.RowsScanned = int64(len(rows))
	diff.Stats.Inserts = len(rows)
	return diff, nil
}

func fetchAll(
	ctx context.Context,
	source store.SourceReader,
	table string,
	orderBy []string,
	opts Options,
) ([]row.Row, error) {
	var it store.ChunkIterator
	if err := retry.Do(ctx, opts.RetrySettings, opts.Logger, func(ctx context.Context) error {
		var err error
		it, err = source.GetTableDataChunked(ctx, table, opts.ChunkSize, orderBy)
		return err
	}); err != nil {
		return nil, errors.Wrapf(err, "error starting remote scan of %s", table)
	}
	defer it.Close()
	var rows []row.Row
	for it.HasNext(ctx) {
		if opts.RateLimiter != nil {
			if err := opts.RateLimiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		rows = append(rows, it.Next(ctx)...)
	}
	if err := it.Err(); err != nil {
		return nil, errors.Wrapf(err, "error scanning remote rows of %s", table)
	}
	return rows, nil
}
