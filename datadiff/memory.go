package datadiff

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/retry"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/store"
)

// memoryDiff is the legacy variant that materializes both sides keyed by
// primary key. It produces the same result as streamingDiff but holds both
// tables in memory, so it is only acceptable for small tables.
func memoryDiff(
	ctx context.Context,
	source store.SourceReader,
	local store.LocalStore,
	table string,
	pk []string,
	remoteCount int64,
	opts Options,
) (Diff, error) {
	diff := Diff{
		Table:      table,
		PrimaryKey: pk,
		Strategy:   StrategyStreaming,
	}
	diff.Stats.RemoteRows = remoteCount

	remoteRows, err := fetchAll(ctx, source, table, pk, opts)
	if err != nil {
		return Diff{}, err
	}
	diff.Stats.RowsScanned = int64(len(remoteRows))

	var localIt store.ChunkIterator
	if err := retry.Do(ctx, opts.RetrySettings, opts.Logger, func(ctx context.Context) error {
		var err error
		localIt, err = local.GetTableDataChunked(ctx, table, opts.ChunkSize, pk)
		return err
	}); err != nil {
		return Diff{}, errors.Wrapf(err, "error starting local scan of %s", table)
	}
	defer localIt.Close()
	var localRows []row.Row
	for localIt.HasNext(ctx) {
		localRows = append(localRows, localIt.Next(ctx)...)
	}
	if err := localIt.Err(); err != nil {
		return Diff{}, errors.Wrapf(err, "error scanning local rows of %s", table)
	}
	diff.Stats.LocalRows = int64(len(localRows))

	localByKey := make(map[string]row.Row, len(localRows))
	for _, localRow := range localRows {
		localByKey[localRow.PKString(pk)] = localRow
	}

	seen := make(map[string]struct{}, len(remoteRows))
	for _, remoteRow := range remoteRows {
		key := remoteRow.PKString(pk)
		seen[key] = struct{}{}
		localRow, ok := localByKey[key]
		if !ok {
			diff.ToInsert = append(diff.ToInsert, remoteRow)
			continue
		}
		if !remoteRow.Equal(localRow) {
			diff.ToUpdate = append(diff.ToUpdate, RowUpdate{
				Row:            remoteRow,
				ChangedColumns: row.ChangedColumns(remoteRow, localRow),
			})
		}
	}
	for _, localRow := range localRows {
		if _, ok := seen[localRow.PKString(pk)]; !ok {
			diff.ToDelete = append(diff.ToDelete, localRow.Project(pk))
		}
	}

	diff.Stats.Inserts = len(diff.ToInsert)
	diff.Stats.Updates = len(diff.ToUpdate)
	diff.Stats.Deletes = len(diff.ToDelete)
	return diff, nil
}
