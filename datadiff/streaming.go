package datadiff

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/retry"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/store"
)

// streamingDiff reads remote rows in primary-key-ordered chunks, batch
// looks up the matching local rows per chunk, and accumulates only the
// remote primary key strings, bounding memory to one chunk of full rows
// plus one key-string set.
func streamingDiff(
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

	if err := retry.Do(ctx, opts.RetrySettings, opts.Logger, func(ctx context.Context) error {
		var err error
		diff.Stats.LocalRows, err = local.GetRowCount(ctx, table)
		return err
	}); err != nil {
		return Diff{}, errors.Wrapf(err, "error counting local rows for %s", table)
	}

	var it store.ChunkIterator
	if err := retry.Do(ctx, opts.RetrySettings, opts.Logger, func(ctx context.Context) error {
		var err error
		it, err = source.GetTableDataChunked(ctx, table, opts.ChunkSize, pk)
		return err
	}); err != nil {
		return Diff{}, errors.Wrapf(err, "error starting remote scan of %s", table)
	}
	defer it.Close()

	seen := make(map[string]struct{}, remoteCount)
	for it.HasNext(ctx) {
		if opts.RateLimiter != nil {
			if err := opts.RateLimiter.Wait(ctx); err != nil {
				return Diff{}, err
			}
		}
		chunk := it.Next(ctx)
		diff.Stats.RowsScanned += int64(len(chunk))
		if err := diffChunk(ctx, local, table, pk, chunk, seen, &diff, opts); err != nil {
			return Diff{}, err
		}
	}
	if err := it.Err(); err != nil {
		return Diff{}, errors.Wrapf(err, "error scanning remote rows of %s", table)
	}

	// Every local key the remote never produced is a delete. Scanning in
	// the same order keeps memory at one chunk.
	var localIt store.ChunkIterator
	if err := retry.Do(ctx, opts.RetrySettings, opts.Logger, func(ctx context.Context) error {
		var err error
		localIt, err = local.GetTableDataChunked(ctx, table, opts.ChunkSize, pk)
		return err
	}); err != nil {
		return Diff{}, errors.Wrapf(err, "error starting local scan of %s", table)
	}
	defer localIt.Close()
	for localIt.HasNext(ctx) {
		for _, localRow := range localIt.Next(ctx) {
			if _, ok := seen[localRow.PKString(pk)]; !ok {
				diff.ToDelete = append(diff.ToDelete, localRow.Project(pk))
			}
		}
	}
	if err := localIt.Err(); err != nil {
		return Diff{}, errors.Wrapf(err, "error scanning local rows of %s", table)
	}

	diff.Stats.Inserts = len(diff.ToInsert)
	diff.Stats.Updates = len(diff.ToUpdate)
	diff.Stats.Deletes = len(diff.ToDelete)
	return diff, nil
}

// diffChunk classifies one remote chunk against the local rows fetched by
// a single batched primary key lookup.
func diffChunk(
	ctx context.Context,
	local store.LocalStore,
	table string,
	pk []string,
	chunk []row.Row,
	seen map[string]struct{},
	diff *Diff,
	opts Options,
) error {
	keys := make([][]row.Value, 0, len(chunk))
	for _, remoteRow := range chunk {
		seen[remoteRow.PKString(pk)] = struct{}{}
		key := make([]row.Value, len(pk))
		for i, col := range pk {
			key[i], _ = remoteRow.Get(col)
		}
		keys = append(keys, key)
	}

	var localRows []row.Row
	if err := retry.Do(ctx, opts.RetrySettings, opts.Logger, func(ctx context.Context) error {
		var err error
		localRows, err = local.GetRowsByPrimaryKey(ctx, table, pk, keys)
		return err
	}); err != nil {
		return errors.Wrapf(err, "error looking up local rows for %s", table)
	}
	localByKey := make(map[string]row.Row, len(localRows))
	for _, localRow := range localRows {
		localByKey[localRow.PKString(pk)] = localRow
	}

	for _, remoteRow := range chunk {
		localRow, ok := localByKey[remoteRow.PKString(pk)]
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
	return nil
}
