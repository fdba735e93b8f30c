// Package schemadiff compares table-structure snapshots and derives the DDL
// to align the local side with the remote side.
package schemadiff

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/dbtable"
	"github.com/dbpull/dbpull/retry"
	"github.com/dbpull/dbpull/store"
	"github.com/rs/zerolog"
)

// ColumnChange is a column present on both sides whose definition differs.
type ColumnChange struct {
	Column dbtable.Column
	// Before and After are the local and remote definition renderings,
	// kept for confirmation output.
	Before string
	After  string
}

// Diff is the structural difference of one table, remote relative to local.
type Diff struct {
	Table string

	// CreateTable indicates the table is missing locally; CreateStatement
	// carries the verbatim remote creation DDL.
	CreateTable     bool
	CreateStatement string

	AddColumns    []dbtable.Column
	ModifyColumns []ColumnChange
	RemoveColumns []dbtable.Column

	AddIndexes    []dbtable.Index
	RemoveIndexes []dbtable.Index

	// Err is set when the snapshot reads failed during a multi-table run;
	// the diff is then an empty placeholder.
	Err error
}

func (d Diff) HasChanges() bool {
	return d.CreateTable ||
		len(d.AddColumns) > 0 ||
		len(d.ModifyColumns) > 0 ||
		len(d.RemoveColumns) > 0 ||
		len(d.AddIndexes) > 0 ||
		len(d.RemoveIndexes) > 0
}

// DiffTableSchema compares two snapshots of the same table. A nil local
// snapshot yields a create-table diff; a nil remote snapshot yields an
// empty no-change diff. It never fails.
func DiffTableSchema(table string, remote, local *dbtable.TableSchema) Diff {
	d := Diff{Table: table}
	if remote == nil {
		return d
	}
	if local == nil {
		d.CreateTable = true
		d.CreateStatement = remote.CreateStatement
		return d
	}

	for _, remoteCol := range remote.Columns {
		localCol, ok := local.Column(remoteCol.Name)
		if !ok {
			d.AddColumns = append(d.AddColumns, remoteCol)
			continue
		}
		if !remoteCol.EqualDefinition(localCol) {
			d.ModifyColumns = append(d.ModifyColumns, ColumnChange{
				Column: remoteCol,
				Before: localCol.Definition(),
				After:  remoteCol.Definition(),
			})
		}
	}
	for _, localCol := range local.Columns {
		if !remote.HasColumn(localCol.Name) {
			d.RemoveColumns = append(d.RemoveColumns, localCol)
		}
	}

	// Indexes are identified by name only; a renamed but structurally
	// identical index reports as an add plus a remove.
	remoteIdx := indexByName(remote.Indexes)
	localIdx := indexByName(local.Indexes)
	for _, idx := range remote.Indexes {
		if idx.Name == dbtable.PrimaryKeyIndexName {
			continue
		}
		if _, ok := localIdx[idx.Name]; !ok {
			d.AddIndexes = append(d.AddIndexes, idx)
		}
	}
	for _, idx := range local.Indexes {
		if idx.Name == dbtable.PrimaryKeyIndexName {
			continue
		}
		if _, ok := remoteIdx[idx.Name]; !ok {
			d.RemoveIndexes = append(d.RemoveIndexes, idx)
		}
	}
	return d
}

func indexByName(indexes []dbtable.Index) map[string]dbtable.Index {
	ret := make(map[string]dbtable.Index, len(indexes))
	for _, idx := range indexes {
		ret[idx.Name] = idx
	}
	return ret
}

// CompareAllSchemas diffs every table in caller order. Snapshot reads are
// wrapped in retry; a table whose reads still fail yields an error-tagged
// empty diff so the remaining tables are processed.
func CompareAllSchemas(
	ctx context.Context,
	source store.SourceReader,
	local store.LocalStore,
	tables []string,
	retrySettings retry.Settings,
	logger zerolog.Logger,
) ([]Diff, error) {
	if err := retrySettings.Verify(); err != nil {
		return nil, err
	}
	diffs := make([]Diff, 0, len(tables))
	for _, table := range tables {
		diff, err := compareOneSchema(ctx, source, local, table, retrySettings, logger)
		if err != nil {
			logger.Err(err).Str("table", table).Msgf("error diffing table schema")
			diffs = append(diffs, Diff{Table: table, Err: err})
			continue
		}
		diffs = append(diffs, diff)
	}
	return diffs, nil
}

func compareOneSchema(
	ctx context.Context,
	source store.SourceReader,
	local store.LocalStore,
	table string,
	retrySettings retry.Settings,
	logger zerolog.Logger,
) (Diff, error) {
	var remote, localSchema *dbtable.TableSchema
	if err := retry.Do(ctx, retrySettings, logger, func(ctx context.Context) error {
		var err error
		remote, err = source.GetTableSchema(ctx, table)
		return err
	}); err != nil {
		return Diff{}, errors.Wrapf(err, "error reading remote schema for %s", table)
	}
	if err := retry.Do(ctx, retrySettings, logger, func(ctx context.Context) error {
		var err error
		localSchema, err = local.GetTableSchema(ctx, table)
		return err
	}); err != nil {
		return Diff{}, errors.Wrapf(err, "error reading local schema for %s", table)
	}
	return DiffTableSchema(table, remote, localSchema), nil
}
