// Package datadiff compares row data between the remote source and the
// local store and plans the inserts, updates and deletes that would align
// them. Four strategies trade memory against accuracy: streaming (default),
// incremental, full-replace for primary-key-less tables, and first-sync for
// tables missing locally.
package datadiff

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/dbtable"
	"github.com/dbpull/dbpull/retry"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const DefaultChunkSize = 1000

type Strategy string

const (
	StrategyStreaming   Strategy = "streaming"
	StrategyIncremental Strategy = "incremental"
	StrategyFullReplace Strategy = "full-replace"
	StrategyFirstSync   Strategy = "first-sync"
)

var (
	rowsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dbpull",
		Subsystem: "datadiff",
		Name:      "rows_scanned_total",
		Help:      "Number of remote rows scanned while diffing.",
	})
	tablesDiffed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbpull",
		Subsystem: "datadiff",
		Name:      "tables_diffed_total",
		Help:      "Number of tables diffed, by strategy.",
	}, []string{"strategy"})
)

// RowUpdate is a remote row that differs from its local counterpart,
// together with the columns that changed.
type RowUpdate struct {
	Row            row.Row
	ChangedColumns []string
}

type Stats struct {
	RemoteRows  int64
	LocalRows   int64
	Inserts     int
	Updates     int
	Deletes     int
	RowsScanned int64
}

// Diff is the data difference of one table. It is computed fresh per
// invocation and never persisted.
type Diff struct {
	Table      string
	PrimaryKey []string
	Strategy   Strategy

	ToInsert []row.Row
	ToUpdate []RowUpdate
	// ToDelete holds key-only rows projected to the primary key columns.
	ToDelete []row.Row

	// FullReplace marks a primary-key-less table whose local contents are
	// replaced wholesale with ReplacementRows.
	FullReplace     bool
	ReplacementRows []row.Row

	Stats Stats

	// Warnings carry conditions the caller must surface, e.g. drift
	// detected in incremental mode.
	Warnings []string

	// Err is set when diffing this table failed during a multi-table run;
	// stats are then zero.
	Err error
}

func (d Diff) HasChanges() bool {
	return d.FullReplace || len(d.ToInsert) > 0 || len(d.ToUpdate) > 0 || len(d.ToDelete) > 0
}

// Incremental reports whether the diff was computed without delete
// detection.
func (d Diff) Incremental() bool {
	return d.Strategy == StrategyIncremental
}

type Options struct {
	// ChunkSize is the number of rows fetched per remote read.
	ChunkSize int
	// PrimaryKeyOverride replaces the introspected primary key.
	PrimaryKeyOverride []string
	// UseIncremental enables timestamp-based incremental diffing when the
	// table supports it.
	UseIncremental bool
	// InMemory selects the legacy in-memory variant, acceptable for small
	// tables only.
	InMemory bool
	// RateLimiter, when set, paces remote chunk reads.
	RateLimiter *rate.Limiter

	RetrySettings retry.Settings
	Logger        zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.RetrySettings.InitialBackoff == 0 {
		o.RetrySettings = retry.DefaultSettings()
	}
	return o
}

// DiffTableData plans the data changes for one table. Strategy selection,
// in priority order: no primary key forces full replace; a missing local
// table means first sync; incremental when enabled and both sides expose
// the same modification-timestamp column; otherwise streaming (or the
// in-memory variant when requested).
func DiffTableData(
	ctx context.Context,
	source store.SourceReader,
	local store.LocalStore,
	table string,
	opts Options,
) (Diff, error) {
	opts = opts.withDefaults()

	var remoteSchema *dbtable.TableSchema
	if err := retry.Do(ctx, opts.RetrySettings, opts.Logger, func(ctx context.Context) error {
		var err error
		remoteSchema, err = source.GetTableSchema(ctx, table)
		return err
	}); err != nil {
		return Diff{}, errors.Wrapf(err, "error reading remote schema for %s", table)
	}
	if remoteSchema == nil {
		return Diff{}, errors.Newf("table %s does not exist on the remote", table)
	}

	pk := opts.PrimaryKeyOverride
	if len(pk) == 0 {
		pk = remoteSchema.PrimaryKey()
	}

	var remoteCount int64
	if err := retry.Do(ctx, opts.RetrySettings, opts.Logger, func(ctx context.Context) error {
		var err error
		remoteCount, err = source.GetRowCount(ctx, table)
		return err
	}); err != nil {
		return Diff{}, errors.Wrapf(err, "error counting remote rows for %s", table)
	}

	var localExists bool
	if err := retry.Do(ctx, opts.RetrySettings, opts.Logger, func(ctx context.Context) error {
		var err error
		localExists, err = local.TableExists(ctx, table)
		return err
	}); err != nil {
		return Diff{}, errors.Wrapf(err, "error checking local table %s", table)
	}

	var diff Diff
	var err error
	switch {
	case len(pk) == 0:
		diff, err = fullReplaceDiff(ctx, source, local, table, remoteCount, localExists, opts)
	case !localExists:
		diff, err = firstSyncDiff(ctx, source, table, pk, remoteCount, opts)
	default:
		tsCol := ""
		if opts.UseIncremental {
			tsCol, err = sharedTimestampColumn(ctx, source, local, table, opts)
			if err != nil {
				return Diff{}, err
			}
		}
		switch {
		case tsCol != "":
			diff, err = incrementalDiff(ctx, source, local, table, pk, tsCol, remoteCount, opts)
		case opts.InMemory:
			diff, err = memoryDiff(ctx, source, local, table, pk, remoteCount, opts)
		default:
			diff, err = streamingDiff(ctx, source, local, table, pk, remoteCount, opts)
		}
	}
	if err != nil {
		return Diff{}, err
	}
	tablesDiffed.WithLabelValues(string(diff.Strategy)).Inc()
	rowsScanned.Add(float64(diff.Stats.RowsScanned))
	return diff, nil
}

// sharedTimestampColumn returns the first remote modification-timestamp
// column the local table also exposes, or empty when incremental diffing
// is not applicable.
func sharedTimestampColumn(
	ctx context.Context,
	source store.SourceReader,
	local store.LocalStore,
	table string,
	opts Options,
) (string, error) {
	var candidates []string
	if err := retry.Do(ctx, opts.RetrySettings, opts.Logger, func(ctx context.Context) error {
		var err error
		candidates, err = source.CheckTimestampColumns(ctx, table)
		return err
	}); err != nil {
		return "", errors.Wrapf(err, "error detecting timestamp columns for %s", table)
	}
	if len(candidates) == 0 {
		return "", nil
	}
	var localSchema *dbtable.TableSchema
	if err := retry.Do(ctx, opts.RetrySettings, opts.Logger, func(ctx context.Context) error {
		var err error
		localSchema, err = local.GetTableSchema(ctx, table)
		return err
	}); err != nil {
		return "", errors.Wrapf(err, "error reading local schema for %s", table)
	}
	for _, col := range candidates {
		if localSchema.HasColumn(col) {
			return col, nil
		}
	}
	return "", nil
}

// CompareAllData diffs every table sequentially in caller order. A table
// that fails is downgraded to an error-tagged diff with zero stats so the
// remaining tables still process.
func CompareAllData(
	ctx context.Context,
	source store.SourceReader,
	local store.LocalStore,
	tables []string,
	opts Options,
) []Diff {
	opts = opts.withDefaults()
	diffs := make([]Diff, 0, len(tables))
	for _, table := range tables {
		diff, err := DiffTableData(ctx, source, local, table, opts)
		if err != nil {
			opts.Logger.Err(err).Str("table", table).Msgf("error diffing table data")
			diffs = append(diffs, Diff{Table: table, Err: err})
			continue
		}
		opts.Logger.Info().
			Str("table", table).
			Str("strategy", string(diff.Strategy)).
			Int("inserts", diff.Stats.Inserts).
			Int("updates", diff.Stats.Updates).
			Int("deletes", diff.Stats.Deletes).
			Msgf("diffed table data")
		diffs = append(diffs, diff)
	}
	return diffs
}
