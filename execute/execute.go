// Package execute applies an approved subset of schema and data diffs to
// the local store. Schema changes apply first and gate the data phase;
// data changes apply per table inside one transaction so a mid-way failure
// restores the pre-sync state.
package execute

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/datadiff"
	"github.com/dbpull/dbpull/retry"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/schemadiff"
	"github.com/dbpull/dbpull/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const DefaultBatchSize = 500

var (
	schemaStatementsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dbpull",
		Subsystem: "execute",
		Name:      "schema_statements_applied_total",
		Help:      "Number of schema statements applied to the local store.",
	})
	rowsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbpull",
		Subsystem: "execute",
		Name:      "rows_applied_total",
		Help:      "Number of row changes applied, by operation.",
	}, []string{"op"})
	tablesRolledBack = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dbpull",
		Subsystem: "execute",
		Name:      "tables_rolled_back_total",
		Help:      "Number of per-table transactions rolled back.",
	})
)

type Options struct {
	// BatchSize bounds multi-row inserts.
	BatchSize int
	// ContinueOnError attempts remaining tables after a table's
	// transaction fails instead of stopping the run.
	ContinueOnError bool
	Dialect         schemadiff.Dialect
	Logger          zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// CategoryResult summarizes one apply phase: schema counts statements,
// data counts tables.
type CategoryResult struct {
	Applied int
	Failed  int
	Errors  []string
}

type TableResult struct {
	Table   string
	Inserts int
	Updates int
	Deletes int
	Errors  []string
}

func (r TableResult) failed() bool {
	return len(r.Errors) > 0
}

type Result struct {
	Success bool
	Schema  CategoryResult
	Data    CategoryResult
	Tables  []TableResult
}

// Sync applies the approved diffs to the local store. The source handle is
// deliberately absent from the signature: the executor cannot issue
// statements against the remote. The returned error is fatal only; a
// failed rollback leaves local state of unknown consistency.
func Sync(
	ctx context.Context,
	local store.LocalStore,
	schemaDiffs []schemadiff.Diff,
	dataDiffs []datadiff.Diff,
	opts Options,
) (Result, error) {
	opts = opts.withDefaults()
	result := Result{Success: true}

	for _, diff := range schemaDiffs {
		if diff.Err != nil || !diff.HasChanges() {
			continue
		}
		applySchemaDiff(ctx, local, diff, opts, &result)
	}
	if result.Schema.Failed > 0 {
		// Schema integrity gates data integrity: a local structure that no
		// longer matches the plan would corrupt the row changes computed
		// against it.
		result.Success = false
		opts.Logger.Error().
			Int("failed_statements", result.Schema.Failed).
			Msgf("schema changes failed; skipping all data changes")
		return result, nil
	}

	for _, diff := range dataDiffs {
		if diff.Err != nil || !diff.HasChanges() {
			continue
		}
		tableResult, fatal := applyTableData(ctx, local, diff, opts)
		result.Tables = append(result.Tables, tableResult)
		if fatal != nil {
			result.Success = false
			result.Data.Failed++
			return result, fatal
		}
		if tableResult.failed() {
			tablesRolledBack.Inc()
			result.Success = false
			result.Data.Failed++
			result.Data.Errors = append(result.Data.Errors, tableResult.Errors...)
			if !opts.ContinueOnError {
				opts.Logger.Error().
					Str("table", diff.Table).
					Msgf("table failed and continue-on-error is disabled; stopping")
				break
			}
			continue
		}
		result.Data.Applied++
	}
	return result, nil
}

func applySchemaDiff(
	ctx context.Context,
	local store.LocalStore,
	diff schemadiff.Diff,
	opts Options,
	result *Result,
) {
	for _, stmt := range schemadiff.GenerateSQL(diff, opts.Dialect) {
		if err := local.ExecuteSchema(ctx, stmt); err != nil {
			err = errors.Mark(errors.Wrapf(err, "error applying %q", stmt), retry.ErrExecution)
			opts.Logger.Err(err).Str("table", diff.Table).Msgf("schema statement failed")
			result.Schema.Failed++
			result.Schema.Errors = append(result.Schema.Errors, err.Error())
			// Remaining statements for this table depend on the failed
			// one; move on to the next table's schema changes.
			return
		}
		schemaStatementsApplied.Inc()
		result.Schema.Applied++
	}
}

// applyTableData applies one table's data changes inside a single
// transaction. The returned error is non-nil only when rollback itself
// failed.
func applyTableData(
	ctx context.Context,
	local store.LocalStore,
	diff datadiff.Diff,
	opts Options,
) (TableResult, error) {
	result := TableResult{Table: diff.Table}

	tx, err := local.Begin(ctx)
	if err != nil {
		result.Errors = append(result.Errors, errors.Wrapf(err, "error starting transaction for %s", diff.Table).Error())
		return result, nil
	}

	if err := applyChanges(ctx, tx, diff, opts, &result); err != nil {
		err = errors.Mark(err, retry.ErrExecution)
		opts.Logger.Err(err).Str("table", diff.Table).Msgf("error applying data changes; rolling back")
		result.Errors = append(result.Errors, err.Error())
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return result, errors.Wrapf(rbErr, "rollback failed for %s; local state is of unknown consistency", diff.Table)
		}
		return result, nil
	}
	if err := tx.Commit(ctx); err != nil {
		err = errors.Mark(errors.Wrapf(err, "error committing %s", diff.Table), retry.ErrExecution)
		result.Errors = append(result.Errors, err.Error())
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return result, errors.Wrapf(rbErr, "rollback failed for %s; local state is of unknown consistency", diff.Table)
		}
		return result, nil
	}

	rowsApplied.WithLabelValues("insert").Add(float64(result.Inserts))
	rowsApplied.WithLabelValues("update").Add(float64(result.Updates))
	rowsApplied.WithLabelValues("delete").Add(float64(result.Deletes))
	opts.Logger.Info().
		Str("table", diff.Table).
		Int("inserts", result.Inserts).
		Int("updates", result.Updates).
		Int("deletes", result.Deletes).
		Msgf("applied data changes")
	return result, nil
}

func applyChanges(
	ctx context.Context,
	tx store.Tx,
	diff datadiff.Diff,
	opts Options,
	result *TableResult,
) error {
	if diff.FullReplace {
		// Wholesale replacement: delete everything, then re-insert the
		// carried snapshot, all inside this transaction.
		if err := tx.DeleteAllRows(ctx, diff.Table); err != nil {
			return errors.Wrapf(err, "error clearing %s for full replace", diff.Table)
		}
		inserted, err := insertBatches(ctx, tx, diff.Table, diff.ReplacementRows, opts.BatchSize)
		result.Inserts += inserted
		return err
	}

	inserted, err := insertBatches(ctx, tx, diff.Table, diff.ToInsert, opts.BatchSize)
	result.Inserts += inserted
	if err != nil {
		return err
	}
	// Updates go row by row: each row carries its own changed-column set.
	for _, update := range diff.ToUpdate {
		if err := tx.UpdateRow(ctx, diff.Table, update.Row, update.ChangedColumns, diff.PrimaryKey); err != nil {
			return errors.Wrapf(err, "error updating row %s", update.Row.PKString(diff.PrimaryKey))
		}
		result.Updates++
	}
	for _, del := range diff.ToDelete {
		keyVals := make([]row.Value, len(diff.PrimaryKey))
		for i, col := range diff.PrimaryKey {
			keyVals[i], _ = del.Get(col)
		}
		if err := tx.DeleteRow(ctx, diff.Table, diff.PrimaryKey, keyVals); err != nil {
			return errors.Wrapf(err, "error deleting row %s", del.PKString(diff.PrimaryKey))
		}
		result.Deletes++
	}
	return nil
}

func insertBatches(
	ctx context.Context, tx store.Tx, table string, rows []row.Row, batchSize int,
) (int, error) {
	inserted := 0
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := tx.InsertRows(ctx, table, rows[start:end]); err != nil {
			return inserted, errors.Wrapf(err, "error inserting batch %d-%d", start, end)
		}
		inserted += end - start
	}
	return inserted, nil
}

// Summary renders a short human-readable completion summary.
func (r Result) Summary() string {
	status := "succeeded"
	if !r.Success {
		status = "failed"
	}
	return fmt.Sprintf(
		"sync %s: %d schema statements applied (%d failed), %d tables applied (%d failed)",
		status, r.Schema.Applied, r.Schema.Failed, r.Data.Applied, r.Data.Failed,
	)
}
