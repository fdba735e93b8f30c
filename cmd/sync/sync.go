package sync

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/cmd/internal/cmdutil"
	"github.com/dbpull/dbpull/datadiff"
	"github.com/dbpull/dbpull/destructive"
	"github.com/dbpull/dbpull/execute"
	"github.com/dbpull/dbpull/report"
	"github.com/dbpull/dbpull/retry"
	"github.com/dbpull/dbpull/schemadiff"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func Command() *cobra.Command {
	var (
		chunkSize            int
		batchSize            int
		useIncremental       bool
		inMemory             bool
		continueOnError      bool
		dryRun               bool
		allowDestructive     bool
		largeDeleteThreshold int
		rowsPerSecond        int
		retrySettings        = retry.DefaultSettings()
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull schema and data changes from the source into the local database.",
		Long: `Sync compares the remote source against the local database, plans the
schema and data changes that would align them, and applies the plan inside
per-table transactions. The source is never written to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := cmdutil.Logger()
			if err != nil {
				return err
			}
			cmdutil.RunMetricsServer(logger)

			reporter := report.CombinedReporter{}
			reporter.Reporters = append(reporter.Reporters, &report.LogReporter{Logger: logger})
			defer reporter.Close()

			ctx := context.Background()
			source, local, err := cmdutil.LoadConns(ctx, logger)
			if err != nil {
				return err
			}
			defer source.Close()
			defer local.Close()

			tables, err := source.Store.TableNames(ctx)
			if err != nil {
				return errors.Wrap(err, "error listing source tables")
			}
			tables, err = cmdutil.FilterTables(tables)
			if err != nil {
				return err
			}
			if len(tables) == 0 {
				return errors.Newf("no tables selected")
			}

			reporter.Report(report.StatusReport{Info: "comparing schemas"})
			schemaDiffs, err := schemadiff.CompareAllSchemas(
				ctx, source.Store, local.Store, tables, retrySettings, logger,
			)
			if err != nil {
				return errors.Wrap(err, "error comparing schemas")
			}
			for _, d := range schemaDiffs {
				reporter.Report(report.SchemaDiffReport{Diff: d})
			}

			var limiter *rate.Limiter
			if rowsPerSecond > 0 {
				limiter = rate.NewLimiter(rate.Limit(rowsPerSecond), rowsPerSecond)
			}
			reporter.Report(report.StatusReport{Info: "comparing data"})
			dataDiffs := datadiff.CompareAllData(ctx, source.Store, local.Store, tables, datadiff.Options{
				ChunkSize:      chunkSize,
				UseIncremental: useIncremental,
				InMemory:       inMemory,
				RateLimiter:    limiter,
				RetrySettings:  retrySettings,
				Logger:         logger,
			})
			for _, d := range dataDiffs {
				reporter.Report(report.DataDiffReport{Diff: d})
			}

			destructiveReport := destructive.Detect(schemaDiffs, dataDiffs, destructive.Options{
				LargeDeleteThreshold: largeDeleteThreshold,
			})
			if destructiveReport.HasDestructive() {
				reporter.Report(report.DestructiveReport{Report: destructiveReport})
				if !allowDestructive {
					return errors.Newf(
						"refusing to apply destructive changes; rerun with --allow-destructive to proceed",
					)
				}
			}

			if dryRun {
				reporter.Report(report.StatusReport{Info: "dry run; no changes applied"})
				return nil
			}

			reporter.Report(report.StatusReport{Info: "applying changes"})
			result, err := execute.Sync(ctx, local.Store, schemaDiffs, dataDiffs, execute.Options{
				BatchSize:       batchSize,
				ContinueOnError: continueOnError,
				Dialect:         local.Dialect,
				Logger:          logger,
			})
			if err != nil {
				return errors.Wrap(err, "fatal error applying changes")
			}
			reporter.Report(report.ResultReport{Result: result})
			if !result.Success {
				return errors.Newf("sync completed with failures")
			}
			return nil
		},
	}

	cmd.PersistentFlags().IntVar(
		&chunkSize,
		"chunk-size",
		datadiff.DefaultChunkSize,
		"number of rows to read from the source at a time",
	)
	cmd.PersistentFlags().IntVar(
		&batchSize,
		"batch-size",
		execute.DefaultBatchSize,
		"maximum number of rows per INSERT statement when applying changes",
	)
	cmd.PersistentFlags().BoolVar(
		&useIncremental,
		"incremental",
		false,
		"only fetch rows modified since the last sync when the table has a usable timestamp column (deletes are not detected)",
	)
	cmd.PersistentFlags().BoolVar(
		&inMemory,
		"in-memory",
		false,
		"hold both tables in memory while diffing; only suitable for small tables",
	)
	cmd.PersistentFlags().BoolVar(
		&continueOnError,
		"continue-on-error",
		false,
		"keep applying remaining tables after a table fails",
	)
	cmd.PersistentFlags().BoolVar(
		&dryRun,
		"dry-run",
		false,
		"compute and report the plan without applying anything",
	)
	cmd.PersistentFlags().BoolVar(
		&allowDestructive,
		"allow-destructive",
		false,
		"apply changes classified as destructive (column removals, full replacements, large deletes)",
	)
	cmd.PersistentFlags().IntVar(
		&largeDeleteThreshold,
		"large-delete-threshold",
		destructive.DefaultLargeDeleteThreshold,
		"delete count at which a table's deletes are considered destructive",
	)
	cmd.PersistentFlags().IntVar(
		&rowsPerSecond,
		"rows-per-second",
		0,
		"if set, maximum number of rows to read per second from the source",
	)
	cmd.PersistentFlags().IntVar(
		&retrySettings.MaxRetries,
		"retry-max-iterations",
		retrySettings.MaxRetries,
		"maximum number of retries for transient source/local errors",
	)
	cmd.PersistentFlags().DurationVar(
		&retrySettings.InitialBackoff,
		"retry-initial-backoff",
		retrySettings.InitialBackoff,
		"initial backoff before retrying a transient error",
	)
	cmd.PersistentFlags().DurationVar(
		&retrySettings.MaxBackoff,
		"retry-max-backoff",
		retrySettings.MaxBackoff,
		"maximum backoff between retries",
	)
	cmdutil.RegisterConnFlags(cmd)
	cmdutil.RegisterLoggerFlags(cmd)
	cmdutil.RegisterFilterFlags(cmd)
	cmdutil.RegisterMetricsFlags(cmd)
	return cmd
}
