// Package report fans sync progress and findings out to one or more
// reporters, decoupling the planning and apply phases from how results are
// presented.
package report

import (
	"github.com/dbpull/dbpull/datadiff"
	"github.com/dbpull/dbpull/destructive"
	"github.com/dbpull/dbpull/execute"
	"github.com/dbpull/dbpull/schemadiff"
	"github.com/rs/zerolog"
)

// ReportableObject is any object a Reporter can present.
type ReportableObject interface{}

type Reporter interface {
	Report(obj ReportableObject)
	Close()
}

type CombinedReporter struct {
	Reporters []Reporter
}

func (c CombinedReporter) Report(obj ReportableObject) {
	for _, r := range c.Reporters {
		r.Report(obj)
	}
}

func (c CombinedReporter) Close() {
	for _, r := range c.Reporters {
		r.Close()
	}
}

type StatusReport struct {
	Info string
}

// SchemaDiffReport is one table's structural difference.
type SchemaDiffReport struct {
	Diff schemadiff.Diff
}

// DataDiffReport is one table's planned data changes.
type DataDiffReport struct {
	Diff datadiff.Diff
}

// DestructiveReport carries the classifier's findings.
type DestructiveReport struct {
	Report destructive.Report
}

// ResultReport is the executor's outcome.
type ResultReport struct {
	Result execute.Result
}

// LogReporter reports to `zerolog`.
type LogReporter struct {
	zerolog.Logger
}

func (l LogReporter) Report(obj ReportableObject) {
	switch obj := obj.(type) {
	case StatusReport:
		l.Info().Msgf("%s", obj.Info)
	case SchemaDiffReport:
		d := obj.Diff
		switch {
		case d.Err != nil:
			l.Err(d.Err).Str("table", d.Table).Msgf("schema diff failed")
		case d.CreateTable:
			l.Warn().Str("table", d.Table).Msgf("table missing locally; will be created")
		case d.HasChanges():
			l.Warn().
				Str("table", d.Table).
				Int("add_columns", len(d.AddColumns)).
				Int("modify_columns", len(d.ModifyColumns)).
				Int("remove_columns", len(d.RemoveColumns)).
				Int("add_indexes", len(d.AddIndexes)).
				Int("remove_indexes", len(d.RemoveIndexes)).
				Msgf("schema differences detected")
		default:
			l.Info().Str("table", d.Table).Msgf("schema matches")
		}
	case DataDiffReport:
		d := obj.Diff
		if d.Err != nil {
			l.Err(d.Err).Str("table", d.Table).Msgf("data diff failed")
			return
		}
		ev := l.Info()
		if d.HasChanges() {
			ev = l.Warn()
		}
		ev.Str("table", d.Table).
			Str("strategy", string(d.Strategy)).
			Int("inserts", d.Stats.Inserts).
			Int("updates", d.Stats.Updates).
			Int("deletes", d.Stats.Deletes).
			Msgf("data diff computed")
		for _, warning := range d.Warnings {
			l.Warn().Str("table", d.Table).Msgf("%s", warning)
		}
	case DestructiveReport:
		r := obj.Report
		for _, removal := range r.ColumnRemovals {
			cols := make([]string, len(removal.Columns))
			for i, col := range removal.Columns {
				cols[i] = col.Name
			}
			l.Warn().
				Str("table", removal.Table).
				Strs("columns", cols).
				Msgf("destructive: column removal")
		}
		for _, table := range r.FullReplacements {
			l.Warn().Str("table", table).Msgf("destructive: full table replacement")
		}
		for _, del := range r.LargeDeletes {
			l.Warn().
				Str("table", del.Table).
				Int("deletes", del.Deletes).
				Msgf("destructive: large delete")
		}
	case ResultReport:
		ev := l.Info()
		if !obj.Result.Success {
			ev = l.Error()
		}
		ev.Msgf("%s", obj.Result.Summary())
	default:
		l.Error().Msgf("unknown object: %#v", obj)
	}
}

func (l LogReporter) Close() {}
