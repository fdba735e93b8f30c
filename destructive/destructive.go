// Package destructive inspects diff outputs for operations that cause
// irreversible local data loss and therefore require elevated
// confirmation, separate from ordinary approval.
package destructive

import (
	"github.com/dbpull/dbpull/datadiff"
	"github.com/dbpull/dbpull/dbtable"
	"github.com/dbpull/dbpull/schemadiff"
)

// DefaultLargeDeleteThreshold is the delete count at and above which a
// table's deletes are considered destructive.
const DefaultLargeDeleteThreshold = 100

type ColumnRemoval struct {
	Table   string
	Columns []dbtable.Column
}

type LargeDelete struct {
	Table   string
	Deletes int
}

type Report struct {
	ColumnRemovals []ColumnRemoval
	// FullReplacements lists tables whose local contents are dropped and
	// rewritten wholesale.
	FullReplacements []string
	LargeDeletes     []LargeDelete
}

// HasDestructive reports whether any category is non-empty.
func (r Report) HasDestructive() bool {
	return len(r.ColumnRemovals) > 0 || len(r.FullReplacements) > 0 || len(r.LargeDeletes) > 0
}

type Options struct {
	// LargeDeleteThreshold overrides DefaultLargeDeleteThreshold; 0 keeps
	// the default.
	LargeDeleteThreshold int
}

// Detect classifies the destructive operations in the given diffs. It is a
// pure function of its inputs.
func Detect(schemaDiffs []schemadiff.Diff, dataDiffs []datadiff.Diff, opts Options) Report {
	threshold := opts.LargeDeleteThreshold
	if threshold <= 0 {
		threshold = DefaultLargeDeleteThreshold
	}

	var report Report
	for _, d := range schemaDiffs {
		if len(d.RemoveColumns) > 0 {
			report.ColumnRemovals = append(report.ColumnRemovals, ColumnRemoval{
				Table:   d.Table,
				Columns: d.RemoveColumns,
			})
		}
	}
	for _, d := range dataDiffs {
		if d.FullReplace {
			report.FullReplacements = append(report.FullReplacements, d.Table)
		}
		if len(d.ToDelete) >= threshold {
			report.LargeDeletes = append(report.LargeDeletes, LargeDelete{
				Table:   d.Table,
				Deletes: len(d.ToDelete),
			})
		}
	}
	return report
}
