package destructive

import (
	"testing"

	"github.com/dbpull/dbpull/datadiff"
	"github.com/dbpull/dbpull/dbtable"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/schemadiff"
	"github.com/stretchr/testify/require"
)

func keyRows(n int) []row.Row {
	rows := make([]row.Row, n)
	for i := range rows {
		rows[i] = row.New().Set("id", row.Int(int64(i)))
	}
	return rows
}

func TestDetect(t *testing.T) {
	for _, tc := range []struct {
		desc        string
		schemaDiffs []schemadiff.Diff
		dataDiffs   []datadiff.Diff
		opts        Options
		expected    Report
	}{
		{
			desc: "clean diffs report nothing",
			schemaDiffs: []schemadiff.Diff{{
				Table:      "users",
				AddColumns: []dbtable.Column{{Name: "email", Type: "text"}},
			}},
			dataDiffs: []datadiff.Diff{{
				Table:    "users",
				ToInsert: keyRows(3),
				ToDelete: keyRows(DefaultLargeDeleteThreshold - 1),
			}},
			expected: Report{},
		},
		{
			desc: "column removal",
			schemaDiffs: []schemadiff.Diff{{
				Table:         "users",
				RemoveColumns: []dbtable.Column{{Name: "legacy_flag", Type: "tinyint(1)"}},
			}},
			expected: Report{
				ColumnRemovals: []ColumnRemoval{{
					Table:   "users",
					Columns: []dbtable.Column{{Name: "legacy_flag", Type: "tinyint(1)"}},
				}},
			},
		},
		{
			desc: "full replacement",
			dataDiffs: []datadiff.Diff{{
				Table:       "audit_log",
				FullReplace: true,
			}},
			expected: Report{
				FullReplacements: []string{"audit_log"},
			},
		},
		{
			desc: "delete count at threshold",
			dataDiffs: []datadiff.Diff{{
				Table:    "orders",
				ToDelete: keyRows(DefaultLargeDeleteThreshold),
			}},
			expected: Report{
				LargeDeletes: []LargeDelete{{Table: "orders", Deletes: DefaultLargeDeleteThreshold}},
			},
		},
		{
			desc: "threshold override",
			dataDiffs: []datadiff.Diff{{
				Table:    "orders",
				ToDelete: keyRows(5),
			}},
			opts: Options{LargeDeleteThreshold: 5},
			expected: Report{
				LargeDeletes: []LargeDelete{{Table: "orders", Deletes: 5}},
			},
		},
		{
			desc: "multiple categories across tables",
			schemaDiffs: []schemadiff.Diff{{
				Table:         "users",
				RemoveColumns: []dbtable.Column{{Name: "nickname", Type: "text"}},
			}},
			dataDiffs: []datadiff.Diff{
				{Table: "audit_log", FullReplace: true},
				{Table: "orders", ToDelete: keyRows(200)},
			},
			expected: Report{
				ColumnRemovals: []ColumnRemoval{{
					Table:   "users",
					Columns: []dbtable.Column{{Name: "nickname", Type: "text"}},
				}},
				FullReplacements: []string{"audit_log"},
				LargeDeletes:     []LargeDelete{{Table: "orders", Deletes: 200}},
			},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			report := Detect(tc.schemaDiffs, tc.dataDiffs, tc.opts)
			require.Equal(t, tc.expected, report)
			require.Equal(t, tc.expected.HasDestructive(), report.HasDestructive())
		})
	}
}

func TestDetectIsPure(t *testing.T) {
	dataDiffs := []datadiff.Diff{{Table: "orders", ToDelete: keyRows(150)}}
	first := Detect(nil, dataDiffs, Options{})
	second := Detect(nil, dataDiffs, Options{})
	require.Equal(t, first, second)
	require.Len(t, dataDiffs[0].ToDelete, 150)
}
