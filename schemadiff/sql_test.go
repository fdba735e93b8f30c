package schemadiff

import (
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/dbpull/dbpull/dbtable"
)

func TestGenerateSQL(t *testing.T) {
	datadriven.Walk(t, "testdata/generatesql", func(t *testing.T, path string) {
		datadriven.RunTest(t, path, func(t *testing.T, d *datadriven.TestData) string {
			var dialect Dialect
			switch d.Cmd {
			case "mysql":
				dialect = DialectMySQL
			case "postgres":
				dialect = DialectPostgres
			default:
				t.Fatalf("unknown directive %q", d.Cmd)
			}
			var table string
			d.ScanArgs(t, "table", &table)
			diff := diffFromInput(t, table, d.Input)
			return strings.Join(GenerateSQL(diff, dialect), "\n")
		})
	})
}

// diffFromInput parses one diff operation per line:
//
//	create <verbatim create statement>
//	add-column <name> <type> [nullable] [default=<expr>] [extra=<attrs>]
//	modify-column <name> <type> [nullable] [default=<expr>] [extra=<attrs>]
//	drop-column <name>
//	add-index <name> <col>[,<col>...] [unique]
//	drop-index <name>
func diffFromInput(t *testing.T, table string, input string) Diff {
	t.Helper()
	diff := Diff{Table: table}
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "create":
			diff.CreateTable = true
			diff.CreateStatement = strings.TrimSpace(strings.TrimPrefix(line, "create"))
		case "add-column":
			diff.AddColumns = append(diff.AddColumns, columnFromFields(t, fields[1:]))
		case "modify-column":
			diff.ModifyColumns = append(diff.ModifyColumns, ColumnChange{
				Column: columnFromFields(t, fields[1:]),
			})
		case "drop-column":
			diff.RemoveColumns = append(diff.RemoveColumns, dbtable.Column{Name: fields[1]})
		case "add-index":
			idx := dbtable.Index{Name: fields[1], Columns: strings.Split(fields[2], ",")}
			if len(fields) > 3 && fields[3] == "unique" {
				idx.Unique = true
			}
			diff.AddIndexes = append(diff.AddIndexes, idx)
		case "drop-index":
			diff.RemoveIndexes = append(diff.RemoveIndexes, dbtable.Index{Name: fields[1]})
		default:
			t.Fatalf("unknown operation %q", fields[0])
		}
	}
	return diff
}

func columnFromFields(t *testing.T, fields []string) dbtable.Column {
	t.Helper()
	if len(fields) < 2 {
		t.Fatalf("column needs a name and a type: %v", fields)
	}
	col := dbtable.Column{Name: fields[0], Type: fields[1]}
	for _, opt := range fields[2:] {
		switch {
		case opt == "nullable":
			col.Nullable = true
		case strings.HasPrefix(opt, "default="):
			v := strings.TrimPrefix(opt, "default=")
			col.Default = &v
		case strings.HasPrefix(opt, "extra="):
			col.Extra = strings.ReplaceAll(strings.TrimPrefix(opt, "extra="), "_", " ")
		default:
			t.Fatalf("unknown column option %q", opt)
		}
	}
	return col
}
