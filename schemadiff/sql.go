package schemadiff

import (
	"fmt"
	"strings"

	"github.com/dbpull/dbpull/dbtable"
)

// Dialect selects the DDL rendering for the local store.
type Dialect int

const (
	DialectMySQL Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	switch d {
	case DialectMySQL:
		return "mysql"
	case DialectPostgres:
		return "postgres"
	}
	return "unknown"
}

// GenerateSQL renders the diff as DDL statements in fixed order: CREATE
// (verbatim), ADD COLUMN, MODIFY COLUMN, DROP COLUMN, ADD INDEX, DROP
// INDEX. Additions and modifications precede removals so dependent
// definitions remain valid; indexes change after column shape is final.
func GenerateSQL(d Diff, dialect Dialect) []string {
	if d.CreateTable {
		return []string{d.CreateStatement}
	}
	var stmts []string
	for _, col := range d.AddColumns {
		stmts = append(stmts, addColumn(dialect, d.Table, col))
	}
	for _, change := range d.ModifyColumns {
		stmts = append(stmts, modifyColumn(dialect, d.Table, change)...)
	}
	for _, col := range d.RemoveColumns {
		stmts = append(stmts, dropColumn(dialect, d.Table, col))
	}
	for _, idx := range d.AddIndexes {
		stmts = append(stmts, addIndex(dialect, d.Table, idx))
	}
	for _, idx := range d.RemoveIndexes {
		stmts = append(stmts, dropIndex(dialect, d.Table, idx))
	}
	return stmts
}

func addColumn(dialect Dialect, table string, col dbtable.Column) string {
	return fmt.Sprintf(
		"ALTER TABLE %s ADD COLUMN %s %s",
		quote(dialect, table), quote(dialect, col.Name), col.Definition(),
	)
}

func modifyColumn(dialect Dialect, table string, change ColumnChange) []string {
	col := change.Column
	switch dialect {
	case DialectPostgres:
		// Postgres has no MODIFY COLUMN; each aspect is its own ALTER.
		tbl := quote(dialect, table)
		name := quote(dialect, col.Name)
		stmts := []string{
			fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s", tbl, name, col.Type),
		}
		if col.Nullable {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", tbl, name))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", tbl, name))
		}
		if col.Default != nil {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", tbl, name, *col.Default))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", tbl, name))
		}
		return stmts
	default:
		return []string{fmt.Sprintf(
			"ALTER TABLE %s MODIFY COLUMN %s %s",
			quote(dialect, table), quote(dialect, col.Name), col.Definition(),
		)}
	}
}

func dropColumn(dialect Dialect, table string, col dbtable.Column) string {
	return fmt.Sprintf(
		"ALTER TABLE %s DROP COLUMN %s",
		quote(dialect, table), quote(dialect, col.Name),
	)
}

func addIndex(dialect Dialect, table string, idx dbtable.Index) string {
	cols := make([]string, len(idx.Columns))
	for i, col := range idx.Columns {
		cols[i] = quote(dialect, col)
	}
	switch dialect {
	case DialectPostgres:
		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		return fmt.Sprintf(
			"CREATE %sINDEX %s ON %s (%s)",
			unique, quote(dialect, idx.Name), quote(dialect, table), strings.Join(cols, ", "),
		)
	default:
		kind := "INDEX"
		if idx.Unique {
			kind = "UNIQUE INDEX"
		}
		return fmt.Sprintf(
			"ALTER TABLE %s ADD %s %s (%s)",
			quote(dialect, table), kind, quote(dialect, idx.Name), strings.Join(cols, ", "),
		)
	}
}

func dropIndex(dialect Dialect, table string, idx dbtable.Index) string {
	switch dialect {
	case DialectPostgres:
		return fmt.Sprintf("DROP INDEX %s", quote(dialect, idx.Name))
	default:
		return fmt.Sprintf(
			"ALTER TABLE %s DROP INDEX %s",
			quote(dialect, table), quote(dialect, idx.Name),
		)
	}
}

func quote(dialect Dialect, ident string) string {
	switch dialect {
	case DialectPostgres:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	default:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
}
