// Package dbtable holds immutable snapshots of table structure taken from a
// live introspection.
package dbtable

import (
	"fmt"
	"strings"
)

// PrimaryKeyIndexName is the reserved index name carrying the primary key.
// It is excluded from index diffing; primary key changes surface as column
// modifications instead.
const PrimaryKeyIndexName = "PRIMARY"

// Column describes a single column as reported by the database.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	// Default is nil when the column has no default.
	Default *string
	// Extra carries attributes such as auto_increment or
	// on update CURRENT_TIMESTAMP.
	Extra string
	// Key is the column's key role ("PRI", "UNI", "MUL" or empty).
	Key string
}

// Definition renders the column definition used in DDL and in diff output.
func (c Column) Definition() string {
	var sb strings.Builder
	sb.WriteString(c.Type)
	if !c.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if c.Default != nil {
		fmt.Fprintf(&sb, " DEFAULT %s", *c.Default)
	}
	if c.Extra != "" {
		sb.WriteString(" ")
		sb.WriteString(c.Extra)
	}
	return sb.String()
}

// EqualDefinition reports whether two columns are structurally identical.
func (c Column) EqualDefinition(o Column) bool {
	if !strings.EqualFold(c.Type, o.Type) || c.Nullable != o.Nullable || c.Extra != o.Extra {
		return false
	}
	if (c.Default == nil) != (o.Default == nil) {
		return false
	}
	if c.Default != nil && *c.Default != *o.Default {
		return false
	}
	return true
}

// Index describes a secondary index.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// TableSchema is a snapshot of one table's structure.
type TableSchema struct {
	Name    string
	Columns []Column
	Indexes []Index
	// CreateStatement is the verbatim creation DDL reported by the source,
	// carried so a missing local table can be created exactly as it exists
	// remotely.
	CreateStatement string
}

// PrimaryKey returns the ordered primary key column names.
func (s *TableSchema) PrimaryKey() []string {
	if s == nil {
		return nil
	}
	var pk []string
	for _, col := range s.Columns {
		if col.Key == "PRI" {
			pk = append(pk, col.Name)
		}
	}
	return pk
}

// Column returns the named column.
func (s *TableSchema) Column(name string) (Column, bool) {
	if s == nil {
		return Column{}, false
	}
	for _, col := range s.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// ColumnNames returns column names in table order.
func (s *TableSchema) ColumnNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// HasColumn reports whether the named column exists.
func (s *TableSchema) HasColumn(name string) bool {
	_, ok := s.Column(name)
	return ok
}
