package row

import (
	"sort"
	"strings"
)

// pkDelimiter joins key column values into a primary key identity string.
// The unit separator cannot appear in normalized values scanned from a
// database driver without deliberate effort, which is good enough for
// matching rows across two snapshots of the same table.
const pkDelimiter = "\x1f"

// nullKeyToken distinguishes a NULL key column from an empty string.
const nullKeyToken = "\x00<null>"

// Row is an ordered mapping from column name to Value.
type Row struct {
	cols []string
	vals map[string]Value
}

func New() Row {
	return Row{vals: make(map[string]Value)}
}

// Set adds or replaces a column value, preserving insertion order for new
// columns. It returns the row to allow chained construction.
func (r Row) Set(col string, v Value) Row {
	if _, ok := r.vals[col]; !ok {
		r.cols = append(r.cols, col)
	}
	r.vals[col] = v
	return r
}

func (r Row) Get(col string) (Value, bool) {
	v, ok := r.vals[col]
	return v, ok
}

// Columns returns column names in insertion order.
func (r Row) Columns() []string {
	return r.cols
}

func (r Row) Len() int {
	return len(r.cols)
}

// Project returns a new row containing only the given columns, in the
// given order. Missing columns are set to NULL.
func (r Row) Project(cols []string) Row {
	ret := New()
	for _, col := range cols {
		v, ok := r.vals[col]
		if !ok {
			v = Null()
		}
		ret = ret.Set(col, v)
	}
	return ret
}

// PKString is the row's primary key identity: the ordered, delimiter-joined
// string of its key column values.
func (r Row) PKString(pkCols []string) string {
	parts := make([]string, len(pkCols))
	for i, col := range pkCols {
		v, ok := r.vals[col]
		if !ok || v.IsNull() {
			parts[i] = nullKeyToken
			continue
		}
		parts[i] = v.Normalized()
	}
	return strings.Join(parts, pkDelimiter)
}

// Equal reports whether two rows hold the same columns with equal
// normalized values. Any difference in the column name sets, including
// size, makes the rows unequal.
func (r Row) Equal(o Row) bool {
	if len(r.cols) != len(o.cols) {
		return false
	}
	rCols := append([]string(nil), r.cols...)
	oCols := append([]string(nil), o.cols...)
	sort.Strings(rCols)
	sort.Strings(oCols)
	for i := range rCols {
		if rCols[i] != oCols[i] {
			return false
		}
	}
	for _, col := range rCols {
		if !r.vals[col].Equal(o.vals[col]) {
			return false
		}
	}
	return true
}

// ChangedColumns returns the columns of remote whose values differ from
// local, in remote's column order. Columns missing on the local side count
// as changed.
func ChangedColumns(remote, local Row) []string {
	var changed []string
	for _, col := range remote.cols {
		lv, ok := local.vals[col]
		if !ok || !remote.vals[col].Equal(lv) {
			changed = append(changed, col)
		}
	}
	return changed
}
