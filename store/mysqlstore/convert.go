package mysqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/store"
)

// valueClass is the coarse shape a column scans into, derived from the
// driver-reported database type.
type valueClass int

const (
	classText valueClass = iota
	classNumber
	classTime
	classJSON
)

func classify(dbType string) valueClass {
	switch t := strings.ToUpper(dbType); {
	case strings.Contains(t, "INT"),
		strings.Contains(t, "DECIMAL"),
		strings.Contains(t, "NUMERIC"),
		strings.Contains(t, "FLOAT"),
		strings.Contains(t, "DOUBLE"),
		t == "YEAR":
		return classNumber
	case t == "TIMESTAMP", t == "DATETIME", t == "DATE":
		return classTime
	case t == "JSON":
		return classJSON
	default:
		return classText
	}
}

// rowConverter turns one scanned result row into a row.Row using the
// result set's column metadata.
type rowConverter struct {
	cols    []string
	classes []valueClass
}

func newRowConverter(rows *sql.Rows) (*rowConverter, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, "error reading column types")
	}
	conv := &rowConverter{
		cols:    make([]string, len(types)),
		classes: make([]valueClass, len(types)),
	}
	for i, t := range types {
		conv.cols[i] = t.Name()
		conv.classes[i] = classify(t.DatabaseTypeName())
	}
	return conv, nil
}

func (c *rowConverter) scanRow(rows *sql.Rows) (row.Row, error) {
	raw := make([]any, len(c.cols))
	dest := make([]any, len(c.cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return row.Row{}, errors.Wrap(err, "error scanning row")
	}
	r := row.New()
	for i, col := range c.cols {
		v, err := convertValue(raw[i], c.classes[i])
		if err != nil {
			return row.Row{}, errors.Wrapf(err, "error converting column %s", col)
		}
		r = r.Set(col, v)
	}
	return r, nil
}

// timeLayouts covers the textual forms MySQL produces when a time value
// arrives as bytes rather than time.Time.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func convertValue(raw any, class valueClass) (row.Value, error) {
	switch v := raw.(type) {
	case nil:
		return row.Null(), nil
	case time.Time:
		return row.Timestamp(v), nil
	case bool:
		return row.Bool(v), nil
	case int64:
		return row.Int(v), nil
	case uint64:
		return row.NumberFromString(strconv.FormatUint(v, 10))
	case float64:
		return row.NumberFromString(strconv.FormatFloat(v, 'g', -1, 64))
	case []byte:
		return convertText(string(v), class)
	case string:
		return convertText(v, class)
	default:
		return row.Null(), errors.Newf("unhandled driver value type %T", raw)
	}
}

func convertText(s string, class valueClass) (row.Value, error) {
	switch class {
	case classNumber:
		return row.NumberFromString(s)
	case classTime:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return row.Timestamp(t), nil
			}
		}
		return row.Null(), errors.Newf("unparseable time value %q", s)
	case classJSON:
		return row.JSON(s), nil
	default:
		return row.Text(s), nil
	}
}

// streamIterator groups one live result set into chunks.
type streamIterator struct {
	rows      *sql.Rows
	conv      *rowConverter
	chunkSize int

	chunk []row.Row
	err   error
	done  bool
}

var _ store.ChunkIterator = (*streamIterator)(nil)

func (it *streamIterator) HasNext(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if it.chunk != nil {
		return true
	}
	if it.done {
		return false
	}
	chunk := make([]row.Row, 0, it.chunkSize)
	for len(chunk) < it.chunkSize && it.rows.Next() {
		r, err := it.conv.scanRow(it.rows)
		if err != nil {
			it.fail(err)
			return false
		}
		chunk = append(chunk, r)
	}
	if err := it.rows.Err(); err != nil {
		it.fail(err)
		return false
	}
	if len(chunk) == 0 {
		it.done = true
		_ = it.rows.Close()
		return false
	}
	if len(chunk) < it.chunkSize {
		// Final chunk; release the connection before handing it out.
		it.done = true
		_ = it.rows.Close()
	}
	it.chunk = chunk
	return true
}

func (it *streamIterator) fail(err error) {
	it.err = err
	_ = it.rows.Close()
}

func (it *streamIterator) Next(ctx context.Context) []row.Row {
	if !it.HasNext(ctx) {
		return nil
	}
	chunk := it.chunk
	it.chunk = nil
	return chunk
}

func (it *streamIterator) Err() error {
	return it.err
}

func (it *streamIterator) Close() {
	it.done = true
	_ = it.rows.Close()
}
