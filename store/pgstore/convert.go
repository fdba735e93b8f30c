package pgstore

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type rowConverter struct {
	cols []string
}

func newRowConverter(rows pgx.Rows) *rowConverter {
	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	return &rowConverter{cols: cols}
}

func (c *rowConverter) scanRow(rows pgx.Rows) (row.Row, error) {
	raw, err := rows.Values()
	if err != nil {
		return row.Row{}, errors.Wrap(err, "error scanning row")
	}
	r := row.New()
	for i, col := range c.cols {
		v, err := convertValue(raw[i])
		if err != nil {
			return row.Row{}, errors.Wrapf(err, "error converting column %s", col)
		}
		r = r.Set(col, v)
	}
	return r, nil
}

func convertValue(raw any) (row.Value, error) {
	switch v := raw.(type) {
	case nil:
		return row.Null(), nil
	case bool:
		return row.Bool(v), nil
	case string:
		return row.Text(v), nil
	case []byte:
		return row.Text(string(v)), nil
	case int16:
		return row.Int(int64(v)), nil
	case int32:
		return row.Int(int64(v)), nil
	case int64:
		return row.Int(v), nil
	case float32:
		return row.NumberFromString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	case float64:
		return row.NumberFromString(strconv.FormatFloat(v, 'g', -1, 64))
	case time.Time:
		return row.Timestamp(v), nil
	case pgtype.Numeric:
		dv, err := v.Value()
		if err != nil {
			return row.Null(), errors.Wrap(err, "error reading numeric value")
		}
		s, ok := dv.(string)
		if !ok {
			return row.Null(), errors.Newf("unexpected numeric driver value %T", dv)
		}
		return row.NumberFromString(s)
	case map[string]any, []any:
		// json/jsonb columns decode into Go structures; re-serialize so
		// comparison happens on canonical text.
		b, err := json.Marshal(v)
		if err != nil {
			return row.Null(), errors.Wrap(err, "error reserializing json value")
		}
		return row.JSON(string(b)), nil
	default:
		return row.Null(), errors.Newf("unhandled driver value type %T", raw)
	}
}

// streamIterator groups one live result set into chunks.
type streamIterator struct {
	rows      pgx.Rows
	conv      *rowConverter
	chunkSize int

	chunk []row.Row
	err   error
	done  bool
}

var _ store.ChunkIterator = (*streamIterator)(nil)

func (s *Store) streamQuery(
	ctx context.Context, table string, query string, chunkSize int, args ...any,
) (store.ChunkIterator, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "error scanning %s", table)
	}
	return &streamIterator{
		rows:      rows,
		conv:      newRowConverter(rows),
		chunkSize: chunkSize,
	}, nil
}

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
		it.rows.Close()
		return false
	}
	if len(chunk) < it.chunkSize {
		it.done = true
		it.rows.Close()
	}
	it.chunk = chunk
	return true
}

func (it *streamIterator) fail(err error) {
	it.err = err
	it.rows.Close()
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
	it.rows.Close()
}
