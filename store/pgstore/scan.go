package pgstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/store"
	"golang.org/x/sync/errgroup"
)

const defaultStreamChunkSize = 1000

// GetTableDataChunked streams the table in keyset-paginated pages. Postgres
// plans tuple comparisons natively, so the cursor predicate is simply
// (a, b) > ($1, $2). A producer goroutine keeps one page in flight.
func (s *Store) GetTableDataChunked(
	ctx context.Context, table string, chunkSize int, orderBy []string,
) (store.ChunkIterator, error) {
	cols, err := s.columnNames(ctx, table)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = defaultStreamChunkSize
	}
	if len(orderBy) == 0 {
		query := fmt.Sprintf("SELECT %s FROM %s", quoteIdentList(cols), quoteIdent(table))
		return s.streamQuery(ctx, table, query, chunkSize)
	}

	it := newPageIterator()
	g, ctx := errgroup.WithContext(ctx)
	it.group = g
	g.Go(func() error {
		defer close(it.chunks)
		return it.produce(ctx, chunkSize, func(cursor []row.Value) ([]row.Row, []row.Value, error) {
			return s.fetchPage(ctx, table, cols, orderBy, chunkSize, cursor)
		})
	})
	return it, nil
}

// produce fetches pages and hands them to the consumer, keeping one page in
// flight. It returns when the table drains, the context ends, or the
// iterator is closed by an abandoning consumer.
func (it *pageIterator) produce(
	ctx context.Context, chunkSize int, fetch func(cursor []row.Value) ([]row.Row, []row.Value, error),
) error {
	var cursor []row.Value
	for {
		chunk, nextCursor, err := fetch(cursor)
		if err != nil {
			return err
		}
		if len(chunk) > 0 {
			select {
			case it.chunks <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			case <-it.stop:
				return nil
			}
		}
		if len(chunk) < chunkSize {
			return nil
		}
		cursor = nextCursor
	}
}

func (s *Store) fetchPage(
	ctx context.Context,
	table string,
	cols, orderBy []string,
	chunkSize int,
	cursor []row.Value,
) ([]row.Row, []row.Value, error) {
	var sb strings.Builder
	var args []any
	fmt.Fprintf(&sb, "SELECT %s FROM %s", quoteIdentList(cols), quoteIdent(table))
	if len(cursor) > 0 {
		nums := make([]string, len(cursor))
		for i, v := range cursor {
			args = append(args, v.Arg())
			nums[i] = fmt.Sprintf("$%d", len(args))
		}
		if len(cursor) == 1 {
			fmt.Fprintf(&sb, " WHERE %s > %s", quoteIdent(orderBy[0]), nums[0])
		} else {
			fmt.Fprintf(&sb, " WHERE (%s) > (%s)",
				quoteIdentList(orderBy), strings.Join(nums, ", "))
		}
	}
	fmt.Fprintf(&sb, " ORDER BY %s LIMIT %d", quoteIdentList(orderBy), chunkSize)

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "error scanning %s", table)
	}
	defer rows.Close()
	conv := newRowConverter(rows)
	chunk := make([]row.Row, 0, chunkSize)
	nextCursor := cursor
	for rows.Next() {
		r, err := conv.scanRow(rows)
		if err != nil {
			return nil, nil, err
		}
		chunk = append(chunk, r)
		nextCursor = make([]row.Value, len(orderBy))
		for i, col := range orderBy {
			nextCursor[i], _ = r.Get(col)
		}
	}
	return chunk, nextCursor, rows.Err()
}

func (s *Store) GetModifiedRows(
	ctx context.Context, table string, column string, since row.Value,
) (store.ChunkIterator, error) {
	cols, err := s.columnNames(ctx, table)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s > $1 ORDER BY %s",
		quoteIdentList(cols), quoteIdent(table), quoteIdent(column), quoteIdent(column),
	)
	return s.streamQuery(ctx, table, query, defaultStreamChunkSize, since.Arg())
}

// pageIterator consumes pages produced ahead of the caller.
type pageIterator struct {
	chunks chan []row.Row
	stop   chan struct{}
	group  *errgroup.Group

	stopOnce sync.Once
	chunk    []row.Row
	err      error
	done     bool
}

func newPageIterator() *pageIterator {
	return &pageIterator{
		chunks: make(chan []row.Row, 1),
		stop:   make(chan struct{}),
	}
}

func (it *pageIterator) HasNext(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if it.chunk != nil {
		return true
	}
	if it.done {
		return false
	}
	select {
	case chunk, ok := <-it.chunks:
		if !ok {
			it.done = true
			it.err = it.group.Wait()
			return false
		}
		it.chunk = chunk
		return true
	case <-ctx.Done():
		it.err = ctx.Err()
		return false
	}
}

func (it *pageIterator) Next(ctx context.Context) []row.Row {
	if !it.HasNext(ctx) {
		return nil
	}
	chunk := it.chunk
	it.chunk = nil
	return chunk
}

func (it *pageIterator) Err() error {
	return it.err
}

// Close unblocks and stops the producer so an abandoned iterator does not
// leak its goroutine.
func (it *pageIterator) Close() {
	it.stopOnce.Do(func() { close(it.stop) })
	it.done = true
	it.chunk = nil
}
