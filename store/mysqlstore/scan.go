package mysqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/store"
)

// GetTableDataChunked streams the table ordered by orderBy using keyset
// pagination: each page selects LIMIT chunkSize rows past the previous
// page's last key. With an empty orderBy the table has no usable key, so a
// single full scan is chunked client-side instead.
func (s *Store) GetTableDataChunked(
	ctx context.Context, table string, chunkSize int, orderBy []string,
) (store.ChunkIterator, error) {
	cols, err := s.columnNames(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(orderBy) == 0 {
		query := fmt.Sprintf("SELECT %s FROM %s", quoteIdentList(cols), quoteIdent(table))
		return s.streamQuery(ctx, table, query, chunkSize)
	}
	it := &pageIterator{
		ctx:          ctx,
		store:        s,
		table:        table,
		cols:         cols,
		orderBy:      orderBy,
		chunkSize:    chunkSize,
		lastPageSize: chunkSize,
		waitCh:       make(chan pageResult, 1),
	}
	it.nextPage()
	return it, nil
}

func (s *Store) GetModifiedRows(
	ctx context.Context, table string, column string, since row.Value,
) (store.ChunkIterator, error) {
	cols, err := s.columnNames(ctx, table)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s > ? ORDER BY %s",
		quoteIdentList(cols), quoteIdent(table), quoteIdent(column), quoteIdent(column),
	)
	return s.streamQuery(ctx, table, query, defaultStreamChunkSize, since.Arg())
}

const defaultStreamChunkSize = 1000

// streamQuery runs one query and returns an iterator that groups the live
// result set into chunks.
func (s *Store) streamQuery(
	ctx context.Context, table string, query string, chunkSize int, args ...any,
) (store.ChunkIterator, error) {
	if chunkSize <= 0 {
		chunkSize = defaultStreamChunkSize
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "error scanning %s", table)
	}
	conv, err := newRowConverter(rows)
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return &streamIterator{rows: rows, conv: conv, chunkSize: chunkSize}, nil
}

type pageResult struct {
	chunk  []row.Row
	cursor []row.Value
	err    error
}

// pageIterator fetches keyset-paginated pages, always keeping the next page
// in flight while the caller diffs the current one.
type pageIterator struct {
	ctx       context.Context
	store     *Store
	table     string
	cols      []string
	orderBy   []string
	chunkSize int

	waitCh       chan pageResult
	chunk        []row.Row
	cursor       []row.Value
	lastPageSize int
	err          error
	closed       bool
}

func (it *pageIterator) HasNext(ctx context.Context) bool {
	for {
		if it.err != nil || it.closed {
			return false
		}
		if it.chunk != nil {
			return true
		}
		// A short page means the previous fetch drained the table.
		if it.lastPageSize < it.chunkSize {
			return false
		}
		select {
		case res := <-it.waitCh:
			if res.err != nil {
				it.err = res.err
				return false
			}
			it.lastPageSize = len(res.chunk)
			if len(res.chunk) == 0 {
				return false
			}
			it.chunk = res.chunk
			it.cursor = res.cursor
			if it.lastPageSize == it.chunkSize {
				it.nextPage()
			}
		case <-ctx.Done():
			it.err = ctx.Err()
			return false
		}
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

// Close stops further paging. The in-flight fetch, if any, completes into
// the buffered channel and is dropped.
func (it *pageIterator) Close() {
	it.closed = true
	it.chunk = nil
}

// nextPage fetches the page after the current cursor asynchronously.
func (it *pageIterator) nextPage() {
	cursor := it.cursor
	go func() {
		chunk, nextCursor, err := it.fetchPage(cursor)
		it.waitCh <- pageResult{chunk: chunk, cursor: nextCursor, err: err}
	}()
}

func (it *pageIterator) fetchPage(cursor []row.Value) ([]row.Row, []row.Value, error) {
	var sb strings.Builder
	var args []any
	fmt.Fprintf(&sb, "SELECT %s FROM %s", quoteIdentList(it.cols), quoteIdent(it.table))
	if len(cursor) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(keysetPredicate(it.orderBy, cursor, &args))
	}
	fmt.Fprintf(&sb, " ORDER BY %s LIMIT %d", quoteIdentList(it.orderBy), it.chunkSize)

	rows, err := it.store.db.QueryContext(it.ctx, sb.String(), args...)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "error scanning %s", it.table)
	}
	defer rows.Close()
	conv, err := newRowConverter(rows)
	if err != nil {
		return nil, nil, err
	}
	chunk := make([]row.Row, 0, it.chunkSize)
	nextCursor := cursor
	for rows.Next() {
		r, err := conv.scanRow(rows)
		if err != nil {
			return nil, nil, err
		}
		chunk = append(chunk, r)
		nextCursor = make([]row.Value, len(it.orderBy))
		for i, col := range it.orderBy {
			nextCursor[i], _ = r.Get(col)
		}
	}
	return chunk, nextCursor, rows.Err()
}

// keysetPredicate renders "past the cursor" as an OR-expansion, which MySQL
// plans against the key index where a row constructor comparison often does
// not: (a > x) OR (a = x AND b > y) OR ...
func keysetPredicate(cols []string, cursor []row.Value, args *[]any) string {
	var sb strings.Builder
	sb.WriteString("(")
	for i := range cols {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteString("(")
		for j := 0; j < i; j++ {
			fmt.Fprintf(&sb, "%s = ? AND ", quoteIdent(cols[j]))
			*args = append(*args, cursor[j].Arg())
		}
		fmt.Fprintf(&sb, "%s > ?", quoteIdent(cols[i]))
		*args = append(*args, cursor[i].Arg())
		sb.WriteString(")")
	}
	sb.WriteString(")")
	return sb.String()
}
