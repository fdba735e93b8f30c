// Package testutils provides in-memory fakes of the store contracts for
// package tests: a scriptable source/local database with error injection
// and a call log for asserting statement order.
package testutils

import (
	"context"
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/dbtable"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/store"
)

// FakeTable is one table's schema and data. Rows are kept in primary key
// order when the table has one.
type FakeTable struct {
	Schema *dbtable.TableSchema
	Rows   []row.Row
}

// FakeStore implements store.SourceReader and store.LocalStore in memory.
type FakeStore struct {
	Tables map[string]*FakeTable

	// Errs injects failures: keys are "op" or "op/table" and values are
	// consumed FIFO, e.g. Errs["insertRows/users"] = []error{nil, boom}
	// fails the second insert batch.
	Errs map[string][]error

	// Calls records every mutating or transactional call in order.
	Calls []string

	// TimestampCols overrides timestamp-column detection per table. When
	// absent, any column named updated_at is reported.
	TimestampCols map[string][]string
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		Tables: make(map[string]*FakeTable),
		Errs:   make(map[string][]error),
	}
}

// AddTable registers a table and sorts its rows by primary key.
func (s *FakeStore) AddTable(schema *dbtable.TableSchema, rows ...row.Row) *FakeStore {
	t := &FakeTable{Schema: schema, Rows: rows}
	sortRows(t.Rows, schema.PrimaryKey())
	s.Tables[schema.Name] = t
	return s
}

// InjectErr schedules errs to be returned by op ("insertRows/users",
// "begin", ...) in FIFO order; nil entries mean the call succeeds.
func (s *FakeStore) InjectErr(op string, errs ...error) *FakeStore {
	s.Errs[op] = append(s.Errs[op], errs...)
	return s
}

func (s *FakeStore) record(format string, args ...any) {
	s.Calls = append(s.Calls, fmt.Sprintf(format, args...))
}

// takeErr pops the next injected error for op/table, preferring the
// table-qualified key.
func (s *FakeStore) takeErr(op, table string) error {
	for _, key := range []string{op + "/" + table, op} {
		if queue, ok := s.Errs[key]; ok && len(queue) > 0 {
			err := queue[0]
			s.Errs[key] = queue[1:]
			return err
		}
	}
	return nil
}

func sortRows(rows []row.Row, pkCols []string) {
	if len(pkCols) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return compareRows(rows[i], rows[j], pkCols) < 0
	})
}

func compareRows(a, b row.Row, cols []string) int {
	for _, col := range cols {
		av, _ := a.Get(col)
		bv, _ := b.Get(col)
		if c := av.Compare(bv); c != 0 {
			return c
		}
	}
	return 0
}

func (s *FakeStore) table(name string) (*FakeTable, error) {
	t, ok := s.Tables[name]
	if !ok {
		return nil, errors.Newf("table %s does not exist", name)
	}
	return t, nil
}

func (s *FakeStore) TableNames(ctx context.Context) ([]string, error) {
	if err := s.takeErr("tableNames", ""); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *FakeStore) GetTableSchema(ctx context.Context, table string) (*dbtable.TableSchema, error) {
	if err := s.takeErr("getTableSchema", table); err != nil {
		return nil, err
	}
	t, ok := s.Tables[table]
	if !ok {
		return nil, nil
	}
	return t.Schema, nil
}

func (s *FakeStore) CheckTimestampColumns(ctx context.Context, table string) ([]string, error) {
	if err := s.takeErr("checkTimestampColumns", table); err != nil {
		return nil, err
	}
	if cols, ok := s.TimestampCols[table]; ok {
		return cols, nil
	}
	t, ok := s.Tables[table]
	if !ok {
		return nil, nil
	}
	if t.Schema.HasColumn("updated_at") {
		return []string{"updated_at"}, nil
	}
	return nil, nil
}

func (s *FakeStore) GetRowCount(ctx context.Context, table string) (int64, error) {
	if err := s.takeErr("getRowCount", table); err != nil {
		return 0, err
	}
	t, err := s.table(table)
	if err != nil {
		return 0, err
	}
	return int64(len(t.Rows)), nil
}

func (s *FakeStore) GetTableDataChunked(
	ctx context.Context, table string, chunkSize int, orderBy []string,
) (store.ChunkIterator, error) {
	if err := s.takeErr("getTableDataChunked", table); err != nil {
		return nil, err
	}
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	rows := append([]row.Row(nil), t.Rows...)
	sortRows(rows, orderBy)
	return newSliceIterator(rows, chunkSize, s.takeErr("chunk", table)), nil
}

func (s *FakeStore) GetModifiedRows(
	ctx context.Context, table string, column string, since row.Value,
) (store.ChunkIterator, error) {
	if err := s.takeErr("getModifiedRows", table); err != nil {
		return nil, err
	}
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	var modified []row.Row
	for _, r := range t.Rows {
		v, ok := r.Get(column)
		if ok && v.Compare(since) > 0 {
			modified = append(modified, r)
		}
	}
	return newSliceIterator(modified, 100, nil), nil
}

func (s *FakeStore) TableExists(ctx context.Context, table string) (bool, error) {
	if err := s.takeErr("tableExists", table); err != nil {
		return false, err
	}
	_, ok := s.Tables[table]
	return ok, nil
}

func (s *FakeStore) GetMaxTimestamp(
	ctx context.Context, table string, column string,
) (row.Value, bool, error) {
	if err := s.takeErr("getMaxTimestamp", table); err != nil {
		return row.Null(), false, err
	}
	t, err := s.table(table)
	if err != nil {
		return row.Null(), false, err
	}
	max := row.Null()
	found := false
	for _, r := range t.Rows {
		v, ok := r.Get(column)
		if !ok || v.IsNull() {
			continue
		}
		if !found || v.Compare(max) > 0 {
			max = v
			found = true
		}
	}
	return max, found, nil
}

func (s *FakeStore) GetRowsByPrimaryKey(
	ctx context.Context, table string, pkCols []string, keys [][]row.Value,
) ([]row.Row, error) {
	if err := s.takeErr("getRowsByPrimaryKey", table); err != nil {
		return nil, err
	}
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		wanted[keyString(pkCols, key)] = struct{}{}
	}
	var ret []row.Row
	for _, r := range t.Rows {
		if _, ok := wanted[r.PKString(pkCols)]; ok {
			ret = append(ret, r)
		}
	}
	return ret, nil
}

func (s *FakeStore) GetRowByPrimaryKey(
	ctx context.Context, table string, pkCols []string, key []row.Value,
) (row.Row, bool, error) {
	if err := s.takeErr("getRowByPrimaryKey", table); err != nil {
		return row.Row{}, false, err
	}
	t, err := s.table(table)
	if err != nil {
		return row.Row{}, false, err
	}
	want := keyString(pkCols, key)
	for _, r := range t.Rows {
		if r.PKString(pkCols) == want {
			return r, true, nil
		}
	}
	return row.Row{}, false, nil
}

func keyString(pkCols []string, key []row.Value) string {
	r := row.New()
	for i, col := range pkCols {
		r = r.Set(col, key[i])
	}
	return r.PKString(pkCols)
}

func (s *FakeStore) ExecuteSchema(ctx context.Context, sql string) error {
	s.record("executeSchema(%s)", sql)
	return s.takeErr("executeSchema", "")
}

func (s *FakeStore) Begin(ctx context.Context) (store.Tx, error) {
	s.record("begin")
	if err := s.takeErr("begin", ""); err != nil {
		return nil, err
	}
	return &fakeTx{store: s, saved: make(map[string][]row.Row)}, nil
}

// fakeTx mutates the live tables but snapshots each table before its first
// mutation, so Rollback restores the pre-transaction state.
type fakeTx struct {
	store *FakeStore
	saved map[string][]row.Row
	done  bool
}

func (tx *fakeTx) snapshot(table string) {
	if _, ok := tx.saved[table]; ok {
		return
	}
	if t, ok := tx.store.Tables[table]; ok {
		tx.saved[table] = append([]row.Row(nil), t.Rows...)
	}
}

func (tx *fakeTx) InsertRows(ctx context.Context, table string, rows []row.Row) error {
	tx.store.record("insertRows(%s,%d)", table, len(rows))
	if err := tx.store.takeErr("insertRows", table); err != nil {
		return err
	}
	t, err := tx.store.table(table)
	if err != nil {
		return err
	}
	tx.snapshot(table)
	t.Rows = append(t.Rows, rows...)
	sortRows(t.Rows, t.Schema.PrimaryKey())
	return nil
}

func (tx *fakeTx) UpdateRow(
	ctx context.Context, table string, r row.Row, changedCols []string, pkCols []string,
) error {
	tx.store.record("updateRow(%s,%s)", table, r.PKString(pkCols))
	if err := tx.store.takeErr("updateRow", table); err != nil {
		return err
	}
	t, err := tx.store.table(table)
	if err != nil {
		return err
	}
	tx.snapshot(table)
	want := r.PKString(pkCols)
	for i, existing := range t.Rows {
		if existing.PKString(pkCols) != want {
			continue
		}
		updated := existing.Project(existing.Columns())
		for _, col := range changedCols {
			v, _ := r.Get(col)
			updated = updated.Set(col, v)
		}
		t.Rows[i] = updated
		return nil
	}
	return errors.Newf("no row with key %q in %s", want, table)
}

func (tx *fakeTx) DeleteRow(
	ctx context.Context, table string, pkCols []string, keyVals []row.Value,
) error {
	want := keyString(pkCols, keyVals)
	tx.store.record("deleteRow(%s,%s)", table, want)
	if err := tx.store.takeErr("deleteRow", table); err != nil {
		return err
	}
	t, err := tx.store.table(table)
	if err != nil {
		return err
	}
	tx.snapshot(table)
	for i, existing := range t.Rows {
		if existing.PKString(pkCols) == want {
			t.Rows = append(t.Rows[:i], t.Rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (tx *fakeTx) DeleteAllRows(ctx context.Context, table string) error {
	tx.store.record("deleteAllRows(%s)", table)
	if err := tx.store.takeErr("deleteAllRows", table); err != nil {
		return err
	}
	t, err := tx.store.table(table)
	if err != nil {
		return err
	}
	tx.snapshot(table)
	t.Rows = nil
	return nil
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	tx.store.record("commit")
	if tx.done {
		return errors.New("transaction already finished")
	}
	if err := tx.store.takeErr("commit", ""); err != nil {
		return err
	}
	tx.done = true
	tx.saved = nil
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error {
	tx.store.record("rollback")
	if tx.done {
		return errors.New("transaction already finished")
	}
	if err := tx.store.takeErr("rollback", ""); err != nil {
		return err
	}
	tx.done = true
	for table, rows := range tx.saved {
		tx.store.Tables[table].Rows = rows
	}
	return nil
}

type sliceIterator struct {
	chunks [][]row.Row
	idx    int
	err    error
	// errAtEnd surfaces after the last chunk, simulating a stream that
	// breaks mid-scan.
	errAtEnd error
}

func newSliceIterator(rows []row.Row, chunkSize int, errAtEnd error) store.ChunkIterator {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	var chunks [][]row.Row
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return &sliceIterator{chunks: chunks, errAtEnd: errAtEnd}
}

func (it *sliceIterator) HasNext(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if it.idx >= len(it.chunks) {
		if it.errAtEnd != nil {
			it.err = it.errAtEnd
		}
		return false
	}
	return true
}

func (it *sliceIterator) Next(ctx context.Context) []row.Row {
	if !it.HasNext(ctx) {
		return nil
	}
	chunk := it.chunks[it.idx]
	it.idx++
	return chunk
}

func (it *sliceIterator) Err() error {
	return it.err
}

func (it *sliceIterator) Close() {
	it.idx = len(it.chunks)
	it.errAtEnd = nil
}
