package datadiff

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dbpull/dbpull/dbtable"
	"github.com/dbpull/dbpull/row"
	"github.com/dbpull/dbpull/testutils"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func usersSchema() *dbtable.TableSchema {
	return &dbtable.TableSchema{
		Name: "users",
		Columns: []dbtable.Column{
			{Name: "id", Type: "int", Key: "PRI"},
			{Name: "name", Type: "varchar(255)", Nullable: true},
		},
	}
}

func userRow(id int, name string) row.Row {
	return row.New().Set("id", row.Int(int64(id))).Set("name", row.Text(name))
}

func testOpts() Options {
	return Options{Logger: zerolog.Nop()}
}

func TestDiffTableDataStreaming(t *testing.T) {
	ctx := context.Background()
	source := testutils.NewFakeStore().AddTable(
		usersSchema(), userRow(1, "a"), userRow(2, "b2"), userRow(3, "c"),
	)
	local := testutils.NewFakeStore().AddTable(
		usersSchema(), userRow(1, "a"), userRow(2, "b"), userRow(4, "d"),
	)

	opts := testOpts()
	opts.ChunkSize = 2
	diff, err := DiffTableData(ctx, source, local, "users", opts)
	require.NoError(t, err)

	require.Equal(t, StrategyStreaming, diff.Strategy)
	require.Equal(t, []string{"id"}, diff.PrimaryKey)
	require.True(t, diff.HasChanges())

	require.Len(t, diff.ToInsert, 1)
	require.True(t, diff.ToInsert[0].Equal(userRow(3, "c")))

	require.Len(t, diff.ToUpdate, 1)
	require.True(t, diff.ToUpdate[0].Row.Equal(userRow(2, "b2")))
	require.Equal(t, []string{"name"}, diff.ToUpdate[0].ChangedColumns)

	require.Len(t, diff.ToDelete, 1)
	require.True(t, diff.ToDelete[0].Equal(row.New().Set("id", row.Int(4))))

	require.Equal(t, Stats{
		RemoteRows:  3,
		LocalRows:   3,
		Inserts:     1,
		Updates:     1,
		Deletes:     1,
		RowsScanned: 3,
	}, diff.Stats)
}

func TestDiffTableDataIdentical(t *testing.T) {
	ctx := context.Background()
	rows := []row.Row{userRow(1, "a"), userRow(2, "b")}
	source := testutils.NewFakeStore().AddTable(usersSchema(), rows...)
	local := testutils.NewFakeStore().AddTable(usersSchema(), rows...)

	diff, err := DiffTableData(ctx, source, local, "users", testOpts())
	require.NoError(t, err)
	require.False(t, diff.HasChanges())
	require.Empty(t, diff.ToInsert)
	require.Empty(t, diff.ToUpdate)
	require.Empty(t, diff.ToDelete)
}

// Every remote key lands in exactly one bucket, and deletes are exactly the
// local-only keys.
func TestDiffTableDataPartition(t *testing.T) {
	ctx := context.Background()
	source := testutils.NewFakeStore()
	local := testutils.NewFakeStore()

	var remoteRows, localRows []row.Row
	for id := 1; id <= 10; id++ {
		remoteRows = append(remoteRows, userRow(id, fmt.Sprintf("r%d", id)))
	}
	// Local shares 6..10 (6 and 7 stale), plus 11..15 which only it has.
	for id := 6; id <= 15; id++ {
		name := fmt.Sprintf("r%d", id)
		if id == 6 || id == 7 {
			name = "stale"
		}
		localRows = append(localRows, userRow(id, name))
	}
	source.AddTable(usersSchema(), remoteRows...)
	local.AddTable(usersSchema(), localRows...)

	opts := testOpts()
	opts.ChunkSize = 3
	diff, err := DiffTableData(ctx, source, local, "users", opts)
	require.NoError(t, err)

	buckets := make(map[string]int)
	for _, r := range diff.ToInsert {
		buckets[r.PKString(diff.PrimaryKey)]++
	}
	for _, u := range diff.ToUpdate {
		buckets[u.Row.PKString(diff.PrimaryKey)]++
	}
	for _, r := range diff.ToDelete {
		buckets[r.PKString(diff.PrimaryKey)]++
	}
	for key, count := range buckets {
		require.Equal(t, 1, count, "key %q classified %d times", key, count)
	}

	require.Len(t, diff.ToInsert, 5)
	require.Len(t, diff.ToUpdate, 2)
	require.Len(t, diff.ToDelete, 5)
}

func TestDiffTableDataFullReplace(t *testing.T) {
	ctx := context.Background()
	schema := &dbtable.TableSchema{
		Name: "audit_log",
		Columns: []dbtable.Column{
			{Name: "message", Type: "text", Nullable: true},
		},
	}
	source := testutils.NewFakeStore().AddTable(schema,
		row.New().Set("message", row.Text("one")),
		row.New().Set("message", row.Text("two")),
	)
	local := testutils.NewFakeStore().AddTable(schema,
		row.New().Set("message", row.Text("stale")),
	)

	diff, err := DiffTableData(ctx, source, local, "audit_log", testOpts())
	require.NoError(t, err)
	require.Equal(t, StrategyFullReplace, diff.Strategy)
	require.True(t, diff.FullReplace)
	require.True(t, diff.HasChanges())
	require.Len(t, diff.ReplacementRows, 2)
	require.Empty(t, diff.ToInsert)
	require.Equal(t, int64(2), diff.Stats.RemoteRows)
	require.Equal(t, int64(1), diff.Stats.LocalRows)
	require.Equal(t, 2, diff.Stats.Inserts)
}

func TestDiffTableDataFirstSync(t *testing.T) {
	ctx := context.Background()
	source := testutils.NewFakeStore().AddTable(
		usersSchema(), userRow(1, "a"), userRow(2, "b"),
	)
	local := testutils.NewFakeStore()

	diff, err := DiffTableData(ctx, source, local, "users", testOpts())
	require.NoError(t, err)
	require.Equal(t, StrategyFirstSync, diff.Strategy)
	require.Len(t, diff.ToInsert, 2)
	require.Empty(t, diff.ToUpdate)
	require.Empty(t, diff.ToDelete)
}

func eventsSchema() *dbtable.TableSchema {
	return &dbtable.TableSchema{
		Name: "events",
		Columns: []dbtable.Column{
			{Name: "id", Type: "int", Key: "PRI"},
			{Name: "payload", Type: "text", Nullable: true},
			{Name: "updated_at", Type: "timestamp", Nullable: true},
		},
	}
}

func eventRow(id int, payload string, updatedAt time.Time) row.Row {
	return row.New().
		Set("id", row.Int(int64(id))).
		Set("payload", row.Text(payload)).
		Set("updated_at", row.Timestamp(updatedAt))
}

func TestDiffTableDataIncremental(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

	// Local saw everything up to base+2h. Remote then updated id=1 and
	// added id=5; id=3 was deleted remotely, which this mode cannot see.
	source := testutils.NewFakeStore().AddTable(eventsSchema(),
		eventRow(1, "changed", base.Add(3*time.Hour)),
		eventRow(2, "same", base.Add(time.Hour)),
		eventRow(5, "new", base.Add(4*time.Hour)),
	)
	local := testutils.NewFakeStore().AddTable(eventsSchema(),
		eventRow(1, "original", base),
		eventRow(2, "same", base.Add(time.Hour)),
		eventRow(3, "gone upstream", base.Add(2*time.Hour)),
		eventRow(4, "also gone", base.Add(30*time.Minute)),
	)

	opts := testOpts()
	opts.UseIncremental = true
	diff, err := DiffTableData(ctx, source, local, "events", opts)
	require.NoError(t, err)

	require.Equal(t, StrategyIncremental, diff.Strategy)
	require.True(t, diff.Incremental())
	require.Len(t, diff.ToInsert, 1)
	require.True(t, diff.ToInsert[0].Equal(eventRow(5, "new", base.Add(4*time.Hour))))
	require.Len(t, diff.ToUpdate, 1)
	require.True(t, diff.ToUpdate[0].Row.Equal(eventRow(1, "changed", base.Add(3*time.Hour))))

	// Deletes are never planned in this mode; drift shows up as a warning.
	require.Empty(t, diff.ToDelete)
	require.Len(t, diff.Warnings, 1)
	require.Contains(t, diff.Warnings[0], "incremental mode cannot detect deletes")
}

func TestDiffTableDataIncrementalEmptyLocal(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	source := testutils.NewFakeStore().AddTable(eventsSchema(),
		eventRow(1, "a", base),
		eventRow(2, "b", base.Add(time.Hour)),
	)
	local := testutils.NewFakeStore().AddTable(eventsSchema())

	opts := testOpts()
	opts.UseIncremental = true
	diff, err := DiffTableData(ctx, source, local, "events", opts)
	require.NoError(t, err)

	// No local watermark to diff against: everything comes over as inserts.
	require.Equal(t, StrategyFirstSync, diff.Strategy)
	require.Len(t, diff.ToInsert, 2)
}

func TestDiffTableDataInMemoryMatchesStreaming(t *testing.T) {
	ctx := context.Background()
	newSource := func() *testutils.FakeStore {
		return testutils.NewFakeStore().AddTable(
			usersSchema(), userRow(1, "a"), userRow(2, "b2"), userRow(3, "c"),
		)
	}
	newLocal := func() *testutils.FakeStore {
		return testutils.NewFakeStore().AddTable(
			usersSchema(), userRow(1, "a"), userRow(2, "b"), userRow(4, "d"),
		)
	}

	streaming, err := DiffTableData(ctx, newSource(), newLocal(), "users", testOpts())
	require.NoError(t, err)

	opts := testOpts()
	opts.InMemory = true
	inMemory, err := DiffTableData(ctx, newSource(), newLocal(), "users", opts)
	require.NoError(t, err)

	require.Equal(t, streaming.ToInsert, inMemory.ToInsert)
	require.Equal(t, streaming.ToUpdate, inMemory.ToUpdate)
	require.Equal(t, streaming.ToDelete, inMemory.ToDelete)
	require.Equal(t, streaming.Stats, inMemory.Stats)
}

func TestDiffTableDataPrimaryKeyOverride(t *testing.T) {
	ctx := context.Background()
	schema := &dbtable.TableSchema{
		Name: "settings",
		Columns: []dbtable.Column{
			{Name: "key", Type: "varchar(64)"},
			{Name: "value", Type: "text", Nullable: true},
		},
	}
	kv := func(k, v string) row.Row {
		return row.New().Set("key", row.Text(k)).Set("value", row.Text(v))
	}
	source := testutils.NewFakeStore().AddTable(schema, kv("a", "1"), kv("b", "2"))
	local := testutils.NewFakeStore().AddTable(schema, kv("a", "1"))

	opts := testOpts()
	opts.PrimaryKeyOverride = []string{"key"}
	diff, err := DiffTableData(ctx, source, local, "settings", opts)
	require.NoError(t, err)

	// The override supplies row identity, so the table avoids full replace.
	require.Equal(t, StrategyStreaming, diff.Strategy)
	require.False(t, diff.FullReplace)
	require.Len(t, diff.ToInsert, 1)
}

func TestCompareAllData(t *testing.T) {
	ctx := context.Background()
	source := testutils.NewFakeStore().AddTable(usersSchema(), userRow(1, "a"))
	local := testutils.NewFakeStore().AddTable(usersSchema())

	diffs := CompareAllData(ctx, source, local, []string{"users", "missing"}, testOpts())
	require.Len(t, diffs, 2)

	require.NoError(t, diffs[0].Err)
	require.Equal(t, "users", diffs[0].Table)
	require.Len(t, diffs[0].ToInsert, 1)

	// The failed table is downgraded, not fatal.
	require.Equal(t, "missing", diffs[1].Table)
	require.Error(t, diffs[1].Err)
	require.False(t, diffs[1].HasChanges())
}
