package pgstore

import (
	"testing"
	"time"

	"github.com/dbpull/dbpull/dbtable"
	"github.com/dbpull/dbpull/row"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeCreate(t *testing.T) {
	def := "now()"
	schema := &dbtable.TableSchema{
		Name: "users",
		Columns: []dbtable.Column{
			{Name: "id", Type: "bigint", Key: "PRI"},
			{Name: "name", Type: "text", Nullable: true},
			{Name: "created_at", Type: "timestamp with time zone", Default: &def},
		},
	}
	require.Equal(t,
		`CREATE TABLE "users" ("id" bigint NOT NULL, "name" text, "created_at" timestamp with time zone NOT NULL DEFAULT now(), PRIMARY KEY ("id"))`,
		synthesizeCreate(schema, []string{"id"}),
	)
}

func TestConvertValue(t *testing.T) {
	ts := time.Date(2023, 6, 1, 12, 30, 0, 0, time.UTC)
	for _, tc := range []struct {
		desc     string
		raw      any
		expected row.Value
	}{
		{desc: "nil", raw: nil, expected: row.Null()},
		{desc: "bool", raw: true, expected: row.Bool(true)},
		{desc: "text", raw: "hello", expected: row.Text("hello")},
		{desc: "int32", raw: int32(7), expected: row.Int(7)},
		{desc: "int64", raw: int64(42), expected: row.Int(42)},
		{desc: "float64", raw: 1.5, expected: row.MustNumber("1.5")},
		{desc: "time", raw: ts, expected: row.Timestamp(ts)},
		{desc: "json object", raw: map[string]any{"a": float64(1)}, expected: row.JSON(`{"a":1}`)},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			v, err := convertValue(tc.raw)
			require.NoError(t, err)
			require.True(t, tc.expected.Equal(v), "expected %s, got %s", tc.expected, v)
		})
	}

	_, err := convertValue(struct{}{})
	require.Error(t, err)
}
