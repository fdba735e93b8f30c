package mysqlstore

import (
	"testing"
	"time"

	"github.com/dbpull/dbpull/row"
	"github.com/stretchr/testify/require"
)

func TestKeysetPredicate(t *testing.T) {
	for _, tc := range []struct {
		desc     string
		cols     []string
		cursor   []row.Value
		expected string
		args     []any
	}{
		{
			desc:     "single column",
			cols:     []string{"id"},
			cursor:   []row.Value{row.Int(10)},
			expected: "((`id` > ?))",
			args:     []any{"10"},
		},
		{
			desc:     "composite key",
			cols:     []string{"a", "b"},
			cursor:   []row.Value{row.Int(1), row.Text("x")},
			expected: "((`a` > ?) OR (`a` = ? AND `b` > ?))",
			args:     []any{"1", "1", "x"},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			var args []any
			require.Equal(t, tc.expected, keysetPredicate(tc.cols, tc.cursor, &args))
			require.Equal(t, tc.args, args)
		})
	}
}

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		dbType   string
		expected valueClass
	}{
		{dbType: "BIGINT", expected: classNumber},
		{dbType: "UNSIGNED INT", expected: classNumber},
		{dbType: "DECIMAL", expected: classNumber},
		{dbType: "DOUBLE", expected: classNumber},
		{dbType: "TIMESTAMP", expected: classTime},
		{dbType: "DATETIME", expected: classTime},
		{dbType: "DATE", expected: classTime},
		{dbType: "JSON", expected: classJSON},
		{dbType: "VARCHAR", expected: classText},
		{dbType: "BLOB", expected: classText},
	} {
		t.Run(tc.dbType, func(t *testing.T) {
			require.Equal(t, tc.expected, classify(tc.dbType))
		})
	}
}

func TestConvertValue(t *testing.T) {
	ts := time.Date(2023, 6, 1, 12, 30, 0, 0, time.UTC)
	for _, tc := range []struct {
		desc     string
		raw      any
		class    valueClass
		expected row.Value
	}{
		{desc: "nil", raw: nil, class: classText, expected: row.Null()},
		{desc: "driver time", raw: ts, class: classTime, expected: row.Timestamp(ts)},
		{desc: "int64", raw: int64(42), class: classNumber, expected: row.Int(42)},
		{desc: "bytes number", raw: []byte("1.50"), class: classNumber, expected: row.MustNumber("1.50")},
		{desc: "bytes datetime", raw: []byte("2023-06-01 12:30:00"), class: classTime, expected: row.Timestamp(ts)},
		{desc: "bytes date", raw: []byte("2023-06-01"), class: classTime, expected: row.Timestamp(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC))},
		{desc: "bytes json", raw: []byte(`{"a": 1}`), class: classJSON, expected: row.JSON(`{"a": 1}`)},
		{desc: "bytes text", raw: []byte("hello"), class: classText, expected: row.Text("hello")},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			v, err := convertValue(tc.raw, tc.class)
			require.NoError(t, err)
			require.True(t, tc.expected.Equal(v), "expected %s, got %s", tc.expected, v)
		})
	}

	_, err := convertValue([]byte("not a number"), classNumber)
	require.Error(t, err)
}
