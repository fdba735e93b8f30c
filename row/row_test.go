package row

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValueEqual(t *testing.T) {
	ts := time.Date(2023, 6, 1, 12, 30, 0, 0, time.UTC)
	tsBerlin := ts.In(time.FixedZone("CEST", 2*60*60))

	for _, tc := range []struct {
		desc     string
		a, b     Value
		expected bool
	}{
		{desc: "null equals null", a: Null(), b: Null(), expected: true},
		{desc: "null never equals text", a: Null(), b: Text(""), expected: false},
		{desc: "text equal", a: Text("abc"), b: Text("abc"), expected: true},
		{desc: "text unequal", a: Text("abc"), b: Text("abd"), expected: false},
		{desc: "numbers compare numerically", a: MustNumber("1.0"), b: MustNumber("1"), expected: true},
		{desc: "numbers unequal", a: MustNumber("1.5"), b: MustNumber("1.50001"), expected: false},
		{desc: "number vs text uses normalized form", a: MustNumber("1.50"), b: Text("1.5"), expected: true},
		{desc: "timestamps normalize to UTC", a: Timestamp(ts), b: Timestamp(tsBerlin), expected: true},
		{desc: "timestamps unequal", a: Timestamp(ts), b: Timestamp(ts.Add(time.Second)), expected: false},
		{desc: "json ignores whitespace", a: JSON(`{"a": 1, "b": [2, 3]}`), b: JSON(`{"a":1,"b":[2,3]}`), expected: true},
		{desc: "json differs", a: JSON(`{"a":1}`), b: JSON(`{"a":2}`), expected: false},
		{desc: "bool", a: Bool(true), b: Bool(true), expected: true},
		{desc: "bool unequal", a: Bool(true), b: Bool(false), expected: false},
		{desc: "zero value is null", a: Value{}, b: Null(), expected: true},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.a.Equal(tc.b))
			require.Equal(t, tc.expected, tc.b.Equal(tc.a))
		})
	}
}

func TestRowEqual(t *testing.T) {
	for _, tc := range []struct {
		desc     string
		a, b     Row
		expected bool
	}{
		{
			desc:     "identical rows",
			a:        New().Set("id", Int(1)).Set("name", Text("a")),
			b:        New().Set("id", Int(1)).Set("name", Text("a")),
			expected: true,
		},
		{
			desc:     "column order does not matter",
			a:        New().Set("id", Int(1)).Set("name", Text("a")),
			b:        New().Set("name", Text("a")).Set("id", Int(1)),
			expected: true,
		},
		{
			desc:     "value mismatch",
			a:        New().Set("id", Int(1)).Set("name", Text("a")),
			b:        New().Set("id", Int(1)).Set("name", Text("b")),
			expected: false,
		},
		{
			desc:     "column set size mismatch",
			a:        New().Set("id", Int(1)),
			b:        New().Set("id", Int(1)).Set("name", Text("a")),
			expected: false,
		},
		{
			desc:     "column name mismatch",
			a:        New().Set("id", Int(1)).Set("name", Text("a")),
			b:        New().Set("id", Int(1)).Set("title", Text("a")),
			expected: false,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.a.Equal(tc.b))
			require.Equal(t, tc.expected, tc.b.Equal(tc.a))
		})
	}
}

func TestPKString(t *testing.T) {
	r := New().Set("tenant", Text("acme")).Set("id", Int(42)).Set("name", Text("x"))
	require.Equal(t, "acme\x1f42", r.PKString([]string{"tenant", "id"}))
	require.Equal(t, "42\x1facme", r.PKString([]string{"id", "tenant"}))

	withNull := New().Set("id", Null())
	withEmpty := New().Set("id", Text(""))
	require.NotEqual(t, withNull.PKString([]string{"id"}), withEmpty.PKString([]string{"id"}))
}

func TestChangedColumns(t *testing.T) {
	remote := New().Set("id", Int(2)).Set("name", Text("b2")).Set("qty", Int(5))
	local := New().Set("id", Int(2)).Set("name", Text("b")).Set("qty", Int(5))
	require.Equal(t, []string{"name"}, ChangedColumns(remote, local))

	same := New().Set("id", Int(2)).Set("name", Text("b2")).Set("qty", Int(5))
	require.Empty(t, ChangedColumns(remote, same))

	missing := New().Set("id", Int(2))
	require.Equal(t, []string{"name", "qty"}, ChangedColumns(remote, missing))
}

func TestProject(t *testing.T) {
	r := New().Set("id", Int(1)).Set("name", Text("a"))
	p := r.Project([]string{"id"})
	require.Equal(t, []string{"id"}, p.Columns())
	v, ok := p.Get("id")
	require.True(t, ok)
	require.True(t, v.Equal(Int(1)))
}
