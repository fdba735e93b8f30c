// Package row models database rows as ordered mappings from column name to
// a closed scalar variant, so diffing does not depend on driver-specific
// value types.
package row

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/cockroachdb/errors"
)

type Kind int

const (
	KindNull Kind = iota
	KindText
	KindNumber
	KindBool
	KindTimestamp
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	case KindJSON:
		return "json"
	}
	return "unknown"
}

// Value is a single column value. The zero Value is NULL.
type Value struct {
	kind Kind
	text string
	num  *apd.Decimal
	b    bool
	ts   time.Time
}

func Null() Value {
	return Value{kind: KindNull}
}

func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

func Number(d *apd.Decimal) Value {
	if d == nil {
		return Null()
	}
	return Value{kind: KindNumber, num: d}
}

// NumberFromString parses a decimal value.
func NumberFromString(s string) (Value, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Null(), errors.Wrapf(err, "error parsing decimal %q", s)
	}
	return Number(d), nil
}

func MustNumber(s string) Value {
	v, err := NumberFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func Int(i int64) Value {
	return Number(apd.New(i, 0))
}

func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

func Timestamp(t time.Time) Value {
	return Value{kind: KindTimestamp, ts: t}
}

// JSON holds the textual form of a structured value. It is canonicalized
// on comparison, so formatting differences between databases do not
// register as changes.
func JSON(s string) Value {
	return Value{kind: KindJSON, text: s}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

func (v Value) Time() time.Time {
	return v.ts
}

func (v Value) Decimal() *apd.Decimal {
	return v.num
}

// Normalized returns the canonical text form used for equality and
// primary key identity: timestamps as UTC ISO-8601, JSON compacted,
// numbers with trailing zeros reduced.
func (v Value) Normalized() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindText:
		return v.text
	case KindNumber:
		var reduced apd.Decimal
		reduced.Reduce(v.num)
		return reduced.String()
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindTimestamp:
		return v.ts.UTC().Format(time.RFC3339Nano)
	case KindJSON:
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(v.text)); err != nil {
			// Not valid JSON after all; compare the raw text.
			return v.text
		}
		return buf.String()
	}
	return ""
}

// Equal reports value equality after normalization. NULL is only equal
// to NULL. Numbers compare numerically, so 1.0 equals 1.
func (v Value) Equal(o Value) bool {
	if v.IsNull() || o.IsNull() {
		return v.IsNull() && o.IsNull()
	}
	if v.kind == KindNumber && o.kind == KindNumber {
		return v.num.Cmp(o.num) == 0
	}
	return v.Normalized() == o.Normalized()
}

// Compare orders two values: NULL sorts first, numbers compare
// numerically, timestamps chronologically, everything else by normalized
// text.
func (v Value) Compare(o Value) int {
	if v.IsNull() || o.IsNull() {
		switch {
		case v.IsNull() && o.IsNull():
			return 0
		case v.IsNull():
			return -1
		default:
			return 1
		}
	}
	if v.kind == KindNumber && o.kind == KindNumber {
		return v.num.Cmp(o.num)
	}
	if v.kind == KindTimestamp && o.kind == KindTimestamp {
		switch {
		case v.ts.Before(o.ts):
			return -1
		case v.ts.After(o.ts):
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(v.Normalized(), o.Normalized())
}

// String is the loggable form.
func (v Value) String() string {
	if v.IsNull() {
		return "NULL"
	}
	return v.Normalized()
}

// Arg returns the value in a form suitable for a driver query argument.
func (v Value) Arg() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindText, KindJSON:
		return v.text
	case KindNumber:
		return v.num.String()
	case KindBool:
		return v.b
	case KindTimestamp:
		return v.ts.UTC()
	}
	return nil
}
