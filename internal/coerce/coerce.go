// Package coerce converts raw API payload values into SQL-ready typed values.
//
// Source payloads are untyped JSON: a "number" may arrive as a float, an
// integer, or a quoted string, timestamps arrive as millisecond epochs or
// preformatted strings, and any field may be missing or null. Every function
// in this package is total: it returns the coerced value and an ok flag, and
// never fails. A value that cannot be coerced is simply absent (ok=false),
// so one malformed field never costs the rest of its record.
package coerce

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the destination type a source property is coerced to.
// The string form is used directly in entity descriptor files.
type Kind string

const (
	KindString   Kind = "string"
	KindNumber   Kind = "number"
	KindInteger  Kind = "integer"
	KindBoolean  Kind = "boolean"
	KindDate     Kind = "date"
	KindDateTime Kind = "datetime"
)

// Valid reports whether k names a known coercion kind.
func (k Kind) Valid() bool {
	switch k {
	case KindString, KindNumber, KindInteger, KindBoolean, KindDate, KindDateTime:
		return true
	}
	return false
}

// Value dispatches to the coercion function for k and returns the result as
// a driver-compatible value. Unknown kinds coerce as strings.
func Value(k Kind, v any) (any, bool) {
	switch k {
	case KindNumber:
		f, ok := Number(v)
		return f, ok
	case KindInteger:
		n, ok := Integer(v)
		return n, ok
	case KindBoolean:
		b, ok := Boolean(v)
		return b, ok
	case KindDate:
		t, ok := Date(v)
		return t, ok
	case KindDateTime:
		t, ok := DateTime(v)
		return t, ok
	default:
		s, ok := String(v)
		return s, ok
	}
}

// String stringifies v, trimming whitespace and doubling embedded single
// quotes for the destination's literal syntax. Statements are parameterized
// throughout; the escaping is defense in depth, not the primary guard.
// Nil and empty strings are absent. Values are never truncated here --
// length limits are a column-type concern.
func String(v any) (string, bool) {
	if v == nil {
		return "", false
	}

	var s string
	switch val := v.(type) {
	case string:
		s = val
	case bool:
		s = strconv.FormatBool(val)
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	default:
		return "", false
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return strings.ReplaceAll(s, "'", "''"), true
}

// Number parses v as a float. Nil, empty strings, and unparseable input are
// absent. Non-finite results (NaN, Inf) are absent since the destination
// cannot store them.
func Number(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case bool:
		if val {
			f = 1
		}
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Integer is Number truncated toward zero. Values outside the int64 range
// are absent.
func Integer(v any) (int64, bool) {
	f, ok := Number(v)
	if !ok {
		return 0, false
	}
	f = math.Trunc(f)
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// truthy strings accepted by Boolean, matched case-insensitively.
// Any other non-empty string is false (present, not absent).
var truthyStrings = map[string]bool{
	"true": true,
	"1":    true,
	"yes":  true,
	"on":   true,
}

// Boolean interprets v as a flag. Booleans pass through, strings are matched
// against the truthy set, and numbers map zero/non-zero to false/true.
func Boolean(v any) (bool, bool) {
	switch val := v.(type) {
	case nil:
		return false, false
	case bool:
		return val, true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return false, false
		}
		return truthyStrings[strings.ToLower(s)], true
	case float64:
		return val != 0, true
	case float32:
		return val != 0, true
	case int:
		return val != 0, true
	case int64:
		return val != 0, true
	default:
		return false, false
	}
}

// maxEpochSeconds is 9999-12-31T23:59:59Z. Epochs beyond it are treated as
// garbage rather than converted to out-of-range timestamps.
const maxEpochSeconds = 253402300799

// epochCutover: numeric values above this are millisecond epochs, at or
// below are second epochs. Matches the upstream APIs, which emit millisecond
// timestamps for all modern dates.
const epochCutover = 1e10

// timestampLayouts tried in order when parsing a date-like string.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// DateTime interprets v as a point in time. Accepted inputs are a
// millisecond (or second) epoch number, a digit string holding one, or an
// already-formatted date-like string: something containing a date separator
// and, for full timestamps, a time separator. Everything else, including
// out-of-range epochs, is absent.
func DateTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, false
	case float64:
		return fromEpoch(val)
	case float32:
		return fromEpoch(float64(val))
	case int:
		return fromEpoch(float64(val))
	case int64:
		return fromEpoch(float64(val))
	case time.Time:
		return val, true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		if isDigits(s) {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return time.Time{}, false
			}
			return fromEpoch(f)
		}
		if !looksDateLike(s) {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// Date is DateTime truncated to the calendar date (midnight UTC).
func Date(v any) (time.Time, bool) {
	t, ok := DateTime(v)
	if !ok {
		return time.Time{}, false
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
}

func fromEpoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return time.Time{}, false
	}
	if f > epochCutover {
		f = f / 1000
	}
	if f > maxEpochSeconds {
		return time.Time{}, false
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC(), true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// looksDateLike reports whether s resembles a formatted date: it needs a
// date separator, and anything with a space must also carry a time
// separator (a bare sentence is not a timestamp).
func looksDateLike(s string) bool {
	if !strings.ContainsAny(s, "-/") {
		return false
	}
	if strings.Contains(s, " ") && !strings.Contains(s, ":") {
		return false
	}
	return true
}
