// Package filter sanitizes untrusted scalar input.
//
// The numeric coercions follow loose scripting rules: a string is read up to
// the first character that cannot continue a number, so "22.23" is 22 as an
// integer and "abc" is 0.
package filter

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/rsesek/hoplite/pkg/textcase"
)

var htmlEscaper = strings.NewReplacer(
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// String escapes the characters that let text break out of HTML markup or
// attribute values. Ampersands are left alone.
func String(s string) string {
	return htmlEscaper.Replace(s)
}

// TrimmedString strips surrounding whitespace.
func TrimmedString(s string) string {
	return strings.TrimSpace(s)
}

var (
	leadingInt   = regexp.MustCompile(`^\s*[+-]?[0-9]+`)
	leadingFloat = regexp.MustCompile(`^\s*[+-]?([0-9]+(\.[0-9]*)?|\.[0-9]+)([eE][+-]?[0-9]+)?`)
)

// Int coerces v to an integer. Floats are truncated and booleans become 0 or 1.
// Anything that does not look like a number is 0.
func Int(v any) int64 {
	s, ok := v.(string)
	if !ok {
		if f, isFloat := v.(float64); isFloat {
			return int64(f)
		}
		n, err := cast.ToInt64E(v)
		if err != nil {
			return 0
		}
		return n
	}

	m := strings.TrimSpace(leadingInt.FindString(s))
	if m == "" {
		return 0
	}
	n, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		if strings.HasPrefix(m, "-") {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return n
}

// Float coerces v to a float using the same leading-number rule as Int.
func Float(v any) float64 {
	s, ok := v.(string)
	if !ok {
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return 0
		}
		return f
	}

	m := strings.TrimSpace(leadingFloat.FindString(s))
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return f
}

// Bool reads "yes"/"true" and "no"/"false" in any case. Other values are true
// unless they are empty: nil, false, 0, "" or "0".
func Bool(v any) bool {
	if s, ok := v.(string); ok {
		switch strings.ToLower(TrimmedString(s)) {
		case "yes", "true":
			return true
		case "no", "false":
			return false
		}
	}
	return !textcase.IsEmpty(v)
}
