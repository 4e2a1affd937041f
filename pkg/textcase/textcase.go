// Package textcase converts identifiers between under_score and CamelCase and
// prunes empty values out of loosely typed collections.
package textcase

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	underscoreLetter = regexp.MustCompile(`_([a-z])`)
	acronymBoundary  = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	wordBoundary     = regexp.MustCompile(`([a-z])([A-Z])`)
)

// UnderscoreToCamelCase turns under_score into UnderScore. When upperFirst is
// false the first character is left alone (underScore).
func UnderscoreToCamelCase(s string, upperFirst bool) string {
	if s == "" {
		return s
	}
	if upperFirst {
		r, size := utf8.DecodeRuneInString(s)
		s = string(unicode.ToUpper(r)) + s[size:]
	}
	return underscoreLetter.ReplaceAllStringFunc(s, func(m string) string {
		return strings.ToUpper(m[1:])
	})
}

// CamelCaseToUnderscore turns CamelCase into camel_case. Runs of capitals are
// treated as one word: AVeryLongTitleCase becomes a_very_long_title_case.
func CamelCaseToUnderscore(s string) string {
	s = acronymBoundary.ReplaceAllString(s, "${1}_${2}")
	s = wordBoundary.ReplaceAllString(s, "${1}_${2}")
	return strings.ToLower(s)
}

// StripEmpty deletes empty values from m in place. Nested maps and slices are
// pruned recursively but kept even when they end up empty.
func StripEmpty(m map[string]any) {
	for k, v := range m {
		switch nested := v.(type) {
		case map[string]any:
			StripEmpty(nested)
		case []any:
			m[k] = StripEmptySlice(nested)
		default:
			if IsEmpty(v) {
				delete(m, k)
			}
		}
	}
}

// StripEmptySlice returns s without its empty values, reusing the backing array.
func StripEmptySlice(s []any) []any {
	out := s[:0]
	for _, v := range s {
		switch nested := v.(type) {
		case map[string]any:
			StripEmpty(nested)
		case []any:
			v = StripEmptySlice(nested)
		default:
			if IsEmpty(v) {
				continue
			}
		}
		out = append(out, v)
	}
	return out
}

// IsEmpty reports whether v is a zero scalar: nil, false, 0, "" or "0".
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case string:
		return x == "" || x == "0"
	case int:
		return x == 0
	case int32:
		return x == 0
	case int64:
		return x == 0
	case uint:
		return x == 0
	case uint64:
		return x == 0
	case float32:
		return x == 0
	case float64:
		return x == 0
	}
	return false
}
