// Package record maps Go structs onto table rows.
//
// A record is a struct whose columns are pointer fields tagged with `db`. A nil
// field is unset: it is left out of inserts and updates. A Schema names the
// table, the primary key and the condition used to address a single row.
//
//	type Note struct {
//		ID    *int64  `db:"id"`
//		Title *string `db:"title"`
//	}
//
//	var NoteSchema = record.Schema{Table: "notes", PrimaryKey: []string{"id"}}
//
// A schema with one primary key column treats it as auto-increment; the key is
// never inserted and is read back from the database instead. Several key
// columns form a compound key whose values are always written.
package record

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("record not found")
	// ErrUnknownField is returned for a column the record does not declare.
	ErrUnknownField = errors.New("unknown field")
	// ErrKeyMismatch is returned when key values do not fit the primary key.
	ErrKeyMismatch = errors.New("key does not match primary key")
)

// Schema binds a record type to a table.
type Schema struct {
	Table      string
	Prefix     string   // Prepended to Table
	PrimaryKey []string // One column: auto-increment. Several: compound.

	// Condition selects a single row using :name parameters. When empty it is
	// derived from the primary key.
	Condition string
}

// TableName returns the prefixed table name.
func (s Schema) TableName() string {
	return s.Prefix + s.Table
}

// Compound reports whether the primary key has more than one column.
func (s Schema) Compound() bool {
	return len(s.PrimaryKey) > 1
}

// AutoKey returns the auto-increment column, if any.
func (s Schema) AutoKey() (string, bool) {
	if len(s.PrimaryKey) == 1 {
		return s.PrimaryKey[0], true
	}
	return "", false
}

// Where returns the single-row condition.
func (s Schema) Where() string {
	if s.Condition != "" {
		return s.Condition
	}
	parts := make([]string, len(s.PrimaryKey))
	for i, k := range s.PrimaryKey {
		parts[i] = k + " = :" + k
	}
	return strings.Join(parts, " AND ")
}

// WithCondition returns a copy of the schema using cond to address rows.
func (s Schema) WithCondition(cond string) Schema {
	s.Condition = cond
	return s
}

// Validate checks that the schema is usable.
func (s Schema) Validate() error {
	if s.Table == "" {
		return fmt.Errorf("schema: table is required")
	}
	if len(s.PrimaryKey) == 0 && s.Condition == "" {
		return fmt.Errorf("schema %s: primary key or condition is required", s.TableName())
	}
	return nil
}

// Placeholder is a driver's positional parameter syntax.
type Placeholder int

const (
	Question Placeholder = iota // ?, ?, ?
	Dollar                      // $1, $2, $3
)

func (p Placeholder) marker(n int) string {
	if p == Dollar {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

var namedParam = regexp.MustCompile(`(:?):([A-Za-z0-9_\-]+)`)

// Bind rewrites :name parameters in query to positional placeholders and
// returns the matching arguments taken from values. Missing values bind as
// NULL. A "::" cast is left alone.
func Bind(query string, values map[string]any, p Placeholder) (string, []any) {
	var args []any
	out := namedParam.ReplaceAllStringFunc(query, func(m string) string {
		if strings.HasPrefix(m, "::") {
			return m
		}
		args = append(args, values[m[1:]])
		return p.marker(len(args))
	})
	return out, args
}

// Params returns the names of the :name parameters in query, in order.
func Params(query string) []string {
	var names []string
	for _, m := range namedParam.FindAllStringSubmatch(query, -1) {
		if m[1] == "" {
			names = append(names, m[2])
		}
	}
	return names
}

// Rebind rewrites ? placeholders for p. Question marks inside quoted strings
// are left alone.
func Rebind(query string, p Placeholder) string {
	if p == Question {
		return query
	}
	var (
		b     strings.Builder
		n     int
		quote byte
	)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '?':
			n++
			b.WriteString(p.marker(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
