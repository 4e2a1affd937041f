// Package template compiles and renders macro templates.
//
// Sources are written with a small macro language (see Compile) that expands
// into text/template source. The compiled form is what gets cached; a Template
// can be rebuilt from it without scanning the source again.
package template

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"text/template"

	"github.com/spf13/cast"

	"github.com/rsesek/hoplite/domain/filter"
)

// ErrNoBuiltins is returned when a template imports another template but was
// not given a Builtins implementation.
var ErrNoBuiltins = errors.New("template: no builtins bound for import")

// Builtins resolves the builtin macros at render time.
type Builtins interface {
	// URL makes an application URL out of a path.
	URL(path string) string
	// Import renders the named template with vars.
	Import(ctx context.Context, name string, vars map[string]any) (string, error)
}

// Template is a compiled template and the variables it will be rendered with.
// A Template is not safe for concurrent use; Clone one per goroutine.
type Template struct {
	name     string
	compiled string
	program  *template.Template
	vars     map[string]any
	builtins Builtins
}

// New compiles source into a template.
func New(name, source string, opts ...Option) (*Template, error) {
	compiled, err := Compile(source, opts...)
	if err != nil {
		var se *SyntaxError
		var fe *FormatterError
		switch {
		case errors.As(err, &se):
			se.Name = name
		case errors.As(err, &fe):
			fe.Name = name
		}
		return nil, err
	}
	return NewFromCompiled(name, compiled)
}

// NewFromCompiled wraps output previously produced by Compile.
func NewFromCompiled(name, compiled string) (*Template, error) {
	program, err := template.New(name).
		Option("missingkey=default").
		Funcs(funcMap(context.Background(), nil)).
		Parse(compiled)
	if err != nil {
		return nil, fmt.Errorf("parse compiled template %s: %w", name, err)
	}
	return &Template{
		name:     name,
		compiled: compiled,
		program:  program,
		vars:     make(map[string]any),
	}, nil
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Compiled returns the compiled text/template source.
func (t *Template) Compiled() string { return t.compiled }

// Set stores a variable.
func (t *Template) Set(key string, value any) { t.vars[key] = value }

// Get returns a variable.
func (t *Template) Get(key string) (any, bool) {
	v, ok := t.vars[key]
	return v, ok
}

// SetBuiltins binds the implementation of url and import.
func (t *Template) SetBuiltins(b Builtins) { t.builtins = b }

// Clone returns a copy with its own variables. The parsed program is shared.
func (t *Template) Clone() *Template {
	c := *t
	c.vars = maps.Clone(t.vars)
	return &c
}

// Render executes the template. Values in vars take precedence over the
// template's own variables for this call only.
func (t *Template) Render(ctx context.Context, vars map[string]any) (string, error) {
	data := maps.Clone(t.vars)
	maps.Copy(data, vars)

	program, err := t.program.Clone()
	if err != nil {
		return "", fmt.Errorf("render %s: %w", t.name, err)
	}
	program.Funcs(funcMap(ctx, t.builtins))

	var out strings.Builder
	if err := program.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.name, err)
	}
	return out.String(), nil
}

func funcMap(ctx context.Context, b Builtins) template.FuncMap {
	return template.FuncMap{
		"fmtInt":   func(v any) int64 { return filter.Int(v) },
		"fmtFloat": func(v any) float64 { return filter.Float(v) },
		"fmtStr":   func(v any) string { return filter.String(toString(v)) },
		"fmtRaw":   toString,
		"url": func(path any) string {
			if b == nil {
				return toString(path)
			}
			return b.URL(toString(path))
		},
		"import": func(name string, dot any, pairs ...any) (string, error) {
			if b == nil {
				return "", ErrNoBuiltins
			}
			vars, err := importVars(dot, pairs)
			if err != nil {
				return "", fmt.Errorf("import %s: %w", name, err)
			}
			return b.Import(ctx, name, vars)
		},
	}
}

// importVars merges KEY VALUE pairs over the importing template's data.
func importVars(dot any, pairs []any) (map[string]any, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("odd number of key/value arguments")
	}
	vars := make(map[string]any)
	if m, ok := dot.(map[string]any); ok {
		maps.Copy(vars, m)
	}
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("argument %d: key must be a string, got %T", i, pairs[i])
		}
		vars[key] = pairs[i+1]
	}
	return vars, nil
}

func toString(v any) string {
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s
}
