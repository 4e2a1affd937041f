package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// ErrInput is returned when a value cannot be cleaned.
var ErrInput = errors.New("input error")

// Type selects how a value is sanitized.
type Type int

const (
	TypeRaw Type = iota + 1
	TypeStr
	TypeInt
	TypeUint
	TypeFloat
	TypeBool
	TypeHTML
)

var typeNames = map[string]Type{
	"raw":   TypeRaw,
	"str":   TypeStr,
	"int":   TypeInt,
	"uint":  TypeUint,
	"float": TypeFloat,
	"bool":  TypeBool,
	"html":  TypeHTML,
}

// ParseType maps a configuration name such as "str" to a Type.
func ParseType(name string) (Type, error) {
	t, ok := typeNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown type %q", ErrInput, name)
	}
	return t, nil
}

// Source names one of the input collections.
type Source string

const (
	SourceRequest Source = "r"
	SourceGet     Source = "g"
	SourcePost    Source = "p"
	SourceCookie  Source = "c"
)

// Sources holds the raw input collections of one request. Values are strings,
// []any or map[string]any.
type Sources struct {
	Request map[string]any // When nil, Get overlaid with Post
	Get     map[string]any
	Post    map[string]any
	Cookie  map[string]any
}

// Input sanitizes the values of a request. Cleaned values are collected in In.
type Input struct {
	In map[string]any

	src Sources
}

// NewInput cleans every request value with defaultType into In. TypeRaw leaves
// In empty so that values must be cleaned explicitly.
func NewInput(src Sources, defaultType Type) (*Input, error) {
	if src.Request == nil {
		src.Request = make(map[string]any, len(src.Get)+len(src.Post))
		for k, v := range src.Get {
			src.Request[k] = v
		}
		for k, v := range src.Post {
			src.Request[k] = v
		}
	}

	in := &Input{In: make(map[string]any), src: src}
	if defaultType == TypeRaw {
		return in, nil
	}
	cleaned, err := cleanMap(src.Request, defaultType)
	if err != nil {
		return nil, err
	}
	in.In = cleaned
	return in, nil
}

// Clean sanitizes a request variable.
func (in *Input) Clean(variable string, t Type) (any, error) {
	return in.InputClean(SourceRequest, variable, t)
}

// CleanMap cleans several request variables.
func (in *Input) CleanMap(pairs map[string]Type) error {
	return in.InputCleanMap(SourceRequest, pairs)
}

// InputClean sanitizes one scalar from source and stores it in In.
func (in *Input) InputClean(source Source, variable string, t Type) (any, error) {
	global, err := in.source(source)
	if err != nil {
		return nil, err
	}
	v, err := SanitizeScalar(global[variable], t)
	if err != nil {
		return nil, fmt.Errorf("clean %s: %w", variable, err)
	}
	in.In[variable] = v
	return v, nil
}

// InputCleanMap calls InputClean for each variable.
func (in *Input) InputCleanMap(source Source, pairs map[string]Type) error {
	for variable, t := range pairs {
		if _, err := in.InputClean(source, variable, t); err != nil {
			return err
		}
	}
	return nil
}

// InputCleanDeep sanitizes every scalar inside a nested value from source.
func (in *Input) InputCleanDeep(source Source, variable string, t Type) (any, error) {
	global, err := in.source(source)
	if err != nil {
		return nil, err
	}
	v, err := cleanValue(global[variable], t)
	if err != nil {
		return nil, fmt.Errorf("clean %s: %w", variable, err)
	}
	in.In[variable] = v
	return v, nil
}

func (in *Input) source(s Source) (map[string]any, error) {
	switch s {
	case SourceRequest:
		return in.src.Request, nil
	case SourceGet:
		return in.src.Get, nil
	case SourcePost:
		return in.src.Post, nil
	case SourceCookie:
		return in.src.Cookie, nil
	}
	return nil, fmt.Errorf("%w: unknown source %q", ErrInput, s)
}

func cleanValue(v any, t Type) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		return cleanMap(x, t)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			c, err := cleanValue(item, t)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case []string:
		out := make([]any, len(x))
		for i, item := range x {
			c, err := SanitizeScalar(item, t)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}
	return SanitizeScalar(v, t)
}

func cleanMap(m map[string]any, t Type) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		c, err := cleanValue(v, t)
		if err != nil {
			return nil, fmt.Errorf("clean %s: %w", k, err)
		}
		out[k] = c
	}
	return out, nil
}

// SanitizeScalar converts one value to t. Collections are rejected.
func SanitizeScalar(v any, t Type) (any, error) {
	switch v.(type) {
	case map[string]any, []any, []string:
		return nil, fmt.Errorf("%w: cannot clean non-scalar value", ErrInput)
	}

	switch t {
	case TypeRaw:
		return v, nil
	case TypeStr:
		return TrimmedString(cast.ToString(v)), nil
	case TypeInt:
		return Int(v), nil
	case TypeUint:
		n := Int(v)
		if n < 0 {
			n = 0
		}
		return n, nil
	case TypeFloat:
		return Float(v), nil
	case TypeBool:
		switch strings.ToLower(TrimmedString(cast.ToString(v))) {
		case "true", "yes", "y", "1":
			return true, nil
		}
		return false, nil
	case TypeHTML:
		return String(cast.ToString(v)), nil
	}
	return nil, fmt.Errorf("%w: cannot clean scalar to unknown type %d", ErrInput, t)
}
