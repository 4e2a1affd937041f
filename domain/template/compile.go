package template

import (
	"strconv"
	"strings"
	"unicode"
)

// Default macro delimiters.
const (
	DefaultOpen  = "{%"
	DefaultClose = "%}"
)

// Formatter names accepted after the last '|' of an interpolation.
const (
	FormatInt   = "int"
	FormatFloat = "float"
	FormatStr   = "str"
	FormatRaw   = "raw"
)

var formatFuncs = map[string]string{
	FormatInt:   "fmtInt",
	FormatFloat: "fmtFloat",
	FormatStr:   "fmtStr",
	FormatRaw:   "fmtRaw",
}

// Option configures compilation.
type Option func(*compiler)

// WithDelims replaces the macro delimiters. Empty values keep the defaults.
func WithDelims(open, close string) Option {
	return func(c *compiler) {
		if open != "" {
			c.open = open
		}
		if close != "" {
			c.close = close
		}
	}
}

type compiler struct {
	open  string
	close string
}

func newCompiler(opts []Option) *compiler {
	c := &compiler{open: DefaultOpen, close: DefaultClose}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile expands the macros in source into text/template source.
//
// Three macro forms exist, shown with the default delimiters:
//
//	{%= .user.Name %}          interpolation, HTML-escaped
//	{%= .count | int %}        interpolation with a formatter: int, float, str, raw
//	{% if .loggedIn %}         statement, copied into a template action
//	{%#url "/login" %}         builtin: url PATH
//	{%#import "nav" "k" .v %}  builtin: import NAME [KEY VALUE ...]
//
// Text outside macros is kept verbatim.
func Compile(source string, opts ...Option) (string, error) {
	return newCompiler(opts).compile(source)
}

func (c *compiler) compile(src string) (string, error) {
	var (
		out   strings.Builder
		text  strings.Builder
		macro strings.Builder

		inMacro  bool
		line     = 1
		lastLine = 0 // Offset of the previous newline, for columns.

		openLine, openColumn int
	)
	out.Grow(len(src) + len(src)/4)

	for i := 0; i < len(src); {
		if src[i] == '\n' {
			line++
			lastLine = i
		}

		if strings.HasPrefix(src[i:], c.open) {
			if inMacro {
				return "", &SyntaxError{Line: line, Column: i - lastLine, Msg: "unexpected start of macro"}
			}
			writeText(&out, text.String())
			text.Reset()
			macro.Reset()
			inMacro = true
			openLine, openColumn = line, i-lastLine
			i += len(c.open)
			continue
		}

		if strings.HasPrefix(src[i:], c.close) {
			if !inMacro {
				return "", &SyntaxError{Line: line, Column: i - lastLine, Msg: "unexpected end of macro"}
			}
			action, err := expandMacro(macro.String(), openLine, openColumn)
			if err != nil {
				return "", err
			}
			out.WriteString(action)
			inMacro = false
			i += len(c.close)
			continue
		}

		if inMacro {
			macro.WriteByte(src[i])
		} else {
			text.WriteByte(src[i])
		}
		i++
	}

	if inMacro {
		return "", &SyntaxError{Line: openLine, Column: openColumn, Msg: "unterminated macro"}
	}
	writeText(&out, text.String())
	return out.String(), nil
}

// writeText copies plain text so that it cannot open a template action. A
// trailing '{' would join the '{{' of the next action.
func writeText(out *strings.Builder, s string) {
	s = strings.ReplaceAll(s, "{{", `{{"{{"}}`)
	if strings.HasSuffix(s, "{") {
		s = s[:len(s)-1] + `{{"{"}}`
	}
	out.WriteString(s)
}

func expandMacro(body string, line, column int) (string, error) {
	switch {
	case strings.HasPrefix(body, "="):
		return expandInterpolation(body[1:], line, column)
	case strings.HasPrefix(body, "#"):
		return expandBuiltin(body[1:], line, column)
	}
	stmt := strings.TrimSpace(body)
	if stmt == "" {
		return "", &SyntaxError{Line: line, Column: column, Msg: "empty macro"}
	}
	return "{{" + stmt + "}}", nil
}

func expandInterpolation(body string, line, column int) (string, error) {
	expr, format := body, FormatStr
	if pos := strings.LastIndexByte(body, '|'); pos >= 0 {
		expr = body[:pos]
		format = strings.TrimSpace(body[pos+1:])
	}
	fn, ok := formatFuncs[strings.ToLower(format)]
	if !ok {
		return "", &FormatterError{Formatter: format, Line: line, Column: column}
	}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", &SyntaxError{Line: line, Column: column, Msg: "empty expression"}
	}
	return "{{" + fn + " (" + expr + ")}}", nil
}

func expandBuiltin(body string, line, column int) (string, error) {
	body = strings.TrimSpace(body)
	name, args := body, ""
	if pos := strings.IndexFunc(body, unicode.IsSpace); pos >= 0 {
		name, args = body[:pos], strings.TrimSpace(body[pos:])
	}

	switch name {
	case "url":
		if args == "" {
			return "", &SyntaxError{Line: line, Column: column, Msg: "url requires a path"}
		}
		return "{{url " + args + "}}", nil

	case "import":
		tmpl, rest, err := splitArg(args)
		if err != nil || tmpl == "" {
			return "", &SyntaxError{Line: line, Column: column, Msg: "import requires a template name"}
		}
		action := "{{import " + tmpl + " ."
		if rest != "" {
			action += " " + rest
		}
		return action + "}}", nil
	}
	return "", &SyntaxError{Line: line, Column: column, Msg: "unknown builtin " + strconv.Quote(name)}
}

// splitArg takes the first argument off args. A single-quoted string is
// rewritten as a double-quoted one.
func splitArg(args string) (arg, rest string, err error) {
	if args == "" {
		return "", "", nil
	}
	switch args[0] {
	case '\'':
		end := strings.IndexByte(args[1:], '\'')
		if end < 0 {
			return "", "", strconv.ErrSyntax
		}
		return strconv.Quote(args[1 : end+1]), strings.TrimSpace(args[end+2:]), nil
	case '"', '`':
		prefix, err := strconv.QuotedPrefix(args)
		if err != nil {
			return "", "", err
		}
		return prefix, strings.TrimSpace(args[len(prefix):]), nil
	}
	if pos := strings.IndexFunc(args, unicode.IsSpace); pos >= 0 {
		return args[:pos], strings.TrimSpace(args[pos:]), nil
	}
	return args, "", nil
}
