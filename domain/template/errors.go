package template

import "fmt"

// SyntaxError reports a malformed macro. Line counts from 1; Column is the
// byte offset from the preceding newline.
type SyntaxError struct {
	Name   string
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("template %s: %s at line %d:%d", e.Name, e.Msg, e.Line, e.Column)
	}
	return fmt.Sprintf("template: %s at line %d:%d", e.Msg, e.Line, e.Column)
}

// FormatterError reports an interpolation with an unknown formatter.
type FormatterError struct {
	Name      string
	Formatter string
	Line      int
	Column    int
}

func (e *FormatterError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("template %s: invalid macro formatter %q at line %d:%d", e.Name, e.Formatter, e.Line, e.Column)
	}
	return fmt.Sprintf("template: invalid macro formatter %q at line %d:%d", e.Formatter, e.Line, e.Column)
}
