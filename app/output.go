package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/rsesek/hoplite/domain/web"
)

// Keys in web.Response.Context read or written by the OutputFilter.
const (
	// ContextResponseType forces the output type regardless of the request.
	ContextResponseType = "response_type"
	// ContextFilterType is set to the output type actually used.
	ContextFilterType = "_output_filter_type"
	// ContextTemplate names the template rendered with the response data
	// for html output.
	ContextTemplate = "template"
)

// Output types.
const (
	TypeHTML = "html"
	TypeJSON = "json"
	TypeXML  = "xml"
)

// FormatKey is the request data key that selects json or xml output.
const FormatKey = "format"

// OutputFilterDelegate can take over writing non-200 responses.
type OutputFilterDelegate interface {
	// OverrideOutputFiltering returns true when it has handled the response
	// itself; the filter then writes nothing.
	OverrideOutputFiltering(w http.ResponseWriter, req *web.Request, resp *web.Response) bool
}

// TemplateRenderer renders a named template. TemplateLoader implements it.
type TemplateRenderer interface {
	Render(ctx context.Context, name string, vars map[string]any) (string, error)
}

// OutputFilter turns a web.Response into the HTTP response once all actions
// have run. When the action left the body empty, one is generated from the
// response data in the format the request asked for.
type OutputFilter struct {
	templates TemplateRenderer
	delegate  OutputFilterDelegate
	logger    zerolog.Logger
}

// NewOutputFilter creates a filter rendering html through templates, which
// may be nil when the application has no templates.
func NewOutputFilter(templates TemplateRenderer, logger zerolog.Logger) *OutputFilter {
	return &OutputFilter{templates: templates, logger: logger}
}

// SetDelegate installs d; nil removes it.
func (f *OutputFilter) SetDelegate(d OutputFilterDelegate) { f.delegate = d }

// FilterOutput writes resp to w.
func (f *OutputFilter) FilterOutput(ctx context.Context, w http.ResponseWriter, req *web.Request, resp *web.Response) {
	resp.Context[ContextFilterType] = ResponseType(req, resp)

	if resp.Status != http.StatusOK && f.delegate != nil {
		if f.delegate.OverrideOutputFiltering(w, req, resp) {
			return
		}
	}

	if resp.Body == "" {
		f.createBody(ctx, req, resp)
	}

	for name, value := range resp.Headers {
		w.Header().Set(name, value)
	}
	w.WriteHeader(resp.Status)
	if _, err := io.WriteString(w, resp.Body); err != nil {
		f.logger.Debug().Err(err).Str("url", req.URL).Msg("write response")
	}
}

func (f *OutputFilter) createBody(ctx context.Context, req *web.Request, resp *web.Response) {
	switch resp.Context[ContextFilterType] {
	case TypeJSON:
		resp.SetHeader("Content-Type", "application/json")
		body, err := EncodeJSON(resp.Data)
		if err != nil {
			f.internalError(req, resp, err)
			return
		}
		resp.Body = body

	case TypeXML:
		resp.SetHeader("Content-Type", "application/xml")
		resp.Body = EncodeXML(resp.Data)

	case TypeHTML:
		resp.SetHeader("Content-Type", "text/html")
		name, ok := resp.Context[ContextTemplate].(string)
		if !ok || name == "" {
			return
		}
		if f.templates == nil {
			f.internalError(req, resp, errNoTemplates)
			return
		}
		body, err := f.templates.Render(ctx, name, resp.Data)
		if err != nil {
			f.internalError(req, resp, err)
			return
		}
		resp.Body = body
	}
}

func (f *OutputFilter) internalError(req *web.Request, resp *web.Response, err error) {
	f.logger.Error().Err(err).Str("url", req.URL).Msg("output filtering failed")
	resp.Status = http.StatusInternalServerError
	resp.Body = http.StatusText(http.StatusInternalServerError)
}

type outputError string

func (e outputError) Error() string { return string(e) }

const errNoTemplates = outputError("no template loader configured")

// ResponseType picks the output type: a response_type set by an action wins,
// then a format=json|xml request value, then json for script requests, and
// html otherwise.
func ResponseType(req *web.Request, resp *web.Response) string {
	if t, ok := resp.Context[ContextResponseType].(string); ok && t != "" {
		return t
	}
	if format, ok := req.String(FormatKey); ok {
		switch format {
		case TypeXML:
			return TypeXML
		case TypeJSON:
			return TypeJSON
		}
	}
	if req.IsXHR() {
		return TypeJSON
	}
	return TypeHTML
}

var numericString = regexp.MustCompile(`^\s*[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// EncodeJSON encodes data, writing strings that hold numbers as JSON numbers.
func EncodeJSON(data any) (string, error) {
	b, err := json.Marshal(numbersOf(data))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func numbersOf(v any) any {
	switch x := v.(type) {
	case string:
		if !numericString.MatchString(x) {
			return x
		}
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
		return x
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = numbersOf(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = numbersOf(item)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = numbersOf(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = numbersOf(item)
		}
		return out
	}
	return v
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// EncodeXML renders data as a <response> document. Map keys become elements
// in sorted order; list items are wrapped in <item>.
func EncodeXML(data map[string]any) string {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\"?>\n<response>")
	writeXMLMap(&b, data)
	b.WriteString("</response>\n")
	return b.String()
}

func writeXMLMap(b *strings.Builder, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeXMLElement(b, elementName(k), m[k])
	}
}

func writeXMLElement(b *strings.Builder, name string, v any) {
	b.WriteString("<" + name + ">")
	switch x := v.(type) {
	case nil:
	case map[string]any:
		writeXMLMap(b, x)
	case []any:
		for _, item := range x {
			writeXMLElement(b, "item", item)
		}
	case []string:
		for _, item := range x {
			writeXMLElement(b, "item", item)
		}
	case []map[string]any:
		for _, item := range x {
			writeXMLElement(b, "item", item)
		}
	default:
		b.WriteString(xmlEscaper.Replace(cast.ToString(x)))
	}
	b.WriteString("</" + name + ">")
}

// elementName keeps keys that are valid element names and maps the rest,
// such as numeric keys, to "item".
func elementName(key string) string {
	if key == "" {
		return "item"
	}
	for i, r := range key {
		switch {
		case r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
		case i > 0 && (r == '-' || r == '.' || r >= '0' && r <= '9'):
		default:
			return "item"
		}
	}
	return key
}
