package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"html/template"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rsesek/hoplite/adapters/clock"
	"github.com/rsesek/hoplite/ports"
)

// DefaultMaxTraces bounds the trace buffer of a ProfilingDB.
const DefaultMaxTraces = 500

// Trace records one statement run through a ProfilingDB.
type Trace struct {
	Query    string
	Args     []any
	Start    time.Time
	Duration time.Duration
	Err      error
}

// ProfilingDB wraps a Querier and records every statement it runs.
type ProfilingDB struct {
	q        Querier
	logger   zerolog.Logger
	clock    ports.Clock
	observer ports.QueryObserver
	max      int

	mu      sync.Mutex
	traces  []Trace
	dropped int
}

// ProfilingOption configures a ProfilingDB.
type ProfilingOption func(*ProfilingDB)

// WithClock sets the clock used to time statements.
func WithClock(c ports.Clock) ProfilingOption {
	return func(p *ProfilingDB) { p.clock = c }
}

// WithObserver reports statement timings to o.
func WithObserver(o ports.QueryObserver) ProfilingOption {
	return func(p *ProfilingDB) { p.observer = o }
}

// WithMaxTraces bounds the number of kept traces. Older traces are dropped.
func WithMaxTraces(n int) ProfilingOption {
	return func(p *ProfilingDB) {
		if n > 0 {
			p.max = n
		}
	}
}

// NewProfilingDB wraps q.
func NewProfilingDB(q Querier, logger zerolog.Logger, opts ...ProfilingOption) *ProfilingDB {
	p := &ProfilingDB{
		q:      q,
		logger: logger,
		clock:  clock.Real{},
		max:    DefaultMaxTraces,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ExecContext runs a statement and records it.
func (p *ProfilingDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := p.clock.Now()
	res, err := p.q.ExecContext(ctx, query, args...)
	p.record(query, args, start, err)
	return res, err
}

// QueryContext runs a query and records it.
func (p *ProfilingDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := p.clock.Now()
	rows, err := p.q.QueryContext(ctx, query, args...)
	p.record(query, args, start, err)
	return rows, err
}

// QueryRowContext runs a single-row query and records it. Errors surface on
// Scan and are not part of the trace.
func (p *ProfilingDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	start := p.clock.Now()
	row := p.q.QueryRowContext(ctx, query, args...)
	p.record(query, args, start, nil)
	return row
}

func (p *ProfilingDB) record(query string, args []any, start time.Time, err error) {
	d := p.clock.Now().Sub(start)

	p.mu.Lock()
	if len(p.traces) >= p.max {
		n := copy(p.traces, p.traces[1:])
		p.traces = p.traces[:n]
		p.dropped++
	}
	p.traces = append(p.traces, Trace{Query: query, Args: args, Start: start, Duration: d, Err: err})
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.QueryObserved(statementVerb(query), d, err)
	}

	ev := p.logger.Debug()
	if err != nil {
		ev = p.logger.Warn().Err(err)
	}
	ev.Str("query", compactQuery(query)).
		Int("args", len(args)).
		Dur("duration", d).
		Msg("sql")
}

// Traces returns a copy of the recorded traces, oldest first.
func (p *ProfilingDB) Traces() []Trace {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Trace, len(p.traces))
	copy(out, p.traces)
	return out
}

// Reset discards recorded traces.
func (p *ProfilingDB) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.traces = p.traces[:0]
	p.dropped = 0
}

var debugBlock = template.Must(template.New("queries").Parse(`<table class="query-debug" cellpadding="4" cellspacing="1">
	<tr><td><strong>Query Debug: {{len .Traces}} Total</strong>{{if .Dropped}} ({{.Dropped}} dropped){{end}}</td></tr>
{{- range .Traces}}
	<tr{{if .Err}} class="error"{{end}}>
		<td>
			<pre>{{.Query}}</pre>
			{{- if .Args}}
			<ol>{{range .Args}}<li>{{.}}</li>{{end}}</ol>
			{{- end}}
			<div class="duration">({{.Duration}})</div>
			{{- if .Err}}
			<div class="error">{{.Err}}</div>
			{{- end}}
		</td>
	</tr>
{{- end}}
</table>
`))

// DebugHTML renders the recorded traces as an HTML table.
func (p *ProfilingDB) DebugHTML() string {
	p.mu.Lock()
	data := struct {
		Traces  []Trace
		Dropped int
	}{Traces: append([]Trace(nil), p.traces...), Dropped: p.dropped}
	p.mu.Unlock()

	var buf bytes.Buffer
	if err := debugBlock.Execute(&buf, data); err != nil {
		return fmt.Sprintf("<!-- query debug: %s -->", template.HTMLEscapeString(err.Error()))
	}
	return buf.String()
}

func statementVerb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}

func compactQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
