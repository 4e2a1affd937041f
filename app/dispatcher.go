package app

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/rsesek/hoplite/domain/filter"
	"github.com/rsesek/hoplite/domain/route"
	"github.com/rsesek/hoplite/domain/web"
	"github.com/rsesek/hoplite/ports"
)

// Dispatcher is the http.Handler at the front of an application. For every
// request it builds a web.Request, routes it through a RootController and
// hands the result to the OutputFilter, which always runs exactly once.
//
// The route map can be replaced while serving; in-flight requests keep the
// map they started with.
type Dispatcher struct {
	routes    atomic.Pointer[route.Map]
	actions   *ActionRegistry
	output    *OutputFilter
	mount     string
	inputType filter.Type
	observer  ports.RouteObserver
	logger    zerolog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMountPoint strips prefix from request paths before routing. Paths
// outside prefix are answered with 404.
func WithMountPoint(prefix string) DispatcherOption {
	return func(d *Dispatcher) { d.mount = strings.TrimRight(prefix, "/") }
}

// WithInputType sets the type every query and form value is cleaned to.
// filter.TypeRaw leaves request data empty so that actions clean explicitly
// through RootController.Input.
func WithInputType(t filter.Type) DispatcherOption {
	return func(d *Dispatcher) { d.inputType = t }
}

// WithRouteObserver reports unrouted requests to o.
func WithRouteObserver(o ports.RouteObserver) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// WithActions uses reg instead of a new registry.
func WithActions(reg *ActionRegistry) DispatcherOption {
	return func(d *Dispatcher) { d.actions = reg }
}

// NewDispatcher creates a dispatcher over routes.
func NewDispatcher(routes *route.Map, output *OutputFilter, logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		actions:   NewActionRegistry(),
		output:    output,
		inputType: filter.TypeStr,
		logger:    logger.With().Str("service", "dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if routes == nil {
		routes = route.MustNew()
	}
	d.routes.Store(routes)
	return d
}

// Register binds an action factory to a route target or action name.
func (d *Dispatcher) Register(name string, factory ActionFactory) {
	d.actions.Register(name, factory)
}

// Actions returns the action registry.
func (d *Dispatcher) Actions() *ActionRegistry { return d.actions }

// Routes returns the current route map.
func (d *Dispatcher) Routes() *route.Map { return d.routes.Load() }

// SetRoutes replaces the route map.
func (d *Dispatcher) SetRoutes(m *route.Map) {
	d.routes.Store(m)
	d.logger.Info().Int("routes", len(m.Rules())).Msg("routes replaced")
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := d.logger.With().Str("request_id", middleware.GetReqID(ctx)).Logger()

	fragment, mounted := d.fragment(r.URL.Path)
	req := web.NewRequest(fragment)
	req.Method = strings.ToUpper(r.Method)
	req.Header = r.Header.Clone()
	resp := web.NewResponse()

	if !mounted {
		logger.Debug().Str("path", r.URL.Path).Str("mount", d.mount).Msg("path outside mount point")
		if d.observer != nil {
			d.observer.RouteMissed()
		}
		resp.Status = http.StatusNotFound
		resp.Body = http.StatusText(http.StatusNotFound)
		d.output.FilterOutput(ctx, w, req, resp)
		return
	}

	in, err := d.input(r)
	if err != nil {
		logger.Debug().Err(err).Str("path", r.URL.Path).Msg("rejecting request input")
		resp.Status = http.StatusBadRequest
		resp.Body = err.Error()
		d.output.FilterOutput(ctx, w, req, resp)
		return
	}
	for k, v := range in.In {
		req.Data[k] = v
	}

	c := NewRootController(ctx, req, resp, d.Routes(), d.actions, logger)
	c.input = in
	c.RouteRequest(req.URL)

	if c.missed && d.observer != nil {
		d.observer.RouteMissed()
	}
	d.output.FilterOutput(ctx, w, req, resp)
}

// fragment returns path relative to the mount point without a leading slash.
// It reports false when path is not the mount point or below it.
func (d *Dispatcher) fragment(path string) (string, bool) {
	if d.mount != "" {
		rest, ok := strings.CutPrefix(path, d.mount)
		if !ok || (rest != "" && rest[0] != '/') {
			return "", false
		}
		path = rest
	}
	return strings.TrimLeft(path, "/"), true
}

func (d *Dispatcher) input(r *http.Request) (*filter.Input, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", filter.ErrInput, err)
	}

	cookies := make(map[string]any)
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	return filter.NewInput(filter.Sources{
		Get:    formValues(r.URL.Query()),
		Post:   formValues(r.PostForm),
		Cookie: cookies,
	}, d.inputType)
}

// formValues flattens single values to strings. Repeated keys and keys
// ending in "[]" become lists.
func formValues(v url.Values) map[string]any {
	out := make(map[string]any, len(v))
	for k, vals := range v {
		name, list := strings.CutSuffix(k, "[]")
		if len(vals) == 0 {
			continue
		}
		if len(vals) == 1 && !list {
			out[name] = vals[0]
			continue
		}
		items := make([]any, len(vals))
		for i, s := range vals {
			items[i] = s
		}
		out[name] = items
	}
	return out
}
