// Package app drives requests through routing, actions and output filtering,
// and loads the templates used to render responses.
package app

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rsesek/hoplite/domain/filter"
	"github.com/rsesek/hoplite/domain/route"
	"github.com/rsesek/hoplite/domain/web"
)

// Action handles a routed request. The RootController calls FilterRequest,
// Invoke and FilterResponse in order, skipping whatever is left once the
// controller has been stopped.
type Action interface {
	FilterRequest(c *RootController, req *web.Request, resp *web.Response)
	Invoke(c *RootController, req *web.Request, resp *web.Response)
	FilterResponse(c *RootController, req *web.Request, resp *web.Response)
}

// BaseAction provides no-op filters. Embed it and implement Invoke.
type BaseAction struct{}

func (BaseAction) FilterRequest(*RootController, *web.Request, *web.Response)  {}
func (BaseAction) FilterResponse(*RootController, *web.Request, *web.Response) {}

// ActionFunc adapts a function to an Action with no filters.
type ActionFunc func(c *RootController, req *web.Request, resp *web.Response)

func (f ActionFunc) FilterRequest(*RootController, *web.Request, *web.Response)  {}
func (f ActionFunc) FilterResponse(*RootController, *web.Request, *web.Response) {}

func (f ActionFunc) Invoke(c *RootController, req *web.Request, resp *web.Response) {
	f(c, req, resp)
}

// ActionFactory creates a fresh action for one request.
type ActionFactory func() Action

// ActionRegistry maps route targets to action factories.
type ActionRegistry struct {
	mu        sync.RWMutex
	factories map[string]ActionFactory
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{factories: make(map[string]ActionFactory)}
}

// Register binds name to factory. name is either a route target or the
// action name derived from one (see route.ActionName).
func (r *ActionRegistry) Register(name string, factory ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Lookup finds the factory for a route target, first by the target itself
// and then by its action name.
func (r *ActionRegistry) Lookup(target string) (ActionFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.factories[target]; ok {
		return f, true
	}
	f, ok := r.factories[route.ActionName(target)]
	return f, ok
}

// Names returns the registered names.
func (r *ActionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// RootController drives one request. It routes the URL to an action, runs
// the action's phases, and can be stopped by any action to skip the rest.
type RootController struct {
	ctx      context.Context
	request  *web.Request
	response *web.Response
	routes   *route.Map
	actions  *ActionRegistry
	logger   zerolog.Logger
	input    *filter.Input
	stopped  bool
	missed   bool
}

// NewRootController creates the controller for one request.
func NewRootController(ctx context.Context, req *web.Request, resp *web.Response,
	routes *route.Map, actions *ActionRegistry, logger zerolog.Logger) *RootController {
	return &RootController{
		ctx:      ctx,
		request:  req,
		response: resp,
		routes:   routes,
		actions:  actions,
		logger:   logger,
	}
}

// Context returns the request context.
func (c *RootController) Context() context.Context { return c.ctx }

func (c *RootController) Request() *web.Request   { return c.request }
func (c *RootController) Response() *web.Response { return c.response }

// Input returns the sanitizer holding the raw request values, or nil when the
// controller was not created by a Dispatcher.
func (c *RootController) Input() *filter.Input { return c.input }

// Logger returns the request-scoped logger.
func (c *RootController) Logger() *zerolog.Logger { return &c.logger }

// Stop prevents any further action phases from running. The response is
// written by the output filter once control returns to the dispatcher.
func (c *RootController) Stop() { c.stopped = true }

// Stopped reports whether Stop was called.
func (c *RootController) Stopped() bool { return c.stopped }

// RouteRequest looks fragment up in the route map and invokes the action it
// names. An unrouted fragment is a 404; a route whose target has no
// registered action is a 500. Both stop the controller.
func (c *RootController) RouteRequest(fragment string) {
	c.request.URL = fragment

	target, ok := c.routes.Evaluate(c.request)
	if !ok {
		c.logger.Debug().Str("url", fragment).Msg("no route")
		c.missed = true
		c.response.Status = http.StatusNotFound
		c.Stop()
		return
	}

	factory, ok := c.actions.Lookup(target)
	if !ok {
		c.logger.Error().Str("url", fragment).Str("target", target).Msg("route target has no action")
		c.response.Status = http.StatusInternalServerError
		c.Stop()
		return
	}

	c.logger.Debug().Str("url", fragment).Str("target", target).Msg("routed")
	c.InvokeAction(factory())
}

// InvokeAction runs a through its phases.
func (c *RootController) InvokeAction(a Action) {
	if c.stopped {
		return
	}
	a.FilterRequest(c, c.request, c.response)
	if c.stopped {
		return
	}
	a.Invoke(c, c.request, c.response)
	if c.stopped {
		return
	}
	a.FilterResponse(c, c.request, c.response)
}

// LookupAction returns the route pattern that leads to target.
func (c *RootController) LookupAction(target string) (string, bool) {
	return c.routes.Reverse(target)
}
