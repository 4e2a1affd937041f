package app

import (
	"net/http"
	"strings"

	"github.com/rsesek/hoplite/domain/web"
)

// RestResource handles the HTTP verbs of a RESTful action.
type RestResource interface {
	DoGet(c *RootController, req *web.Request, resp *web.Response)
	DoPost(c *RootController, req *web.Request, resp *web.Response)
	DoPut(c *RootController, req *web.Request, resp *web.Response)
	DoDelete(c *RootController, req *web.Request, resp *web.Response)
}

// BaseResource implements every verb as a no-op.
type BaseResource struct{}

func (BaseResource) DoGet(*RootController, *web.Request, *web.Response)    {}
func (BaseResource) DoPost(*RootController, *web.Request, *web.Response)   {}
func (BaseResource) DoPut(*RootController, *web.Request, *web.Response)    {}
func (BaseResource) DoDelete(*RootController, *web.Request, *web.Response) {}

// RequestFilter and ResponseFilter are optional hooks a RestResource may
// implement; RestAction and RestAdapter forward their filter phases to them.
type RequestFilter interface {
	FilterRequest(c *RootController, req *web.Request, resp *web.Response)
}

type ResponseFilter interface {
	FilterResponse(c *RootController, req *web.Request, resp *web.Response)
}

// RestAction dispatches on the request method to a RestResource. Methods
// other than GET, POST, PUT and DELETE get a 405 and stop the controller.
type RestAction struct {
	Resource RestResource
}

// NewRestAction wraps r.
func NewRestAction(r RestResource) *RestAction {
	return &RestAction{Resource: r}
}

func (a *RestAction) FilterRequest(c *RootController, req *web.Request, resp *web.Response) {
	if f, ok := a.Resource.(RequestFilter); ok {
		f.FilterRequest(c, req, resp)
	}
}

func (a *RestAction) Invoke(c *RootController, req *web.Request, resp *web.Response) {
	switch strings.ToUpper(req.Method) {
	case http.MethodGet:
		a.Resource.DoGet(c, req, resp)
	case http.MethodPost:
		a.Resource.DoPost(c, req, resp)
	case http.MethodPut:
		a.Resource.DoPut(c, req, resp)
	case http.MethodDelete:
		a.Resource.DoDelete(c, req, resp)
	default:
		resp.Status = http.StatusMethodNotAllowed
		c.Stop()
	}
}

func (a *RestAction) FilterResponse(c *RootController, req *web.Request, resp *web.Response) {
	if f, ok := a.Resource.(ResponseFilter); ok {
		f.FilterResponse(c, req, resp)
	}
}

// ActionKey is the request data key naming the handler of an ActionController.
const ActionKey = "action"

// HandlerFunc handles one named action of an ActionController.
type HandlerFunc func(c *RootController, req *web.Request, resp *web.Response)

// ActionController dispatches to a handler chosen by the "action" request
// value, the way a classic MVC controller picks a method. Names are matched
// case-insensitively. A missing or unknown action is a 404 and stops the
// controller.
type ActionController struct {
	BaseAction
	handlers map[string]HandlerFunc
}

// NewActionController creates a controller without handlers.
func NewActionController() *ActionController {
	return &ActionController{handlers: make(map[string]HandlerFunc)}
}

// Handle registers h for action name.
func (a *ActionController) Handle(name string, h HandlerFunc) {
	a.handlers[strings.ToLower(name)] = h
}

func (a *ActionController) Invoke(c *RootController, req *web.Request, resp *web.Response) {
	name, _ := req.String(ActionKey)
	h, ok := a.handlers[strings.ToLower(name)]
	if name == "" || !ok {
		resp.Status = http.StatusNotFound
		c.Stop()
		return
	}
	h(c, req, resp)
}

// RestAdapter exposes a RestResource to clients that can only send GET and
// POST. The "action" value selects the operation:
//
//	fetch   GET or POST  DoGet
//	insert  POST         DoPut
//	update  POST         DoPost
//	delete  POST         DoDelete
//
// Any other method gets a 405.
type RestAdapter struct {
	*ActionController
	resource RestResource
}

// NewRestAdapter adapts r.
func NewRestAdapter(r RestResource) *RestAdapter {
	a := &RestAdapter{ActionController: NewActionController(), resource: r}
	a.Handle("fetch", a.verb(r.DoGet, http.MethodGet, http.MethodPost))
	a.Handle("insert", a.verb(r.DoPut, http.MethodPost))
	a.Handle("update", a.verb(r.DoPost, http.MethodPost))
	a.Handle("delete", a.verb(r.DoDelete, http.MethodPost))
	return a
}

func (a *RestAdapter) verb(h HandlerFunc, methods ...string) HandlerFunc {
	return func(c *RootController, req *web.Request, resp *web.Response) {
		for _, m := range methods {
			if strings.EqualFold(req.Method, m) {
				h(c, req, resp)
				return
			}
		}
		resp.Status = http.StatusMethodNotAllowed
	}
}

func (a *RestAdapter) FilterRequest(c *RootController, req *web.Request, resp *web.Response) {
	if f, ok := a.resource.(RequestFilter); ok {
		f.FilterRequest(c, req, resp)
	}
}

func (a *RestAdapter) FilterResponse(c *RootController, req *web.Request, resp *web.Response) {
	if f, ok := a.resource.(ResponseFilter); ok {
		f.FilterResponse(c, req, resp)
	}
}

var (
	_ Action = (*RestAction)(nil)
	_ Action = (*ActionController)(nil)
	_ Action = (*RestAdapter)(nil)
)
