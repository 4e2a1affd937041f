package app_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rsesek/hoplite/app"
	"github.com/rsesek/hoplite/domain/filter"
	"github.com/rsesek/hoplite/domain/route"
	"github.com/rsesek/hoplite/domain/web"
)

type missCounter struct{ n int }

func (m *missCounter) RouteMissed() { m.n++ }

// assertJSON compares two JSON documents ignoring formatting and key order.
func assertJSON(t *testing.T, got, want string) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal([]byte(got), &g); err != nil {
		t.Fatalf("invalid JSON %q: %v", got, err)
	}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("invalid expected JSON %q: %v", want, err)
	}
	if !reflect.DeepEqual(g, w) {
		t.Errorf("JSON = %s, want %s", got, want)
	}
}

func newDispatcher(t *testing.T, opts ...app.DispatcherOption) *app.Dispatcher {
	t.Helper()
	routes, err := route.New(
		route.Rule{Pattern: "echo/{id}", Target: "echo"},
		route.Rule{Pattern: "broken", Target: "unregistered"},
	)
	if err != nil {
		t.Fatalf("route.New failed: %v", err)
	}

	d := app.NewDispatcher(routes, app.NewOutputFilter(nil, zerolog.Nop()), zerolog.Nop(), opts...)
	d.Register("EchoAction", func() app.Action {
		return app.ActionFunc(func(_ *app.RootController, req *web.Request, resp *web.Response) {
			resp.Context[app.ContextResponseType] = app.TypeJSON
			resp.Data["method"] = req.Method
			resp.Data["url"] = req.URL
			for k, v := range req.Data {
				resp.Data[k] = v
			}
		})
	})
	return d
}

func serve(d http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	d.ServeHTTP(w, r)
	return w
}

func TestDispatcher_RoutesRequest(t *testing.T) {
	d := newDispatcher(t)

	w := serve(d, httptest.NewRequest("GET", "/echo/7?name=+ann+&tags[]=x", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", w.Code, w.Body.String())
	}
	assertJSON(t, w.Body.String(), `{"method":"GET","url":"echo/7","id":7,"name":"ann","tags":["x"]}`)
}

func TestDispatcher_PostForm(t *testing.T) {
	d := newDispatcher(t)

	form := url.Values{"title": {"<b>hi</b>"}}
	r := httptest.NewRequest("POST", "/echo/1", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := serve(d, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	for _, want := range []string{`"title":"<b>hi</b>"`, `"method":"POST"`} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("body %q does not contain %s", w.Body.String(), want)
		}
	}
}

func TestDispatcher_NotFound(t *testing.T) {
	misses := &missCounter{}
	d := newDispatcher(t, app.WithRouteObserver(misses))

	w := serve(d, httptest.NewRequest("GET", "/nowhere", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if misses.n != 1 {
		t.Errorf("misses = %d, want 1", misses.n)
	}
}

func TestDispatcher_UnregisteredTarget(t *testing.T) {
	misses := &missCounter{}
	d := newDispatcher(t, app.WithRouteObserver(misses))

	w := serve(d, httptest.NewRequest("GET", "/broken", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if misses.n != 0 {
		t.Errorf("misses = %d, want 0", misses.n)
	}
}

func TestDispatcher_MountPoint(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantCode int
		wantURL  string
	}{
		{"below mount", "/app/echo/3", http.StatusOK, `"url":"echo/3"`},
		{"outside mount", "/echo/3", http.StatusNotFound, ""},
		{"shared prefix without separator", "/appecho/3", http.StatusNotFound, ""},
		{"mount itself", "/app", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			misses := &missCounter{}
			d := newDispatcher(t, app.WithMountPoint("/app/"), app.WithRouteObserver(misses))

			w := serve(d, httptest.NewRequest("GET", tt.path, nil))

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %q)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantURL != "" && !strings.Contains(w.Body.String(), tt.wantURL) {
				t.Errorf("body %q does not contain %s", w.Body.String(), tt.wantURL)
			}
			if tt.wantCode == http.StatusNotFound && misses.n != 1 {
				t.Errorf("misses = %d, want 1", misses.n)
			}
		})
	}
}

func TestDispatcher_MountPointRoot(t *testing.T) {
	routes := route.MustNew(route.Rule{Pattern: "", Target: "EchoAction"})
	d := app.NewDispatcher(routes, app.NewOutputFilter(nil, zerolog.Nop()), zerolog.Nop(), app.WithMountPoint("/app"))
	d.Register("EchoAction", func() app.Action {
		return app.ActionFunc(func(_ *app.RootController, req *web.Request, resp *web.Response) {
			resp.Context[app.ContextResponseType] = app.TypeJSON
			resp.Data["url"] = req.URL
		})
	})

	for _, path := range []string{"/app", "/app/"} {
		w := serve(d, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, w.Code)
			continue
		}
		assertJSON(t, w.Body.String(), `{"url":""}`)
	}
}

func TestDispatcher_RawInput(t *testing.T) {
	d := newDispatcher(t, app.WithInputType(filter.TypeRaw))
	d.Register("EchoAction", func() app.Action {
		return app.ActionFunc(func(c *app.RootController, req *web.Request, resp *web.Response) {
			resp.Context[app.ContextResponseType] = app.TypeJSON
			_, hasQuery := req.Data["n"]
			resp.Data["in_data"] = hasQuery
			n, err := c.Input().Clean("n", filter.TypeInt)
			if err != nil {
				t.Errorf("Clean failed: %v", err)
			}
			resp.Data["n"] = n
		})
	})

	w := serve(d, httptest.NewRequest("GET", "/echo/1?n=12abc", nil))

	assertJSON(t, w.Body.String(), `{"in_data":false,"n":12}`)
}

func TestDispatcher_SetRoutes(t *testing.T) {
	d := newDispatcher(t)
	d.SetRoutes(route.MustNew(route.Rule{Pattern: "other/{id}", Target: "EchoAction"}))

	if w := serve(d, httptest.NewRequest("GET", "/echo/1", nil)); w.Code != http.StatusNotFound {
		t.Errorf("old route status = %d, want 404", w.Code)
	}
	if w := serve(d, httptest.NewRequest("GET", "/other/1", nil)); w.Code != http.StatusOK {
		t.Errorf("new route status = %d, want 200", w.Code)
	}
}

func TestDispatcher_XHRGetsJSON(t *testing.T) {
	d := newDispatcher(t)
	d.Register("EchoAction", func() app.Action {
		return app.ActionFunc(func(_ *app.RootController, _ *web.Request, resp *web.Response) {
			resp.Data["ok"] = true
		})
	})

	r := httptest.NewRequest("GET", "/echo/1", nil)
	r.Header.Set("X-Requested-With", "XMLHttpRequest")
	w := serve(d, r)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	assertJSON(t, w.Body.String(), `{"ok":true}`)
}
