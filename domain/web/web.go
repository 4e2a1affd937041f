// Package web provides the request and response value types that flow through
// routing, actions and output filtering. Status codes are the net/http constants.
package web

import (
	"net/http"
	"strings"
)

// Request is one inbound HTTP request as seen by actions.
//
// Data aggregates the sanitized query/form input and any parameters extracted
// from the URL during routing.
type Request struct {
	Method string      // Upper case
	URL    string      // Relative to the mount point, no leading slash
	Data   map[string]any
	Header http.Header
}

// NewRequest creates a request for the given URL fragment.
func NewRequest(url string) *Request {
	return &Request{
		URL:    url,
		Data:   make(map[string]any),
		Header: make(http.Header),
	}
}

// String returns Data[key] when it holds a string.
func (r *Request) String(key string) (string, bool) {
	v, ok := r.Data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IsXHR reports whether the request was sent by a script.
func (r *Request) IsXHR() bool {
	return r.Header.Get("X-Requested-With") != ""
}

// Response holds the data produced by actions. After the actions run, the
// output filter turns it into the actual HTTP response.
type Response struct {
	Status  int
	Headers map[string]string
	Body    string // Raw body; when empty the output filter builds one from Data

	// Context carries application state between actions and is never sent.
	Context map[string]any

	// Data is the model rendered into the body.
	Data map[string]any
}

// NewResponse creates an empty 200 response.
func NewResponse() *Response {
	return &Response{
		Status:  http.StatusOK,
		Headers: make(map[string]string),
		Context: make(map[string]any),
		Data:    make(map[string]any),
	}
}

// SetHeader sets a response header using the canonical header key.
func (r *Response) SetHeader(name, value string) {
	r.Headers[http.CanonicalHeaderKey(strings.TrimSpace(name))] = value
}
