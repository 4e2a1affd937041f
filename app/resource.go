package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/rsesek/hoplite/domain/record"
	"github.com/rsesek/hoplite/domain/web"
)

// RecordStore is the storage a ModelResource works against.
// sqlstore.Repository satisfies it.
type RecordStore[T any] interface {
	Fetch(ctx context.Context, rec *T) (*T, error)
	Insert(ctx context.Context, rec *T) error
	Update(ctx context.Context, rec *T) error
	Delete(ctx context.Context, rec *T) error
}

// ModelResource binds a record type to the REST verbs. The record is filled
// from the request data, so a route like "notes/{id}" addresses a row.
//
//	GET     fetch             not found: 404
//	POST    update, fetch     not found: 404
//	PUT     insert, fetch     record error: 400
//	DELETE  delete            record error: 400
//
// Any other storage failure is a 500 carrying the error text as the body.
type ModelResource[T any] struct {
	Store RecordStore[T]

	// Prepare, when set, runs on every new record before the verb is
	// handled. Returning an error rejects the request with a 400.
	Prepare func(req *web.Request, rec *T) error
}

// NewModelResource creates a resource over store.
func NewModelResource[T any](store RecordStore[T]) *ModelResource[T] {
	return &ModelResource[T]{Store: store}
}

func (m *ModelResource[T]) record(req *web.Request, resp *web.Response) (*T, bool) {
	rec := new(T)
	err := record.SetFrom(rec, req.Data)
	if err == nil && m.Prepare != nil {
		err = m.Prepare(req, rec)
	}
	if err != nil {
		fail(resp, http.StatusBadRequest, err)
		return nil, false
	}
	return rec, true
}

func (m *ModelResource[T]) DoGet(c *RootController, req *web.Request, resp *web.Response) {
	rec, ok := m.record(req, resp)
	if !ok {
		return
	}
	m.respond(c.Context(), resp, rec, http.StatusNotFound)
}

func (m *ModelResource[T]) DoPost(c *RootController, req *web.Request, resp *web.Response) {
	rec, ok := m.record(req, resp)
	if !ok {
		return
	}
	if err := m.Store.Update(c.Context(), rec); err != nil {
		fail(resp, statusFor(err, http.StatusNotFound), err)
		return
	}
	m.respond(c.Context(), resp, rec, http.StatusNotFound)
}

func (m *ModelResource[T]) DoPut(c *RootController, req *web.Request, resp *web.Response) {
	rec, ok := m.record(req, resp)
	if !ok {
		return
	}
	if err := m.Store.Insert(c.Context(), rec); err != nil {
		fail(resp, statusFor(err, http.StatusBadRequest), err)
		return
	}
	m.respond(c.Context(), resp, rec, http.StatusBadRequest)
}

func (m *ModelResource[T]) DoDelete(c *RootController, req *web.Request, resp *web.Response) {
	rec, ok := m.record(req, resp)
	if !ok {
		return
	}
	if err := m.Store.Delete(c.Context(), rec); err != nil {
		fail(resp, statusFor(err, http.StatusBadRequest), err)
	}
}

// respond fetches rec into the response data.
func (m *ModelResource[T]) respond(ctx context.Context, resp *web.Response, rec *T, recordStatus int) {
	row, err := m.Store.Fetch(ctx, rec)
	if err != nil {
		fail(resp, statusFor(err, recordStatus), err)
		return
	}
	values, err := record.Values(row)
	if err != nil {
		fail(resp, http.StatusInternalServerError, err)
		return
	}
	resp.Data = values
}

// statusFor returns recordStatus for errors about the record itself and 500
// for everything else.
func statusFor(err error, recordStatus int) int {
	if errors.Is(err, record.ErrNotFound) ||
		errors.Is(err, record.ErrUnknownField) ||
		errors.Is(err, record.ErrKeyMismatch) {
		return recordStatus
	}
	return http.StatusInternalServerError
}

func fail(resp *web.Response, status int, err error) {
	resp.Status = status
	resp.Body = err.Error()
}

var _ RestResource = (*ModelResource[struct{}])(nil)
