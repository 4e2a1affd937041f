// Package notes is a small module storing text notes. It serves as the
// reference for writing modules: a record type with its migration, a REST
// resource over it and an HTML listing rendered from shipped templates.
//
// Default routes:
//
//	notes//        GET lists notes, PUT creates one
//	notes/rest     GET/POST form interface, see app.RestAdapter
//	notes/{id}     GET, POST updates, DELETE
package notes

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/rsesek/hoplite/adapters/random"
	"github.com/rsesek/hoplite/adapters/sqlstore"
	"github.com/rsesek/hoplite/app"
	"github.com/rsesek/hoplite/bootstrap"
	"github.com/rsesek/hoplite/domain/record"
	"github.com/rsesek/hoplite/domain/route"
	"github.com/rsesek/hoplite/domain/web"
	"github.com/rsesek/hoplite/ports"
)

//go:embed migrations/*.sql
var migrations embed.FS

//go:embed templates
var templates embed.FS

// SlugLength is the length of generated slugs.
const SlugLength = 8

// ListTemplate renders the note listing.
const ListTemplate = "notes/list"

// Note is a row of the notes table.
type Note struct {
	ID    *int64  `db:"id"`
	Slug  *string `db:"slug"`
	Title *string `db:"title"`
	Body  *string `db:"body"`
}

// Schema maps Note onto its table.
var Schema = record.Schema{Table: "notes", PrimaryKey: []string{"id"}}

// Module registers the notes actions.
type Module struct {
	random ports.Random
}

// Option configures a Module.
type Option func(*Module)

// WithRandom sets the source of slugs.
func WithRandom(r ports.Random) Option {
	return func(m *Module) { m.random = r }
}

// New creates the module.
func New(opts ...Option) *Module {
	m := &Module{random: random.Real{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) Name() string { return "notes" }

func (m *Module) Migrations() (fs.FS, string) { return migrations, "migrations" }

func (m *Module) Templates() fs.FS {
	sub, err := fs.Sub(templates, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

func (m *Module) Routes() []route.Rule {
	return []route.Rule{
		{Pattern: "notes//", Target: "notes"},
		{Pattern: "notes/rest", Target: "notes_rest"},
		{Pattern: "notes/{id}", Target: "note"},
	}
}

func (m *Module) Register(deps bootstrap.ModuleDeps) error {
	repo := sqlstore.NewRepository[Note](deps.DB, deps.Placeholder, Schema)

	res := app.NewModelResource[Note](repo)
	res.Prepare = m.assignSlug

	coll := &collection{model: res, repo: repo}

	deps.Dispatcher.Register("NoteAction", func() app.Action { return app.NewRestAction(res) })
	deps.Dispatcher.Register("NotesAction", func() app.Action { return app.NewRestAction(coll) })
	deps.Dispatcher.Register("NotesRestAction", func() app.Action { return app.NewRestAdapter(res) })
	return nil
}

// assignSlug gives new notes a random slug.
func (m *Module) assignSlug(req *web.Request, n *Note) error {
	if n.ID != nil || n.Slug != nil {
		return nil
	}
	slug, err := m.random.String(SlugLength)
	if err != nil {
		return err
	}
	n.Slug = &slug
	return nil
}

// collection is the resource behind the notes listing.
type collection struct {
	app.BaseResource
	model *app.ModelResource[Note]
	repo  *sqlstore.Repository[Note]
}

func (c *collection) DoGet(ctl *app.RootController, req *web.Request, resp *web.Response) {
	found, err := c.repo.FetchGroup(ctl.Context(), "")
	if err != nil {
		ctl.Logger().Error().Err(err).Msg("list notes")
		resp.Status = http.StatusInternalServerError
		resp.Body = http.StatusText(http.StatusInternalServerError)
		return
	}

	list := make([]any, 0, len(found))
	for _, n := range found {
		values, err := record.Values(n)
		if err != nil {
			resp.Status = http.StatusInternalServerError
			resp.Body = err.Error()
			return
		}
		list = append(list, values)
	}

	resp.Data["notes"] = list
	resp.Data["count"] = len(list)
	resp.Context[app.ContextTemplate] = ListTemplate
}

func (c *collection) DoPut(ctl *app.RootController, req *web.Request, resp *web.Response) {
	c.model.DoPut(ctl, req, resp)
	if resp.Status == http.StatusOK {
		resp.Status = http.StatusCreated
	}
}

var (
	_ bootstrap.Migrator         = (*Module)(nil)
	_ bootstrap.RouteProvider    = (*Module)(nil)
	_ bootstrap.TemplateProvider = (*Module)(nil)
)
