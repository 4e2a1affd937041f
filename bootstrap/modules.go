package bootstrap

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/rsesek/hoplite/adapters/sqlstore"
	"github.com/rsesek/hoplite/app"
	"github.com/rsesek/hoplite/domain/record"
	"github.com/rsesek/hoplite/domain/route"
)

// Module contributes actions to an App. Modules may also implement
// Migrator, RouteProvider and TemplateProvider.
type Module interface {
	Name() string
	Register(deps ModuleDeps) error
}

// Migrator is a module that owns database tables. The *.sql files in dir
// are applied in name order before Register is called. File names must be
// unique across modules.
type Migrator interface {
	Migrations() (fsys fs.FS, dir string)
}

// RouteProvider is a module with default routes. Configured routes take
// precedence over them.
type RouteProvider interface {
	Routes() []route.Rule
}

// TemplateProvider is a module that ships templates. A file "notes/list.tpl"
// in the returned FS is the template named "notes/list". Files of the same
// name in the configured template directory override it.
type TemplateProvider interface {
	Templates() fs.FS
}

// ModuleDeps is what a module gets to register itself with.
type ModuleDeps struct {
	Dispatcher  *app.Dispatcher
	DB          sqlstore.Querier
	Placeholder record.Placeholder
	Templates   *app.TemplateLoader
	Logger      zerolog.Logger
}

// ModuleRuntime holds the modules of an App.
type ModuleRuntime struct {
	modules []Module
	logger  zerolog.Logger
}

// NewModuleRuntime creates a runtime over modules. Names must be unique.
func NewModuleRuntime(modules []Module, logger zerolog.Logger) (*ModuleRuntime, error) {
	seen := make(map[string]bool, len(modules))
	for _, m := range modules {
		if seen[m.Name()] {
			return nil, fmt.Errorf("duplicate module %q", m.Name())
		}
		seen[m.Name()] = true
	}
	return &ModuleRuntime{
		modules: modules,
		logger:  logger.With().Str("service", "modules").Logger(),
	}, nil
}

// Modules returns the modules in registration order.
func (mr *ModuleRuntime) Modules() []Module { return mr.modules }

// Migrate applies the migrations of every Migrator.
func (mr *ModuleRuntime) Migrate(db *sqlstore.DB) error {
	for _, m := range mr.modules {
		mig, ok := m.(Migrator)
		if !ok {
			continue
		}
		fsys, dir := mig.Migrations()
		if err := db.Migrate(fsys, dir); err != nil {
			return fmt.Errorf("migrate module %s: %w", m.Name(), err)
		}
		mr.logger.Debug().Str("module", m.Name()).Msg("migrations applied")
	}
	return nil
}

// Register calls Register on every module.
func (mr *ModuleRuntime) Register(deps ModuleDeps) error {
	for _, m := range mr.modules {
		if err := m.Register(deps); err != nil {
			return fmt.Errorf("register module %s: %w", m.Name(), err)
		}
		mr.logger.Info().Str("module", m.Name()).Msg("module registered")
	}
	return nil
}

// Routes returns configured followed by the default routes of every
// RouteProvider.
func (mr *ModuleRuntime) Routes(configured []route.Rule) []route.Rule {
	rules := append([]route.Rule(nil), configured...)
	for _, m := range mr.modules {
		if rp, ok := m.(RouteProvider); ok {
			rules = append(rules, rp.Routes()...)
		}
	}
	return rules
}

// TemplateFS layers fsys over the templates shipped by modules, placed where
// pattern puts their names. Module templates are copied into memory stamped
// with now, so that caches treat them as current for the life of the process.
func (mr *ModuleRuntime) TemplateFS(fsys afero.Fs, pattern string, now time.Time) (afero.Fs, error) {
	shipped := afero.NewMemMapFs()
	count := 0
	for _, m := range mr.modules {
		tp, ok := m.(TemplateProvider)
		if !ok {
			continue
		}
		err := fs.WalkDir(tp.Templates(), ".", func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || path.Ext(p) != ".tpl" {
				return err
			}
			data, err := fs.ReadFile(tp.Templates(), p)
			if err != nil {
				return err
			}
			target := fmt.Sprintf(pattern, strings.TrimSuffix(p, ".tpl"))
			if err := afero.WriteFile(shipped, target, data, 0o644); err != nil {
				return err
			}
			count++
			return shipped.Chtimes(target, now, now)
		})
		if err != nil {
			return nil, fmt.Errorf("templates of module %s: %w", m.Name(), err)
		}
	}
	if count == 0 {
		return fsys, nil
	}
	return afero.NewCopyOnWriteFs(afero.NewReadOnlyFs(shipped), fsys), nil
}
