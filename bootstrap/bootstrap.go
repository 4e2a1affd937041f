// Package bootstrap wires a hoplite application together from configuration:
// database, template loader and cache, dispatcher, HTTP router and server.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/rsesek/hoplite/adapters/clock"
	"github.com/rsesek/hoplite/adapters/filecache"
	apihttp "github.com/rsesek/hoplite/adapters/http"
	"github.com/rsesek/hoplite/adapters/metrics"
	"github.com/rsesek/hoplite/adapters/objectcache"
	"github.com/rsesek/hoplite/adapters/sqlstore"
	"github.com/rsesek/hoplite/app"
	"github.com/rsesek/hoplite/config"
	"github.com/rsesek/hoplite/domain/route"
	"github.com/rsesek/hoplite/ports"
)

// App is a wired application.
type App struct {
	Logger     zerolog.Logger
	DB         *sqlstore.DB
	Queries    *sqlstore.ProfilingDB // nil unless debug or metrics are enabled
	Metrics    *metrics.Collector    // nil unless metrics are enabled
	Templates  *app.TemplateLoader
	Dispatcher *app.Dispatcher
	Handler    http.Handler
	Server     *apihttp.Server

	cfg     *config.Config
	holder  *config.Holder
	modules *ModuleRuntime
	watcher *app.TemplateWatcher
	clock   ports.Clock
}

// Config holds optional settings for New.
type Config struct {
	// ConfigPath is a YAML file. When it does not exist the configuration
	// comes from HOPLITE_* environment variables.
	ConfigPath string

	// Settings replaces ConfigPath when set. No reload is possible.
	Settings *config.Config

	Modules []Module

	// TemplateFS is where template sources and the file cache live.
	// Defaults to the OS filesystem.
	TemplateFS afero.Fs

	// Registry receives the metrics instead of the default registry.
	Registry *prometheus.Registry

	LogOutput io.Writer
	Version   string
	Clock     ports.Clock
}

// New creates an application from HOPLITE_* environment variables.
func New() (*App, error) {
	return NewWithConfig(Config{})
}

// NewWithConfig creates an application.
func NewWithConfig(opts Config) (*App, error) {
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stdout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	a := &App{clock: opts.Clock}

	bootLogger := setupLogger(config.LoggingConfig{Level: "info", Format: "json"}, opts.LogOutput)
	if err := a.loadConfig(opts, bootLogger); err != nil {
		return nil, err
	}
	a.Logger = setupLogger(a.cfg.Logging, opts.LogOutput)

	modules, err := NewModuleRuntime(opts.Modules, a.Logger)
	if err != nil {
		return nil, err
	}
	a.modules = modules

	if a.cfg.Metrics.Enabled {
		if opts.Registry != nil {
			a.Metrics = metrics.NewWithRegistry(opts.Registry)
		} else {
			a.Metrics = metrics.New()
		}
	}

	if err := a.initDatabase(); err != nil {
		return nil, err
	}
	if err := a.initTemplates(opts.TemplateFS); err != nil {
		a.Shutdown()
		return nil, err
	}
	if err := a.initDispatcher(); err != nil {
		a.Shutdown()
		return nil, err
	}
	a.initHTTPServer(opts)

	if a.holder != nil {
		a.holder.OnChange(a.applyConfig)
		if a.Metrics != nil {
			a.holder.SetObserver(a.Metrics)
		}
	}

	return a, nil
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	if a.holder != nil {
		return a.holder.Get()
	}
	return a.cfg
}

func (a *App) loadConfig(opts Config, logger zerolog.Logger) error {
	if opts.Settings != nil {
		a.cfg = opts.Settings
		return nil
	}

	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err == nil {
			holder, err := config.NewHolder(opts.ConfigPath, logger)
			if err != nil {
				return err
			}
			a.holder = holder
			a.cfg = holder.Get()
			return nil
		}
	}

	cfg, err := config.LoadWithFallback(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *App) initDatabase() error {
	db, err := sqlstore.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	a.DB = db

	if err := a.modules.Migrate(db); err != nil {
		db.Close()
		a.DB = nil
		return err
	}

	if a.cfg.Debug.Enabled || a.Metrics != nil {
		popts := []sqlstore.ProfilingOption{
			sqlstore.WithClock(a.clock),
			sqlstore.WithMaxTraces(a.cfg.Debug.MaxQueries),
		}
		if a.Metrics != nil {
			popts = append(popts, sqlstore.WithObserver(a.Metrics))
		}
		a.Queries = sqlstore.NewProfilingDB(db, a.Logger, popts...)
	}

	a.Logger.Info().
		Str("driver", a.cfg.Database.Driver).
		Bool("profiling", a.Queries != nil).
		Msg("database ready")
	return nil
}

func (a *App) querier() sqlstore.Querier {
	if a.Queries != nil {
		return a.Queries
	}
	return a.DB
}

func (a *App) initTemplates(fsys afero.Fs) error {
	tc := a.cfg.Templates
	onDisk := fsys == nil
	if onDisk {
		fsys = afero.NewOsFs()
	}

	backend, err := a.cacheBackend(fsys)
	if err != nil {
		return err
	}

	sources, err := a.modules.TemplateFS(fsys, tc.PathPattern, a.clock.Now())
	if err != nil {
		return err
	}

	lcfg := app.LoaderConfig{
		FS:          sources,
		PathPattern: tc.PathPattern,
		Backend:     backend,
		MemorySize:  tc.MemorySize,
		BaseURL:     tc.BaseURL,
		OpenDelim:   tc.OpenDelim,
		CloseDelim:  tc.CloseDelim,
		Clock:       a.clock,
	}
	if a.Metrics != nil {
		lcfg.Observer = a.Metrics
	}
	loader, err := app.NewTemplateLoader(lcfg, a.Logger)
	if err != nil {
		return fmt.Errorf("init templates: %w", err)
	}
	a.Templates = loader

	if tc.Watch && onDisk {
		w := app.NewTemplateWatcher(loader, tc.Dir, a.Logger)
		if err := w.Start(); err != nil {
			a.Logger.Warn().Err(err).Str("dir", tc.Dir).Msg("template watcher not started")
		} else {
			a.watcher = w
		}
	}

	a.Logger.Info().
		Str("pattern", tc.PathPattern).
		Str("cache", tc.Cache.Mode).
		Msg("templates ready")
	return nil
}

func (a *App) cacheBackend(fsys afero.Fs) (ports.CacheBackend, error) {
	cc := a.cfg.Templates.Cache
	switch cc.Mode {
	case config.CacheFile:
		return filecache.New(fsys, cc.Path, filecache.WithExt(cc.Ext)), nil
	case config.CacheMinIO:
		b, err := objectcache.New(objectcache.Config{
			Endpoint:  cc.MinIO.Endpoint,
			Region:    cc.MinIO.Region,
			AccessKey: cc.MinIO.AccessKey,
			SecretKey: cc.MinIO.SecretKey,
			Bucket:    cc.MinIO.Bucket,
			Prefix:    cc.MinIO.Prefix,
			Ext:       cc.Ext,
			UseSSL:    cc.MinIO.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init template cache: %w", err)
		}
		return b, nil
	}
	return nil, nil
}

func (a *App) initDispatcher() error {
	routes, err := a.routeRules(a.cfg)
	if err != nil {
		return err
	}

	output := app.NewOutputFilter(a.Templates, a.Logger)
	dopts := []app.DispatcherOption{
		app.WithMountPoint(a.cfg.Server.MountPoint),
		app.WithInputType(a.cfg.InputType()),
	}
	if a.Metrics != nil {
		dopts = append(dopts, app.WithRouteObserver(a.Metrics))
	}
	a.Dispatcher = app.NewDispatcher(routes, output, a.Logger, dopts...)

	return a.modules.Register(ModuleDeps{
		Dispatcher:  a.Dispatcher,
		DB:          a.querier(),
		Placeholder: a.DB.Placeholder(),
		Templates:   a.Templates,
		Logger:      a.Logger,
	})
}

func (a *App) initHTTPServer(opts Config) {
	rcfg := apihttp.RouterConfig{
		Metrics: a.Metrics,
		Health:  apihttp.NewHealthHandler(a.DB),
		Version: opts.Version,
		Timeout: a.cfg.Server.RequestTimeout,
		Debug:   a.cfg.Debug.Enabled,
	}
	if opts.Registry != nil {
		rcfg.Gatherer = opts.Registry
	}
	if a.cfg.Debug.Enabled {
		rcfg.Templates = a.Templates
		if a.Queries != nil {
			rcfg.Queries = a.Queries
		}
	}
	a.Handler = apihttp.NewRouter(a.Dispatcher, a.Logger, rcfg)

	a.Server = apihttp.NewServer(apihttp.ServerConfig{
		Addr:         a.cfg.Server.Addr(),
		H2C:          a.cfg.Server.H2C,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}, a.Handler, a.Logger)
}

func (a *App) routeRules(cfg *config.Config) (*route.Map, error) {
	m, err := route.New(a.modules.Routes(cfg.Routes)...)
	if err != nil {
		return nil, fmt.Errorf("init routes: %w", err)
	}
	return m, nil
}

// applyConfig installs the reloadable parts of cfg.
func (a *App) applyConfig(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	routes, err := a.routeRules(cfg)
	if err != nil {
		a.Logger.Error().Err(err).Msg("keeping previous routes")
		return
	}
	a.Dispatcher.SetRoutes(routes)
}

// Reload re-reads the config file and applies it.
func (a *App) Reload() error {
	if a.holder == nil {
		return errors.New("configuration was not loaded from a file")
	}
	return a.holder.Reload()
}

// Run serves until SIGINT or SIGTERM, then shuts down.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.cfg.Server.Addr())
	if err != nil {
		a.Shutdown()
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if a.holder != nil {
		a.holder.WatchSignals()
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Serve(ln) }()

	select {
	case err := <-errCh:
		a.Shutdown()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		a.Logger.Info().Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown stops the server and releases resources.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.watcher != nil {
		a.watcher.Stop()
	}

	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}
