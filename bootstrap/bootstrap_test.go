package bootstrap_test

import (
	"context"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/rsesek/hoplite/app"
	"github.com/rsesek/hoplite/bootstrap"
	"github.com/rsesek/hoplite/config"
	"github.com/rsesek/hoplite/domain/web"
)

type helloModule struct{}

func (helloModule) Name() string { return "hello" }

func (helloModule) Register(deps bootstrap.ModuleDeps) error {
	deps.Dispatcher.Register("HelloAction", func() app.Action {
		return app.ActionFunc(func(c *app.RootController, req *web.Request, resp *web.Response) {
			name, _ := req.String("name")
			resp.Data["name"] = name
			resp.Context[app.ContextTemplate] = "hello"
		})
	})
	return nil
}

type brokenMigrations struct{ helloModule }

func (brokenMigrations) Name() string { return "broken" }

func (brokenMigrations) Migrations() (fs.FS, string) {
	return fstest.MapFS{"sql/001_broken.sql": {Data: []byte("CREATE TABLE (")}}, "sql"
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	content = strings.ReplaceAll(content, "$DIR", dir)
	path := filepath.Join(dir, "hoplite.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func templateFS(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "templates/hello.tpl", []byte("Hello {%= .name %}!"), 0644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return fsys
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

const baseConfig = `
database:
  dsn: $DIR/test.db
routes:
  - pattern: "hi"
    target: "hello"
`

func TestNew_FromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOPLITE_DATABASE_DSN", filepath.Join(dir, "env.db"))
	t.Setenv("HOPLITE_TEMPLATES_DIR", filepath.Join(dir, "templates"))
	t.Setenv("HOPLITE_CACHE_MODE", "none")
	t.Setenv("HOPLITE_LOG_LEVEL", "warn")

	a, err := bootstrap.New()
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer a.Shutdown()

	if a.DB == nil || a.Dispatcher == nil || a.Server == nil || a.Templates == nil {
		t.Fatal("components should be initialized")
	}
	if a.Metrics != nil || a.Queries != nil {
		t.Error("metrics and query profiling should be off by default")
	}
	if got := a.Config().Logging.Level; got != "warn" {
		t.Errorf("log level = %s, want warn", got)
	}
	if err := a.Reload(); err == nil {
		t.Error("Reload should fail without a config file")
	}
}

func TestNewWithConfig_RendersThroughFileCache(t *testing.T) {
	fsys := templateFS(t)
	a, err := bootstrap.NewWithConfig(bootstrap.Config{
		ConfigPath: writeConfig(t, baseConfig),
		Modules:    []bootstrap.Module{helloModule{}},
		TemplateFS: fsys,
		LogOutput:  io.Discard,
	})
	if err != nil {
		t.Fatalf("NewWithConfig error: %v", err)
	}
	defer a.Shutdown()

	rec := get(a.Handler, "/hi?name=ann")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "Hello ann!" {
		t.Errorf("body = %q, want %q", got, "Hello ann!")
	}

	exists, err := afero.Exists(fsys, ".cache/templates/hello.phpi")
	if err != nil || !exists {
		t.Errorf("compiled template not cached: exists=%v err=%v", exists, err)
	}
}

func TestNewWithConfig_Settings(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Server.MountPoint = "/app"

	a, err := bootstrap.NewWithConfig(bootstrap.Config{
		Settings:   cfg,
		Modules:    []bootstrap.Module{helloModule{}},
		TemplateFS: templateFS(t),
		LogOutput:  io.Discard,
	})
	if err != nil {
		t.Fatalf("NewWithConfig error: %v", err)
	}
	defer a.Shutdown()

	if rec := get(a.Handler, "/app/hi?name=bo"); rec.Body.String() != "Hello bo!" {
		t.Errorf("mounted request body = %q", rec.Body.String())
	}
	for _, path := range []string{"/hi", "/apphi"} {
		if rec := get(a.Handler, path); rec.Code != http.StatusNotFound {
			t.Errorf("%s outside the mount point: status = %d, want 404", path, rec.Code)
		}
	}
	if err := a.Reload(); err == nil {
		t.Error("Reload should fail for settings passed in code")
	}
}

func TestNewWithConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		modules []bootstrap.Module
	}{
		{
			name:    "duplicate modules",
			config:  baseConfig,
			modules: []bootstrap.Module{helloModule{}, helloModule{}},
		},
		{
			name:    "failing migration",
			config:  baseConfig,
			modules: []bootstrap.Module{brokenMigrations{}},
		},
		{
			name:   "invalid config",
			config: "server:\n  port: 70000\n",
		},
		{
			name:   "minio without credentials",
			config: "database:\n  dsn: $DIR/x.db\ntemplates:\n  cache:\n    mode: minio\n    minio:\n      endpoint: localhost:9000\n      bucket: tpl\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bootstrap.NewWithConfig(bootstrap.Config{
				ConfigPath: writeConfig(t, tt.config),
				Modules:    tt.modules,
				TemplateFS: afero.NewMemMapFs(),
				LogOutput:  io.Discard,
			})
			if err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestApp_ReloadRoutes(t *testing.T) {
	path := writeConfig(t, baseConfig)
	a, err := bootstrap.NewWithConfig(bootstrap.Config{
		ConfigPath: path,
		Modules:    []bootstrap.Module{helloModule{}},
		TemplateFS: templateFS(t),
		LogOutput:  io.Discard,
	})
	if err != nil {
		t.Fatalf("NewWithConfig error: %v", err)
	}
	defer a.Shutdown()

	if rec := get(a.Handler, "/hi"); rec.Code != http.StatusOK {
		t.Fatalf("before reload status = %d", rec.Code)
	}

	updated := strings.Replace(
		strings.ReplaceAll(baseConfig, "$DIR", filepath.Dir(path)),
		`pattern: "hi"`, `pattern: "greet"`, 1)
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := a.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	if rec := get(a.Handler, "/hi"); rec.Code != http.StatusNotFound {
		t.Errorf("old route status = %d, want 404", rec.Code)
	}
	if rec := get(a.Handler, "/greet?name=cy"); rec.Body.String() != "Hello cy!" {
		t.Errorf("new route body = %q", rec.Body.String())
	}
}

func TestApp_DebugAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := bootstrap.NewWithConfig(bootstrap.Config{
		ConfigPath: writeConfig(t, baseConfig+"metrics:\n  enabled: true\ndebug:\n  enabled: true\n"),
		Modules:    []bootstrap.Module{helloModule{}},
		TemplateFS: templateFS(t),
		Registry:   reg,
		LogOutput:  io.Discard,
		Version:    "1.2.3",
	})
	if err != nil {
		t.Fatalf("NewWithConfig error: %v", err)
	}
	defer a.Shutdown()

	if a.Metrics == nil || a.Queries == nil {
		t.Fatal("metrics and query profiling should be enabled")
	}

	get(a.Handler, "/hi")

	tests := []struct {
		path     string
		contains string
	}{
		{"/metrics", "hoplite_requests_total"},
		{"/debug/templates", `"hello"`},
		{"/debug/routes", `"hi"`},
		{"/version", "1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(a.Handler, tt.path)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestApp_Serve(t *testing.T) {
	a, err := bootstrap.NewWithConfig(bootstrap.Config{
		ConfigPath: writeConfig(t, baseConfig),
		TemplateFS: afero.NewMemMapFs(),
		LogOutput:  io.Discard,
	})
	if err != nil {
		t.Fatalf("NewWithConfig error: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
