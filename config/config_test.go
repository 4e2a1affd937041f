package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rsesek/hoplite/config"
	"github.com/rsesek/hoplite/domain/filter"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
server:
  host: "127.0.0.1"
  port: 9090
  mount_point: "/app"
  h2c: true
  request_timeout: 15s

database:
  driver: "sqlite3"
  dsn: ":memory:"

templates:
  dir: "views"
  base_url: "https://example.com/app"
  memory_size: 32
  watch: true
  cache:
    mode: "file"
    path: "/tmp/hoplite/"

routes:
  - pattern: "notes/{id}"
    target: "note"
  - pattern: "/^user/(\\d+)$/"
    target: "user_profile"

input:
  default_type: "raw"
`

	cfg := writeAndLoad(t, content)

	if cfg.Server.Addr() != "127.0.0.1:9090" {
		t.Errorf("Addr = %s, want 127.0.0.1:9090", cfg.Server.Addr())
	}
	if cfg.Server.MountPoint != "/app" {
		t.Errorf("MountPoint = %s, want /app", cfg.Server.MountPoint)
	}
	if !cfg.Server.H2C {
		t.Error("H2C = false, want true")
	}
	if cfg.Server.RequestTimeout != 15*time.Second {
		t.Errorf("RequestTimeout = %v, want 15s", cfg.Server.RequestTimeout)
	}
	if cfg.Templates.PathPattern != "views/%s.tpl" {
		t.Errorf("PathPattern = %s, want views/%%s.tpl", cfg.Templates.PathPattern)
	}
	if cfg.Templates.MemorySize != 32 {
		t.Errorf("MemorySize = %d, want 32", cfg.Templates.MemorySize)
	}
	if cfg.Templates.Cache.Path != "/tmp/hoplite/" {
		t.Errorf("Cache.Path = %s, want /tmp/hoplite/", cfg.Templates.Cache.Path)
	}
	if cfg.InputType() != filter.TypeRaw {
		t.Errorf("InputType = %v, want raw", cfg.InputType())
	}
	if len(cfg.Routes) != 2 {
		t.Fatalf("len(Routes) = %d, want 2", len(cfg.Routes))
	}
	if cfg.Routes[1].Target != "user_profile" {
		t.Errorf("Routes[1].Target = %s, want user_profile", cfg.Routes[1].Target)
	}

	m, err := cfg.RouteMap()
	if err != nil {
		t.Fatalf("RouteMap error: %v", err)
	}
	if got, ok := m.Reverse("note"); !ok || got != "notes/{id}" {
		t.Errorf("Reverse(note) = %q, %v", got, ok)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := writeAndLoad(t, "")

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"host", cfg.Server.Host, "0.0.0.0"},
		{"port", cfg.Server.Port, 8080},
		{"read timeout", cfg.Server.ReadTimeout, 30 * time.Second},
		{"request timeout", cfg.Server.RequestTimeout, 60 * time.Second},
		{"driver", cfg.Database.Driver, "sqlite3"},
		{"dsn", cfg.Database.DSN, "hoplite.db"},
		{"template dir", cfg.Templates.Dir, "templates"},
		{"path pattern", cfg.Templates.PathPattern, "templates/%s.tpl"},
		{"open delim", cfg.Templates.OpenDelim, "{%"},
		{"close delim", cfg.Templates.CloseDelim, "%}"},
		{"memory size", cfg.Templates.MemorySize, 256},
		{"cache mode", cfg.Templates.Cache.Mode, config.CacheFile},
		{"cache ext", cfg.Templates.Cache.Ext, ".phpi"},
		{"input type", cfg.Input.DefaultType, "str"},
		{"log level", cfg.Logging.Level, "info"},
		{"log format", cfg.Logging.Format, "json"},
		{"max queries", cfg.Debug.MaxQueries, 100},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("default %s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if len(cfg.Routes) != 0 {
		t.Errorf("default routes = %v, want none", cfg.Routes)
	}
}

func TestLoad_DriverAliases(t *testing.T) {
	tests := []struct {
		driver string
		dsn    string
		want   string
	}{
		{"sqlite", "a.db", "sqlite3"},
		{"postgres", "postgres://localhost/hoplite", "pgx"},
		{"pgx", "postgres://localhost/hoplite", "pgx"},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg := writeAndLoad(t, "database:\n  driver: "+tt.driver+"\n  dsn: "+tt.dsn+"\n")
			if cfg.Database.Driver != tt.want {
				t.Errorf("Driver = %s, want %s", cfg.Database.Driver, tt.want)
			}
		})
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_TEMPLATE_DIR", "/srv/views")

	cfg := writeAndLoad(t, `
templates:
  dir: "${TEST_TEMPLATE_DIR}"
`)

	if cfg.Templates.PathPattern != "/srv/views/%s.tpl" {
		t.Errorf("PathPattern = %s, want /srv/views/%%s.tpl", cfg.Templates.PathPattern)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad port", "server:\n  port: 70000\n", "server.port"},
		{"bad driver", "database:\n  driver: mysql\n", "database.driver"},
		{"postgres without dsn", "database:\n  driver: pgx\n", "database.dsn"},
		{"pattern without verb", "templates:\n  path_pattern: views/page.tpl\n", "path_pattern"},
		{"pattern with two verbs", "templates:\n  path_pattern: \"%s/%s.tpl\"\n", "path_pattern"},
		{"same delims", "templates:\n  open_delim: \"@@\"\n  close_delim: \"@@\"\n", "delim"},
		{"bad cache mode", "templates:\n  cache:\n    mode: redis\n", "templates.cache.mode"},
		{"minio without endpoint", "templates:\n  cache:\n    mode: minio\n    minio:\n      bucket: b\n", "minio.endpoint"},
		{"minio without bucket", "templates:\n  cache:\n    mode: minio\n    minio:\n      endpoint: localhost:9000\n", "minio.bucket"},
		{"bad input type", "input:\n  default_type: bytes\n", "input.default_type"},
		{"bad route", "routes:\n  - pattern: \"/^(unclosed$/\"\n    target: x\n", "routes"},
		{"bad log format", "logging:\n  format: xml\n", "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := writeAndLoadErr(t, tt.content)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MinIOCache(t *testing.T) {
	cfg := writeAndLoad(t, `
templates:
  cache:
    mode: minio
    minio:
      endpoint: "localhost:9000"
      access_key: "minio"
      secret_key: "secret"
      bucket: "templates"
      prefix: "compiled/"
`)

	m := cfg.Templates.Cache.MinIO
	if m.Endpoint != "localhost:9000" || m.Bucket != "templates" || m.Prefix != "compiled/" {
		t.Errorf("MinIO = %+v", m)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := writeAndLoadErr(t, "server: [unclosed")
	if err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load("/nonexistent/hoplite.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HOPLITE_SERVER_PORT", "9191")
	t.Setenv("HOPLITE_SERVER_H2C", "yes")
	t.Setenv("HOPLITE_DATABASE_DSN", "/data/app.db")
	t.Setenv("HOPLITE_TEMPLATES_DIR", "/srv/views")
	t.Setenv("HOPLITE_TEMPLATES_MEMORY_SIZE", "8")
	t.Setenv("HOPLITE_CACHE_MODE", "none")
	t.Setenv("HOPLITE_INPUT_TYPE", "html")
	t.Setenv("HOPLITE_LOG_LEVEL", "debug")
	t.Setenv("HOPLITE_DEBUG", "1")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Port = %d, want 9191", cfg.Server.Port)
	}
	if !cfg.Server.H2C {
		t.Error("H2C = false, want true")
	}
	if cfg.Database.DSN != "/data/app.db" {
		t.Errorf("DSN = %s, want /data/app.db", cfg.Database.DSN)
	}
	if cfg.Templates.PathPattern != "/srv/views/%s.tpl" {
		t.Errorf("PathPattern = %s, want /srv/views/%%s.tpl", cfg.Templates.PathPattern)
	}
	if cfg.Templates.MemorySize != 8 {
		t.Errorf("MemorySize = %d, want 8", cfg.Templates.MemorySize)
	}
	if cfg.Templates.Cache.Mode != config.CacheNone {
		t.Errorf("Cache.Mode = %s, want none", cfg.Templates.Cache.Mode)
	}
	if cfg.InputType() != filter.TypeHTML {
		t.Errorf("InputType = %v, want html", cfg.InputType())
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug", cfg.Logging.Level)
	}
	if !cfg.Debug.Enabled {
		t.Error("Debug.Enabled = false, want true")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("HOPLITE_SERVER_PORT", "7070")
	t.Setenv("HOPLITE_LOG_FORMAT", "console")

	cfg := writeAndLoad(t, `
server:
  port: 9090
logging:
  format: json
`)

	if cfg.Server.Port != 7070 {
		t.Errorf("Port = %d, want 7070 (env override)", cfg.Server.Port)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Logging.Format = %s, want console (env override)", cfg.Logging.Format)
	}
}

func TestEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("HOPLITE_SERVER_PORT", "not-a-number")
	t.Setenv("HOPLITE_SERVER_READ_TIMEOUT", "soon")
	t.Setenv("HOPLITE_TEMPLATES_MEMORY_SIZE", "lots")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout = %v, want default 30s", cfg.Server.ReadTimeout)
	}
	if cfg.Templates.MemorySize != 256 {
		t.Errorf("MemorySize = %d, want default 256", cfg.Templates.MemorySize)
	}
}

func TestLoadWithFallback(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9999\n")

	cfg, err := config.LoadWithFallback(path)
	if err != nil {
		t.Fatalf("LoadWithFallback error: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999 from file", cfg.Server.Port)
	}

	cfg, err = config.LoadWithFallback(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFallback error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080 from env defaults", cfg.Server.Port)
	}

	if _, err := config.LoadWithFallback(""); err != nil {
		t.Errorf("LoadWithFallback(\"\") error: %v", err)
	}
}

func TestInputType_Fallback(t *testing.T) {
	cfg := &config.Config{Input: config.InputConfig{DefaultType: "unknown"}}
	if cfg.InputType() != filter.TypeStr {
		t.Errorf("InputType = %v, want str", cfg.InputType())
	}
}

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := writeAndLoadErr(t, content)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return cfg
}

func writeAndLoadErr(t *testing.T, content string) (*config.Config, error) {
	t.Helper()
	return config.Load(writeConfig(t, content))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hoplite.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
