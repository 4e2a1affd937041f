// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/rsesek/hoplite/domain/filter"
	"github.com/rsesek/hoplite/domain/route"
	"github.com/rsesek/hoplite/domain/template"
)

// Cache modes for compiled templates.
const (
	CacheNone  = "none"
	CacheFile  = "file"
	CacheMinIO = "minio"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Templates TemplatesConfig `yaml:"templates"`
	Routes    []route.Rule    `yaml:"routes"`
	Input     InputConfig     `yaml:"input"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Debug     DebugConfig     `yaml:"debug"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	MountPoint     string        `yaml:"mount_point"` // Path prefix stripped before routing
	H2C            bool          `yaml:"h2c"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite3" or "pgx"
	DSN    string `yaml:"dsn"`
}

// TemplatesConfig configures the template loader.
type TemplatesConfig struct {
	Dir         string      `yaml:"dir"`
	PathPattern string      `yaml:"path_pattern"` // Must contain %s; defaults to <dir>/%s.tpl
	BaseURL     string      `yaml:"base_url"`
	OpenDelim   string      `yaml:"open_delim"`
	CloseDelim  string      `yaml:"close_delim"`
	MemorySize  int         `yaml:"memory_size"`
	Watch       bool        `yaml:"watch"`
	Cache       CacheConfig `yaml:"cache"`
}

// CacheConfig selects where compiled templates persist between processes.
type CacheConfig struct {
	Mode  string      `yaml:"mode"` // "none", "file" or "minio"
	Path  string      `yaml:"path"`
	Ext   string      `yaml:"ext"`
	MinIO MinIOConfig `yaml:"minio,omitempty"`
}

// MinIOConfig configures the object store cache.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region,omitempty"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// InputConfig configures request input sanitizing.
type InputConfig struct {
	DefaultType string `yaml:"default_type"` // A filter type name such as "str" or "raw"
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DebugConfig enables the /debug endpoints and query tracing.
type DebugConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxQueries int  `yaml:"max_queries"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	HOPLITE_SERVER_HOST        - Server host (default: 0.0.0.0)
//	HOPLITE_SERVER_PORT        - Server port (default: 8080)
//	HOPLITE_SERVER_MOUNT_POINT - Path prefix of the application
//	HOPLITE_SERVER_H2C         - Accept cleartext HTTP/2
//	HOPLITE_DATABASE_DRIVER    - sqlite3 or pgx (default: sqlite3)
//	HOPLITE_DATABASE_DSN       - Database DSN (default: hoplite.db)
//	HOPLITE_TEMPLATES_DIR      - Template directory (default: templates)
//	HOPLITE_TEMPLATES_BASE_URL - Prefix for the url builtin
//	HOPLITE_TEMPLATES_WATCH    - Evict templates when their source changes
//	HOPLITE_CACHE_MODE         - none, file or minio (default: file)
//	HOPLITE_CACHE_PATH         - Directory of compiled templates
//	HOPLITE_INPUT_TYPE         - Default input filter type (default: str)
//	HOPLITE_LOG_LEVEL          - Log level: debug, info, warn, error (default: info)
//	HOPLITE_LOG_FORMAT         - Log format: json or console (default: json)
//	HOPLITE_METRICS_ENABLED    - Enable /metrics endpoint
//	HOPLITE_DEBUG              - Enable /debug endpoints
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads path when it exists and the environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// RouteMap compiles the configured routes.
func (c *Config) RouteMap() (*route.Map, error) {
	return route.New(c.Routes...)
}

// InputType returns the parsed default input type.
func (c *Config) InputType() filter.Type {
	t, err := filter.ParseType(c.Input.DefaultType)
	if err != nil {
		return filter.TypeStr
	}
	return t
}

// applyEnvOverrides applies HOPLITE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("HOPLITE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("HOPLITE_SERVER_PORT"); v != "" {
		if port, err := cast.ToIntE(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HOPLITE_SERVER_MOUNT_POINT"); v != "" {
		cfg.Server.MountPoint = v
	}
	if v := os.Getenv("HOPLITE_SERVER_H2C"); v != "" {
		cfg.Server.H2C = parseBool(v)
	}
	if v := os.Getenv("HOPLITE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("HOPLITE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Database configuration
	if v := os.Getenv("HOPLITE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("HOPLITE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Template configuration
	if v := os.Getenv("HOPLITE_TEMPLATES_DIR"); v != "" {
		cfg.Templates.Dir = v
	}
	if v := os.Getenv("HOPLITE_TEMPLATES_BASE_URL"); v != "" {
		cfg.Templates.BaseURL = v
	}
	if v := os.Getenv("HOPLITE_TEMPLATES_WATCH"); v != "" {
		cfg.Templates.Watch = parseBool(v)
	}
	if v := os.Getenv("HOPLITE_TEMPLATES_MEMORY_SIZE"); v != "" {
		if n, err := cast.ToIntE(v); err == nil {
			cfg.Templates.MemorySize = n
		}
	}
	if v := os.Getenv("HOPLITE_CACHE_MODE"); v != "" {
		cfg.Templates.Cache.Mode = v
	}
	if v := os.Getenv("HOPLITE_CACHE_PATH"); v != "" {
		cfg.Templates.Cache.Path = v
	}
	if v := os.Getenv("HOPLITE_MINIO_ENDPOINT"); v != "" {
		cfg.Templates.Cache.MinIO.Endpoint = v
	}
	if v := os.Getenv("HOPLITE_MINIO_ACCESS_KEY"); v != "" {
		cfg.Templates.Cache.MinIO.AccessKey = v
	}
	if v := os.Getenv("HOPLITE_MINIO_SECRET_KEY"); v != "" {
		cfg.Templates.Cache.MinIO.SecretKey = v
	}
	if v := os.Getenv("HOPLITE_MINIO_BUCKET"); v != "" {
		cfg.Templates.Cache.MinIO.Bucket = v
	}

	// Input configuration
	if v := os.Getenv("HOPLITE_INPUT_TYPE"); v != "" {
		cfg.Input.DefaultType = v
	}

	// Logging configuration
	if v := os.Getenv("HOPLITE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HOPLITE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("HOPLITE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("HOPLITE_DEBUG"); v != "" {
		cfg.Debug.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

var driverAliases = map[string]string{
	"sqlite":   "sqlite3",
	"postgres": "pgx",
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite3"
	}
	if d, ok := driverAliases[cfg.Database.Driver]; ok {
		cfg.Database.Driver = d
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite3" {
		cfg.Database.DSN = "hoplite.db"
	}

	if cfg.Templates.Dir == "" {
		cfg.Templates.Dir = "templates"
	}
	if cfg.Templates.PathPattern == "" {
		cfg.Templates.PathPattern = strings.TrimRight(cfg.Templates.Dir, "/") + "/%s.tpl"
	}
	if cfg.Templates.OpenDelim == "" {
		cfg.Templates.OpenDelim = template.DefaultOpen
	}
	if cfg.Templates.CloseDelim == "" {
		cfg.Templates.CloseDelim = template.DefaultClose
	}
	if cfg.Templates.MemorySize == 0 {
		cfg.Templates.MemorySize = 256
	}
	if cfg.Templates.Cache.Mode == "" {
		cfg.Templates.Cache.Mode = CacheFile
	}
	if cfg.Templates.Cache.Path == "" {
		cfg.Templates.Cache.Path = ".cache/templates/"
	}
	if cfg.Templates.Cache.Ext == "" {
		cfg.Templates.Cache.Ext = ".phpi"
	}

	if cfg.Input.DefaultType == "" {
		cfg.Input.DefaultType = "str"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Debug.MaxQueries == 0 {
		cfg.Debug.MaxQueries = 100
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Database.Driver != "sqlite3" && cfg.Database.Driver != "pgx" {
		return fmt.Errorf("database.driver must be 'sqlite3' or 'pgx', got %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	if strings.Count(cfg.Templates.PathPattern, "%s") != 1 {
		return fmt.Errorf("templates.path_pattern must contain %%s exactly once, got %q", cfg.Templates.PathPattern)
	}
	if cfg.Templates.OpenDelim == cfg.Templates.CloseDelim {
		return errors.New("templates.open_delim and templates.close_delim must differ")
	}
	if cfg.Templates.MemorySize < 0 {
		return fmt.Errorf("templates.memory_size must not be negative, got %d", cfg.Templates.MemorySize)
	}

	switch cfg.Templates.Cache.Mode {
	case CacheNone, CacheFile:
	case CacheMinIO:
		if cfg.Templates.Cache.MinIO.Endpoint == "" {
			return errors.New("templates.cache.minio.endpoint is required when cache mode is 'minio'")
		}
		if cfg.Templates.Cache.MinIO.Bucket == "" {
			return errors.New("templates.cache.minio.bucket is required when cache mode is 'minio'")
		}
	default:
		return fmt.Errorf("templates.cache.mode must be one of: none, file, minio, got %q", cfg.Templates.Cache.Mode)
	}

	if _, err := filter.ParseType(cfg.Input.DefaultType); err != nil {
		return fmt.Errorf("input.default_type: %w", err)
	}

	if _, err := route.New(cfg.Routes...); err != nil {
		return fmt.Errorf("routes: %w", err)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}
