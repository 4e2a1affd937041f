// Package metrics provides Prometheus metrics collection for hoplite.
package metrics

import (
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rsesek/hoplite/ports"
)

const namespace = "hoplite"

// Collector holds all Prometheus metrics for hoplite.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	RouteMisses      prometheus.Counter

	// Template metrics
	TemplateLoads         *prometheus.CounterVec
	TemplateLoadDuration  *prometheus.HistogramVec
	TemplateCompileErrors prometheus.Counter

	// Database metrics
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),
		RouteMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "route_misses_total",
				Help:      "Total number of requests no URL map rule matched",
			},
		),

		TemplateLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "template_loads_total",
				Help:      "Template loads by the cache tier that served them",
			},
			[]string{"tier"},
		),
		TemplateLoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "template_load_duration_seconds",
				Help:      "Template load duration in seconds by cache tier",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"tier"},
		),
		TemplateCompileErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "template_compile_errors_total",
				Help:      "Total number of templates that failed to compile",
			},
		),

		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "SQL statement duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"verb"},
		),
		QueryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_errors_total",
				Help:      "Total number of failed SQL statements",
			},
			[]string{"verb"},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// RouteMissed records a request no route matched.
func (c *Collector) RouteMissed() {
	c.RouteMisses.Inc()
}

// TemplateLoaded records a template served from tier.
func (c *Collector) TemplateLoaded(tier string, d time.Duration) {
	c.TemplateLoads.WithLabelValues(tier).Inc()
	c.TemplateLoadDuration.WithLabelValues(tier).Observe(d.Seconds())
}

// TemplateCompileFailed records a template that did not compile.
func (c *Collector) TemplateCompileFailed() {
	c.TemplateCompileErrors.Inc()
}

// QueryObserved records one SQL statement.
func (c *Collector) QueryObserved(verb string, d time.Duration, err error) {
	c.QueryDuration.WithLabelValues(verb).Observe(d.Seconds())
	if err != nil {
		c.QueryErrors.WithLabelValues(verb).Inc()
	}
}

// ConfigReloaded records the outcome of a config reload.
func (c *Collector) ConfigReloaded(err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.SetToCurrentTime()
}

var (
	_ ports.TemplateObserver = (*Collector)(nil)
	_ ports.QueryObserver    = (*Collector)(nil)
	_ ports.RouteObserver    = (*Collector)(nil)
	_ ports.ReloadObserver   = (*Collector)(nil)
)

var numericSegment = regexp.MustCompile(`^[0-9]+$|^[0-9a-fA-F]{8}-[0-9a-fA-F-]{27}$`)

// NormalizePath reduces cardinality by replacing numeric and UUID path
// segments with ":id" and truncating long paths.
func NormalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if numericSegment.MatchString(s) {
			segments[i] = ":id"
		}
	}
	path = strings.Join(segments, "/")
	if len(path) > 50 {
		return path[:50] + "..."
	}
	return path
}
