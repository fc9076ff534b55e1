package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the plugin host
type Metrics struct {
	registry *prometheus.Registry

	// Plugin lifecycle metrics
	PluginsActive            prometheus.Gauge
	PluginRegistrationsTotal *prometheus.CounterVec
	PluginLoadFailuresTotal  prometheus.Counter

	// Hook metrics
	HookExecutionsTotal   *prometheus.CounterVec
	HookExecutionDuration *prometheus.HistogramVec

	// Middleware metrics
	MiddlewareExecutionsTotal *prometheus.CounterVec

	// Health metrics
	PluginHealthScore *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		PluginsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plugins_active",
				Help: "Number of currently active plugins",
			},
		),
		PluginRegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_registrations_total",
				Help: "Total number of plugin registration attempts",
			},
			[]string{"status"},
		),
		PluginLoadFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "plugin_load_failures_total",
				Help: "Total number of plugin load failures",
			},
		),

		HookExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hook_executions_total",
				Help: "Total number of hook handler executions",
			},
			[]string{"hook", "status"},
		),
		HookExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hook_execution_duration_seconds",
				Help:    "Duration of hook handler executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"hook"},
		),

		MiddlewareExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "middleware_executions_total",
				Help: "Total number of middleware chain executions",
			},
			[]string{"status"},
		),

		PluginHealthScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "plugin_health_score",
				Help: "Derived health score per plugin (0-100)",
			},
			[]string{"plugin"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.PluginsActive)
	m.registry.MustRegister(m.PluginRegistrationsTotal)
	m.registry.MustRegister(m.PluginLoadFailuresTotal)

	m.registry.MustRegister(m.HookExecutionsTotal)
	m.registry.MustRegister(m.HookExecutionDuration)

	m.registry.MustRegister(m.MiddlewareExecutionsTotal)

	m.registry.MustRegister(m.PluginHealthScore)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
