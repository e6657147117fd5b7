// Package metrics exports orchestration metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcphost"

// Collector records tool executions, health checks and live servers.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	executions  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	healthCheck *prometheus.CounterVec
	liveServers prometheus.Gauge
}

// NewCollector creates a collector on its own registry, including the Go
// runtime and process collectors
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Tool executions by server and outcome",
		}, []string{"server", "status"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_execution_duration_seconds",
			Help:      "Wall-clock duration of tool executions",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
		}, []string{"server"}),

		healthCheck: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Health checks by server and result",
		}, []string{"server", "result"}),

		liveServers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_servers",
			Help:      "Servers with a live connection",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.executions,
		c.duration,
		c.healthCheck,
		c.liveServers,
	)

	return c
}

// ObserveExecution records one tool execution
func (c *Collector) ObserveExecution(server, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.executions.WithLabelValues(server, status).Inc()
	c.duration.WithLabelValues(server).Observe(d.Seconds())
}

// ObserveHealthCheck records one health check
func (c *Collector) ObserveHealthCheck(server string, healthy bool) {
	if c == nil {
		return
	}
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	c.healthCheck.WithLabelValues(server, result).Inc()
}

// SetLiveServers sets the number of live connections
func (c *Collector) SetLiveServers(n int) {
	if c == nil {
		return
	}
	c.liveServers.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
