// ABOUTME: Prometheus metrics for token lifecycle, tool calls, and upstream retries
// ABOUTME: All recording methods are nil-safe so callers may run without metrics

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gchat_mcp"

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	// ResultRejected marks a refresh the provider refused (revoked or expired refresh token).
	ResultRejected = "rejected"
)

// Metrics holds the process collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	tokenRefreshTotal    *prometheus.CounterVec
	toolCallsTotal       *prometheus.CounterVec
	toolDuration         *prometheus.HistogramVec
	upstreamRetriesTotal *prometheus.CounterVec
	authFlowsTotal       *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tokenRefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Token refresh exchanges by result.",
		}, []string{"result"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "MCP tool invocations by tool and result.",
		}, []string{"tool", "result"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "MCP tool invocation duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"tool"}),
		upstreamRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Retried Google Chat API requests by operation.",
		}, []string{"operation"}),
		authFlowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_flows_total",
			Help:      "Completed authorization flows by mode and result.",
		}, []string{"mode", "result"}),
	}

	m.registry.MustRegister(
		m.tokenRefreshTotal,
		m.toolCallsTotal,
		m.toolDuration,
		m.upstreamRetriesTotal,
		m.authFlowsTotal,
	)

	return m
}

// RecordTokenRefresh counts one refresh exchange.
func (m *Metrics) RecordTokenRefresh(result string) {
	if m == nil {
		return
	}
	m.tokenRefreshTotal.WithLabelValues(result).Inc()
}

// RecordToolCall counts one tool invocation and observes its duration.
func (m *Metrics) RecordToolCall(tool, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, result).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordUpstreamRetry counts one retried upstream request.
func (m *Metrics) RecordUpstreamRetry(operation string) {
	if m == nil {
		return
	}
	m.upstreamRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordAuthFlow counts one finished authorization flow.
func (m *Metrics) RecordAuthFlow(mode, result string) {
	if m == nil {
		return
	}
	m.authFlowsTotal.WithLabelValues(mode, result).Inc()
}

// Registry exposes the underlying registry (for tests and custom handlers).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
