// Package metrics exposes the server's Prometheus instrumentation. All
// methods are safe on a nil *Metrics so wiring them is optional in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tool invocation outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

type Metrics struct {
	ToolInvocations  *prometheus.CounterVec
	ToolDuration     *prometheus.HistogramVec
	RateLimitDenials *prometheus.CounterVec
	BatchJobs        *prometheus.CounterVec
	PoolQueueDepth   prometheus.Gauge
	SSESessions      prometheus.Gauge

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)
	return &Metrics{
		ToolInvocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tasksvr_tool_invocations_total",
			Help: "Tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tasksvr_tool_duration_seconds",
			Help:    "Tool handler latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		RateLimitDenials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tasksvr_rate_limit_denials_total",
			Help: "Tool invocations rejected by the rate limiter.",
		}, []string{"tool"}),
		BatchJobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tasksvr_batch_jobs_total",
			Help: "Batch job state transitions by the status entered.",
		}, []string{"status"}),
		PoolQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "tasksvr_pool_queue_depth",
			Help: "Jobs waiting in the worker pool queue.",
		}),
		SSESessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "tasksvr_sse_sessions",
			Help: "Open SSE sessions.",
		}),
		registry: reg,
	}
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ToolCall records one tool invocation and its latency.
func (m *Metrics) ToolCall(tool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ToolInvocations.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// RateLimited records a rate-limiter denial for the tool.
func (m *Metrics) RateLimited(tool string) {
	if m == nil {
		return
	}
	m.RateLimitDenials.WithLabelValues(tool).Inc()
}

// JobEntered records a job entering the given lifecycle status.
func (m *Metrics) JobEntered(status string) {
	if m == nil {
		return
	}
	m.BatchJobs.WithLabelValues(status).Inc()
}

// QueueDepth publishes the worker pool's current queue length.
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.PoolQueueDepth.Set(float64(n))
}

func (m *Metrics) SSEOpened() {
	if m != nil {
		m.SSESessions.Inc()
	}
}

func (m *Metrics) SSEClosed() {
	if m != nil {
		m.SSESessions.Dec()
	}
}
