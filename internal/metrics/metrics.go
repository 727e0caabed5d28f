// Package metrics holds the Prometheus collectors for the chat loop,
// the tools, and the HTTP surface. All methods are safe on a nil
// *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskmate"

// Tool call outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomePending = "pending"
	OutcomeSkipped = "skipped"
)

// Metrics is the set of collectors registered with one registry.
type Metrics struct {
	registry *prometheus.Registry

	ChatRequests    *prometheus.CounterVec
	LoopIterations  prometheus.Histogram
	LoopsAborted    prometheus.Counter
	ToolCalls       *prometheus.CounterVec
	ModelLatency    prometheus.Histogram
	ModelTokens     *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	VoiceOperations *prometheus.CounterVec
	DependencyUp    *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ChatRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by outcome.",
		}, []string{"status"}),
		LoopIterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_iterations",
			Help:      "Model invocations per chat request.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 10},
		}),
		LoopsAborted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loops_aborted_total",
			Help:      "Chat requests stopped by the iteration ceiling.",
		}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ModelLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_latency_seconds",
			Help:      "Language model call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		ModelTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Tokens exchanged with the language model.",
		}, []string{"direction"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration.",
		}, []string{"method", "route"}),
		VoiceOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_operations_total",
			Help:      "Transcription and speech synthesis calls by outcome.",
		}, []string{"operation", "status"}),
		DependencyUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dependency_up",
			Help:      "Whether a dependency answered its last probe (1) or not (0).",
		}, []string{"dependency"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveChat records one finished chat request.
func (m *Metrics) ObserveChat(status string) {
	if m == nil {
		return
	}
	m.ChatRequests.WithLabelValues(status).Inc()
}

// ObserveLoop records the iterations a loop ran and whether it hit the
// ceiling.
func (m *Metrics) ObserveLoop(iterations int, aborted bool) {
	if m == nil {
		return
	}
	m.LoopIterations.Observe(float64(iterations))
	if aborted {
		m.LoopsAborted.Inc()
	}
}

// ObserveTool records one tool call outcome.
func (m *Metrics) ObserveTool(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// ObserveModel records one model invocation.
func (m *Metrics) ObserveModel(d time.Duration, tokensIn, tokensOut int) {
	if m == nil {
		return
	}
	m.ModelLatency.Observe(d.Seconds())
	m.ModelTokens.WithLabelValues("in").Add(float64(tokensIn))
	m.ModelTokens.WithLabelValues("out").Add(float64(tokensOut))
}

// ObserveHTTP records one served HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveVoice records one voice service call.
func (m *Metrics) ObserveVoice(operation string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.VoiceOperations.WithLabelValues(operation, status).Inc()
}

// SetDependencyUp records a dependency's probe state.
func (m *Metrics) SetDependencyUp(name string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.DependencyUp.WithLabelValues(name).Set(v)
}
