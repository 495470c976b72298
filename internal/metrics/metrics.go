package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rendis/taskweave/internal/engine"
	"github.com/rendis/taskweave/pkg/schema"
)

const namespace = "taskweave"

// Metrics holds the process's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	steps      *prometheus.CounterVec
	tasks      prometheus.Counter
	synthesis  *prometheus.CounterVec
	tokens     *prometheus.CounterVec
	httpReqs   *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Workflow executions by workflow and final status.",
		}, []string{"workflow", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_execution_duration_seconds",
			Help:      "Wall time of workflow executions.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"workflow"}),
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_completed_total",
			Help:      "Completed steps by kind.",
		}, []string{"kind"}),
		tasks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Completed task evaluations, counting every reference.",
		}),
		synthesis: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_synthesis_total",
			Help:      "Executor synthesis attempts by result (accepted, rejected, exhausted).",
		}, []string{"result"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_tokens_total",
			Help:      "Tokens consumed by executor synthesis.",
		}, []string{"type"}),
		httpReqs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveExecution records one finished workflow execution.
func (m *Metrics) ObserveExecution(workflow string, status schema.ExecutionStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(workflow, string(status)).Inc()
	m.duration.WithLabelValues(workflow).Observe(elapsed.Seconds())
}

// Synthesis counts one synthesis outcome.
func (m *Metrics) Synthesis(result string) {
	if m == nil {
		return
	}
	m.synthesis.WithLabelValues(result).Inc()
}

// Tokens adds prompt and completion token usage.
func (m *Metrics) Tokens(prompt, completion int) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues("prompt").Add(float64(prompt))
	m.tokens.WithLabelValues("completion").Add(float64(completion))
}

// HTTPRequest counts one API request.
func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpReqs.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Observer returns an evaluator observer counting steps and tasks.
func (m *Metrics) Observer() engine.Observer {
	return stepCounter{m: m}
}

type stepCounter struct {
	engine.NopObserver
	m *Metrics
}

func (s stepCounter) StepCompleted(_ context.Context, ev engine.StepEvent) {
	if s.m == nil {
		return
	}
	s.m.steps.WithLabelValues(ev.Kind).Inc()
}

func (s stepCounter) TaskCompleted(context.Context, engine.TaskEvent) {
	if s.m == nil {
		return
	}
	s.m.tasks.Inc()
}
