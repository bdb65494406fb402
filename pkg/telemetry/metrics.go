package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the provisioner.
type Metrics struct {
	config MetricsConfig

	// Terraform operation metrics
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Workflow metrics (environment / resource provisioning and teardown)
	workflowsStarted   *prometheus.CounterVec
	workflowsCompleted *prometheus.CounterVec
	workflowDuration   *prometheus.HistogramVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// System metrics
	activeWorkflows prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terraform_operations_total",
				Help:      "Total number of terraform operations executed",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "terraform_operation_duration_seconds",
				Help:      "Duration of terraform operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		workflowsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_started_total",
				Help:      "Total number of provisioning workflows started",
			},
			[]string{"target_type", "kind"},
		),
		workflowsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_completed_total",
				Help:      "Total number of provisioning workflows completed",
			},
			[]string{"target_type", "kind", "status"},
		),
		workflowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_duration_seconds",
				Help:      "End-to-end duration of provisioning workflows in seconds",
				Buckets:   buckets,
			},
			[]string{"target_type", "kind"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by kind",
			},
			[]string{"kind"},
		),

		activeWorkflows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workflows",
				Help:      "Current number of in-flight provisioning workflows",
			},
		),
	}

	registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.workflowsStarted,
		m.workflowsCompleted,
		m.workflowDuration,
		m.errorsByKind,
		m.activeWorkflows,
	)

	return m, nil
}

// RecordOperation records a single terraform operation outcome.
func (m *Metrics) RecordOperation(operation string, success bool, duration time.Duration) {
	if m.operations == nil {
		return
	}
	status := "failure"
	if success {
		status = "success"
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordWorkflowStarted increments the counters for a started workflow.
// targetType is "environment" or "resource", kind is "provision" or
// "destroy".
func (m *Metrics) RecordWorkflowStarted(targetType, kind string) {
	if m.workflowsStarted == nil {
		return
	}
	m.workflowsStarted.WithLabelValues(targetType, kind).Inc()
	m.activeWorkflows.Inc()
}

// RecordWorkflowCompleted records a finished workflow with its terminal
// status and duration.
func (m *Metrics) RecordWorkflowCompleted(targetType, kind, status string, duration time.Duration) {
	if m.workflowsCompleted == nil {
		return
	}
	m.workflowsCompleted.WithLabelValues(targetType, kind, status).Inc()
	m.workflowDuration.WithLabelValues(targetType, kind).Observe(duration.Seconds())
	m.activeWorkflows.Dec()
}

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
