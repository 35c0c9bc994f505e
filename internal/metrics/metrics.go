package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/felixgeelhaar/chathub/internal/errors"
)

// Metrics holds all Prometheus metrics for chathub.
//
// A nil *Metrics is valid; every Record method is a no-op on it, so
// components can take metrics as an optional dependency.
type Metrics struct {
	// Auth operation metrics
	AuthOperations *prometheus.CounterVec
	AuthDuration   *prometheus.HistogramVec
	AuthErrors     *prometheus.CounterVec
	SessionsIssued *prometheus.CounterVec

	// KV backend metrics
	KVCommands  *prometheus.CounterVec
	KVLatency   *prometheus.HistogramVec
	KVFallbacks *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		AuthOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chathub_auth_operations_total",
				Help: "Total number of auth service operations",
			},
			[]string{"operation", "success"},
		),
		AuthDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chathub_auth_operation_duration_seconds",
				Help:    "Auth service operation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		AuthErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chathub_auth_errors_total",
				Help: "Total number of failed auth operations by error code",
			},
			[]string{"operation", "error_code"},
		),
		SessionsIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chathub_sessions_issued_total",
				Help: "Total number of sessions issued by how the caller authenticated",
			},
			[]string{"method"},
		),

		KVCommands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chathub_kv_commands_total",
				Help: "Total number of commands sent to a KV backend",
			},
			[]string{"backend", "command", "success"},
		),
		KVLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chathub_kv_command_latency_seconds",
				Help:    "KV backend command latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"backend", "command"},
		),
		KVFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chathub_kv_fallback_total",
				Help: "Total number of KV commands served by the local store after a remote failure",
			},
			[]string{"command"},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chathub_http_requests_total",
				Help: "Total number of HTTP API requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chathub_http_request_duration_seconds",
				Help:    "HTTP API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RecordAuth records the outcome of one auth service operation.
func (m *Metrics) RecordAuth(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.AuthOperations.WithLabelValues(operation, strconv.FormatBool(err == nil)).Inc()
	m.AuthDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		code := string(errors.CodeOf(err))
		if code == "" {
			code = string(errors.ErrCodeInternal)
		}
		m.AuthErrors.WithLabelValues(operation, code).Inc()
	}
}

// RecordSessionIssued counts a session issued via method
// (guest, password, totp, backup_code).
func (m *Metrics) RecordSessionIssued(method string) {
	if m == nil {
		return
	}
	m.SessionsIssued.WithLabelValues(method).Inc()
}

// RecordKVCommand records one command sent to a KV backend.
func (m *Metrics) RecordKVCommand(backend, command string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.KVCommands.WithLabelValues(backend, command, strconv.FormatBool(err == nil)).Inc()
	m.KVLatency.WithLabelValues(backend, command).Observe(duration.Seconds())
}

// RecordKVFallback counts a command served locally after the remote failed.
func (m *Metrics) RecordKVFallback(command string) {
	if m == nil {
		return
	}
	m.KVFallbacks.WithLabelValues(command).Inc()
}

// RecordHTTP records one HTTP API request.
func (m *Metrics) RecordHTTP(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
