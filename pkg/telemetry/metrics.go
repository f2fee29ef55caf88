package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/enigma/pkg/domain"
)

const namespace = "enigma"

// Metrics is the gateway's Prometheus registry and its instruments.
//
// Exposed series:
//   - enigma_requests_total{operation,outcome,status}
//   - enigma_request_duration_seconds{operation}
//   - enigma_connections_total{mode}
//   - enigma_connections_active{mode}
//   - enigma_connection_duration_seconds{mode}
//   - enigma_connection_upgrade_failures_total{mode}
//   - enigma_config_reloads_total{result}
//   - enigma_config_generation
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	connectionsTotal   *prometheus.CounterVec
	connectionsActive  *prometheus.GaugeVec
	connectionDuration *prometheus.HistogramVec
	upgradeFailures    *prometheus.CounterVec
	configReloads      *prometheus.CounterVec
	configGeneration   prometheus.Gauge
}

// NewMetrics creates the registry with Go runtime and process collectors
// plus the gateway instruments. A MeterBridge registers onto Registry().
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Gateway operations handled, by outcome and response status",
			},
			[]string{"operation", "outcome", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time spent handling gateway operations",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"operation"},
		),
		connectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Client connections accepted",
			},
			[]string{"mode"},
		),
		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections_active",
				Help:      "Client connections currently open",
			},
			[]string{"mode"},
		),
		connectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_duration_seconds",
				Help:      "Lifetime of client connections",
				Buckets:   []float64{0.01, 0.1, 1, 10, 60, 300, 1800},
			},
			[]string{"mode"},
		),
		upgradeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_upgrade_failures_total",
				Help:      "Connections closed because the TLS handshake failed",
			},
			[]string{"mode"},
		),
		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Encryption configuration load attempts, including the initial load",
			},
			[]string{"result"},
		),
		configGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_generation",
				Help:      "Generation of the encryption configuration currently served",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.connectionsTotal,
		m.connectionsActive,
		m.connectionDuration,
		m.upgradeFailures,
		m.configReloads,
		m.configGeneration,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation records one handled request.
func (m *Metrics) ObserveOperation(_ context.Context, op domain.Operation, outcome string, status int, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(op.String(), outcome, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(op.String()).Observe(elapsed.Seconds())
}

// ConnectionOpened counts an accepted connection.
func (m *Metrics) ConnectionOpened(mode string) {
	m.connectionsTotal.WithLabelValues(mode).Inc()
	m.connectionsActive.WithLabelValues(mode).Inc()
}

// ConnectionClosed records the end of a connection.
func (m *Metrics) ConnectionClosed(mode string, lifetime time.Duration) {
	m.connectionsActive.WithLabelValues(mode).Dec()
	m.connectionDuration.WithLabelValues(mode).Observe(lifetime.Seconds())
}

// UpgradeFailed counts a connection dropped during its upgrade step.
func (m *Metrics) UpgradeFailed(mode string) {
	m.upgradeFailures.WithLabelValues(mode).Inc()
}

// ConfigReloaded records a load attempt. It matches config.ReloadHook.
func (m *Metrics) ConfigReloaded(generation int64, err error) {
	if err != nil {
		m.configReloads.WithLabelValues("failure").Inc()
		return
	}
	m.configReloads.WithLabelValues("success").Inc()
	m.configGeneration.Set(float64(generation))
}
