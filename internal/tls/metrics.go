package tls

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/polisai/enigma/internal/tls"

var (
	metricsOnce    sync.Once
	metricsInitErr error
	tlsMetricsInst *TLSMetricsCollector
)

// TLSMetricsCollector handles TLS-specific metrics collection
type TLSMetricsCollector struct {
	handshakesTotal   metric.Int64Counter
	handshakeErrors   metric.Int64Counter
	handshakeDuration metric.Float64Histogram
	certificateExpiry metric.Float64Gauge

	logger *slog.Logger
}

// GetTLSMetricsCollector returns the process-wide collector bound to the
// global meter provider. Set the provider before the first call.
func GetTLSMetricsCollector(logger *slog.Logger) (*TLSMetricsCollector, error) {
	metricsOnce.Do(func() {
		tlsMetricsInst, metricsInitErr = NewTLSMetricsCollector(otel.GetMeterProvider().Meter(meterName), logger)
	})
	return tlsMetricsInst, metricsInitErr
}

// NewTLSMetricsCollector creates a collector on the given meter.
func NewTLSMetricsCollector(meter metric.Meter, logger *slog.Logger) (*TLSMetricsCollector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	collector := &TLSMetricsCollector{
		logger: logger,
	}

	var err error

	collector.handshakesTotal, err = meter.Int64Counter(
		"tls_handshakes_total",
		metric.WithDescription("Total number of completed TLS handshakes"),
		metric.WithUnit("{handshake}"),
	)
	if err != nil {
		return nil, err
	}

	collector.handshakeErrors, err = meter.Int64Counter(
		"tls_handshake_errors_total",
		metric.WithDescription("Total number of TLS handshake errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	collector.handshakeDuration, err = meter.Float64Histogram(
		"tls_handshake_duration_seconds",
		metric.WithDescription("TLS handshake duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	collector.certificateExpiry, err = meter.Float64Gauge(
		"tls_certificate_expiry_timestamp",
		metric.WithDescription("Certificate expiry timestamp in Unix seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return collector, nil
}

// RecordHandshakeSuccess records a successful TLS handshake
func (c *TLSMetricsCollector) RecordHandshakeSuccess(ctx context.Context, version, cipherSuite string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tls_version", version),
		attribute.String("cipher_suite", cipherSuite),
	)

	c.handshakesTotal.Add(ctx, 1, attrs)
	c.handshakeDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordHandshakeError records a TLS handshake error
func (c *TLSMetricsCollector) RecordHandshakeError(ctx context.Context, errorType TLSErrorType) {
	c.handshakeErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error_type", string(errorType)),
	))
}

// RecordCertificateExpiry records certificate expiry information
func (c *TLSMetricsCollector) RecordCertificateExpiry(ctx context.Context, subject string, expiryTime time.Time) {
	c.certificateExpiry.Record(ctx, float64(expiryTime.Unix()), metric.WithAttributes(
		attribute.String("subject", subject),
	))
}
