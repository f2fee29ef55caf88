package tls

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestStatusAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		notAfter time.Time
		expected CertificateStatus
	}{
		{"expired", now.Add(-time.Second), CertificateExpired},
		{"expires now", now, CertificateExpired},
		{"within a day", now.Add(12 * time.Hour), CertificateCritical},
		{"within a week", now.Add(3 * 24 * time.Hour), CertificateWarning},
		{"healthy", now.Add(90 * 24 * time.Hour), CertificateOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StatusAt(tt.notAfter, now))
		})
	}
}

func TestCertificateMonitor_Check(t *testing.T) {
	collector, reader := newTestCollector(t)
	notAfter := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	info := &CertificateInfo{Subject: "CN=localhost", NotAfter: notAfter}

	monitor := NewCertificateMonitor(info, collector, time.Hour, slog.Default())

	assert.Equal(t, CertificateWarning, monitor.Check(context.Background()))

	gauge := collectMetric(t, reader, "tls_certificate_expiry_timestamp").Data.(metricdata.Gauge[float64])
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, float64(notAfter.Unix()), gauge.DataPoints[0].Value)
}

func TestCertificateMonitor_StartStop(t *testing.T) {
	collector, reader := newTestCollector(t)
	info := &CertificateInfo{Subject: "CN=localhost", NotAfter: time.Now().Add(365 * 24 * time.Hour)}

	monitor := NewCertificateMonitor(info, collector, 10*time.Millisecond, nil)
	monitor.Start(context.Background())
	monitor.Start(context.Background())

	assert.Eventually(t, func() bool {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			return false
		}
		return len(rm.ScopeMetrics) > 0
	}, time.Second, 5*time.Millisecond)

	monitor.Stop()
	monitor.Stop()
}
