package tls

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CertificateStatus classifies how close a certificate is to expiry.
type CertificateStatus string

const (
	CertificateOK       CertificateStatus = "OK"
	CertificateWarning  CertificateStatus = "WARNING"
	CertificateCritical CertificateStatus = "CRITICAL"
	CertificateExpired  CertificateStatus = "EXPIRED"
)

// DefaultCheckInterval is how often the monitor re-evaluates expiry.
const DefaultCheckInterval = time.Hour

// StatusAt reports the status of a certificate expiring at notAfter.
func StatusAt(notAfter, now time.Time) CertificateStatus {
	remaining := notAfter.Sub(now)
	switch {
	case remaining <= 0:
		return CertificateExpired
	case remaining <= 24*time.Hour:
		return CertificateCritical
	case remaining <= 7*24*time.Hour:
		return CertificateWarning
	default:
		return CertificateOK
	}
}

// CertificateMonitor periodically reports the expiry of the served
// certificate through logs and the expiry gauge.
type CertificateMonitor struct {
	info     *CertificateInfo
	metrics  *TLSMetricsCollector
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewCertificateMonitor returns a monitor for info. metrics may be nil.
func NewCertificateMonitor(info *CertificateInfo, metrics *TLSMetricsCollector, interval time.Duration, logger *slog.Logger) *CertificateMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &CertificateMonitor{
		info:     info,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Start runs an immediate check and then one per interval until Stop or
// ctx is done.
func (m *CertificateMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})

	m.wg.Add(1)
	go m.loop(ctx, m.stop)
}

// Stop halts monitoring and waits for the loop to exit.
func (m *CertificateMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *CertificateMonitor) loop(ctx context.Context, stop <-chan struct{}) {
	defer m.wg.Done()

	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check evaluates the certificate once and returns its status.
func (m *CertificateMonitor) Check(ctx context.Context) CertificateStatus {
	now := m.now()
	status := StatusAt(m.info.NotAfter, now)

	if m.metrics != nil {
		m.metrics.RecordCertificateExpiry(ctx, m.info.Subject, m.info.NotAfter)
	}

	level := slog.LevelDebug
	switch status {
	case CertificateWarning:
		level = slog.LevelWarn
	case CertificateCritical, CertificateExpired:
		level = slog.LevelError
	}

	m.logger.LogAttrs(ctx, level, "Certificate expiry check",
		slog.String("event", "certificate_expiry"),
		slog.String("subject", m.info.Subject),
		slog.String("status", string(status)),
		slog.Time("not_after", m.info.NotAfter),
		slog.Duration("remaining", m.info.NotAfter.Sub(now)),
	)

	return status
}
