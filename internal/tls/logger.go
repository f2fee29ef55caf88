package tls

import (
	"context"
	"log/slog"
	"time"

	"github.com/polisai/enigma/pkg/domain"
)

// TLSLogger provides structured logging for TLS events
type TLSLogger struct {
	logger *slog.Logger
}

// NewTLSLogger creates a new TLS logger
func NewTLSLogger(logger *slog.Logger) *TLSLogger {
	if logger == nil {
		logger = slog.Default()
	}

	return &TLSLogger{
		logger: logger.With("component", "tls"),
	}
}

// LogHandshakeSuccess logs a successful TLS handshake
func (l *TLSLogger) LogHandshakeSuccess(ctx context.Context, tlsCtx *domain.TLSContext, remoteAddr string) {
	attrs := []slog.Attr{
		slog.String("event", "handshake_success"),
		slog.String("remote_addr", remoteAddr),
		slog.String("tls_version", tlsCtx.Version),
		slog.String("cipher_suite", tlsCtx.CipherSuite),
		slog.String("server_name", tlsCtx.ServerName),
		slog.Duration("handshake_duration", tlsCtx.HandshakeDuration),
		slog.String("negotiated_protocol", tlsCtx.NegotiatedProtocol),
	}

	if len(tlsCtx.PeerCertificates) > 0 {
		attrs = append(attrs, slog.Int("peer_cert_count", len(tlsCtx.PeerCertificates)))
	}

	l.logger.LogAttrs(ctx, slog.LevelDebug, "TLS handshake completed", attrs...)
}

// LogHandshakeFailure logs a failed TLS handshake. Timeouts and client
// disconnects are routine on a public listener and logged at warn.
func (l *TLSLogger) LogHandshakeFailure(ctx context.Context, remoteAddr string, err *TLSError, duration time.Duration) {
	level := slog.LevelError
	if err.Type == ErrorTypeHandshakeTimeout || err.Type == ErrorTypeClientDisconnect {
		level = slog.LevelWarn
	}

	l.logger.LogAttrs(ctx, level, "TLS handshake failed",
		slog.String("event", "handshake_failure"),
		slog.String("remote_addr", remoteAddr),
		slog.String("error_type", string(err.Type)),
		slog.String("error", err.Error()),
		slog.Duration("handshake_duration", duration),
	)
}

// LogCertificateLoad logs certificate loading events
func (l *TLSLogger) LogCertificateLoad(ctx context.Context, info *CertificateInfo, err error) {
	if err != nil {
		l.logger.LogAttrs(ctx, slog.LevelError, "Certificate loading failed",
			slog.String("event", "certificate_load"),
			slog.Bool("success", false),
			slog.String("error", err.Error()),
		)
		return
	}

	l.logger.LogAttrs(ctx, slog.LevelInfo, "Certificate loaded",
		slog.String("event", "certificate_load"),
		slog.Bool("success", true),
		slog.String("cert_file", info.CertFile),
		slog.String("key_file", info.KeyFile),
		slog.String("subject", info.Subject),
		slog.String("issuer", info.Issuer),
		slog.Int("chain_length", info.ChainLength),
		slog.Time("not_after", info.NotAfter),
		slog.Any("dns_names", info.DNSNames),
	)
}
