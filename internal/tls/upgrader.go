package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/polisai/enigma/pkg/domain"
)

// DefaultHandshakeTimeout bounds a handshake when none is configured.
const DefaultHandshakeTimeout = 10 * time.Second

// Upgrader performs the server side TLS handshake on accepted connections.
type Upgrader struct {
	config  *tls.Config
	timeout time.Duration
	logger  *TLSLogger
	metrics *TLSMetricsCollector
}

// NewUpgrader returns an Upgrader presenting cfg. metrics may be nil.
func NewUpgrader(cfg *tls.Config, timeout time.Duration, logger *slog.Logger, metrics *TLSMetricsCollector) *Upgrader {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	return &Upgrader{
		config:  cfg,
		timeout: timeout,
		logger:  NewTLSLogger(logger),
		metrics: metrics,
	}
}

// Upgrade completes the handshake on conn and returns the TLS connection.
// On failure the returned error is a *TLSError and conn must be closed by
// the caller.
func (u *Upgrader) Upgrade(ctx context.Context, conn net.Conn) (net.Conn, error) {
	start := time.Now()
	remoteAddr := conn.RemoteAddr().String()

	if err := conn.SetDeadline(start.Add(u.timeout)); err != nil {
		return nil, NewConnectionHandleError(remoteAddr, "failed to set handshake deadline", err)
	}

	hsCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	tlsConn := tls.Server(conn, u.config)
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		tlsErr := u.classify(err).WithContext("remote_addr", remoteAddr)
		u.logger.LogHandshakeFailure(ctx, remoteAddr, tlsErr, time.Since(start))
		if u.metrics != nil {
			u.metrics.RecordHandshakeError(ctx, tlsErr.Type)
		}
		return nil, tlsErr
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, NewConnectionHandleError(remoteAddr, "failed to clear handshake deadline", err)
	}

	tlsCtx := ExtractTLSContext(tlsConn.ConnectionState(), time.Since(start))
	u.logger.LogHandshakeSuccess(ctx, tlsCtx, remoteAddr)
	if u.metrics != nil {
		u.metrics.RecordHandshakeSuccess(ctx, tlsCtx.Version, tlsCtx.CipherSuite, tlsCtx.HandshakeDuration)
	}

	return tlsConn, nil
}

func (u *Upgrader) classify(err error) *TLSError {
	var recordErr tls.RecordHeaderError
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return NewHandshakeTimeoutError(u.timeout.String())
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, net.ErrClosed):
		return NewClientDisconnectError(err)
	case errors.As(err, &recordErr):
		return NewHandshakeFailureError("client did not send a TLS record", err)
	case strings.Contains(err.Error(), "protocol version"),
		strings.Contains(err.Error(), "unsupported versions"):
		return NewProtocolMismatchError(tls.VersionName(u.config.MinVersion), err)
	case strings.Contains(err.Error(), "cipher"):
		return NewCipherNegotiationError(err)
	default:
		return NewHandshakeFailureError("handshake rejected", err)
	}
}

// ExtractTLSContext summarises a completed handshake.
func ExtractTLSContext(state tls.ConnectionState, handshakeDuration time.Duration) *domain.TLSContext {
	ctx := &domain.TLSContext{
		Version:            tls.VersionName(state.Version),
		CipherSuite:        tls.CipherSuiteName(state.CipherSuite),
		ServerName:         state.ServerName,
		NegotiatedProtocol: state.NegotiatedProtocol,
		HandshakeDuration:  handshakeDuration,
		ClientAuth:         len(state.PeerCertificates) > 0,
	}

	if len(state.PeerCertificates) > 0 {
		ctx.PeerCertificates = make([]string, len(state.PeerCertificates))
		for i, cert := range state.PeerCertificates {
			ctx.PeerCertificates[i] = cert.Subject.String()
		}
	}

	return ctx
}
