package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enigmatls "github.com/polisai/enigma/internal/tls"
	"github.com/polisai/enigma/pkg/api"
	"github.com/polisai/enigma/pkg/config"
	"github.com/polisai/enigma/pkg/domain"
	"github.com/polisai/enigma/pkg/service"
)

const wireDocument = `"{\"field\":\"value\"}"`

type engineFunc func(ctx context.Context, op domain.Operation, snapshot *config.Snapshot, document string) (string, error)

func (f engineFunc) Transform(ctx context.Context, op domain.Operation, snapshot *config.Snapshot, document string) (string, error) {
	return f(ctx, op, snapshot, document)
}

func echoEngine() api.Engine {
	return engineFunc(func(_ context.Context, _ domain.Operation, _ *config.Snapshot, document string) (string, error) {
		return document, nil
	})
}

type upgraderFunc func(ctx context.Context, conn net.Conn) (net.Conn, error)

func (f upgraderFunc) Upgrade(ctx context.Context, conn net.Conn) (net.Conn, error) {
	return f(ctx, conn)
}

type countingObserver struct {
	opened, closed, failed atomic.Int64
}

func (o *countingObserver) ConnectionOpened(string)                { o.opened.Add(1) }
func (o *countingObserver) ConnectionClosed(string, time.Duration) { o.closed.Add(1) }
func (o *countingObserver) UpgradeFailed(string)                   { o.failed.Add(1) }

type fixture struct {
	acceptor *Acceptor
	holder   *config.SnapshotHolder
	client   *http.Client
	scheme   string
	served   chan error
}

func startAcceptor(t *testing.T, engine api.Engine, upgrader Upgrader, clientTLS *tls.Config, opts ...Option) *fixture {
	t.Helper()

	logger := slog.Default()
	holder := config.NewSnapshotHolder(&config.Snapshot{Generation: 1, LoadedAt: time.Now()})
	handler := api.NewServer(holder, engine, nil, logger).Routes()
	factory := service.NewFactory(handler, nil, logger)

	acceptor := New(Config{ReadHeaderTimeout: 5 * time.Second, IdleTimeout: 30 * time.Second}, factory, upgrader, logger, opts...)
	require.NoError(t, acceptor.Listen("127.0.0.1:0"))

	served := make(chan error, 1)
	go func() { served <- acceptor.Serve(context.Background()) }()

	scheme := "http"
	if clientTLS != nil {
		scheme = "https"
	}
	transport := &http.Transport{TLSClientConfig: clientTLS, MaxConnsPerHost: 1}
	client := &http.Client{Transport: transport, Timeout: 10 * time.Second}

	t.Cleanup(func() {
		transport.CloseIdleConnections()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = acceptor.Shutdown(ctx)
	})

	return &fixture{acceptor: acceptor, holder: holder, client: client, scheme: scheme, served: served}
}

func (f *fixture) url(path string) string {
	return fmt.Sprintf("%s://%s%s", f.scheme, f.acceptor.Addr().String(), path)
}

func (f *fixture) post(t *testing.T, ctx context.Context, path, body string) (int, string, http.Header) {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url(path), strings.NewReader(body))
	require.NoError(t, err)
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data), resp.Header
}

func newTLSUpgrader(t *testing.T) (Upgrader, *tls.Config) {
	t.Helper()

	files, err := enigmatls.GenerateServerChain(t.TempDir(), enigmatls.CertificateGenerationOptions{})
	require.NoError(t, err)
	serverConfig, _, err := enigmatls.BuildServer(enigmatls.Config{CertChainFile: files.CertChainFile, KeyFile: files.KeyFile})
	require.NoError(t, err)

	caPEM, err := os.ReadFile(files.CAFile)
	require.NoError(t, err)
	roots := x509.NewCertPool()
	require.True(t, roots.AppendCertsFromPEM(caPEM))

	return enigmatls.NewUpgrader(serverConfig, 2*time.Second, slog.Default(), nil), &tls.Config{RootCAs: roots}
}

// requireClosedByServer asserts the peer closed conn instead of leaving it
// open until the read deadline.
func requireClosedByServer(t *testing.T, conn net.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := io.ReadAll(conn)
	var netErr net.Error
	if errors.As(err, &netErr) {
		require.False(t, netErr.Timeout(), "connection was left open")
	}
}

func TestPlainModeRoutesEncryptVerbatim(t *testing.T) {
	f := startAcceptor(t, echoEngine(), PlainUpgrader{}, nil)

	status, body, header := f.post(t, context.Background(), "/encrypt", wireDocument)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, wireDocument, body)
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.NotEmpty(t, header.Get("X-Span-ID"))
}

func TestTLSModeRoutesEncryptVerbatim(t *testing.T) {
	upgrader, clientTLS := newTLSUpgrader(t)
	f := startAcceptor(t, echoEngine(), upgrader, clientTLS)

	req, err := http.NewRequest(http.MethodPost, f.url("/encrypt"), strings.NewReader(wireDocument))
	require.NoError(t, err)
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, wireDocument, string(data))
	require.NotNil(t, resp.TLS)
	assert.GreaterOrEqual(t, resp.TLS.Version, uint16(tls.VersionTLS12))
}

func TestFailureStatusesOverTheWire(t *testing.T) {
	failing := engineFunc(func(context.Context, domain.Operation, *config.Snapshot, string) (string, error) {
		return "", errors.New("engine unavailable")
	})
	f := startAcceptor(t, failing, PlainUpgrader{}, nil)

	tests := []struct {
		path   string
		status int
	}{
		{"/encrypt", http.StatusServiceUnavailable},
		{"/decrypt", http.StatusForbidden},
		{"/query", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			status, body, _ := f.post(t, context.Background(), tt.path, wireDocument)
			assert.Equal(t, tt.status, status)
			assert.JSONEq(t, fmt.Sprintf(`{"code":%d,"message":"engine unavailable"}`, tt.status), body)
		})
	}
}

func TestHandshakeFailureIsConfinedToItsConnection(t *testing.T) {
	upgrader, clientTLS := newTLSUpgrader(t)
	observer := &countingObserver{}
	f := startAcceptor(t, echoEngine(), upgrader, clientTLS, WithObserver(observer))
	addr := f.acceptor.Addr().String()

	// A truncated handshake stays pending while other connections proceed.
	stalled, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer stalled.Close()
	_, err = stalled.Write([]byte{0x16, 0x03, 0x01})
	require.NoError(t, err)

	garbage, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer garbage.Close()
	_, err = garbage.Write([]byte("this is not a TLS client hello\r\n\r\n"))
	require.NoError(t, err)

	status, body, _ := f.post(t, context.Background(), "/encrypt", wireDocument)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, wireDocument, body)

	requireClosedByServer(t, garbage)
	requireClosedByServer(t, stalled)

	assert.Eventually(t, func() bool { return observer.failed.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestUpgradeFaultOnOneConnectionDoesNotAffectAnother(t *testing.T) {
	var calls atomic.Int64
	upgrader := upgraderFunc(func(ctx context.Context, conn net.Conn) (net.Conn, error) {
		switch calls.Add(1) {
		case 1:
			return nil, errors.New("injected upgrade failure")
		case 2:
			panic("injected upgrade panic")
		default:
			return conn, nil
		}
	})
	f := startAcceptor(t, echoEngine(), upgrader, nil)
	addr := f.acceptor.Addr().String()

	failed, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer failed.Close()
	requireClosedByServer(t, failed)

	panicked, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer panicked.Close()
	requireClosedByServer(t, panicked)

	status, body, _ := f.post(t, context.Background(), "/encrypt", wireDocument)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, wireDocument, body)
}

func TestSnapshotSwapIsObservedOnTheSameConnection(t *testing.T) {
	engine := engineFunc(func(_ context.Context, _ domain.Operation, snapshot *config.Snapshot, _ string) (string, error) {
		return fmt.Sprintf("generation-%d", snapshot.Generation), nil
	})
	f := startAcceptor(t, engine, PlainUpgrader{}, nil)

	var reused []bool
	ctx := httptrace.WithClientTrace(context.Background(), &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) { reused = append(reused, info.Reused) },
	})

	_, first, _ := f.post(t, ctx, "/encrypt", wireDocument)
	f.holder.Store(&config.Snapshot{Generation: 2, LoadedAt: time.Now()})
	_, second, _ := f.post(t, ctx, "/encrypt", wireDocument)

	assert.Equal(t, `"generation-1"`, first)
	assert.Equal(t, `"generation-2"`, second)
	assert.Equal(t, []bool{false, true}, reused)
}

func TestShutdownDrainsInFlightRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	engine := engineFunc(func(_ context.Context, _ domain.Operation, _ *config.Snapshot, document string) (string, error) {
		close(entered)
		<-release
		return document, nil
	})
	observer := &countingObserver{}
	f := startAcceptor(t, engine, PlainUpgrader{}, nil, WithObserver(observer))
	addr := f.acceptor.Addr().String()

	type result struct {
		status int
		body   string
	}
	results := make(chan result, 1)
	go func() {
		status, body, _ := f.post(t, context.Background(), "/encrypt", wireDocument)
		results <- result{status, body}
	}()
	<-entered

	shutdownErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownErr <- f.acceptor.Shutdown(ctx)
	}()

	require.NoError(t, <-f.served)
	assert.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return true
		}
		_ = conn.Close()
		return false
	}, 2*time.Second, 10*time.Millisecond)

	close(release)

	res := <-results
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, wireDocument, res.body)
	require.NoError(t, <-shutdownErr)
	assert.Equal(t, observer.opened.Load(), observer.closed.Load())
}

func TestServeStopsWhenContextIsCancelled(t *testing.T) {
	factory := service.NewFactory(http.NotFoundHandler(), nil, nil)
	acceptor := New(Config{}, factory, nil, nil)
	require.NoError(t, acceptor.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- acceptor.Serve(ctx) }()

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestListenFailureIsTyped(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	acceptor := New(Config{}, service.NewFactory(http.NotFoundHandler(), nil, nil), PlainUpgrader{}, nil)
	err = acceptor.Listen(occupied.Addr().String())

	var tlsErr *enigmatls.TLSError
	require.True(t, errors.As(err, &tlsErr))
	assert.Equal(t, enigmatls.ErrorTypeListenerCreate, tlsErr.Type)
	assert.Nil(t, acceptor.Addr())
}

func TestServeBeforeListen(t *testing.T) {
	acceptor := New(Config{}, service.NewFactory(http.NotFoundHandler(), nil, nil), nil, nil)

	assert.Error(t, acceptor.Serve(context.Background()))
}

func TestNewRequiresFactory(t *testing.T) {
	assert.Panics(t, func() { New(Config{}, nil, nil, nil) })
}

func TestNextBackoff(t *testing.T) {
	var delays []time.Duration
	var current time.Duration
	for range 10 {
		current = nextBackoff(current)
		delays = append(delays, current)
	}

	assert.Equal(t, minAcceptBackoff, delays[0])
	assert.Equal(t, 10*time.Millisecond, delays[1])
	assert.Equal(t, maxAcceptBackoff, delays[len(delays)-1])
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}
}

func TestConnListenerHandsOutOneConnection(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	listener := newConnListener(server)
	conn, err := listener.Accept()
	require.NoError(t, err)
	assert.Same(t, server, conn)

	var wg sync.WaitGroup
	wg.Add(1)
	var secondErr error
	go func() {
		defer wg.Done()
		_, secondErr = listener.Accept()
	}()

	require.NoError(t, listener.Close())
	require.NoError(t, listener.Close())
	wg.Wait()
	assert.ErrorIs(t, secondErr, net.ErrClosed)
	assert.Equal(t, server.LocalAddr(), listener.Addr())
}

func TestServeConnectionClosesConnectionNeverAccepted(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	srv := &http.Server{Handler: http.NotFoundHandler()}
	require.NoError(t, srv.Shutdown(context.Background()))

	listener := newConnListener(server)
	err := serveConnection(srv, listener)
	require.ErrorIs(t, err, http.ErrServerClosed)
	assert.False(t, listener.handedOut())

	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestUpgradeFailureLevel(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want slog.Level
	}{
		{"handshake timeout", enigmatls.NewHandshakeTimeoutError("10s"), slog.LevelDebug},
		{"client disconnect", enigmatls.NewClientDisconnectError(io.EOF), slog.LevelDebug},
		{"wrapped protocol mismatch", fmt.Errorf("upgrade: %w", enigmatls.NewProtocolMismatchError("1.2", nil)), slog.LevelDebug},
		{"connection handle", enigmatls.NewConnectionHandleError("10.0.0.1:5000", "setup", nil), slog.LevelWarn},
		{"plain error", errors.New("upgrader exploded"), slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, upgradeFailureLevel(tt.err))
		})
	}
}
