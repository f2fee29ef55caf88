// Package server accepts client connections and drives HTTP on each one
// through its own Service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	enigmatls "github.com/polisai/enigma/internal/tls"
	"github.com/polisai/enigma/pkg/service"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Config holds the per-connection HTTP timeouts. Zero means no limit.
type Config struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// Option customises an Acceptor.
type Option func(*Acceptor)

// WithObserver reports connection lifecycle events to o.
func WithObserver(o ConnectionObserver) Option {
	return func(a *Acceptor) {
		if o != nil {
			a.observer = o
		}
	}
}

// Acceptor owns the listening socket and one goroutine per connection.
type Acceptor struct {
	cfg      Config
	factory  service.Factory
	upgrader Upgrader
	observer ConnectionObserver
	logger   *slog.Logger
	mode     string

	mu       sync.Mutex
	listener net.Listener
	closing  bool
	conns    map[*connection]struct{}
	wg       sync.WaitGroup
}

type connection struct {
	raw net.Conn
	srv *http.Server
}

// New returns an Acceptor that upgrades each connection with upgrader and
// serves it with a Service from factory.
func New(cfg Config, factory service.Factory, upgrader Upgrader, logger *slog.Logger, opts ...Option) *Acceptor {
	if factory == nil {
		panic("server: service factory is required")
	}
	if upgrader == nil {
		upgrader = PlainUpgrader{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	mode := "tls"
	if _, ok := upgrader.(PlainUpgrader); ok {
		mode = "plain"
	}

	a := &Acceptor{
		cfg:      cfg,
		factory:  factory,
		upgrader: upgrader,
		observer: nopObserver{},
		logger:   logger.With("component", "acceptor"),
		mode:     mode,
		conns:    make(map[*connection]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Listen binds the TCP address. A bind failure is a *tls.TLSError of type
// listener_create.
func (a *Acceptor) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return enigmatls.NewListenerCreateError(addr, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		_ = listener.Close()
		return fmt.Errorf("server: already listening on %s", a.listener.Addr())
	}
	a.listener = listener
	return nil
}

// Addr reports the bound address, or nil before Listen.
func (a *Acceptor) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Serve accepts connections until Shutdown is called or ctx is done, and
// then returns nil. Accept errors are logged and retried with backoff.
func (a *Acceptor) Serve(ctx context.Context) error {
	a.mu.Lock()
	listener := a.listener
	a.mu.Unlock()
	if listener == nil {
		return errors.New("server: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, a.stopAccepting)
	defer stop()

	a.logger.Info("Accepting connections",
		"address", listener.Addr().String(),
		"mode", a.mode)

	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if a.isClosing() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("server: listener closed unexpectedly: %w", err)
			}

			backoff = nextBackoff(backoff)
			a.logger.Warn("Accept failed", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		c := &connection{raw: conn}
		if !a.track(c) {
			_ = conn.Close()
			return nil
		}
		go a.handle(ctx, c)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return minAcceptBackoff
	}
	return min(current*2, maxAcceptBackoff)
}

// handle runs one connection to completion. Nothing that happens here
// reaches the accept loop or other connections.
func (a *Acceptor) handle(ctx context.Context, c *connection) {
	defer a.untrack(c)

	start := time.Now()
	peer := c.raw.RemoteAddr()
	logger := a.logger.With("peer", peer.String())

	a.observer.ConnectionOpened(a.mode)
	defer func() {
		a.observer.ConnectionClosed(a.mode, time.Since(start))
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Connection handler panicked",
				"panic", r,
				"stack", string(debug.Stack()))
			_ = c.raw.Close()
		}
	}()

	conn, err := a.upgrader.Upgrade(ctx, c.raw)
	if err != nil {
		_ = c.raw.Close()
		a.observer.UpgradeFailed(a.mode)
		logger.Log(ctx, upgradeFailureLevel(err), "Connection upgrade failed", "error", err)
		return
	}

	listener := newConnListener(conn)
	srv := &http.Server{
		Handler:           a.factory.MakeService(peer),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
		ConnState: func(_ net.Conn, state http.ConnState) {
			if state == http.StateClosed || state == http.StateHijacked {
				_ = listener.Close()
			}
		},
	}

	if !a.attach(c, srv) {
		_ = conn.Close()
		return
	}

	err = serveConnection(srv, listener)
	if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		logger.WarnContext(ctx, "Connection ended with error", "error", err)
	}
}

// upgradeFailureLevel keeps client-caused handshake failures at debug; they
// are already logged and counted by the TLS upgrader. Anything else is a
// server-side fault.
func upgradeFailureLevel(err error) slog.Level {
	if enigmatls.IsHandshakeError(err) {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

// serveConnection drives srv over l. A server shut down before it accepted
// never owned the connection, so it is closed here.
func serveConnection(srv *http.Server, l *connListener) error {
	err := srv.Serve(l)
	if !l.handedOut() {
		_ = l.conn.Close()
	}
	return err
}

func (a *Acceptor) track(c *connection) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return false
	}
	a.conns[c] = struct{}{}
	a.wg.Add(1)
	return true
}

// attach records the connection's server so Shutdown can drain it.
func (a *Acceptor) attach(c *connection, srv *http.Server) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return false
	}
	c.srv = srv
	return true
}

func (a *Acceptor) untrack(c *connection) {
	a.mu.Lock()
	delete(a.conns, c)
	a.mu.Unlock()
	a.wg.Done()
}

func (a *Acceptor) isClosing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closing
}

func (a *Acceptor) stopAccepting() {
	a.mu.Lock()
	a.closing = true
	listener := a.listener
	a.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}
}

// Shutdown stops accepting, lets in-flight requests finish and waits for
// every connection goroutine. When ctx expires first the remaining
// connections are closed and ctx.Err() is returned.
func (a *Acceptor) Shutdown(ctx context.Context) error {
	a.stopAccepting()

	a.mu.Lock()
	servers := make([]*http.Server, 0, len(a.conns))
	for c := range a.conns {
		if c.srv != nil {
			servers = append(servers, c.srv)
		}
	}
	a.mu.Unlock()

	a.logger.Info("Shutting down", "connections", len(servers))

	var drain sync.WaitGroup
	for _, srv := range servers {
		drain.Add(1)
		go func() {
			defer drain.Done()
			if err := srv.Shutdown(ctx); err != nil {
				_ = srv.Close()
			}
		}()
	}
	drain.Wait()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.mu.Lock()
		for c := range a.conns {
			_ = c.raw.Close()
		}
		a.mu.Unlock()
		return ctx.Err()
	}
}
