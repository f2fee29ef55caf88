package server

import (
	"context"
	"net"
	"time"
)

// Upgrader prepares an accepted connection for HTTP. The TLS upgrader
// performs the handshake; PlainUpgrader returns the connection unchanged.
// A failed upgrade closes that connection only.
type Upgrader interface {
	Upgrade(ctx context.Context, conn net.Conn) (net.Conn, error)
}

// PlainUpgrader serves connections without TLS.
type PlainUpgrader struct{}

// Upgrade returns conn as is.
func (PlainUpgrader) Upgrade(_ context.Context, conn net.Conn) (net.Conn, error) {
	return conn, nil
}

// ConnectionObserver is told about every connection the acceptor handles.
type ConnectionObserver interface {
	ConnectionOpened(mode string)
	ConnectionClosed(mode string, lifetime time.Duration)
	UpgradeFailed(mode string)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened(string)                {}
func (nopObserver) ConnectionClosed(string, time.Duration) {}
func (nopObserver) UpgradeFailed(string)                   {}
