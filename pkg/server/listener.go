package server

import (
	"net"
	"sync"
)

// connListener hands a single connection to an http.Server. The second
// Accept blocks until Close so Serve keeps running while the connection is
// alive; Close is triggered once the connection reaches StateClosed.
type connListener struct {
	conn net.Conn

	mu       sync.Mutex
	accepted bool

	done      chan struct{}
	closeOnce sync.Once
}

func newConnListener(conn net.Conn) *connListener {
	return &connListener{conn: conn, done: make(chan struct{})}
}

func (l *connListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if !l.accepted {
		l.accepted = true
		l.mu.Unlock()
		return l.conn, nil
	}
	l.mu.Unlock()

	<-l.done
	return nil, net.ErrClosed
}

func (l *connListener) handedOut() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepted
}

// Close unblocks Accept. It leaves the connection to the http.Server.
func (l *connListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *connListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}
