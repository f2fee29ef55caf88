// Package tls loads the gateway's server certificate material and performs
// the per-connection TLS handshake.
//
// A handshake failure is confined to its connection: it is classified into a
// TLSError, logged through TLSLogger, counted by TLSMetricsCollector and the
// connection is closed. The accept loop never sees it.
package tls
