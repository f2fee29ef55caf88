// Package service builds the per-connection request pipeline.
package service

import (
	"log/slog"
	"net"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/enigma/pkg/middleware"
)

// Factory makes a fresh Service for every accepted connection.
type Factory interface {
	MakeService(peer net.Addr) http.Handler
}

// ChainFactory composes Recover, Auth and SpanContext around a shared handler.
// The handler and its collaborators are created once and shared read-only;
// only the middleware wrappers are built per connection.
type ChainFactory struct {
	handler   http.Handler
	authn     middleware.Authenticator
	logger    *slog.Logger
	operation string
}

// NewFactory returns a Factory serving handler behind authn.
func NewFactory(handler http.Handler, authn middleware.Authenticator, logger *slog.Logger) *ChainFactory {
	if handler == nil {
		panic("service: request handler is required")
	}
	if authn == nil {
		authn = middleware.AllowAll{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainFactory{
		handler:   handler,
		authn:     authn,
		logger:    logger,
		operation: "enigma.gateway",
	}
}

// MakeService returns the Auth → Context → Handler pipeline for one
// connection, instrumented with OpenTelemetry.
func (f *ChainFactory) MakeService(peer net.Addr) http.Handler {
	logger := f.logger
	if peer != nil {
		logger = logger.With("peer", peer.String())
	}

	chain := middleware.Chain(
		middleware.Recover(logger),
		middleware.Auth(f.authn, logger),
		middleware.SpanContext(logger),
	)

	return otelhttp.NewHandler(chain(f.handler), f.operation,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
