// Package middleware holds the per-connection layers that wrap the request
// handler: authentication, request context and panic recovery.
package middleware

import (
	"log/slog"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/polisai/enigma/pkg/domain"
)

// Middleware wraps an http.Handler to add cross-cutting behavior.
type Middleware func(http.Handler) http.Handler

// Chain composes multiple middleware into a single middleware.
// Chain(a, b, c) produces a(b(c(handler))), so a runs first on the way in.
func Chain(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(domain.ErrorResponse{
		Code:    status,
		Message: message,
	})
	if err != nil {
		logger.Error("failed to encode error response", "error", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
