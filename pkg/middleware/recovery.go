package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recover turns a handler panic into a 500 ErrorResponse. The connection and
// its later requests are unaffected.
func Recover(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.ErrorContext(r.Context(), "panic in handler",
						"error", rec,
						"span_id", panicSpanID(w, r),
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					writeError(w, logger, http.StatusInternalServerError, "internal error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// panicSpanID prefers the request context and falls back to the identifier
// SpanContext already echoed when Recover wraps it from the outside.
func panicSpanID(w http.ResponseWriter, r *http.Request) string {
	if id := SpanIDFromContext(r.Context()); id != "" {
		return id
	}
	return w.Header().Get(HeaderSpanID)
}
