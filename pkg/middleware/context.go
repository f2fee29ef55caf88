package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HeaderSpanID carries the request trace identifier in both directions.
const HeaderSpanID = "X-Span-ID"

const maxSpanIDLength = 128

type spanIDKey struct{}

// SpanIDFromContext returns the trace identifier attached by SpanContext.
// Returns an empty string if none is set.
func SpanIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(spanIDKey{}).(string); ok {
		return id
	}
	return ""
}

// SpanContext attaches a trace identifier to every request. A well-formed
// inbound X-Span-ID is reused; otherwise a random UUID is generated. The
// identifier is echoed on the response and recorded on the active span.
func SpanContext(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			spanID := r.Header.Get(HeaderSpanID)
			if !validSpanID(spanID) {
				if spanID != "" {
					logger.DebugContext(r.Context(), "ignoring malformed inbound span id", "length", len(spanID))
				}
				spanID = uuid.New().String()
			}

			ctx := context.WithValue(r.Context(), spanIDKey{}, spanID)
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("enigma.span_id", spanID))

			w.Header().Set(HeaderSpanID, spanID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validSpanID(id string) bool {
	if id == "" || len(id) > maxSpanIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
