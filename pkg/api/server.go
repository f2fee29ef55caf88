package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/enigma/pkg/config"
	"github.com/polisai/enigma/pkg/domain"
	"github.com/polisai/enigma/pkg/middleware"
)

const tracerName = "github.com/polisai/enigma/pkg/api"

// Outcome labels reported to the Recorder.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeBadRequest = "bad_request"
)

// SnapshotSource hands out the configuration snapshot current at call time.
type SnapshotSource interface {
	CurrentSnapshot() *config.Snapshot
}

// Engine performs the document transformation for one operation. Errors of
// type *domain.TransformError are expected outcomes; any other error is
// reported the same way with its text as the message.
type Engine interface {
	Transform(ctx context.Context, op domain.Operation, snapshot *config.Snapshot, document string) (string, error)
}

// Recorder receives one observation per handled request.
type Recorder interface {
	ObserveOperation(ctx context.Context, op domain.Operation, outcome string, status int, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(context.Context, domain.Operation, string, int, time.Duration) {}

// Server is the request handler shared by every connection. It holds no
// per-request state.
type Server struct {
	source       SnapshotSource
	engine       Engine
	metrics      Recorder
	logger       *slog.Logger
	tracer       trace.Tracer
	maxBodyBytes int64
}

// Option customises a Server.
type Option func(*Server)

// WithMaxBodyBytes bounds the size of request documents.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// DefaultMaxBodyBytes bounds request documents when no limit is configured.
const DefaultMaxBodyBytes = 10 << 20

// NewServer wires the handler to its collaborators. metrics and logger may be nil.
func NewServer(source SnapshotSource, engine Engine, metrics Recorder, logger *slog.Logger, opts ...Option) *Server {
	if source == nil {
		panic("api: snapshot source is required")
	}
	if engine == nil {
		panic("api: transformation engine is required")
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		source:       source,
		engine:       engine,
		metrics:      metrics,
		logger:       logger,
		tracer:       otel.Tracer(tracerName),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Encrypt encrypts the configured fields of body.
func (s *Server) Encrypt(ctx context.Context, body string) EncryptResponse {
	return encryptResponse(s.run(ctx, domain.OperationEncrypt, body))
}

// Decrypt restores the configured fields of body.
func (s *Server) Decrypt(ctx context.Context, body string) DecryptResponse {
	return decryptResponse(s.run(ctx, domain.OperationDecrypt, body))
}

// Query rewrites a query document so it matches encrypted stored fields.
func (s *Server) Query(ctx context.Context, body string) QueryResponse {
	return queryResponse(s.run(ctx, domain.OperationQuery, body))
}

func (s *Server) run(ctx context.Context, op domain.Operation, body string) domain.Outcome {
	start := time.Now()
	spanID := middleware.SpanIDFromContext(ctx)

	ctx, span := s.tracer.Start(ctx, "enigma."+op.String(),
		trace.WithAttributes(attribute.String("enigma.operation", op.String())))
	defer span.End()

	s.logger.InfoContext(ctx, op.String(), "operation", op.String(), "span_id", spanID)
	s.logger.DebugContext(ctx, "request document", "operation", op.String(), "span_id", spanID, "document", body)

	// Fetched per request so a reload is visible to the next request on the
	// same connection.
	snapshot := s.source.CurrentSnapshot()
	if snapshot != nil {
		span.SetAttributes(attribute.Int64("enigma.config.generation", snapshot.Generation))
	}

	document, err := s.engine.Transform(ctx, op, snapshot, body)
	if err != nil {
		status := FailureStatus(op)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.InfoContext(ctx, "operation failed",
			"operation", op.String(), "span_id", spanID, "status", status, "error", err)
		s.metrics.ObserveOperation(ctx, op, OutcomeFailure, status, time.Since(start))
		return domain.Failure(status, err.Error())
	}

	s.metrics.ObserveOperation(ctx, op, OutcomeSuccess, http.StatusOK, time.Since(start))
	return domain.Success(document)
}
