package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/polisai/enigma/pkg/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errEmptyBody = errors.New("request body is empty")

// Routes returns the HTTP binding of the three operations.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /encrypt", s.handle(domain.OperationEncrypt))
	mux.HandleFunc("POST /decrypt", s.handle(domain.OperationDecrypt))
	mux.HandleFunc("POST /query", s.handle(domain.OperationQuery))
	return mux
}

func (s *Server) handle(op domain.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()

		document, err := s.readDocument(w, r)
		if err != nil {
			s.logger.WarnContext(ctx, "unreadable request body", "operation", op.String(), "error", err)
			s.metrics.ObserveOperation(ctx, op, OutcomeBadRequest, http.StatusBadRequest, time.Since(start))
			s.writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{
				Code:    http.StatusBadRequest,
				Message: err.Error(),
			})
			return
		}

		var resp Response
		switch op {
		case domain.OperationEncrypt:
			resp = s.Encrypt(ctx, document)
		case domain.OperationDecrypt:
			resp = s.Decrypt(ctx, document)
		default:
			resp = s.Query(ctx, document)
		}
		s.writeJSON(w, resp.StatusCode(), resp.Body())
	}
}

// readDocument returns the document carried by the request body. A body that
// is a JSON string literal is unwrapped; anything else is taken verbatim.
func (s *Server) readDocument(w http.ResponseWriter, r *http.Request) (string, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read request body: %w", err)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", errEmptyBody
	}

	if trimmed[0] == '"' {
		var unwrapped string
		if err := json.Unmarshal(trimmed, &unwrapped); err == nil {
			return unwrapped, nil
		}
	}
	return string(raw), nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("failed to encode response", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}
