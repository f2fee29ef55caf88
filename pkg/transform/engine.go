package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/polisai/enigma/pkg/config"
	"github.com/polisai/enigma/pkg/domain"
)

// Engine applies a crypt configuration snapshot to JSON documents. It holds
// no per-request state and is safe for concurrent use.
type Engine struct {
	logger *slog.Logger
}

// New returns an Engine. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Transform runs op over document using snapshot. Failures attributable to the
// document or the configuration are reported as *domain.TransformError.
func (e *Engine) Transform(ctx context.Context, op domain.Operation, snapshot *config.Snapshot, document string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if snapshot == nil || snapshot.Crypt == nil {
		return "", &domain.TransformError{Err: domain.ErrNoConfiguration, Message: domain.ErrNoConfiguration.Error()}
	}

	keys, err := deriveKeys(snapshot.Crypt.MasterKey())
	if err != nil {
		return "", &domain.TransformError{
			Err:     domain.ErrConfigInvalid,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid, err),
		}
	}

	doc, err := decodeObject(document)
	if err != nil {
		return "", &domain.TransformError{
			Err:     domain.ErrInvalidDocument,
			Message: fmt.Sprintf("%s: %v", domain.ErrInvalidDocument, err),
		}
	}

	switch op {
	case domain.OperationEncrypt:
		err = encryptDocument(keys, snapshot.Crypt, doc)
	case domain.OperationDecrypt:
		err = decryptDocument(keys, snapshot.Crypt, doc)
	case domain.OperationQuery:
		err = rewriteQuery(keys, snapshot.Crypt, doc)
	default:
		return "", fmt.Errorf("unsupported operation %s", op)
	}
	if err != nil {
		var te *domain.TransformError
		if errors.As(err, &te) {
			e.logger.DebugContext(ctx, "transform rejected document",
				"operation", op.String(), "field", te.Field, "generation", snapshot.Generation, "error", te.Message)
		}
		return "", err
	}

	out, err := encodeObject(doc)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return out, nil
}

func encryptDocument(keys *keySet, crypt *config.CryptConfig, doc map[string]any) error {
	for _, field := range crypt.Fields {
		_, err := visit(doc, splitPath(field.Path), func(value any) (any, error) {
			out, err := keys.protect(field.Path, field.Mode, value)
			if err != nil {
				return nil, domain.NewFieldError(field.Path, domain.ErrConfigInvalid, "encryption failed: %v", err)
			}
			return out, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func decryptDocument(keys *keySet, crypt *config.CryptConfig, doc map[string]any) error {
	for _, field := range crypt.Fields {
		_, err := visit(doc, splitPath(field.Path), func(value any) (any, error) {
			out, err := keys.reveal(field.Path, value)
			if err != nil {
				return nil, domain.NewFieldError(field.Path, domain.ErrFieldNotDecryptable, "%v", err)
			}
			return out, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
