package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/polisai/enigma/pkg/domain"
)

// Authorization is the identity admitted by an Authenticator.
type Authorization struct {
	Subject string
	Scopes  []string
}

// Authenticator decides whether a request may proceed. A nil Authorization
// or a non-nil error rejects the request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Authorization, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, r *http.Request) (*Authorization, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, r *http.Request) (*Authorization, error) {
	return f(ctx, r)
}

// AllowAll admits every request under a fixed subject.
type AllowAll struct {
	Subject string
}

// Authenticate always succeeds.
func (a AllowAll) Authenticate(context.Context, *http.Request) (*Authorization, error) {
	subject := a.Subject
	if subject == "" {
		subject = "cosmo"
	}
	return &Authorization{Subject: subject}, nil
}

type authorizationKey struct{}

// AuthorizationFromContext returns the identity admitted for this request, or
// nil outside the auth layer.
func AuthorizationFromContext(ctx context.Context) *Authorization {
	if v, ok := ctx.Value(authorizationKey{}).(*Authorization); ok {
		return v
	}
	return nil
}

// Auth admits or rejects each request before any inner layer runs. Rejected
// requests get a 401 with an ErrorResponse body.
func Auth(authn Authenticator, logger *slog.Logger) Middleware {
	if authn == nil {
		authn = AllowAll{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz, err := authn.Authenticate(r.Context(), r)
			if err == nil && authz == nil {
				err = domain.ErrAuthenticationFailed
			}
			if err != nil {
				logger.WarnContext(r.Context(), "authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				message := domain.ErrAuthenticationFailed.Error()
				if errors.Is(err, domain.ErrAuthenticationFailed) {
					message = err.Error()
				}
				writeError(w, logger, http.StatusUnauthorized, message)
				return
			}

			logger.DebugContext(r.Context(), "authentication succeeded",
				"subject", authz.Subject,
				"path", r.URL.Path,
			)

			ctx := context.WithValue(r.Context(), authorizationKey{}, authz)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
