// Package middleware provides the authentication middleware of the gateway
// API.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/shoal/internal/gateway/api/handlers"
	"github.com/marmos91/shoal/pkg/auth"
)

// BearerAuth authenticates requests with the authorizer and attaches the
// resolved principal to the request context.
func BearerAuth(authorizer auth.Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				handlers.Unauthorized(w, err.Error())
				return
			}

			principal, err := authorizer.Authorize(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrExpiredToken):
					handlers.Unauthorized(w, "token has expired")
				case errors.Is(err, auth.ErrNoCredential):
					handlers.Unauthorized(w, "authorization required")
				default:
					handlers.Unauthorized(w, "invalid token")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireAccountOwner rejects requests whose path account differs from the
// authenticated principal's. Operators may act on any account.
func RequireAccountOwner() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFrom(r.Context())
			if !ok {
				handlers.Unauthorized(w, "authorization required")
				return
			}
			account := chi.URLParam(r, "account")
			if account != principal.Account && !principal.Operator {
				handlers.Forbidden(w, "not authorized for account "+account)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RejectSubusers forbids delegated subusers. Multipart upload routes use
// this: uploads are account-level resources.
func RejectSubusers() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFrom(r.Context())
			if !ok {
				handlers.Unauthorized(w, "authorization required")
				return
			}
			if principal.IsSubuser() {
				handlers.Forbidden(w, "subusers may not manage multipart uploads")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("authorization required")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", errors.New("authorization header must be a bearer token")
	}
	return token, nil
}
