package middleware

import (
	"context"
	"net/http"

	"github.com/akimenko/authd/internal/handlers/principalctx"
	"github.com/akimenko/authd/internal/handlers/render"
	"github.com/akimenko/authd/internal/models"
)

type sessionService interface {
	AuthenticateRequest(ctx context.Context, r *http.Request) (models.Principal, error)
}

// Auth parses the bearer token and puts the principal into request context.
// Requests without a valid token get 401 and never reach the handler.
func Auth(s sessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := s.AuthenticateRequest(r.Context(), r)
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := principalctx.New(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles allows the request through when the principal holds at least
// one of the listed roles. Must be mounted after Auth.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := principalctx.FromContext(r.Context())
			if !ok {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !principal.HasAnyRole(roles...) {
				// Authorization failure, not authentication: the caller is
				// known, just not allowed. Keep the body generic.
				render.ServiceError(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
