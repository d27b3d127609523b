package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/akimenko/authd/internal/apperrors"
	"github.com/akimenko/authd/internal/handlers/principalctx"
	"github.com/akimenko/authd/internal/handlers/render"
	"github.com/akimenko/authd/internal/logger"
	"github.com/akimenko/authd/internal/models"
)

type principalResponse struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	Roles     []string `json:"roles"`
}

type sessionResponse struct {
	AccessToken string            `json:"accessToken"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	User        principalResponse `json:"user"`
}

func toPrincipalResponse(p models.Principal) principalResponse {
	return principalResponse{
		ID:        p.ID.String(),
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Roles:     p.Roles,
	}
}

func toSessionResponse(s models.Session) sessionResponse {
	return sessionResponse{
		AccessToken: s.Access.Value,
		ExpiresAt:   s.Access.ExpiresAt,
		User:        toPrincipalResponse(s.Principal),
	}
}

func handleLogin(sessions sessionService, logger logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, err := sessions.Login(r.Context(), data.Email, data.Password, clientIP(r))
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrInvalidCredentials):
				render.ServiceError(w, "Invalid email or password", http.StatusUnauthorized)
			case errors.Is(err, apperrors.ErrUserLockedOut):
				render.ServiceError(w, "Account is locked. Please try again later", http.StatusLocked)
			default:
				logger.Error("login error", "error", err.Error())
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		sessions.WriteRefreshCookie(w, session.Refresh)
		render.JSON(w, toSessionResponse(session))
	})
}

func handleRefresh(sessions sessionService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := sessions.ReadRefreshCookie(r)
		if presented == "" {
			render.ServiceError(w, "Session is not valid", http.StatusUnauthorized)
			return
		}

		session, err := sessions.Refresh(r.Context(), presented, clientIP(r))
		if err != nil {
			// One generic answer for every failure kind: the browser must
			// not learn whether the token was unknown, expired or replayed.
			switch {
			case errors.Is(err, apperrors.ErrRefreshInvalid),
				errors.Is(err, apperrors.ErrRefreshExpired),
				errors.Is(err, apperrors.ErrRefreshReused):
				sessions.ClearRefreshCookie(w)
				render.ServiceError(w, "Session is not valid", http.StatusUnauthorized)
			default:
				logger.Error("refresh error", "error", err.Error())
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		sessions.WriteRefreshCookie(w, session.Refresh)
		render.JSON(w, toSessionResponse(session))
	})
}

func handleLogout(sessions sessionService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessions.Logout(r.Context(), sessions.ReadRefreshCookie(r), clientIP(r))
		sessions.ClearRefreshCookie(w)
		w.WriteHeader(http.StatusNoContent)
	})
}

func handleCurrentPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := principalctx.FromContext(r.Context())
		render.JSON(w, toPrincipalResponse(principal))
	})
}
