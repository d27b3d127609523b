package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/akimenko/authd/internal/models"
)

const bearerScheme = "Bearer"

var errNoBearerToken = errors.New("no bearer token in request")

// WriteRefreshCookie sets the refresh token cookie: HTTP-only, Secure,
// SameSite=Strict, scoped to the session endpoints, expiring with the token.
func (s *SessionService) WriteRefreshCookie(w http.ResponseWriter, token models.IssuedToken) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.RefreshCookieName,
		Value:    token.Value,
		Path:     s.cfg.CookiePath,
		Expires:  token.ExpiresAt,
		MaxAge:   int(time.Until(token.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearRefreshCookie drops the cookie on logout
func (s *SessionService) ClearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.RefreshCookieName,
		Value:    "",
		Path:     s.cfg.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ReadRefreshCookie returns the refresh token value from the request cookie
// or empty string if the cookie is not there
func (s *SessionService) ReadRefreshCookie(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.RefreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// AuthenticateRequest parses and validates the Authorization bearer token
func (s *SessionService) AuthenticateRequest(ctx context.Context, r *http.Request) (models.Principal, error) {
	header := r.Header.Get("Authorization")

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) || token == "" {
		return models.Principal{}, errNoBearerToken
	}

	return s.token.ParseAccess(strings.TrimSpace(token))
}
