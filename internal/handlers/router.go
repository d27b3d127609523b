package handlers

import (
	"context"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/akimenko/authd/internal/handlers/middleware"
	"github.com/akimenko/authd/internal/logger"
	"github.com/akimenko/authd/internal/models"
	userservice "github.com/akimenko/authd/internal/service/user"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type sessionService interface {
	// Login with email and password
	// Expected failures: apperrors.ErrInvalidCredentials, apperrors.ErrUserLockedOut
	Login(ctx context.Context, email string, password string, ip string) (models.Session, error)

	// Start a session for an already verified principal (registration flow)
	IssueFor(ctx context.Context, principal models.Principal, ip string) (models.Session, error)

	// Rotate the refresh token
	// Expected failures: apperrors.ErrRefreshInvalid, ErrRefreshExpired, ErrRefreshReused
	Refresh(ctx context.Context, presented string, ip string) (models.Session, error)

	// Revoke the presented token, never fails the caller
	Logout(ctx context.Context, presented string, ip string)

	// Revoke every active token of the user
	RevokeAll(ctx context.Context, userID uuid.UUID, ip string, reason string) error

	// Cookie and header plumbing
	WriteRefreshCookie(w http.ResponseWriter, token models.IssuedToken)
	ClearRefreshCookie(w http.ResponseWriter)
	ReadRefreshCookie(r *http.Request) string
	AuthenticateRequest(ctx context.Context, r *http.Request) (models.Principal, error)
}

type userService interface {
	Register(ctx context.Context, email string, password string, firstName string, lastName string) (models.User, error)
	Create(ctx context.Context, params userservice.CreateParams) (models.User, error)
	GetByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	List(ctx context.Context) ([]models.User, error)
	Update(ctx context.Context, userID uuid.UUID, params userservice.UpdateParams) (models.User, error)
	UpdateRoles(ctx context.Context, userID uuid.UUID, roles []string) (models.User, error)
	Delete(ctx context.Context, userID uuid.UUID) error
}

// notifier pushes events to connected realtime clients
type notifier interface {
	UserRegistered(p models.Principal)
}

func NewRouter(
	sessions sessionService,
	users userService,
	events notifier,
	metricsHandler http.Handler,
	realtimeHandler http.Handler,
	logger logger.Logger,
) http.Handler {
	withAuth := middleware.Auth(sessions)
	adminOnly := func(h http.Handler) http.Handler {
		return chain(h, withAuth, middleware.RequireRoles(models.RoleAdmin))
	}

	api := http.NewServeMux()

	api.Handle("POST /session", handleLogin(sessions, logger))
	api.Handle("POST /session/refresh", handleRefresh(sessions, logger))
	api.Handle("DELETE /session", handleLogout(sessions))
	api.Handle("GET /session", withAuth(handleCurrentPrincipal()))

	api.Handle("POST /register", handleRegister(sessions, users, events, logger))

	api.Handle("GET /users", adminOnly(handleListUsers(users, logger)))
	api.Handle("POST /users", adminOnly(handleCreateUser(users, logger)))
	api.Handle("GET /users/{id}", adminOnly(handleGetUser(users)))
	api.Handle("PUT /users/{id}", adminOnly(handleUpdateUser(users, logger)))
	api.Handle("PUT /users/{id}/roles", adminOnly(handleUpdateRoles(users, sessions, logger)))
	api.Handle("DELETE /users/{id}", adminOnly(handleDeleteUser(users, logger)))

	if realtimeHandler != nil {
		api.Handle("GET /events", withAuth(realtimeHandler))
	}

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))
	if metricsHandler != nil {
		root.Handle("GET /metrics", metricsHandler)
	}

	return chain(root,
		middleware.Logger(logger),
	)
}

// clientIP strips the port from RemoteAddr, audit columns keep the host only
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
