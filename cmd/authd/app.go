package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/akimenko/authd/internal/db"
	"github.com/akimenko/authd/internal/handlers"
	"github.com/akimenko/authd/internal/logger"
	"github.com/akimenko/authd/internal/metrics"
	"github.com/akimenko/authd/internal/realtime"
	"github.com/akimenko/authd/internal/repository/postgres"
	"github.com/akimenko/authd/internal/service/session"
	"github.com/akimenko/authd/internal/service/session/tokenmanager"
	"github.com/akimenko/authd/internal/service/user"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey: c.SecretKey,
		AccessTTL: c.AccessTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	m := metrics.New()

	userService := user.NewService(user.DefaultHasher, storage.User(), logger)
	cookieSecure := c.CookieSecure
	sessionService, err := session.NewService(session.Config{
		RefreshTTL:   c.RefreshTTL,
		CookieSecure: &cookieSecure,
	}, tokenManager, userService, storage, logger, m)
	if err != nil {
		return nil, fmt.Errorf("error while creating session service. Err: %w", err)
	}

	// Seed the admin account when configured and no admin exists yet
	if c.AdminEmail != "" && c.AdminPassword != "" {
		if err := userService.EnsureAdmin(ctx, c.AdminEmail, c.AdminPassword); err != nil {
			return nil, fmt.Errorf("error while seeding admin user. Err: %w", err)
		}
	}

	hub := realtime.NewHub(logger)
	gateway := realtime.NewGateway(hub, logger, m, c.AllowedOrigins)

	mux := handlers.NewRouter(
		sessionService,
		userService,
		hub,
		m.Handler(),
		gateway,
		logger,
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			slog.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		slog.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	slog.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
