// Package client keeps a browser-style session alive against the
// credential service: it stores the current access token and principal,
// attaches the token to outgoing requests, and transparently rotates
// the refresh token when the server answers 401.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/akimenko/authd/internal/logger"
)

type State string

const (
	StateAnonymous      State = "anonymous"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateRefreshing     State = "refreshing"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrLockedOut          = errors.New("account is locked")
	ErrSessionEnded       = errors.New("session ended")
	ErrNotAuthenticated   = errors.New("not authenticated")
)

// Principal mirrors the "user" object the service returns.
type Principal struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	Roles     []string `json:"roles"`
}

// HasAnyRole reports whether the principal holds at least one of the
// given roles. An empty argument list always passes.
func (p Principal) HasAnyRole(roles ...string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, want := range roles {
		for _, have := range p.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

type sessionPayload struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	User        Principal `json:"user"`
}

// refreshAttempt is the shared handle concurrent 401 handlers wait on,
// so only one refresh call ever reaches the server at a time.
type refreshAttempt struct {
	done chan struct{}
	err  error
}

type Observer func(state State, principal Principal)

type Config struct {
	// BaseURL of the credential service, e.g. "https://app.example.com".
	BaseURL string

	// HTTPClient to use for all calls. A cookie jar is installed on it
	// so the refresh cookie round-trips automatically. Optional.
	HTTPClient *http.Client

	// Cache persists the session across restarts. Optional.
	Cache CredentialCache

	Logger logger.Logger
}

// Controller owns all mutable session state. Every transition happens
// under its lock and observers are told afterwards, so no reader ever
// sees a half-applied session.
type Controller struct {
	baseURL string
	http    *http.Client
	cache   CredentialCache
	logger  logger.Logger

	mu          sync.Mutex
	state       State
	accessToken string
	expiresAt   time.Time
	principal   Principal

	// generation invalidates in-flight refreshes: logout bumps it and a
	// refresh result from an older generation is discarded.
	generation uint64
	refreshing *refreshAttempt

	observerSeq int
	observers   map[int]Observer
}

func New(cfg Config) (*Controller, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NoOp()
	}

	cache := cfg.Cache
	if cache == nil {
		cache = noopCache{}
	}

	return &Controller{
		baseURL:   base,
		http:      httpClient,
		cache:     cache,
		logger:    log,
		state:     StateAnonymous,
		observers: make(map[int]Observer),
	}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentPrincipal returns the signed-in principal, if any.
func (c *Controller) CurrentPrincipal() (Principal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated && c.state != StateRefreshing {
		return Principal{}, false
	}
	return c.principal, true
}

// AccessToken returns the current bearer token, empty when signed out.
func (c *Controller) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// Subscribe registers an observer called after every state transition.
// The returned function removes it.
func (c *Controller) Subscribe(fn Observer) func() {
	c.mu.Lock()
	id := c.observerSeq
	c.observerSeq++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Login authenticates with the service and starts a new session lineage.
func (c *Controller) Login(ctx context.Context, email, password string) (Principal, error) {
	c.transition(func() {
		c.state = StateAuthenticating
	})

	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return Principal{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/session", bytes.NewReader(body))
	if err != nil {
		c.clearSession()
		return Principal{}, fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.clearSession()
		return Principal{}, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		c.clearSession()
		return Principal{}, ErrInvalidCredentials
	case http.StatusLocked:
		c.clearSession()
		return Principal{}, ErrLockedOut
	default:
		c.clearSession()
		return Principal{}, fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var payload sessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.clearSession()
		return Principal{}, fmt.Errorf("decode login response: %w", err)
	}

	c.transition(func() {
		c.generation++
		c.applySessionLocked(payload)
	})
	c.persist()

	return payload.User, nil
}

// Logout revokes the current refresh token and drops all local state.
// The transition to anonymous is authoritative even when the server
// call fails, and any refresh still in flight is discarded.
func (c *Controller) Logout(ctx context.Context) {
	c.transition(func() {
		c.generation++
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/session", nil)
	if err == nil {
		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Info("logout request failed", "error", err.Error())
		} else {
			resp.Body.Close() //nolint:errcheck
		}
	}

	c.clearSession()
}

// Do sends the request with the bearer token attached. On a 401 it runs
// the refresh protocol once and retries the call with the new token; a
// failed refresh clears the session and the original 401 is returned.
func (c *Controller) Do(req *http.Request) (*http.Response, error) {
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || c.isSessionEndpoint(req.URL) {
		return resp, nil
	}

	if err := c.refreshSession(req.Context()); err != nil {
		return resp, nil
	}

	retry, err := cloneRequest(req)
	if err != nil {
		return resp, nil
	}
	resp.Body.Close() //nolint:errcheck

	retry.Header.Set("Authorization", "Bearer "+c.AccessToken())
	return c.http.Do(retry)
}

// Restore brings a persisted session back after a restart. When the
// cached access token has already expired it rotates the refresh token
// instead of prompting for credentials again.
func (c *Controller) Restore(ctx context.Context) error {
	cached, err := c.cache.Load()
	if err != nil || cached == nil {
		return ErrNotAuthenticated
	}

	if cached.RefreshToken != "" {
		c.seedRefreshCookie(cached.RefreshToken)
	}

	if cached.AccessToken != "" && time.Until(cached.ExpiresAt) > time.Minute {
		c.transition(func() {
			c.applySessionLocked(sessionPayload{
				AccessToken: cached.AccessToken,
				ExpiresAt:   cached.ExpiresAt,
				User:        cached.Principal,
			})
		})
		return nil
	}

	if err := c.refreshSession(ctx); err != nil {
		return ErrNotAuthenticated
	}
	return nil
}

// refreshSession coalesces concurrent callers onto a single server
// call: the first caller performs it, the rest wait for its outcome.
func (c *Controller) refreshSession(ctx context.Context) error {
	c.mu.Lock()
	if attempt := c.refreshing; attempt != nil {
		c.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	attempt := &refreshAttempt{done: make(chan struct{})}
	c.refreshing = attempt
	generation := c.generation
	c.state = StateRefreshing
	observers, snapshot := c.snapshotLocked()
	c.mu.Unlock()
	notify(observers, snapshot)

	attempt.err = c.doRefresh(ctx, generation)

	c.mu.Lock()
	c.refreshing = nil
	c.mu.Unlock()
	close(attempt.done)

	return attempt.err
}

func (c *Controller) doRefresh(ctx context.Context, generation uint64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/session/refresh", nil)
	if err != nil {
		c.endSession(generation)
		return fmt.Errorf("create refresh request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.endSession(generation)
		return fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		c.endSession(generation)
		return ErrSessionEnded
	}

	var payload sessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.endSession(generation)
		return fmt.Errorf("decode refresh response: %w", err)
	}

	discarded := false
	c.transition(func() {
		if c.generation != generation {
			discarded = true
			return
		}
		c.applySessionLocked(payload)
	})
	if discarded {
		return ErrSessionEnded
	}

	c.persist()
	return nil
}

// endSession drops local state unless a logout already superseded the
// failing refresh.
func (c *Controller) endSession(generation uint64) {
	stale := false
	c.transition(func() {
		if c.generation != generation {
			stale = true
			return
		}
		c.accessToken = ""
		c.expiresAt = time.Time{}
		c.principal = Principal{}
		c.state = StateAnonymous
	})
	if !stale {
		if err := c.cache.Clear(); err != nil {
			c.logger.Info("clear credential cache", "error", err.Error())
		}
	}
}

func (c *Controller) clearSession() {
	c.transition(func() {
		c.accessToken = ""
		c.expiresAt = time.Time{}
		c.principal = Principal{}
		c.state = StateAnonymous
	})
	if err := c.cache.Clear(); err != nil {
		c.logger.Info("clear credential cache", "error", err.Error())
	}
}

func (c *Controller) applySessionLocked(payload sessionPayload) {
	c.accessToken = payload.AccessToken
	c.expiresAt = payload.ExpiresAt
	c.principal = payload.User
	c.state = StateAuthenticated
}

func (c *Controller) persist() {
	c.mu.Lock()
	cached := CachedSession{
		AccessToken:  c.accessToken,
		ExpiresAt:    c.expiresAt,
		Principal:    c.principal,
		RefreshToken: c.refreshCookieValue(),
	}
	c.mu.Unlock()

	if err := c.cache.Save(cached); err != nil {
		c.logger.Info("save credential cache", "error", err.Error())
	}
}

// transition runs fn under the lock and notifies observers with the
// resulting state afterwards.
func (c *Controller) transition(fn func()) {
	c.mu.Lock()
	fn()
	observers, snapshot := c.snapshotLocked()
	c.mu.Unlock()
	notify(observers, snapshot)
}

type stateSnapshot struct {
	state     State
	principal Principal
}

func (c *Controller) snapshotLocked() ([]Observer, stateSnapshot) {
	observers := make([]Observer, 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	return observers, stateSnapshot{state: c.state, principal: c.principal}
}

func notify(observers []Observer, s stateSnapshot) {
	for _, fn := range observers {
		fn(s.state, s.principal)
	}
}

func (c *Controller) isSessionEndpoint(u *url.URL) bool {
	path := strings.TrimSuffix(u.Path, "/")
	return path == "/api/session" || path == "/api/session/refresh" || path == "/api/register"
}

// refreshCookieValue pulls the refresh cookie out of the jar so it can
// be persisted alongside the access token.
func (c *Controller) refreshCookieValue() string {
	u, err := url.Parse(c.baseURL + "/api/session")
	if err != nil {
		return ""
	}
	for _, cookie := range c.http.Jar.Cookies(u) {
		if cookie.Name == "refreshToken" {
			return cookie.Value
		}
	}
	return ""
}

func (c *Controller) seedRefreshCookie(value string) {
	u, err := url.Parse(c.baseURL + "/api/session")
	if err != nil {
		return
	}
	c.http.Jar.SetCookies(u, []*http.Cookie{{
		Name:  "refreshToken",
		Value: value,
		Path:  "/api/session",
	}})
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	retry.Body = body
	return retry, nil
}
