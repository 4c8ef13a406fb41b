// Package supabase is the credential-service client: GoTrue auth plus PostgREST row writes.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/wonny/stocktop/internal/auth"
	"github.com/wonny/stocktop/internal/clock"
	"github.com/wonny/stocktop/internal/session"
	"github.com/wonny/stocktop/pkg/config"
	"github.com/wonny/stocktop/pkg/httputil"
	"github.com/wonny/stocktop/pkg/logger"
)

// StorageKey is where the session is persisted in the session store
const StorageKey = "sb-auth-token"

// Table names
const (
	ActivityTable = "user_activity_logs"
	VisitTable    = "user_last_visits"
)

// access token은 만료 10초 전부터 갱신 대상
const refreshMargin = 10 * time.Second

// APIError is a non-2xx response from the credential service
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Client implements auth.Backend and auth.ActivityWriter
// ⭐ SSOT: 인증 서비스 HTTP 호출은 이 클라이언트에서만
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	cfg        config.SupabaseConfig
	store      *session.Store
	clock      clock.Clock

	refreshMu sync.Mutex

	mu        sync.Mutex
	listeners map[int]auth.StateChangeFunc
	nextID    int
}

// NewClient creates a client persisting its session in store
func NewClient(cfg config.SupabaseConfig, httpClient *httputil.Client, store *session.Store, clk clock.Clock, log *logger.Logger) *Client {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{
		httpClient: httpClient,
		logger:     log.Component("supabase"),
		cfg:        cfg,
		store:      store,
		clock:      clk,
		listeners:  make(map[int]auth.StateChangeFunc),
	}
}

// storedSession is the persisted session form (expires_at in unix seconds)
type storedSession struct {
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int64      `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	RefreshToken string     `json:"refresh_token"`
	User         *auth.User `json:"user"`
}

func (s *storedSession) toSession() *auth.Session {
	return &auth.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    time.Unix(s.ExpiresAt, 0).UTC(),
		User:         s.User,
	}
}

// SignUp registers a user. When the service returns a session (no email confirmation) it is stored.
func (c *Client) SignUp(ctx context.Context, email, password string) (*auth.Session, error) {
	body := map[string]string{"email": email, "password": password}

	var resp storedSession
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", nil, body, c.cfg.AnonKey, nil, &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken == "" {
		c.logger.WithField("email", email).Info("Sign-up pending email confirmation")
		return nil, nil
	}
	return c.saveAndEmit(ctx, &resp, auth.EventSignedIn)
}

// SignInWithPassword exchanges credentials for a session
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	body := map[string]string{"email": email, "password": password}
	query := url.Values{"grant_type": {"password"}}

	var resp storedSession
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", query, body, c.cfg.AnonKey, nil, &resp); err != nil {
		return nil, err
	}
	return c.saveAndEmit(ctx, &resp, auth.EventSignedIn)
}

// SignOut revokes the session server-side (best effort) and always drops it locally
func (c *Client) SignOut(ctx context.Context) error {
	stored, err := c.load(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read session before sign-out")
	}

	var remoteErr error
	if stored != nil {
		remoteErr = c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, nil, stored.AccessToken, nil, nil)
		var apiErr *APIError
		// 이미 만료된 토큰이면 서버 로그아웃은 무시
		if errors.As(remoteErr, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusNotFound) {
			remoteErr = nil
		}
	}

	if err := c.store.Remove(ctx, StorageKey); err != nil {
		return err
	}
	c.emit(auth.EventSignedOut, nil)

	return remoteErr
}

// GetSession returns the stored session, refreshing an expired access token.
// A session the store has expired, or whose refresh is rejected, yields nil.
func (c *Client) GetSession(ctx context.Context) (*auth.Session, error) {
	stored, err := c.load(ctx)
	if err != nil || stored == nil {
		return nil, err
	}

	if c.clock.Now().Add(refreshMargin).Before(time.Unix(stored.ExpiresAt, 0)) {
		return stored.toSession(), nil
	}

	return c.refresh(ctx, stored.RefreshToken)
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*auth.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// 다른 요청이 먼저 갱신했으면 그 결과 사용
	if stored, err := c.load(ctx); err == nil && stored != nil && stored.RefreshToken != refreshToken {
		return stored.toSession(), nil
	}

	body := map[string]string{"refresh_token": refreshToken}
	query := url.Values{"grant_type": {"refresh_token"}}

	var resp storedSession
	err := c.do(ctx, http.MethodPost, "/auth/v1/token", query, body, c.cfg.AnonKey, nil, &resp)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		c.logger.WithError(err).Info("Refresh token rejected, signing out locally")
		if rmErr := c.store.Remove(ctx, StorageKey); rmErr != nil {
			return nil, rmErr
		}
		c.emit(auth.EventSignedOut, nil)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	return c.saveAndEmit(ctx, &resp, auth.EventTokenRefreshed)
}

// OnAuthStateChange registers a listener; the returned func unsubscribes
func (c *Client) OnAuthStateChange(fn auth.StateChangeFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// InsertActivity appends an activity row
func (c *Client) InsertActivity(ctx context.Context, rec auth.ActivityRecord) error {
	headers := map[string]string{"Prefer": "return=minimal"}
	if err := c.do(ctx, http.MethodPost, "/rest/v1/"+ActivityTable, nil, rec, c.bearer(ctx), headers, nil); err != nil {
		return fmt.Errorf("insert %s: %w", ActivityTable, err)
	}
	return nil
}

// UpsertVisit writes the last-visit row keyed by user_id
func (c *Client) UpsertVisit(ctx context.Context, rec auth.VisitRecord) error {
	headers := map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"}
	query := url.Values{"on_conflict": {"user_id"}}
	if err := c.do(ctx, http.MethodPost, "/rest/v1/"+VisitTable, query, rec, c.bearer(ctx), headers, nil); err != nil {
		return fmt.Errorf("upsert %s: %w", VisitTable, err)
	}
	return nil
}

// bearer returns the signed-in access token, or the anon key
func (c *Client) bearer(ctx context.Context) string {
	stored, err := c.load(ctx)
	if err != nil || stored == nil || stored.AccessToken == "" {
		return c.cfg.AnonKey
	}
	return stored.AccessToken
}

func (c *Client) load(ctx context.Context) (*storedSession, error) {
	raw, ok, err := c.store.Get(ctx, StorageKey)
	if err != nil || !ok {
		return nil, err
	}

	var stored storedSession
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		c.logger.WithError(err).Warn("Discarding unreadable stored session")
		return nil, nil
	}
	if stored.AccessToken == "" {
		return nil, nil
	}
	return &stored, nil
}

func (c *Client) saveAndEmit(ctx context.Context, s *storedSession, event auth.Event) (*auth.Session, error) {
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = c.clock.Now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	// 저장 시 세션 만료시각이 갱신됨 (토큰 갱신 = 세션 연장)
	if err := c.store.Set(ctx, StorageKey, string(data)); err != nil {
		return nil, err
	}

	sess := s.toSession()
	c.emit(event, sess)
	return sess, nil
}

// emit notifies listeners without holding the lock
func (c *Client) emit(event auth.Event, sess *auth.Session) {
	c.mu.Lock()
	fns := make([]auth.StateChangeFunc, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(event, sess)
	}
}

// do sends a JSON request and decodes a JSON response into out (when non-nil)
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, bearer string, headers map[string]string, out interface{}) error {
	fullURL := c.cfg.URL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.cfg.AnonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts the human-readable message from GoTrue/PostgREST error bodies
func errorMessage(status int, body []byte) string {
	var payload struct {
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		Error            string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, m := range []string{payload.ErrorDescription, payload.Msg, payload.Message, payload.Error} {
			if m != "" {
				return m
			}
		}
	}
	return fmt.Sprintf("request failed with status %d", status)
}
